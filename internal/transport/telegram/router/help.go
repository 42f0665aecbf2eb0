package router

import (
	"strings"
)

func (m *CommandManager) helpText(args []string) string {
	if len(args) > 0 {
		c, ok := m.lookup(args[0])
		if !ok {
			return "Unknown command. Try /help"
		}
		var b strings.Builder
		b.WriteString("/" + c.Name)
		if c.Description != "" {
			b.WriteString(" - " + c.Description)
		}
		if c.Usage != "" {
			b.WriteString("\nUsage: " + c.Usage)
		}
		if len(c.Aliases) > 0 {
			b.WriteString("\nAliases: /" + strings.Join(c.Aliases, ", /"))
		}
		return b.String()
	}

	lines := []string{"Available commands:"}
	for _, c := range m.Commands() {
		if c.Hidden {
			continue
		}
		line := c.Usage
		if line == "" {
			line = "/" + c.Name
		}
		if c.Description != "" {
			line += " - " + c.Description
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
