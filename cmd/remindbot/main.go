package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

// Set with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := newCLI().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

var configFlag = cli.StringFlag{
	Name:  "config, c",
	Value: "./config.json",
	Usage: "path to the config file (json or yaml)",
}

func newCLI() *cli.App {
	app := cli.NewApp()
	app.Name = "remindbot"
	app.Usage = "a Telegram bot for daily note reminders and timers"
	app.Version = version
	app.Flags = []cli.Flag{configFlag}
	app.Action = run
	app.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "run the bot (default)",
			Flags:  []cli.Flag{configFlag},
			Action: run,
		},
		{
			Name:      "inspect",
			Usage:     "print the jobs stored in a snapshot file",
			ArgsUsage: "<file>",
			Action:    inspect,
		},
		{
			Name:  "version",
			Usage: "print the version",
			Action: func(c *cli.Context) error {
				_, err := fmt.Fprintln(c.App.Writer, version)
				return err
			},
		},
	}
	return app
}
