package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"remindbot/internal/clock"
	"remindbot/internal/transport/telegram/router"
	"remindbot/pkg/logx"
)

const (
	usageAdd         = "Usage: /add <DD.MM> <content>"
	usageDel         = "Usage: /del <DD.MM>"
	usageCheck       = "Usage: /check <DD.MM>"
	usageSetTimezone = "Usage: /set_timezone <+HH>"
	usageSetTime     = "Usage: /set_time <HH:MM>"
	usageTimer       = "Usage: /timer <HH:MM> <text>"

	msgNotEnoughArgs = "Not enough arguments."
	msgBadDate       = "Couldn't parse the date, sorry"
	msgBadTime       = "Couldn't parse the time, sorry!"
	msgBadTimezone   = "Couldn't parse the timezone, sorry!"
	msgNoTimers      = "No active timers."
	msgNone          = "none"
)

// Commands returns the chat commands served by s.
func (s *Service) Commands() []router.Command {
	return []router.Command{
		{Name: "start", Description: "start using the bot", Handle: s.cmdStart},
		{Name: "set_timezone", Aliases: []string{"tz"}, Description: "set your UTC offset", Usage: "/set_timezone <+HH>", Handle: s.cmdSetTimezone},
		{Name: "set_time", Description: "set the daily reminder time", Usage: "/set_time <HH:MM>", Handle: s.cmdSetTime},
		{Name: "add", Description: "add a note for a date", Usage: "/add <DD.MM> <content>", Handle: s.cmdAdd},
		{Name: "del", Description: "delete all notes for a date", Usage: "/del <DD.MM>", Handle: s.cmdDel},
		{Name: "check", Description: "show notes for a date", Usage: "/check <DD.MM>", Handle: s.cmdCheck},
		{Name: "all", Description: "show all notes", Handle: s.cmdAll},
		{Name: "timer", Description: "send a message after a delay", Usage: "/timer <HH:MM> <text>", Handle: s.cmdTimer},
		{Name: "timer_check", Description: "list active timers", Handle: s.cmdTimerCheck},
		{Name: "timer_stop", Description: "cancel all active timers", Handle: s.cmdTimerStop},
	}
}

// replyLines sends lines as one message so they cannot arrive out of order.
func replyLines(ctx context.Context, req *router.Request, lines ...string) error {
	return req.Reply(ctx, strings.Join(lines, "\n"))
}

func (s *Service) cmdStart(ctx context.Context, req *router.Request) error {
	if _, err := s.notes.Start(ctx, req.Chat.ChatID); err != nil {
		return err
	}
	name := "there"
	if m := req.Update.Message; m != nil && m.FromUsername != "" {
		name = "@" + m.FromUsername
	}
	return req.Reply(ctx, fmt.Sprintf("Hi %s! Set your timezone with /set_timezone and a reminder time with /set_time. See /help for everything else.", name))
}

func (s *Service) cmdSetTimezone(ctx context.Context, req *router.Request) error {
	if len(req.Args) < 1 {
		return req.Reply(ctx, usageSetTimezone)
	}
	off, err := clock.ParseOffset(req.Args[0])
	if err != nil {
		return replyLines(ctx, req, msgBadTimezone, usageSetTimezone)
	}
	rearmed, err := s.SetTimezone(ctx, req.Chat.ChatID, off)
	if err != nil {
		return err
	}
	if rearmed {
		req.Logger.Info("daily reminder re-armed", logx.Int("offset", off))
	}
	return req.Reply(ctx, "Timezone set to "+clock.FormatOffsetShort(off))
}

func (s *Service) cmdSetTime(ctx context.Context, req *router.Request) error {
	if len(req.Args) < 1 {
		return req.Reply(ctx, usageSetTime)
	}
	tod, err := clock.ParseTimeOfDay(req.Args[0])
	if err != nil {
		return replyLines(ctx, req, msgBadTime, usageSetTime)
	}
	u, err := s.SetTime(ctx, req.Chat.ChatID, tod)
	if err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("Set the time to %s (%s)", tod, clock.FormatOffset(u.TZOffset)))
}

func (s *Service) cmdAdd(ctx context.Context, req *router.Request) error {
	if len(req.Args) < 2 {
		return replyLines(ctx, req, msgNotEnoughArgs, usageAdd)
	}
	date, err := clock.ParseDateKey(req.Args[0])
	if err != nil {
		return replyLines(ctx, req, msgBadDate, usageAdd)
	}
	text := req.Rest(1)
	if _, err := s.notes.Add(ctx, req.Chat.ChatID, date, text); err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("Added a reminder for %s about %s", date, text))
}

func (s *Service) cmdDel(ctx context.Context, req *router.Request) error {
	date, ok, err := dateArg(ctx, req, usageDel)
	if !ok {
		return err
	}
	n, err := s.notes.Delete(ctx, req.Chat.ChatID, date)
	if err != nil {
		return err
	}
	if n == 0 {
		return req.Reply(ctx, fmt.Sprintf("Nothing planned on %s", date))
	}
	return req.Reply(ctx, fmt.Sprintf("Removed %d note(s) for %s", n, date))
}

func (s *Service) cmdCheck(ctx context.Context, req *router.Request) error {
	date, ok, err := dateArg(ctx, req, usageCheck)
	if !ok {
		return err
	}
	list, err := s.notes.Check(ctx, req.Chat.ChatID, date)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return req.Reply(ctx, msgNone)
	}
	return req.Reply(ctx, NotesText(date.String(), list))
}

func (s *Service) cmdAll(ctx context.Context, req *router.Request) error {
	all, err := s.notes.All(ctx, req.Chat.ChatID)
	if err != nil {
		return err
	}
	if len(all) == 0 {
		return req.Reply(ctx, "You have no notes yet.")
	}
	days := make([]string, 0, len(all))
	for _, d := range all {
		days = append(days, NotesText(d.Date, d.Notes))
	}
	// Long replies are split by the adapter, on line boundaries where it can.
	return req.Reply(ctx, strings.Join(days, "\n\n"))
}

func (s *Service) cmdTimer(ctx context.Context, req *router.Request) error {
	if len(req.Args) < 2 {
		return replyLines(ctx, req, msgNotEnoughArgs, usageTimer)
	}
	d, err := clock.ParseTimeOfDay(req.Args[0])
	if err != nil {
		return replyLines(ctx, req, msgBadTime, usageTimer)
	}
	job, err := s.StartTimer(req.Chat.ChatID, d.Duration(), req.Rest(1))
	if err != nil {
		if errors.Is(err, ErrMissingArgument) {
			return replyLines(ctx, req, msgNotEnoughArgs, usageTimer)
		}
		return err
	}
	u, err := s.notes.Get(ctx, req.Chat.ChatID)
	if err != nil {
		return err
	}
	date, tod := clock.LocalParts(job.NextAt, u.TZOffset)
	return req.Reply(ctx, fmt.Sprintf("Timer set for %s %s (%s)", date, tod, clock.FormatOffset(u.TZOffset)))
}

func (s *Service) cmdTimerCheck(ctx context.Context, req *router.Request) error {
	timers := s.Timers(req.Chat.ChatID)
	if len(timers) == 0 {
		return req.Reply(ctx, msgNoTimers)
	}
	u, err := s.notes.Get(ctx, req.Chat.ChatID)
	if err != nil {
		return err
	}
	lines := []string{"Active timers:"}
	for _, j := range timers {
		date, tod := clock.LocalParts(j.NextAt, u.TZOffset)
		lines = append(lines, fmt.Sprintf("%s %s - %s", date, tod, j.Payload.Text))
	}
	return req.Reply(ctx, strings.Join(lines, "\n"))
}

func (s *Service) cmdTimerStop(ctx context.Context, req *router.Request) error {
	removed := s.StopTimers(req.Chat.ChatID)
	if len(removed) == 0 {
		return req.Reply(ctx, msgNoTimers)
	}
	return req.Reply(ctx, fmt.Sprintf("Stopped %d timer(s).", len(removed)))
}

// dateArg parses the first argument as DD.MM, replying with usage on failure.
func dateArg(ctx context.Context, req *router.Request, usage string) (clock.DateKey, bool, error) {
	if len(req.Args) < 1 {
		return clock.DateKey{}, false, req.Reply(ctx, usage)
	}
	d, err := clock.ParseDateKey(req.Args[0])
	if err != nil {
		return clock.DateKey{}, false, replyLines(ctx, req, msgBadDate, usage)
	}
	return d, true, nil
}
