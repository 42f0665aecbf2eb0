// Package reminder implements the chat commands and the job callbacks that
// deliver notes and timers.
//
// A chat has at most one daily reminder job, named by its chat id. Timers
// are one-shot jobs named "<chat id>-<random>-once" and any number of them
// may coexist.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"remindbot/internal/clock"
	"remindbot/internal/notes"
	"remindbot/internal/task/scheduler"
	kit "remindbot/internal/transport"
	"remindbot/pkg/logx"
)

var ErrMissingArgument = errors.New("missing argument")

// Sender delivers a message and reports whether it arrived.
type Sender interface {
	Send(ctx context.Context, n kit.Notification) (kit.MessageRef, error)
}

type Service struct {
	notes *notes.Service
	sched *scheduler.Service
	out   Sender
	log   logx.Logger
	now   func() time.Time
}

func New(n *notes.Service, sched *scheduler.Service, out Sender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{notes: n, sched: sched, out: out, log: log, now: time.Now}
}

// SetClock overrides the time source. Tests only.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Install registers the fire callbacks with the scheduler.
func (s *Service) Install() {
	s.sched.Register(scheduler.ReminderFire, s.fireReminder)
	s.sched.Register(scheduler.TimerFire, s.fireTimer)
}

// DailyName is the job name of a chat's daily reminder.
func DailyName(chatID int64) string { return strconv.FormatInt(chatID, 10) }

// OnceName returns a fresh timer job name for chatID.
func OnceName(chatID int64) string {
	return DailyName(chatID) + "-" + uuid.NewString()[:8] + "-once"
}

func isTimerOf(chatID int64) func(scheduler.Job) bool {
	return func(j scheduler.Job) bool {
		return j.Kind == scheduler.KindOnce && j.Callback == scheduler.TimerFire && j.Payload.ChatID == chatID
	}
}

// Timers lists the live timers of chatID, soonest first.
func (s *Service) Timers(chatID int64) []scheduler.Job {
	return s.sched.Store().Filter(isTimerOf(chatID))
}

// StopTimers cancels every live timer of chatID.
func (s *Service) StopTimers(chatID int64) []scheduler.Job {
	return s.sched.RemoveWhere(isTimerOf(chatID))
}

// ScheduleDaily creates or replaces the chat's daily reminder.
func (s *Service) ScheduleDaily(chatID int64, tod clock.TimeOfDay, offset int) (scheduler.Job, error) {
	return s.sched.AddDaily(DailyName(chatID), scheduler.ReminderFire, tod, offset, scheduler.Payload{ChatID: chatID})
}

// StartTimer schedules text to be sent to chatID after d.
func (s *Service) StartTimer(chatID int64, d time.Duration, text string) (scheduler.Job, error) {
	if strings.TrimSpace(text) == "" {
		return scheduler.Job{}, fmt.Errorf("timer text: %w", ErrMissingArgument)
	}
	return s.sched.AddOnce(OnceName(chatID), scheduler.TimerFire, s.now().Add(d), scheduler.Payload{ChatID: chatID, Text: text})
}

// SetTime stores the chat's reminder time and schedules its daily job. Both
// happen under the chat lock, so the job always runs on the stored offset.
func (s *Service) SetTime(ctx context.Context, chatID int64, tod clock.TimeOfDay) (notes.UserState, error) {
	return s.notes.Update(ctx, chatID, func(u *notes.UserState) error {
		u.RemindAt = tod.String()
		_, err := s.ScheduleDaily(chatID, tod, u.TZOffset)
		return err
	})
}

// SetTimezone stores the chat's UTC offset and moves its daily job, if any,
// under the chat lock. It reports whether a job was moved.
func (s *Service) SetTimezone(ctx context.Context, chatID int64, offset int) (bool, error) {
	if offset < clock.MinOffset || offset > clock.MaxOffset {
		return false, fmt.Errorf("%w: offset %d", clock.ErrInvalidFormat, offset)
	}
	rearmed := false
	_, err := s.notes.Update(ctx, chatID, func(u *notes.UserState) error {
		u.TZOffset = offset
		var err error
		rearmed, err = s.rearmDaily(chatID, offset)
		return err
	})
	return rearmed, err
}

// rearmDaily moves an existing daily reminder to a new offset.
func (s *Service) rearmDaily(chatID int64, offset int) (bool, error) {
	j, ok := s.sched.Find(DailyName(chatID))
	if !ok || j.Kind != scheduler.KindDaily {
		return false, nil
	}
	_, err := s.ScheduleDaily(chatID, j.Trigger.TimeOfDay, offset)
	return err == nil, err
}

// Reconcile recreates the daily reminder of every stored chat that has a
// reminder time but no live job, e.g. after the snapshot file was lost.
// It returns the number of jobs created.
func (s *Service) Reconcile(ctx context.Context) (int, error) {
	users, err := s.notes.Users(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, u := range users {
		if u.RemindAt == "" {
			continue
		}
		if _, ok := s.sched.Find(DailyName(u.ChatID)); ok {
			continue
		}
		tod, err := clock.ParseTimeOfDay(u.RemindAt)
		if err != nil {
			s.log.Warn("stored reminder time unreadable", logx.Int64("chat_id", u.ChatID), logx.String("remind_at", u.RemindAt))
			continue
		}
		if _, err := s.ScheduleDaily(u.ChatID, tod, u.TZOffset); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		s.log.Info("daily reminders recreated", logx.Int("count", n))
	}
	return n, nil
}

func (s *Service) fireReminder(ctx context.Context, job scheduler.Job) error {
	chatID := job.Payload.ChatID
	u, err := s.notes.Get(ctx, chatID)
	if err != nil {
		return err
	}
	date, list := u.Today(job.NextAt)
	if len(list) == 0 {
		s.log.Debug("nothing planned today", logx.Int64("chat_id", chatID), logx.String("date", date.String()))
		return nil
	}
	_, err = s.out.Send(ctx, kit.Notification{
		Target:   kit.ChatTarget{ChatID: chatID},
		Text:     NotesText(date.String(), list),
		DedupKey: "reminder:" + DailyName(chatID) + ":" + date.String(),
	})
	return err
}

func (s *Service) fireTimer(ctx context.Context, job scheduler.Job) error {
	_, err := s.out.Send(ctx, kit.Notification{
		Target:   kit.ChatTarget{ChatID: job.Payload.ChatID},
		Text:     job.Payload.Text,
		DedupKey: "timer:" + job.Name,
	})
	return err
}

// NotesText renders the notes of one day.
func NotesText(date string, list []string) string {
	var b strings.Builder
	b.WriteString("Here's everything that you planned on ")
	b.WriteString(date)
	b.WriteString("\n")
	for _, n := range list {
		b.WriteString("\n")
		b.WriteString(n)
	}
	return b.String()
}
