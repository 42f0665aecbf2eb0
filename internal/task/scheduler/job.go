package scheduler

import (
	"fmt"
	"strconv"
	"time"

	"remindbot/internal/clock"
)

type Kind string

const (
	KindDaily Kind = "daily"
	KindOnce  Kind = "once"
)

// CallbackID selects the registered handler that runs when a job fires.
type CallbackID string

const (
	ReminderFire CallbackID = "reminder_fire"
	TimerFire    CallbackID = "timer_fire"
	SnapshotTick CallbackID = "snapshot_tick"
)

func (c CallbackID) Valid() bool {
	switch c {
	case ReminderFire, TimerFire, SnapshotTick:
		return true
	}
	return false
}

// Trigger describes when a job fires.
// Daily uses TimeOfDay+Offset; Once uses At.
type Trigger struct {
	TimeOfDay clock.TimeOfDay
	Offset    int
	At        time.Time
}

// Payload is the plain data passed to a handler.
type Payload struct {
	ChatID int64  `json:"chat_id,omitempty"`
	Text   string `json:"text,omitempty"`
}

type Job struct {
	Name     string
	Kind     Kind
	Callback CallbackID
	Trigger  Trigger
	Payload  Payload

	// NextAt is the absolute instant of the next fire, derived from Trigger.
	NextAt time.Time
}

// Validate checks the fields a job needs before it can be scheduled.
func (j Job) Validate() error {
	if j.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if !j.Callback.Valid() {
		return fmt.Errorf("job %q: unknown callback %q", j.Name, j.Callback)
	}
	switch j.Kind {
	case KindDaily:
		t := j.Trigger
		if t.TimeOfDay.Hour < 0 || t.TimeOfDay.Hour > 23 || t.TimeOfDay.Minute < 0 || t.TimeOfDay.Minute > 59 {
			return fmt.Errorf("job %q: invalid time of day %s", j.Name, t.TimeOfDay)
		}
		if t.Offset < clock.MinOffset || t.Offset > clock.MaxOffset {
			return fmt.Errorf("job %q: offset %d out of range", j.Name, t.Offset)
		}
	case KindOnce:
		if j.Trigger.At.IsZero() {
			return fmt.Errorf("job %q: once job needs an instant", j.Name)
		}
	default:
		return fmt.Errorf("job %q: unknown kind %q", j.Name, j.Kind)
	}
	return nil
}

// First is the instant a freshly created job is scheduled for.
func (j Job) First(now time.Time) time.Time {
	if j.Kind == KindDaily {
		return clock.NextDailyInstant(j.Trigger.TimeOfDay, j.Trigger.Offset, now)
	}
	return j.Trigger.At.UTC()
}

// Next decides what happens after the job fires at now: Daily jobs move to
// the next local occurrence strictly after both now and the instant that fired,
// Once jobs are done.
func (j Job) Next(now time.Time) (time.Time, bool) {
	if j.Kind != KindDaily {
		return time.Time{}, false
	}
	base := now
	if j.NextAt.After(base) {
		base = j.NextAt
	}
	return clock.NextDailyInstant(j.Trigger.TimeOfDay, j.Trigger.Offset, base.Add(time.Nanosecond)), true
}

// ConcurrencyKey groups fires that touch the same chat.
func (j Job) ConcurrencyKey() string {
	if j.Payload.ChatID != 0 {
		return "chat:" + strconv.FormatInt(j.Payload.ChatID, 10)
	}
	return "job:" + j.Name
}

func (j Job) String() string {
	if j.Kind == KindDaily {
		return fmt.Sprintf("%s daily %s (%s) next=%s", j.Name, j.Trigger.TimeOfDay, clock.FormatOffset(j.Trigger.Offset), j.NextAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("%s once at=%s", j.Name, j.Trigger.At.Format(time.RFC3339))
}
