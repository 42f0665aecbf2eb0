// Package clock converts between a user's local wall clock (fixed UTC offset,
// whole hours) and absolute instants. Everything here is pure.
package clock

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
)

var ErrInvalidFormat = errors.New("invalid format")

const (
	MinOffset = -12
	MaxOffset = 14
)

// TimeOfDay is a wall-clock time without a date.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// Duration is the offset of t from local midnight.
func (t TimeOfDay) Duration() time.Duration {
	return time.Duration(t.Hour)*time.Hour + time.Duration(t.Minute)*time.Minute
}

// DateKey is a year-independent calendar day.
type DateKey struct {
	Day   int
	Month time.Month
}

func (d DateKey) String() string { return fmt.Sprintf("%02d.%02d", d.Day, int(d.Month)) }

// leap year days per month; 29.02 is a legal recurring key.
var monthDays = [13]int{0, 31, 29, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

var dailyParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseTimeOfDay accepts exactly HH:MM, 24-hour, zero-padded.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	if len(s) != 5 || s[2] != ':' {
		return TimeOfDay{}, fmt.Errorf("%w: time %q, want HH:MM", ErrInvalidFormat, s)
	}
	h, okH := twoDigits(s[0:2])
	m, okM := twoDigits(s[3:5])
	if !okH || !okM || h > 23 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("%w: time %q, want HH:MM", ErrInvalidFormat, s)
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

// ParseDateKey accepts exactly DD.MM, zero-padded.
func ParseDateKey(s string) (DateKey, error) {
	if len(s) != 5 || s[2] != '.' {
		return DateKey{}, fmt.Errorf("%w: date %q, want DD.MM", ErrInvalidFormat, s)
	}
	d, okD := twoDigits(s[0:2])
	m, okM := twoDigits(s[3:5])
	if !okD || !okM || m < 1 || m > 12 || d < 1 || d > monthDays[m] {
		return DateKey{}, fmt.Errorf("%w: date %q, want DD.MM", ErrInvalidFormat, s)
	}
	return DateKey{Day: d, Month: time.Month(m)}, nil
}

// ParseOffset accepts +HH, -HH or HH (one or two digits) in [MinOffset, MaxOffset].
func ParseOffset(s string) (int, error) {
	body := s
	sign := 1
	if len(body) > 0 && (body[0] == '+' || body[0] == '-') {
		if body[0] == '-' {
			sign = -1
		}
		body = body[1:]
	}
	if len(body) < 1 || len(body) > 2 {
		return 0, fmt.Errorf("%w: offset %q, want +HH", ErrInvalidFormat, s)
	}
	n, err := strconv.Atoi(body)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: offset %q, want +HH", ErrInvalidFormat, s)
	}
	off := sign * n
	if off < MinOffset || off > MaxOffset {
		return 0, fmt.Errorf("%w: offset %q out of range [%d, +%d]", ErrInvalidFormat, s, MinOffset, MaxOffset)
	}
	return off, nil
}

func twoDigits(s string) (int, bool) {
	if len(s) != 2 || s[0] < '0' || s[0] > '9' || s[1] < '0' || s[1] > '9' {
		return 0, false
	}
	return int(s[0]-'0')*10 + int(s[1]-'0'), true
}

// Zone returns a fixed zone for a whole-hour UTC offset.
func Zone(offset int) *time.Location {
	if offset == 0 {
		return time.UTC
	}
	return time.FixedZone(FormatOffset(offset), offset*3600)
}

// FormatOffset renders an offset as +0200 / -0500.
func FormatOffset(offset int) string {
	sign := '+'
	if offset < 0 {
		sign = '-'
		offset = -offset
	}
	return fmt.Sprintf("%c%02d00", sign, offset)
}

// FormatOffsetShort renders an offset as +02 / -05.
func FormatOffsetShort(offset int) string {
	sign := '+'
	if offset < 0 {
		sign = '-'
		offset = -offset
	}
	return fmt.Sprintf("%c%02d", sign, offset)
}

// NextDailyInstant returns the smallest instant >= now at which tod occurs
// under the fixed offset, expressed in UTC.
func NextDailyInstant(tod TimeOfDay, offset int, now time.Time) time.Time {
	sched, err := dailyParser.Parse(fmt.Sprintf("%d %d * * *", tod.Minute, tod.Hour))
	if err != nil {
		// tod comes from ParseTimeOfDay or a persisted record; fall back to plain arithmetic.
		return nextDailyArithmetic(tod, offset, now)
	}
	spec := sched.(*cron.SpecSchedule)
	spec.Location = Zone(offset)
	// cron.Next is strictly after its argument and truncates to the minute.
	return spec.Next(now.Add(-time.Nanosecond)).UTC()
}

func nextDailyArithmetic(tod TimeOfDay, offset int, now time.Time) time.Time {
	local := now.In(Zone(offset))
	mid := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
	at := mid.Add(tod.Duration())
	if at.Before(now) {
		at = mid.AddDate(0, 0, 1).Add(tod.Duration())
	}
	return at.UTC()
}

// LocalParts is the inverse of NextDailyInstant for display.
func LocalParts(instant time.Time, offset int) (DateKey, TimeOfDay) {
	l := instant.In(Zone(offset))
	return DateKey{Day: l.Day(), Month: l.Month()}, TimeOfDay{Hour: l.Hour(), Minute: l.Minute()}
}

// Today is the local calendar key of now under offset.
func Today(now time.Time, offset int) DateKey {
	d, _ := LocalParts(now, offset)
	return d
}
