package snapshot

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"remindbot/internal/clock"
	"remindbot/internal/task/scheduler"
)

// ErrCorrupt marks a record that could not be decoded. Records before it are valid.
var ErrCorrupt = errors.New("snapshot record corrupt")

// record is one line of the snapshot file.
type record struct {
	CallbackID scheduler.CallbackID `json:"callback_id"`
	Name       string               `json:"name"`
	Trigger    trigger              `json:"trigger"`
	Payload    scheduler.Payload    `json:"payload"`
}

type trigger struct {
	Kind   scheduler.Kind `json:"kind"`
	Time   string         `json:"time,omitempty"`
	Offset int            `json:"offset,omitempty"`
	At     *time.Time     `json:"at,omitempty"`
}

func toRecord(j scheduler.Job) record {
	r := record{CallbackID: j.Callback, Name: j.Name, Payload: j.Payload, Trigger: trigger{Kind: j.Kind}}
	if j.Kind == scheduler.KindDaily {
		r.Trigger.Time = j.Trigger.TimeOfDay.String()
		r.Trigger.Offset = j.Trigger.Offset
	} else {
		at := j.Trigger.At.UTC()
		r.Trigger.At = &at
	}
	return r
}

func (r record) job() (scheduler.Job, error) {
	j := scheduler.Job{Name: r.Name, Kind: r.Trigger.Kind, Callback: r.CallbackID, Payload: r.Payload}
	switch r.Trigger.Kind {
	case scheduler.KindDaily:
		tod, err := clock.ParseTimeOfDay(r.Trigger.Time)
		if err != nil {
			return scheduler.Job{}, err
		}
		j.Trigger = scheduler.Trigger{TimeOfDay: tod, Offset: r.Trigger.Offset}
	case scheduler.KindOnce:
		if r.Trigger.At == nil {
			return scheduler.Job{}, fmt.Errorf("once job %q without instant", r.Name)
		}
		j.Trigger = scheduler.Trigger{At: r.Trigger.At.UTC()}
	default:
		return scheduler.Job{}, fmt.Errorf("unknown kind %q", r.Trigger.Kind)
	}
	return j, j.Validate()
}

// Encode writes every job except SnapshotTick ones as JSON Lines.
// It returns the number of records written.
func Encode(w io.Writer, jobs []scheduler.Job) (int, error) {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	n := 0
	for _, j := range jobs {
		if j.Callback == scheduler.SnapshotTick {
			continue
		}
		if err := enc.Encode(toRecord(j)); err != nil {
			return n, fmt.Errorf("encode %q: %w", j.Name, err)
		}
		n++
	}
	return n, bw.Flush()
}

// Decode reads records in order until EOF or the first bad record.
// On a bad record it returns the jobs decoded so far and an ErrCorrupt error.
// A final line without a trailing newline counts as truncated.
func Decode(r io.Reader) ([]scheduler.Job, error) {
	br := bufio.NewReader(r)
	var jobs []scheduler.Job
	for line := 1; ; line++ {
		b, err := br.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			if len(bytes.TrimSpace(b)) > 0 {
				return jobs, fmt.Errorf("%w: line %d truncated", ErrCorrupt, line)
			}
			return jobs, nil
		}
		if err != nil {
			return jobs, fmt.Errorf("read line %d: %w", line, err)
		}
		b = bytes.TrimSpace(b)
		if len(b) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(b, &rec); err != nil {
			return jobs, fmt.Errorf("%w: line %d: %v", ErrCorrupt, line, err)
		}
		j, err := rec.job()
		if err != nil {
			return jobs, fmt.Errorf("%w: line %d: %v", ErrCorrupt, line, err)
		}
		jobs = append(jobs, j)
	}
}
