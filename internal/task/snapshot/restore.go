package snapshot

import (
	"errors"
	"fmt"
	"io"

	"remindbot/internal/task/scheduler"
	"remindbot/pkg/logx"
)

// Restore decodes records from r and re-creates each job through dst.
// Restore stops at the first corrupt record or the first job the scheduler
// rejects; the jobs before it stay restored and the stop is logged. Timers
// whose instant passed while the process was down are dropped, not fired.
// Only read errors are returned.
func Restore(r io.Reader, dst Adder, log logx.Logger) (int, error) {
	jobs, err := Decode(r)
	now := dst.Now()
	n, expired := 0, 0
	for _, j := range jobs {
		if j.Kind == scheduler.KindOnce && j.Trigger.At.Before(now) {
			log.Warn("snapshot timer expired during downtime, dropped", logx.String("job", j.Name), logx.Time("at", j.Trigger.At))
			expired++
			continue
		}
		if _, addErr := dst.Add(j); addErr != nil {
			err = fmt.Errorf("%w: job %s rejected: %v", ErrCorrupt, j.Name, addErr)
			break
		}
		n++
	}
	if expired > 0 {
		log.Info("expired timers dropped", logx.Int("count", expired))
	}
	if errors.Is(err, ErrCorrupt) {
		log.Warn("snapshot restore stopped at last good record", logx.Err(err), logx.Int("restored", n))
		return n, nil
	}
	return n, err
}
