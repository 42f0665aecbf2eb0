package engine

import (
	"context"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sync/atomic"
	"time"

	"remindbot/pkg/logx"
)

// groupBusyPause is how long a worker waits before retrying a task whose
// concurrency group is full.
const groupBusyPause = 10 * time.Millisecond

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue chan queuedTask, idx int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() ^ (int64(idx) << 32)))

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case qt := <-queue:
			key, limited := groupKey(qt.task), qt.opt.ConcurrencyLimit > 0
			if limited && !s.groups.tryAcquire(key, qt.opt.ConcurrencyLimit) {
				// Group busy: requeue so other keys make progress.
				select {
				case queue <- qt:
				default:
					s.discard(qt.task, "requeue_full")
				}
				select {
				case <-ctx.Done():
					return
				case <-stopCh:
					return
				case <-time.After(groupBusyPause):
				}
				continue
			}

			atomic.AddInt32(&s.inFlight, 1)
			s.execOne(ctx, stopCh, qt, rng)
			atomic.AddInt32(&s.inFlight, -1)
			if limited {
				s.groups.release(key)
			}
		}
	}
}

func (s *Service) execOne(ctx context.Context, stopCh <-chan struct{}, qt queuedTask, rng *rand.Rand) {
	start := time.Now()
	queueDelay := max(0, start.Sub(qt.enqueuedAt))
	log := s.log.With(logx.String("task", qt.task.Name), logx.String("id", qt.task.ID))

	var err error
	attempts := 0
	maxAttempts := 1 + qt.opt.RetryMax
attemptLoop:
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		err = s.runOnce(ctx, qt, log)
		if err == nil || IsNoRetry(err) || attempt == maxAttempts {
			break
		}

		delay := backoffDelay(qt.opt, attempt, rng)
		log.Debug("task retry scheduled", logx.Int("attempt", attempt+1), logx.Duration("delay", delay), logx.Err(err))
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			tmr.Stop()
			err = ctx.Err()
			break attemptLoop
		case <-stopCh:
			tmr.Stop()
			err = fmt.Errorf("retry abandoned: %w", ErrStopping)
			break attemptLoop
		case <-tmr.C:
		}
	}

	dur := time.Since(start)
	item := HistoryItem{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay, Duration: dur, Attempts: attempts}
	if err != nil {
		item.Error = err.Error()
		log.Warn("task failed", logx.Err(err), logx.Duration("dur", dur), logx.Int("attempts", attempts))
	} else {
		log.Debug("task completed", logx.Duration("queue_delay", queueDelay), logx.Duration("dur", dur), logx.Int("attempts", attempts))
	}
	s.record(item)
}

// runOnce executes one attempt. A panic is converted to a permanent error.
func (s *Service) runOnce(ctx context.Context, qt queuedTask, log logx.Logger) (err error) {
	runCtx := ctx
	if qt.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, qt.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = NoRetry(fmt.Errorf("panic: %v", r))
		}
	}()
	return qt.task.Run(runCtx)
}

func backoffDelay(opt TaskOptions, retry int, rng *rand.Rand) time.Duration {
	d := opt.RetryBase
	for i := 1; i < retry && d < opt.RetryMaxDelay; i++ {
		d *= 2
	}
	if rng != nil && opt.RetryJitter > 0 {
		r := (rng.Float64()*2 - 1) * opt.RetryJitter
		d = time.Duration(float64(d) * (1 + r))
	}
	return min(max(d, 0), opt.RetryMaxDelay)
}
