package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"remindbot/pkg/logx"
)

// stepper runs shutdown steps, each bounded so one component can't stall the
// whole stop. Step errors are logged and collected.
type stepper struct {
	ctx context.Context
	log logx.Logger

	mu   sync.Mutex
	errs []error
}

func newStepper(ctx context.Context, log logx.Logger) *stepper {
	return &stepper{ctx: ctx, log: log}
}

func (s *stepper) err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Join(s.errs...)
}

func (s *stepper) fail(name string, err error) {
	s.mu.Lock()
	s.errs = append(s.errs, fmt.Errorf("stop %s: %w", name, err))
	s.mu.Unlock()
}

// bound derives a step context capped at limit, never past the caller's deadline.
func (s *stepper) bound(limit time.Duration) (context.Context, context.CancelFunc) {
	if dl, ok := s.ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < limit {
			limit = max(rem, 0)
		}
	}
	return context.WithTimeout(s.ctx, limit)
}

func (s *stepper) run(name string, limit time.Duration, fn func(context.Context) error) {
	ctx, cancel := s.bound(limit)
	defer cancel()
	s.exec(ctx, name, fn)
}

// parallel runs independent steps concurrently under one shared limit.
func (s *stepper) parallel(name string, limit time.Duration, steps map[string]func(context.Context) error) {
	ctx, cancel := s.bound(limit)
	defer cancel()
	start := time.Now()
	var g errgroup.Group
	for n, fn := range steps {
		n, fn := n, fn
		g.Go(func() error {
			s.exec(ctx, n, fn)
			return nil
		})
	}
	_ = g.Wait()
	s.log.Debug("stop group end", logx.String("name", name), logx.Duration("took", time.Since(start)))
}

func (s *stepper) exec(ctx context.Context, name string, fn func(context.Context) error) {
	start := time.Now()
	s.log.Debug("stop step begin", logx.String("name", name))

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		took := time.Since(start)
		if err != nil {
			s.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			s.fail(name, err)
		} else if took >= 500*time.Millisecond {
			s.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			s.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-ctx.Done():
		s.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(ctx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		s.fail(name, ctx.Err())
		go func() {
			err := <-done
			if err != nil {
				s.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			}
		}()
	}
}
