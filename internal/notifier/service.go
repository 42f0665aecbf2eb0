package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"remindbot/internal/eventbus"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/transport"
	"remindbot/pkg/logx"
)

var (
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

// Service is safe for concurrent use.
type Service struct {
	log     logx.Logger
	adapter transport.Adapter
	bus     eventbus.Bus

	mu        sync.Mutex
	cfg       Config
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker[transport.MessageRef]
	queue     chan transport.Notification
	sup       *rtsup.Supervisor
	accepting bool
	sendWG    sync.WaitGroup

	dmu   sync.Mutex
	dedup map[string]time.Time

	sent, failed, deduped, dropped atomic.Uint64
}

func New(cfg Config, adapter transport.Adapter, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{adapter: adapter, log: log, bus: bus, dedup: map[string]time.Time{}}
	s.applyLocked(cfg)
	return s
}

// Apply updates rate and retry settings. Queue size and workers take effect on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	cfg = cfg.withDefaults()
	prev := s.cfg
	s.cfg = cfg
	if s.limiter == nil {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst)
	} else {
		s.limiter.SetLimit(rate.Limit(cfg.RatePerSec))
		s.limiter.SetBurst(cfg.Burst)
	}
	if s.breaker == nil || prev.BreakerFailures != cfg.BreakerFailures || prev.BreakerTimeout != cfg.BreakerTimeout {
		s.breaker = newBreaker(cfg, s.log)
	}
}

func newBreaker(cfg Config, log logx.Logger) *gobreaker.CircuitBreaker[transport.MessageRef] {
	return gobreaker.NewCircuitBreaker[transport.MessageRef](gobreaker.Settings{
		Name:        "telegram.send",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			// A canceled caller says nothing about the transport.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed", logx.String("breaker", name), logx.String("from", from.String()), logx.String("to", to.String()))
		},
	})
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil {
		return
	}
	s.queue = make(chan transport.Notification, s.cfg.QueueSize)
	s.accepting = true
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	q := s.queue
	for i := 0; i < s.cfg.Workers; i++ {
		s.sup.GoRestart(fmt.Sprintf("notifier.worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			return nil
		})
	}
}

// Supervisor returns the worker supervisor (nil when stopped).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Stop refuses new notifications and drains the queue until ctx expires.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q, sup := s.queue, s.sup
	if q == nil || !s.accepting {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.sendWG.Wait()
		close(q)
		_ = sup.Wait(context.Background())
		s.mu.Lock()
		s.queue, s.sup = nil, nil
		s.mu.Unlock()
	}()
	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
		s.log.Warn("notifier stop timed out, queue not drained", logx.Err(ctx.Err()))
	}
}

// Notify queues n for asynchronous delivery.
func (s *Service) Notify(ctx context.Context, n transport.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	window := s.cfg.DedupWindow
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	if !s.dedupAllow(n.DedupKey, window, time.Now()) {
		s.deduped.Add(1)
		return nil
	}
	select {
	case q <- n:
		return nil
	default:
		s.dropped.Add(1)
		s.publishFailed(n, ErrQueueFull)
		return ErrQueueFull
	}
}

// Send delivers n now, with rate limiting, retries and the circuit breaker.
func (s *Service) Send(ctx context.Context, n transport.Notification) (transport.MessageRef, error) {
	s.mu.Lock()
	cfg, lim, br, window := s.cfg, s.limiter, s.breaker, s.cfg.DedupWindow
	s.mu.Unlock()

	if !s.dedupAllow(n.DedupKey, window, time.Now()) {
		s.deduped.Add(1)
		return transport.MessageRef{}, nil
	}

	var lastErr error
	for attempt := 1; attempt <= 1+cfg.RetryMax; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return transport.MessageRef{}, err
		}
		ref, err := br.Execute(func() (transport.MessageRef, error) {
			cctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
			defer cancel()
			return s.adapter.SendText(cctx, n.Target, n.Text, n.Options)
		})
		if err == nil {
			s.sent.Add(1)
			return ref, nil
		}
		lastErr = err
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) || attempt > cfg.RetryMax {
			break
		}
		s.log.Debug("send failed, retrying", logx.Int64("chat_id", n.Target.ChatID), logx.Int("attempt", attempt), logx.Err(err))
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			lastErr = ctx.Err()
			attempt = cfg.RetryMax + 1
		}
	}
	s.failed.Add(1)
	s.publishFailed(n, lastErr)
	return transport.MessageRef{}, fmt.Errorf("send to chat %d: %w", n.Target.ChatID, lastErr)
}

func (s *Service) workerLoop(ctx context.Context, q <-chan transport.Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-q:
			if !ok {
				return
			}
			if _, err := s.Send(ctx, n); err != nil {
				s.log.Warn("notification not delivered", logx.Int64("chat_id", n.Target.ChatID), logx.Err(err))
			}
		}
	}
}

func (s *Service) Stats() Stats {
	s.mu.Lock()
	q, br := s.queue, s.breaker
	s.mu.Unlock()
	st := Stats{
		Sent:    s.sent.Load(),
		Failed:  s.failed.Load(),
		Deduped: s.deduped.Load(),
		Dropped: s.dropped.Load(),
		Breaker: br.State().String(),
	}
	if q != nil {
		st.QueueLen = len(q)
	}
	return st
}

func (s *Service) publishFailed(n transport.Notification, err error) {
	if s.bus == nil || err == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.NotifyFailed, Data: Event{ChatID: n.Target.ChatID, At: time.Now(), Error: err.Error()}})
}

// dedupAllow reports whether key may be sent and starts its window.
func (s *Service) dedupAllow(key string, window time.Duration, now time.Time) bool {
	if key == "" || window <= 0 {
		return true
	}
	s.dmu.Lock()
	defer s.dmu.Unlock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	s.dedup[key] = now.Add(window)
	return true
}

// retryDelay is exponential from RetryBase with 0.7..1.3 jitter, capped at RetryMaxDelay.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(d, cfg.RetryMaxDelay)
}
