package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"remindbot/internal/clock"
	"remindbot/internal/eventbus"
	"remindbot/internal/task/engine"
	"remindbot/pkg/logx"
)

var ErrNoHandler = errors.New("no handler registered")

type Config struct {
	// Tick is the scheduling granularity: a job fires within one Tick after its instant.
	Tick time.Duration
	// FireTimeout bounds a single handler run.
	FireTimeout time.Duration
}

// Handler runs when a job fires. job.NextAt is the instant that fired.
type Handler func(ctx context.Context, job Job) error

// Executor runs fired jobs off the tick loop. *engine.Service satisfies it.
type Executor interface {
	Enqueue(t engine.Task) error
}

// FireEvent is published on the bus for every fire.
type FireEvent struct {
	Name     string     `json:"name"`
	Callback CallbackID `json:"callback"`
	FiredAt  time.Time  `json:"fired_at"`
	Error    string     `json:"error,omitempty"`
}

type Service struct {
	cfg   Config
	log   logx.Logger
	bus   eventbus.Bus
	exec  Executor
	store *Store
	now   func() time.Time

	hmu      sync.RWMutex
	handlers map[CallbackID]Handler

	enqWarn warnThrottle
}

// New creates a scheduler over store. exec may be nil, in which case fires run
// inline on the tick goroutine.
func New(cfg Config, store *Store, exec Executor, log logx.Logger, bus eventbus.Bus) *Service {
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	if cfg.FireTimeout <= 0 {
		cfg.FireTimeout = 30 * time.Second
	}
	if store == nil {
		store = NewStore()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg,
		log:      log,
		bus:      bus,
		exec:     exec,
		store:    store,
		now:      time.Now,
		handlers: map[CallbackID]Handler{},
		enqWarn:  warnThrottle{every: 5 * time.Second},
	}
}

// SetClock overrides the time source used when jobs are created.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Service) Store() *Store { return s.store }

// Now reads the scheduler's clock.
func (s *Service) Now() time.Time { return s.now() }

// Register installs the handler for id, replacing any previous one.
func (s *Service) Register(id CallbackID, h Handler) {
	s.hmu.Lock()
	s.handlers[id] = h
	s.hmu.Unlock()
}

func (s *Service) handler(id CallbackID) Handler {
	s.hmu.RLock()
	defer s.hmu.RUnlock()
	return s.handlers[id]
}

// Add is the single creation path for jobs: new ones from commands and
// restored ones from a snapshot. NextAt is always recomputed from Trigger.
func (s *Service) Add(job Job) (Job, error) {
	if err := job.Validate(); err != nil {
		return Job{}, err
	}
	if job.Kind == KindOnce {
		job.Trigger.At = job.Trigger.At.UTC()
	}
	job.NextAt = job.First(s.now())
	replaced := s.store.Insert(job)
	s.log.Debug("job scheduled", logx.String("job", job.Name), logx.String("kind", string(job.Kind)), logx.Time("next_at", job.NextAt), logx.Bool("replaced", replaced))
	return job, nil
}

// AddDaily creates or replaces a recurring job firing at tod local time under offset.
func (s *Service) AddDaily(name string, cb CallbackID, tod clock.TimeOfDay, offset int, p Payload) (Job, error) {
	return s.Add(Job{Name: name, Kind: KindDaily, Callback: cb, Trigger: Trigger{TimeOfDay: tod, Offset: offset}, Payload: p})
}

// AddOnce creates or replaces a job firing once at the absolute instant at.
func (s *Service) AddOnce(name string, cb CallbackID, at time.Time, p Payload) (Job, error) {
	return s.Add(Job{Name: name, Kind: KindOnce, Callback: cb, Trigger: Trigger{At: at}, Payload: p})
}

func (s *Service) Remove(name string) bool { return s.store.Remove(name) }

func (s *Service) RemoveWhere(pred func(Job) bool) []Job { return s.store.RemoveWhere(pred) }

func (s *Service) Find(name string) (Job, bool) { return s.store.FindByName(name) }

func (s *Service) List() []Job { return s.store.ListAll() }

func (s *Service) ListPrefix(prefix string) []Job { return s.store.WithPrefix(prefix) }

// Run ticks until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	t := time.NewTicker(s.cfg.Tick)
	defer t.Stop()
	s.log.Info("scheduler started", logx.Duration("tick", s.cfg.Tick), logx.Int("jobs", s.store.Len()))
	s.Tick(time.Now())
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped", logx.Int("jobs", s.store.Len()))
			return nil
		case now := <-t.C:
			s.Tick(now)
		}
	}
}

// Tick fires every job due at now. Daily jobs are already re-armed in the
// store when their handler starts; Once jobs are already gone. A fire the
// executor cannot take is handed back through undelivered. It returns the
// jobs taken from the store.
func (s *Service) Tick(now time.Time) []Job {
	due := s.store.Advance(now, func(j Job) (time.Time, bool) { return j.Next(now) })
	for _, j := range due {
		s.dispatch(j)
	}
	return due
}

func (s *Service) dispatch(job Job) {
	run := func(ctx context.Context) error { return s.fire(ctx, job) }
	if s.exec == nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.FireTimeout)
		_ = run(ctx)
		cancel()
		return
	}
	err := s.exec.Enqueue(engine.Task{
		Name:           "fire:" + string(job.Callback),
		Timeout:        s.cfg.FireTimeout,
		Run:            run,
		ConcurrencyKey: job.ConcurrencyKey(),
		// Delivery retries live in the notifier; a fire itself is attempted once.
		Opt:    engine.TaskOptions{RetryMax: -1, ConcurrencyLimit: 1},
		OnDrop: func(reason string) { s.undelivered(job, errors.New(reason)) },
	})
	if err != nil {
		s.undelivered(job, err)
	}
}

// undelivered handles a fire that never reached its handler. A Once job goes
// back into the store with its original instant, so a later tick retries it
// and a snapshot still records it. A Daily job is already re-armed; only
// this occurrence is lost.
func (s *Service) undelivered(job Job, err error) {
	s.publish(eventbus.JobFailed, job, err)
	requeued := job.Kind == KindOnce && s.store.InsertIfAbsent(job)
	if s.enqWarn.allow(time.Now()) {
		s.log.Error("job fire not queued", logx.String("job", job.Name), logx.Bool("requeued", requeued), logx.Err(err))
	}
}

// fire runs the handler. Failures and panics are logged and reported, never returned
// to the tick loop.
func (s *Service) fire(ctx context.Context, job Job) (err error) {
	log := s.log.With(logx.String("job", job.Name), logx.String("callback", string(job.Callback)))
	defer func() {
		if r := recover(); r != nil {
			log.Error("job handler panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			log.Warn("job handler failed", logx.Err(err))
			s.publish(eventbus.JobFailed, job, err)
			err = engine.NoRetry(err)
			return
		}
		s.publish(eventbus.JobFired, job, nil)
	}()

	h := s.handler(job.Callback)
	if h == nil {
		return fmt.Errorf("%w for %s", ErrNoHandler, job.Callback)
	}
	log.Debug("job firing", logx.Time("at", job.NextAt))
	return h(ctx, job)
}

func (s *Service) publish(typ string, job Job, err error) {
	if s.bus == nil {
		return
	}
	ev := FireEvent{Name: job.Name, Callback: job.Callback, FiredAt: job.NextAt}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}

// warnThrottle limits a repeated log line to one per interval.
type warnThrottle struct {
	mu    sync.Mutex
	every time.Duration
	last  time.Time
}

func (w *warnThrottle) allow(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.last.IsZero() && now.Sub(w.last) < w.every {
		return false
	}
	w.last = now
	return true
}
