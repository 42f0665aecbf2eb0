package app

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/afero"

	"remindbot/internal/config"
	"remindbot/internal/eventbus"
	"remindbot/internal/notes"
	"remindbot/internal/notifier"
	"remindbot/internal/observability/admin"
	"remindbot/internal/reminder"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/storage"
	"remindbot/internal/task/engine"
	"remindbot/internal/task/scheduler"
	"remindbot/internal/task/snapshot"
	kit "remindbot/internal/transport"
	telegram "remindbot/internal/transport/telegram/adapter"
	"remindbot/internal/transport/telegram/router"
	"remindbot/pkg/logx"
)

const msgUnknownCommand = "Sorry, I don't know that command. Try /help."

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter

	engine   *engine.Service
	sched    *scheduler.Service
	snap     *snapshot.Snapshotter
	notif    *notifier.Service
	reminder *reminder.Service
	admin    *admin.Service

	cmdm *router.CommandManager

	updates chan kit.Update
}

// New loads the config at cfgPath and wires every component. Nothing runs
// until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: cfg.Telegram.PollTimeoutDur,
	}, logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg), ad)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	bus := eventbus.New()

	store, err := storage.Open(mapStorageConfig(cfg), log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Info("storage opened", logx.String("driver", cfg.Storage.Driver), logx.String("path", cfg.Storage.Path))

	engineSvc := engine.New(mapEngineConfig(cfg), log.With(logx.String("comp", "taskengine")), bus)
	schedSvc := scheduler.New(scheduler.Config{
		Tick:        cfg.Scheduler.TickDur,
		FireTimeout: cfg.Engine.TimeoutDur,
	}, scheduler.NewStore(), engineSvc, log.With(logx.String("comp", "scheduler")), bus)

	snap := snapshot.New(snapshot.Config{
		Path:  cfg.Scheduler.SnapshotPath,
		Every: cfg.Scheduler.SnapshotEveryDur,
	}, afero.NewOsFs(), schedSvc, log.With(logx.String("comp", "snapshot")), bus)

	notifSvc := notifier.New(mapNotifierConfig(cfg), ad, log.With(logx.String("comp", "notifier")), bus)

	rem := reminder.New(notes.New(store, log.With(logx.String("comp", "notes"))), schedSvc, notifSvc,
		log.With(logx.String("comp", "reminder")))
	rem.Install()

	cmdm := router.NewCommandManager(log.With(logx.String("comp", "commands")), ad, notifSvc, router.Options{
		Unknown:    msgUnknownCommand,
		Middleware: []router.Middleware{router.MWAudit(auditTo(store, log))},
	})
	cmdm.SetRegistry(rem.Commands())

	a := &App{
		cfgm:     cfgm,
		log:      log.With(logx.String("comp", "app")),
		logs:     logSvc,
		bus:      bus,
		store:    store,
		adapter:  ad,
		engine:   engineSvc,
		sched:    schedSvc,
		snap:     snap,
		notif:    notifSvc,
		reminder: rem,
		cmdm:     cmdm,
		updates:  make(chan kit.Update, 256),
	}
	a.admin = admin.New(mapAdminConfig(cfg), admin.Sources{
		Jobs:         schedSvc.List,
		Tasks:        engineSvc.Snapshot,
		Notifier:     notifSvc.Stats,
		Supervisors:  a.supervisors,
		SaveSnapshot: snap.Save,
	}, log)
	return a, nil
}

// auditTo records every handled command in the store's audit log.
func auditTo(store storage.Store, log logx.Logger) router.AuditFunc {
	return func(ctx context.Context, req *router.Request, err error, took time.Duration) {
		e := storage.AuditEntry{
			At:      req.At,
			ChatID:  req.Chat.ChatID,
			FromID:  req.FromID,
			Command: req.Command,
			Args:    req.Raw,
			TookMS:  took.Milliseconds(),
		}
		if err != nil {
			e.Error = err.Error()
		}
		if aerr := store.AppendAudit(ctx, e); aerr != nil {
			log.Debug("audit append failed", logx.Err(aerr))
		}
	}
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// supervisors collects the runtime supervisors for the admin endpoint.
func (a *App) supervisors() map[string]rtsup.Snapshot {
	out := map[string]rtsup.Snapshot{}
	add := func(name string, s *rtsup.Supervisor) {
		if s != nil {
			out[name] = s.Snapshot()
		}
	}
	add("app", a.sup)
	add("telegram.adapter", a.adapter.Supervisor())
	add("task.engine", a.engine.Supervisor())
	add("notifier", a.notif.Supervisor())
	add("commands", a.cmdm.Supervisor())
	add("admin", a.admin.Supervisor())
	return out
}

// Start restores the schedule and launches every service. The order matters:
// jobs are restored and their callbacks installed before the first tick, and
// the notifier is running before updates are accepted.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	if _, err := a.snap.Load(runCtx); err != nil {
		return fmt.Errorf("restore jobs: %w", err)
	}
	if _, err := a.reminder.Reconcile(runCtx); err != nil {
		a.log.Warn("reminder reconcile failed", logx.Err(err))
	}
	if err := a.snap.Install(); err != nil {
		return fmt.Errorf("arm snapshot: %w", err)
	}

	// Workers outlive the run context so in-flight fires finish during Stop.
	workCtx := context.WithoutCancel(runCtx)
	a.engine.Start(workCtx)
	a.notif.Start(workCtx)

	a.sup.Go("scheduler", a.sched.Run)

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return err
	}
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})
	a.sup.Go0("commands.menu", func(c context.Context) {
		if err := a.cmdm.PublishMenu(c); err != nil {
			a.log.Warn("command menu not published", logx.Err(err))
		}
	})

	if err := a.admin.Start(runCtx); err != nil {
		return fmt.Errorf("admin: %w", err)
	}

	a.watchEvents()
	a.watchConfig()
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.notifyReady()
	a.log.Info("app started", logx.Int("jobs", a.sched.Store().Len()))
	return nil
}

// watchEvents logs bus traffic. Failures are warnings, the rest debug.
func (a *App) watchEvents() {
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				switch e.Type {
				case eventbus.JobFailed, eventbus.TaskDropped, eventbus.NotifyFailed, eventbus.SnapshotError:
					a.log.Warn("event", logx.String("type", e.Type), logx.Any("data", e.Data))
				default:
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		}
	})
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.notifyStopping()

	// Stops the scheduler tick, the dispatcher and the long poller.
	a.sup.Cancel()

	step := newStepper(ctx, a.log)
	step.run("adapter", 2*time.Second, a.adapter.Stop)
	// Fires still queued in the engine go back to the scheduler on stop, so
	// the engine must drain before the final snapshot is taken.
	step.run("taskengine", 3*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step.run("snapshot", 2*time.Second, a.snap.Save)
	step.parallel("services", 3*time.Second, map[string]func(context.Context) error{
		"notifier": func(c context.Context) error { a.notif.Stop(c); return nil },
		"admin":    a.admin.Stop,
	})
	step.run("storage", time.Second, func(context.Context) error { return a.store.Close() })
	step.run("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return step.err()
}
