// Package app wires configuration, logging, transport and the reminder core
// into one runnable bot.
package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"remindbot/internal/bot"
	"remindbot/internal/config"
	"remindbot/internal/dialogue"
	"remindbot/internal/eventbus"
	"remindbot/internal/notifier"
	"remindbot/internal/reminder"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/storage"
	"remindbot/internal/task/scheduler"
	kit "remindbot/internal/transport"
	telegram "remindbot/internal/transport/telegram/adapter"
	"remindbot/internal/transport/telegram/router"
	logx "remindbot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter
	sched   *scheduler.Service
	notif   *notifier.Service
	engine  *reminder.Engine
	cmdm    *router.CommandManager

	// retainFired is the current fired-reminder retention in nanoseconds.
	retainFired atomic.Int64

	updates    chan kit.Update
	routerDone chan struct{}
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout}, bootLog)
	if err != nil {
		return nil, err
	}

	// Enable the Telegram sink only after its target is set, so the first
	// Apply does not warn about a missing chat.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, log := logx.New(bootCfg, ad)
	logSvc.SetTelegramTarget(cfg.GroupLogChatID(), cfg.Logging.Telegram.ThreadID)
	logSvc.Apply(logCfg)
	appLog := log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	scfg, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(scfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	if store != nil {
		appLog.Info("audit storage enabled", logx.String("driver", scfg.Driver))
	}

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(schedCfg, log.With(logx.String("comp", "scheduler")), bus)

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	notif := notifier.New(ncfg, ad, log.With(logx.String("comp", "notifier")), bus)

	ecfg, err := mapEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	loc := cfg.ReminderLocation()
	engine := reminder.NewEngine(ecfg, reminder.NewRegistry(), reminder.RandomIDs{}, sched, notif, bus,
		log.With(logx.String("comp", "reminders")))
	dlg := dialogue.New(engine, loc, log.With(logx.String("comp", "dialogue")))
	handlers := bot.New(engine, dlg, loc, log.With(logx.String("comp", "bot")))

	cmdm := router.NewCommandManager(router.Config{}, log.With(logx.String("comp", "router")), ad)
	cmdm.SetRegistry(handlers.Commands(), handlers.Text)
	cmdm.HandleCallback(bot.CallbackScope, handlers.Callback)

	a := &App{
		cfgm:    cfgm,
		log:     appLog,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		sched:   sched,
		notif:   notif,
		engine:  engine,
		cmdm:    cmdm,
		updates: make(chan kit.Update, 256),
	}
	return a, nil
}

// Done is closed when the app context is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the app supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapNotifierConfig(cfg); err != nil {
			return err
		}
		_, _, err := housekeeping(cfg)
		return err
	})

	a.notif.Start(run)
	a.sched.Start(run)
	if err := a.applyHousekeeping(a.cfgm.Get()); err != nil {
		return err
	}

	if err := a.adapter.Start(run, a.updates); err != nil {
		return err
	}
	a.routerDone = make(chan struct{})
	a.sup.Go("router.dispatch", func(c context.Context) error {
		defer close(a.routerDone)
		return a.cmdm.Run(c, a.updates)
	})
	a.sup.Go0("router.menu", a.cmdm.SyncMenu)

	if a.store != nil {
		events, unsub := a.bus.Subscribe(256, auditPrefixes...)
		a.sup.Go0("audit", func(c context.Context) {
			defer unsub()
			runAudit(c, events, a.store, a.log.With(logx.String("comp", "audit")))
		})
	}

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
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(4)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(cfg)
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started")
	return nil
}

// applyConfig applies the hot-reloadable sections. Telegram, storage and the
// scheduler pool are read once at startup.
func (a *App) applyConfig(cfg *config.Config) {
	a.logs.SetTelegramTarget(cfg.GroupLogChatID(), cfg.Logging.Telegram.ThreadID)
	a.logs.Apply(mapLogConfig(cfg))

	if ncfg, err := mapNotifierConfig(cfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}
	if err := a.applyHousekeeping(cfg); err != nil {
		a.log.Warn("invalid housekeeping config; keeping previous", logx.Err(err))
	}
	a.log.Info("config applied")
}

// applyHousekeeping (re)registers the prune job, or removes it when
// retention is off.
func (a *App) applyHousekeeping(cfg *config.Config) error {
	spec, retain, err := housekeeping(cfg)
	if err != nil {
		return err
	}
	a.retainFired.Store(int64(retain))
	if retain <= 0 {
		a.sched.Remove(pruneJobName)
		return nil
	}
	_, err = a.sched.AddCron(pruneJobName, spec, 0, func(context.Context) error {
		n := a.engine.PruneFired(time.Duration(a.retainFired.Load()))
		snap := a.sched.Snapshot()
		a.log.Debug("housekeeping",
			logx.Int("pruned", n),
			logx.Int("pending_jobs", snap.Pending),
			logx.Int("queue_len", snap.QueueLen),
			logx.Uint64("bus_dropped", eventbus.Dropped(a.bus)),
			logx.Any("tasks", a.sup.Running()),
		)
		return nil
	})
	if err != nil {
		return fmt.Errorf("scheduler.housekeeping: %w", err)
	}
	return nil
}

// Stop shuts components down in dependency order: router, adapter,
// scheduler, notifier, storage. Pending reminders are dropped with the
// scheduler; they are not persisted.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	a.step(ctx, "router", 3*time.Second, func(c context.Context) error {
		if a.routerDone == nil {
			return nil
		}
		select {
		case <-a.routerDone:
			return nil
		case <-c.Done():
			return c.Err()
		}
	})
	a.step(ctx, "adapter", 2*time.Second, a.adapter.Stop)
	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)
	a.step(ctx, "storage", time.Second, func(context.Context) error {
		if a.store == nil {
			return nil
		}
		return a.store.Close()
	})

	a.log.Info("stopped")
	_ = a.logs.Close()
	return nil
}

// step runs one shutdown step bounded by max and the caller's deadline. A
// step that overruns is logged and left behind.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	sctx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(sctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-sctx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}
