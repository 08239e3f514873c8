package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"tempod/internal/config"
	"tempod/internal/cron"
	"tempod/internal/eventbus"
	"tempod/internal/notifier"
	"tempod/internal/storage"
	"tempod/internal/timer"
	logx "tempod/pkg/logx"
)

// App wires config, storage, the two engines, and the notifier into one
// lifecycle. Construction maps config onto component settings; Start and
// Stop bring everything up and down in dependency order.
type App struct {
	cfgm *config.Manager

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store *storage.Store

	engine *cron.Engine
	timer  *timer.Service
	notif  *notifier.Service

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	engine := cron.New(cron.Config{
		Workers:   cfg.Engine.Workers,
		QueueSize: cfg.Engine.QueueSize,
		Timezone:  cfg.Timezone,
	}, store, bus, log.With(logx.String("comp", "cron")))

	tcfg, err := mapTimerConfig(cfg.Timer)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	timerSvc := timer.NewService(tcfg, store, bus, log.With(logx.String("comp", "timer")))

	notif, err := buildNotifier(cfg, bus, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &App{
		cfgm:   cfgm,
		log:    log,
		logs:   logSvc,
		bus:    bus,
		store:  store,
		engine: engine,
		timer:  timerSvc,
		notif:  notif,
	}, nil
}

func mapTimerConfig(tc config.TimerConfig) (timer.ServiceConfig, error) {
	var (
		out timer.ServiceConfig
		err error
	)
	if out.TickInterval, err = config.ParseDurationField("timer.tick_interval", tc.TickInterval); err != nil {
		return out, err
	}
	if out.PersistInterval, err = config.ParseDurationField("timer.persist_interval", tc.PersistInterval); err != nil {
		return out, err
	}
	if out.Engine.IdleGap, err = config.ParseDurationField("timer.idle_gap", tc.IdleGap); err != nil {
		return out, err
	}
	if out.Engine.IdleTimeout, err = config.ParseDurationField("timer.idle_timeout", tc.IdleTimeout); err != nil {
		return out, err
	}
	if out.Engine.LockDuration, err = config.ParseDurationField("timer.lock_duration", tc.LockDuration); err != nil {
		return out, err
	}
	if out.Engine.BreakSeed, err = config.ParseDurationField("timer.break_seed", tc.BreakSeed); err != nil {
		return out, err
	}
	if tc.ResetHour != nil {
		out.Engine.ResetHour = *tc.ResetHour
	}
	return out, nil
}

func buildNotifier(cfg *config.Config, bus eventbus.Bus, log logx.Logger) (*notifier.Service, error) {
	nc := cfg.Notifier
	if nc == nil || !nc.Enabled {
		return nil, nil
	}
	if nc.Telegram == nil {
		return nil, fmt.Errorf("notifier.telegram is required when the notifier is enabled")
	}
	pollTimeout, err := config.ParseDurationOrDefault(
		"notifier.telegram.poll_timeout", nc.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	sender, err := notifier.NewTelegram(nc.Telegram.Token, nc.Telegram.ChatID, pollTimeout)
	if err != nil {
		return nil, fmt.Errorf("telegram notifier: %w", err)
	}
	return notifier.New(notifier.Config{
		Enabled:    true,
		QueueSize:  nc.QueueSize,
		RatePerSec: nc.RatePerSec,
	}, sender, bus, log.With(logx.String("comp", "notifier"))), nil
}

// Engine exposes the job scheduler for operational surfaces.
func (a *App) Engine() *cron.Engine { return a.engine }

// Timer exposes the work/break accounting service.
func (a *App) Timer() *timer.Service { return a.timer }

// Start brings up all services and the config watcher.
func (a *App) Start(ctx context.Context) error {
	if a.started {
		return nil
	}
	a.started = true

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.engine.Start(runCtx); err != nil {
		return fmt.Errorf("start cron engine: %w", err)
	}
	cfg := a.cfgm.Get()
	if err := a.engine.LoadFromConfig(runCtx, cfg.Jobs); err != nil {
		// Individual bad definitions are logged inside LoadFromConfig;
		// startup proceeds with the jobs that did load.
		a.log.Warn("some job definitions failed to load", logx.Err(err))
	}

	if err := a.timer.Start(runCtx); err != nil {
		return fmt.Errorf("start timer: %w", err)
	}
	if a.notif != nil {
		a.notif.Start(runCtx)
	}

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		return c.Validate()
	})

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.cfgm.Watch(runCtx)
	}()

	sub := a.cfgm.Subscribe(4)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(runCtx, sub)
	}()

	a.log.Info("started")
	return nil
}

// reloadLoop applies hot-reloadable sections of a validated new config:
// logging and job definitions. Storage, engine sizing, timer thresholds
// and the notifier need a restart; changes there are logged and deferred.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				continue
			}
			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config reloaded", fields...)

			if config.JobsChanged(lastApplied, newCfg) {
				if err := a.engine.LoadFromConfig(ctx, newCfg.Jobs); err != nil {
					a.log.Warn("job reload partially failed", logx.Err(err))
				}
			}
			for _, s := range sections {
				switch s {
				case "logging":
					a.logs.Apply(logx.Config{
						Level:   newCfg.Logging.Level,
						Console: newCfg.Logging.Console,
						File: logx.FileConfig{
							Enabled: newCfg.Logging.File.Enabled,
							Path:    newCfg.Logging.File.Path,
						},
					})
				case "storage", "engine", "timer", "notifier":
					a.log.Warn("section changed; restart required to take effect",
						logx.String("section", s))
				}
			}
			lastApplied = newCfg
		}
	}
}

// Stop shuts services down in reverse dependency order and closes the
// store last.
func (a *App) Stop(ctx context.Context) {
	if !a.started {
		return
	}
	a.started = false

	if a.notif != nil {
		a.notif.Stop(ctx)
	}
	a.engine.Stop(ctx)
	a.timer.Stop(ctx)

	if a.cancel != nil {
		a.cancel()
	}
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.log.Warn("shutdown timed out; continuing")
	}

	if err := a.store.Close(); err != nil {
		a.log.Warn("store close failed", logx.Err(err))
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
	a.log.Info("stopped")
}
