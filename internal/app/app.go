// Package app owns construction and lifecycle of the reminder service.
//
// Everything that used to be a process-wide singleton in similar bots lives
// here as an explicit field, built once at startup and torn down in Stop.
package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"remindbot/internal/config"
	"remindbot/internal/debounce"
	"remindbot/internal/eventbus"
	"remindbot/internal/guildlock"
	"remindbot/internal/health"
	"remindbot/internal/reminder"
	"remindbot/internal/retry"
	"remindbot/internal/scheduler"
	"remindbot/internal/storage"
	"remindbot/internal/transport/discord"
	logx "remindbot/pkg/logx"
)

// Ports groups the external collaborators the core drives. In production all
// three are the Discord adapter; tests inject fakes.
type Ports struct {
	Notify      reminder.NotificationPort
	Reactions   reminder.ReactionSource
	Eligibility reminder.EligibilityResolver
}

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	bus   eventbus.Bus
	locks *guildlock.Manager
	store *reminder.Store
	queue *debounce.Queue
	stats *retry.Stats
	exec  *retry.Executor
	sched *scheduler.Service

	persist storage.Store // nil when persistence is disabled
	ports   Ports

	adapter *discord.Adapter // nil when ports are injected
	hsrv    *health.Server   // nil when disabled

	saveMu  sync.Mutex
	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
}

// New builds the full production wiring from a config file: Discord adapter,
// persistence driver, health server, and the scheduling core.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		return c.Validate()
	})
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	ad, err := discord.New(discord.Config{
		Token:          cfg.Discord.Token,
		SendRatePerSec: cfg.Discord.SendRatePerSec,
		SendBurst:      cfg.Discord.SendBurst,
	}, log.With(logx.String("comp", "discord")))
	if err != nil {
		logs.Close()
		return nil, err
	}

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		logs.Close()
		return nil, err
	}
	st, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil && !errors.Is(err, storage.ErrDisabled) {
		logs.Close()
		return nil, err
	}

	a, err := assemble(cfg, Ports{Notify: ad, Reactions: ad, Eligibility: ad}, st, logs, log)
	if err != nil {
		logs.Close()
		return nil, err
	}
	a.cfgm = cfgm
	a.adapter = ad
	ad.SetReactionHandler(a.OnReactionChanged)

	if cfg.Health.Enabled {
		a.hsrv = health.New(cfg.Health.Addr, health.Sources{
			Retry: a.stats,
			Sched: a.sched,
			Store: a.store,
			Locks: a.locks,
			Queue: a.queue,
		}, log.With(logx.String("comp", "health")))
	}
	return a, nil
}

// NewWithPorts builds an app around injected ports and storage. Used by
// tests and by embedders that bring their own transport.
func NewWithPorts(cfg *config.Config, ports Ports, st storage.Store, log logx.Logger) (*App, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	return assemble(cfg, ports, st, nil, log)
}

func assemble(cfg *config.Config, ports Ports, st storage.Store, logs *logx.Service, log logx.Logger) (*App, error) {
	dur, err := cfg.Reminders.Durations()
	if err != nil {
		return nil, err
	}
	retryBase, err := config.ParseDurationOrDefault("retry.base", cfg.Retry.Base, 500*time.Millisecond)
	if err != nil {
		return nil, err
	}
	retryMaxDelay, err := config.ParseDurationOrDefault("retry.max_delay", cfg.Retry.MaxDelay, 15*time.Second)
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()
	locks := guildlock.NewManager()
	store := reminder.NewStore(locks, reminder.Policy{
		MinInterval: dur.MinInterval,
		MaxInterval: dur.MaxInterval,
	})
	queue := debounce.NewQueue(dur.DebounceDelay, log.With(logx.String("comp", "debounce")))
	stats := retry.NewStats()
	exec := retry.NewExecutor(retry.Options{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Base:        retryBase,
		Factor:      cfg.Retry.Factor,
		MaxDelay:    retryMaxDelay,
		Jitter:      cfg.Retry.Jitter,
	}, stats, log.With(logx.String("comp", "retry")))
	exec.OnExhausted(func(call string, attempts int, err error) {
		bus.Publish(eventbus.Event{
			Type: eventbus.TypeRetryExhausted,
			Data: map[string]string{
				"call":     call,
				"attempts": strconv.Itoa(attempts),
				"error":    err.Error(),
			},
		})
	})

	a := &App{
		logs:    logs,
		log:     log,
		bus:     bus,
		locks:   locks,
		store:   store,
		queue:   queue,
		stats:   stats,
		exec:    exec,
		persist: st,
		ports:   ports,
	}

	a.sched = scheduler.New(scheduler.Policy{
		SafetyMargin: dur.SafetyMargin,
		MinWait:      dur.MinWait,
		MaxWait:      dur.MaxWait,
		SafetyTick:   dur.SafetyTick,
	}, scheduler.Deps{
		Store:       store,
		Exec:        exec,
		Notify:      ports.Notify,
		Reactions:   ports.Reactions,
		Eligibility: ports.Eligibility,
		Persist:     a.save,
		Bus:         bus,
	}, log.With(logx.String("comp", "scheduler")))

	return a, nil
}

func (a *App) Bus() eventbus.Bus             { return a.bus }
func (a *App) Store() *reminder.Store        { return a.store }
func (a *App) Scheduler() *scheduler.Service { return a.sched }
func (a *App) RetryStats() retry.Snapshot    { return a.stats.Snapshot() }

// Start loads persisted reminders, connects the transport, and arms the
// scheduler. It is not restartable after Stop.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return fmt.Errorf("already started")
	}
	a.started = true
	a.runCtx, a.cancel = context.WithCancel(ctx)
	runCtx := a.runCtx
	a.mu.Unlock()

	if a.persist != nil {
		rs, err := a.persist.LoadAll(runCtx)
		if err != nil {
			return fmt.Errorf("load reminders: %w", err)
		}
		a.store.Replace(rs)
		a.log.Info("reminders loaded", logx.Int("count", len(rs)))
	}

	if a.adapter != nil {
		if err := a.adapter.Open(); err != nil {
			return fmt.Errorf("discord connect: %w", err)
		}
	}
	if err := a.sched.Start(runCtx); err != nil {
		return err
	}
	if a.hsrv != nil {
		a.hsrv.Start()
	}

	if a.cfgm != nil {
		updates := a.cfgm.Subscribe(4)
		a.wg.Add(2)
		go func() {
			defer a.wg.Done()
			_ = a.cfgm.Watch(runCtx)
		}()
		go func() {
			defer a.wg.Done()
			for {
				select {
				case <-runCtx.Done():
					return
				case cfg, ok := <-updates:
					if !ok {
						return
					}
					a.applyConfig(cfg)
				}
			}
		}()
	}

	a.log.Info("started", logx.Int("reminders", a.store.Count()))
	return nil
}

// Stop drains the debounce queue, stops the scheduler, writes a final
// snapshot and closes the transport.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()
	if cancel == nil {
		return nil
	}

	if err := a.queue.Flush(ctx); err != nil {
		a.log.Warn("debounce flush incomplete", logx.Err(err))
	}
	a.queue.Close()
	a.sched.Stop(ctx)

	a.saveNow(ctx)

	cancel()
	a.wg.Wait()

	if a.hsrv != nil {
		a.hsrv.Stop(ctx)
	}
	if a.adapter != nil {
		_ = a.adapter.Close()
	}
	if a.persist != nil {
		_ = a.persist.Close()
	}
	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// applyConfig pushes hot-reloadable knobs into the running components.
// Transport credentials and the storage driver are boot-only.
func (a *App) applyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	dur, err := cfg.Reminders.Durations()
	if err != nil {
		a.log.Warn("config reload rejected", logx.Err(err))
		return
	}
	if a.logs != nil {
		a.logs.Apply(logx.Config{
			Level:   cfg.Logging.Level,
			Console: cfg.Logging.Console,
			File: logx.FileConfig{
				Enabled: cfg.Logging.File.Enabled,
				Path:    cfg.Logging.File.Path,
			},
		})
	}
	a.store.SetPolicy(reminder.Policy{MinInterval: dur.MinInterval, MaxInterval: dur.MaxInterval})
	a.queue.SetDelay(dur.DebounceDelay)

	retryBase, err1 := config.ParseDurationOrDefault("retry.base", cfg.Retry.Base, 500*time.Millisecond)
	retryMaxDelay, err2 := config.ParseDurationOrDefault("retry.max_delay", cfg.Retry.MaxDelay, 15*time.Second)
	if err1 == nil && err2 == nil {
		a.exec.Apply(retry.Options{
			MaxAttempts: cfg.Retry.MaxAttempts,
			Base:        retryBase,
			Factor:      cfg.Retry.Factor,
			MaxDelay:    retryMaxDelay,
			Jitter:      cfg.Retry.Jitter,
		})
	}
	a.sched.Apply(scheduler.Policy{
		SafetyMargin: dur.SafetyMargin,
		MinWait:      dur.MinWait,
		MaxWait:      dur.MaxWait,
		SafetyTick:   dur.SafetyTick,
	})
	a.log.Info("config applied")
}
