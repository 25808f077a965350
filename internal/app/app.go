// Package app wires the timer engine together: config, logging, storage,
// the durable scheduler, the registry, the expiry handler, the notifier
// and the chat transport.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tajmer/internal/config"
	"tajmer/internal/eventbus"
	"tajmer/internal/notifier"
	"tajmer/internal/schedule"
	"tajmer/internal/storage"
	"tajmer/internal/timer"
	"tajmer/internal/transport"
	"tajmer/internal/transport/console"
	"tajmer/internal/transport/telegram"
	logx "tajmer/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	logs *logx.Service
	log  logx.Logger

	bus   eventbus.Bus
	store storage.Store

	sched  *schedule.Service
	reg    *timer.Registry
	expiry *timer.ExpiryHandler
	notif  *notifier.Service

	adapter transport.Adapter
	updates chan transport.Update

	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		return config.Validate(c)
	})
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logs, log := logx.New(logConfig(cfg.Logging))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	bus := eventbus.New()

	store, err := storage.Open(storageConfig(cfg.Storage), log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	adapter, err := buildAdapter(cfg.Transport, log)
	if err != nil {
		return nil, err
	}

	ncfg, err := notifierConfig(cfg.Notifier)
	if err != nil {
		return nil, err
	}
	sink := &chatSink{adapter: adapter, chatID: cfg.Transport.Telegram.NotifyChat}
	notif := notifier.New(ncfg, sink, log.With(logx.String("comp", "notifier")), bus, store)

	// The scheduler fires into the expiry handler, which needs the registry,
	// which needs the scheduler. The handler pointer is filled in below;
	// nothing fires before Start.
	var expiry *timer.ExpiryHandler
	fire := func(ctx context.Context, p timer.Payload) {
		expiry.HandleExpiry(ctx, p)
	}

	reconcile, err := config.ParseDurationOrDefault("scheduler.reconcile_every", cfg.Scheduler.ReconcileEvery, time.Minute)
	if err != nil {
		return nil, err
	}
	sched := schedule.New(schedule.Config{ReconcileEvery: reconcile}, store, fire,
		log.With(logx.String("comp", "schedule")))

	reg := timer.NewRegistry(sched, bus, log.With(logx.String("comp", "registry")))
	expiry = timer.NewExpiryHandler(reg, notif, log.With(logx.String("comp", "expiry")))

	return &App{
		cfgm:    cfgm,
		logs:    logs,
		log:     log,
		bus:     bus,
		store:   store,
		sched:   sched,
		reg:     reg,
		expiry:  expiry,
		notif:   notif,
		adapter: adapter,
		updates: make(chan transport.Update, 64),
	}, nil
}

// Registry exposes the active-timer state for embedding callers.
func (a *App) Registry() *timer.Registry { return a.reg }

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel

	a.notif.Start(runCtx)

	if err := a.sched.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("start scheduler: %w", err)
	}

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		cancel()
		return fmt.Errorf("start transport: %w", err)
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.inboundLoop(runCtx)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(runCtx); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.reloadLoop(runCtx)
	}()

	a.log.Info("tajmer started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.runCancel != nil {
		a.runCancel()
	}
	_ = a.adapter.Stop(ctx)
	a.sched.Stop(ctx)
	a.notif.Stop(ctx)
	a.wg.Wait()

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
	}
	a.log.Info("tajmer stopped")
	return a.logs.Close()
}

// reloadLoop applies hot-reloadable sections of committed config updates.
func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(1)
	defer a.cfgm.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok || cfg == nil {
				return
			}
			a.logs.Apply(logConfig(cfg.Logging))
			if ncfg, err := notifierConfig(cfg.Notifier); err == nil {
				a.notif.Apply(ncfg)
			}
			a.log.Info("config applied")
		}
	}
}

func buildAdapter(cfg config.TransportConfig, log logx.Logger) (transport.Adapter, error) {
	switch cfg.DriverOrDefault() {
	case "console":
		return console.New(log.With(logx.String("comp", "console"))), nil
	case "telegram":
		pollTimeout, err := config.ParseDurationOrDefault("transport.telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		return telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			PollTimeout: pollTimeout,
		}, log.With(logx.String("comp", "telegram")))
	default:
		return nil, fmt.Errorf("unknown transport driver %q", cfg.Driver)
	}
}

// chatSink delivers notifications through the chat adapter.
type chatSink struct {
	adapter transport.Adapter
	chatID  int64
}

func (s *chatSink) Push(ctx context.Context, n notifier.Notification) error {
	return s.adapter.SendText(ctx, s.chatID, fmt.Sprintf("⏰ %s: %s", n.Title, n.Body))
}

func logConfig(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.ConsoleEnabled(),
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
	}
}

func storageConfig(c config.StorageConfig) storage.Config {
	busy, _ := config.ParseDurationField("storage.busy_timeout", c.BusyTimeout)
	return storage.Config{Driver: c.Driver, Path: c.Path, BusyTimeout: busy}
}

func notifierConfig(c config.NotifierConfig) (notifier.Config, error) {
	window, err := config.ParseDurationOrDefault("notifier.dedup_window", c.DedupWindow, time.Minute)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:      c.IsEnabled(),
		Workers:      c.Workers,
		QueueSize:    c.QueueSize,
		RatePerSec:   c.RatePerSec,
		DedupWindow:  window,
		PersistDedup: c.PersistDedup,
		FallbackBody: c.FallbackBody,
	}, nil
}
