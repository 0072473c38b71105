// Package app wires configuration, storage, preferences, routing, the
// delivery orchestrator, and the Telegram adapter into one runnable
// daemon.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"zepixnotify/internal/config"
	"zepixnotify/internal/eventbus"
	"zepixnotify/internal/metrics"
	"zepixnotify/internal/notify"
	"zepixnotify/internal/prefs"
	"zepixnotify/internal/route"
	"zepixnotify/internal/runtime/supervisor"
	"zepixnotify/internal/storage"
	"zepixnotify/internal/summary"
	"zepixnotify/internal/transport/telegram"
	"zepixnotify/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	store     storage.Store
	gate      *prefs.Gate
	router    *route.Router
	bus       eventbus.Bus
	recorder  *metrics.Recorder
	orch      *notify.Orchestrator
	adapter   *telegram.Adapter
	summaries *summary.Scheduler

	sup *supervisor.Supervisor
}

func New(cfgPath string) (*App, error) {
	cfgMgr := config.NewManager(cfgPath)
	cfg, err := cfgMgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	cfgMgr.SetLogger(log.With(logx.String("component", "config")))

	a := &App{cfgMgr: cfgMgr, logSvc: logSvc, log: log}

	if cfg.Storage != nil {
		st, err := storage.Open(storage.Config{Driver: cfg.Storage.Driver, Path: cfg.Storage.Path})
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		a.store = st
	}

	a.gate = prefs.NewGate(a.store, log.With(logx.String("component", "prefs")))

	rcfg, err := routerConfig(cfg.Router)
	if err != nil {
		return nil, err
	}
	a.router = route.New(rcfg, a.gate, log.With(logx.String("component", "router")))

	a.bus = eventbus.New()
	if cfg.Metrics.Enabled {
		a.recorder = metrics.NewRecorder()
	}

	pollTimeout, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	if err != nil {
		return nil, err
	}
	a.adapter, err = telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
		Chats: map[string]int64{
			notify.DestController:   cfg.Telegram.ControllerChat,
			notify.DestNotification: cfg.Telegram.NotificationChat,
			notify.DestAnalytics:    cfg.Telegram.AnalyticsChat,
		},
	}, log.With(logx.String("component", "telegram")))
	if err != nil {
		return nil, fmt.Errorf("telegram adapter: %w", err)
	}

	ocfg, err := orchestratorConfig(cfg.Delivery)
	if err != nil {
		return nil, err
	}
	retry, err := retryPolicy(cfg.Retry)
	if err != nil {
		return nil, err
	}

	deps := notify.Deps{
		Planner:   a.router,
		Limiter:   notify.NewLimiter(limiterConfig(cfg.RateLimit)),
		Retry:     retry,
		Transport: a.adapter.Send,
		Render:    Render,
		Voice:     a.adapter.Voice,
		Bus:       a.bus,
		Log:       log.With(logx.String("component", "delivery")),
	}
	if a.recorder != nil {
		deps.Recorder = a.recorder
	}
	a.orch, err = notify.NewOrchestrator(ocfg, deps)
	if err != nil {
		return nil, err
	}

	a.adapter.EnableCommands(a.gate, a.orch.GetStats, a.orch.GetHistory)

	if cfg.Summaries.Enabled {
		a.summaries, err = summary.New(summary.Config{
			Daily:    cfg.Summaries.Daily,
			Weekly:   cfg.Summaries.Weekly,
			Timezone: cfg.Summaries.Timezone,
		}, a.orch, summary.DeliveryStatsPayload(a.orch.GetStats), log.With(logx.String("component", "summary")))
		if err != nil {
			return nil, err
		}
	}

	return a, nil
}

// Orchestrator exposes the delivery pipeline to embedding hosts.
func (a *App) Orchestrator() *notify.Orchestrator { return a.orch }
func (a *App) Gate() *prefs.Gate                  { return a.gate }
func (a *App) Bus() eventbus.Bus                  { return a.bus }

func (a *App) Start(ctx context.Context) error {
	if err := a.gate.Load(ctx); err != nil {
		return err
	}

	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))
	a.orch.Start(ctx)

	a.sup.Go("config-watch", a.cfgMgr.Watch)
	updates := a.cfgMgr.Subscribe(1)
	a.sup.Go("config-apply", func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				a.cfgMgr.Unsubscribe(updates)
				return nil
			case cfg, ok := <-updates:
				if !ok {
					return nil
				}
				a.applyConfig(cfg)
			}
		}
	})

	if a.recorder != nil {
		addr := ""
		if cfg := a.cfgMgr.Get(); cfg != nil {
			addr = cfg.Metrics.Addr
		}
		a.sup.Go("metrics", func(ctx context.Context) error {
			return a.recorder.Serve(ctx, addr, a.log.With(logx.String("component", "metrics")))
		})
	}

	a.sup.Go("telegram-poller", func(ctx context.Context) error {
		a.adapter.Start(ctx)
		return nil
	})

	if a.summaries != nil {
		a.summaries.Start()
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("notifyd started")
	return nil
}

// applyConfig pushes hot-reloadable settings into live components.
// Telegram credentials, storage driver, and rate-limit windows need a
// restart and are left untouched.
func (a *App) applyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	a.logSvc.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	ocfg, err := orchestratorConfig(cfg.Delivery)
	if err != nil {
		a.log.Warn("delivery config not applied", logx.Err(err))
		return
	}
	a.orch.Apply(ocfg)
	a.log.Info("runtime config applied")
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	if a.summaries != nil {
		a.summaries.Stop()
	}
	a.orch.Stop(ctx)
	if a.sup != nil {
		gctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if ok := a.sup.Stop(gctx); !ok {
			a.log.Warn("background tasks did not stop in time")
		}
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	a.log.Info("notifyd stopped")
	return a.logSvc.Close()
}

func orchestratorConfig(d config.DeliveryConfig) (notify.Config, error) {
	var (
		cfg notify.Config
		err error
	)
	cfg.QueueCapacity = d.QueueCapacity
	cfg.HistorySize = d.HistorySize
	cfg.VoicePerSec = d.VoicePerSec
	if cfg.EntryTTL, err = config.ParseDurationField("delivery.entry_ttl", d.EntryTTL); err != nil {
		return cfg, err
	}
	if cfg.DrainPoll, err = config.ParseDurationField("delivery.drain_poll", d.DrainPoll); err != nil {
		return cfg, err
	}
	if cfg.RateWaitTimeout, err = config.ParseDurationField("delivery.rate_wait_timeout", d.RateWaitTimeout); err != nil {
		return cfg, err
	}
	if cfg.RequeueDelay, err = config.ParseDurationField("delivery.requeue_delay", d.RequeueDelay); err != nil {
		return cfg, err
	}
	if cfg.ImmediateRateWait, err = config.ParseDurationField("delivery.immediate_rate_wait", d.ImmediateRateWait); err != nil {
		return cfg, err
	}
	if cfg.SendTimeout, err = config.ParseDurationField("delivery.send_timeout", d.SendTimeout); err != nil {
		return cfg, err
	}
	if cfg.StopGrace, err = config.ParseDurationField("delivery.stop_grace", d.StopGrace); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func limiterConfig(r config.RateLimitConfig) notify.LimiterConfig {
	return notify.LimiterConfig{
		PerSecond:            r.PerSecond,
		PerMinute:            r.PerMinute,
		DestinationPerMinute: r.DestinationPerMinute,
		PerDestination:       r.PerDestination,
	}
}

func retryPolicy(r config.RetryConfig) (*notify.RetryPolicy, error) {
	p := notify.NewRetryPolicy()
	if r.MaxAttempts > 0 {
		p.MaxAttempts = r.MaxAttempts
	}
	if r.Exponential > 0 {
		p.ExponentialBase = r.Exponential
	}
	if r.Jitter > 0 {
		p.Jitter = r.Jitter
	}
	base, err := config.ParseDurationField("retry.base", r.Base)
	if err != nil {
		return nil, err
	}
	if base > 0 {
		p.BaseDelay = base
	}
	maxDelay, err := config.ParseDurationField("retry.max_delay", r.MaxDelay)
	if err != nil {
		return nil, err
	}
	if maxDelay > 0 {
		p.MaxDelay = maxDelay
	}
	return p, nil
}

func routerConfig(r config.RouterConfig) (route.Config, error) {
	cfg := route.Config{}
	for _, id := range r.DefaultRecipients {
		cfg.DefaultRecipients = append(cfg.DefaultRecipients, notify.RecipientID(id))
	}
	if len(r.PriorityOverrides) > 0 {
		cfg.PriorityOverrides = map[notify.Category]notify.Priority{}
		for cat, name := range r.PriorityOverrides {
			p, err := notify.ParsePriority(name)
			if err != nil {
				return cfg, fmt.Errorf("router.priority_overrides[%s]: %w", cat, err)
			}
			cfg.PriorityOverrides[notify.Category(cat)] = p
		}
	}
	if len(r.DestinationOverrides) > 0 {
		cfg.DestinationOverrides = map[notify.Category]string{}
		for cat, dest := range r.DestinationOverrides {
			switch dest {
			case notify.DestController, notify.DestNotification, notify.DestAnalytics, notify.DestBroadcast:
			default:
				return cfg, fmt.Errorf("router.destination_overrides[%s]: unknown destination %q", cat, dest)
			}
			cfg.DestinationOverrides[notify.Category(cat)] = dest
		}
	}
	return cfg, nil
}
