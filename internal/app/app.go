// Package app wires configuration, storage, the pipeline and its triggers
// into the three run modes: one-shot, HTTP-only and daemon.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"kvpush/internal/adslots"
	"kvpush/internal/config"
	"kvpush/internal/dedup"
	"kvpush/internal/eventbus"
	"kvpush/internal/format"
	"kvpush/internal/metrics"
	"kvpush/internal/pipeline"
	"kvpush/internal/runtime/supervisor"
	"kvpush/internal/scheduler"
	"kvpush/internal/server"
	"kvpush/internal/source"
	"kvpush/internal/storage"
	"kvpush/internal/transport"
	"kvpush/internal/transport/telegram"
	logx "kvpush/pkg/logx"
)

type Options struct {
	ConfigPath string
	Version    string
	// Getenv replaces os.Getenv for config overrides and env-backed ad slots.
	Getenv func(string) string
	// Delivery replaces the Telegram client.
	Delivery transport.Deliverer
	// Store replaces the configured storage backend.
	Store storage.Store
}

type App struct {
	opt  Options
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service

	store     storage.Store
	bus       eventbus.Bus
	metrics   *metrics.Metrics
	delivered *dedup.Set
	live      *liveDeps
	pipe      *pipeline.Orchestrator
	ads       *adslots.Service
	srv       *server.Server
	sched     atomic.Pointer[scheduler.Service]
}

func New(opt Options) (*App, error) {
	if opt.Getenv == nil {
		opt.Getenv = os.Getenv
	}
	if opt.Version == "" {
		opt.Version = "dev"
	}
	cfgm := config.NewManager(opt.ConfigPath)
	cfgm.SetEnv(opt.Getenv)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(mapLogConfig(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{opt: opt, cfgm: cfgm, log: log.With(logx.String("comp", "app")), logs: logs}

	store := opt.Store
	if store == nil {
		sc, err := mapStorageConfig(cfg)
		if err != nil {
			_ = logs.Close()
			return nil, err
		}
		if store, err = storage.Open(sc, log); err != nil {
			_ = logs.Close()
			return nil, fmt.Errorf("open storage: %w", err)
		}
	}
	a.store = store

	delivery, err := a.buildDelivery(cfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.live = &liveDeps{}
	a.live.set(
		source.New(mapSourceOptions(cfg, opt.Version), log),
		format.New(cfg.Site.BaseURL, mapLabels(cfg), cfg.Telegram.DisablePreview),
		delivery,
	)

	a.bus = eventbus.New()
	a.metrics = metrics.New()
	a.delivered = dedup.New(store, cfg.Dedup.Key, cfg.Dedup.Cap, log)
	a.pipe = pipeline.New(pipeline.Deps{
		Source:    a.live,
		Formatter: a.live,
		Delivery:  a.live,
		Delivered: a.delivered,
		Bus:       a.bus,
	}, mapPipelineOptions(cfg), log)

	var adSrc adslots.Source
	if cfg.Ads.Source == "env" {
		adSrc = adslots.NewEnvSource(opt.Getenv)
	} else {
		adSrc = adslots.NewStoreSource(store, cfg.Ads.Key)
	}
	a.ads = adslots.NewService(adSrc, log)
	a.srv = server.New(mapServerOptions(cfg), server.Deps{
		Runner:  a.pipe,
		Ads:     a.ads,
		Metrics: a.metrics,
		Status:  a.status,
	}, log)

	cfgm.SetValidator(func(_ context.Context, next *config.Config) error {
		if !next.Pipeline.DryRun && a.opt.Delivery == nil {
			if _, err := telegram.New(mapTelegramConfig(next), logx.Nop()); err != nil {
				return fmt.Errorf("telegram: %w", err)
			}
		}
		if tz := strings.TrimSpace(next.Scheduler.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
			}
		}
		_, err := scheduler.ParseSchedule(next.Scheduler.Schedule)
		return err
	})
	return a, nil
}

// buildDelivery returns the Telegram client, or a discarding one for dry
// runs without credentials.
func (a *App) buildDelivery(cfg *config.Config) (transport.Deliverer, error) {
	if a.opt.Delivery != nil {
		return a.opt.Delivery, nil
	}
	if cfg.Pipeline.DryRun && strings.TrimSpace(cfg.Telegram.Token) == "" {
		return transport.Discard, nil
	}
	c, err := telegram.New(mapTelegramConfig(cfg), a.log)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return c, nil
}

func (a *App) Logger() logx.Logger { return a.log }

func (a *App) Config() *config.Config { return a.cfgm.Get() }

// Handler exposes the HTTP surface without listening.
func (a *App) Handler() http.Handler { return a.srv.Handler() }

// RunOnce performs a single pass and returns its report.
func (a *App) RunOnce(ctx context.Context) (pipeline.Report, error) {
	return a.pipe.Run(ctx, "cli")
}

// Serve runs the HTTP surface only, until ctx is done.
func (a *App) Serve(ctx context.Context) error {
	sup := supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.startCommon(sup)
	sup.Go("http", a.srv.Start)
	<-sup.Context().Done()
	return a.shutdown(sup)
}

// Daemon runs the scheduler, the HTTP surface (when enabled) and config hot
// reload until ctx is done or a component fails.
func (a *App) Daemon(ctx context.Context) error {
	cfg := a.cfgm.Get()
	sup := supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.startCommon(sup)

	if cfg.Scheduler.Enabled {
		sched, err := scheduler.New(mapSchedulerConfig(cfg), a.scheduledRun, a.log)
		if err != nil {
			sup.Cancel()
			_ = a.shutdown(sup)
			return err
		}
		a.sched.Store(sched)
		sup.Go("scheduler", func(ctx context.Context) error {
			if err := sched.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			sched.Stop(stopCtx)
			return nil
		})
	} else {
		a.log.Info("scheduler disabled")
	}
	if cfg.HTTP.Enabled {
		sup.Go("http", a.srv.Start)
	}
	if a.cfgm.Path() != "" {
		sup.GoRestart("config.watch", a.cfgm.Watch)
		sup.Go("config.reload", a.reloadLoop)
	}
	sup.Go("systemd.watchdog", func(ctx context.Context) error { return watchdog(ctx, a.log) })

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("daemon started",
		logx.Bool("scheduler", cfg.Scheduler.Enabled),
		logx.Bool("http", cfg.HTTP.Enabled),
		logx.String("storage", cfg.Storage.Driver),
	)
	<-sup.Context().Done()
	sdNotify(a.log, daemon.SdNotifyStopping)
	return a.shutdown(sup)
}

// status feeds /healthz.
func (a *App) status() map[string]any {
	st := map[string]any{"delivered_ids": a.delivered.Len()}
	if sched := a.sched.Load(); sched != nil {
		if next := sched.Next(); !next.IsZero() {
			st["next_run"] = next
		}
	}
	return st
}

func (a *App) startCommon(sup *supervisor.Supervisor) {
	sup.Go("metrics", func(ctx context.Context) error { return a.metrics.Consume(ctx, a.bus) })
	events, unsub := a.bus.Subscribe(64)
	sup.Go("eventbus.log", func(ctx context.Context) error {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})
}

func (a *App) shutdown(sup *supervisor.Supervisor) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := sup.Stop(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.log.Error("stopped with error", logx.Err(err))
		return err
	}
	a.log.Info("stopped")
	return nil
}

func (a *App) scheduledRun(ctx context.Context) {
	rep, err := a.pipe.Run(ctx, "cron")
	if errors.Is(err, pipeline.ErrRunInProgress) {
		a.log.Warn("scheduled run skipped; another run is in progress")
		return
	}
	a.log.Info("scheduled run finished",
		logx.Bool("success", rep.Success),
		logx.Int("pushed", rep.Pushed),
		logx.Int("total", rep.Total),
		logx.Int64("took_ms", rep.TookMS),
	)
}

// Close releases storage and log sinks.
func (a *App) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.logs != nil {
		errs = append(errs, a.logs.Close())
	}
	return errors.Join(errs...)
}
