// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/qtrader/internal/config"
	qlog "github.com/ManuGH/qtrader/internal/log"
	"github.com/ManuGH/qtrader/internal/metrics"
)

const housekeepingInterval = 10 * time.Minute

// App owns the long-lived runtime lifecycle (watchers, reload wiring,
// background services) and delegates server management to Manager.
type App struct {
	logger       zerolog.Logger
	manager      Manager
	components   *Components
	reloadSignal os.Signal
	housekeeping time.Duration
}

// NewApp creates a new App orchestrator.
func NewApp(logger zerolog.Logger, manager Manager, components *Components) *App {
	return &App{
		logger:       logger,
		manager:      manager,
		components:   components,
		reloadSignal: syscall.SIGHUP,
		housekeeping: housekeepingInterval,
	}
}

// Run starts all owned background subsystems and blocks until ctx is
// cancelled or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}
	if a.components == nil || a.components.Config == nil {
		return ErrMissingConfig
	}
	c := a.components
	holder := c.Config

	g, ctx := errgroup.WithContext(ctx)
	// Background loops must stop before the servers: the manager's shutdown
	// hooks close storage and cache.
	bg, bgCtx := errgroup.WithContext(ctx)
	serverCtx, stopServers := context.WithCancel(context.WithoutCancel(ctx))
	defer stopServers()

	// Config watcher is best-effort: startup should not fail if watcher cannot be started.
	if err := holder.StartWatcher(bgCtx); err != nil {
		a.logger.Warn().Err(err).Str(qlog.FieldEvent, "config.watcher_start_failed").Msg("failed to start config watcher")
	}

	applyCh := make(chan config.AppConfig, 1)
	holder.RegisterListener(applyCh)
	bg.Go(func() error {
		for {
			select {
			case <-bgCtx.Done():
				return nil
			case cfg := <-applyCh:
				a.apply(cfg)
			}
		}
	})

	if a.reloadSignal != nil {
		hupChan := make(chan os.Signal, 1)
		signal.Notify(hupChan, a.reloadSignal)
		bg.Go(func() error {
			defer signal.Stop(hupChan)

			for {
				select {
				case <-bgCtx.Done():
					return nil
				case <-hupChan:
					a.logger.Info().
						Str(qlog.FieldEvent, "config.reload_signal").
						Str("signal", a.reloadSignal.String()).
						Msg("received reload signal, reloading config")

					if err := holder.Reload(bgCtx); err != nil {
						metrics.RecordConfigReload("failure")
						a.logger.Warn().
							Err(err).
							Str(qlog.FieldEvent, "config.reload_failed").
							Msg("config reload failed")
					}
				}
			}
		})
	}

	bg.Go(func() error {
		if delay := holder.Get().StartupDelay; delay > 0 {
			a.logger.Info().Dur("delay", delay).Msg("delaying gateway connect")
			select {
			case <-bgCtx.Done():
				return nil
			case <-time.After(delay):
			}
		}
		return c.Session.Run(bgCtx)
	})

	for _, svc := range c.Services() {
		bg.Go(func() error { return svc.Run(bgCtx) })
	}
	bg.Go(func() error { return c.Hub.Run(bgCtx) })
	bg.Go(func() error {
		a.runHousekeeping(bgCtx)
		return nil
	})

	g.Go(func() error {
		defer stopServers()
		return bg.Wait()
	})

	// Main server lifecycle.
	g.Go(func() error {
		err := a.manager.Start(serverCtx)
		if err != nil {
			_ = a.manager.Shutdown(context.Background())
		}
		return err
	})

	return g.Wait()
}

// apply pushes the live-reloadable settings of cfg into running components.
func (a *App) apply(cfg config.AppConfig) {
	if cfg.LogLevel != "" {
		if err := qlog.SetLevel(cfg.LogLevel); err != nil {
			a.logger.Warn().Err(err).Str("level", cfg.LogLevel).Msg("ignoring invalid log level")
		}
	}
	a.components.Alerts.SetThresholds(cfg.Alerts.Thresholds)
	metrics.RecordConfigReload("success")
	a.logger.Info().
		Str(qlog.FieldEvent, "config.applied").
		Str("log_level", cfg.LogLevel).
		Msg("applied reloaded config")
}

// runHousekeeping expires alerts and trims in-memory and persisted history
// past the retention window.
func (a *App) runHousekeeping(ctx context.Context) {
	ticker := time.NewTicker(a.housekeeping)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.housekeep(ctx)
		}
	}
}

func (a *App) housekeep(ctx context.Context) {
	c := a.components
	retention := time.Duration(c.Config.Get().Data.HistoryRetentionDays) * 24 * time.Hour
	expired := c.Store.ClearExpiredAlerts()
	removed := 0
	if retention > 0 {
		removed = c.Store.Cleanup(retention)
	}
	ev := a.logger.Debug().
		Str(qlog.FieldEvent, "daemon.housekeeping").
		Int("expired_alerts", expired).
		Int("removed_alerts", removed)
	if c.Repo != nil && retention > 0 {
		pruned, err := c.Repo.Prune(ctx, c.Store.Now().Add(-retention))
		if err != nil {
			a.logger.Warn().Err(err).Msg("storage prune failed")
		}
		ev = ev.Int64("pruned_rows", pruned)
	}
	ev.Msg("housekeeping done")
}
