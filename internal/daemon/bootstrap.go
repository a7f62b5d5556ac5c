// SPDX-License-Identifier: MIT

// Package daemon provides the core daemon bootstrapping and lifecycle management.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ManuGH/qtrader/internal/api"
	"github.com/ManuGH/qtrader/internal/broker"
	"github.com/ManuGH/qtrader/internal/cache"
	"github.com/ManuGH/qtrader/internal/config"
	"github.com/ManuGH/qtrader/internal/health"
	qlog "github.com/ManuGH/qtrader/internal/log"
	"github.com/ManuGH/qtrader/internal/persistence/sqlite"
	"github.com/ManuGH/qtrader/internal/services"
	"github.com/ManuGH/qtrader/internal/store"
	"github.com/ManuGH/qtrader/internal/stream"
	"github.com/ManuGH/qtrader/internal/telemetry"
)

const cacheJanitorInterval = time.Minute

// Components are the long-lived parts of a running daemon.
type Components struct {
	Version string
	Config  *config.ConfigHolder

	Store     *store.Store
	Repo      *sqlite.Repository // nil when storage is disabled
	Cache     cache.Cache
	Redis     *cache.RedisCache // nil when redis.addr is empty
	Telemetry *telemetry.Provider

	Session    *broker.Session
	MarketData *services.MarketDataService
	Portfolio  *services.PortfolioService
	Options    *services.OptionsService
	Alerts     *services.AlertsService
	Watchlist  *services.WatchlistService
	Hub        *stream.Hub

	Health *health.Manager
	API    *api.Server
}

// Build wires every component from the current config. Nothing is started;
// on error the resources opened so far are released.
func Build(ctx context.Context, holder *config.ConfigHolder, version string) (_ *Components, err error) {
	if holder == nil {
		return nil, ErrMissingConfig
	}
	cfg := holder.Get()
	logger := qlog.WithComponent("daemon")

	c := &Components{Version: version, Config: holder}
	defer func() {
		if err != nil {
			c.release(context.WithoutCancel(ctx))
		}
	}()

	telCfg := telemetry.FromAppConfig(cfg)
	telCfg.ServiceVersion = version
	if c.Telemetry, err = telemetry.NewProvider(ctx, telCfg); err != nil {
		// Tracing is optional; run without it.
		logger.Warn().Err(err).Str(qlog.FieldEvent, "telemetry.init_failed").Msg("telemetry initialization failed, continuing without tracing")
		c.Telemetry, err = nil, nil
	}

	var persister store.Persister
	if cfg.Storage.Enabled {
		c.Repo, err = sqlite.OpenRepository(cfg.StoragePath(), sqlite.ConfigFrom(cfg.Storage))
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		persister = c.Repo
		logger.Info().Str("path", cfg.StoragePath()).Msg("storage opened")
	}

	if cfg.Redis.Addr != "" {
		c.Redis, err = cache.NewRedisCache(ctx, cfg.Redis, qlog.WithComponent("cache"))
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		c.Cache = c.Redis
	} else {
		c.Cache = cache.NewMemoryCache(cacheJanitorInterval)
	}

	c.Store = store.New(store.Options{
		MaxAlerts:   cfg.Alerts.MaxAlerts,
		HistorySize: cfg.Data.CacheSize,
		AlertExpiry: cfg.Alerts.Expiry,
		Persister:   persister,
	})

	c.Session = broker.NewSession(cfg, c.Store)
	c.MarketData = services.NewMarketDataService(c.Session, c.Store, cfg)
	c.Portfolio = services.NewPortfolioService(c.Session, c.Store, cfg)
	c.Options = services.NewOptionsService(c.Session, c.Store, cfg)
	c.Alerts = services.NewAlertsService(c.Store, cfg)
	if cfg.Watchlist.Enabled {
		c.Watchlist = services.NewWatchlistService(c.Session, c.Store, cfg)
	}

	hubOpts := stream.Options{
		Store:        c.Store,
		Subscriber:   c.MarketData,
		Acknowledger: c.Alerts,
		Interval:     cfg.Data.UpdateFrequency,
		Config:       cfg.WebSocket,
	}
	if c.Redis != nil {
		hubOpts.Publisher = c.Redis
		hubOpts.Channel = cfg.Redis.DashboardChannel
	}
	c.Hub = stream.NewHub(hubOpts)

	c.Health = newHealthManager(cfg, version, c)

	deps := api.Deps{
		Version:    version,
		Config:     holder.Get,
		Store:      c.Store,
		MarketData: c.MarketData,
		Portfolio:  c.Portfolio,
		Options:    c.Options,
		Alerts:     c.Alerts,
		Watchlist:  c.Watchlist,
		Hub:        c.Hub,
		Health:     c.Health,
		Cache:      c.Cache,
	}
	if c.Repo != nil {
		deps.History = c.Repo
	}
	if c.API, err = api.New(deps); err != nil {
		return nil, fmt.Errorf("build api: %w", err)
	}
	return c, nil
}

func newHealthManager(cfg config.AppConfig, version string, c *Components) *health.Manager {
	hm := health.NewManager(version)
	hm.RegisterCritical(health.NewBrokerChecker(c.Session.Connected))
	stale := cfg.Alerts.Thresholds.StaleMarketData
	if stale <= 0 {
		stale = 5 * time.Minute
	}
	hm.RegisterChecker(health.NewFreshnessChecker(c.Store.LastMarketUpdate, c.Store.Now, stale))
	if c.Repo != nil {
		hm.RegisterCritical(health.NewPingChecker("storage", c.Repo.Ping))
	}
	hm.RegisterChecker(health.NewPingChecker("cache", c.Cache.Ping))
	if cfg.Watchlist.Enabled && cfg.Watchlist.File != "" {
		hm.RegisterChecker(health.NewFileChecker("watchlist", cfg.Watchlist.File))
	}
	return hm
}

// Services returns the background loops in start order.
func (c *Components) Services() []services.Service {
	out := []services.Service{c.MarketData, c.Portfolio, c.Options, c.Alerts}
	if c.Watchlist != nil {
		out = append(out, c.Watchlist)
	}
	return out
}

// ManagerDeps returns the server dependencies for NewManager.
func (c *Components) ManagerDeps(cfg config.AppConfig, logger zerolog.Logger) Deps {
	d := Deps{
		Logger:     logger,
		APIHandler: c.API.Handler(),
	}
	if cfg.API.MetricsListenAddr != "" {
		d.MetricsHandler = metricsMux()
		d.MetricsAddr = cfg.API.MetricsListenAddr
	}
	return d
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// RegisterShutdownHooks hands resource cleanup to m. Hooks run LIFO, so
// telemetry flushes last.
func (c *Components) RegisterShutdownHooks(m Manager) {
	if c.Telemetry != nil {
		m.RegisterShutdownHook("telemetry", c.Telemetry.Shutdown)
	}
	if c.Repo != nil {
		m.RegisterShutdownHook("storage", func(context.Context) error { return c.Repo.Close() })
	}
	if c.Cache != nil {
		m.RegisterShutdownHook("cache", func(context.Context) error { return c.Cache.Close() })
	}
	m.RegisterShutdownHook("config_watcher", func(context.Context) error {
		c.Config.Stop()
		return nil
	})
}

// release closes what Build opened. Used when Build fails part way.
func (c *Components) release(ctx context.Context) {
	var errs []error
	if c.Cache != nil {
		errs = append(errs, c.Cache.Close())
	}
	if c.Repo != nil {
		errs = append(errs, c.Repo.Close())
	}
	if c.Telemetry != nil {
		errs = append(errs, c.Telemetry.Shutdown(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		logger := qlog.WithComponent("daemon")
		logger.Warn().Err(err).Msg("release after failed build")
	}
}
