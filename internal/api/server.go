// SPDX-License-Identifier: MIT

// Package api serves the daemon's JSON endpoints, probes and the dashboard
// WebSocket on a chi router.
package api

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/ManuGH/qtrader/internal/api/middleware"
	"github.com/ManuGH/qtrader/internal/cache"
	"github.com/ManuGH/qtrader/internal/config"
	"github.com/ManuGH/qtrader/internal/health"
	qlog "github.com/ManuGH/qtrader/internal/log"
	"github.com/ManuGH/qtrader/internal/services"
	"github.com/ManuGH/qtrader/internal/store"
	"github.com/ManuGH/qtrader/internal/stream"
)

var symbolPattern = regexp.MustCompile(`^[A-Z][A-Z0-9.\-]{0,15}$`)

// HistorySource serves persisted price history.
type HistorySource interface {
	PriceHistory(ctx context.Context, symbol string, since time.Time) ([]store.PricePoint, error)
}

// Deps are the components the handlers read from. Config and Store are
// required; the rest disable their endpoints when nil.
type Deps struct {
	Version    string
	Config     func() config.AppConfig
	Store      *store.Store
	MarketData *services.MarketDataService
	Portfolio  *services.PortfolioService
	Options    *services.OptionsService
	Alerts     *services.AlertsService
	Watchlist  *services.WatchlistService
	Hub        *stream.Hub
	Health     *health.Manager
	Cache      cache.Cache
	History    HistorySource
}

// Server owns the router.
type Server struct {
	deps     Deps
	validate *validator.Validate
	logger   zerolog.Logger
	router   chi.Router
}

func New(deps Deps) (*Server, error) {
	if deps.Config == nil || deps.Store == nil {
		return nil, fmt.Errorf("%w: config and store are required", ErrMissingDependency)
	}
	if deps.Health == nil {
		deps.Health = health.NewManager(deps.Version)
	}
	if deps.Cache == nil {
		deps.Cache = cache.NewMemoryCache(time.Minute)
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("symbol", func(fl validator.FieldLevel) bool {
		return symbolPattern.MatchString(fl.Field().String())
	}); err != nil {
		return nil, err
	}

	s := &Server{
		deps:     deps,
		validate: v,
		logger:   qlog.WithComponent("api"),
	}
	s.router = s.routes()
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	cfg := s.deps.Config()
	r := chi.NewRouter()
	middleware.Base(r)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", s.deps.Health.ServeHealth)
	r.Get("/readyz", s.deps.Health.ServeReady)
	if s.deps.Hub != nil {
		path := cfg.WebSocket.Path
		if path == "" {
			path = "/ws"
		}
		r.Handle(path, s.deps.Hub.Handler())
	}

	tracing := ""
	if cfg.Telemetry.Enabled {
		tracing = cfg.Telemetry.ServiceName
	}
	r.Group(func(r chi.Router) {
		middleware.ApplyStack(r, middleware.StackConfig{
			TracingService:  tracing,
			EnableMetrics:   true,
			EnableLogging:   true,
			RateLimitPerMin: cfg.API.RateLimitPerMin,
		})

		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/status", s.handleStatus)
			r.Get("/dashboard", s.handleDashboard)
			r.Get("/statistics", s.handleStatistics)
			r.Get("/config", s.handleConfig)

			r.Get("/portfolio", s.handlePortfolio)
			r.Get("/accounts/{id}", s.handleAccount)
			r.Get("/accounts/{id}/positions/{symbol}", s.handlePosition)
			r.With(middleware.RefreshRateLimit()).Post("/accounts/{id}/refresh", s.handleAccountRefresh)

			// Option keys contain slashes (expiry MM/DD/YYYY).
			r.Get("/options", s.handleOptions)
			r.Get("/options/*", s.handleOption)

			r.Get("/alerts", s.handleAlerts)
			r.Post("/alerts/{id}/ack", s.handleAlertAck)

			r.Get("/market", s.handleMarket)
			r.Post("/market/subscriptions", s.handleSubscriptions)
			r.With(middleware.RefreshRateLimit()).Post("/market/retry", s.handleMarketRetry)
			r.With(middleware.RefreshRateLimit()).Post("/market/reset", s.handleMarketReset)
			r.Get("/market/{symbol}", s.handleMarketSymbol)
			r.With(middleware.RefreshRateLimit()).Post("/market/{symbol}/refresh", s.handleMarketRefresh)

			r.Get("/watchlist", s.handleWatchlist)
			r.Put("/watchlist", s.handleWatchlistUpdate)
		})
	})
	return r
}
