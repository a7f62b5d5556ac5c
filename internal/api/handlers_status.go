// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"time"

	"github.com/ManuGH/qtrader/internal/cache"
	"github.com/ManuGH/qtrader/internal/format"
	"github.com/ManuGH/qtrader/internal/services"
	"github.com/ManuGH/qtrader/internal/store"
	"github.com/ManuGH/qtrader/internal/stream"
)

const dashboardCacheKey = "dashboard:v1"

type statusResponse struct {
	Running       bool            `json:"running"`
	Version       string          `json:"version"`
	UptimeSeconds float64         `json:"uptime_seconds"`
	StartTime     time.Time       `json:"start_time"`
	IBKRConnected bool            `json:"ibkr_connected"`
	Websocket     *stream.Stats   `json:"websocket_stats,omitempty"`
	Data          store.Stats     `json:"data_stats"`
	Services      map[string]bool `json:"services"`
	Cache         cache.Stats     `json:"cache"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.deps.Store
	uptime := st.Uptime()
	resp := statusResponse{
		Running:       true,
		Version:       s.deps.Version,
		UptimeSeconds: format.SafeFloat(uptime.Seconds(), 1),
		StartTime:     st.Now().Add(-uptime).UTC(),
		IBKRConnected: st.SystemStatus().IBKRConnected,
		Data:          st.Statistics(),
		Services:      s.serviceStates(),
		Cache:         s.deps.Cache.Stats(),
	}
	if s.deps.Hub != nil {
		hs := s.deps.Hub.Stats()
		resp.Websocket = &hs
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) serviceStates() map[string]bool {
	out := map[string]bool{}
	add := func(name string, on interface{ Running() bool }) {
		out[name] = on.Running()
	}
	if s.deps.MarketData != nil {
		add("market_data", s.deps.MarketData)
	}
	if s.deps.Portfolio != nil {
		add("portfolio", s.deps.Portfolio)
	}
	if s.deps.Options != nil {
		add("options", s.deps.Options)
	}
	if s.deps.Alerts != nil {
		add("alerts", s.deps.Alerts)
	}
	if s.deps.Watchlist != nil {
		add("watchlist", s.deps.Watchlist)
	}
	if s.deps.Hub != nil {
		add("websocket", s.deps.Hub)
	}
	return out
}

// handleDashboard serves the formatted dashboard from the cache. Entries live
// for one update interval so REST polling matches the stream cadence.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var payload format.DashboardData
	hit, err := cache.GetJSON(ctx, s.deps.Cache, dashboardCacheKey, &payload)
	if err != nil {
		s.logger.Debug().Err(err).Msg("discarding unreadable cached dashboard")
	}
	if !hit || err != nil {
		payload = format.DashboardPayload(s.deps.Store.Dashboard())
		ttl := s.deps.Config().Data.UpdateFrequency
		if err := cache.SetJSON(ctx, s.deps.Cache, dashboardCacheKey, payload, ttl); err != nil {
			s.logger.Warn().Err(err).Msg("cache dashboard")
		}
		w.Header().Set("X-Cache", "MISS")
	} else {
		w.Header().Set("X-Cache", "HIT")
	}
	writeJSON(w, http.StatusOK, payload)
}

type statisticsResponse struct {
	Store      store.Stats               `json:"store"`
	MarketData *services.MarketDataStats `json:"market_data,omitempty"`
	Portfolio  *services.PortfolioStats  `json:"portfolio,omitempty"`
	Options    *services.OptionsSummary  `json:"options,omitempty"`
	Alerts     *services.AlertsSummary   `json:"alerts,omitempty"`
	Services   map[string]bool           `json:"services"`
}

func (s *Server) handleStatistics(w http.ResponseWriter, _ *http.Request) {
	resp := statisticsResponse{Store: s.deps.Store.Statistics(), Services: s.serviceStates()}
	if s.deps.MarketData != nil {
		v := s.deps.MarketData.Stats()
		resp.MarketData = &v
	}
	if s.deps.Portfolio != nil {
		v := s.deps.Portfolio.Stats()
		resp.Portfolio = &v
	}
	if s.deps.Options != nil {
		v := s.deps.Options.Summary()
		resp.Options = &v
	}
	if s.deps.Alerts != nil {
		v := s.deps.Alerts.Summary()
		resp.Alerts = &v
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Config().Redacted())
}
