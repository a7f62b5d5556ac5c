// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	qlog "github.com/ManuGH/qtrader/internal/log"
	"github.com/ManuGH/qtrader/internal/model"
	"github.com/ManuGH/qtrader/internal/services"
	"github.com/ManuGH/qtrader/internal/store"
)

const (
	defaultHistoryPoints = 100
	maxHistoryPoints     = 5000
)

type marketResponse struct {
	MarketData    map[string]model.MarketData `json:"market_data"`
	Subscriptions *services.MarketDataStatus  `json:"subscriptions,omitempty"`
}

func (s *Server) handleMarket(w http.ResponseWriter, _ *http.Request) {
	resp := marketResponse{MarketData: s.deps.Store.AllMarketData()}
	if s.deps.MarketData != nil {
		st := s.deps.MarketData.Status()
		resp.Subscriptions = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

type symbolResponse struct {
	MarketData model.MarketData   `json:"market_data"`
	History    []store.PricePoint `json:"history"`
	Source     string             `json:"history_source"`
}

// handleMarketSymbol returns the latest quote with recent history. ?since
// (RFC 3339 or a duration such as 24h) reads persisted history; otherwise
// ?points selects the in-memory tail.
func (s *Server) handleMarketSymbol(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(chi.URLParam(r, "symbol"))
	r = r.WithContext(qlog.ContextWithSymbol(r.Context(), symbol))
	md, ok := s.deps.Store.MarketData(symbol)
	if !ok {
		writeNotFound(w, "market data for "+symbol)
		return
	}
	resp := symbolResponse{MarketData: md, Source: "memory"}

	q := r.URL.Query()
	if raw := q.Get("since"); raw != "" && s.deps.History != nil {
		since, err := parseSince(raw, s.deps.Store.Now())
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since: "+err.Error())
			return
		}
		points, err := s.deps.History.PriceHistory(r.Context(), symbol, since)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		resp.History, resp.Source = points, "storage"
	} else {
		n := defaultHistoryPoints
		if raw := q.Get("points"); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil || v <= 0 || v > maxHistoryPoints {
				writeError(w, http.StatusBadRequest, "points must be between 1 and "+strconv.Itoa(maxHistoryPoints))
				return
			}
			n = v
		}
		resp.History = s.deps.Store.History(symbol, n)
	}
	if resp.History == nil {
		resp.History = []store.PricePoint{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseSince(raw string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(raw); err == nil {
		return now.Add(-d), nil
	}
	return time.Parse(time.RFC3339, raw)
}

type subscriptionRequest struct {
	Symbols []string `json:"symbols" validate:"required,min=1,max=50,dive,symbol"`
}

func (s *Server) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	if s.deps.MarketData == nil {
		writeError(w, http.StatusServiceUnavailable, "market data service not available")
		return
	}
	var req subscriptionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	for i, sym := range req.Symbols {
		req.Symbols[i] = strings.ToUpper(strings.TrimSpace(sym))
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	queued := s.deps.MarketData.Queue(req.Symbols...)
	writeJSON(w, http.StatusAccepted, map[string]any{"symbols": req.Symbols, "queued": queued})
}

func (s *Server) handleMarketRefresh(w http.ResponseWriter, r *http.Request) {
	if s.deps.MarketData == nil {
		writeError(w, http.StatusServiceUnavailable, "market data service not available")
		return
	}
	symbol := strings.ToUpper(chi.URLParam(r, "symbol"))
	if !symbolPattern.MatchString(symbol) {
		writeError(w, http.StatusBadRequest, "invalid symbol")
		return
	}
	r = r.WithContext(qlog.ContextWithSymbol(r.Context(), symbol))
	if err := s.deps.MarketData.ForceRefresh(r.Context(), symbol); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"symbol": symbol, "refreshing": true})
}

// handleMarketRetry resubscribes failed symbols that still have retry budget.
func (s *Server) handleMarketRetry(w http.ResponseWriter, _ *http.Request) {
	if s.deps.MarketData == nil {
		writeError(w, http.StatusServiceUnavailable, "market data service not available")
		return
	}
	ok := s.deps.MarketData.RetryFailed()
	writeJSON(w, http.StatusOK, map[string]any{"successful": ok, "subscriptions": s.deps.MarketData.Status()})
}

// handleMarketReset drops all subscription bookkeeping so the loop starts
// over. The broker is not contacted.
func (s *Server) handleMarketReset(w http.ResponseWriter, _ *http.Request) {
	if s.deps.MarketData == nil {
		writeError(w, http.StatusServiceUnavailable, "market data service not available")
		return
	}
	s.deps.MarketData.EmergencyReset()
	writeJSON(w, http.StatusOK, map[string]any{"reset": true, "subscriptions": s.deps.MarketData.Status()})
}
