// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/qtrader/internal/format"
	qlog "github.com/ManuGH/qtrader/internal/log"
	"github.com/ManuGH/qtrader/internal/model"
	"github.com/ManuGH/qtrader/internal/services"
	"github.com/ManuGH/qtrader/internal/store"
)

type portfolioResponse struct {
	Summary    *services.PortfolioSummary  `json:"summary,omitempty"`
	Portfolios map[string]format.Portfolio `json:"portfolios"`
}

func (s *Server) handlePortfolio(w http.ResponseWriter, _ *http.Request) {
	resp := portfolioResponse{Portfolios: map[string]format.Portfolio{}}
	for id, pf := range s.deps.Store.Portfolios() {
		resp.Portfolios[id] = format.FormatPortfolio(pf)
	}
	if s.deps.Portfolio != nil {
		sum := s.deps.Portfolio.Summary()
		resp.Summary = &sum
	}
	writeJSON(w, http.StatusOK, resp)
}

type accountResponse struct {
	Portfolio     format.Portfolio              `json:"portfolio"`
	AccountValues map[string]store.AccountValue `json:"account_values"`
	PositionCount int                           `json:"position_count"`
	OptionCount   int                           `json:"option_count"`
	StockCount    int                           `json:"stock_count"`
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	if s.deps.Portfolio == nil {
		writeError(w, http.StatusServiceUnavailable, "portfolio service not available")
		return
	}
	id := chi.URLParam(r, "id")
	d, ok := s.deps.Portfolio.AccountDetails(id)
	if !ok {
		writeNotFound(w, "account "+id)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{
		Portfolio:     format.FormatPortfolio(d.Portfolio),
		AccountValues: d.AccountValues,
		PositionCount: d.PositionCount,
		OptionCount:   d.OptionCount,
		StockCount:    d.StockCount,
	})
}

type positionResponse struct {
	Symbol     string            `json:"symbol"`
	Positions  []format.Position `json:"positions"`
	MarketData *model.MarketData `json:"market_data"`
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	if s.deps.Portfolio == nil {
		writeError(w, http.StatusServiceUnavailable, "portfolio service not available")
		return
	}
	account := chi.URLParam(r, "id")
	symbol := strings.ToUpper(chi.URLParam(r, "symbol"))
	if _, ok := s.deps.Store.Portfolio(account); !ok {
		writeNotFound(w, "account "+account)
		return
	}
	d := s.deps.Portfolio.PositionDetails(account, symbol)
	if len(d.Positions) == 0 {
		writeNotFound(w, "position "+symbol)
		return
	}
	resp := positionResponse{Symbol: d.Symbol, Positions: make([]format.Position, 0, len(d.Positions)), MarketData: d.MarketData}
	for _, p := range d.Positions {
		resp.Positions = append(resp.Positions, format.FormatPosition(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAccountRefresh(w http.ResponseWriter, r *http.Request) {
	if s.deps.Portfolio == nil {
		writeError(w, http.StatusServiceUnavailable, "portfolio service not available")
		return
	}
	id := chi.URLParam(r, "id")
	r = r.WithContext(qlog.ContextWithAccount(r.Context(), id))
	if err := s.deps.Portfolio.ForceRefresh(id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"account_id": id, "refreshing": true})
}
