// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"strings"

	"github.com/ManuGH/qtrader/internal/watchlist"
)

func (s *Server) handleWatchlist(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Watchlist == nil {
		writeError(w, http.StatusServiceUnavailable, "watchlist not enabled")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbols": s.deps.Watchlist.Symbols(),
		"entries": s.deps.Watchlist.Entries(),
	})
}

type watchlistEntry struct {
	Symbol  string `json:"symbol" validate:"symbol"`
	Enabled bool   `json:"enabled"`
}

type watchlistRequest struct {
	Entries []watchlistEntry `json:"entries" validate:"required,min=1,max=200,dive"`
}

// handleWatchlistUpdate rewrites the watchlist file and applies it.
func (s *Server) handleWatchlistUpdate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Watchlist == nil {
		writeError(w, http.StatusServiceUnavailable, "watchlist not enabled")
		return
	}
	var req watchlistRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	entries := make([]watchlist.Entry, 0, len(req.Entries))
	for i := range req.Entries {
		req.Entries[i].Symbol = strings.ToUpper(strings.TrimSpace(req.Entries[i].Symbol))
		entries = append(entries, watchlist.Entry{Symbol: req.Entries[i].Symbol, Enabled: req.Entries[i].Enabled})
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := s.deps.Watchlist.Save(entries); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbols": s.deps.Watchlist.Symbols()})
}
