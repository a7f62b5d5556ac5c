// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleOptions(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Options == nil {
		writeError(w, http.StatusServiceUnavailable, "options service not available")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Options.Summary())
}

func (s *Server) handleOption(w http.ResponseWriter, r *http.Request) {
	if s.deps.Options == nil {
		writeError(w, http.StatusServiceUnavailable, "options service not available")
		return
	}
	key, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil || key == "" {
		writeError(w, http.StatusBadRequest, "invalid option key")
		return
	}
	d, ok := s.deps.Options.OptionDetails(key)
	if !ok {
		writeNotFound(w, "option "+key)
		return
	}
	writeJSON(w, http.StatusOK, d)
}
