// SPDX-License-Identifier: MIT

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/qtrader/internal/format"
	"github.com/ManuGH/qtrader/internal/services"
)

type alertsResponse struct {
	Alerts  []format.Alert          `json:"alerts"`
	Summary *services.AlertsSummary `json:"summary,omitempty"`
}

// handleAlerts lists active alerts, or every retained alert with ?all=true.
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	list := s.deps.Store.ActiveAlerts()
	if r.URL.Query().Get("all") == "true" {
		list = s.deps.Store.Alerts()
	}
	resp := alertsResponse{Alerts: format.Alerts(list)}
	if s.deps.Alerts != nil {
		sum := s.deps.Alerts.Summary()
		resp.Summary = &sum
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAlertAck(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var err error
	if s.deps.Alerts != nil {
		err = s.deps.Alerts.Acknowledge(id)
	} else {
		err = s.deps.Store.AcknowledgeAlert(id)
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alert_id": id, "acknowledged": true})
}
