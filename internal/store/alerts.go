// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	qlog "github.com/ManuGH/qtrader/internal/log"
	"github.com/ManuGH/qtrader/internal/model"
)

// ErrAlertNotFound is returned when acknowledging an unknown alert id.
var ErrAlertNotFound = errors.New("store: alert not found")

// AddAlert stores a, assigning an id, creation time and expiry when unset.
// The oldest alerts are dropped beyond MaxAlerts. The stored alert is returned.
func (s *Store) AddAlert(a model.Alert) model.Alert {
	now := s.now()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	if a.ExpiresAt == nil && s.opts.AlertExpiry > 0 {
		exp := a.CreatedAt.Add(s.opts.AlertExpiry)
		a.ExpiresAt = &exp
	}

	s.mu.Lock()
	s.alerts = append(s.alerts, a)
	if over := len(s.alerts) - s.opts.MaxAlerts; over > 0 {
		s.alerts = append([]model.Alert(nil), s.alerts[over:]...)
	}
	s.mu.Unlock()

	s.logger.Info().
		Str(qlog.FieldEvent, "alert.added").
		Str(qlog.FieldAlertID, a.ID).
		Str("level", string(a.Level)).
		Str("type", string(a.Type)).
		Msg(a.Title)

	if s.opts.Persister != nil {
		if err := s.opts.Persister.SaveAlert(context.Background(), a); err != nil {
			s.logger.Warn().Err(err).Str(qlog.FieldAlertID, a.ID).Msg("failed to persist alert")
		}
	}
	return a
}

// Alerts returns every stored alert, oldest first.
func (s *Store) Alerts() []model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Alert(nil), s.alerts...)
}

// ActiveAlerts returns the alerts that are neither acknowledged nor expired.
func (s *Store) ActiveAlerts() []model.Alert {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeAlertsLocked(now)
}

func (s *Store) activeAlertsLocked(now time.Time) []model.Alert {
	out := []model.Alert{}
	for i := range s.alerts {
		if s.alerts[i].Active(now) {
			out = append(out, s.alerts[i])
		}
	}
	return out
}

// AcknowledgeAlert marks an alert as acknowledged.
func (s *Store) AcknowledgeAlert(id string) error {
	s.mu.Lock()
	found := false
	for i := range s.alerts {
		if s.alerts[i].ID == id {
			s.alerts[i].Acknowledged = true
			found = true
			break
		}
	}
	s.mu.Unlock()
	if !found {
		return ErrAlertNotFound
	}

	s.logger.Info().Str(qlog.FieldEvent, "alert.acknowledged").Str(qlog.FieldAlertID, id).Msg("alert acknowledged")
	if s.opts.Persister != nil {
		if err := s.opts.Persister.AcknowledgeAlert(context.Background(), id); err != nil {
			s.logger.Warn().Err(err).Str(qlog.FieldAlertID, id).Msg("failed to persist acknowledgement")
		}
	}
	return nil
}

// ClearExpiredAlerts removes alerts past their expiry and returns how many
// were removed.
func (s *Store) ClearExpiredAlerts() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.alerts[:0]
	for _, a := range s.alerts {
		if a.ExpiresAt == nil || a.ExpiresAt.After(now) {
			kept = append(kept, a)
		}
	}
	removed := len(s.alerts) - len(kept)
	s.alerts = kept
	return removed
}

// Cleanup drops alerts created before the retention window and price history
// older than it. It returns the number of alerts removed.
func (s *Store) Cleanup(retention time.Duration) int {
	cutoff := s.now().Add(-retention)
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.alerts[:0]
	for _, a := range s.alerts {
		if a.CreatedAt.After(cutoff) {
			kept = append(kept, a)
		}
	}
	removed := len(s.alerts) - len(kept)
	s.alerts = kept

	for sym, h := range s.history {
		h.retain(func(p PricePoint) bool { return p.Timestamp.After(cutoff) })
		if h.count() == 0 {
			delete(s.history, sym)
		}
	}
	s.logger.Info().Str(qlog.FieldEvent, "store.cleanup").Int("alerts_removed", removed).Msg("cleaned up old data")
	return removed
}
