// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package format shapes store snapshots into the JSON documents the dashboard
// frontend consumes.
package format

import (
	"math"
	"time"

	"github.com/ManuGH/qtrader/internal/model"
)

// Message types pushed to dashboard clients.
const (
	TypeDashboardUpdate = "dashboard_update"
	TypeInitialData     = "initial_data"
)

// SafeFloat rounds v to digits decimals. NaN and infinities become 0.
func SafeFloat(v float64, digits int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	p := math.Pow10(digits)
	r := math.Round(v*p) / p
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return v
	}
	return r
}

// AlertLevelNumber maps a level to the frontend's severity scale. Unknown
// levels rank as info.
func AlertLevelNumber(level model.AlertLevel) int {
	switch level {
	case model.AlertWarning:
		return 3
	case model.AlertCritical:
		return 4
	case model.AlertUrgent:
		return 5
	default:
		return 1
	}
}

// ErrorResponse is the JSON error envelope shared by the API and the stream.
type ErrorResponse struct {
	Error     bool      `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Error builds an error envelope stamped with the current time.
func Error(msg string) ErrorResponse {
	return ErrorResponse{Error: true, Message: msg, Timestamp: time.Now().UTC()}
}

// StreamingUpdate wraps data in the stream envelope.
func StreamingUpdate(typ string, data any) model.StreamingUpdate {
	return model.StreamingUpdate{Type: typ, Data: data, Timestamp: time.Now().UTC()}
}
