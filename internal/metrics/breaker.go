// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Breaker state codes exported by qtrader_breaker_state.
const (
	BreakerClosed   = 0
	BreakerHalfOpen = 1
	BreakerOpen     = 2
)

var (
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "qtrader_breaker_state",
		Help: "Breaker state per guarded call: 0 closed, 1 half-open, 2 open",
	}, []string{"breaker"})

	breakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qtrader_breaker_transitions_total",
		Help: "Breaker state changes by target state and cause",
	}, []string{"breaker", "to", "cause"})

	breakerRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qtrader_breaker_rejected_total",
		Help: "Calls refused while the breaker was open or probing",
	}, []string{"breaker"})
)

func breakerCode(state string) float64 {
	switch state {
	case "open":
		return BreakerOpen
	case "half-open":
		return BreakerHalfOpen
	default:
		return BreakerClosed
	}
}

// SetBreakerState exports state ("closed", "half-open" or "open") for the
// named breaker.
func SetBreakerState(breaker, state string) {
	breakerState.WithLabelValues(breaker).Set(breakerCode(state))
}

// RecordBreakerTransition counts a change into state. cause is empty for
// transitions not triggered by a failure.
func RecordBreakerTransition(breaker, state, cause string) {
	if cause == "" {
		cause = "none"
	}
	breakerTransitions.WithLabelValues(breaker, state, cause).Inc()
}

// RecordBreakerRejected counts a call the breaker refused.
func RecordBreakerRejected(breaker string) {
	breakerRejected.WithLabelValues(breaker).Inc()
}
