// SPDX-License-Identifier: MIT
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	alertsRaised = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qtrader_alerts_raised_total",
		Help: "Alerts raised by level and type",
	}, []string{"level", "type"})

	serviceCycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "qtrader_service_cycle_duration_seconds",
		Help:    "Duration of one service loop iteration",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"service"})

	serviceCycleErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qtrader_service_cycle_errors_total",
		Help: "Service loop iterations that returned an error",
	}, []string{"service"})

	configReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qtrader_config_reloads_total",
		Help: "Configuration reloads by outcome",
	}, []string{"outcome"})
)

// RecordAlert counts one raised alert.
func RecordAlert(level, alertType string) {
	alertsRaised.WithLabelValues(level, alertType).Inc()
}

// ObserveServiceCycle records the duration of one loop iteration and counts
// it as failed when err is non-nil.
func ObserveServiceCycle(service string, d time.Duration, err error) {
	serviceCycleDuration.WithLabelValues(service).Observe(d.Seconds())
	if err != nil {
		serviceCycleErrors.WithLabelValues(service).Inc()
	}
}

// RecordConfigReload counts one reload attempt.
func RecordConfigReload(outcome string) {
	configReloads.WithLabelValues(outcome).Inc()
}
