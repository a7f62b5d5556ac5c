// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	brokerConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "qtrader_broker_connected",
		Help: "Whether the gateway session is up (1) or down (0)",
	})

	brokerReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qtrader_broker_reconnects_total",
		Help: "Gateway connect attempts by outcome",
	}, []string{"outcome"}) // outcome=success|failure|breaker_open

	brokerMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qtrader_broker_messages_received_total",
		Help: "Gateway messages received by message id",
	}, []string{"msg_id"})

	brokerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qtrader_broker_api_errors_total",
		Help: "Gateway error messages by class",
	}, []string{"class"})

	ticksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qtrader_ticks_processed_total",
		Help: "Market data ticks applied to the store by kind",
	}, []string{"kind"}) // kind=price|size|greeks

	marketSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "qtrader_market_subscriptions",
		Help: "Active market data subscriptions",
	})

	failedSubscriptions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qtrader_market_subscription_failures_total",
		Help: "Market data subscriptions rejected by the gateway or the client",
	})
)

// SetBrokerConnected records the gateway session state.
func SetBrokerConnected(up bool) {
	if up {
		brokerConnected.Set(1)
		return
	}
	brokerConnected.Set(0)
}

// RecordReconnect counts one connect attempt.
func RecordReconnect(outcome string) {
	brokerReconnects.WithLabelValues(outcome).Inc()
}

// RecordBrokerMessage counts one incoming gateway message.
func RecordBrokerMessage(msgID string) {
	brokerMessages.WithLabelValues(msgID).Inc()
}

// RecordBrokerError counts one gateway error by class.
func RecordBrokerError(class string) {
	brokerErrors.WithLabelValues(class).Inc()
}

// RecordTick counts one applied tick.
func RecordTick(kind string) {
	ticksProcessed.WithLabelValues(kind).Inc()
}

// SetMarketSubscriptions records the current subscription count.
func SetMarketSubscriptions(n int) {
	marketSubscriptions.Set(float64(n))
}

// RecordSubscriptionFailure counts one failed subscription.
func RecordSubscriptionFailure() {
	failedSubscriptions.Inc()
}
