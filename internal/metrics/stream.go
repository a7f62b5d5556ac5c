// SPDX-License-Identifier: MIT
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	websocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "qtrader_websocket_clients",
		Help: "Connected dashboard clients",
	})

	websocketMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qtrader_websocket_messages_total",
		Help: "Dashboard stream messages by direction and type",
	}, []string{"direction", "type"}) // direction=in|out

	websocketRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qtrader_websocket_rejected_total",
		Help: "Dashboard connections or messages refused",
	}, []string{"reason"}) // reason=max_connections|rate_limited
)

// SetWebsocketClients records the number of connected clients.
func SetWebsocketClients(n int) {
	websocketClients.Set(float64(n))
}

// RecordWebsocketMessage counts one stream message.
func RecordWebsocketMessage(direction, msgType string) {
	websocketMessages.WithLabelValues(direction, msgType).Inc()
}

// RecordWebsocketRejected counts one refused connection or message.
func RecordWebsocketRejected(reason string) {
	websocketRejected.WithLabelValues(reason).Inc()
}
