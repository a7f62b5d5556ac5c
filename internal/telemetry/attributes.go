// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by qtrader spans.
const (
	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"

	// Broker attributes
	BrokerHostKey     = "broker.host"
	BrokerPortKey     = "broker.port"
	BrokerClientIDKey = "broker.client_id"
	BrokerAttemptKey  = "broker.attempt"
	BrokerReqIDKey    = "broker.req_id"

	// Market attributes
	MarketSymbolKey   = "market.symbol"
	MarketSecTypeKey  = "market.sec_type"
	MarketSnapshotKey = "market.snapshot"

	// Service attributes
	ServiceNameKey  = "service.loop"
	ServiceItemsKey = "service.items"

	AccountKey = "account.id"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// BrokerAttributes describes a gateway connect attempt.
func BrokerAttributes(host string, port, clientID, attempt int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(BrokerHostKey, host),
		attribute.Int(BrokerPortKey, port),
		attribute.Int(BrokerClientIDKey, clientID),
		attribute.Int(BrokerAttemptKey, attempt),
	}
}

// MarketAttributes describes a market data request. Empty values are omitted.
func MarketAttributes(symbol, secType string, reqID int, snapshot bool) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 4)
	if symbol != "" {
		attrs = append(attrs, attribute.String(MarketSymbolKey, symbol))
	}
	if secType != "" {
		attrs = append(attrs, attribute.String(MarketSecTypeKey, secType))
	}
	if reqID > 0 {
		attrs = append(attrs, attribute.Int(BrokerReqIDKey, reqID))
	}
	return append(attrs, attribute.Bool(MarketSnapshotKey, snapshot))
}

// ServiceAttributes describes one service loop iteration.
func ServiceAttributes(name string, items int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(ServiceNameKey, name),
		attribute.Int(ServiceItemsKey, items),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
