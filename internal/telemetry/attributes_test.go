// SPDX-License-Identifier: MIT

package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func attrMap(attrs []attribute.KeyValue) map[string]attribute.Value {
	m := make(map[string]attribute.Value, len(attrs))
	for _, a := range attrs {
		m[string(a.Key)] = a.Value
	}
	return m
}

func TestHTTPAttributes(t *testing.T) {
	m := attrMap(HTTPAttributes("GET", "/api/v1/alerts", 200))
	assert.Equal(t, "GET", m[HTTPMethodKey].AsString())
	assert.Equal(t, "/api/v1/alerts", m[HTTPRouteKey].AsString())
	assert.Equal(t, int64(200), m[HTTPStatusCodeKey].AsInt64())
}

func TestBrokerAttributes(t *testing.T) {
	m := attrMap(BrokerAttributes("gw", 4002, 1, 3))
	assert.Equal(t, "gw", m[BrokerHostKey].AsString())
	assert.Equal(t, int64(4002), m[BrokerPortKey].AsInt64())
	assert.Equal(t, int64(1), m[BrokerClientIDKey].AsInt64())
	assert.Equal(t, int64(3), m[BrokerAttemptKey].AsInt64())
}

func TestMarketAttributesOmitsEmpty(t *testing.T) {
	attrs := MarketAttributes("", "", 0, true)
	assert.Len(t, attrs, 1)
	assert.True(t, attrMap(attrs)[MarketSnapshotKey].AsBool())

	m := attrMap(MarketAttributes("AAPL", "STK", 1001, false))
	assert.Equal(t, "AAPL", m[MarketSymbolKey].AsString())
	assert.Equal(t, "STK", m[MarketSecTypeKey].AsString())
	assert.Equal(t, int64(1001), m[BrokerReqIDKey].AsInt64())
}

func TestServiceAndErrorAttributes(t *testing.T) {
	m := attrMap(ServiceAttributes("portfolio", 2))
	assert.Equal(t, "portfolio", m[ServiceNameKey].AsString())
	assert.Equal(t, int64(2), m[ServiceItemsKey].AsInt64())

	m = attrMap(ErrorAttributes("timeout"))
	assert.True(t, m[ErrorKey].AsBool())
	assert.Equal(t, "timeout", m[ErrorTypeKey].AsString())
}
