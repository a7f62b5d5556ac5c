// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTracing_NamesSpanByRoute(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	r := chi.NewRouter()
	r.Use(Tracing("qtrader-test"))
	r.Get("/api/v1/accounts/{id}/positions/{symbol}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/api/v1/alerts/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for _, path := range []string{"/api/v1/accounts/DU123/positions/aapl", "/api/v1/alerts/a-1", "/healthz"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, w.Code, path)
	}

	spans := rec.Ended()
	require.Len(t, spans, 2, "probes are not traced")

	attrs := func(kv []attribute.KeyValue) map[attribute.Key]string {
		out := map[attribute.Key]string{}
		for _, a := range kv {
			out[a.Key] = a.Value.Emit()
		}
		return out
	}

	assert.Equal(t, "HTTP GET /api/v1/accounts/{id}/positions/{symbol}", spans[0].Name())
	got := attrs(spans[0].Attributes())
	assert.Equal(t, "DU123", got[AttrAccount])
	assert.Equal(t, "AAPL", got[AttrSymbol])

	assert.Equal(t, "HTTP GET /api/v1/alerts/{id}", spans[1].Name())
	assert.NotContains(t, attrs(spans[1].Attributes()), AttrAccount)
}

func TestRouteSpanName(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/alerts/a-1", nil)
	assert.Equal(t, "HTTP GET /api/v1/alerts/a-1", routeSpanName("", req), "no route context")

	rc := chi.NewRouteContext()
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
	assert.Equal(t, "HTTP GET /api/v1/alerts/a-1", routeSpanName("", req), "nothing matched yet")

	rc.RoutePatterns = []string{"/api/v1/alerts/{id}"}
	assert.Equal(t, "HTTP GET /api/v1/alerts/{id}", routeSpanName("", req))
}
