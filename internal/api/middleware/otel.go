// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Span attributes set from chi URL parameters.
const (
	AttrAccount = attribute.Key("qtrader.account")
	AttrSymbol  = attribute.Key("qtrader.symbol")
)

// Tracing starts a server span per request and continues incoming W3C trace
// context. Probe and metrics paths are not traced.
func Tracing(service string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(
			annotateSpan(next),
			service,
			otelhttp.WithTracerProvider(otel.GetTracerProvider()),
			otelhttp.WithPropagators(otel.GetTextMapPropagator()),
			otelhttp.WithFilter(shouldTrace),
			otelhttp.WithSpanNameFormatter(routeSpanName),
		)
	}
}

// annotateSpan renames the span to the matched route once chi has routed the
// request and tags it with the account and symbol being served.
func annotateSpan(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)

		span := trace.SpanFromContext(r.Context())
		if !span.IsRecording() {
			return
		}
		rc := chi.RouteContext(r.Context())
		if rc == nil {
			return
		}
		if pattern := rc.RoutePattern(); pattern != "" {
			span.SetName(spanName(r.Method, pattern))
		}
		span.SetAttributes(routeAttributes(rc)...)
	})
}

// routeSpanName names the span after the chi route pattern when one has been
// matched and after the raw path otherwise.
func routeSpanName(_ string, r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return spanName(r.Method, pattern)
		}
	}
	return spanName(r.Method, r.URL.Path)
}

func spanName(method, route string) string {
	return "HTTP " + method + " " + route
}

// routeAttributes maps URL params to span attributes. {id} is an account id
// only under /accounts; elsewhere it names an alert.
func routeAttributes(rc *chi.Context) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if id := rc.URLParam("id"); id != "" && strings.Contains(rc.RoutePattern(), "/accounts/{id}") {
		attrs = append(attrs, AttrAccount.String(id))
	}
	if sym := rc.URLParam("symbol"); sym != "" {
		attrs = append(attrs, AttrSymbol.String(strings.ToUpper(sym)))
	}
	return attrs
}

func shouldTrace(r *http.Request) bool {
	switch r.URL.Path {
	case "/healthz", "/readyz", "/metrics":
		return false
	}
	return true
}
