// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

type scopeKey struct{}

// scope is the set of log fields carried by a context. Values are copied on
// every change so parent contexts never observe a child's fields.
type scope struct {
	requestID string
	account   string
	symbol    string
}

func scopeFrom(ctx context.Context) scope {
	if ctx == nil {
		return scope{}
	}
	s, _ := ctx.Value(scopeKey{}).(scope)
	return s
}

func withScope(ctx context.Context, fn func(*scope)) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	s := scopeFrom(ctx)
	fn(&s)
	return context.WithValue(ctx, scopeKey{}, s)
}

// ContextWithRequestID stores the provided request ID in the context.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return withScope(ctx, func(s *scope) { s.requestID = id })
}

// ContextWithAccount tags ctx with an IBKR account id.
func ContextWithAccount(ctx context.Context, account string) context.Context {
	return withScope(ctx, func(s *scope) { s.account = account })
}

// ContextWithSymbol tags ctx with a ticker or option key.
func ContextWithSymbol(ctx context.Context, symbol string) context.Context {
	return withScope(ctx, func(s *scope) { s.symbol = symbol })
}

// RequestIDFromContext extracts the request ID from context if present.
func RequestIDFromContext(ctx context.Context) string {
	return scopeFrom(ctx).requestID
}

// WithContext adds the request, account, symbol and trace fields of ctx to
// logger. The logger is returned unchanged when ctx carries none.
func WithContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	if ctx == nil {
		return logger
	}
	s := scopeFrom(ctx)
	sc := trace.SpanContextFromContext(ctx)
	if s == (scope{}) && !sc.IsValid() {
		return logger
	}

	b := logger.With()
	if s.requestID != "" {
		b = b.Str(FieldRequestID, s.requestID)
	}
	if s.account != "" {
		b = b.Str(FieldAccount, s.account)
	}
	if s.symbol != "" {
		b = b.Str(FieldSymbol, s.symbol)
	}
	if sc.IsValid() {
		b = b.Str(FieldTraceID, sc.TraceID().String()).Str(FieldSpanID, sc.SpanID().String())
	}
	return b.Logger()
}

// WithComponentFromContext returns the component logger enriched with the
// fields of ctx.
func WithComponentFromContext(ctx context.Context, component string) zerolog.Logger {
	return WithContext(ctx, WithComponent(component))
}
