// SPDX-License-Identifier: MIT

package middleware

import (
	"github.com/go-chi/chi/v5"

	qlog "github.com/ManuGH/qtrader/internal/log"
)

// StackConfig configures the HTTP ingress middleware stack.
type StackConfig struct {
	// TracingService names the otelhttp server spans. Empty disables tracing.
	TracingService string
	EnableMetrics  bool
	EnableLogging  bool
	// RateLimitPerMin is the per-IP request budget. Zero disables limiting.
	RateLimitPerMin int
}

// Base applies the outermost layers every route receives, including the
// WebSocket upgrade.
func Base(r chi.Router) {
	// 1. Recoverer (outermost safety net)
	r.Use(Recoverer)
	// 2. RequestID (correlation early)
	r.Use(RequestID)
}

// ApplyStack applies the per-request observability and protection layers.
func ApplyStack(r chi.Router, cfg StackConfig) {
	// 3. Logging (wraps handlers, captures full latency)
	if cfg.EnableLogging {
		r.Use(qlog.Middleware())
	}
	// 4. Tracing
	if cfg.TracingService != "" {
		r.Use(Tracing(cfg.TracingService))
	}
	// 5. Metrics
	if cfg.EnableMetrics {
		r.Use(Metrics())
	}
	// 6. Rate limit (per IP)
	if cfg.RateLimitPerMin > 0 {
		r.Use(APIRateLimit(cfg.RateLimitPerMin))
	}
}
