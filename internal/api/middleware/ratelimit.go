// SPDX-License-Identifier: MIT

package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/ManuGH/qtrader/internal/format"
	qlog "github.com/ManuGH/qtrader/internal/log"
)

const (
	defaultPerMinute   = 360
	refreshPerMinute   = 10
	refreshLimiterName = "refresh"
	apiLimiterName     = "api"
)

// RateLimitConfig describes one sliding window budget.
type RateLimitConfig struct {
	Name         string
	RequestLimit int
	WindowSize   time.Duration
	// KeyFuncs default to the client IP.
	KeyFuncs []httprate.KeyFunc
}

// RateLimit rejects requests over budget with 429 and the standard error
// envelope.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	keys := cfg.KeyFuncs
	if len(keys) == 0 {
		keys = []httprate.KeyFunc{httprate.KeyByIP}
	}
	if cfg.Name == "" {
		cfg.Name = apiLimiterName
	}
	retryAfter := strconv.Itoa(int(cfg.WindowSize.Round(time.Second).Seconds()))

	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowSize,
		httprate.WithKeyFuncs(keys...),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpRateLimited.WithLabelValues(cfg.Name).Inc()
			logger := qlog.WithComponentFromContext(r.Context(), "api")
			logger.Debug().
				Str(qlog.FieldEvent, "http.rate_limited").
				Str("limiter", cfg.Name).
				Str(qlog.FieldPath, r.URL.Path).
				Msg("request rejected by rate limiter")

			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", retryAfter)
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(format.Error("too many requests, retry after " + retryAfter + "s"))
		}),
	)
}

// RefreshRateLimit guards the gateway-backed refresh endpoints. The budget is
// per client and per endpoint so refreshing one account does not starve another.
func RefreshRateLimit() func(http.Handler) http.Handler {
	return RateLimit(RateLimitConfig{
		Name:         refreshLimiterName,
		RequestLimit: refreshPerMinute,
		WindowSize:   time.Minute,
		KeyFuncs:     []httprate.KeyFunc{httprate.KeyByIP, httprate.KeyByEndpoint},
	})
}

// APIRateLimit limits general API endpoints to perMinute requests per IP.
func APIRateLimit(perMinute int) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		perMinute = defaultPerMinute
	}
	return RateLimit(RateLimitConfig{
		RequestLimit: perMinute,
		WindowSize:   time.Minute,
	})
}
