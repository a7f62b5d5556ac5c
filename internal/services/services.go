// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package services runs the periodic loops that keep the store current: market
// data subscriptions, portfolio refresh, option greeks, alert rules and the
// watchlist.
package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/qtrader/internal/metrics"
	"github.com/ManuGH/qtrader/internal/telemetry"
)

// Service is a long-running loop owned by the daemon. Run returns nil when ctx
// is cancelled.
type Service interface {
	Name() string
	Run(ctx context.Context) error
}

// Black-Scholes inputs used when the market provides none.
const (
	riskFreeRate = 0.05
	defaultIV    = 0.25
)

// every runs fn once immediately and then on each tick until ctx ends.
func every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		interval = time.Second
	}
	fn(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// cycle traces and times one loop iteration. fn returns how many items it
// handled.
func cycle(ctx context.Context, logger zerolog.Logger, service string, fn func(context.Context) (int, error)) {
	start := time.Now()
	ctx, span := telemetry.Start(ctx, "service."+service)
	items, err := fn(ctx)
	span.SetAttributes(telemetry.ServiceAttributes(service, items)...)
	telemetry.End(span, err)
	metrics.ObserveServiceCycle(service, time.Since(start), err)
	if err != nil && ctx.Err() == nil {
		logger.Warn().Err(err).Msg("service cycle failed")
	}
}
