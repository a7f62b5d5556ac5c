// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/qtrader/internal/broker/brokertest"
	"github.com/ManuGH/qtrader/internal/config"
	"github.com/ManuGH/qtrader/internal/model"
	"github.com/ManuGH/qtrader/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestStore() (*store.Store, *clock) {
	c := &clock{t: time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)}
	return store.New(store.Options{Now: c.Now}), c
}

func testConfig() config.AppConfig {
	cfg := config.Defaults()
	cfg.Data.UpdateFrequency = 10 * time.Millisecond
	cfg.Data.MarketDataFrequency = 10 * time.Millisecond
	cfg.Alerts.CheckFrequency = 10 * time.Millisecond
	cfg.Watchlist.RefreshInterval = 10 * time.Millisecond
	return cfg
}

// expiryIn formats the date days after now in the dashboard MM/DD/YYYY form.
func expiryIn(now time.Time, days int) string {
	return now.AddDate(0, 0, days).Format("01/02/2006")
}

func stock(symbol string, qty, avgCost, price float64) model.Position {
	return model.Position{
		Symbol:       symbol,
		PositionType: model.PositionStock,
		Quantity:     qty,
		AvgCost:      avgCost,
		CurrentPrice: price,
	}
}

func option(symbol string, right string, strike float64, expiry string, qty, avgCost, price float64) model.Position {
	pt := model.PositionCall
	if right == "P" {
		pt = model.PositionPut
	}
	return model.Position{
		Symbol:       symbol,
		PositionType: pt,
		Quantity:     qty,
		AvgCost:      avgCost,
		CurrentPrice: price,
		StrikePrice:  strike,
		Expiry:       expiry,
		OptionType:   right,
	}
}

// runService starts svc and returns a stop func that cancels it and waits for
// Run to return.
func runService(t *testing.T, svc Service) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	var done atomic.Bool
	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Run(ctx)
		done.Store(true)
	}()
	return func() {
		cancel()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatalf("%s did not stop", svc.Name())
		}
		require.True(t, done.Load())
	}
}

func TestEveryRunsImmediatelyAndStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	done := make(chan struct{})
	go func() {
		every(ctx, time.Hour, func(context.Context) { calls.Add(1) })
		close(done)
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, int32(1), calls.Load())
}

func TestServiceNames(t *testing.T) {
	st, _ := newTestStore()
	gw := brokertest.New(st)
	cfg := testConfig()
	names := []string{
		NewMarketDataService(gw, st, cfg).Name(),
		NewPortfolioService(gw, st, cfg).Name(),
		NewOptionsService(gw, st, cfg).Name(),
		NewAlertsService(st, cfg).Name(),
	}
	assert.Equal(t, []string{"market_data", "portfolio", "options", "alerts"}, names)
}
