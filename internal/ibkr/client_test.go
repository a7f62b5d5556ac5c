// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ibkr_test

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/qtrader/internal/ibkr"
	"github.com/ManuGH/qtrader/internal/ibkr/ibkrtest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type events struct {
	ibkr.BaseHandler
	mu     sync.Mutex
	prices map[int]float64
	accts  []string
	closed chan error
}

func newEvents() *events {
	return &events{prices: map[int]float64{}, closed: make(chan error, 1)}
}

func (e *events) TickPrice(_ int, tickType int, price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prices[tickType] = price
}

func (e *events) ManagedAccounts(a []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.accts = a
}

func (e *events) ConnectionClosed(err error) { e.closed <- err }

func (e *events) price(tt int) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.prices[tt]
	return p, ok
}

func dial(t *testing.T, gw *ibkrtest.Gateway, h ibkr.Handler) *ibkr.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := ibkr.Dial(ctx, gw.Config(), h)
	require.NoError(t, err)
	require.NoError(t, c.WaitReady(ctx))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestDialHandshakeAndReady(t *testing.T) {
	gw := ibkrtest.NewGateway(t)
	ev := newEvents()
	c := dial(t, gw, ev)

	assert.True(t, c.Connected())
	assert.Equal(t, ibkr.MaxClientVersion, c.ServerVersion())
	assert.Equal(t, 1, gw.Sessions())

	first := c.NextRequestID()
	assert.Equal(t, ibkr.FirstRequestID, first)
	assert.Equal(t, first+1, c.NextRequestID())

	assert.Eventually(t, func() bool {
		ev.mu.Lock()
		defer ev.mu.Unlock()
		return len(ev.accts) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestDialRejectsOldServerVersion(t *testing.T) {
	gw := ibkrtest.NewGateway(t)
	gw.SetServerVersion(ibkr.MinClientVersion - 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := ibkr.Dial(ctx, gw.Config(), newEvents())
	require.ErrorIs(t, err, ibkr.ErrHandshake)
	assert.Contains(t, err.Error(), "unsupported server version")
}

func TestRequestsReachGateway(t *testing.T) {
	gw := ibkrtest.NewGateway(t)
	c := dial(t, gw, newEvents())

	require.NoError(t, c.ReqMarketDataType(ibkr.MarketDataDelayed))
	req := gw.WaitRequest(ibkr.OutReqMarketDataType, time.Second)
	assert.Equal(t, []string{"59", "1", "3"}, req)

	require.NoError(t, c.ReqMktData(1001, ibkr.StockContract("AAPL"), "", true))
	req = gw.WaitRequest(ibkr.OutReqMktData, time.Second)
	require.GreaterOrEqual(t, len(req), 20)
	assert.Equal(t, "1001", req[2])
	assert.Equal(t, "AAPL", req[4])
	assert.Equal(t, "STK", req[5])
	assert.Equal(t, "SMART", req[10])
	assert.Equal(t, "1", req[17], "snapshot flag")

	require.NoError(t, c.ReqAccountUpdates(true, "DU111111"))
	assert.Equal(t, []string{"6", "2", "1", "DU111111"}, gw.WaitRequest(ibkr.OutReqAccountUpdates, time.Second))

	require.NoError(t, c.ReqPositions())
	gw.WaitRequest(ibkr.OutReqPositions, time.Second)

	require.NoError(t, c.ReqContractDetails(5000, ibkr.StockContract("MSFT")))
	req = gw.WaitRequest(ibkr.OutReqContractDetails, time.Second)
	assert.Equal(t, "5000", req[2])
	assert.Len(t, req, 19)

	require.NoError(t, c.ReqSecDefOptParams(5001, "MSFT", "", ibkr.SecTypeStock, 272093))
	assert.Equal(t, []string{"78", "5001", "MSFT", "", "STK", "272093"}, gw.WaitRequest(ibkr.OutReqSecDefOptParams, time.Second))

	require.NoError(t, c.CancelMktData(1001))
	assert.Equal(t, []string{"2", "2", "1001"}, gw.WaitRequest(ibkr.OutCancelMktData, time.Second))
}

func TestTicksDeliveredToHandler(t *testing.T) {
	gw := ibkrtest.NewGateway(t)
	ev := newEvents()
	dial(t, gw, ev)

	gw.TickPrice(1001, ibkr.TickDelayedLast, 187.25)
	assert.Eventually(t, func() bool {
		p, ok := ev.price(ibkr.TickDelayedLast)
		return ok && p == 187.25
	}, time.Second, 10*time.Millisecond)
}

func TestServerDropClosesSession(t *testing.T) {
	gw := ibkrtest.NewGateway(t)
	ev := newEvents()
	c := dial(t, gw, ev)

	gw.DropConnections()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
	}
	<-ev.closed
	assert.False(t, c.Connected())
	assert.ErrorIs(t, c.ReqPositions(), ibkr.ErrNotConnected)
}

func TestCloseIsIdempotent(t *testing.T) {
	gw := ibkrtest.NewGateway(t)
	ev := newEvents()
	c := dial(t, gw, ev)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.NoError(t, <-ev.closed)
	assert.NoError(t, c.Err())
}

func TestDialRefused(t *testing.T) {
	gw := ibkrtest.NewGateway(t)
	cfg := gw.Config()
	gw.Close()

	_, err := ibkr.Dial(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestMessageHookObservesIDs(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}
	ibkr.SetMessageHook(func(id string) {
		mu.Lock()
		seen[id]++
		mu.Unlock()
	})
	t.Cleanup(func() { ibkr.SetMessageHook(nil) })

	gw := ibkrtest.NewGateway(t)
	dial(t, gw, nil)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen[strconv.Itoa(ibkr.InNextValidID)] == 1
	}, time.Second, 10*time.Millisecond)
}
