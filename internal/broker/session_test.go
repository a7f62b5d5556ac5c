// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package broker

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/qtrader/internal/config"
	"github.com/ManuGH/qtrader/internal/ibkr"
	"github.com/ManuGH/qtrader/internal/ibkr/ibkrtest"
	"github.com/ManuGH/qtrader/internal/model"
	"github.com/ManuGH/qtrader/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const waitFor = 3 * time.Second

func testConfig(host string, port int) config.AppConfig {
	var cfg config.AppConfig
	cfg.IBKR = config.IBKRConfig{
		Host:                    host,
		Port:                    port,
		ClientID:                7,
		Timeout:                 2 * time.Second,
		ReconnectDelay:          20 * time.Millisecond,
		ConnectionCheckInterval: 20 * time.Millisecond,
		MarketDataType:          ibkr.MarketDataDelayed,
		BreakerThreshold:        10,
		BreakerResetTimeout:     time.Second,
	}
	cfg.Accounts = map[string]string{"DU222222": config.AccountRetirementTaxFree}
	return cfg
}

// startSession runs a session against gw until the test ends.
func startSession(t *testing.T, gw *ibkrtest.Gateway) (*Session, *store.Store) {
	t.Helper()
	st := store.New(store.Options{})
	s := NewSession(testConfig(gw.Host(), gw.Port()), st)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(waitFor):
			t.Error("Run did not return after cancel")
		}
	})

	require.Eventually(t, s.Connected, waitFor, 5*time.Millisecond)
	return s, st
}

func reqID(t *testing.T, field string) int {
	t.Helper()
	id, err := strconv.Atoi(field)
	require.NoError(t, err)
	return id
}

func TestRunConnectsAndSelectsDelayedData(t *testing.T) {
	gw := ibkrtest.NewGateway(t)
	s, st := startSession(t, gw)

	req := gw.WaitRequest(ibkr.OutReqMarketDataType, waitFor)
	assert.Equal(t, []string{strconv.Itoa(ibkr.OutReqMarketDataType), "1", "3"}, req)

	assert.True(t, st.SystemStatus().IBKRConnected)
	require.Eventually(t, func() bool { return len(s.Accounts()) == 2 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []string{"DU111111", "DU222222"}, s.Accounts())
	assert.Equal(t, []string{"DU111111", "DU222222"}, st.Accounts())

	pf, ok := st.Portfolio("DU222222")
	require.True(t, ok)
	assert.Equal(t, model.AccountRetirementTaxFree, pf.AccountType)
}

func TestTicksMergeIntoLastQuote(t *testing.T) {
	gw := ibkrtest.NewGateway(t)
	s, st := startSession(t, gw)

	id, err := s.RequestMarketData("AAPL", ibkr.StockContract("AAPL"), false)
	require.NoError(t, err)
	req := gw.WaitRequest(ibkr.OutReqMktData, waitFor)
	assert.Equal(t, strconv.Itoa(id), req[2])
	assert.Equal(t, "AAPL", req[4])

	gw.TickPrice(id, ibkr.TickDelayedClose, 100)
	gw.TickPrice(id, ibkr.TickDelayedLast, 105)
	gw.TickPrice(id, ibkr.TickBid, -1)
	gw.TickPrice(id, ibkr.TickAsk, 105.1)
	gw.TickSize(id, ibkr.TickDelayedVolume, 1234)

	require.Eventually(t, func() bool {
		md, ok := st.MarketData("AAPL")
		return ok && md.Volume == 1234
	}, waitFor, 5*time.Millisecond)

	md, _ := st.MarketData("AAPL")
	assert.Equal(t, 105.0, md.Price)
	assert.Equal(t, 100.0, md.Close)
	assert.Equal(t, 105.1, md.Ask)
	assert.Zero(t, md.Bid)
	assert.InDelta(t, 5.0, md.Change, 1e-9)
	assert.InDelta(t, 5.0, md.ChangePercent, 1e-9)
	assert.Equal(t, model.DataStock, md.DataType)
}

func TestTicksForUnknownRequestAreIgnored(t *testing.T) {
	gw := ibkrtest.NewGateway(t)
	_, st := startSession(t, gw)

	gw.TickPrice(4242, ibkr.TickLast, 10)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, st.AllMarketData())
}

func TestOptionComputationStoresGreeks(t *testing.T) {
	gw := ibkrtest.NewGateway(t)
	s, st := startSession(t, gw)

	key := model.OptionKey("AAPL", 150, "01/17/2025", "C")
	id, err := s.RequestMarketData(key, ibkr.OptionContract("AAPL", "20250117", 150, ibkr.RightCall), true)
	require.NoError(t, err)

	skipKey := model.OptionKey("AAPL", 160, "01/17/2025", "C")
	skipID, err := s.RequestMarketData(skipKey, ibkr.OptionContract("AAPL", "20250117", 160, ibkr.RightCall), true)
	require.NoError(t, err)

	gw.OptionComputation(skipID, ibkr.OptionComputation{TickType: ibkr.TickModelOption, ImpliedVol: -1, Delta: 0.4})
	gw.OptionComputation(id, ibkr.OptionComputation{
		TickType:   ibkr.TickModelOption,
		ImpliedVol: 0.3,
		Delta:      0.55,
		Gamma:      0.02,
		Vega:       0.12,
		Theta:      -0.05,
		OptPrice:   2.5,
	})

	require.Eventually(t, func() bool {
		_, ok := st.Greeks(key)
		return ok
	}, waitFor, 5*time.Millisecond)

	g, _ := st.Greeks(key)
	assert.Equal(t, 0.55, g.Delta)
	assert.Equal(t, 0.3, g.ImpliedVolatility)
	md, ok := st.MarketData(key)
	require.True(t, ok)
	assert.Equal(t, 2.5, md.Price)
	assert.Equal(t, model.DataOption, md.DataType)

	_, ok = st.Greeks(skipKey)
	assert.False(t, ok)
}

func TestPortfolioAndAccountValues(t *testing.T) {
	gw := ibkrtest.NewGateway(t)
	_, st := startSession(t, gw)

	gw.Portfolio(ibkr.PortfolioUpdate{
		Contract:      ibkr.OptionContract("AAPL", "20250117", 150, ibkr.RightCall),
		Position:      2,
		MarketPrice:   5,
		MarketValue:   1000,
		AverageCost:   300,
		UnrealizedPnL: 400,
		Account:       "DU111111",
	})
	gw.Portfolio(ibkr.PortfolioUpdate{
		Contract:    ibkr.StockContract("MSFT"),
		Position:    10,
		MarketPrice: 400,
		MarketValue: 4000,
		AverageCost: 350,
		Account:     "MyIRA",
	})
	gw.AccountValue("NetLiquidation", "100000", "USD", "DU111111")
	gw.AccountValue("BuyingPower", "50000", "USD", "DU111111")
	gw.AccountValue("Leverage-S", "1.2", "", "DU111111")
	gw.AccountDownloadEnd("DU111111")

	require.Eventually(t, func() bool {
		_, ok := st.AccountValues("DU111111")["BuyingPower"]
		return ok
	}, waitFor, 5*time.Millisecond)

	pf, ok := st.Portfolio("DU111111")
	require.True(t, ok)
	pos := pf.Position("AAPL", 150, "01/17/2025", "C")
	require.NotNil(t, pos)
	assert.Equal(t, model.PositionCall, pos.PositionType)
	assert.Equal(t, 2.0, pos.Quantity)
	assert.Equal(t, 1000.0, pos.MarketValue)
	assert.Equal(t, model.AccountIndividualTaxable, pos.AccountType)
	assert.Equal(t, 50000.0, pf.BuyingPower)

	values := st.AccountValues("DU111111")
	assert.Equal(t, "100000", values["NetLiquidation"].Value)
	assert.NotContains(t, values, "Leverage-S")

	ira, ok := st.Portfolio("MyIRA")
	require.True(t, ok)
	assert.Equal(t, model.AccountRetirementTaxFree, ira.AccountType)
	require.NotNil(t, ira.Position("MSFT", 0, "", ""))

	// a closed position disappears
	gw.Portfolio(ibkr.PortfolioUpdate{Contract: ibkr.StockContract("MSFT"), Account: "MyIRA"})
	require.Eventually(t, func() bool {
		ira, _ := st.Portfolio("MyIRA")
		return ira.Position("MSFT", 0, "", "") == nil
	}, waitFor, 5*time.Millisecond)
}

func TestPositionFeedKeepsKnownPrices(t *testing.T) {
	gw := ibkrtest.NewGateway(t)
	_, st := startSession(t, gw)

	gw.Portfolio(ibkr.PortfolioUpdate{
		Contract:    ibkr.StockContract("TSLA"),
		Position:    5,
		MarketPrice: 200,
		MarketValue: 1000,
		AverageCost: 180,
		Account:     "DU111111",
	})
	gw.Position("DU111111", ibkr.StockContract("TSLA"), 8, 190)
	gw.PositionEnd()

	require.Eventually(t, func() bool {
		pf, _ := st.Portfolio("DU111111")
		p := pf.Position("TSLA", 0, "", "")
		return p != nil && p.Quantity == 8
	}, waitFor, 5*time.Millisecond)

	pf, _ := st.Portfolio("DU111111")
	p := pf.Position("TSLA", 0, "", "")
	assert.Equal(t, 200.0, p.CurrentPrice)
	assert.Equal(t, 190.0, p.AvgCost)
	assert.InDelta(t, 1600.0, p.MarketValue, 1e-9)
}

func TestMarketDataErrorNotifiesListeners(t *testing.T) {
	gw := ibkrtest.NewGateway(t)
	s, _ := startSession(t, gw)

	var mu sync.Mutex
	var failed []string
	remove := s.OnMarketDataError(func(symbol string, err *ibkr.APIError) {
		mu.Lock()
		defer mu.Unlock()
		failed = append(failed, symbol+":"+strconv.Itoa(err.Code))
	})
	defer remove()

	id, err := s.RequestMarketData("ZZZZ", ibkr.StockContract("ZZZZ"), false)
	require.NoError(t, err)
	gw.Error(id, 200, "No security definition has been found")
	gw.Error(-1, 2104, "Market data farm connection is OK:usfarm")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(failed) == 1
	}, waitFor, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"ZZZZ:200"}, failed)
	mu.Unlock()
	assert.True(t, s.Connected())

	// the failed request no longer routes ticks
	_, _, ok := s.lookup(id)
	assert.False(t, ok)
}

func TestContractDetailsAndOptionParams(t *testing.T) {
	gw := ibkrtest.NewGateway(t)
	s, _ := startSession(t, gw)

	gw.Handle(ibkr.OutReqContractDetails, func(g *ibkrtest.Gateway, fields []string) {
		id, _ := strconv.Atoi(fields[2])
		if fields[4] == "NOPE" {
			g.Error(id, 200, "No security definition has been found")
			return
		}
		g.ContractDetails(id, ibkr.ContractDetails{
			Contract:   ibkr.Contract{ConID: 265598, Symbol: fields[4], SecType: ibkr.SecTypeStock, Exchange: "SMART", Currency: "USD"},
			MarketName: "NMS",
			MinTick:    0.01,
		})
	})
	gw.Handle(ibkr.OutReqSecDefOptParams, func(g *ibkrtest.Gateway, fields []string) {
		id, _ := strconv.Atoi(fields[1])
		g.OptionParams(id, ibkr.OptionParams{
			Exchange:        "SMART",
			UnderlyingConID: 265598,
			TradingClass:    "AAPL",
			Multiplier:      "100",
			Expirations:     []string{"20250117", "20250221"},
			Strikes:         []float64{145, 150, 155},
		})
	})

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	details, err := s.RequestContractDetails(ctx, "AAPL", ibkr.StockContract("AAPL"))
	require.NoError(t, err)
	require.Len(t, details, 1)
	assert.Equal(t, int64(265598), details[0].Contract.ConID)

	params, err := s.RequestOptionParams(ctx, "AAPL", 265598)
	require.NoError(t, err)
	require.Len(t, params, 1)
	assert.Equal(t, []string{"20250117", "20250221"}, params[0].Expirations)
	assert.Equal(t, []float64{145, 150, 155}, params[0].Strikes)

	_, err = s.RequestContractDetails(ctx, "NOPE", ibkr.StockContract("NOPE"))
	var apiErr *ibkr.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 200, apiErr.Code)
}

func TestContractDetailsHonoursContext(t *testing.T) {
	gw := ibkrtest.NewGateway(t)
	s, _ := startSession(t, gw)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := s.RequestContractDetails(ctx, "SLOW", ibkr.StockContract("SLOW"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReconnectsAfterDrop(t *testing.T) {
	gw := ibkrtest.NewGateway(t)
	s, st := startSession(t, gw)

	var mu sync.Mutex
	var changes []bool
	remove := s.OnConnectionChange(func(up bool) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, up)
	})
	defer remove()

	gw.DropConnections()
	require.Eventually(t, func() bool { return gw.Sessions() == 2 && s.Connected() }, waitFor, 5*time.Millisecond)
	assert.True(t, st.SystemStatus().IBKRConnected)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{false, true}, changes)
}

func TestConnectionErrorTriggersReconnect(t *testing.T) {
	gw := ibkrtest.NewGateway(t)
	s, _ := startSession(t, gw)

	gw.Error(-1, 1100, "Connectivity between IB and Trader Workstation has been lost.")
	require.Eventually(t, func() bool { return gw.Sessions() == 2 && s.Connected() }, waitFor, 5*time.Millisecond)
}

func TestRunGivesUpAfterMaxAttempts(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	cfg := testConfig("127.0.0.1", port)
	cfg.IBKR.MaxReconnectAttempts = 2
	s := NewSession(cfg, store.New(store.Options{}))

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	err = s.Run(ctx)
	require.ErrorIs(t, err, ErrReconnectExhausted)
	assert.False(t, s.Connected())
	assert.Equal(t, 2, s.Breaker().Snapshot().Failures)
}

func TestRequestsRequireConnection(t *testing.T) {
	s := NewSession(testConfig("127.0.0.1", 1), store.New(store.Options{}))

	_, err := s.RequestMarketData("AAPL", ibkr.StockContract("AAPL"), true)
	assert.ErrorIs(t, err, ibkr.ErrNotConnected)
	assert.ErrorIs(t, s.RequestAccountUpdates("DU1"), ibkr.ErrNotConnected)
	assert.ErrorIs(t, s.RequestPositions(), ibkr.ErrNotConnected)
	_, err = s.RequestOptionParams(context.Background(), "AAPL", 1)
	assert.True(t, errors.Is(err, ibkr.ErrNotConnected))
}

func TestExpiryConversion(t *testing.T) {
	assert.Equal(t, "01/17/2025", DisplayExpiry("20250117"))
	assert.Equal(t, "202501", DisplayExpiry("202501"))
	assert.Equal(t, "01/17/2025", DisplayExpiry("01/17/2025"))
	assert.Equal(t, "20250117", GatewayExpiry("01/17/2025"))
	assert.Equal(t, "20250117", GatewayExpiry("20250117"))
}

func TestPositionType(t *testing.T) {
	assert.Equal(t, model.PositionCall, positionType(ibkr.OptionContract("X", "20250117", 1, "C")))
	assert.Equal(t, model.PositionPut, positionType(ibkr.OptionContract("X", "20250117", 1, "P")))
	assert.Equal(t, model.PositionStock, positionType(ibkr.StockContract("X")))
	assert.Equal(t, model.PositionStock, positionType(ibkr.IndexContract("SPX", "")))
}
