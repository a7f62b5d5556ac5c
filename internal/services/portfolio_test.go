// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/qtrader/internal/broker/brokertest"
	"github.com/ManuGH/qtrader/internal/model"
)

func TestPortfolioRefreshesPricesFromMarketData(t *testing.T) {
	st, _ := newTestStore()
	gw := brokertest.New(st, "DU1")
	s := NewPortfolioService(gw, st, testConfig())
	st.UpdatePosition("DU1", model.AccountIndividualTaxable, stock("AAPL", 10, 100, 100))
	st.UpdatePosition("DU1", model.AccountIndividualTaxable, stock("MSFT", 5, 300, 300))
	st.UpdateMarketData(model.MarketData{Symbol: "AAPL", Price: 110})
	st.UpdateMarketData(model.MarketData{Symbol: "MSFT", Price: 0})

	n, err := s.runCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pf, ok := st.Portfolio("DU1")
	require.True(t, ok)
	aapl := pf.Position("AAPL", 0, "", "")
	require.NotNil(t, aapl)
	assert.Equal(t, 110.0, aapl.CurrentPrice)
	assert.InDelta(t, 1100, aapl.MarketValue, 1e-9)
	assert.InDelta(t, 100, aapl.UnrealizedPnL, 1e-9)
	assert.InDelta(t, 100, aapl.DayPnL, 1e-9)
	assert.Equal(t, 300.0, pf.Position("MSFT", 0, "", "").CurrentPrice, "zero quotes are ignored")
	assert.InDelta(t, 1100+1500, pf.TotalValue, 1e-9)

	// An unchanged quote leaves the day P&L of the last move in place.
	n, err = s.runCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	pf, _ = st.Portfolio("DU1")
	assert.InDelta(t, 100, pf.Position("AAPL", 0, "", "").DayPnL, 1e-9)
}

func TestPortfolioRequestsAccountDataOnSchedule(t *testing.T) {
	st, clk := newTestStore()
	gw := brokertest.New(st, "DU2")
	cfg := testConfig()
	cfg.Accounts = map[string]string{"DU1": "retirement_tax_free"}
	s := NewPortfolioService(gw, st, cfg)

	_, err := s.runCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"DU1", "DU2"}, gw.AccountRequests())
	assert.Equal(t, 1, gw.PositionRequests())

	clk.Advance(30 * time.Second)
	_, err = s.runCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, gw.PositionRequests(), "not due yet")

	clk.Advance(30 * time.Second)
	_, err = s.runCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, gw.PositionRequests())

	pf, ok := st.Portfolio("DU2")
	require.True(t, ok, "announced accounts get a portfolio")
	assert.Equal(t, model.AccountIndividualTaxable, pf.AccountType)
}

func TestPortfolioRunCreatesConfiguredPortfolios(t *testing.T) {
	st, _ := newTestStore()
	gw := brokertest.New(st)
	cfg := testConfig()
	cfg.Accounts = map[string]string{"DU1": "retirement_tax_free"}
	s := NewPortfolioService(gw, st, cfg)

	stop := runService(t, s)
	require.Eventually(t, func() bool { _, ok := st.Portfolio("DU1"); return ok }, time.Second, 5*time.Millisecond)
	stop()

	pf, _ := st.Portfolio("DU1")
	assert.Equal(t, model.AccountRetirementTaxFree, pf.AccountType)
}

func TestPortfolioSkipsCycleWhenDisconnected(t *testing.T) {
	st, _ := newTestStore()
	gw := brokertest.New(st, "DU1")
	gw.SetConnected(false)
	s := NewPortfolioService(gw, st, testConfig())

	n, err := s.runCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, gw.AccountRequests())
}

func TestPortfolioAccountLifecycle(t *testing.T) {
	st, _ := newTestStore()
	gw := brokertest.New(st)
	s := NewPortfolioService(gw, st, testConfig())

	require.NoError(t, s.AddAccount("DU9"))
	require.NoError(t, s.AddAccount("DU9"))
	assert.Equal(t, []string{"DU9"}, gw.AccountRequests(), "adding twice requests once")
	_, ok := st.Portfolio("DU9")
	assert.True(t, ok)

	require.NoError(t, s.ForceRefresh("DU9"))
	assert.Equal(t, 1, gw.PositionRequests())
	assert.ErrorIs(t, s.ForceRefresh("NOPE"), ErrUnknownAccount)

	require.NoError(t, s.RemoveAccount("DU9"))
	assert.Equal(t, []string{"DU9"}, gw.AccountCancels())
	_, ok = st.Portfolio("DU9")
	assert.False(t, ok)
	assert.ErrorIs(t, s.RemoveAccount("DU9"), ErrUnknownAccount)
}

func TestPortfolioDetails(t *testing.T) {
	st, clk := newTestStore()
	gw := brokertest.New(st)
	s := NewPortfolioService(gw, st, testConfig())
	exp := expiryIn(clk.Now(), 30)
	st.UpdatePosition("DU1", model.AccountIndividualTaxable, stock("AAPL", 10, 100, 110))
	st.UpdatePosition("DU1", model.AccountIndividualTaxable, option("AAPL", "C", 120, exp, -1, 2, 1.5))
	st.UpdatePosition("DU2", model.AccountRetirementTaxFree, stock("AAPL", 3, 90, 110))
	require.NoError(t, st.UpdateAccountValue("DU1", model.AccountIndividualTaxable, "BuyingPower", "5000", "USD"))
	st.UpdateMarketData(model.MarketData{Symbol: "AAPL", Price: 110})

	d, ok := s.AccountDetails("DU1")
	require.True(t, ok)
	assert.Equal(t, 2, d.PositionCount)
	assert.Equal(t, 1, d.OptionCount)
	assert.Equal(t, 1, d.StockCount)
	assert.Equal(t, "5000", d.AccountValues["BuyingPower"].Value)
	_, ok = s.AccountDetails("NOPE")
	assert.False(t, ok)

	all := s.PositionDetails("", "AAPL")
	assert.Len(t, all.Positions, 3)
	require.NotNil(t, all.MarketData)
	assert.Equal(t, 110.0, all.MarketData.Price)

	one := s.PositionDetails("DU2", "AAPL")
	require.Len(t, one.Positions, 1)
	assert.Equal(t, "DU2", one.Positions[0].AccountID)

	none := s.PositionDetails("", "ZZZ")
	assert.NotNil(t, none.Positions)
	assert.Empty(t, none.Positions)
	assert.Nil(t, none.MarketData)

	sum := s.Summary()
	assert.Equal(t, 3, sum.TotalPositions)
	assert.Equal(t, 2, sum.PortfolioCount)
}

func TestPortfolioRunCancelsAccountUpdates(t *testing.T) {
	st, _ := newTestStore()
	gw := brokertest.New(st, "DU1")
	s := NewPortfolioService(gw, st, testConfig())

	stop := runService(t, s)
	require.Eventually(t, func() bool { return len(gw.AccountRequests()) > 0 }, time.Second, 5*time.Millisecond)
	assert.True(t, s.Stats().ServiceRunning)
	stop()

	assert.Equal(t, []string{"DU1"}, gw.AccountCancels())
	stats := s.Stats()
	assert.False(t, stats.ServiceRunning)
	assert.Equal(t, []string{"DU1"}, stats.Accounts)
}
