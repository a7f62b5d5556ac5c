// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 6, 2, 15, 30, 0, 0, time.UTC)

func TestPositionNormalizeOption(t *testing.T) {
	p := Position{Symbol: "AAPL", PositionType: PositionCall, Quantity: 2, AvgCost: 1.5, CurrentPrice: 2}
	p.Normalize(now)

	assert.InDelta(t, 400.0, p.MarketValue, 1e-9)
	assert.InDelta(t, 100.0, p.UnrealizedPnL, 1e-9)
	assert.Equal(t, SignalHold, p.Signal)
	assert.Equal(t, PriorityMedium, p.Priority)
	assert.Equal(t, 50, p.Confidence)
	assert.NotNil(t, p.Levels)
	assert.Equal(t, now, p.CreatedAt)
}

func TestPositionNormalizeKeepsBrokerValues(t *testing.T) {
	p := Position{Symbol: "MSFT", PositionType: PositionStock, Quantity: 10, AvgCost: 100, CurrentPrice: 110, MarketValue: 1234, UnrealizedPnL: 7}
	p.Normalize(now)
	assert.Equal(t, 1234.0, p.MarketValue)
	assert.Equal(t, 7.0, p.UnrealizedPnL)
}

func TestPositionUpdatePrice(t *testing.T) {
	p := Position{Symbol: "MSFT", PositionType: PositionStock, Quantity: 10, AvgCost: 100, CurrentPrice: 100}
	p.Normalize(now)
	p.UpdatePrice(105, now.Add(time.Minute))

	assert.InDelta(t, 1050.0, p.MarketValue, 1e-9)
	assert.InDelta(t, 50.0, p.UnrealizedPnL, 1e-9)
	assert.InDelta(t, 50.0, p.DayPnL, 1e-9)
	assert.Equal(t, now.Add(time.Minute), p.UpdatedAt)
}

func TestPositionKey(t *testing.T) {
	stock := Position{Symbol: "TSLA", PositionType: PositionStock}
	assert.Equal(t, "TSLA", stock.Key())

	opt := Position{Symbol: "TSLA", PositionType: PositionPut, StrikePrice: 250.5, Expiry: "06/20/2025", OptionType: "P"}
	assert.Equal(t, "TSLA_250.5_06/20/2025_P", opt.Key())
}

func TestPortfolioCalculateTotals(t *testing.T) {
	pf := NewPortfolio("U1", AccountIndividualTaxable, now)
	pf.CashBalance = 1000
	pf.AddPosition(Position{Symbol: "AAPL", PositionType: PositionStock, MarketValue: 2000, UnrealizedPnL: 500, RealizedPnL: -100, DayPnL: 30}, now)

	assert.InDelta(t, 3000.0, pf.TotalValue, 1e-9)
	assert.InDelta(t, 400.0, pf.TotalPnL, 1e-9)
	assert.InDelta(t, 1.0, pf.DayPnLPercent, 1e-9)
	assert.InDelta(t, 400.0/2600.0*100, pf.TotalPnLPercent, 1e-9)
}

func TestPortfolioZeroValueLeavesPercentages(t *testing.T) {
	pf := NewPortfolio("U1", AccountIndividualTaxable, now)
	pf.CalculateTotals(now)
	assert.Zero(t, pf.DayPnLPercent)
	assert.Zero(t, pf.TotalPnLPercent)
}

func TestPortfolioAddReplaceRemove(t *testing.T) {
	pf := NewPortfolio("U1", AccountRetirementTaxFree, now)
	call := Position{Symbol: "SPY", PositionType: PositionCall, StrikePrice: 500, Expiry: "12/19/2025", OptionType: "C", Quantity: 1}
	pf.AddPosition(call, now)
	pf.AddPosition(Position{Symbol: "SPY", PositionType: PositionStock, Quantity: 10}, now)

	call.Quantity = 3
	pf.AddPosition(call, now)
	require.Len(t, pf.Positions, 2)

	got := pf.Position("SPY", 500, "12/19/2025", "C")
	require.NotNil(t, got)
	assert.Equal(t, 3.0, got.Quantity)

	assert.True(t, pf.RemovePosition("SPY", 500, "12/19/2025", "C", now))
	assert.False(t, pf.RemovePosition("SPY", 500, "12/19/2025", "C", now))
	assert.Len(t, pf.Positions, 1)
	assert.Nil(t, pf.Position("QQQ", 0, "", ""))
}

func TestPortfolioCloneIsDeep(t *testing.T) {
	pf := NewPortfolio("U1", AccountIndividualTaxable, now)
	pf.AddPosition(Position{Symbol: "AAPL", Greeks: &Greeks{Delta: 0.5}, Levels: map[string]float64{"stop": 90}}, now)

	c := pf.Clone()
	c.Positions[0].Greeks.Delta = 0.9
	c.Positions[0].Levels["stop"] = 80

	assert.Equal(t, 0.5, pf.Positions[0].Greeks.Delta)
	assert.Equal(t, 90.0, pf.Positions[0].Levels["stop"])
}

func TestGreeksSanitized(t *testing.T) {
	g := Greeks{Delta: -2, Gamma: -0.1, Theta: math.MaxFloat64, Vega: 0.2, Rho: -2, ImpliedVolatility: -1}
	got := g.Sanitized()
	assert.Equal(t, Greeks{Vega: 0.2}, got)

	ok := Greeks{Delta: -0.45, Gamma: 0.03, Theta: -0.12, Vega: 0.2, ImpliedVolatility: 0.31}
	assert.Equal(t, ok, ok.Sanitized())
	assert.True(t, Greeks{}.Empty())
	assert.False(t, ok.Empty())
}

func TestMarketDataRecompute(t *testing.T) {
	md := MarketData{Price: 105, Close: 100}
	md.Recompute()
	assert.InDelta(t, 5.0, md.Change, 1e-9)
	assert.InDelta(t, 5.0, md.ChangePercent, 1e-9)

	none := MarketData{Price: 105}
	none.Recompute()
	assert.Zero(t, none.Change)
}

func TestIsIndexSymbol(t *testing.T) {
	assert.True(t, IsIndexSymbol("^TNX"))
	assert.True(t, IsIndexSymbol("SPY"))
	assert.False(t, IsIndexSymbol("AAPL"))
}

func TestAlertActive(t *testing.T) {
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	assert.True(t, (&Alert{}).Active(now))
	assert.True(t, (&Alert{ExpiresAt: &future}).Active(now))
	assert.False(t, (&Alert{ExpiresAt: &past}).Active(now))
	assert.False(t, (&Alert{Acknowledged: true}).Active(now))
}

func TestDashboardSummaryAndGrouping(t *testing.T) {
	expired := now.Add(-time.Second)
	d := DashboardData{
		Timestamp: now,
		Portfolios: map[string]*Portfolio{
			"U2": {AccountID: "U2", AccountType: AccountIndividualTaxable, TotalValue: 1000, DayPnL: 10, TotalPnL: 50, Positions: make([]Position, 2)},
			"U1": {AccountID: "U1", AccountType: AccountIndividualTaxable, TotalValue: 3000, DayPnL: 30, TotalPnL: -20, Positions: make([]Position, 1)},
			"R1": {AccountID: "R1", AccountType: AccountRetirementTaxFree, TotalValue: 1000},
		},
		Alerts: []Alert{{ID: "a"}, {ID: "b", Acknowledged: true}, {ID: "c", ExpiresAt: &expired}},
	}

	s := d.Summary()
	assert.Equal(t, 5000.0, s.TotalPortfolioValue)
	assert.Equal(t, 40.0, s.TotalDayPnL)
	assert.InDelta(t, 0.8, s.TotalDayPnLPercent, 1e-9)
	assert.Equal(t, 30.0, s.TotalUnrealizedPnL)
	assert.Equal(t, 3, s.TotalPositions)
	assert.Equal(t, 1, s.ActiveAlerts)

	groups := d.PortfoliosByType()
	require.Len(t, groups[AccountIndividualTaxable], 2)
	assert.Equal(t, "U1", groups[AccountIndividualTaxable][0].AccountID)
	assert.Equal(t, "R1", d.PortfolioByType(AccountRetirementTaxFree).AccountID)
}
