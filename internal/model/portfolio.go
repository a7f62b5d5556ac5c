// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"strconv"
	"strings"
	"time"
)

// OptionMultiplier is the contract size of an equity option.
const OptionMultiplier = 100

// Position is one holding in an account. Option fields are zero for stock.
type Position struct {
	Symbol        string       `json:"symbol"`
	AccountID     string       `json:"account_id"`
	AccountType   AccountType  `json:"account_type"`
	PositionType  PositionType `json:"position_type"`
	Quantity      float64      `json:"quantity"`
	AvgCost       float64      `json:"avg_cost"`
	CurrentPrice  float64      `json:"current_price"`
	MarketValue   float64      `json:"market_value"`
	UnrealizedPnL float64      `json:"unrealized_pnl"`
	RealizedPnL   float64      `json:"realized_pnl"`
	DayPnL        float64      `json:"day_pnl"`

	StrikePrice float64 `json:"strike_price,omitempty"`
	Expiry      string  `json:"expiry,omitempty"`
	OptionType  string  `json:"option_type,omitempty"`
	Greeks      *Greeks `json:"greeks,omitempty"`

	Strategy   string             `json:"strategy"`
	Confidence int                `json:"confidence"`
	Signal     Signal             `json:"signal"`
	Priority   Priority           `json:"priority"`
	Notes      string             `json:"notes"`
	Levels     map[string]float64 `json:"levels"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsOption reports whether the position is a call or a put.
func (p *Position) IsOption() bool {
	return p.PositionType == PositionCall || p.PositionType == PositionPut
}

// Multiplier returns the contract size used for value and P&L.
func (p *Position) Multiplier() float64 {
	if p.IsOption() {
		return OptionMultiplier
	}
	return 1
}

// Normalize fills analysis defaults and derives market value and unrealized
// P&L when the broker did not supply them.
func (p *Position) Normalize(now time.Time) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}
	if p.Levels == nil {
		p.Levels = map[string]float64{}
	}
	if p.Signal == "" {
		p.Signal = SignalHold
	}
	if p.Priority == "" {
		p.Priority = PriorityMedium
	}
	if p.Confidence == 0 {
		p.Confidence = 50
	}
	if p.MarketValue == 0 {
		p.MarketValue = p.Quantity * p.CurrentPrice * p.Multiplier()
	}
	if p.UnrealizedPnL == 0 {
		p.UnrealizedPnL = (p.CurrentPrice - p.AvgCost) * p.Quantity * p.Multiplier()
	}
}

// UpdatePrice marks the position to price. DayPnL becomes the change in
// market value caused by this update.
func (p *Position) UpdatePrice(price float64, now time.Time) {
	old := p.MarketValue
	p.CurrentPrice = price
	p.MarketValue = p.Quantity * price * p.Multiplier()
	p.UnrealizedPnL = (price - p.AvgCost) * p.Quantity * p.Multiplier()
	p.DayPnL = p.MarketValue - old
	p.UpdatedAt = now
}

// Matches reports whether the position has the given contract identity.
func (p *Position) Matches(symbol string, strike float64, expiry, optionType string) bool {
	return p.Symbol == symbol && p.StrikePrice == strike && p.Expiry == expiry && p.OptionType == optionType
}

// Key identifies the contract: symbol, then strike, right and expiry for options.
func (p *Position) Key() string {
	if !p.IsOption() {
		return p.Symbol
	}
	return OptionKey(p.Symbol, p.StrikePrice, p.Expiry, p.OptionType)
}

// OptionKey builds the key used for option greeks and option detail lookups.
func OptionKey(symbol string, strike float64, expiry, right string) string {
	return strings.Join([]string{symbol, strconv.FormatFloat(strike, 'f', -1, 64), expiry, right}, "_")
}

// Portfolio is the state of a single account.
type Portfolio struct {
	AccountID       string      `json:"account_id"`
	AccountType     AccountType `json:"account_type"`
	Positions       []Position  `json:"positions"`
	CashBalance     float64     `json:"cash_balance"`
	TotalValue      float64     `json:"total_value"`
	DayPnL          float64     `json:"day_pnl"`
	TotalPnL        float64     `json:"total_pnl"`
	BuyingPower     float64     `json:"buying_power"`
	MarginUsed      float64     `json:"margin_used"`
	TotalPnLPercent float64     `json:"total_pnl_percent"`
	DayPnLPercent   float64     `json:"day_pnl_percent"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// NewPortfolio returns an empty portfolio for the account.
func NewPortfolio(accountID string, accountType AccountType, now time.Time) *Portfolio {
	return &Portfolio{
		AccountID:   accountID,
		AccountType: accountType,
		Positions:   []Position{},
		UpdatedAt:   now,
	}
}

// CalculateTotals recomputes value, P&L and the percentage fields.
func (pf *Portfolio) CalculateTotals(now time.Time) {
	var positionValue, day, total float64
	for i := range pf.Positions {
		positionValue += pf.Positions[i].MarketValue
		day += pf.Positions[i].DayPnL
		total += pf.Positions[i].UnrealizedPnL + pf.Positions[i].RealizedPnL
	}
	pf.TotalValue = positionValue + pf.CashBalance
	pf.DayPnL = day
	pf.TotalPnL = total

	if pf.TotalValue > 0 {
		pf.DayPnLPercent = pf.DayPnL / pf.TotalValue * 100
		if invested := pf.TotalValue - pf.TotalPnL; invested > 0 {
			pf.TotalPnLPercent = pf.TotalPnL / invested * 100
		}
	}
	pf.UpdatedAt = now
}

// AddPosition inserts pos, replacing any position with the same contract.
func (pf *Portfolio) AddPosition(pos Position, now time.Time) {
	for i := range pf.Positions {
		if pf.Positions[i].Matches(pos.Symbol, pos.StrikePrice, pos.Expiry, pos.OptionType) {
			pf.Positions[i] = pos
			pf.CalculateTotals(now)
			return
		}
	}
	pf.Positions = append(pf.Positions, pos)
	pf.CalculateTotals(now)
}

// RemovePosition deletes the matching position and reports whether one existed.
func (pf *Portfolio) RemovePosition(symbol string, strike float64, expiry, optionType string, now time.Time) bool {
	for i := range pf.Positions {
		if pf.Positions[i].Matches(symbol, strike, expiry, optionType) {
			pf.Positions = append(pf.Positions[:i], pf.Positions[i+1:]...)
			pf.CalculateTotals(now)
			return true
		}
	}
	return false
}

// Position returns a pointer into the portfolio for the matching contract.
func (pf *Portfolio) Position(symbol string, strike float64, expiry, optionType string) *Position {
	for i := range pf.Positions {
		if pf.Positions[i].Matches(symbol, strike, expiry, optionType) {
			return &pf.Positions[i]
		}
	}
	return nil
}

// Clone returns a deep copy safe to hand out of a lock.
func (pf *Portfolio) Clone() *Portfolio {
	out := *pf
	out.Positions = make([]Position, len(pf.Positions))
	for i, p := range pf.Positions {
		if p.Greeks != nil {
			g := *p.Greeks
			p.Greeks = &g
		}
		if p.Levels != nil {
			lv := make(map[string]float64, len(p.Levels))
			for k, v := range p.Levels {
				lv[k] = v
			}
			p.Levels = lv
		}
		out.Positions[i] = p
	}
	return &out
}

// PerformanceMetrics summarise closed-trade performance.
type PerformanceMetrics struct {
	TotalReturn      float64 `json:"total_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	WinRate          float64 `json:"win_rate"`
	ProfitFactor     float64 `json:"profit_factor"`
	AvgWin           float64 `json:"avg_win"`
	AvgLoss          float64 `json:"avg_loss"`
	TotalTrades      int     `json:"total_trades"`
	WinningTrades    int     `json:"winning_trades"`
	LosingTrades     int     `json:"losing_trades"`
}

// RiskMetrics aggregate exposure across all portfolios.
type RiskMetrics struct {
	PortfolioBeta     float64 `json:"portfolio_beta"`
	PortfolioDelta    float64 `json:"portfolio_delta"`
	PortfolioGamma    float64 `json:"portfolio_gamma"`
	PortfolioTheta    float64 `json:"portfolio_theta"`
	PortfolioVega     float64 `json:"portfolio_vega"`
	VaR95             float64 `json:"var_95"`
	ExpectedShortfall float64 `json:"expected_shortfall"`
	CorrelationToSPY  float64 `json:"correlation_to_spy"`
}
