// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"math"
	"time"
)

// MarketData is the latest quote for one symbol. Close is the previous close.
type MarketData struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	Bid           float64   `json:"bid"`
	Ask           float64   `json:"ask"`
	Volume        int64     `json:"volume"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Close         float64   `json:"close"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"change_percent"`
	Timestamp     time.Time `json:"timestamp"`
	DataType      DataType  `json:"data_type"`
}

// Recompute derives change fields from Price and Close.
func (m *MarketData) Recompute() {
	if m.Close > 0 {
		m.Change = m.Price - m.Close
		m.ChangePercent = m.Change / m.Close * 100
	}
}

// Index slots used by the dashboard header.
const (
	IndexSPY     = "SPY"
	IndexQQQ     = "QQQ"
	IndexNASDAQ  = "NASDAQ"
	IndexVIX     = "VIX"
	IndexDXY     = "DXY"
	IndexTenYear = "10Y"
)

// IndexSymbols maps an index slot to the feed symbol that populates it.
var IndexSymbols = map[string]string{
	IndexSPY:     "SPY",
	IndexQQQ:     "QQQ",
	IndexNASDAQ:  "^IXIC",
	IndexVIX:     "VIX",
	IndexDXY:     "DX-Y.NYB",
	IndexTenYear: "^TNX",
}

// IsIndexSymbol reports whether a feed symbol backs one of the index slots.
func IsIndexSymbol(symbol string) bool {
	for _, s := range IndexSymbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// IndexData holds the index quotes keyed by slot. Missing slots are absent.
type IndexData map[string]MarketData

// Greeks are option sensitivities. Theta is per day; vega and rho are per 1%.
type Greeks struct {
	Delta             float64   `json:"delta"`
	Gamma             float64   `json:"gamma"`
	Theta             float64   `json:"theta"`
	Vega              float64   `json:"vega"`
	Rho               float64   `json:"rho"`
	ImpliedVolatility float64   `json:"implied_volatility"`
	Timestamp         time.Time `json:"timestamp"`
}

// Sanitized returns g with broker sentinel values zeroed. The gateway reports
// -2 for unknown greeks, -1 for unknown vol and Double.MAX when a value was
// never computed.
func (g Greeks) Sanitized() Greeks {
	out := g
	if unset(g.Delta) || g.Delta == -2 || math.Abs(g.Delta) > 1 {
		out.Delta = 0
	}
	if unset(g.Gamma) || g.Gamma == -2 || g.Gamma < 0 {
		out.Gamma = 0
	}
	if unset(g.Theta) || g.Theta == -2 {
		out.Theta = 0
	}
	if unset(g.Vega) || g.Vega == -2 || g.Vega < 0 {
		out.Vega = 0
	}
	if unset(g.Rho) || g.Rho == -2 {
		out.Rho = 0
	}
	if unset(g.ImpliedVolatility) || g.ImpliedVolatility <= 0 {
		out.ImpliedVolatility = 0
	}
	return out
}

// Empty reports whether every sensitivity is zero.
func (g Greeks) Empty() bool {
	return g.Delta == 0 && g.Gamma == 0 && g.Theta == 0 && g.Vega == 0 && g.ImpliedVolatility == 0
}

func unset(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) > 1e300
}

// OptionChain is the quote set of one expiry of an underlying. Strikes are
// keyed by their decimal string form.
type OptionChain struct {
	UnderlyingSymbol string                `json:"underlying_symbol"`
	UnderlyingPrice  float64               `json:"underlying_price"`
	Expiry           string                `json:"expiry"`
	Calls            map[string]MarketData `json:"calls"`
	Puts             map[string]MarketData `json:"puts"`
	Timestamp        time.Time             `json:"timestamp"`
}

// TickData is a single raw tick as reported by the broker.
type TickData struct {
	Symbol    string    `json:"symbol"`
	TickType  int       `json:"tick_type"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}
