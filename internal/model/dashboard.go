// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"maps"
	"slices"
	"time"
)

// Alert is a rule outcome surfaced to the dashboard.
type Alert struct {
	ID           string     `json:"id"`
	Type         AlertType  `json:"type"`
	Level        AlertLevel `json:"level"`
	Title        string     `json:"title"`
	Message      string     `json:"message"`
	Symbol       string     `json:"symbol,omitempty"`
	AccountID    string     `json:"account_id,omitempty"`
	Value        float64    `json:"value,omitempty"`
	Threshold    float64    `json:"threshold,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Acknowledged bool       `json:"acknowledged"`
}

// Active reports whether the alert is unacknowledged and not yet expired.
func (a *Alert) Active(now time.Time) bool {
	if a.Acknowledged {
		return false
	}
	return a.ExpiresAt == nil || a.ExpiresAt.After(now)
}

// SystemStatus is the health block shown in the dashboard header.
type SystemStatus struct {
	IBKRConnected        bool       `json:"ibkr_connected"`
	WebsocketClients     int        `json:"websocket_clients"`
	LastMarketDataUpdate *time.Time `json:"last_market_data_update"`
	LastPortfolioUpdate  *time.Time `json:"last_portfolio_update"`
	TotalPositions       int        `json:"total_positions"`
	ActiveAlerts         int        `json:"active_alerts"`
	SystemUptime         float64    `json:"system_uptime"`
	MemoryUsage          float64    `json:"memory_usage"`
	CPUUsage             float64    `json:"cpu_usage"`
}

// DashboardData is a consistent snapshot of everything the UI renders.
// Portfolios are keyed by account id.
type DashboardData struct {
	Timestamp          time.Time             `json:"timestamp"`
	MarketIndices      IndexData             `json:"market_indices"`
	Portfolios         map[string]*Portfolio `json:"portfolios"`
	Alerts             []Alert               `json:"alerts"`
	PerformanceMetrics PerformanceMetrics    `json:"performance_metrics"`
	RiskMetrics        RiskMetrics           `json:"risk_metrics"`
	SystemStatus       SystemStatus          `json:"system_status"`
}

// DashboardSummary totals all portfolios of a snapshot.
type DashboardSummary struct {
	TotalPortfolioValue float64 `json:"total_portfolio_value"`
	TotalDayPnL         float64 `json:"total_day_pnl"`
	TotalDayPnLPercent  float64 `json:"total_day_pnl_percent"`
	TotalUnrealizedPnL  float64 `json:"total_unrealized_pnl"`
	TotalPositions      int     `json:"total_positions"`
	ActiveAlerts        int     `json:"active_alerts"`
}

// Summary computes portfolio totals and counts the active alerts.
func (d *DashboardData) Summary() DashboardSummary {
	var s DashboardSummary
	for _, p := range d.Portfolios {
		s.TotalPortfolioValue += p.TotalValue
		s.TotalDayPnL += p.DayPnL
		s.TotalUnrealizedPnL += p.TotalPnL
		s.TotalPositions += len(p.Positions)
	}
	if s.TotalPortfolioValue > 0 {
		s.TotalDayPnLPercent = s.TotalDayPnL / s.TotalPortfolioValue * 100
	}
	for i := range d.Alerts {
		if d.Alerts[i].Active(d.Timestamp) {
			s.ActiveAlerts++
		}
	}
	return s
}

// PortfoliosByType groups the portfolios by account type, each group ordered
// by account id.
func (d *DashboardData) PortfoliosByType() map[AccountType][]*Portfolio {
	out := make(map[AccountType][]*Portfolio, len(AccountTypes))
	for _, id := range slices.Sorted(maps.Keys(d.Portfolios)) {
		p := d.Portfolios[id]
		out[p.AccountType] = append(out[p.AccountType], p)
	}
	return out
}

// PortfolioByType returns the first portfolio of the given type, or nil.
func (d *DashboardData) PortfolioByType(t AccountType) *Portfolio {
	if ps := d.PortfoliosByType()[t]; len(ps) > 0 {
		return ps[0]
	}
	return nil
}

// StreamingUpdate is the envelope for every message pushed to dashboard clients.
type StreamingUpdate struct {
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}
