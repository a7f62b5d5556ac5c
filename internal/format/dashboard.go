// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package format

import (
	"time"

	"github.com/ManuGH/qtrader/internal/model"
)

// DefaultStrategy labels positions the classifier could not name.
const DefaultStrategy = "Complex Strategy"

// Index is one index quote.
type Index struct {
	Price         float64   `json:"price"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"change_percent"`
	Volume        int64     `json:"volume"`
	Bid           float64   `json:"bid"`
	Ask           float64   `json:"ask"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Timestamp     time.Time `json:"timestamp"`
}

// Position is the table row of one holding.
type Position struct {
	Symbol        string             `json:"symbol"`
	AccountID     string             `json:"account_id"`
	AccountType   model.AccountType  `json:"account_type"`
	PositionType  model.PositionType `json:"position_type"`
	Quantity      float64            `json:"quantity"`
	AvgCost       float64            `json:"avg_cost"`
	CurrentPrice  float64            `json:"current_price"`
	MarketValue   float64            `json:"market_value"`
	UnrealizedPnL float64            `json:"unrealized_pnl"`
	RealizedPnL   float64            `json:"realized_pnl"`
	DayPnL        float64            `json:"day_pnl"`
	StrikePrice   float64            `json:"strike_price"`
	Expiry        string             `json:"expiry"`
	OptionType    string             `json:"option_type"`
	Greeks        *model.Greeks      `json:"greeks"`
	Strategy      string             `json:"strategy"`
	Confidence    int                `json:"confidence"`
	Signal        model.Signal       `json:"signal"`
	Priority      model.Priority     `json:"priority"`
	Notes         string             `json:"notes"`
	Levels        map[string]float64 `json:"levels"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// PortfolioSummary is the header block of one account.
type PortfolioSummary struct {
	TotalValue      float64 `json:"total_value"`
	DayPnL          float64 `json:"day_pnl"`
	DayPnLPercent   float64 `json:"day_pnl_percent"`
	TotalPnL        float64 `json:"total_pnl"`
	TotalPnLPercent float64 `json:"total_pnl_percent"`
	CashBalance     float64 `json:"cash_balance"`
	BuyingPower     float64 `json:"buying_power"`
	MarginUsed      float64 `json:"margin_used"`
	PositionCount   int     `json:"position_count"`
}

// Portfolio is one account with its rows.
type Portfolio struct {
	AccountID string           `json:"account_id"`
	Positions []Position       `json:"positions"`
	Summary   PortfolioSummary `json:"summary"`
}

// Portfolios groups accounts by account type.
type Portfolios struct {
	IndividualTaxable []Portfolio `json:"individual_taxable"`
	RetirementTaxFree []Portfolio `json:"retirement_tax_free"`
}

// Alert is an alert with its level on the numeric scale. Value and Threshold
// are null when unset.
type Alert struct {
	ID           string          `json:"id"`
	Type         model.AlertType `json:"type"`
	Level        int             `json:"level"`
	Title        string          `json:"title"`
	Message      string          `json:"message"`
	Symbol       string          `json:"symbol"`
	AccountID    string          `json:"account_id"`
	Value        *float64        `json:"value"`
	Threshold    *float64        `json:"threshold"`
	CreatedAt    time.Time       `json:"created_at"`
	Acknowledged bool            `json:"acknowledged"`
}

// DashboardData is the payload of a dashboard_update message.
type DashboardData struct {
	IndexData    map[string]Index         `json:"index_data"`
	Portfolios   Portfolios               `json:"portfolios"`
	Alerts       []Alert                  `json:"alerts"`
	SystemStatus model.SystemStatus       `json:"system_status"`
	Summary      model.DashboardSummary   `json:"summary"`
	Performance  model.PerformanceMetrics `json:"performance"`
	Risk         model.RiskMetrics        `json:"risk"`
}

// Dashboard shapes a snapshot into a dashboard_update message.
func Dashboard(d model.DashboardData) model.StreamingUpdate {
	return model.StreamingUpdate{
		Type:      TypeDashboardUpdate,
		Timestamp: d.Timestamp,
		Data:      DashboardPayload(d),
	}
}

// DashboardPayload shapes a snapshot without the message envelope.
func DashboardPayload(d model.DashboardData) DashboardData {
	out := DashboardData{
		IndexData: Indices(d.MarketIndices),
		Portfolios: Portfolios{
			IndividualTaxable: []Portfolio{},
			RetirementTaxFree: []Portfolio{},
		},
		Alerts:       Alerts(d.Alerts),
		SystemStatus: systemStatus(d.SystemStatus),
		Summary:      summary(d.Summary()),
		Performance:  performance(d.PerformanceMetrics),
		Risk:         risk(d.RiskMetrics),
	}
	groups := d.PortfoliosByType()
	for _, pf := range groups[model.AccountIndividualTaxable] {
		out.Portfolios.IndividualTaxable = append(out.Portfolios.IndividualTaxable, FormatPortfolio(pf))
	}
	for _, pf := range groups[model.AccountRetirementTaxFree] {
		out.Portfolios.RetirementTaxFree = append(out.Portfolios.RetirementTaxFree, FormatPortfolio(pf))
	}
	return out
}

// Indices formats every populated index slot.
func Indices(in model.IndexData) map[string]Index {
	out := make(map[string]Index, len(in))
	for slot, md := range in {
		out[slot] = Index{
			Price:         SafeFloat(md.Price, 2),
			Change:        SafeFloat(md.Change, 2),
			ChangePercent: SafeFloat(md.ChangePercent, 2),
			Volume:        md.Volume,
			Bid:           SafeFloat(md.Bid, 2),
			Ask:           SafeFloat(md.Ask, 2),
			High:          SafeFloat(md.High, 2),
			Low:           SafeFloat(md.Low, 2),
			Timestamp:     md.Timestamp,
		}
	}
	return out
}

// FormatPortfolio formats one account.
func FormatPortfolio(pf *model.Portfolio) Portfolio {
	out := Portfolio{
		AccountID: pf.AccountID,
		Positions: make([]Position, 0, len(pf.Positions)),
		Summary: PortfolioSummary{
			TotalValue:      SafeFloat(pf.TotalValue, 2),
			DayPnL:          SafeFloat(pf.DayPnL, 2),
			DayPnLPercent:   SafeFloat(pf.DayPnLPercent, 2),
			TotalPnL:        SafeFloat(pf.TotalPnL, 2),
			TotalPnLPercent: SafeFloat(pf.TotalPnLPercent, 2),
			CashBalance:     SafeFloat(pf.CashBalance, 2),
			BuyingPower:     SafeFloat(pf.BuyingPower, 2),
			MarginUsed:      SafeFloat(pf.MarginUsed, 2),
			PositionCount:   len(pf.Positions),
		},
	}
	for i := range pf.Positions {
		out.Positions = append(out.Positions, FormatPosition(pf.Positions[i]))
	}
	return out
}

// FormatPosition formats one row. Stock rows carry strike 0, an empty expiry
// and option type "0".
func FormatPosition(p model.Position) Position {
	out := Position{
		Symbol:        p.Symbol,
		AccountID:     p.AccountID,
		AccountType:   p.AccountType,
		PositionType:  p.PositionType,
		Quantity:      p.Quantity,
		AvgCost:       SafeFloat(p.AvgCost, 2),
		CurrentPrice:  SafeFloat(p.CurrentPrice, 2),
		MarketValue:   SafeFloat(p.MarketValue, 2),
		UnrealizedPnL: SafeFloat(p.UnrealizedPnL, 2),
		RealizedPnL:   SafeFloat(p.RealizedPnL, 2),
		DayPnL:        SafeFloat(p.DayPnL, 2),
		StrikePrice:   SafeFloat(p.StrikePrice, 2),
		Expiry:        p.Expiry,
		OptionType:    p.OptionType,
		Strategy:      p.Strategy,
		Confidence:    p.Confidence,
		Signal:        p.Signal,
		Priority:      p.Priority,
		Notes:         p.Notes,
		Levels:        p.Levels,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
	if out.OptionType == "" {
		out.OptionType = "0"
	}
	if out.Strategy == "" {
		out.Strategy = DefaultStrategy
	}
	if out.Levels == nil {
		out.Levels = map[string]float64{}
	}
	if p.Greeks != nil {
		g := *p.Greeks
		out.Greeks = &g
	}
	return out
}

// Alerts formats alerts in order.
func Alerts(in []model.Alert) []Alert {
	out := make([]Alert, 0, len(in))
	for _, a := range in {
		fa := Alert{
			ID:           a.ID,
			Type:         a.Type,
			Level:        AlertLevelNumber(a.Level),
			Title:        a.Title,
			Message:      a.Message,
			Symbol:       a.Symbol,
			AccountID:    a.AccountID,
			CreatedAt:    a.CreatedAt,
			Acknowledged: a.Acknowledged,
		}
		if a.Value != 0 {
			v := SafeFloat(a.Value, 2)
			fa.Value = &v
		}
		if a.Threshold != 0 {
			v := SafeFloat(a.Threshold, 2)
			fa.Threshold = &v
		}
		out = append(out, fa)
	}
	return out
}

func systemStatus(s model.SystemStatus) model.SystemStatus {
	s.SystemUptime = SafeFloat(s.SystemUptime, 2)
	s.MemoryUsage = SafeFloat(s.MemoryUsage, 1)
	s.CPUUsage = SafeFloat(s.CPUUsage, 1)
	return s
}

func summary(s model.DashboardSummary) model.DashboardSummary {
	s.TotalPortfolioValue = SafeFloat(s.TotalPortfolioValue, 2)
	s.TotalDayPnL = SafeFloat(s.TotalDayPnL, 2)
	s.TotalDayPnLPercent = SafeFloat(s.TotalDayPnLPercent, 2)
	s.TotalUnrealizedPnL = SafeFloat(s.TotalUnrealizedPnL, 2)
	return s
}

func performance(m model.PerformanceMetrics) model.PerformanceMetrics {
	m.TotalReturn = SafeFloat(m.TotalReturn, 2)
	m.AnnualizedReturn = SafeFloat(m.AnnualizedReturn, 2)
	m.SharpeRatio = SafeFloat(m.SharpeRatio, 2)
	m.MaxDrawdown = SafeFloat(m.MaxDrawdown, 2)
	m.WinRate = SafeFloat(m.WinRate, 2)
	m.ProfitFactor = SafeFloat(m.ProfitFactor, 2)
	m.AvgWin = SafeFloat(m.AvgWin, 2)
	m.AvgLoss = SafeFloat(m.AvgLoss, 2)
	return m
}

func risk(r model.RiskMetrics) model.RiskMetrics {
	r.PortfolioBeta = SafeFloat(r.PortfolioBeta, 2)
	r.PortfolioDelta = SafeFloat(r.PortfolioDelta, 2)
	r.PortfolioGamma = SafeFloat(r.PortfolioGamma, 2)
	r.PortfolioTheta = SafeFloat(r.PortfolioTheta, 2)
	r.PortfolioVega = SafeFloat(r.PortfolioVega, 2)
	r.VaR95 = SafeFloat(r.VaR95, 2)
	r.ExpectedShortfall = SafeFloat(r.ExpectedShortfall, 2)
	r.CorrelationToSPY = SafeFloat(r.CorrelationToSPY, 2)
	return r
}
