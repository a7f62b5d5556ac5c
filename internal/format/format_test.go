// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package format

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/qtrader/internal/model"
)

var ts = time.Date(2025, 6, 2, 15, 30, 0, 0, time.UTC)

func TestSafeFloat(t *testing.T) {
	tests := []struct {
		name   string
		in     float64
		digits int
		want   float64
	}{
		{"rounds half away", 1.005001, 2, 1.01},
		{"one digit", 12.345, 1, 12.3},
		{"negative", -3.14159, 3, -3.142},
		{"nan", math.NaN(), 2, 0},
		{"inf", math.Inf(1), 2, 0},
		{"neg inf", math.Inf(-1), 2, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, SafeFloat(tt.in, tt.digits), 1e-9)
		})
	}
}

func TestAlertLevelNumber(t *testing.T) {
	assert.Equal(t, 1, AlertLevelNumber(model.AlertInfo))
	assert.Equal(t, 3, AlertLevelNumber(model.AlertWarning))
	assert.Equal(t, 4, AlertLevelNumber(model.AlertCritical))
	assert.Equal(t, 5, AlertLevelNumber(model.AlertUrgent))
	assert.Equal(t, 1, AlertLevelNumber("bogus"))
}

func TestFormatPositionDefaults(t *testing.T) {
	p := FormatPosition(model.Position{Symbol: "AAPL", PositionType: model.PositionStock, AvgCost: 150.123})
	assert.Equal(t, "0", p.OptionType)
	assert.Equal(t, "", p.Expiry)
	assert.Zero(t, p.StrikePrice)
	assert.Equal(t, DefaultStrategy, p.Strategy)
	assert.Equal(t, 150.12, p.AvgCost)
	assert.NotNil(t, p.Levels)
	assert.Nil(t, p.Greeks)
}

func TestDashboardShape(t *testing.T) {
	d := model.DashboardData{
		Timestamp: ts,
		MarketIndices: model.IndexData{
			model.IndexSPY: {Symbol: "SPY", Price: 500.456, Change: 1.234, ChangePercent: 0.2468, Timestamp: ts},
		},
		Portfolios: map[string]*model.Portfolio{
			"U1": {AccountID: "U1", AccountType: model.AccountIndividualTaxable, TotalValue: 1000, DayPnL: 10,
				Positions: []model.Position{{Symbol: "AAPL", PositionType: model.PositionStock, MarketValue: 900}}},
			"IRA1": {AccountID: "IRA1", AccountType: model.AccountRetirementTaxFree, TotalValue: 3000, DayPnL: -10},
		},
		Alerts: []model.Alert{{ID: "a1", Level: model.AlertCritical, Type: model.AlertTypeRisk, Value: -0.25, CreatedAt: ts}},
		SystemStatus: model.SystemStatus{
			IBKRConnected: true,
			MemoryUsage:   12.345,
		},
	}

	msg := Dashboard(d)
	assert.Equal(t, TypeDashboardUpdate, msg.Type)
	assert.Equal(t, ts, msg.Timestamp)

	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var doc struct {
		Type string `json:"type"`
		Data struct {
			IndexData  map[string]map[string]any `json:"index_data"`
			Portfolios map[string][]struct {
				AccountID string         `json:"account_id"`
				Summary   map[string]any `json:"summary"`
			} `json:"portfolios"`
			Alerts []struct {
				Level     int      `json:"level"`
				Value     *float64 `json:"value"`
				Threshold *float64 `json:"threshold"`
			} `json:"alerts"`
			SystemStatus map[string]any `json:"system_status"`
			Summary      map[string]any `json:"summary"`
			Performance  map[string]any `json:"performance"`
			Risk         map[string]any `json:"risk"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))

	assert.Equal(t, "dashboard_update", doc.Type)
	assert.Equal(t, 500.46, doc.Data.IndexData["SPY"]["price"])
	assert.Equal(t, 0.25, doc.Data.IndexData["SPY"]["change_percent"])

	require.Len(t, doc.Data.Portfolios["individual_taxable"], 1)
	require.Len(t, doc.Data.Portfolios["retirement_tax_free"], 1)
	assert.Equal(t, "IRA1", doc.Data.Portfolios["retirement_tax_free"][0].AccountID)
	assert.Equal(t, float64(1), doc.Data.Portfolios["individual_taxable"][0].Summary["position_count"])

	require.Len(t, doc.Data.Alerts, 1)
	assert.Equal(t, 4, doc.Data.Alerts[0].Level)
	require.NotNil(t, doc.Data.Alerts[0].Value)
	assert.Equal(t, -0.25, *doc.Data.Alerts[0].Value)
	assert.Nil(t, doc.Data.Alerts[0].Threshold)

	assert.Equal(t, 12.3, doc.Data.SystemStatus["memory_usage"])
	assert.Equal(t, float64(4000), doc.Data.Summary["total_portfolio_value"])
	assert.Contains(t, doc.Data.Risk, "var_95")
	assert.Contains(t, doc.Data.Performance, "sharpe_ratio")
}

func TestDashboardEmptyGroupsAreArrays(t *testing.T) {
	raw, err := json.Marshal(Dashboard(model.DashboardData{Timestamp: ts}))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"individual_taxable":[]`)
	assert.Contains(t, string(raw), `"retirement_tax_free":[]`)
	assert.Contains(t, string(raw), `"alerts":[]`)
}

func TestErrorEnvelope(t *testing.T) {
	raw, err := json.Marshal(Error("boom"))
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, true, doc["error"])
	assert.Equal(t, "boom", doc["message"])
	assert.Contains(t, doc, "data")
	assert.Nil(t, doc["data"])
	assert.NotEmpty(t, doc["timestamp"])
}

func TestStreamingUpdate(t *testing.T) {
	u := StreamingUpdate("pong", map[string]string{"k": "v"})
	assert.Equal(t, "pong", u.Type)
	assert.False(t, u.Timestamp.IsZero())
	assert.Equal(t, map[string]string{"k": "v"}, u.Data)
}
