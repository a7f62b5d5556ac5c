// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"math"
	"runtime"
	"time"

	"github.com/ManuGH/qtrader/internal/model"
	"github.com/ManuGH/qtrader/internal/quant"
)

const varConfidence = 0.95

// Stats summarises store contents for the status endpoints.
type Stats struct {
	MarketDataSymbols   int       `json:"market_data_symbols"`
	GreeksKeys          int       `json:"greeks_keys"`
	TotalPortfolios     int       `json:"total_portfolios"`
	TotalPositions      int       `json:"total_positions"`
	ActiveAlerts        int       `json:"active_alerts"`
	TotalAlerts         int       `json:"total_alerts"`
	LastMarketUpdate    time.Time `json:"last_market_update"`
	LastPortfolioUpdate time.Time `json:"last_portfolio_update"`
	LastGreeksUpdate    time.Time `json:"last_greeks_update"`
	MemoryUsageMB       float64   `json:"memory_usage_mb"`
}

// RecordPerformanceSample appends the current combined portfolio value (and
// the SPY price when known) to the performance series.
func (s *Store) RecordPerformanceSample() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	var total float64
	for _, pf := range s.portfolios {
		total += pf.TotalValue
	}
	if total <= 0 {
		return
	}
	s.perf.push(perfSample{at: now, value: total, spy: s.marketData[model.IndexSPY].Price})
}

// Dashboard builds a consistent snapshot of the whole store.
func (s *Store) Dashboard() model.DashboardData {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refreshStatusLocked()
	return model.DashboardData{
		Timestamp:          now,
		MarketIndices:      s.indexDataLocked(),
		Portfolios:         s.portfoliosLocked(),
		Alerts:             s.activeAlertsLocked(now),
		PerformanceMetrics: s.performanceLocked(),
		RiskMetrics:        s.riskLocked(),
		SystemStatus:       s.systemStatus,
	}
}

func (s *Store) refreshStatusLocked() {
	now := s.now()
	total := 0
	for _, pf := range s.portfolios {
		total += len(pf.Positions)
	}
	lm, lp := s.lastMarketUpdate, s.lastPortfolioUpdate
	st := &s.systemStatus
	st.TotalPositions = total
	st.ActiveAlerts = len(s.activeAlertsLocked(now))
	st.LastMarketDataUpdate = &lm
	st.LastPortfolioUpdate = &lp
	st.SystemUptime = now.Sub(s.start).Seconds()
	st.MemoryUsage = heapMB()
}

func (s *Store) performanceLocked() model.PerformanceMetrics {
	samples := s.perf.last(0)
	if len(samples) < 2 {
		return model.PerformanceMetrics{}
	}
	values := make([]float64, len(samples))
	for i, p := range samples {
		values[i] = p.value
	}
	first, last := values[0], values[len(values)-1]
	m := model.PerformanceMetrics{
		TotalReturn: (last/first - 1) * 100,
		MaxDrawdown: quant.MaxDrawdown(values) * 100,
	}
	returns := quant.Returns(values)
	m.SharpeRatio = quant.SharpeRatio(returns, 0.02)
	if days := samples[len(samples)-1].at.Sub(samples[0].at).Hours() / 24; days >= 1 {
		m.AnnualizedReturn = (math.Pow(last/first, 365/days) - 1) * 100
	}
	var winSum, lossSum float64
	for _, r := range returns {
		switch {
		case r > 0:
			m.WinningTrades++
			winSum += r
		case r < 0:
			m.LosingTrades++
			lossSum += r
		}
	}
	m.TotalTrades = len(returns)
	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100
	}
	if m.WinningTrades > 0 {
		m.AvgWin = winSum / float64(m.WinningTrades) * 100
	}
	if m.LosingTrades > 0 {
		m.AvgLoss = lossSum / float64(m.LosingTrades) * 100
	}
	if lossSum < 0 {
		m.ProfitFactor = winSum / -lossSum
	}
	return m
}

func (s *Store) riskLocked() model.RiskMetrics {
	var r model.RiskMetrics
	for _, pf := range s.portfolios {
		g := quant.PortfolioGreeks(pf.Positions)
		r.PortfolioDelta += g.Delta
		r.PortfolioGamma += g.Gamma
		r.PortfolioTheta += g.Theta
		r.PortfolioVega += g.Vega
	}

	samples := s.perf.last(0)
	values := make([]float64, 0, len(samples))
	spy := make([]float64, 0, len(samples))
	for _, p := range samples {
		if p.spy > 0 {
			values = append(values, p.value)
			spy = append(spy, p.spy)
		}
	}
	all := make([]float64, len(samples))
	for i, p := range samples {
		all[i] = p.value
	}
	returns := quant.Returns(all)
	r.VaR95 = quant.ValueAtRisk(returns, varConfidence)
	r.ExpectedShortfall = quant.ExpectedShortfall(returns, varConfidence)

	pr, mr := quant.Returns(values), quant.Returns(spy)
	r.PortfolioBeta = quant.Beta(pr, mr)
	r.CorrelationToSPY = quant.Correlation(pr, mr)
	return r
}

// Statistics returns counters describing the store.
func (s *Store) Statistics() Stats {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{
		MarketDataSymbols:   len(s.marketData),
		GreeksKeys:          len(s.greeks),
		TotalPortfolios:     len(s.portfolios),
		ActiveAlerts:        len(s.activeAlertsLocked(now)),
		TotalAlerts:         len(s.alerts),
		LastMarketUpdate:    s.lastMarketUpdate,
		LastPortfolioUpdate: s.lastPortfolioUpdate,
		LastGreeksUpdate:    s.lastGreeksUpdate,
		MemoryUsageMB:       heapMB(),
	}
	for _, pf := range s.portfolios {
		st.TotalPositions += len(pf.Positions)
	}
	return st
}

func heapMB() float64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return float64(ms.HeapAlloc) / 1024 / 1024
}
