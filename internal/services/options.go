// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package services

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/qtrader/internal/broker"
	"github.com/ManuGH/qtrader/internal/config"
	"github.com/ManuGH/qtrader/internal/ibkr"
	qlog "github.com/ManuGH/qtrader/internal/log"
	"github.com/ManuGH/qtrader/internal/metrics"
	"github.com/ManuGH/qtrader/internal/model"
	"github.com/ManuGH/qtrader/internal/quant"
	"github.com/ManuGH/qtrader/internal/store"
)

// greeksMaxAge is how old broker greeks may get before a model estimate
// replaces them.
const greeksMaxAge = 5 * time.Minute

// OptionsSummary aggregates the option legs of every portfolio.
type OptionsSummary struct {
	TotalOptions         int          `json:"total_options"`
	TotalValue           float64      `json:"total_value"`
	PortfolioGreeks      model.Greeks `json:"portfolio_greeks"`
	ExpiringSoon         int          `json:"expiring_soon"`
	Calls                int          `json:"calls"`
	Puts                 int          `json:"puts"`
	StrategiesIdentified int          `json:"strategies_identified"`
	LastUpdate           time.Time    `json:"last_update"`
}

// OptionDetails is one option leg with its model price.
type OptionDetails struct {
	Key               string         `json:"key"`
	Position          model.Position `json:"position"`
	Greeks            *model.Greeks  `json:"greeks"`
	DaysToExpiry      int            `json:"days_to_expiry"`
	TimeToExpiry      float64        `json:"time_to_expiry"`
	UnderlyingPrice   float64        `json:"underlying_price"`
	TheoreticalPrice  float64        `json:"theoretical_price"`
	MarketPrice       float64        `json:"market_price"`
	PriceDifference   float64        `json:"price_difference"`
	ImpliedVolatility float64        `json:"implied_volatility"`
}

// OptionsService keeps greeks current for every option leg, classifies
// strategies and warns about upcoming expirations.
type OptionsService struct {
	gw     broker.Gateway
	st     *store.Store
	cfg    config.AppConfig
	logger zerolog.Logger

	running atomic.Bool

	mu         sync.Mutex
	subscribed map[string]int
	warned     map[string]bool
	lastGreeks time.Time
	lastUpdate time.Time
}

func NewOptionsService(gw broker.Gateway, st *store.Store, cfg config.AppConfig) *OptionsService {
	return &OptionsService{
		gw:         gw,
		st:         st,
		cfg:        cfg,
		logger:     qlog.WithComponent("options_service"),
		subscribed: map[string]int{},
		warned:     map[string]bool{},
	}
}

func (s *OptionsService) Name() string { return "options" }

// Running reports whether Run is active.
func (s *OptionsService) Running() bool { return s.running.Load() }

// Run processes option legs every update interval and resubscribes broker
// greeks every greeks interval.
func (s *OptionsService) Run(ctx context.Context) error {
	s.running.Store(true)
	defer s.running.Store(false)

	remove := s.gw.OnConnectionChange(func(up bool) {
		if up {
			return
		}
		s.mu.Lock()
		s.subscribed = map[string]int{}
		s.mu.Unlock()
	})
	defer remove()

	s.logger.Info().Str(qlog.FieldEvent, "service.started").Msg("options service started")
	every(ctx, s.cfg.Data.UpdateFrequency, func(ctx context.Context) {
		cycle(ctx, s.logger, s.Name(), s.runCycle)
	})
	s.cancelAll()
	s.logger.Info().Str(qlog.FieldEvent, "service.stopped").Msg("options service stopped")
	return nil
}

func (s *OptionsService) runCycle(context.Context) (int, error) {
	legs := s.optionPositions()
	now := s.st.Now()

	s.mu.Lock()
	due := now.Sub(s.lastGreeks) >= s.cfg.Data.GreeksUpdateFrequency
	if due {
		s.lastGreeks = now
	}
	s.mu.Unlock()

	var err error
	if due && s.gw.Connected() {
		err = s.subscribeGreeks(legs)
	}
	estimated := s.estimateGreeks(legs, now)
	s.classify()
	s.checkExpirations(legs, now)

	s.mu.Lock()
	s.lastUpdate = now
	s.mu.Unlock()
	return estimated, err
}

func (s *OptionsService) optionPositions() []model.Position {
	var out []model.Position
	pfs := s.st.Portfolios()
	for _, id := range slices.Sorted(maps.Keys(pfs)) {
		for _, p := range pfs[id].Positions {
			if p.IsOption() {
				out = append(out, p)
			}
		}
	}
	return out
}

// subscribeGreeks requests live option computations for legs not yet
// subscribed. The first failure is returned after every leg was tried.
func (s *OptionsService) subscribeGreeks(legs []model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	for _, p := range legs {
		key := p.Key()
		if _, ok := s.subscribed[key]; ok {
			continue
		}
		c := ibkr.OptionContract(p.Symbol, broker.GatewayExpiry(p.Expiry), p.StrikePrice, p.OptionType)
		id, err := s.gw.RequestMarketData(key, c, false)
		if err != nil {
			metrics.RecordSubscriptionFailure()
			s.logger.Warn().Err(err).Str(qlog.FieldSymbol, key).Msg("option greeks subscription failed")
			if first == nil {
				first = fmt.Errorf("subscribe greeks %s: %w", key, err)
			}
			continue
		}
		s.subscribed[key] = id
	}
	return first
}

// estimateGreeks computes Black-Scholes greeks for legs whose broker greeks
// are missing or stale. It returns how many legs were estimated.
func (s *OptionsService) estimateGreeks(legs []model.Position, now time.Time) int {
	n := 0
	for _, p := range legs {
		key := p.Key()
		existing, ok := s.st.Greeks(key)
		if ok && !existing.Empty() && now.Sub(existing.Timestamp) < greeksMaxAge {
			continue
		}
		under, ok := s.st.MarketData(p.Symbol)
		if !ok || under.Price <= 0 {
			continue
		}
		tte := quant.TimeToExpiry(p.Expiry, now)
		if tte <= 0 {
			continue
		}
		iv := existing.ImpliedVolatility
		if iv <= 0 {
			iv = defaultIV
		}
		g := quant.CalculateGreeks(under.Price, p.StrikePrice, tte, riskFreeRate, iv, p.OptionType)
		g.Timestamp = now
		s.st.UpdateGreeks(key, g)
		n++
	}
	return n
}

// classify assigns each underlying's detected strategy to its option legs.
func (s *OptionsService) classify() {
	for _, id := range s.st.Accounts() {
		s.st.MutatePortfolio(id, func(pf *model.Portfolio) {
			seen := map[string]string{}
			for i := range pf.Positions {
				p := &pf.Positions[i]
				if !p.IsOption() {
					continue
				}
				strategy, ok := seen[p.Symbol]
				if !ok {
					strategy = quant.IdentifyStrategy(pf.Positions, p.Symbol)
					seen[p.Symbol] = strategy
				}
				p.Strategy = strategy
			}
		})
	}
}

func (s *OptionsService) checkExpirations(legs []model.Position, now time.Time) {
	warnDays := s.cfg.Alerts.Thresholds.DaysToExpiryWarning
	for _, p := range legs {
		days, ok := quant.DaysToExpiry(p.Expiry, now)
		if !ok || days <= 0 || days > warnDays {
			continue
		}
		key := p.AccountID + "|" + p.Key()
		s.mu.Lock()
		seen := s.warned[key]
		s.warned[key] = true
		s.mu.Unlock()
		if seen {
			continue
		}
		a := s.st.AddAlert(model.Alert{
			Type:      model.AlertTypeExpiration,
			Level:     model.AlertWarning,
			Title:     p.Symbol + " Option Expiring Soon",
			Message:   fmt.Sprintf("%s %.2f %s expires in %d days", p.Symbol, p.StrikePrice, p.OptionType, days),
			Symbol:    p.Symbol,
			AccountID: p.AccountID,
			Value:     float64(days),
			Threshold: float64(warnDays),
		})
		metrics.RecordAlert(string(a.Level), string(a.Type))
	}
}

func (s *OptionsService) cancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gw.Connected() {
		for _, key := range slices.Sorted(maps.Keys(s.subscribed)) {
			if err := s.gw.CancelMarketData(s.subscribed[key]); err != nil {
				s.logger.Warn().Err(err).Str(qlog.FieldSymbol, key).Msg("cancel option greeks failed")
			}
		}
	}
	s.subscribed = map[string]int{}
}

// Summary aggregates option counts, value and net greeks.
func (s *OptionsService) Summary() OptionsSummary {
	legs := s.optionPositions()
	now := s.st.Now()
	out := OptionsSummary{
		TotalOptions:    len(legs),
		PortfolioGreeks: quant.PortfolioGreeks(legs),
	}
	strategies := map[string]bool{}
	warnDays := s.cfg.Alerts.Thresholds.DaysToExpiryWarning
	for _, p := range legs {
		out.TotalValue += p.MarketValue
		if p.PositionType == model.PositionCall {
			out.Calls++
		} else {
			out.Puts++
		}
		if days, ok := quant.DaysToExpiry(p.Expiry, now); ok && days > 0 && days <= warnDays {
			out.ExpiringSoon++
		}
		if p.Strategy != "" {
			strategies[p.Symbol+"|"+p.Strategy] = true
		}
	}
	out.StrategiesIdentified = len(strategies)
	s.mu.Lock()
	out.LastUpdate = s.lastUpdate
	s.mu.Unlock()
	return out
}

// OptionDetails returns the leg stored under the option key together with
// its model price against the current underlying quote.
func (s *OptionsService) OptionDetails(key string) (OptionDetails, bool) {
	now := s.st.Now()
	for _, p := range s.optionPositions() {
		if p.Key() != key {
			continue
		}
		d := OptionDetails{
			Key:          key,
			Position:     p,
			TimeToExpiry: quant.TimeToExpiry(p.Expiry, now),
			MarketPrice:  p.CurrentPrice,
		}
		d.DaysToExpiry, _ = quant.DaysToExpiry(p.Expiry, now)
		if g, ok := s.st.Greeks(key); ok {
			d.Greeks = &g
			d.ImpliedVolatility = g.ImpliedVolatility
		}
		if md, ok := s.st.MarketData(p.Symbol); ok {
			d.UnderlyingPrice = md.Price
		}
		if d.UnderlyingPrice > 0 {
			iv := d.ImpliedVolatility
			if iv <= 0 {
				iv = defaultIV
			}
			d.TheoreticalPrice = quant.Price(d.UnderlyingPrice, p.StrikePrice, d.TimeToExpiry, riskFreeRate, iv, p.OptionType)
			d.PriceDifference = d.MarketPrice - d.TheoreticalPrice
		}
		return d, true
	}
	return OptionDetails{}, false
}
