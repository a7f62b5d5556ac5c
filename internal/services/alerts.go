// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package services

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/ManuGH/qtrader/internal/config"
	qlog "github.com/ManuGH/qtrader/internal/log"
	"github.com/ManuGH/qtrader/internal/metrics"
	"github.com/ManuGH/qtrader/internal/model"
	"github.com/ManuGH/qtrader/internal/quant"
	"github.com/ManuGH/qtrader/internal/store"
)

const (
	maxTriggered = 1000
	// clientGrace is the uptime before a missing dashboard client is reported.
	clientGrace = time.Minute
)

// System rule keys. They are cleared once the condition resolves so the
// alert can fire again.
const (
	keyDisconnected = "ibkr_disconnected"
	keyStaleData    = "stale_market_data"
	keyNoClients    = "no_websocket_clients"
)

var money = message.NewPrinter(language.English)

// AlertsSummary reports the active alerts.
type AlertsSummary struct {
	TotalActive      int                    `json:"total_active_alerts"`
	ByLevel          map[string]int         `json:"alerts_by_level"`
	ByType           map[string]int         `json:"alerts_by_type"`
	TriggeredCache   int                    `json:"triggered_alerts_cache"`
	LastCheck        time.Time              `json:"last_alert_check"`
	Thresholds       config.AlertThresholds `json:"thresholds"`
	ServiceIsRunning bool                   `json:"running"`
}

// AlertsService evaluates the alert rules against the store. Each rule fires
// once per key until the triggered set is reset.
type AlertsService struct {
	st       *store.Store
	logger   zerolog.Logger
	interval time.Duration

	running atomic.Bool

	mu         sync.Mutex
	thresholds config.AlertThresholds
	triggered  map[string]bool
	lastCheck  time.Time
}

func NewAlertsService(st *store.Store, cfg config.AppConfig) *AlertsService {
	return &AlertsService{
		st:         st,
		logger:     qlog.WithComponent("alerts_service"),
		interval:   cfg.Alerts.CheckFrequency,
		thresholds: cfg.Alerts.Thresholds,
		triggered:  map[string]bool{},
	}
}

func (s *AlertsService) Name() string { return "alerts" }

// Running reports whether Run is active.
func (s *AlertsService) Running() bool { return s.running.Load() }

// SetThresholds replaces the rule thresholds. Already triggered keys stay
// triggered.
func (s *AlertsService) SetThresholds(t config.AlertThresholds) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.thresholds = t
	s.logger.Info().Str(qlog.FieldEvent, "alerts.thresholds_updated").Msg("alert thresholds updated")
}

// Thresholds returns the rule thresholds in effect.
func (s *AlertsService) Thresholds() config.AlertThresholds {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thresholds
}

func (s *AlertsService) Run(ctx context.Context) error {
	s.running.Store(true)
	defer s.running.Store(false)
	s.logger.Info().Str(qlog.FieldEvent, "service.started").Dur("interval", s.interval).Msg("alerts service started")
	every(ctx, s.interval, func(ctx context.Context) {
		cycle(ctx, s.logger, s.Name(), func(context.Context) (int, error) {
			return s.Check(), nil
		})
	})

	s.mu.Lock()
	s.triggered = map[string]bool{}
	s.mu.Unlock()
	s.logger.Info().Str(qlog.FieldEvent, "service.stopped").Msg("alerts service stopped")
	return nil
}

// Check evaluates every rule once and returns how many alerts were raised.
func (s *AlertsService) Check() int {
	now := s.st.Now()
	pfs := s.st.Portfolios()
	accounts := slices.Sorted(maps.Keys(pfs))

	s.mu.Lock()
	th := s.thresholds
	s.mu.Unlock()

	var raised []model.Alert
	raise := func(key string, a model.Alert) {
		if s.markTriggered(key) {
			raised = append(raised, a)
		}
	}

	for _, id := range accounts {
		pf := pfs[id]
		for _, p := range pf.Positions {
			s.positionRules(raise, th, p, now)
		}
		s.accountRules(raise, th, pf)
	}
	s.liquidityRule(raise, th, pfs)
	s.systemRules(raise, th, now)

	for _, a := range raised {
		a = s.st.AddAlert(a)
		metrics.RecordAlert(string(a.Level), string(a.Type))
	}

	s.mu.Lock()
	if len(s.triggered) > maxTriggered {
		s.triggered = map[string]bool{}
		s.logger.Info().Msg("cleared triggered alerts cache")
	}
	s.lastCheck = now
	s.mu.Unlock()
	return len(raised)
}

func (s *AlertsService) markTriggered(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.triggered[key] {
		return false
	}
	s.triggered[key] = true
	return true
}

func (s *AlertsService) resolve(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.triggered, key)
}

func strike(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func (s *AlertsService) positionRules(raise func(string, model.Alert), th config.AlertThresholds, p model.Position, now time.Time) {
	if p.AvgCost > 0 {
		loss := (p.CurrentPrice - p.AvgCost) / p.AvgCost
		if loss <= th.MaxPositionLoss {
			raise("position_loss_"+p.AccountID+"_"+p.Symbol+"_"+strike(p.StrikePrice)+"_"+p.Expiry, model.Alert{
				Type:      model.AlertTypeProfitLoss,
				Level:     model.AlertCritical,
				Title:     "Position Loss Alert: " + p.Symbol,
				Message:   fmt.Sprintf("Position %s is down %.1f%% from avg cost", p.Symbol, -loss*100),
				Symbol:    p.Symbol,
				AccountID: p.AccountID,
				Value:     loss,
				Threshold: th.MaxPositionLoss,
			})
		}
	}
	if !p.IsOption() {
		return
	}

	if days, ok := quant.DaysToExpiry(p.Expiry, now); ok && days >= 0 && days <= th.DaysToExpiryWarning {
		level := model.AlertWarning
		if days <= 1 {
			level = model.AlertUrgent
		}
		raise("expiry_"+p.AccountID+"_"+p.Symbol+"_"+strike(p.StrikePrice)+"_"+p.Expiry, model.Alert{
			Type:      model.AlertTypeExpiration,
			Level:     level,
			Title:     "Option Expiring: " + p.Symbol,
			Message:   fmt.Sprintf("%s %s $%.2f expires in %d days", p.Symbol, p.OptionType, p.StrikePrice, days),
			Symbol:    p.Symbol,
			AccountID: p.AccountID,
			Value:     float64(days),
			Threshold: float64(th.DaysToExpiryWarning),
		})
	}

	if p.Greeks != nil && p.Greeks.ImpliedVolatility > 0 && p.Greeks.ImpliedVolatility >= th.HighIVThreshold {
		iv := p.Greeks.ImpliedVolatility
		raise("high_iv_"+p.AccountID+"_"+p.Symbol+"_"+strike(p.StrikePrice), model.Alert{
			Type:      model.AlertTypeMarket,
			Level:     model.AlertInfo,
			Title:     "High IV: " + p.Symbol,
			Message:   fmt.Sprintf("%s option has high implied volatility: %.1f%%", p.Symbol, iv*100),
			Symbol:    p.Symbol,
			AccountID: p.AccountID,
			Value:     iv,
			Threshold: th.HighIVThreshold,
		})
	}
}

func (s *AlertsService) accountRules(raise func(string, model.Alert), th config.AlertThresholds, pf *model.Portfolio) {
	id := pf.AccountID
	if pf.TotalValue > 0 {
		dayLoss := pf.DayPnL / pf.TotalValue
		if dayLoss <= th.MaxPortfolioLoss {
			raise("portfolio_loss_"+id, model.Alert{
				Type:      model.AlertTypeRisk,
				Level:     model.AlertUrgent,
				Title:     "Portfolio Loss Alert",
				Message:   fmt.Sprintf("Portfolio %s is down %.1f%% today", id, -dayLoss*100),
				AccountID: id,
				Value:     dayLoss,
				Threshold: th.MaxPortfolioLoss,
			})
		}
	}

	if pf.BuyingPower < th.MinBuyingPower {
		raise("low_buying_power_"+id, model.Alert{
			Type:      model.AlertTypeRisk,
			Level:     model.AlertWarning,
			Title:     "Low Buying Power",
			Message:   money.Sprintf("Account %s has low buying power: $%.2f", id, pf.BuyingPower),
			AccountID: id,
			Value:     pf.BuyingPower,
			Threshold: th.MinBuyingPower,
		})
	}

	if pf.MarginUsed > 0 && pf.TotalValue > 0 {
		ratio := pf.MarginUsed / pf.TotalValue
		if ratio > th.MaxMarginRatio {
			raise("high_margin_"+id, model.Alert{
				Type:      model.AlertTypeRisk,
				Level:     model.AlertCritical,
				Title:     "High Margin Usage",
				Message:   fmt.Sprintf("Account %s has high margin usage: %.1f%%", id, ratio*100),
				AccountID: id,
				Value:     ratio,
				Threshold: th.MaxMarginRatio,
			})
		}
	}
}

// liquidityRule flags held symbols whose quoted volume is below the threshold.
func (s *AlertsService) liquidityRule(raise func(string, model.Alert), th config.AlertThresholds, pfs map[string]*model.Portfolio) {
	held := map[string]bool{}
	for _, pf := range pfs {
		for _, p := range pf.Positions {
			held[p.Symbol] = true
		}
	}
	md := s.st.AllMarketData()
	for _, sym := range slices.Sorted(maps.Keys(md)) {
		q := md[sym]
		if !held[sym] || q.Volume >= th.LowLiquidityThreshold {
			continue
		}
		raise("low_liquidity_"+sym, model.Alert{
			Type:      model.AlertTypeMarket,
			Level:     model.AlertWarning,
			Title:     "Low Liquidity: " + sym,
			Message:   fmt.Sprintf("%s has low trading volume: %d", sym, q.Volume),
			Symbol:    sym,
			Value:     float64(q.Volume),
			Threshold: float64(th.LowLiquidityThreshold),
		})
	}
}

func (s *AlertsService) systemRules(raise func(string, model.Alert), th config.AlertThresholds, now time.Time) {
	status := s.st.SystemStatus()

	if !status.IBKRConnected {
		raise(keyDisconnected, model.Alert{
			Type:    model.AlertTypeSystem,
			Level:   model.AlertUrgent,
			Title:   "IBKR Connection Lost",
			Message: "Connection to Interactive Brokers has been lost",
		})
	} else {
		s.resolve(keyDisconnected)
	}

	if since := now.Sub(s.st.LastMarketUpdate()); th.StaleMarketData > 0 && since > th.StaleMarketData {
		raise(keyStaleData, model.Alert{
			Type:    model.AlertTypeSystem,
			Level:   model.AlertWarning,
			Title:   "Stale Market Data",
			Message: fmt.Sprintf("Market data hasn't updated in %.1f minutes", since.Minutes()),
		})
	} else {
		s.resolve(keyStaleData)
	}

	if status.WebsocketClients == 0 {
		if s.st.Uptime() > clientGrace {
			raise(keyNoClients, model.Alert{
				Type:    model.AlertTypeSystem,
				Level:   model.AlertInfo,
				Title:   "No Frontend Connections",
				Message: "No WebSocket clients are currently connected",
			})
		}
	} else {
		s.resolve(keyNoClients)
	}
}

// Acknowledge marks the alert as seen.
func (s *AlertsService) Acknowledge(id string) error {
	if err := s.st.AcknowledgeAlert(id); err != nil {
		return err
	}
	s.logger.Info().Str(qlog.FieldAlertID, id).Msg("alert acknowledged")
	return nil
}

// Summary counts the active alerts by level and type.
func (s *AlertsService) Summary() AlertsSummary {
	active := s.st.ActiveAlerts()
	out := AlertsSummary{
		TotalActive:      len(active),
		ByLevel:          map[string]int{},
		ByType:           map[string]int{},
		ServiceIsRunning: s.running.Load(),
	}
	for _, a := range active {
		out.ByLevel[string(a.Level)]++
		out.ByType[string(a.Type)]++
	}
	s.mu.Lock()
	out.TriggeredCache = len(s.triggered)
	out.LastCheck = s.lastCheck
	out.Thresholds = s.thresholds
	s.mu.Unlock()
	return out
}
