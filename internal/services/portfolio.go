// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package services

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/qtrader/internal/broker"
	"github.com/ManuGH/qtrader/internal/config"
	qlog "github.com/ManuGH/qtrader/internal/log"
	"github.com/ManuGH/qtrader/internal/model"
	"github.com/ManuGH/qtrader/internal/store"
)

// ErrUnknownAccount is returned for accounts the service does not track.
var ErrUnknownAccount = errors.New("services: unknown account")

// PortfolioSummary totals every tracked account.
type PortfolioSummary struct {
	TotalValue      float64   `json:"total_value"`
	TotalDayPnL     float64   `json:"total_day_pnl"`
	TotalPnL        float64   `json:"total_pnl"`
	TotalPositions  int       `json:"total_positions"`
	AccountsTracked int       `json:"accounts_tracked"`
	LastUpdate      time.Time `json:"last_update"`
	PortfolioCount  int       `json:"portfolio_count"`
}

// AccountDetails is one portfolio with its raw account values.
type AccountDetails struct {
	Portfolio     *model.Portfolio              `json:"portfolio"`
	AccountValues map[string]store.AccountValue `json:"account_values"`
	PositionCount int                           `json:"position_count"`
	OptionCount   int                           `json:"option_count"`
	StockCount    int                           `json:"stock_count"`
}

// PositionDetails lists every holding of a symbol across accounts.
type PositionDetails struct {
	Symbol     string            `json:"symbol"`
	Positions  []model.Position  `json:"positions"`
	MarketData *model.MarketData `json:"market_data"`
}

// PortfolioStats are the counters shown on the status page.
type PortfolioStats struct {
	AccountsTracked int       `json:"accounts_tracked"`
	TotalPositions  int       `json:"total_positions"`
	TotalValue      float64   `json:"total_value"`
	LastUpdate      time.Time `json:"last_update"`
	ServiceRunning  bool      `json:"service_running"`
	Accounts        []string  `json:"accounts"`
}

// PortfolioService marks positions to the latest quotes and periodically asks
// the broker for fresh account values and positions.
type PortfolioService struct {
	gw     broker.Gateway
	st     *store.Store
	cfg    config.AppConfig
	logger zerolog.Logger

	running atomic.Bool

	mu          sync.Mutex
	accounts    map[string]bool
	lastRequest time.Time
}

// NewPortfolioService tracks the configured accounts plus whatever the
// gateway announces.
func NewPortfolioService(gw broker.Gateway, st *store.Store, cfg config.AppConfig) *PortfolioService {
	s := &PortfolioService{
		gw:       gw,
		st:       st,
		cfg:      cfg,
		logger:   qlog.WithComponent("portfolio_service"),
		accounts: map[string]bool{},
	}
	for id := range cfg.Accounts {
		s.accounts[id] = true
	}
	return s
}

func (s *PortfolioService) Name() string { return "portfolio" }

// Running reports whether Run is active.
func (s *PortfolioService) Running() bool { return s.running.Load() }

func (s *PortfolioService) accountType(id string) model.AccountType {
	return model.AccountType(s.cfg.AccountType(id))
}

// Run refreshes prices every update interval and account data every account
// interval. On exit account updates are cancelled.
func (s *PortfolioService) Run(ctx context.Context) error {
	s.running.Store(true)
	defer s.running.Store(false)

	for _, id := range s.trackedAccounts() {
		s.st.EnsurePortfolio(id, s.accountType(id))
	}
	s.logger.Info().Str(qlog.FieldEvent, "service.started").Int("accounts", len(s.trackedAccounts())).Msg("portfolio service started")

	every(ctx, s.cfg.Data.UpdateFrequency, func(ctx context.Context) {
		cycle(ctx, s.logger, s.Name(), s.runCycle)
	})

	if s.gw.Connected() {
		for _, id := range s.trackedAccounts() {
			if err := s.gw.CancelAccountUpdates(id); err != nil {
				s.logger.Warn().Err(err).Str(qlog.FieldAccount, id).Msg("cancel account updates failed")
			}
		}
	}
	s.logger.Info().Str(qlog.FieldEvent, "service.stopped").Msg("portfolio service stopped")
	return nil
}

func (s *PortfolioService) runCycle(context.Context) (int, error) {
	if !s.gw.Connected() {
		return 0, nil
	}
	for _, id := range s.gw.Accounts() {
		s.addAccount(id)
	}

	var err error
	s.mu.Lock()
	due := s.st.Now().Sub(s.lastRequest) >= s.cfg.Data.AccountUpdateFrequency
	s.mu.Unlock()
	if due {
		err = s.requestAll()
	}
	return s.refreshPrices(), err
}

func (s *PortfolioService) requestAll() error {
	var errs []error
	for _, id := range s.trackedAccounts() {
		if err := s.gw.RequestAccountUpdates(id); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.gw.RequestPositions(); err != nil {
		errs = append(errs, err)
	}
	s.mu.Lock()
	s.lastRequest = s.st.Now()
	s.mu.Unlock()
	return errors.Join(errs...)
}

// refreshPrices marks every position whose quote moved. It returns how many
// positions changed.
func (s *PortfolioService) refreshPrices() int {
	md := s.st.AllMarketData()
	now := s.st.Now()
	changed := 0
	for _, id := range s.st.Accounts() {
		s.st.MutatePortfolio(id, func(pf *model.Portfolio) {
			for i := range pf.Positions {
				p := &pf.Positions[i]
				q, ok := md[p.Key()]
				if !ok || q.Price <= 0 || q.Price == p.CurrentPrice {
					continue
				}
				p.UpdatePrice(q.Price, now)
				changed++
			}
		})
	}
	return changed
}

func (s *PortfolioService) trackedAccounts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.accounts))
}

func (s *PortfolioService) addAccount(id string) bool {
	s.mu.Lock()
	if s.accounts[id] {
		s.mu.Unlock()
		return false
	}
	s.accounts[id] = true
	s.mu.Unlock()
	s.st.EnsurePortfolio(id, s.accountType(id))
	return true
}

// AddAccount starts tracking id and requests its updates when connected.
func (s *PortfolioService) AddAccount(id string) error {
	if !s.addAccount(id) {
		return nil
	}
	s.logger.Info().Str(qlog.FieldAccount, id).Msg("account added")
	if !s.gw.Connected() {
		return nil
	}
	return s.gw.RequestAccountUpdates(id)
}

// RemoveAccount stops tracking id and drops its portfolio.
func (s *PortfolioService) RemoveAccount(id string) error {
	s.mu.Lock()
	if !s.accounts[id] {
		s.mu.Unlock()
		return ErrUnknownAccount
	}
	delete(s.accounts, id)
	s.mu.Unlock()

	var err error
	if s.gw.Connected() {
		err = s.gw.CancelAccountUpdates(id)
	}
	s.st.RemovePortfolio(id)
	s.logger.Info().Str(qlog.FieldAccount, id).Msg("account removed")
	return err
}

// ForceRefresh requests account values and positions for id immediately.
func (s *PortfolioService) ForceRefresh(id string) error {
	s.mu.Lock()
	known := s.accounts[id]
	s.mu.Unlock()
	if !known {
		return ErrUnknownAccount
	}
	if err := s.gw.RequestAccountUpdates(id); err != nil {
		return err
	}
	return s.gw.RequestPositions()
}

// Summary totals every portfolio in the store.
func (s *PortfolioService) Summary() PortfolioSummary {
	pfs := s.st.Portfolios()
	out := PortfolioSummary{
		AccountsTracked: len(s.trackedAccounts()),
		LastUpdate:      s.st.LastPortfolioUpdate(),
		PortfolioCount:  len(pfs),
	}
	for _, pf := range pfs {
		out.TotalValue += pf.TotalValue
		out.TotalDayPnL += pf.DayPnL
		out.TotalPnL += pf.TotalPnL
		out.TotalPositions += len(pf.Positions)
	}
	return out
}

// AccountDetails returns the portfolio and raw values of id.
func (s *PortfolioService) AccountDetails(id string) (AccountDetails, bool) {
	pf, ok := s.st.Portfolio(id)
	if !ok {
		return AccountDetails{}, false
	}
	d := AccountDetails{
		Portfolio:     pf,
		AccountValues: s.st.AccountValues(id),
		PositionCount: len(pf.Positions),
	}
	if d.AccountValues == nil {
		d.AccountValues = map[string]store.AccountValue{}
	}
	for i := range pf.Positions {
		if pf.Positions[i].IsOption() {
			d.OptionCount++
		} else {
			d.StockCount++
		}
	}
	return d, true
}

// PositionDetails collects the holdings of symbol. When account is not empty
// only that account is searched.
func (s *PortfolioService) PositionDetails(account, symbol string) PositionDetails {
	out := PositionDetails{Symbol: symbol, Positions: []model.Position{}}
	for _, id := range s.st.Accounts() {
		if account != "" && id != account {
			continue
		}
		pf, ok := s.st.Portfolio(id)
		if !ok {
			continue
		}
		for _, p := range pf.Positions {
			if p.Symbol == symbol {
				out.Positions = append(out.Positions, p)
			}
		}
	}
	if md, ok := s.st.MarketData(symbol); ok {
		out.MarketData = &md
	}
	return out
}

// Stats reports the tracked accounts and portfolio totals.
func (s *PortfolioService) Stats() PortfolioStats {
	sum := s.Summary()
	return PortfolioStats{
		AccountsTracked: sum.AccountsTracked,
		TotalPositions:  sum.TotalPositions,
		TotalValue:      sum.TotalValue,
		LastUpdate:      sum.LastUpdate,
		ServiceRunning:  s.running.Load(),
		Accounts:        s.trackedAccounts(),
	}
}
