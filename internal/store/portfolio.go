// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"

	qlog "github.com/ManuGH/qtrader/internal/log"
	"github.com/ManuGH/qtrader/internal/model"
	"github.com/ManuGH/qtrader/internal/quant"
)

// Account value keys with a dedicated portfolio field.
const (
	KeyCashBalance        = "CashBalance"
	KeyTotalCashValue     = "TotalCashValue"
	KeyBuyingPower        = "BuyingPower"
	KeyNetLiquidation     = "NetLiquidation"
	KeyGrossPositionValue = "GrossPositionValue"
	KeyAvailableFunds     = "AvailableFunds"
	KeyMaintMarginReq     = "MaintMarginReq"
)

// ImportantAccountKeys are the account values recorded from the broker feed.
var ImportantAccountKeys = []string{
	KeyCashBalance, KeyBuyingPower, KeyNetLiquidation, KeyGrossPositionValue,
	KeyTotalCashValue, KeyAvailableFunds, KeyMaintMarginReq,
}

// IsImportantAccountKey reports whether key is one of ImportantAccountKeys.
func IsImportantAccountKey(key string) bool {
	return slices.Contains(ImportantAccountKeys, key)
}

// EnsurePortfolio creates an empty portfolio for acct when none exists.
func (s *Store) EnsurePortfolio(acct string, t model.AccountType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.portfolioLocked(acct, t)
}

func (s *Store) portfolioLocked(acct string, t model.AccountType) *model.Portfolio {
	pf, ok := s.portfolios[acct]
	if !ok {
		pf = model.NewPortfolio(acct, t, s.now())
		s.portfolios[acct] = pf
	}
	return pf
}

// UpdatePosition inserts or replaces pos in the account's portfolio. Option
// positions pick up stored greeks, zero prices fall back to the last quote,
// and every leg on the underlying is reclassified.
func (s *Store) UpdatePosition(acct string, t model.AccountType, pos model.Position) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	pos.AccountID = acct
	pos.AccountType = t
	if pos.CurrentPrice == 0 && !pos.IsOption() {
		if md, ok := s.marketData[pos.Symbol]; ok {
			pos.CurrentPrice = md.Price
		}
	}
	if pos.IsOption() && pos.Greeks == nil {
		if g, ok := s.greeks[pos.Key()]; ok {
			gc := g
			pos.Greeks = &gc
		}
	}
	pos.Normalize(now)

	pf := s.portfolioLocked(acct, t)
	if existing := pf.Position(pos.Symbol, pos.StrikePrice, pos.Expiry, pos.OptionType); existing != nil {
		pos.CreatedAt = existing.CreatedAt
	}
	pf.AddPosition(pos, now)
	s.classifyLocked(pf, pos.Symbol)
	s.lastPortfolioUpdate = now

	s.logger.Debug().Str(qlog.FieldAccount, acct).Str(qlog.FieldSymbol, pos.Symbol).Msg("position updated")
}

func (s *Store) classifyLocked(pf *model.Portfolio, symbol string) {
	strategy := quant.IdentifyStrategy(pf.Positions, symbol)
	for i := range pf.Positions {
		if pf.Positions[i].Symbol == symbol {
			pf.Positions[i].Strategy = strategy
		}
	}
}

// RemovePosition deletes the matching position and reports whether it existed.
func (s *Store) RemovePosition(acct, symbol string, strike float64, expiry, right string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pf, ok := s.portfolios[acct]
	if !ok {
		return false
	}
	if !pf.RemovePosition(symbol, strike, expiry, right, s.now()) {
		return false
	}
	s.classifyLocked(pf, symbol)
	s.lastPortfolioUpdate = s.now()
	return true
}

// RemovePortfolio drops an account and its raw values.
func (s *Store) RemovePortfolio(acct string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.portfolios[acct]
	delete(s.portfolios, acct)
	delete(s.accountData, acct)
	return ok
}

// UpdateAccountValue records a raw account value. Cash, buying power and
// margin keys also update the portfolio, which is created on demand with
// account type t.
func (s *Store) UpdateAccountValue(acct string, t model.AccountType, key, value, currency string) error {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	vals, ok := s.accountData[acct]
	if !ok {
		vals = map[string]AccountValue{}
		s.accountData[acct] = vals
	}
	vals[key] = AccountValue{Value: value, Currency: currency, Timestamp: now}

	var field *float64
	pf := s.portfolioLocked(acct, t)
	switch key {
	case KeyCashBalance, KeyTotalCashValue:
		field = &pf.CashBalance
	case KeyBuyingPower:
		field = &pf.BuyingPower
	case KeyMaintMarginReq:
		field = &pf.MarginUsed
	default:
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("store: account %s value %s=%q: %w", acct, key, value, err)
	}
	*field = f
	pf.CalculateTotals(now)
	s.lastPortfolioUpdate = now
	return nil
}

// AccountValues returns the raw values recorded for acct.
func (s *Store) AccountValues(acct string) map[string]AccountValue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.accountData[acct])
}

// Portfolio returns a copy of the account's portfolio.
func (s *Store) Portfolio(acct string) (*model.Portfolio, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pf, ok := s.portfolios[acct]
	if !ok {
		return nil, false
	}
	return pf.Clone(), true
}

// Portfolios returns copies of every portfolio keyed by account.
func (s *Store) Portfolios() map[string]*model.Portfolio {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.portfoliosLocked()
}

func (s *Store) portfoliosLocked() map[string]*model.Portfolio {
	out := make(map[string]*model.Portfolio, len(s.portfolios))
	for k, v := range s.portfolios {
		out[k] = v.Clone()
	}
	return out
}

// Accounts returns the account ids with a portfolio, sorted.
func (s *Store) Accounts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.portfolios))
}

// MutatePortfolio applies fn to the live portfolio under the write lock and
// recalculates totals afterwards. It reports whether the account exists.
func (s *Store) MutatePortfolio(acct string, fn func(*model.Portfolio)) bool {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	pf, ok := s.portfolios[acct]
	if !ok {
		return false
	}
	fn(pf)
	pf.CalculateTotals(now)
	s.lastPortfolioUpdate = now
	return true
}

// LastPortfolioUpdate returns when any portfolio last changed.
func (s *Store) LastPortfolioUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastPortfolioUpdate
}
