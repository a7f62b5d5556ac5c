// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package broker

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/ManuGH/qtrader/internal/config"
	"github.com/ManuGH/qtrader/internal/ibkr"
	qlog "github.com/ManuGH/qtrader/internal/log"
	"github.com/ManuGH/qtrader/internal/metrics"
	"github.com/ManuGH/qtrader/internal/model"
	"github.com/ManuGH/qtrader/internal/resilience"
	"github.com/ManuGH/qtrader/internal/store"
)

// pending collects a multi-message reply until its end marker.
type pending[T any] struct {
	symbol string
	items  []T
	err    error
	done   chan struct{}
}

func newPending[T any](symbol string) *pending[T] {
	return &pending[T]{symbol: symbol, done: make(chan struct{})}
}

// Session is the gateway handler. It turns callbacks into store updates and
// tracks which request id belongs to which symbol.
type Session struct {
	cfg     config.AppConfig
	store   *store.Store
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger

	connected atomic.Bool

	mu        sync.Mutex
	client    *ibkr.Client
	symbols   map[int]string
	contracts map[int]ibkr.Contract
	details   map[int]*pending[ibkr.ContractDetails]
	params    map[int]*pending[ibkr.OptionParams]
	managed   []string

	mdErrors   listeners[marketDataError]
	connChange listeners[bool]
}

var _ ibkr.Handler = (*Session)(nil)

type marketDataError struct {
	symbol string
	err    *ibkr.APIError
}

// NewSession returns a disconnected session. Call Run to connect.
func NewSession(cfg config.AppConfig, st *store.Store) *Session {
	s := &Session{
		cfg:       cfg,
		store:     st,
		breaker:   resilience.NewCircuitBreaker("ibkr", cfg.IBKR.BreakerThreshold, cfg.IBKR.BreakerResetTimeout),
		logger:    qlog.WithComponent("broker"),
		symbols:   map[int]string{},
		contracts: map[int]ibkr.Contract{},
		details:   map[int]*pending[ibkr.ContractDetails]{},
		params:    map[int]*pending[ibkr.OptionParams]{},
	}
	ibkr.SetMessageHook(metrics.RecordBrokerMessage)
	return s
}

// Breaker exposes the connect breaker for health reporting.
func (s *Session) Breaker() *resilience.CircuitBreaker { return s.breaker }

// Connected reports whether a ready gateway session is up.
func (s *Session) Connected() bool {
	if !s.connected.Load() {
		return false
	}
	c := s.currentClient()
	return c != nil && c.Connected()
}

// Accounts returns the account ids announced by the gateway.
func (s *Session) Accounts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.managed...)
}

func (s *Session) currentClient() *ibkr.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

func (s *Session) accountType(account string) model.AccountType {
	return model.AccountType(s.cfg.AccountType(account))
}

func (s *Session) lookup(reqID int) (string, ibkr.Contract, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sym, ok := s.symbols[reqID]
	return sym, s.contracts[reqID], ok
}

func (s *Session) setConnected(up bool) {
	if s.connected.Swap(up) == up {
		return
	}
	s.store.SetSystemStatus(func(st *model.SystemStatus) { st.IBKRConnected = up })
	metrics.SetBrokerConnected(up)
	s.connChange.emit(up)
}

// markDisconnected drops request state and fails pending replies.
func (s *Session) markDisconnected(cause error) {
	s.mu.Lock()
	s.symbols = map[int]string{}
	s.contracts = map[int]ibkr.Contract{}
	details, params := s.details, s.params
	s.details = map[int]*pending[ibkr.ContractDetails]{}
	s.params = map[int]*pending[ibkr.OptionParams]{}
	s.mu.Unlock()

	err := ibkr.ErrNotConnected
	if cause != nil {
		err = fmt.Errorf("%w: %w", ibkr.ErrNotConnected, cause)
	}
	for _, p := range details {
		p.err = err
		close(p.done)
	}
	for _, p := range params {
		p.err = err
		close(p.done)
	}
	s.setConnected(false)
}

// TickPrice merges a price tick into the symbol's last known quote.
func (s *Session) TickPrice(reqID, tickType int, price float64) {
	symbol, contract, ok := s.lookup(reqID)
	if !ok {
		return
	}
	field := ibkr.PriceFieldOf(tickType)
	if field == ibkr.FieldNone || price <= 0 {
		return
	}

	md, _ := s.store.MarketData(symbol)
	md.Symbol = symbol
	if md.DataType == "" {
		md.DataType = dataTypeOf(contract)
	}
	switch field {
	case ibkr.FieldBid:
		md.Bid = price
	case ibkr.FieldAsk:
		md.Ask = price
	case ibkr.FieldLast:
		md.Price = price
	case ibkr.FieldHigh:
		md.High = price
	case ibkr.FieldLow:
		md.Low = price
	case ibkr.FieldClose:
		md.Close = price
	}
	s.store.UpdateMarketData(md)
	metrics.RecordTick("price")
}

// TickSize records volume. Quote sizes are not kept.
func (s *Session) TickSize(reqID, tickType int, size float64) {
	if ibkr.SizeFieldOf(tickType) != ibkr.SizeVolume || size < 0 {
		return
	}
	symbol, contract, ok := s.lookup(reqID)
	if !ok {
		return
	}
	md, _ := s.store.MarketData(symbol)
	md.Symbol = symbol
	if md.DataType == "" {
		md.DataType = dataTypeOf(contract)
	}
	md.Volume = int64(size)
	s.store.UpdateMarketData(md)
	metrics.RecordTick("size")
}

// TickOptionComputation stores model greeks for the option requested under
// reqID. Computations without a known implied vol are dropped.
func (s *Session) TickOptionComputation(reqID int, c ibkr.OptionComputation) {
	if !ibkr.IsGreeksTick(c.TickType) {
		return
	}
	key, _, ok := s.lookup(reqID)
	if !ok {
		return
	}
	g := model.Greeks{
		Delta:             c.Delta,
		Gamma:             c.Gamma,
		Theta:             c.Theta,
		Vega:              c.Vega,
		ImpliedVolatility: c.ImpliedVol,
	}.Sanitized()
	if g.ImpliedVolatility == 0 {
		s.logger.Debug().Str(qlog.FieldSymbol, key).Int(qlog.FieldTickType, c.TickType).Msg("skipping option computation without implied vol")
		return
	}
	s.store.UpdateGreeks(key, g)
	metrics.RecordTick("greeks")

	if known(c.OptPrice) {
		md, _ := s.store.MarketData(key)
		md.Symbol = key
		md.DataType = model.DataOption
		md.Price = c.OptPrice
		s.store.UpdateMarketData(md)
	}
	s.logger.Debug().
		Str(qlog.FieldSymbol, key).
		Float64("delta", g.Delta).
		Float64("gamma", g.Gamma).
		Msg("greeks updated")
}

// UpdatePortfolio stores one account position. A zero quantity removes it.
func (s *Session) UpdatePortfolio(u ibkr.PortfolioUpdate) {
	t := s.accountType(u.Account)
	pos := positionFrom(u.Contract, u.Account, t, u.Position, u.AverageCost)
	if u.Position == 0 {
		s.store.RemovePosition(u.Account, pos.Symbol, pos.StrikePrice, pos.Expiry, pos.OptionType)
		return
	}
	pos.CurrentPrice = u.MarketPrice
	pos.MarketValue = u.MarketValue
	pos.UnrealizedPnL = u.UnrealizedPnL
	pos.RealizedPnL = u.RealizedPnL
	s.store.UpdatePosition(u.Account, t, pos)

	s.logger.Debug().
		Str(qlog.FieldEvent, "portfolio.position_update").
		Str(qlog.FieldAccount, u.Account).
		Str(qlog.FieldSymbol, pos.Symbol).
		Float64("position", u.Position).
		Float64("market_value", u.MarketValue).
		Msg("position updated")
}

// Position merges a positions-feed entry. Prices already known from the
// account feed are kept.
func (s *Session) Position(account string, c ibkr.Contract, quantity, avgCost float64) {
	t := s.accountType(account)
	pos := positionFrom(c, account, t, quantity, avgCost)
	if quantity == 0 {
		s.store.RemovePosition(account, pos.Symbol, pos.StrikePrice, pos.Expiry, pos.OptionType)
		return
	}
	if pf, ok := s.store.Portfolio(account); ok {
		if existing := pf.Position(pos.Symbol, pos.StrikePrice, pos.Expiry, pos.OptionType); existing != nil {
			merged := *existing
			merged.Quantity = quantity
			merged.AvgCost = avgCost
			merged.MarketValue = 0
			merged.UnrealizedPnL = 0
			s.store.UpdatePosition(account, t, merged)
			return
		}
	}
	s.store.UpdatePosition(account, t, pos)
}

// UpdateAccountValue records the account keys the dashboard uses.
func (s *Session) UpdateAccountValue(key, value, currency, account string) {
	if !store.IsImportantAccountKey(key) {
		return
	}
	if err := s.store.UpdateAccountValue(account, s.accountType(account), key, value, currency); err != nil {
		s.logger.Warn().Err(err).Str(qlog.FieldAccount, account).Str("key", key).Msg("ignoring account value")
	}
}

func (s *Session) AccountDownloadEnd(account string) {
	s.logger.Info().Str(qlog.FieldEvent, "portfolio.account_download_complete").Str(qlog.FieldAccount, account).Msg("account download complete")
}

func (s *Session) PositionEnd() {
	s.logger.Info().Str(qlog.FieldEvent, "portfolio.positions_download_complete").Msg("positions download complete")
}

// ManagedAccounts creates an empty portfolio for every announced account.
func (s *Session) ManagedAccounts(accounts []string) {
	s.mu.Lock()
	s.managed = append([]string(nil), accounts...)
	s.mu.Unlock()
	for _, a := range accounts {
		s.store.EnsurePortfolio(a, s.accountType(a))
	}
	s.logger.Info().Str(qlog.FieldEvent, "ibkr.managed_accounts").Strs("accounts", accounts).Msg("managed accounts received")
}

func (s *Session) NextValidID(id int64) {
	s.logger.Debug().Str(qlog.FieldEvent, "ibkr.next_valid_id").Int64("order_id", id).Msg("gateway ready")
}

func (s *Session) ContractDetails(reqID int, d ibkr.ContractDetails) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.details[reqID]; ok {
		p.items = append(p.items, d)
	}
}

func (s *Session) ContractDetailsEnd(reqID int) {
	s.mu.Lock()
	p, ok := s.details[reqID]
	delete(s.details, reqID)
	s.mu.Unlock()
	if ok {
		close(p.done)
	}
}

func (s *Session) SecDefOptParams(reqID int, op ibkr.OptionParams) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.params[reqID]; ok {
		p.items = append(p.items, op)
	}
}

func (s *Session) SecDefOptParamsEnd(reqID int) {
	s.mu.Lock()
	p, ok := s.params[reqID]
	delete(s.params, reqID)
	s.mu.Unlock()
	if ok {
		close(p.done)
	}
}

// failPending ends a blocked contract or option chain request with err.
func (s *Session) failPending(reqID int, err error) bool {
	s.mu.Lock()
	d, dok := s.details[reqID]
	delete(s.details, reqID)
	p, pok := s.params[reqID]
	delete(s.params, reqID)
	s.mu.Unlock()
	if dok {
		d.err = err
		close(d.done)
	}
	if pok {
		p.err = err
		close(p.done)
	}
	return dok || pok
}

// Error reacts to a gateway error message according to its class.
func (s *Session) Error(err *ibkr.APIError) {
	class := err.Class()
	metrics.RecordBrokerError(string(class))
	logger := s.logger.With().Int(qlog.FieldCode, err.Code).Int(qlog.FieldReqID, err.ReqID).Logger()

	switch class {
	case ibkr.ClassInfo:
		logger.Debug().Msg(err.Message)
	case ibkr.ClassConnection:
		logger.Warn().Str(qlog.FieldEvent, "ibkr.connection_error").Msg(err.Message)
		s.setConnected(false)
	case ibkr.ClassMarketData, ibkr.ClassSubscription:
		symbol, _, _ := s.lookup(err.ReqID)
		logger.Warn().Str(qlog.FieldSymbol, symbol).Msg("market data error: " + err.Message)
		if s.failPending(err.ReqID, err) {
			return
		}
		s.mu.Lock()
		delete(s.symbols, err.ReqID)
		delete(s.contracts, err.ReqID)
		s.mu.Unlock()
		metrics.RecordSubscriptionFailure()
		if symbol != "" {
			s.mdErrors.emit(marketDataError{symbol: symbol, err: err})
		}
	default:
		if s.failPending(err.ReqID, err) {
			return
		}
		logger.Error().Str(qlog.FieldEvent, "ibkr.error").Msg(err.Message)
	}
}

// ConnectionClosed handles the end of a client. A close reported by a
// client that has already been replaced is ignored.
func (s *Session) ConnectionClosed(err error) {
	if c := s.currentClient(); c != nil && c.Connected() {
		return
	}
	s.markDisconnected(err)
}
