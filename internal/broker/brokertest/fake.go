// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package brokertest provides an in-memory broker.Gateway for service tests.
package brokertest

import (
	"context"
	"errors"
	"sync"

	"github.com/ManuGH/qtrader/internal/broker"
	"github.com/ManuGH/qtrader/internal/ibkr"
	"github.com/ManuGH/qtrader/internal/model"
	"github.com/ManuGH/qtrader/internal/store"
)

var _ broker.Gateway = (*Fake)(nil)

// ErrRejected is returned by requests for symbols listed in Fake.Reject.
var ErrRejected = errors.New("brokertest: request rejected")

// MarketRequest records one RequestMarketData call.
type MarketRequest struct {
	ID       int
	Symbol   string
	Contract ibkr.Contract
	Snapshot bool
}

// Fake records requests and answers contract lookups from its tables. Market
// data listeners are forwarded to the store when one is set.
type Fake struct {
	mu sync.Mutex

	connected bool
	accounts  []string
	nextID    int
	reject    map[string]bool

	Store *store.Store

	market       []MarketRequest
	cancelled    []int
	accountReqs  []string
	accountStops []string
	positionReqs int

	details map[string][]ibkr.ContractDetails
	params  map[int64][]ibkr.OptionParams

	mdErr   []func(string, *ibkr.APIError)
	connFns []func(bool)
}

// New returns a connected fake.
func New(st *store.Store, accounts ...string) *Fake {
	return &Fake{
		connected: true,
		accounts:  accounts,
		nextID:    1000,
		reject:    map[string]bool{},
		Store:     st,
		details:   map[string][]ibkr.ContractDetails{},
		params:    map[int64][]ibkr.OptionParams{},
	}
}

// SetConnected flips the session state and notifies listeners.
func (f *Fake) SetConnected(up bool) {
	f.mu.Lock()
	f.connected = up
	fns := append(([]func(bool))(nil), f.connFns...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(up)
	}
}

// Reject makes market data requests for symbol fail.
func (f *Fake) Reject(symbol string, on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reject[symbol] = on
}

// SetContractDetails sets the reply for symbol.
func (f *Fake) SetContractDetails(symbol string, d ...ibkr.ContractDetails) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.details[symbol] = d
}

// SetOptionParams sets the option chain reply for conID.
func (f *Fake) SetOptionParams(conID int64, p ...ibkr.OptionParams) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params[conID] = p
}

// FailMarketData delivers a market data error for symbol to listeners.
func (f *Fake) FailMarketData(symbol string, err *ibkr.APIError) {
	f.mu.Lock()
	fns := append(([]func(string, *ibkr.APIError))(nil), f.mdErr...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(symbol, err)
	}
}

// MarketRequests returns the recorded market data requests.
func (f *Fake) MarketRequests() []MarketRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]MarketRequest(nil), f.market...)
}

// Cancelled returns the cancelled request ids.
func (f *Fake) Cancelled() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.cancelled...)
}

// AccountRequests returns the accounts passed to RequestAccountUpdates.
func (f *Fake) AccountRequests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.accountReqs...)
}

// AccountCancels returns the accounts passed to CancelAccountUpdates.
func (f *Fake) AccountCancels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.accountStops...)
}

// PositionRequests counts RequestPositions calls.
func (f *Fake) PositionRequests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.positionReqs
}

func (f *Fake) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *Fake) Accounts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.accounts...)
}

func (f *Fake) RequestMarketData(symbol string, contract ibkr.Contract, snapshot bool) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return 0, ibkr.ErrNotConnected
	}
	if f.reject[symbol] {
		return 0, ErrRejected
	}
	f.nextID++
	f.market = append(f.market, MarketRequest{ID: f.nextID, Symbol: symbol, Contract: contract, Snapshot: snapshot})
	return f.nextID, nil
}

func (f *Fake) CancelMarketData(reqID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, reqID)
	if !f.connected {
		return ibkr.ErrNotConnected
	}
	return nil
}

func (f *Fake) RequestAccountUpdates(account string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return ibkr.ErrNotConnected
	}
	f.accountReqs = append(f.accountReqs, account)
	return nil
}

func (f *Fake) CancelAccountUpdates(account string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return ibkr.ErrNotConnected
	}
	f.accountStops = append(f.accountStops, account)
	return nil
}

func (f *Fake) RequestPositions() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return ibkr.ErrNotConnected
	}
	f.positionReqs++
	return nil
}

func (f *Fake) RequestContractDetails(ctx context.Context, symbol string, _ ibkr.Contract) ([]ibkr.ContractDetails, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return nil, ibkr.ErrNotConnected
	}
	return append([]ibkr.ContractDetails(nil), f.details[symbol]...), nil
}

func (f *Fake) RequestOptionParams(ctx context.Context, _ string, conID int64) ([]ibkr.OptionParams, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return nil, ibkr.ErrNotConnected
	}
	return append([]ibkr.OptionParams(nil), f.params[conID]...), nil
}

// OnMarketData forwards to the store. Without a store it is a no-op.
func (f *Fake) OnMarketData(fn func(model.MarketData)) (remove func()) {
	if f.Store == nil {
		return func() {}
	}
	return f.Store.OnMarketData(fn)
}

func (f *Fake) OnMarketDataError(fn func(symbol string, err *ibkr.APIError)) (remove func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := len(f.mdErr)
	f.mdErr = append(f.mdErr, fn)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.mdErr[idx] = func(string, *ibkr.APIError) {}
	}
}

func (f *Fake) OnConnectionChange(fn func(connected bool)) (remove func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := len(f.connFns)
	f.connFns = append(f.connFns, fn)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.connFns[idx] = func(bool) {}
	}
}
