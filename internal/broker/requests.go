// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package broker

import (
	"context"
	"fmt"

	"github.com/ManuGH/qtrader/internal/ibkr"
	qlog "github.com/ManuGH/qtrader/internal/log"
	"github.com/ManuGH/qtrader/internal/model"
	"github.com/ManuGH/qtrader/internal/telemetry"
)

func (s *Session) liveClient() (*ibkr.Client, error) {
	c := s.currentClient()
	if c == nil || !s.Connected() {
		return nil, ibkr.ErrNotConnected
	}
	return c, nil
}

// RequestMarketData subscribes to quotes for contract under symbol.
func (s *Session) RequestMarketData(symbol string, contract ibkr.Contract, snapshot bool) (int, error) {
	c, err := s.liveClient()
	if err != nil {
		return 0, err
	}
	id := c.NextRequestID()
	_, span := telemetry.Start(context.Background(), "broker.req_mkt_data", telemetry.MarketAttributes(symbol, contract.SecType, id, snapshot)...)

	s.mu.Lock()
	s.symbols[id] = symbol
	s.contracts[id] = contract
	s.mu.Unlock()

	if err := c.ReqMktData(id, contract, "", snapshot); err != nil {
		s.mu.Lock()
		delete(s.symbols, id)
		delete(s.contracts, id)
		s.mu.Unlock()
		telemetry.End(span, err)
		return 0, fmt.Errorf("broker: market data for %s: %w", symbol, err)
	}
	telemetry.End(span, nil)

	s.logger.Info().
		Str(qlog.FieldEvent, "market.data_requested").
		Str(qlog.FieldSymbol, symbol).
		Str(qlog.FieldSecType, contract.SecType).
		Int(qlog.FieldReqID, id).
		Bool("snapshot", snapshot).
		Msg("market data requested")
	return id, nil
}

// CancelMarketData ends a subscription. Unknown ids are ignored by the gateway.
func (s *Session) CancelMarketData(reqID int) error {
	s.mu.Lock()
	symbol := s.symbols[reqID]
	delete(s.symbols, reqID)
	delete(s.contracts, reqID)
	s.mu.Unlock()

	c, err := s.liveClient()
	if err != nil {
		return err
	}
	if err := c.CancelMktData(reqID); err != nil {
		return fmt.Errorf("broker: cancel market data %d: %w", reqID, err)
	}
	s.logger.Info().Str(qlog.FieldEvent, "market.data_cancelled").Str(qlog.FieldSymbol, symbol).Int(qlog.FieldReqID, reqID).Msg("market data cancelled")
	return nil
}

// RequestAccountUpdates subscribes to portfolio and value updates of account.
func (s *Session) RequestAccountUpdates(account string) error {
	c, err := s.liveClient()
	if err != nil {
		return err
	}
	if err := c.ReqAccountUpdates(true, account); err != nil {
		return fmt.Errorf("broker: account updates for %s: %w", account, err)
	}
	s.logger.Debug().Str(qlog.FieldEvent, "portfolio.account_updates_requested").Str(qlog.FieldAccount, account).Msg("account updates requested")
	return nil
}

// CancelAccountUpdates stops the account subscription.
func (s *Session) CancelAccountUpdates(account string) error {
	c, err := s.liveClient()
	if err != nil {
		return err
	}
	if err := c.ReqAccountUpdates(false, account); err != nil {
		return fmt.Errorf("broker: cancel account updates for %s: %w", account, err)
	}
	return nil
}

// RequestPositions asks for positions of every account.
func (s *Session) RequestPositions() error {
	c, err := s.liveClient()
	if err != nil {
		return err
	}
	if err := c.ReqPositions(); err != nil {
		return fmt.Errorf("broker: positions: %w", err)
	}
	return nil
}

// RequestContractDetails returns every contract matching contract.
func (s *Session) RequestContractDetails(ctx context.Context, symbol string, contract ibkr.Contract) ([]ibkr.ContractDetails, error) {
	c, err := s.liveClient()
	if err != nil {
		return nil, err
	}
	id := c.NextRequestID()
	p := newPending[ibkr.ContractDetails](symbol)
	s.mu.Lock()
	s.details[id] = p
	s.mu.Unlock()

	if err := c.ReqContractDetails(id, contract); err != nil {
		s.failPending(id, err)
		return nil, fmt.Errorf("broker: contract details for %s: %w", symbol, err)
	}
	return await(ctx, s, id, p)
}

// RequestOptionParams returns the option chain definitions of an underlying.
func (s *Session) RequestOptionParams(ctx context.Context, symbol string, conID int64) ([]ibkr.OptionParams, error) {
	c, err := s.liveClient()
	if err != nil {
		return nil, err
	}
	id := c.NextRequestID()
	p := newPending[ibkr.OptionParams](symbol)
	s.mu.Lock()
	s.params[id] = p
	s.mu.Unlock()

	if err := c.ReqSecDefOptParams(id, symbol, "", ibkr.SecTypeStock, conID); err != nil {
		s.failPending(id, err)
		return nil, fmt.Errorf("broker: option params for %s: %w", symbol, err)
	}
	return await(ctx, s, id, p)
}

func await[T any](ctx context.Context, s *Session, id int, p *pending[T]) ([]T, error) {
	select {
	case <-p.done:
		if p.err != nil {
			return nil, fmt.Errorf("broker: request %d for %s: %w", id, p.symbol, p.err)
		}
		return p.items, nil
	case <-ctx.Done():
		s.failPending(id, ctx.Err())
		return nil, ctx.Err()
	}
}

// OnMarketData registers fn for every stored quote.
func (s *Session) OnMarketData(fn func(model.MarketData)) (remove func()) {
	return s.store.OnMarketData(fn)
}

// OnMarketDataError registers fn for market data errors tied to a symbol.
func (s *Session) OnMarketDataError(fn func(symbol string, err *ibkr.APIError)) (remove func()) {
	return s.mdErrors.add(func(e marketDataError) { fn(e.symbol, e.err) })
}

// OnConnectionChange registers fn for session up and down transitions.
func (s *Session) OnConnectionChange(fn func(connected bool)) (remove func()) {
	return s.connChange.add(fn)
}
