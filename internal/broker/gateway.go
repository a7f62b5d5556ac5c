// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package broker adapts the gateway protocol client to the store and owns the
// connection lifecycle.
package broker

import (
	"context"

	"github.com/ManuGH/qtrader/internal/ibkr"
	"github.com/ManuGH/qtrader/internal/model"
)

// Gateway is the broker surface the services depend on. Session implements it.
type Gateway interface {
	Connected() bool
	// Accounts lists the account ids announced by the gateway.
	Accounts() []string

	// RequestMarketData subscribes symbol and returns the request id. Ticks
	// are stored under symbol, which for options is the option key.
	RequestMarketData(symbol string, contract ibkr.Contract, snapshot bool) (int, error)
	CancelMarketData(reqID int) error

	RequestAccountUpdates(account string) error
	CancelAccountUpdates(account string) error
	RequestPositions() error

	// RequestContractDetails blocks until the gateway ends the reply.
	RequestContractDetails(ctx context.Context, symbol string, contract ibkr.Contract) ([]ibkr.ContractDetails, error)
	// RequestOptionParams blocks until the gateway ends the option chain reply.
	RequestOptionParams(ctx context.Context, symbol string, conID int64) ([]ibkr.OptionParams, error)

	OnMarketData(fn func(model.MarketData)) (remove func())
	OnMarketDataError(fn func(symbol string, err *ibkr.APIError)) (remove func())
	OnConnectionChange(fn func(connected bool)) (remove func())
}

var _ Gateway = (*Session)(nil)
