// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ibkr

// Handler receives decoded gateway messages. Callbacks run on the client's
// reader goroutine and must not block.
type Handler interface {
	TickPrice(reqID, tickType int, price float64)
	TickSize(reqID, tickType int, size float64)
	TickOptionComputation(reqID int, c OptionComputation)

	UpdatePortfolio(u PortfolioUpdate)
	UpdateAccountValue(key, value, currency, account string)
	AccountDownloadEnd(account string)
	Position(account string, c Contract, position, avgCost float64)
	PositionEnd()
	ManagedAccounts(accounts []string)

	NextValidID(id int64)
	ContractDetails(reqID int, d ContractDetails)
	ContractDetailsEnd(reqID int)
	SecDefOptParams(reqID int, p OptionParams)
	SecDefOptParamsEnd(reqID int)

	Error(err *APIError)
	ConnectionClosed(err error)
}

// BaseHandler implements Handler with no-ops. Embed it to override a subset.
type BaseHandler struct{}

func (BaseHandler) TickPrice(int, int, float64) {}
func (BaseHandler) TickSize(int, int, float64) {}
func (BaseHandler) TickOptionComputation(int, OptionComputation) {}
func (BaseHandler) UpdatePortfolio(PortfolioUpdate) {}
func (BaseHandler) UpdateAccountValue(string, string, string, string) {}
func (BaseHandler) AccountDownloadEnd(string) {}
func (BaseHandler) Position(string, Contract, float64, float64) {}
func (BaseHandler) PositionEnd() {}
func (BaseHandler) ManagedAccounts([]string) {}
func (BaseHandler) NextValidID(int64) {}
func (BaseHandler) ContractDetails(int, ContractDetails) {}
func (BaseHandler) ContractDetailsEnd(int) {}
func (BaseHandler) SecDefOptParams(int, OptionParams) {}
func (BaseHandler) SecDefOptParamsEnd(int) {}
func (BaseHandler) Error(*APIError) {}
func (BaseHandler) ConnectionClosed(error) {}
