// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ibkrtest

import "github.com/ManuGH/qtrader/internal/ibkr"

// TickPrice pushes a price tick with a zero size.
func (g *Gateway) TickPrice(reqID, tickType int, price float64) {
	g.Send(ibkr.InTickPrice, 6, reqID, tickType, price, 0, 0)
}

// TickSize pushes a size tick.
func (g *Gateway) TickSize(reqID, tickType int, size float64) {
	g.Send(ibkr.InTickSize, 6, reqID, tickType, size)
}

// OptionComputation pushes a computation in the layout of current servers.
func (g *Gateway) OptionComputation(reqID int, c ibkr.OptionComputation) {
	g.Send(ibkr.InTickOptionComputation, reqID, c.TickType, 1,
		c.ImpliedVol, c.Delta, c.OptPrice, c.PvDividend, c.Gamma, c.Vega, c.Theta, c.UnderlyingPrice)
}

// Error pushes a gateway error message.
func (g *Gateway) Error(reqID, code int, msg string) {
	g.Send(ibkr.InErrMsg, 2, reqID, code, msg, "")
}

// AccountValue pushes one account value.
func (g *Gateway) AccountValue(key, value, currency, account string) {
	g.Send(ibkr.InAcctValue, 2, key, value, currency, account)
}

// Portfolio pushes one portfolio entry using message version 8.
func (g *Gateway) Portfolio(u ibkr.PortfolioUpdate) {
	c := u.Contract
	g.Send(ibkr.InPortfolioValue, 8, c.ConID, c.Symbol, c.SecType, c.Expiry, c.Strike, c.Right,
		c.Multiplier, c.PrimaryExch, c.Currency, c.LocalSymbol, c.TradingClass,
		u.Position, u.MarketPrice, u.MarketValue, u.AverageCost, u.UnrealizedPnL, u.RealizedPnL, u.Account)
}

// AccountDownloadEnd pushes the end of an account snapshot.
func (g *Gateway) AccountDownloadEnd(account string) {
	g.Send(ibkr.InAcctDownloadEnd, 1, account)
}

// Position pushes one position using message version 3.
func (g *Gateway) Position(account string, c ibkr.Contract, pos, avgCost float64) {
	g.Send(ibkr.InPositionData, 3, account, c.ConID, c.Symbol, c.SecType, c.Expiry, c.Strike, c.Right,
		c.Multiplier, c.Exchange, c.Currency, c.LocalSymbol, c.TradingClass, pos, avgCost)
}

// PositionEnd pushes the end of a position snapshot.
func (g *Gateway) PositionEnd() {
	g.Send(ibkr.InPositionEnd, 1)
}

// ContractDetails pushes a contract description in the layout of servers
// that no longer send a message version.
func (g *Gateway) ContractDetails(reqID int, d ibkr.ContractDetails) {
	c := d.Contract
	g.Send(ibkr.InContractData, reqID, c.Symbol, c.SecType, c.Expiry, c.Strike, c.Right,
		c.Exchange, c.Currency, c.LocalSymbol, d.MarketName, c.TradingClass, c.ConID, d.MinTick,
		c.Multiplier, d.OrderTypes, d.ValidExchanges, 1, d.UnderConID, d.LongName, c.PrimaryExch)
	g.Send(ibkr.InContractDataEnd, 1, reqID)
}

// OptionParams pushes one option chain definition followed by its end marker.
func (g *Gateway) OptionParams(reqID int, p ibkr.OptionParams) {
	fields := []any{ibkr.InSecDefOptParams, reqID, p.Exchange, p.UnderlyingConID, p.TradingClass, p.Multiplier, len(p.Expirations)}
	for _, e := range p.Expirations {
		fields = append(fields, e)
	}
	fields = append(fields, len(p.Strikes))
	for _, s := range p.Strikes {
		fields = append(fields, s)
	}
	g.Send(fields...)
	g.Send(ibkr.InSecDefOptParamsEnd, reqID)
}
