// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ibkr

import (
	"strconv"
	"strings"
)

// Outgoing message ids.
const (
	OutReqMktData         = 1
	OutCancelMktData      = 2
	OutReqAccountUpdates  = 6
	OutReqContractDetails = 9
	OutReqMarketDataType  = 59
	OutReqPositions       = 61
	OutCancelPositions    = 64
	OutStartAPI           = 71
	OutReqSecDefOptParams = 78
)

// Incoming message ids.
const (
	InTickPrice             = 1
	InTickSize              = 2
	InErrMsg                = 4
	InAcctValue             = 6
	InPortfolioValue        = 7
	InAcctUpdateTime        = 8
	InNextValidID           = 9
	InContractData          = 10
	InManagedAccts          = 15
	InTickOptionComputation = 21
	InContractDataEnd       = 52
	InAcctDownloadEnd       = 54
	InPositionData          = 61
	InPositionEnd           = 62
	InSecDefOptParams       = 75
	InSecDefOptParamsEnd    = 76
)

// Server versions that change message layouts.
const (
	MinClientVersion = 100
	MaxClientVersion = 176

	minServerPriceBasedVolatility = 156
	minServerSizeRules            = 164
	minServerAdvancedOrderReject  = 166
	minServerBondIssuerID         = 176
)

// dispatch decodes one message and invokes the matching handler callback. It
// reports whether the message id was known.
func dispatch(serverVersion int, fields []string, h Handler) (known bool, err error) {
	d := NewDecoder(fields)
	msgID := d.Int()
	if d.Err() != nil {
		return false, d.Err()
	}

	switch msgID {
	case InTickPrice:
		decodeTickPrice(d, h)
	case InTickSize:
		d.Skip(1)
		reqID, tickType := d.Int(), d.Int()
		size := d.Decimal()
		if d.Err() == nil {
			h.TickSize(reqID, tickType, size)
		}
	case InErrMsg:
		d.Skip(1)
		e := &APIError{ReqID: d.Int(), Code: d.Int(), Message: d.String()}
		if serverVersion >= minServerAdvancedOrderReject && d.Remaining() > 0 {
			d.Skip(1)
		}
		if d.Err() == nil {
			h.Error(e)
		}
	case InAcctValue:
		d.Skip(1)
		key, val, cur, acct := d.String(), d.String(), d.String(), d.String()
		if d.Err() == nil {
			h.UpdateAccountValue(key, val, cur, acct)
		}
	case InPortfolioValue:
		decodePortfolioValue(d, h)
	case InAcctUpdateTime:
		// timestamps are not tracked
	case InNextValidID:
		d.Skip(1)
		id := d.Int64()
		if d.Err() == nil {
			h.NextValidID(id)
		}
	case InContractData:
		decodeContractData(serverVersion, d, h)
	case InContractDataEnd:
		d.Skip(1)
		reqID := d.Int()
		if d.Err() == nil {
			h.ContractDetailsEnd(reqID)
		}
	case InManagedAccts:
		d.Skip(1)
		list := d.String()
		if d.Err() == nil {
			h.ManagedAccounts(splitAccounts(list))
		}
	case InTickOptionComputation:
		decodeOptionComputation(serverVersion, d, h)
	case InAcctDownloadEnd:
		d.Skip(1)
		acct := d.String()
		if d.Err() == nil {
			h.AccountDownloadEnd(acct)
		}
	case InPositionData:
		decodePosition(d, h)
	case InPositionEnd:
		h.PositionEnd()
	case InSecDefOptParams:
		decodeSecDefOptParams(d, h)
	case InSecDefOptParamsEnd:
		reqID := d.Int()
		if d.Err() == nil {
			h.SecDefOptParamsEnd(reqID)
		}
	default:
		return false, nil
	}
	return true, d.Err()
}

func decodeTickPrice(d *Decoder, h Handler) {
	version := d.Int()
	reqID, tickType, price := d.Int(), d.Int(), d.Float()
	var size float64
	hasSize := version >= 2 && d.Remaining() > 0
	if hasSize {
		size = d.Decimal()
	}
	if d.Err() != nil {
		return
	}
	h.TickPrice(reqID, tickType, price)
	if sizeTick := sizeTickFor(tickType); hasSize && sizeTick >= 0 {
		h.TickSize(reqID, sizeTick, size)
	}
}

func decodePortfolioValue(d *Decoder, h Handler) {
	version := d.Int()
	var u PortfolioUpdate
	c := &u.Contract
	if version >= 6 {
		c.ConID = d.Int64()
	}
	c.Symbol = d.String()
	c.SecType = d.String()
	c.Expiry = lastTradeDate(d.String())
	c.Strike = d.Float()
	c.Right = d.String()
	if version >= 7 {
		c.Multiplier = d.String()
		c.PrimaryExch = d.String()
	}
	c.Currency = d.String()
	if version >= 2 {
		c.LocalSymbol = d.String()
	}
	if version >= 8 {
		c.TradingClass = d.String()
	}
	u.Position = d.Decimal()
	u.MarketPrice = d.Float()
	u.MarketValue = d.Float()
	if version >= 3 {
		u.AverageCost = d.Float()
		u.UnrealizedPnL = d.Float()
		u.RealizedPnL = d.Float()
	}
	if version >= 4 {
		u.Account = d.String()
	}
	if d.Err() == nil {
		h.UpdatePortfolio(u)
	}
}

func decodeContractData(serverVersion int, d *Decoder, h Handler) {
	version := 8
	if serverVersion < minServerSizeRules {
		version = d.Int()
	}
	reqID := -1
	if version >= 3 {
		reqID = d.Int()
	}
	var cd ContractDetails
	c := &cd.Contract
	c.Symbol = d.String()
	c.SecType = d.String()
	c.Expiry = lastTradeDate(d.String())
	c.Strike = d.Float()
	c.Right = d.String()
	c.Exchange = d.String()
	c.Currency = d.String()
	c.LocalSymbol = d.String()
	cd.MarketName = d.String()
	c.TradingClass = d.String()
	c.ConID = d.Int64()
	cd.MinTick = d.Float()
	c.Multiplier = d.String()
	cd.OrderTypes = d.String()
	cd.ValidExchanges = d.String()
	if version >= 2 {
		d.Skip(1) // price magnifier
	}
	if version >= 4 {
		cd.UnderConID = d.Int64()
	}
	if version >= 5 {
		cd.LongName = d.String()
		c.PrimaryExch = d.String()
	}
	if d.Err() == nil {
		h.ContractDetails(reqID, cd)
	}
}

func decodeOptionComputation(serverVersion int, d *Decoder, h Handler) {
	if serverVersion < minServerPriceBasedVolatility {
		d.Skip(1)
	}
	reqID, tickType := d.Int(), d.Int()
	if serverVersion >= minServerPriceBasedVolatility {
		d.Skip(1) // tick attrib
	}
	c := OptionComputation{TickType: tickType}
	c.ImpliedVol = d.Float()
	c.Delta = d.Float()
	c.OptPrice = d.Float()
	c.PvDividend = d.Float()
	c.Gamma = d.Float()
	c.Vega = d.Float()
	c.Theta = d.Float()
	c.UnderlyingPrice = d.Float()
	if d.Err() == nil {
		h.TickOptionComputation(reqID, c)
	}
}

func decodePosition(d *Decoder, h Handler) {
	version := d.Int()
	acct := d.String()
	var c Contract
	c.ConID = d.Int64()
	c.Symbol = d.String()
	c.SecType = d.String()
	c.Expiry = lastTradeDate(d.String())
	c.Strike = d.Float()
	c.Right = d.String()
	c.Multiplier = d.String()
	c.Exchange = d.String()
	c.Currency = d.String()
	c.LocalSymbol = d.String()
	if version >= 2 {
		c.TradingClass = d.String()
	}
	pos := d.Decimal()
	var avg float64
	if version >= 3 {
		avg = d.Float()
	}
	if d.Err() == nil {
		h.Position(acct, c, pos, avg)
	}
}

func decodeSecDefOptParams(d *Decoder, h Handler) {
	reqID := d.Int()
	var p OptionParams
	p.Exchange = d.String()
	p.UnderlyingConID = d.Int64()
	p.TradingClass = d.String()
	p.Multiplier = d.String()
	n := d.Int()
	for i := 0; i < n && d.Err() == nil; i++ {
		p.Expirations = append(p.Expirations, d.String())
	}
	n = d.Int()
	for i := 0; i < n && d.Err() == nil; i++ {
		p.Strikes = append(p.Strikes, d.Float())
	}
	if d.Err() == nil {
		h.SecDefOptParams(reqID, p)
	}
}

// lastTradeDate drops the time and zone the gateway may append to a date.
func lastTradeDate(s string) string {
	if i := strings.IndexAny(s, " -"); i > 0 {
		return s[:i]
	}
	return s
}

func splitAccounts(list string) []string {
	var out []string
	for _, a := range strings.Split(list, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// versionRange is the client's supported range sent during the handshake.
func versionRange() string {
	return "v" + strconv.Itoa(MinClientVersion) + ".." + strconv.Itoa(MaxClientVersion)
}
