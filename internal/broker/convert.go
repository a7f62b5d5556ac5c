// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package broker

import (
	"math"

	"github.com/ManuGH/qtrader/internal/ibkr"
	"github.com/ManuGH/qtrader/internal/model"
)

// positionType maps a contract onto the dashboard instrument class.
func positionType(c ibkr.Contract) model.PositionType {
	if c.SecType != ibkr.SecTypeOption {
		return model.PositionStock
	}
	if c.Right == ibkr.RightCall {
		return model.PositionCall
	}
	return model.PositionPut
}

// DisplayExpiry converts a gateway YYYYMMDD date to MM/DD/YYYY. Other forms
// are returned unchanged.
func DisplayExpiry(expiry string) string {
	if len(expiry) != 8 {
		return expiry
	}
	for _, r := range expiry {
		if r < '0' || r > '9' {
			return expiry
		}
	}
	return expiry[4:6] + "/" + expiry[6:8] + "/" + expiry[0:4]
}

// GatewayExpiry converts MM/DD/YYYY back to YYYYMMDD.
func GatewayExpiry(expiry string) string {
	if len(expiry) == 10 && expiry[2] == '/' && expiry[5] == '/' {
		return expiry[6:10] + expiry[0:2] + expiry[3:5]
	}
	return expiry
}

func positionFrom(c ibkr.Contract, account string, t model.AccountType, quantity, avgCost float64) model.Position {
	p := model.Position{
		Symbol:       c.Symbol,
		AccountID:    account,
		AccountType:  t,
		PositionType: positionType(c),
		Quantity:     quantity,
		AvgCost:      avgCost,
	}
	if p.IsOption() {
		p.StrikePrice = c.Strike
		p.Expiry = DisplayExpiry(c.Expiry)
		p.OptionType = c.Right
	}
	return p
}

// known reports whether v is a real gateway value rather than an unset marker.
func known(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v) && v < 1e300
}

func dataTypeOf(c ibkr.Contract) model.DataType {
	switch c.SecType {
	case ibkr.SecTypeOption:
		return model.DataOption
	case ibkr.SecTypeIndex:
		return model.DataIndex
	case ibkr.SecTypeFuture:
		return model.DataFuture
	}
	return ""
}
