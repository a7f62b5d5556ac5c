// SPDX-License-Identifier: MIT

package quant

import "github.com/ManuGH/qtrader/internal/model"

// Strategy names reported by IdentifyStrategy.
const (
	StrategyNone           = "No Position"
	StrategyLongCall       = "Long Call"
	StrategyShortCall      = "Short Call"
	StrategyLongPut        = "Long Put"
	StrategyShortPut       = "Short Put"
	StrategyCoveredCall    = "Covered Call"
	StrategyProtectivePut  = "Protective Put"
	StrategyStraddle       = "Straddle"
	StrategyStrangle       = "Strangle"
	StrategyBullCallSpread = "Bull Call Spread"
	StrategyBearCallSpread = "Bear Call Spread"
	StrategyBearPutSpread  = "Bear Put Spread"
	StrategyBullPutSpread  = "Bull Put Spread"
	StrategyIronCondor     = "Iron Condor"
	StrategyComplex        = "Complex Strategy"
	StrategyUnknown        = "Unknown"
)

// IdentifyStrategy classifies the positions held on one underlying by the
// count of calls, puts and stock legs.
func IdentifyStrategy(positions []model.Position, underlying string) string {
	var calls, puts, stocks []model.Position
	for _, p := range positions {
		if p.Symbol != underlying {
			continue
		}
		switch p.PositionType {
		case model.PositionCall:
			calls = append(calls, p)
		case model.PositionPut:
			puts = append(puts, p)
		case model.PositionStock:
			stocks = append(stocks, p)
		}
	}

	nc, np, ns := len(calls), len(puts), len(stocks)
	switch {
	case nc+np+ns == 0:
		return StrategyNone
	case nc == 1 && np == 0 && ns == 0:
		if calls[0].Quantity > 0 {
			return StrategyLongCall
		}
		return StrategyShortCall
	case nc == 0 && np == 1 && ns == 0:
		if puts[0].Quantity > 0 {
			return StrategyLongPut
		}
		return StrategyShortPut
	case nc == 1 && np == 0 && ns == 1:
		if calls[0].Quantity < 0 && stocks[0].Quantity > 0 {
			return StrategyCoveredCall
		}
		return StrategyUnknown
	case nc == 0 && np == 1 && ns == 1:
		if puts[0].Quantity > 0 && stocks[0].Quantity > 0 {
			return StrategyProtectivePut
		}
		return StrategyUnknown
	case nc == 1 && np == 1:
		if calls[0].StrikePrice == puts[0].StrikePrice {
			return StrategyStraddle
		}
		return StrategyStrangle
	case nc == 2 && np == 0:
		if anyLong(calls) {
			return StrategyBullCallSpread
		}
		return StrategyBearCallSpread
	case nc == 0 && np == 2:
		if anyLong(puts) {
			return StrategyBearPutSpread
		}
		return StrategyBullPutSpread
	case nc == 2 && np == 2:
		return StrategyIronCondor
	default:
		return StrategyComplex
	}
}

func anyLong(ps []model.Position) bool {
	for _, p := range ps {
		if p.Quantity > 0 {
			return true
		}
	}
	return false
}
