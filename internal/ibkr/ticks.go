// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ibkr

// Tick types used by market data callbacks.
const (
	TickBidSize     = 0
	TickBid         = 1
	TickAsk         = 2
	TickAskSize     = 3
	TickLast        = 4
	TickLastSize    = 5
	TickHigh        = 6
	TickLow         = 7
	TickVolume      = 8
	TickClose       = 9
	TickBidOption   = 10
	TickAskOption   = 11
	TickLastOption  = 12
	TickModelOption = 13

	TickDelayedBid         = 66
	TickDelayedAsk         = 67
	TickDelayedLast        = 68
	TickDelayedBidSize     = 69
	TickDelayedAskSize     = 70
	TickDelayedLastSize    = 71
	TickDelayedHigh        = 72
	TickDelayedLow         = 73
	TickDelayedVolume      = 74
	TickDelayedClose       = 75
	TickDelayedBidOption   = 80
	TickDelayedAskOption   = 81
	TickDelayedLastOption  = 82
	TickDelayedModelOption = 83
)

// Market data types for ReqMarketDataType.
const (
	MarketDataLive          = 1
	MarketDataFrozen        = 2
	MarketDataDelayed       = 3
	MarketDataDelayedFrozen = 4
)

// PriceField names the quote field a price tick updates.
type PriceField int

const (
	FieldNone PriceField = iota
	FieldBid
	FieldAsk
	FieldLast
	FieldHigh
	FieldLow
	FieldClose
)

// PriceFieldOf maps live and delayed price ticks to a quote field.
func PriceFieldOf(tickType int) PriceField {
	switch tickType {
	case TickBid, TickDelayedBid:
		return FieldBid
	case TickAsk, TickDelayedAsk:
		return FieldAsk
	case TickLast, TickDelayedLast:
		return FieldLast
	case TickHigh, TickDelayedHigh:
		return FieldHigh
	case TickLow, TickDelayedLow:
		return FieldLow
	case TickClose, TickDelayedClose:
		return FieldClose
	}
	return FieldNone
}

// SizeField names the quote field a size tick updates.
type SizeField int

const (
	SizeNone SizeField = iota
	SizeBid
	SizeAsk
	SizeLast
	SizeVolume
)

// SizeFieldOf maps live and delayed size ticks to a quote field.
func SizeFieldOf(tickType int) SizeField {
	switch tickType {
	case TickBidSize, TickDelayedBidSize:
		return SizeBid
	case TickAskSize, TickDelayedAskSize:
		return SizeAsk
	case TickLastSize, TickDelayedLastSize:
		return SizeLast
	case TickVolume, TickDelayedVolume:
		return SizeVolume
	}
	return SizeNone
}

// sizeTickFor returns the size tick implied by a price tick, or -1.
func sizeTickFor(priceTick int) int {
	switch priceTick {
	case TickBid:
		return TickBidSize
	case TickAsk:
		return TickAskSize
	case TickLast:
		return TickLastSize
	case TickDelayedBid:
		return TickDelayedBidSize
	case TickDelayedAsk:
		return TickDelayedAskSize
	case TickDelayedLast:
		return TickDelayedLastSize
	}
	return -1
}

// IsOptionComputation reports whether t carries option greeks.
func IsOptionComputation(t int) bool {
	return (t >= TickBidOption && t <= TickModelOption) || (t >= TickDelayedBidOption && t <= TickDelayedModelOption)
}

// IsGreeksTick reports whether computations of type t feed position greeks:
// bid and model computations, live or delayed.
func IsGreeksTick(t int) bool {
	switch t {
	case TickBidOption, TickModelOption, TickDelayedLastOption, TickDelayedModelOption:
		return true
	}
	return false
}
