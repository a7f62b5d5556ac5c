// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ibkr

// Security types.
const (
	SecTypeStock  = "STK"
	SecTypeOption = "OPT"
	SecTypeIndex  = "IND"
	SecTypeFuture = "FUT"
)

// Option rights.
const (
	RightCall = "C"
	RightPut  = "P"
)

// Contract identifies an instrument on the gateway.
type Contract struct {
	ConID        int64
	Symbol       string
	SecType      string
	Expiry       string // YYYYMMDD
	Strike       float64
	Right        string
	Multiplier   string
	Exchange     string
	PrimaryExch  string
	Currency     string
	LocalSymbol  string
	TradingClass string
}

// StockContract returns a SMART-routed USD stock.
func StockContract(symbol string) Contract {
	return Contract{Symbol: symbol, SecType: SecTypeStock, Exchange: "SMART", Currency: "USD"}
}

// OptionContract returns a SMART-routed USD equity option.
func OptionContract(symbol, expiry string, strike float64, right string) Contract {
	return Contract{
		Symbol:     symbol,
		SecType:    SecTypeOption,
		Expiry:     expiry,
		Strike:     strike,
		Right:      right,
		Multiplier: "100",
		Exchange:   "SMART",
		Currency:   "USD",
	}
}

// IndexContract returns a USD index on exchange.
func IndexContract(symbol, exchange string) Contract {
	if exchange == "" {
		exchange = "CBOE"
	}
	return Contract{Symbol: symbol, SecType: SecTypeIndex, Exchange: exchange, Currency: "USD"}
}

// ContractDetails is the subset of the contract description the client keeps.
type ContractDetails struct {
	Contract       Contract
	MarketName     string
	MinTick        float64
	OrderTypes     string
	ValidExchanges string
	UnderConID     int64
	LongName       string
}

// OptionParams is one exchange's option chain definition for an underlying.
type OptionParams struct {
	Exchange        string
	UnderlyingConID int64
	TradingClass    string
	Multiplier      string
	Expirations     []string
	Strikes         []float64
}

// OptionComputation is a model computation pushed for an option subscription.
// Fields the gateway could not compute are reported as -1 (vol, price) or -2
// (greeks).
type OptionComputation struct {
	TickType        int
	ImpliedVol      float64
	Delta           float64
	OptPrice        float64
	PvDividend      float64
	Gamma           float64
	Vega            float64
	Theta           float64
	UnderlyingPrice float64
}

// PortfolioUpdate is one position in a subscribed account.
type PortfolioUpdate struct {
	Contract      Contract
	Position      float64
	MarketPrice   float64
	MarketValue   float64
	AverageCost   float64
	UnrealizedPnL float64
	RealizedPnL   float64
	Account       string
}
