// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package model defines the trading domain records shared by the store,
// services and API.
package model

// AccountType distinguishes taxable from tax-advantaged accounts.
type AccountType string

const (
	AccountIndividualTaxable AccountType = "individual_taxable"
	AccountRetirementTaxFree AccountType = "retirement_tax_free"
)

// AccountTypes lists all account types in dashboard order.
var AccountTypes = []AccountType{AccountIndividualTaxable, AccountRetirementTaxFree}

// PositionType is the instrument class of a position.
type PositionType string

const (
	PositionStock PositionType = "Stock"
	PositionCall  PositionType = "Call"
	PositionPut   PositionType = "Put"
)

// Priority ranks how urgently a position needs attention.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Signal is the suggested action for a position.
type Signal string

const (
	SignalBuy           Signal = "BUY"
	SignalSell          Signal = "SELL"
	SignalHold          Signal = "HOLD"
	SignalTakeProfit    Signal = "TAKE_PROFIT"
	SignalTakeLoss      Signal = "TAKE_LOSS"
	SignalPartialProfit Signal = "PARTIAL_PROFIT"
	SignalRoll          Signal = "ROLL"
)

// AlertLevel is the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "info"
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
	AlertUrgent   AlertLevel = "urgent"
)

// AlertType is the rule family that raised an alert.
type AlertType string

const (
	AlertTypeRisk       AlertType = "risk"
	AlertTypeProfitLoss AlertType = "profit_loss"
	AlertTypeExpiration AlertType = "expiration"
	AlertTypeMarket     AlertType = "market"
	AlertTypeSystem     AlertType = "system"
)

// DataType classifies a market data record.
type DataType string

const (
	DataStock  DataType = "stock"
	DataIndex  DataType = "index"
	DataOption DataType = "option"
	DataFuture DataType = "future"
)
