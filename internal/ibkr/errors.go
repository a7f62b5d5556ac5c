// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ibkr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by requests made without a live session.
	ErrNotConnected = errors.New("ibkr: not connected")
	// ErrHandshake is returned when the server greeting is malformed.
	ErrHandshake = errors.New("ibkr: handshake failed")
)

// ErrorClass groups gateway error codes by how the client reacts.
type ErrorClass string

const (
	ClassInfo         ErrorClass = "info"
	ClassConnection   ErrorClass = "connection"
	ClassMarketData   ErrorClass = "market_data"
	ClassSubscription ErrorClass = "subscription_limit"
	ClassRequest      ErrorClass = "request"
)

var errorClasses = map[int]ErrorClass{
	// farm status notices
	2104: ClassInfo,
	2106: ClassInfo,
	2107: ClassInfo,
	2108: ClassInfo,
	2119: ClassInfo,
	2158: ClassInfo,

	502:  ClassConnection,
	503:  ClassConnection,
	504:  ClassConnection,
	1100: ClassConnection,
	1101: ClassConnection,
	1102: ClassConnection,

	200:   ClassMarketData,
	354:   ClassMarketData,
	10089: ClassMarketData,
	10090: ClassMarketData,
	10091: ClassMarketData,
	10167: ClassMarketData,
	10168: ClassMarketData,
	10197: ClassMarketData,

	101: ClassSubscription,
}

// Classify returns the class of a gateway error code. Unlisted codes are
// request errors.
func Classify(code int) ErrorClass {
	if c, ok := errorClasses[code]; ok {
		return c
	}
	return ClassRequest
}

// APIError is an error message reported by the gateway.
type APIError struct {
	ReqID   int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ibkr: error %d (req %d): %s", e.Code, e.ReqID, e.Message)
}

// Class returns the error's class.
func (e *APIError) Class() ErrorClass { return Classify(e.Code) }

// IsConnectionLoss reports whether err is a gateway connection error.
func IsConnectionLoss(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Class() == ClassConnection
}
