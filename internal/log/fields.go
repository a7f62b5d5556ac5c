// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldConnID    = "conn_id"
	FieldReqID     = "req_id"
	FieldAlertID   = "alert_id"
	FieldTraceID   = "trace_id"
	FieldSpanID    = "span_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldService   = "svc"

	// Trading fields
	FieldAccount  = "account"
	FieldSymbol   = "symbol"
	FieldSecType  = "sec_type"
	FieldTickType = "tick_type"
	FieldCode     = "code"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// HTTP fields
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatus     = "status"
	FieldDurationMS = "duration_ms"
	FieldBytes      = "bytes"
	FieldRemote     = "remote_addr"

	// Network fields
	FieldAddr = "addr"
)
