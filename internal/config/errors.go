// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "errors"

// Loader failures. Callers match them with errors.Is.
var (
	ErrUnknownConfigField = errors.New("config: unknown field")
	ErrMultipleDocuments  = errors.New("config: file must hold exactly one YAML document")
	ErrUnsupportedFormat  = errors.New("config: unsupported file format")
	// ErrEnvAliasConflict means a QT_* variable and its legacy name (IBKR_HOST,
	// WS_PORT, ...) are both set to different values.
	ErrEnvAliasConflict = errors.New("config: conflicting environment variables")
)
