// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Verification modes.
const (
	ModeQuick = "quick"
	ModeFull  = "full"
)

var ErrInvalidMode = errors.New("sqlite: verify mode must be quick or full")

// VerifyIntegrity checks the database at path for structural corruption.
// quick runs PRAGMA quick_check, full runs PRAGMA integrity_check. It returns
// the diagnostic rows when corruption is found and nil when healthy.
func VerifyIntegrity(path string, mode string) ([]string, error) {
	pragma := ""
	switch mode {
	case ModeQuick, "":
		pragma = "PRAGMA quick_check;"
	case ModeFull:
		pragma = "PRAGMA integrity_check;"
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("sqlite: stat %s: %w", path, err)
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(2000)", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database for verification: %w", err)
	}
	defer db.Close()

	rows, err := db.Query(pragma)
	if err != nil {
		return nil, fmt.Errorf("integrity pragma failed: %w", err)
	}
	defer rows.Close()

	var results []string
	for rows.Next() {
		var res string
		if err := rows.Scan(&res); err != nil {
			return nil, fmt.Errorf("failed to scan integrity result row: %w", err)
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("integrity rows: %w", err)
	}

	// healthy is exactly one "ok" row
	if len(results) == 1 && strings.EqualFold(results[0], "ok") {
		return nil, nil
	}
	if len(results) == 0 {
		return []string{"no results returned from integrity check"}, nil
	}
	return results, nil
}
