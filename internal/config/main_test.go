// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"strings"
	"testing"
)

func TestMain(m *testing.M) {
	// Unset every variable the loader consumes so host settings cannot leak into tests.
	keys := map[string]struct{}{}
	for canonical, alias := range envAliases {
		keys[canonical] = struct{}{}
		keys[alias] = struct{}{}
	}
	for _, e := range os.Environ() {
		if strings.HasPrefix(e, "QT_") {
			kv := strings.SplitN(e, "=", 2)
			keys[kv[0]] = struct{}{}
		}
	}
	for k := range keys {
		if err := os.Unsetenv(k); err != nil {
			panic("failed to unset env: " + err.Error())
		}
	}

	os.Exit(m.Run())
}
