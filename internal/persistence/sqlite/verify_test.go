// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sqlite

import (
	"crypto/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyIntegrity_HealthyAndCorrupted(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "corruptible.sqlite")

	db, err := Open(dbPath, DefaultConfig())
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE test (id INTEGER PRIMARY KEY, data TEXT);")
	require.NoError(t, err)
	payload := strings.Repeat("A", 100)
	for i := 0; i < 200; i++ {
		_, err = db.Exec("INSERT INTO test (data) VALUES (?);", payload)
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	issues, err := VerifyIntegrity(dbPath, ModeQuick)
	require.NoError(t, err)
	assert.Nil(t, issues)

	f, err := os.OpenFile(dbPath, os.O_RDWR, 0o644)
	require.NoError(t, err)
	junk := make([]byte, 100)
	_, _ = rand.Read(junk)
	_, err = f.WriteAt(junk, 4096)
	require.NoError(t, f.Close())
	require.NoError(t, err)

	// a page this damaged may fail the pragma itself instead of reporting rows
	issues, err = VerifyIntegrity(dbPath, ModeFull)
	if err == nil {
		assert.NotEmpty(t, issues)
	}
}

func TestVerifyIntegrity_RejectsUnknownMode(t *testing.T) {
	_, err := VerifyIntegrity(filepath.Join(t.TempDir(), "x.db"), "deep")
	assert.ErrorIs(t, err, ErrInvalidMode)
}

func TestVerifyIntegrity_MissingFile(t *testing.T) {
	_, err := VerifyIntegrity(filepath.Join(t.TempDir(), "missing.db"), ModeQuick)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
