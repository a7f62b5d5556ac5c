// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/qtrader/internal/config"
)

type mockChecker struct {
	name   string
	status Status
}

func (m *mockChecker) Name() string { return m.name }

func (m *mockChecker) Check(context.Context) CheckResult {
	return CheckResult{Status: m.status}
}

func TestNewManager(t *testing.T) {
	m := NewManager("v1.2.3")
	assert.Equal(t, "v1.2.3", m.version)
	assert.Empty(t, m.checkers)
}

func TestManager_Health_NoCheckers(t *testing.T) {
	m := NewManager("v1.0.0")

	resp := m.Health(context.Background(), true)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "v1.0.0", resp.Version)
	assert.Empty(t, resp.Checks)
}

func TestManager_Health_Verbose(t *testing.T) {
	m := NewManager("v1.0.0")
	m.RegisterChecker(&mockChecker{name: "healthy", status: StatusHealthy})
	m.RegisterChecker(&mockChecker{name: "degraded", status: StatusDegraded})

	// Non-verbose: no checks included
	resp := m.Health(context.Background(), false)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Nil(t, resp.Checks)

	resp = m.Health(context.Background(), true)
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Len(t, resp.Checks, 2)
	assert.Equal(t, StatusDegraded, resp.Checks["degraded"].Status)
}

func TestManager_Ready(t *testing.T) {
	tests := []struct {
		name       string
		critical   Status
		optional   Status
		wantReady  bool
		wantStatus Status
	}{
		{"all healthy", StatusHealthy, StatusHealthy, true, StatusHealthy},
		{"optional failing degrades", StatusHealthy, StatusUnhealthy, true, StatusDegraded},
		{"critical degraded blocks", StatusDegraded, StatusHealthy, false, StatusUnhealthy},
		{"critical unhealthy blocks", StatusUnhealthy, StatusHealthy, false, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager("v1")
			m.RegisterCritical(&mockChecker{name: "broker", status: tt.critical})
			m.RegisterChecker(&mockChecker{name: "cache", status: tt.optional})

			resp := m.Ready(context.Background())
			assert.Equal(t, tt.wantReady, resp.Ready)
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.True(t, resp.Checks["broker"].Critical)
			assert.False(t, resp.Checks["cache"].Critical)
		})
	}
}

func TestServeReady_StatusCodes(t *testing.T) {
	var connected atomic.Bool
	m := NewManager("v1")
	m.RegisterCritical(NewBrokerChecker(connected.Load))

	rec := httptest.NewRecorder()
	m.ServeReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp ReadinessResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.False(t, resp.Ready)
	assert.Equal(t, "not connected to gateway", resp.Checks["broker"].Message)

	connected.Store(true)
	rec = httptest.NewRecorder()
	m.ServeReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestServeHealth_AlwaysOK(t *testing.T) {
	m := NewManager("v1")
	m.RegisterCritical(&mockChecker{name: "broker", status: StatusUnhealthy})

	rec := httptest.NewRecorder()
	m.ServeHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz?verbose=true", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Contains(t, resp.Checks, "broker")
}

func TestFreshnessChecker(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	var last time.Time
	c := NewFreshnessChecker(func() time.Time { return last }, func() time.Time { return now }, 5*time.Minute)

	assert.Equal(t, StatusDegraded, c.Check(context.Background()).Status)

	last = now.Add(-time.Minute)
	res := c.Check(context.Background())
	assert.Equal(t, StatusHealthy, res.Status)
	assert.Equal(t, "last update 1m0s ago", res.Message)

	last = now.Add(-10 * time.Minute)
	res = c.Check(context.Background())
	assert.Equal(t, StatusDegraded, res.Status)
	assert.Contains(t, res.Message, "stale")
}

func TestPingChecker(t *testing.T) {
	assert.Equal(t, StatusHealthy, NewPingChecker("cache", nil).Check(context.Background()).Status)

	ok := NewPingChecker("storage", func(context.Context) error { return nil })
	assert.Equal(t, "storage", ok.Name())
	assert.Equal(t, StatusHealthy, ok.Check(context.Background()).Status)

	bad := NewPingChecker("storage", func(context.Context) error { return errors.New("database is locked") })
	res := bad.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.Equal(t, "database is locked", res.Error)

	deadline := NewPingChecker("cache", func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		if !ok {
			return errors.New("no deadline")
		}
		return nil
	})
	assert.Equal(t, StatusHealthy, deadline.Check(context.Background()).Status)
}

func TestFileChecker(t *testing.T) {
	dir := t.TempDir()
	full := filepath.Join(dir, "watchlist.csv")
	require.NoError(t, os.WriteFile(full, []byte("AAPL\n"), 0o600))
	empty := filepath.Join(dir, "empty.csv")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))

	tests := []struct {
		path string
		want Status
	}{
		{"", StatusHealthy},
		{full, StatusHealthy},
		{empty, StatusDegraded},
		{dir, StatusUnhealthy},
		{filepath.Join(dir, "missing.csv"), StatusUnhealthy},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NewFileChecker("watchlist", tt.path).Check(context.Background()).Status, tt.path)
	}
}

func TestPerformStartupChecks(t *testing.T) {
	cfg := config.Defaults()
	cfg.Storage.Enabled = true
	cfg.Storage.Path = filepath.Join(t.TempDir(), "nested", "qtrader.db")
	cfg.Watchlist.File = filepath.Join(t.TempDir(), "missing.csv")

	require.NoError(t, PerformStartupChecks(context.Background(), cfg))
	assert.DirExists(t, filepath.Dir(cfg.Storage.Path))

	cfg.API.ListenAddr = "localhost:99999"
	err := PerformStartupChecks(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid api listen address")

	cfg.API.ListenAddr = "no-port"
	require.Error(t, PerformStartupChecks(context.Background(), cfg))
}
