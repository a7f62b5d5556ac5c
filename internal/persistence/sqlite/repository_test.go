// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/qtrader/internal/config"
	"github.com/ManuGH/qtrader/internal/model"
)

func openTestRepo(t *testing.T) (*Repository, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "qtrader.db")
	r, err := OpenRepository(path, DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r, path
}

func TestConfigFrom(t *testing.T) {
	assert.Equal(t, DefaultConfig(), ConfigFrom(config.StorageConfig{}))
	got := ConfigFrom(config.StorageConfig{BusyTimeout: time.Second, MaxOpenConns: 1})
	assert.Equal(t, Config{BusyTimeout: time.Second, MaxOpenConns: 1}, got)
}

func TestMigrationIsIdempotent(t *testing.T) {
	r, path := openTestRepo(t)
	require.NoError(t, r.Close())

	again, err := OpenRepository(path, DefaultConfig())
	require.NoError(t, err)
	defer again.Close()

	var version int
	require.NoError(t, again.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, schemaVersion, version)
	assert.NoError(t, again.Ping(context.Background()))
}

func TestAlertsRoundTrip(t *testing.T) {
	r, _ := openTestRepo(t)
	ctx := context.Background()

	base := time.UnixMilli(1_700_000_000_000)
	expires := base.Add(time.Hour)
	first := model.Alert{
		ID:        "a1",
		Type:      model.AlertTypeRisk,
		Level:     model.AlertWarning,
		Title:     "Position Loss Alert",
		Message:   "AAPL down 25.0%",
		Symbol:    "AAPL",
		AccountID: "DU1",
		Value:     -25,
		Threshold: -20,
		CreatedAt: base,
		ExpiresAt: &expires,
	}
	second := model.Alert{ID: "a2", Type: model.AlertTypeSystem, Level: model.AlertCritical, Title: "Broker", Message: "down", CreatedAt: base.Add(time.Minute)}
	require.NoError(t, r.SaveAlert(ctx, first))
	require.NoError(t, r.SaveAlert(ctx, second))

	got, err := r.RecentAlerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a2", got[0].ID)
	assert.Nil(t, got[0].ExpiresAt)
	assert.Equal(t, first.Title, got[1].Title)
	assert.Equal(t, first.Value, got[1].Value)
	assert.True(t, got[1].CreatedAt.Equal(base))
	require.NotNil(t, got[1].ExpiresAt)
	assert.True(t, got[1].ExpiresAt.Equal(expires))

	require.NoError(t, r.AcknowledgeAlert(ctx, "a1"))
	got, err = r.RecentAlerts(ctx, 10)
	require.NoError(t, err)
	assert.False(t, got[0].Acknowledged)
	assert.True(t, got[1].Acknowledged)

	got, err = r.RecentAlerts(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	assert.ErrorIs(t, r.AcknowledgeAlert(ctx, "nope"), ErrNotFound)
}

func TestPriceHistoryAndPrune(t *testing.T) {
	r, _ := openTestRepo(t)
	ctx := context.Background()

	base := time.UnixMilli(1_700_000_000_000)
	for i := 0; i < 5; i++ {
		require.NoError(t, r.RecordPrice(ctx, model.MarketData{
			Symbol:    "SPY",
			Price:     400 + float64(i),
			Volume:    int64(1000 * i),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			DataType:  model.DataIndex,
		}))
	}
	require.NoError(t, r.RecordPrice(ctx, model.MarketData{Symbol: "QQQ", Price: 300, Timestamp: base}))

	points, err := r.PriceHistory(ctx, "SPY", base.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.Equal(t, 402.0, points[0].Price)
	assert.Equal(t, int64(4000), points[2].Volume)

	require.NoError(t, r.SaveAlert(ctx, model.Alert{ID: "old-ack", Type: model.AlertTypeRisk, Level: model.AlertInfo, Title: "t", Message: "m", CreatedAt: base, Acknowledged: true}))
	require.NoError(t, r.SaveAlert(ctx, model.Alert{ID: "old-open", Type: model.AlertTypeRisk, Level: model.AlertInfo, Title: "t", Message: "m", CreatedAt: base}))

	removed, err := r.Prune(ctx, base.Add(3*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(4+1), removed) // SPY 0-2, QQQ, old-ack

	points, err = r.PriceHistory(ctx, "SPY", time.Time{})
	require.NoError(t, err)
	assert.Len(t, points, 2)

	alerts, err := r.RecentAlerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "old-open", alerts[0].ID)
}
