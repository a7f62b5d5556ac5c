// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigHolderReloadNotifiesListeners(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qtrader.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: info\n"), 0o600))

	loader := NewLoader(path, "test")
	initial, err := loader.Load()
	require.NoError(t, err)

	holder := NewConfigHolder(initial, loader, path)
	ch := make(chan AppConfig, 1)
	holder.RegisterListener(ch)

	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\n"), 0o600))
	require.NoError(t, holder.Reload(context.Background()))

	assert.Equal(t, "debug", holder.Get().LogLevel)
	select {
	case got := <-ch:
		assert.Equal(t, "debug", got.LogLevel)
	default:
		t.Fatal("listener was not notified")
	}
}

func TestConfigHolderReloadKeepsOldConfigOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qtrader.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: info\n"), 0o600))

	loader := NewLoader(path, "test")
	initial, err := loader.Load()
	require.NoError(t, err)
	holder := NewConfigHolder(initial, loader, path)

	require.NoError(t, os.WriteFile(path, []byte("bogus_key: 1\n"), 0o600))
	assert.Error(t, holder.Reload(context.Background()))
	assert.Equal(t, "info", holder.Get().LogLevel)
}

func TestConfigHolderWatcherReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qtrader.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: info\n"), 0o600))

	loader := NewLoader(path, "test")
	initial, err := loader.Load()
	require.NoError(t, err)
	holder := NewConfigHolder(initial, loader, path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, holder.StartWatcher(ctx))

	require.NoError(t, os.WriteFile(path, []byte("log_level: error\n"), 0o600))
	assert.Eventually(t, func() bool {
		return holder.Get().LogLevel == "error"
	}, 5*time.Second, 50*time.Millisecond)
}

func TestConfigHolderWatcherDisabledWithoutPath(t *testing.T) {
	holder := NewConfigHolder(Defaults(), NewLoader("", "test"), "")
	assert.NoError(t, holder.StartWatcher(context.Background()))
	holder.Stop()
}
