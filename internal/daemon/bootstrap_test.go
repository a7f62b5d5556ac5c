// SPDX-License-Identifier: MIT
package daemon

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/qtrader/internal/cache"
	"github.com/ManuGH/qtrader/internal/config"
	"github.com/ManuGH/qtrader/internal/log"
)

type testEnv struct {
	path        string
	apiAddr     string
	metricsAddr string
	ibkrPort    int
	dataDir     string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gw := reserveListenAddr(t)
	var port int
	_, err := fmt.Sscanf(gw[len("127.0.0.1:"):], "%d", &port)
	require.NoError(t, err)

	dir := t.TempDir()
	env := &testEnv{
		path:        filepath.Join(dir, "qtrader.yaml"),
		apiAddr:     reserveListenAddr(t),
		metricsAddr: reserveListenAddr(t),
		ibkrPort:    port,
		dataDir:     filepath.Join(dir, "data"),
	}
	env.write(t, -0.2)
	return env
}

func (e *testEnv) write(t *testing.T, maxPositionLoss float64) {
	t.Helper()
	body := fmt.Sprintf(`
log_level: info
startup_delay: 0s
graceful_shutdown_timeout: 2s
data_dir: %s
ibkr:
  host: 127.0.0.1
  port: %d
  timeout: 500ms
  reconnect_delay: 100ms
api:
  listen_addr: %s
  metrics_listen_addr: %s
watchlist:
  enabled: false
alerts:
  thresholds:
    max_position_loss: %g
`, e.dataDir, e.ibkrPort, e.apiAddr, e.metricsAddr, maxPositionLoss)
	require.NoError(t, os.WriteFile(e.path, []byte(body), 0o600))
}

func (e *testEnv) holder(t *testing.T) *config.ConfigHolder {
	t.Helper()
	loader := config.NewLoader(e.path, "test-1.0.0")
	cfg, err := loader.Load()
	require.NoError(t, err)
	return config.NewConfigHolder(cfg, loader, e.path)
}

func TestBuild_RequiresConfig(t *testing.T) {
	_, err := Build(context.Background(), nil, "test")
	require.ErrorIs(t, err, ErrMissingConfig)
}

func TestBuild_WiresComponents(t *testing.T) {
	env := newTestEnv(t)
	holder := env.holder(t)

	c, err := Build(context.Background(), holder, "test-1.0.0")
	require.NoError(t, err)
	t.Cleanup(func() { c.release(context.Background()) })

	require.NotNil(t, c.Repo)
	assert.FileExists(t, filepath.Join(env.dataDir, "qtrader.db"))
	assert.Nil(t, c.Redis)
	assert.IsType(t, &cache.MemoryCache{}, c.Cache)
	assert.Nil(t, c.Watchlist)
	assert.Len(t, c.Services(), 4)

	ready := c.Health.Ready(context.Background())
	assert.False(t, ready.Ready, "broker is not connected")
	assert.Contains(t, ready.Checks, "broker")
	assert.Contains(t, ready.Checks, "storage")
	assert.Contains(t, ready.Checks, "cache")
	assert.Contains(t, ready.Checks, "market_data")
	assert.NotContains(t, ready.Checks, "watchlist")

	deps := c.ManagerDeps(holder.Get(), log.WithComponent("test"))
	require.NoError(t, deps.Validate())
	assert.Equal(t, env.metricsAddr, deps.MetricsAddr)
	assert.NotNil(t, deps.MetricsHandler)
}

func TestBuild_UsesRedisWhenConfigured(t *testing.T) {
	mr := miniredis.RunT(t)
	env := newTestEnv(t)
	holder := env.holder(t)

	cfg := holder.Get()
	cfg.Redis.Addr = mr.Addr()
	cfg.Storage.Enabled = false
	holder = config.NewConfigHolder(cfg, config.NewLoader(env.path, "test"), "")

	c, err := Build(context.Background(), holder, "test")
	require.NoError(t, err)
	t.Cleanup(func() { c.release(context.Background()) })

	require.NotNil(t, c.Redis)
	assert.Same(t, c.Redis, c.Cache)
	assert.Nil(t, c.Repo)
	assert.NotContains(t, c.Health.Ready(context.Background()).Checks, "storage")
}

func TestBuild_FailsOnUnreachableRedis(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.holder(t).Get()
	cfg.Redis.Addr = reserveListenAddr(t)
	holder := config.NewConfigHolder(cfg, nil, "")

	_, err := Build(context.Background(), holder, "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect redis")
}

func TestApp_RunServesAndReloads(t *testing.T) {
	env := newTestEnv(t)
	holder := env.holder(t)
	cfg := holder.Get()

	c, err := Build(context.Background(), holder, "test-1.0.0")
	require.NoError(t, err)

	logger := log.WithComponent("test")
	mgr, err := NewManager(ServerConfigFrom(cfg), c.ManagerDeps(cfg, logger))
	require.NoError(t, err)
	c.RegisterShutdownHooks(mgr)

	app := NewApp(logger, mgr, c)
	app.reloadSignal = syscall.SIGUSR1

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.NoError(t, waitForListen(env.apiAddr, 3*time.Second))
	require.NoError(t, waitForListen(env.metricsAddr, 3*time.Second))

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	get := func(url string) (int, string) {
		resp, err := client.Get(url)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(body)
	}

	code, _ := get("http://" + env.apiAddr + "/healthz")
	assert.Equal(t, http.StatusOK, code)
	code, _ = get("http://" + env.apiAddr + "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	code, body := get("http://" + env.metricsAddr + "/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "qtrader_")

	env.write(t, -0.35)
	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGUSR1))
	assert.Eventually(t, func() bool {
		return c.Alerts.Thresholds().MaxPositionLoss == -0.35
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.False(t, c.Hub.Running())
	assert.Error(t, c.Repo.Ping(context.Background()), "storage is closed by the shutdown hook")
}

func TestApp_RunRequiresManager(t *testing.T) {
	app := NewApp(log.WithComponent("test"), nil, &Components{})
	require.ErrorIs(t, app.Run(context.Background()), ErrMissingManager)

	deps := Deps{Logger: log.WithComponent("test"), APIHandler: http.NotFoundHandler()}
	mgr, err := NewManager(ServerConfig{ListenAddr: "127.0.0.1:0"}, deps)
	require.NoError(t, err)
	app = NewApp(log.WithComponent("test"), mgr, &Components{})
	require.ErrorIs(t, app.Run(context.Background()), ErrMissingConfig)
}

func TestApp_Housekeep(t *testing.T) {
	env := newTestEnv(t)
	holder := env.holder(t)
	c, err := Build(context.Background(), holder, "test")
	require.NoError(t, err)
	t.Cleanup(func() { c.release(context.Background()) })

	app := NewApp(log.WithComponent("test"), nil, c)
	assert.NotPanics(t, func() { app.housekeep(context.Background()) })
}
