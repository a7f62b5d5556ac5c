// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ManuGH/qtrader/internal/validate"
)

// Validate checks the resolved configuration and returns every problem at once.
func Validate(cfg AppConfig) error {
	v := validate.New()

	v.OneOf("environment", cfg.Environment, []string{"development", "staging", "production"})
	if _, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel)); err != nil {
		v.AddError("log_level", fmt.Sprintf("unknown log level %q", cfg.LogLevel), cfg.LogLevel)
	}
	v.NotEmpty("data_dir", cfg.DataDir)
	v.NonNegativeDuration("startup_delay", cfg.StartupDelay)
	v.PositiveDuration("graceful_shutdown_timeout", cfg.GracefulShutdownTimeout)
	for i, sym := range cfg.MarketIndices {
		v.NotEmpty(fmt.Sprintf("market_indices[%d]", i), sym)
	}
	for id, typ := range cfg.Accounts {
		v.NotEmpty("accounts", id)
		v.OneOf("accounts."+id, typ, []string{AccountIndividualTaxable, AccountRetirementTaxFree})
	}

	v.Host("ibkr.host", cfg.IBKR.Host)
	v.Port("ibkr.port", cfg.IBKR.Port)
	v.NonNegative("ibkr.client_id", cfg.IBKR.ClientID)
	v.PositiveDuration("ibkr.timeout", cfg.IBKR.Timeout)
	v.NonNegative("ibkr.max_reconnect_attempts", cfg.IBKR.MaxReconnectAttempts)
	v.PositiveDuration("ibkr.reconnect_delay", cfg.IBKR.ReconnectDelay)
	v.PositiveDuration("ibkr.connection_check_interval", cfg.IBKR.ConnectionCheckInterval)
	v.NonNegativeDuration("ibkr.request_delay", cfg.IBKR.RequestDelay)
	v.Range("ibkr.market_data_type", cfg.IBKR.MarketDataType, 1, 4)
	v.Positive("ibkr.breaker_threshold", cfg.IBKR.BreakerThreshold)
	v.PositiveDuration("ibkr.breaker_reset_timeout", cfg.IBKR.BreakerResetTimeout)

	if !strings.HasPrefix(cfg.WebSocket.Path, "/") {
		v.AddError("websocket.path", "must start with /", cfg.WebSocket.Path)
	}
	v.Positive("websocket.max_connections", cfg.WebSocket.MaxConnections)
	v.PositiveDuration("websocket.ping_interval", cfg.WebSocket.PingInterval)
	v.PositiveDuration("websocket.ping_timeout", cfg.WebSocket.PingTimeout)
	v.Positive("websocket.messages_per_second", cfg.WebSocket.MessagesPerSecond)

	v.ListenAddr("api.listen_addr", cfg.API.ListenAddr)
	if cfg.API.MetricsListenAddr != "" {
		v.ListenAddr("api.metrics_listen_addr", cfg.API.MetricsListenAddr)
	}
	v.Positive("api.rate_limit_per_min", cfg.API.RateLimitPerMin)
	v.PositiveDuration("api.read_timeout", cfg.API.ReadTimeout)
	v.PositiveDuration("api.write_timeout", cfg.API.WriteTimeout)

	v.PositiveDuration("data.update_frequency", cfg.Data.UpdateFrequency)
	v.PositiveDuration("data.market_data_frequency", cfg.Data.MarketDataFrequency)
	v.PositiveDuration("data.greeks_update_frequency", cfg.Data.GreeksUpdateFrequency)
	v.PositiveDuration("data.account_update_frequency", cfg.Data.AccountUpdateFrequency)
	v.Positive("data.cache_size", cfg.Data.CacheSize)
	v.Positive("data.history_retention_days", cfg.Data.HistoryRetentionDays)
	v.Range("data.max_market_data_subscriptions", cfg.Data.MaxMarketDataSubscriptions, 1, 100)
	v.Positive("data.market_data_retry_limit", cfg.Data.MarketDataRetryLimit)

	v.Positive("alerts.max_alerts", cfg.Alerts.MaxAlerts)
	v.PositiveDuration("alerts.expiry", cfg.Alerts.Expiry)
	v.PositiveDuration("alerts.check_frequency", cfg.Alerts.CheckFrequency)
	t := cfg.Alerts.Thresholds
	v.FloatRange("alerts.thresholds.max_position_loss", t.MaxPositionLoss, -1, 0)
	v.FloatRange("alerts.thresholds.max_portfolio_loss", t.MaxPortfolioLoss, -1, 0)
	v.NonNegative("alerts.thresholds.days_to_expiry_warning", t.DaysToExpiryWarning)
	v.FloatRange("alerts.thresholds.high_iv_threshold", t.HighIVThreshold, 0, 10)
	v.NonNegative("alerts.thresholds.low_liquidity_threshold", int(t.LowLiquidityThreshold))
	v.NonNegativeFloat("alerts.thresholds.min_buying_power", t.MinBuyingPower)
	v.FloatRange("alerts.thresholds.max_margin_ratio", t.MaxMarginRatio, 0, 1)
	v.PositiveDuration("alerts.thresholds.stale_market_data", t.StaleMarketData)

	if cfg.Watchlist.Enabled {
		v.NotEmpty("watchlist.file", cfg.Watchlist.File)
		v.PositiveDuration("watchlist.refresh_interval", cfg.Watchlist.RefreshInterval)
	}

	if cfg.Storage.Enabled {
		v.PositiveDuration("storage.busy_timeout", cfg.Storage.BusyTimeout)
		v.Positive("storage.max_open_conns", cfg.Storage.MaxOpenConns)
	}

	if cfg.Redis.Addr != "" {
		v.ListenAddr("redis.addr", cfg.Redis.Addr)
		v.Range("redis.db", cfg.Redis.DB, 0, 15)
		v.NotEmpty("redis.dashboard_channel", cfg.Redis.DashboardChannel)
	}

	if cfg.Telemetry.Enabled {
		v.NotEmpty("telemetry.service_name", cfg.Telemetry.ServiceName)
		v.OneOf("telemetry.exporter_type", cfg.Telemetry.ExporterType, []string{"grpc", "http"})
		v.NotEmpty("telemetry.endpoint", cfg.Telemetry.Endpoint)
		v.FloatRange("telemetry.sampling_rate", cfg.Telemetry.SamplingRate, 0, 1)
	}

	return v.Err()
}
