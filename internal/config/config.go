// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads, validates and hot-reloads qtrader configuration.
package config

import (
	"path/filepath"
	"strings"
	"time"
)

// Account types accepted in the accounts map.
const (
	AccountIndividualTaxable = "individual_taxable"
	AccountRetirementTaxFree = "retirement_tax_free"
)

// AppConfig is the fully resolved runtime configuration.
type AppConfig struct {
	Version                 string            `yaml:"-" json:"version"`
	Environment             string            `yaml:"environment" json:"environment"`
	Debug                   bool              `yaml:"debug" json:"debug"`
	LogLevel                string            `yaml:"log_level" json:"log_level"`
	DataDir                 string            `yaml:"data_dir" json:"data_dir"`
	StartupDelay            time.Duration     `yaml:"startup_delay" json:"startup_delay"`
	GracefulShutdownTimeout time.Duration     `yaml:"graceful_shutdown_timeout" json:"graceful_shutdown_timeout"`
	MarketIndices           []string          `yaml:"market_indices" json:"market_indices"`
	Accounts                map[string]string `yaml:"accounts" json:"accounts"`

	IBKR      IBKRConfig      `yaml:"ibkr" json:"ibkr"`
	WebSocket WebSocketConfig `yaml:"websocket" json:"websocket"`
	API       APIConfig       `yaml:"api" json:"api"`
	Data      DataConfig      `yaml:"data" json:"data"`
	Alerts    AlertsConfig    `yaml:"alerts" json:"alerts"`
	Watchlist WatchlistConfig `yaml:"watchlist" json:"watchlist"`
	Storage   StorageConfig   `yaml:"storage" json:"storage"`
	Redis     RedisConfig     `yaml:"redis" json:"redis"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
}

// IBKRConfig describes the TWS/Gateway session.
type IBKRConfig struct {
	Host                    string        `yaml:"host" json:"host"`
	Port                    int           `yaml:"port" json:"port"`
	ClientID                int           `yaml:"client_id" json:"client_id"`
	Timeout                 time.Duration `yaml:"timeout" json:"timeout"`
	MaxReconnectAttempts    int           `yaml:"max_reconnect_attempts" json:"max_reconnect_attempts"`
	ReconnectDelay          time.Duration `yaml:"reconnect_delay" json:"reconnect_delay"`
	ConnectionCheckInterval time.Duration `yaml:"connection_check_interval" json:"connection_check_interval"`
	RequestDelay            time.Duration `yaml:"request_delay" json:"request_delay"`
	MarketDataType          int           `yaml:"market_data_type" json:"market_data_type"`
	BreakerThreshold        int           `yaml:"breaker_threshold" json:"breaker_threshold"`
	BreakerResetTimeout     time.Duration `yaml:"breaker_reset_timeout" json:"breaker_reset_timeout"`
}

// WebSocketConfig controls the dashboard stream.
type WebSocketConfig struct {
	Path              string        `yaml:"path" json:"path"`
	MaxConnections    int           `yaml:"max_connections" json:"max_connections"`
	PingInterval      time.Duration `yaml:"ping_interval" json:"ping_interval"`
	PingTimeout       time.Duration `yaml:"ping_timeout" json:"ping_timeout"`
	MessagesPerSecond int           `yaml:"messages_per_second" json:"messages_per_second"`
}

// APIConfig controls the HTTP listeners.
type APIConfig struct {
	ListenAddr        string        `yaml:"listen_addr" json:"listen_addr"`
	MetricsListenAddr string        `yaml:"metrics_listen_addr" json:"metrics_listen_addr"`
	RateLimitPerMin   int           `yaml:"rate_limit_per_min" json:"rate_limit_per_min"`
	ReadTimeout       time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

// DataConfig controls refresh cadences and retention.
type DataConfig struct {
	UpdateFrequency            time.Duration `yaml:"update_frequency" json:"update_frequency"`
	MarketDataFrequency        time.Duration `yaml:"market_data_frequency" json:"market_data_frequency"`
	GreeksUpdateFrequency      time.Duration `yaml:"greeks_update_frequency" json:"greeks_update_frequency"`
	AccountUpdateFrequency     time.Duration `yaml:"account_update_frequency" json:"account_update_frequency"`
	CacheSize                  int           `yaml:"cache_size" json:"cache_size"`
	HistoryRetentionDays       int           `yaml:"history_retention_days" json:"history_retention_days"`
	MaxMarketDataSubscriptions int           `yaml:"max_market_data_subscriptions" json:"max_market_data_subscriptions"`
	MarketDataRetryLimit       int           `yaml:"market_data_retry_limit" json:"market_data_retry_limit"`
	SnapshotMode               bool          `yaml:"snapshot_mode" json:"snapshot_mode"`
}

// AlertsConfig controls the alert store and rule thresholds.
type AlertsConfig struct {
	MaxAlerts      int             `yaml:"max_alerts" json:"max_alerts"`
	Expiry         time.Duration   `yaml:"expiry" json:"expiry"`
	CheckFrequency time.Duration   `yaml:"check_frequency" json:"check_frequency"`
	Thresholds     AlertThresholds `yaml:"thresholds" json:"thresholds"`
}

// AlertThresholds are the trigger points of the alert rules.
type AlertThresholds struct {
	MaxPositionLoss       float64       `yaml:"max_position_loss" json:"max_position_loss"`
	MaxPortfolioLoss      float64       `yaml:"max_portfolio_loss" json:"max_portfolio_loss"`
	DaysToExpiryWarning   int           `yaml:"days_to_expiry_warning" json:"days_to_expiry_warning"`
	HighIVThreshold       float64       `yaml:"high_iv_threshold" json:"high_iv_threshold"`
	LowLiquidityThreshold int64         `yaml:"low_liquidity_threshold" json:"low_liquidity_threshold"`
	MinBuyingPower        float64       `yaml:"min_buying_power" json:"min_buying_power"`
	MaxMarginRatio        float64       `yaml:"max_margin_ratio" json:"max_margin_ratio"`
	StaleMarketData       time.Duration `yaml:"stale_market_data" json:"stale_market_data"`
}

// WatchlistConfig points at the watchlist CSV.
type WatchlistConfig struct {
	Enabled         bool          `yaml:"enabled" json:"enabled"`
	File            string        `yaml:"file" json:"file"`
	RefreshInterval time.Duration `yaml:"refresh_interval" json:"refresh_interval"`
}

// StorageConfig controls the SQLite store.
type StorageConfig struct {
	Enabled      bool          `yaml:"enabled" json:"enabled"`
	Path         string        `yaml:"path" json:"path"`
	BusyTimeout  time.Duration `yaml:"busy_timeout" json:"busy_timeout"`
	MaxOpenConns int           `yaml:"max_open_conns" json:"max_open_conns"`
}

// RedisConfig enables the shared cache and dashboard fan-out when Addr is set.
type RedisConfig struct {
	Addr             string `yaml:"addr" json:"addr"`
	Password         string `yaml:"password" json:"password"`
	DB               int    `yaml:"db" json:"db"`
	DashboardChannel string `yaml:"dashboard_channel" json:"dashboard_channel"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	ServiceName  string  `yaml:"service_name" json:"service_name"`
	ExporterType string  `yaml:"exporter_type" json:"exporter_type"`
	Endpoint     string  `yaml:"endpoint" json:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate" json:"sampling_rate"`
}

// StoragePath resolves the database location relative to DataDir when unset.
func (c AppConfig) StoragePath() string {
	if c.Storage.Path != "" {
		return c.Storage.Path
	}
	return filepath.Join(c.DataDir, "qtrader.db")
}

// AccountType returns the configured type for an account. Unmapped ids that
// mention an IRA or retirement account are tax free; the rest are taxable.
func (c AppConfig) AccountType(accountID string) string {
	if t, ok := c.Accounts[accountID]; ok && t != "" {
		return t
	}
	lower := strings.ToLower(accountID)
	if strings.Contains(lower, "retirement") || strings.Contains(lower, "ira") {
		return AccountRetirementTaxFree
	}
	return AccountIndividualTaxable
}

// Redacted returns a copy that is safe to print.
func (c AppConfig) Redacted() AppConfig {
	out := c
	if out.Redis.Password != "" {
		out.Redis.Password = "***"
	}
	if c.Accounts != nil {
		out.Accounts = make(map[string]string, len(c.Accounts))
		for k, v := range c.Accounts {
			out.Accounts[k] = v
		}
	}
	out.MarketIndices = append([]string(nil), c.MarketIndices...)
	return out
}
