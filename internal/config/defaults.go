// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		Environment:             "development",
		LogLevel:                "info",
		DataDir:                 "data",
		StartupDelay:            10 * time.Second,
		GracefulShutdownTimeout: 10 * time.Second,
		MarketIndices:           []string{"SPY", "QQQ"},
		Accounts:                map[string]string{},
		IBKR: IBKRConfig{
			Host:                    "127.0.0.1",
			Port:                    7497,
			ClientID:                1,
			Timeout:                 30 * time.Second,
			MaxReconnectAttempts:    3,
			ReconnectDelay:          10 * time.Second,
			ConnectionCheckInterval: 30 * time.Second,
			RequestDelay:            time.Second,
			MarketDataType:          3,
			BreakerThreshold:        5,
			BreakerResetTimeout:     60 * time.Second,
		},
		WebSocket: WebSocketConfig{
			Path:              "/ws",
			MaxConnections:    100,
			PingInterval:      20 * time.Second,
			PingTimeout:       10 * time.Second,
			MessagesPerSecond: 20,
		},
		API: APIConfig{
			ListenAddr:      "localhost:8765",
			RateLimitPerMin: 360,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
		},
		Data: DataConfig{
			UpdateFrequency:            2 * time.Second,
			MarketDataFrequency:        5 * time.Second,
			GreeksUpdateFrequency:      30 * time.Second,
			AccountUpdateFrequency:     60 * time.Second,
			CacheSize:                  10000,
			HistoryRetentionDays:       30,
			MaxMarketDataSubscriptions: 5,
			MarketDataRetryLimit:       3,
			SnapshotMode:               true,
		},
		Alerts: AlertsConfig{
			MaxAlerts:      1000,
			Expiry:         24 * time.Hour,
			CheckFrequency: 10 * time.Second,
			Thresholds: AlertThresholds{
				MaxPositionLoss:       -0.20,
				MaxPortfolioLoss:      -0.10,
				DaysToExpiryWarning:   7,
				HighIVThreshold:       1.0,
				LowLiquidityThreshold: 10,
				MinBuyingPower:        1000,
				MaxMarginRatio:        0.8,
				StaleMarketData:       5 * time.Minute,
			},
		},
		Watchlist: WatchlistConfig{
			Enabled:         true,
			File:            "watchlist.csv",
			RefreshInterval: 5 * time.Second,
		},
		Storage: StorageConfig{
			Enabled:      true,
			BusyTimeout:  5 * time.Second,
			MaxOpenConns: 1,
		},
		Redis: RedisConfig{
			DashboardChannel: "qtrader:dashboard",
		},
		Telemetry: TelemetryConfig{
			ServiceName:  "qtrader",
			ExporterType: "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
	}
}
