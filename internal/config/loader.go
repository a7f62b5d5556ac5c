// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// envAliases maps canonical QT_* keys to the historical variable names that
// deployments of the dashboard backend already export.
var envAliases = map[string]string{
	"QT_IBKR_HOST":                "IBKR_HOST",
	"QT_IBKR_PORT":                "IBKR_PORT",
	"QT_IBKR_CLIENT_ID":           "IBKR_CLIENT_ID",
	"QT_IBKR_TIMEOUT":             "IBKR_TIMEOUT",
	"QT_IBKR_MAX_RECONNECT":       "IBKR_MAX_RECONNECT",
	"QT_IBKR_RECONNECT_DELAY":     "IBKR_RECONNECT_DELAY",
	"QT_WS_HOST":                  "WS_HOST",
	"QT_WS_PORT":                  "WS_PORT",
	"QT_WS_MAX_CONNECTIONS":       "WS_MAX_CONNECTIONS",
	"QT_UPDATE_FREQUENCY":         "UPDATE_FREQUENCY",
	"QT_MARKET_DATA_FREQUENCY":    "MARKET_DATA_FREQUENCY",
	"QT_CACHE_SIZE":               "CACHE_SIZE",
	"QT_MAX_MARKET_SUBSCRIPTIONS": "MAX_MARKET_SUBSCRIPTIONS",
	"QT_SNAPSHOT_MODE":            "MARKET_DATA_SNAPSHOT_MODE",
	"QT_MAX_ALERTS":               "MAX_ALERTS",
	"QT_DEBUG":                    "DEBUG",
	"QT_LOG_LEVEL":                "LOG_LEVEL",
	"QT_STARTUP_DELAY":            "STARTUP_DELAY",
	"QT_ENVIRONMENT":              "ENVIRONMENT",
}

// Loader handles configuration loading with precedence
type Loader struct {
	configPath      string
	version         string
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a new configuration loader
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

// key returns whichever of the canonical key or its alias is set, canonical first.
func (l *Loader) key(canonical string) string {
	l.ConsumedEnvKeys[canonical] = struct{}{}
	if _, ok := os.LookupEnv(canonical); ok {
		return canonical
	}
	if alias, ok := envAliases[canonical]; ok {
		l.ConsumedEnvKeys[alias] = struct{}{}
		if _, ok := os.LookupEnv(alias); ok {
			return alias
		}
	}
	return canonical
}

func (l *Loader) envString(key, defaultVal string) string {
	return ParseString(l.key(key), defaultVal)
}

func (l *Loader) envBool(key string, defaultVal bool) bool {
	return ParseBool(l.key(key), defaultVal)
}

func (l *Loader) envInt(key string, defaultVal int) int {
	return ParseInt(l.key(key), defaultVal)
}

func (l *Loader) envDuration(key string, defaultVal time.Duration) time.Duration {
	return ParseDuration(l.key(key), defaultVal)
}

func (l *Loader) envFloat(key string, defaultVal float64) float64 {
	return ParseFloat(l.key(key), defaultVal)
}

func (l *Loader) envSet(key string) bool {
	_, ok := os.LookupEnv(l.key(key))
	return ok
}

// Load loads configuration with precedence: ENV > File > Defaults
// It enforces Strict Validated Order: Parse File (Strict) -> Apply Env -> Validate
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()
	portFromFile := false

	if l.configPath != "" {
		explicitPort, err := l.loadFile(l.configPath, &cfg)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
		portFromFile = explicitPort
	}

	if err := checkAliasConflicts(); err != nil {
		return cfg, err
	}
	portFromEnv := l.envSet("QT_IBKR_PORT")
	if err := l.mergeEnvConfig(&cfg); err != nil {
		return cfg, fmt.Errorf("merge env config: %w", err)
	}

	// Live TWS listens on 7496; paper trading on 7497.
	if cfg.Environment == "production" && !portFromFile && !portFromEnv {
		cfg.IBKR.Port = 7496
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if cfg.Debug && !l.envSet("QT_LOG_LEVEL") {
		cfg.LogLevel = "debug"
	}
	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}

	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes a YAML file on top of cfg with STRICT parsing.
// Unknown fields will cause a fatal error to prevent misconfiguration.
// It reports whether the file set ibkr.port explicitly.
func (l *Loader) loadFile(path string, cfg *AppConfig) (bool, error) {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return false, fmt.Errorf("%w: %s (only YAML supported)", ErrUnsupportedFormat, ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		var typeErr *yaml.TypeError
		if errors.As(err, &typeErr) && unknownField(typeErr) {
			return false, fmt.Errorf("strict config parse error: %w: %v", ErrUnknownConfigField, err)
		}
		return false, fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return false, ErrMultipleDocuments
	}

	var presence struct {
		IBKR struct {
			Port *int `yaml:"port"`
		} `yaml:"ibkr"`
	}
	_ = yaml.Unmarshal(data, &presence)
	return presence.IBKR.Port != nil, nil
}

func unknownField(err *yaml.TypeError) bool {
	for _, msg := range err.Errors {
		if strings.Contains(msg, "field") && strings.Contains(msg, "not found") {
			return true
		}
	}
	return false
}

func checkAliasConflicts() error {
	keys := make([]string, 0, len(envAliases))
	for k := range envAliases {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var conflicts []string
	for _, canonical := range keys {
		alias := envAliases[canonical]
		cv, cok := os.LookupEnv(canonical)
		av, aok := os.LookupEnv(alias)
		if cok && aok && cv != av {
			conflicts = append(conflicts, canonical+"/"+alias)
		}
	}
	if len(conflicts) > 0 {
		return fmt.Errorf("%w: %s", ErrEnvAliasConflict, strings.Join(conflicts, ", "))
	}
	return nil
}

func (l *Loader) mergeEnvConfig(cfg *AppConfig) error {
	cfg.Environment = l.envString("QT_ENVIRONMENT", cfg.Environment)
	cfg.Debug = l.envBool("QT_DEBUG", cfg.Debug)
	cfg.LogLevel = l.envString("QT_LOG_LEVEL", cfg.LogLevel)
	cfg.DataDir = l.envString("QT_DATA_DIR", cfg.DataDir)
	cfg.StartupDelay = l.envDuration("QT_STARTUP_DELAY", cfg.StartupDelay)
	cfg.GracefulShutdownTimeout = l.envDuration("QT_SHUTDOWN_TIMEOUT", cfg.GracefulShutdownTimeout)
	cfg.MarketIndices = ParseList(l.key("QT_MARKET_INDICES"), cfg.MarketIndices)

	if raw := l.envString("QT_ACCOUNTS", ""); raw != "" {
		accounts, err := parseAccounts(raw)
		if err != nil {
			return err
		}
		cfg.Accounts = accounts
	}

	// IBKR
	cfg.IBKR.Host = l.envString("QT_IBKR_HOST", cfg.IBKR.Host)
	cfg.IBKR.Port = l.envInt("QT_IBKR_PORT", cfg.IBKR.Port)
	cfg.IBKR.ClientID = l.envInt("QT_IBKR_CLIENT_ID", cfg.IBKR.ClientID)
	cfg.IBKR.Timeout = l.envDuration("QT_IBKR_TIMEOUT", cfg.IBKR.Timeout)
	cfg.IBKR.MaxReconnectAttempts = l.envInt("QT_IBKR_MAX_RECONNECT", cfg.IBKR.MaxReconnectAttempts)
	cfg.IBKR.ReconnectDelay = l.envDuration("QT_IBKR_RECONNECT_DELAY", cfg.IBKR.ReconnectDelay)
	cfg.IBKR.MarketDataType = l.envInt("QT_IBKR_MARKET_DATA_TYPE", cfg.IBKR.MarketDataType)

	// API / WebSocket listener
	cfg.API.ListenAddr = l.envString("QT_API_LISTEN_ADDR", cfg.API.ListenAddr)
	if l.envSet("QT_WS_HOST") || l.envSet("QT_WS_PORT") {
		host, port, err := net.SplitHostPort(cfg.API.ListenAddr)
		if err != nil {
			return fmt.Errorf("api.listen_addr: %w", err)
		}
		host = l.envString("QT_WS_HOST", host)
		port = l.envString("QT_WS_PORT", port)
		cfg.API.ListenAddr = net.JoinHostPort(host, port)
	}
	cfg.API.MetricsListenAddr = l.envString("QT_METRICS_LISTEN_ADDR", cfg.API.MetricsListenAddr)
	cfg.API.RateLimitPerMin = l.envInt("QT_RATE_LIMIT_PER_MIN", cfg.API.RateLimitPerMin)
	cfg.WebSocket.MaxConnections = l.envInt("QT_WS_MAX_CONNECTIONS", cfg.WebSocket.MaxConnections)

	// Data
	cfg.Data.UpdateFrequency = l.envDuration("QT_UPDATE_FREQUENCY", cfg.Data.UpdateFrequency)
	cfg.Data.MarketDataFrequency = l.envDuration("QT_MARKET_DATA_FREQUENCY", cfg.Data.MarketDataFrequency)
	cfg.Data.CacheSize = l.envInt("QT_CACHE_SIZE", cfg.Data.CacheSize)
	cfg.Data.MaxMarketDataSubscriptions = l.envInt("QT_MAX_MARKET_SUBSCRIPTIONS", cfg.Data.MaxMarketDataSubscriptions)
	cfg.Data.SnapshotMode = l.envBool("QT_SNAPSHOT_MODE", cfg.Data.SnapshotMode)

	// Alerts
	cfg.Alerts.MaxAlerts = l.envInt("QT_MAX_ALERTS", cfg.Alerts.MaxAlerts)
	cfg.Alerts.Thresholds.MaxPositionLoss = l.envFloat("QT_ALERT_MAX_POSITION_LOSS", cfg.Alerts.Thresholds.MaxPositionLoss)
	cfg.Alerts.Thresholds.MaxPortfolioLoss = l.envFloat("QT_ALERT_MAX_PORTFOLIO_LOSS", cfg.Alerts.Thresholds.MaxPortfolioLoss)

	// Watchlist
	cfg.Watchlist.Enabled = l.envBool("QT_WATCHLIST_ENABLED", cfg.Watchlist.Enabled)
	cfg.Watchlist.File = l.envString("QT_WATCHLIST_FILE", cfg.Watchlist.File)

	// Storage
	cfg.Storage.Enabled = l.envBool("QT_STORAGE_ENABLED", cfg.Storage.Enabled)
	cfg.Storage.Path = l.envString("QT_STORAGE_PATH", cfg.Storage.Path)

	// Redis
	cfg.Redis.Addr = l.envString("QT_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = l.envString("QT_REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = l.envInt("QT_REDIS_DB", cfg.Redis.DB)

	// Telemetry
	cfg.Telemetry.Enabled = l.envBool("QT_TELEMETRY_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.ExporterType = l.envString("QT_TELEMETRY_EXPORTER", cfg.Telemetry.ExporterType)
	cfg.Telemetry.Endpoint = l.envString("QT_TELEMETRY_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = l.envFloat("QT_TELEMETRY_SAMPLING_RATE", cfg.Telemetry.SamplingRate)

	return nil
}

// parseAccounts reads "DU123:individual_taxable,DU456:retirement_tax_free".
// A bare account id defaults to individual_taxable.
func parseAccounts(raw string) (map[string]string, error) {
	out := make(map[string]string)
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		id, typ, found := strings.Cut(item, ":")
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("QT_ACCOUNTS: empty account id in %q", item)
		}
		if !found {
			typ = AccountIndividualTaxable
		}
		out[id] = strings.TrimSpace(typ)
	}
	return out, nil
}
