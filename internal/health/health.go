// SPDX-License-Identifier: MIT

// Package health provides liveness and readiness checks for the daemon.
// It backs Docker HEALTHCHECK and Kubernetes probes with per-component status.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"sync"
	"time"

	qlog "github.com/ManuGH/qtrader/internal/log"
)

// Status represents the overall health/readiness status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult represents the result of a component health check
type CheckResult struct {
	Status   Status `json:"status"`
	Critical bool   `json:"critical,omitempty"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}

// HealthResponse represents the full health check response
type HealthResponse struct {
	Status    Status                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// ReadinessResponse represents the readiness check response
type ReadinessResponse struct {
	Ready     bool                   `json:"ready"`
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Checker defines the interface for health checks
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

type registration struct {
	checker  Checker
	critical bool
}

// Manager manages health and readiness checks
type Manager struct {
	version string
	now     func() time.Time

	mu       sync.RWMutex
	checkers []registration
}

// NewManager creates a new health check manager
func NewManager(version string) *Manager {
	return &Manager{version: version, now: time.Now}
}

// RegisterChecker adds a checker whose failure degrades the reported status
// without blocking readiness.
func (m *Manager) RegisterChecker(checker Checker) {
	m.register(checker, false)
}

// RegisterCritical adds a checker that must be healthy before the daemon is
// ready.
func (m *Manager) RegisterCritical(checker Checker) {
	m.register(checker, true)
}

func (m *Manager) register(checker Checker, critical bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, registration{checker: checker, critical: critical})
}

// run executes every checker. ready is false when a critical checker is not
// healthy.
func (m *Manager) run(ctx context.Context) (map[string]CheckResult, Status, bool) {
	m.mu.RLock()
	regs := append([]registration(nil), m.checkers...)
	m.mu.RUnlock()

	checks := make(map[string]CheckResult, len(regs))
	status := StatusHealthy
	ready := true
	for _, reg := range regs {
		result := reg.checker.Check(ctx)
		result.Critical = reg.critical
		checks[reg.checker.Name()] = result

		switch {
		case reg.critical && result.Status != StatusHealthy:
			ready = false
			status = StatusUnhealthy
		case result.Status != StatusHealthy && status == StatusHealthy:
			status = StatusDegraded
		}
	}
	return checks, status, ready
}

// Health performs a health check (liveness probe).
// The process is alive regardless of component state; verbose adds the
// component detail.
func (m *Manager) Health(ctx context.Context, verbose bool) HealthResponse {
	resp := HealthResponse{
		Status:    StatusHealthy,
		Version:   m.version,
		Timestamp: m.now(),
	}
	if verbose {
		resp.Checks, resp.Status, _ = m.run(ctx)
	}
	return resp
}

// Ready performs a readiness check (readiness probe)
func (m *Manager) Ready(ctx context.Context) ReadinessResponse {
	checks, status, ready := m.run(ctx)
	return ReadinessResponse{
		Ready:     ready,
		Status:    status,
		Timestamp: m.now(),
		Checks:    checks,
	}
}

// ServeHealth handles HTTP health check requests
func (m *Manager) ServeHealth(w http.ResponseWriter, r *http.Request) {
	logger := qlog.WithComponentFromContext(r.Context(), "health")
	verbose := r.URL.Query().Get("verbose") == "true"

	resp := m.Health(r.Context(), verbose)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK) // Always 200 for liveness

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Str(qlog.FieldEvent, "health.encode_error").Msg("failed to encode health response")
	}

	logger.Debug().
		Str(qlog.FieldEvent, "health.checked").
		Str(qlog.FieldStatus, string(resp.Status)).
		Bool("verbose", verbose).
		Msg("health check performed")
}

// ServeReady handles HTTP readiness check requests
func (m *Manager) ServeReady(w http.ResponseWriter, r *http.Request) {
	logger := qlog.WithComponentFromContext(r.Context(), "readiness")

	resp := m.Ready(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if resp.Ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Str(qlog.FieldEvent, "readiness.encode_error").Msg("failed to encode readiness response")
	}

	logger.Debug().
		Str(qlog.FieldEvent, "readiness.checked").
		Str(qlog.FieldStatus, string(resp.Status)).
		Bool("ready", resp.Ready).
		Msg("readiness check performed")
}

// BrokerChecker reports whether the gateway session is up.
type BrokerChecker struct {
	connected func() bool
}

func NewBrokerChecker(connected func() bool) *BrokerChecker {
	return &BrokerChecker{connected: connected}
}

func (c *BrokerChecker) Name() string { return "broker" }

func (c *BrokerChecker) Check(context.Context) CheckResult {
	if !c.connected() {
		return CheckResult{Status: StatusUnhealthy, Message: "not connected to gateway"}
	}
	return CheckResult{Status: StatusHealthy, Message: "connected"}
}

// FreshnessChecker degrades when market data stops arriving.
type FreshnessChecker struct {
	last   func() time.Time
	now    func() time.Time
	maxAge time.Duration
}

func NewFreshnessChecker(last, now func() time.Time, maxAge time.Duration) *FreshnessChecker {
	if now == nil {
		now = time.Now
	}
	return &FreshnessChecker{last: last, now: now, maxAge: maxAge}
}

func (c *FreshnessChecker) Name() string { return "market_data" }

func (c *FreshnessChecker) Check(context.Context) CheckResult {
	last := c.last()
	if last.IsZero() {
		return CheckResult{Status: StatusDegraded, Message: "no market data received yet"}
	}
	age := c.now().Sub(last)
	if c.maxAge > 0 && age > c.maxAge {
		return CheckResult{Status: StatusDegraded, Message: "market data is stale (" + age.Round(time.Second).String() + " old)"}
	}
	return CheckResult{Status: StatusHealthy, Message: "last update " + age.Round(time.Second).String() + " ago"}
}

// PingChecker wraps a dependency's Ping. A nil ping means the dependency is
// not configured.
type PingChecker struct {
	name    string
	ping    func(context.Context) error
	timeout time.Duration
}

func NewPingChecker(name string, ping func(context.Context) error) *PingChecker {
	return &PingChecker{name: name, ping: ping, timeout: 2 * time.Second}
}

func (c *PingChecker) Name() string { return c.name }

func (c *PingChecker) Check(ctx context.Context) CheckResult {
	if c.ping == nil {
		return CheckResult{Status: StatusHealthy, Message: "not configured (optional)"}
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.ping(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy, Message: "reachable"}
}

// FileChecker checks if a file exists and is readable
type FileChecker struct {
	name string
	path string
}

// NewFileChecker creates a checker for file existence
func NewFileChecker(name, path string) *FileChecker {
	return &FileChecker{name: name, path: path}
}

func (c *FileChecker) Name() string {
	return c.name
}

func (c *FileChecker) Check(context.Context) CheckResult {
	if c.path == "" {
		return CheckResult{Status: StatusHealthy, Message: "not configured (optional)"}
	}

	info, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return CheckResult{Status: StatusUnhealthy, Error: "file not found", Message: c.path}
		}
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	if info.IsDir() {
		return CheckResult{Status: StatusUnhealthy, Error: "expected file, got directory"}
	}
	if info.Size() == 0 {
		return CheckResult{Status: StatusDegraded, Message: "file is empty"}
	}
	return CheckResult{Status: StatusHealthy, Message: "file exists and readable"}
}
