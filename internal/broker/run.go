// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/qtrader/internal/ibkr"
	qlog "github.com/ManuGH/qtrader/internal/log"
	"github.com/ManuGH/qtrader/internal/metrics"
	"github.com/ManuGH/qtrader/internal/resilience"
	"github.com/ManuGH/qtrader/internal/telemetry"
)

const (
	defaultCheckInterval  = 30 * time.Second
	defaultReconnectDelay = 5 * time.Second
)

// ErrReconnectExhausted is returned by Run when max_reconnect_attempts
// consecutive connects have failed.
var ErrReconnectExhausted = errors.New("broker: reconnect attempts exhausted")

// Run keeps a gateway session up until ctx is cancelled. Every connect goes
// through the circuit breaker. It returns nil on cancellation.
func (s *Session) Run(ctx context.Context) error {
	cfg := s.cfg.IBKR
	delay := cfg.ReconnectDelay
	if delay <= 0 {
		delay = defaultReconnectDelay
	}

	failures := 0
	for {
		var client *ibkr.Client
		err := s.breaker.Execute(func() error {
			c, err := s.connect(ctx, failures+1)
			client = c
			return err
		})
		if ctx.Err() != nil {
			if client != nil {
				_ = client.Close()
			}
			return nil
		}

		switch {
		case err == nil:
			failures = 0
			metrics.RecordReconnect("success")
			s.serve(ctx, client)
			if ctx.Err() != nil {
				return nil
			}
		case errors.Is(err, resilience.ErrCircuitOpen):
			metrics.RecordReconnect("breaker_open")
		default:
			failures++
			metrics.RecordReconnect("failure")
			s.logger.Warn().Err(err).
				Str(qlog.FieldEvent, "ibkr.connect_failed").
				Int("attempt", failures).
				Msg("gateway connect failed")
			if cfg.MaxReconnectAttempts > 0 && failures >= cfg.MaxReconnectAttempts {
				return fmt.Errorf("%w after %d attempts: %w", ErrReconnectExhausted, failures, err)
			}
		}

		wait := delay
		if ra := s.breaker.RetryAfter(); ra > wait {
			wait = ra
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (s *Session) connect(ctx context.Context, attempt int) (_ *ibkr.Client, err error) {
	cfg := s.cfg.IBKR
	ctx, span := telemetry.Start(ctx, "broker.connect", telemetry.BrokerAttributes(cfg.Host, cfg.Port, cfg.ClientID, attempt)...)
	defer func() { telemetry.End(span, err) }()

	s.logger.Info().
		Str(qlog.FieldEvent, "ibkr.connecting").
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Int("client_id", cfg.ClientID).
		Int("attempt", attempt).
		Msg("connecting to gateway")

	client, err := ibkr.Dial(ctx, ibkr.Config{Host: cfg.Host, Port: cfg.Port, ClientID: cfg.ClientID, Timeout: cfg.Timeout}, s)
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	readyCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.WaitReady(readyCtx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("broker: waiting for gateway ready: %w", err)
	}

	mdt := cfg.MarketDataType
	if mdt == 0 {
		mdt = ibkr.MarketDataDelayed
	}
	if err := client.ReqMarketDataType(mdt); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("broker: market data type: %w", err)
	}

	s.mu.Lock()
	s.client = client
	s.mu.Unlock()
	s.setConnected(true)
	s.logger.Info().Str(qlog.FieldEvent, "ibkr.ready").Int("market_data_type", mdt).Msg("gateway session ready")

	if d := s.cfg.StartupDelay; d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
	}
	return client, nil
}

// serve blocks until the session ends, fails the liveness check or ctx is
// cancelled.
func (s *Session) serve(ctx context.Context, client *ibkr.Client) {
	interval := s.cfg.IBKR.ConnectionCheckInterval
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	defer func() {
		s.mu.Lock()
		if s.client == client {
			s.client = nil
		}
		s.mu.Unlock()
		s.markDisconnected(client.Err())
	}()

	for {
		select {
		case <-ctx.Done():
			_ = client.Close()
			return
		case <-client.Done():
			return
		case <-ticker.C:
			if !s.Connected() {
				s.logger.Warn().Str(qlog.FieldEvent, "ibkr.connection_check_failed").Msg("gateway session unhealthy, reconnecting")
				_ = client.Close()
				return
			}
		}
	}
}
