// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package stream pushes dashboard snapshots to browser clients over WebSocket
// and answers their control messages.
package stream

import (
	"context"
	"encoding/json"
	"maps"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/websocket"

	"github.com/ManuGH/qtrader/internal/config"
	"github.com/ManuGH/qtrader/internal/format"
	qlog "github.com/ManuGH/qtrader/internal/log"
	"github.com/ManuGH/qtrader/internal/metrics"
	"github.com/ManuGH/qtrader/internal/model"
	"github.com/ManuGH/qtrader/internal/store"
)

// Message types exchanged with clients.
const (
	TypePing                  = "ping"
	TypePong                  = "pong"
	TypeSubscribe             = "subscribe"
	TypeSubscriptionConfirmed = "subscription_confirmed"
	TypeGetDashboard          = "get_dashboard"
	TypeAcknowledgeAlert      = "acknowledge_alert"
	TypeAlertAcknowledged     = "alert_acknowledged"
	TypeError                 = "error"
)

// Subscriber receives symbols clients asked to follow.
type Subscriber interface {
	Queue(symbols ...string) int
}

// Acknowledger marks alerts as seen.
type Acknowledger interface {
	Acknowledge(id string) error
}

// Publisher mirrors dashboard snapshots to an external channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Options wire the hub's collaborators. Subscriber, Acknowledger and
// Publisher are optional.
type Options struct {
	Store        *store.Store
	Subscriber   Subscriber
	Acknowledger Acknowledger
	Publisher    Publisher
	// Channel is the publish channel for dashboard snapshots.
	Channel string
	// Interval is the dashboard broadcast period.
	Interval time.Duration
	Config   config.WebSocketConfig
}

// ClientInfo describes one connected client.
type ClientInfo struct {
	ID          string    `json:"id"`
	Address     string    `json:"address"`
	ConnectedAt time.Time `json:"connected_at"`
	LastPing    time.Time `json:"last_ping"`
	Path        string    `json:"path"`
}

// Stats is the hub state shown on the status page.
type Stats struct {
	ConnectedClients int          `json:"connected_clients"`
	Running          bool         `json:"running"`
	UpdateInterval   float64      `json:"update_interval"`
	Clients          []ClientInfo `json:"clients_info"`
}

// Hub tracks connected clients and fans out dashboard updates.
type Hub struct {
	opts   Options
	logger zerolog.Logger

	running atomic.Bool

	mu      sync.RWMutex
	clients map[string]*client
}

func NewHub(opts Options) *Hub {
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if opts.Config.MessagesPerSecond <= 0 {
		opts.Config.MessagesPerSecond = 20
	}
	return &Hub{
		opts:    opts,
		logger:  qlog.WithComponent("stream"),
		clients: map[string]*client{},
	}
}

// Handler upgrades requests to WebSocket connections.
func (h *Hub) Handler() http.Handler {
	return websocket.Handler(h.serve)
}

// Run broadcasts the dashboard every interval until ctx ends, then closes
// every client.
func (h *Hub) Run(ctx context.Context) error {
	h.running.Store(true)
	defer h.running.Store(false)
	h.logger.Info().Str(qlog.FieldEvent, "stream.started").Dur("interval", h.opts.Interval).Msg("dashboard stream started")

	ticker := time.NewTicker(h.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			h.logger.Info().Str(qlog.FieldEvent, "stream.stopped").Msg("dashboard stream stopped")
			return nil
		case <-ticker.C:
			h.BroadcastDashboard(ctx)
		}
	}
}

// BroadcastDashboard sends the current dashboard to every client and to the
// publisher.
func (h *Hub) BroadcastDashboard(ctx context.Context) {
	if h.opts.Publisher == nil && h.ClientCount() == 0 {
		return
	}
	msg, err := json.Marshal(format.Dashboard(h.opts.Store.Dashboard()))
	if err != nil {
		h.logger.Error().Err(err).Msg("encode dashboard")
		return
	}
	h.broadcast(format.TypeDashboardUpdate, msg)

	if h.opts.Publisher != nil && h.opts.Channel != "" {
		if err := h.opts.Publisher.Publish(ctx, h.opts.Channel, msg); err != nil && ctx.Err() == nil {
			h.logger.Warn().Err(err).Str("channel", h.opts.Channel).Msg("publish dashboard failed")
		}
	}
}

func (h *Hub) broadcast(typ string, msg []byte) {
	h.mu.RLock()
	clients := slices.Collect(maps.Values(h.clients))
	h.mu.RUnlock()
	for _, c := range clients {
		if !c.enqueue(msg) {
			h.logger.Warn().Str(qlog.FieldConnID, c.id).Str("type", typ).Msg("client too slow, dropping message")
			continue
		}
		metrics.RecordWebsocketMessage("out", typ)
	}
}

// Running reports whether the broadcast loop is active.
func (h *Hub) Running() bool { return h.running.Load() }

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats reports the connected clients ordered by connection time.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	infos := make([]ClientInfo, 0, len(h.clients))
	for _, c := range h.clients {
		infos = append(infos, c.info())
	}
	h.mu.RUnlock()
	slices.SortFunc(infos, func(a, b ClientInfo) int { return a.ConnectedAt.Compare(b.ConnectedAt) })
	return Stats{
		ConnectedClients: len(infos),
		Running:          h.running.Load(),
		UpdateInterval:   h.opts.Interval.Seconds(),
		Clients:          infos,
	}
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	if limit := h.opts.Config.MaxConnections; limit > 0 && len(h.clients) >= limit {
		h.mu.Unlock()
		return false
	}
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()
	h.clientsChanged(n)
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.id)
	n := len(h.clients)
	h.mu.Unlock()
	h.clientsChanged(n)
}

func (h *Hub) clientsChanged(n int) {
	metrics.SetWebsocketClients(n)
	h.opts.Store.SetSystemStatus(func(s *model.SystemStatus) { s.WebsocketClients = n })
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	clients := slices.Collect(maps.Values(h.clients))
	h.mu.RUnlock()
	for _, c := range clients {
		c.close()
	}
}

// message is the union of client message fields.
type message struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols,omitempty"`
	AlertID string   `json:"alert_id,omitempty"`
}

type reply struct {
	Type      string    `json:"type"`
	Message   string    `json:"message,omitempty"`
	Symbols   []string  `json:"symbols,omitempty"`
	AlertID   string    `json:"alert_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
