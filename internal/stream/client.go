// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/net/websocket"
	"golang.org/x/time/rate"

	"github.com/ManuGH/qtrader/internal/format"
	qlog "github.com/ManuGH/qtrader/internal/log"
	"github.com/ManuGH/qtrader/internal/metrics"
)

const (
	sendBuffer   = 32
	writeTimeout = 10 * time.Second
	// maxMessageBytes bounds a single client message.
	maxMessageBytes = 1 << 20
)

type client struct {
	id          string
	conn        *websocket.Conn
	addr        string
	path        string
	connectedAt time.Time
	limiter     *rate.Limiter
	logger      zerolog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	lastPing time.Time
	pinged   bool
}

// heartbeating reports whether the client has sent at least one ping.
func (c *client) heartbeating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pinged
}

func (c *client) info() ClientInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ClientInfo{ID: c.id, Address: c.addr, ConnectedAt: c.connectedAt, LastPing: c.lastPing, Path: c.path}
}

// enqueue hands msg to the writer. It reports false when the buffer is full
// or the client is gone.
func (c *client) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *client) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := websocket.Message.Send(c.conn, string(msg)); err != nil {
				c.logger.Debug().Err(err).Msg("write failed, closing client")
				c.close()
				return
			}
		}
	}
}

func (h *Hub) serve(conn *websocket.Conn) {
	conn.MaxPayloadBytes = maxMessageBytes
	req := conn.Request()
	c := &client{
		id:          uuid.NewString(),
		conn:        conn,
		addr:        req.RemoteAddr,
		path:        req.URL.Path,
		connectedAt: h.opts.Store.Now(),
		limiter:     rate.NewLimiter(rate.Limit(h.opts.Config.MessagesPerSecond), h.opts.Config.MessagesPerSecond),
		send:        make(chan []byte, sendBuffer),
		done:        make(chan struct{}),
	}
	c.lastPing = c.connectedAt
	c.logger = h.logger.With().Str(qlog.FieldConnID, c.id).Str(qlog.FieldRemote, c.addr).Logger()

	if !h.register(c) {
		metrics.RecordWebsocketRejected("max_connections")
		c.logger.Warn().Int("max_connections", h.opts.Config.MaxConnections).Msg("rejecting client, hub is full")
		_ = conn.Close()
		return
	}
	defer func() {
		h.unregister(c)
		c.close()
		c.logger.Info().Str(qlog.FieldEvent, "stream.client_disconnected").Int("clients", h.ClientCount()).Msg("client disconnected")
	}()
	c.logger.Info().Str(qlog.FieldEvent, "stream.client_connected").Int("clients", h.ClientCount()).Msg("client connected")

	go c.writeLoop()
	h.sendDashboard(c, format.TypeInitialData)

	// Listen-only clients never hit the idle deadline. A dead peer of that
	// kind is dropped by the write timeout on the next broadcast.
	idle := h.opts.Config.PingInterval + h.opts.Config.PingTimeout
	for {
		if idle > 0 && c.heartbeating() {
			_ = conn.SetReadDeadline(time.Now().Add(idle))
		}
		var raw string
		if err := websocket.Message.Receive(conn, &raw); err != nil {
			if !errors.Is(err, io.EOF) {
				c.logger.Debug().Err(err).Msg("read failed")
			}
			return
		}
		if !c.limiter.Allow() {
			metrics.RecordWebsocketRejected("rate_limited")
			h.sendReply(c, reply{Type: TypeError, Message: "Rate limit exceeded"})
			continue
		}

		var msg message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			h.sendReply(c, reply{Type: TypeError, Message: "Invalid JSON format"})
			continue
		}
		metrics.RecordWebsocketMessage("in", msg.Type)
		if err := h.handle(c, msg); err != nil {
			c.logger.Error().Err(err).Str("type", msg.Type).Msg("error processing client message")
			h.sendReply(c, reply{Type: TypeError, Message: "Error processing message"})
		}
	}
}

func (h *Hub) handle(c *client, msg message) error {
	switch msg.Type {
	case TypePing:
		c.mu.Lock()
		c.lastPing = h.opts.Store.Now()
		c.pinged = true
		c.mu.Unlock()
		h.sendReply(c, reply{Type: TypePong})

	case TypeSubscribe:
		if h.opts.Subscriber != nil && len(msg.Symbols) > 0 {
			h.opts.Subscriber.Queue(msg.Symbols...)
		}
		symbols := msg.Symbols
		if symbols == nil {
			symbols = []string{}
		}
		h.sendReply(c, reply{Type: TypeSubscriptionConfirmed, Symbols: symbols})

	case TypeGetDashboard:
		return h.sendDashboard(c, format.TypeDashboardUpdate)

	case TypeAcknowledgeAlert:
		if msg.AlertID == "" {
			return nil
		}
		if h.opts.Acknowledger == nil {
			return errors.New("stream: alert acknowledgement not available")
		}
		if err := h.opts.Acknowledger.Acknowledge(msg.AlertID); err != nil {
			c.logger.Debug().Err(err).Str(qlog.FieldAlertID, msg.AlertID).Msg("acknowledge ignored")
			return nil
		}
		b, err := json.Marshal(reply{Type: TypeAlertAcknowledged, AlertID: msg.AlertID, Timestamp: h.opts.Store.Now()})
		if err != nil {
			return err
		}
		h.broadcast(TypeAlertAcknowledged, b)

	default:
		h.sendReply(c, reply{Type: TypeError, Message: fmt.Sprintf("Unknown message type: %s", msg.Type)})
	}
	return nil
}

func (h *Hub) sendDashboard(c *client, typ string) error {
	update := format.Dashboard(h.opts.Store.Dashboard())
	update.Type = typ
	b, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("stream: encode dashboard: %w", err)
	}
	if c.enqueue(b) {
		metrics.RecordWebsocketMessage("out", typ)
	}
	return nil
}

func (h *Hub) sendReply(c *client, r reply) {
	r.Timestamp = h.opts.Store.Now()
	b, err := json.Marshal(r)
	if err != nil {
		c.logger.Error().Err(err).Msg("encode reply")
		return
	}
	if c.enqueue(b) {
		metrics.RecordWebsocketMessage("out", r.Type)
	}
}
