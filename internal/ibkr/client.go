// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ibkr is a client for the TWS / IB Gateway socket API. It covers the
// market data, account, position and contract lookup messages used by the
// dashboard backend.
package ibkr

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	qlog "github.com/ManuGH/qtrader/internal/log"
)

// FirstRequestID is the first id handed out by NextRequestID.
const FirstRequestID = 1000

// Config carries the dial parameters of a session.
type Config struct {
	Host     string
	Port     int
	ClientID int
	// Timeout bounds dialing and the handshake.
	Timeout time.Duration
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Client is one API session to a gateway.
type Client struct {
	conn    net.Conn
	handler Handler
	logger  zerolog.Logger

	writeMu sync.Mutex

	serverVersion int
	connTime      string

	connected atomic.Bool
	nextReqID atomic.Int64

	ready     chan struct{}
	readyOnce sync.Once

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Dial connects to the gateway, performs the version handshake and starts the
// API. Messages are delivered to h from a reader goroutine until the session
// ends.
func Dial(ctx context.Context, cfg Config, h Handler) (*Client, error) {
	if h == nil {
		h = BaseHandler{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.Addr())
	if err != nil {
		return nil, fmt.Errorf("ibkr: dial %s: %w", cfg.Addr(), err)
	}

	c := &Client{
		conn:    conn,
		handler: h,
		logger:  qlog.WithComponent("ibkr").With().Str(qlog.FieldAddr, cfg.Addr()).Int("client_id", cfg.ClientID).Logger(),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
	c.nextReqID.Store(FirstRequestID)

	br := bufio.NewReader(conn)
	if err := c.handshake(br, timeout); err != nil {
		_ = conn.Close()
		return nil, err
	}
	c.connected.Store(true)

	if err := c.send(OutStartAPI, 2, cfg.ClientID, ""); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ibkr: start api: %w", err)
	}

	c.logger.Info().
		Str(qlog.FieldEvent, "ibkr.connected").
		Int("server_version", c.serverVersion).
		Str("conn_time", c.connTime).
		Msg("gateway session established")

	go c.readLoop(br)
	return c, nil
}

func (c *Client) handshake(br *bufio.Reader, timeout time.Duration) error {
	_ = c.conn.SetDeadline(time.Now().Add(timeout))
	defer func() { _ = c.conn.SetDeadline(time.Time{}) }()

	v := []byte(versionRange())
	hello := make([]byte, 0, 8+len(v))
	hello = append(hello, "API\x00"...)
	hello = binary.BigEndian.AppendUint32(hello, uint32(len(v)))
	hello = append(hello, v...)
	if _, err := c.conn.Write(hello); err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}

	payload, err := ReadFrame(br)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	fields := SplitFields(payload)
	if len(fields) < 2 {
		return fmt.Errorf("%w: greeting has %d fields", ErrHandshake, len(fields))
	}
	sv, err := strconv.Atoi(fields[0])
	if err != nil || sv < MinClientVersion {
		return fmt.Errorf("%w: unsupported server version %q", ErrHandshake, fields[0])
	}
	c.serverVersion = sv
	c.connTime = fields[1]
	return nil
}

func (c *Client) readLoop(br *bufio.Reader) {
	var err error
	for {
		var payload []byte
		payload, err = ReadFrame(br)
		if err != nil {
			break
		}
		fields := SplitFields(payload)
		if len(fields) == 0 {
			continue
		}
		if fields[0] == strconv.Itoa(InNextValidID) {
			c.readyOnce.Do(func() { close(c.ready) })
		}
		known, derr := dispatch(c.serverVersion, fields, c.handler)
		switch {
		case derr != nil:
			c.logger.Warn().Err(derr).Str("msg_id", fields[0]).Msg("failed to decode gateway message")
		case !known:
			c.logger.Debug().Str("msg_id", fields[0]).Msg("skipping unhandled gateway message")
		}
		messagesReceived(fields[0])
	}

	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		err = nil
	}
	c.shutdown(err)
}

// messageHook observes incoming message ids.
var messageHook atomic.Pointer[func(msgID string)]

// SetMessageHook installs fn to observe every incoming message id.
func SetMessageHook(fn func(msgID string)) {
	if fn == nil {
		messageHook.Store(nil)
		return
	}
	messageHook.Store(&fn)
}

func messagesReceived(id string) {
	if fn := messageHook.Load(); fn != nil {
		(*fn)(id)
	}
}

func (c *Client) shutdown(err error) {
	first := false
	c.closeOnce.Do(func() {
		first = true
		c.connected.Store(false)
		c.closeErr = err
		_ = c.conn.Close()
		close(c.done)
	})
	if !first {
		return
	}
	if err != nil {
		c.logger.Warn().Err(err).Str(qlog.FieldEvent, "ibkr.disconnected").Msg("gateway session lost")
	} else {
		c.logger.Info().Str(qlog.FieldEvent, "ibkr.disconnected").Msg("gateway session closed")
	}
	c.handler.ConnectionClosed(err)
}

// Close ends the session. It is safe to call more than once.
func (c *Client) Close() error {
	c.shutdown(nil)
	return nil
}

// Done is closed when the session ends.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns the read error that ended the session, if any.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.closeErr
	default:
		return nil
	}
}

// Ready is closed once the gateway sends the first next-valid-id, which marks
// the session as able to serve requests.
func (c *Client) Ready() <-chan struct{} { return c.ready }

// WaitReady blocks until Ready, the session ends or ctx is done.
func (c *Client) WaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-c.done:
		if err := c.Err(); err != nil {
			return err
		}
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connected reports whether the session is up.
func (c *Client) Connected() bool { return c.connected.Load() }

// ServerVersion returns the version negotiated in the handshake.
func (c *Client) ServerVersion() int { return c.serverVersion }

// NextRequestID returns a fresh request id.
func (c *Client) NextRequestID() int {
	return int(c.nextReqID.Add(1) - 1)
}

func (c *Client) send(fields ...any) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	payload := Encode(fields...)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := WriteFrame(c.conn, payload); err != nil {
		go c.shutdown(err)
		return fmt.Errorf("ibkr: write: %w", err)
	}
	return nil
}

func contractFields(c Contract) []any {
	return []any{
		c.ConID, c.Symbol, c.SecType, c.Expiry, c.Strike, c.Right, c.Multiplier,
		c.Exchange, c.PrimaryExch, c.Currency, c.LocalSymbol, c.TradingClass,
	}
}

// ReqMktData subscribes to quotes for contract. A snapshot request delivers
// one set of ticks and ends.
func (c *Client) ReqMktData(reqID int, contract Contract, genericTicks string, snapshot bool) error {
	fields := []any{OutReqMktData, 11, reqID}
	fields = append(fields, contractFields(contract)...)
	fields = append(fields, false, genericTicks, snapshot, false, "")
	return c.send(fields...)
}

// CancelMktData ends a market data subscription.
func (c *Client) CancelMktData(reqID int) error {
	return c.send(OutCancelMktData, 2, reqID)
}

// ReqAccountUpdates starts or stops portfolio and account value updates.
func (c *Client) ReqAccountUpdates(subscribe bool, account string) error {
	return c.send(OutReqAccountUpdates, 2, subscribe, account)
}

// ReqPositions requests all positions across accounts.
func (c *Client) ReqPositions() error {
	return c.send(OutReqPositions, 1)
}

// CancelPositions stops position updates.
func (c *Client) CancelPositions() error {
	return c.send(OutCancelPositions, 1)
}

// ReqMarketDataType switches between live, frozen and delayed quotes.
func (c *Client) ReqMarketDataType(t int) error {
	return c.send(OutReqMarketDataType, 1, t)
}

// ReqContractDetails looks up the contracts matching contract.
func (c *Client) ReqContractDetails(reqID int, contract Contract) error {
	fields := []any{OutReqContractDetails, 8, reqID}
	fields = append(fields, contractFields(contract)...)
	fields = append(fields, false, "", "")
	if c.serverVersion >= minServerBondIssuerID {
		fields = append(fields, "")
	}
	return c.send(fields...)
}

// ReqSecDefOptParams requests the option chain definition of an underlying.
func (c *Client) ReqSecDefOptParams(reqID int, symbol, futFopExchange, secType string, conID int64) error {
	return c.send(OutReqSecDefOptParams, reqID, symbol, futFopExchange, secType, conID)
}
