// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ibkrtest provides an in-process fake of the gateway side of the
// TWS socket protocol for tests.
package ibkrtest

import (
	"bufio"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/qtrader/internal/ibkr"
)

// Responder reacts to a request received by the gateway. fields[0] is the
// outgoing message id.
type Responder func(g *Gateway, fields []string)

// Gateway accepts client sessions on a loopback port.
type Gateway struct {
	t  testing.TB
	ln net.Listener

	ServerVersion int
	NextValidID   int64
	Accounts      string

	mu        sync.Mutex
	accepted  map[net.Conn]struct{}
	conns     []net.Conn
	requests  [][]string
	responder map[int]Responder
	reqCh     chan []string
	sessions  int
	closed    bool

	wg sync.WaitGroup
}

// NewGateway starts a gateway and registers cleanup with t.
func NewGateway(t testing.TB) *Gateway {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ibkrtest: listen: %v", err)
	}
	g := &Gateway{
		t:             t,
		ln:            ln,
		ServerVersion: ibkr.MaxClientVersion,
		NextValidID:   1,
		Accounts:      "DU111111,DU222222",
		accepted:      map[net.Conn]struct{}{},
		responder:     map[int]Responder{},
		reqCh:         make(chan []string, 256),
	}
	g.wg.Add(1)
	go g.acceptLoop()
	t.Cleanup(g.Close)
	return g
}

// Host returns the listening host.
func (g *Gateway) Host() string {
	host, _, _ := net.SplitHostPort(g.ln.Addr().String())
	return host
}

// Port returns the listening port.
func (g *Gateway) Port() int {
	return g.ln.Addr().(*net.TCPAddr).Port
}

// Config returns a client config that dials this gateway.
func (g *Gateway) Config() ibkr.Config {
	return ibkr.Config{Host: g.Host(), Port: g.Port(), ClientID: 1, Timeout: 2 * time.Second}
}

// SetServerVersion changes the version announced to later sessions.
func (g *Gateway) SetServerVersion(v int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ServerVersion = v
}

// Handle registers fn for requests with the given outgoing message id.
func (g *Gateway) Handle(msgID int, fn Responder) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.responder[msgID] = fn
}

// Sessions returns how many handshakes completed.
func (g *Gateway) Sessions() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sessions
}

// Requests returns a copy of every request received so far.
func (g *Gateway) Requests() [][]string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([][]string, len(g.requests))
	copy(out, g.requests)
	return out
}

// WaitRequest blocks until a request with msgID arrives and returns it.
func (g *Gateway) WaitRequest(msgID int, timeout time.Duration) []string {
	g.t.Helper()
	want := strconv.Itoa(msgID)
	deadline := time.After(timeout)
	for {
		select {
		case req := <-g.reqCh:
			if len(req) > 0 && req[0] == want {
				return req
			}
		case <-deadline:
			g.t.Fatalf("ibkrtest: no request %d within %s", msgID, timeout)
			return nil
		}
	}
}

// Send pushes one message to every connected session.
func (g *Gateway) Send(fields ...any) {
	payload := ibkr.Encode(fields...)
	g.mu.Lock()
	conns := append([]net.Conn(nil), g.conns...)
	g.mu.Unlock()
	for _, c := range conns {
		_ = ibkr.WriteFrame(c, payload)
	}
}

// DropConnections closes every session from the server side.
func (g *Gateway) DropConnections() {
	g.mu.Lock()
	conns := g.conns
	g.conns = nil
	g.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

// Close stops accepting and drops all sessions, including those still in
// the handshake.
func (g *Gateway) Close() {
	_ = g.ln.Close()
	g.mu.Lock()
	g.closed = true
	for c := range g.accepted {
		_ = c.Close()
	}
	g.conns = nil
	g.mu.Unlock()
	g.wg.Wait()
}

func (g *Gateway) acceptLoop() {
	defer g.wg.Done()
	for {
		conn, err := g.ln.Accept()
		if err != nil {
			return
		}
		g.mu.Lock()
		if g.closed {
			g.mu.Unlock()
			_ = conn.Close()
			return
		}
		g.accepted[conn] = struct{}{}
		g.mu.Unlock()
		g.wg.Add(1)
		go g.serve(conn)
	}
}

func (g *Gateway) serve(conn net.Conn) {
	defer g.wg.Done()
	defer func() {
		_ = conn.Close()
		g.mu.Lock()
		delete(g.accepted, conn)
		g.mu.Unlock()
	}()

	br := bufio.NewReader(conn)
	prefix := make([]byte, 4)
	if _, err := io.ReadFull(br, prefix); err != nil || string(prefix) != "API\x00" {
		return
	}
	if _, err := ibkr.ReadFrame(br); err != nil {
		return
	}
	g.mu.Lock()
	version := g.ServerVersion
	g.mu.Unlock()
	greeting := ibkr.Encode(strconv.Itoa(version), "20250102 09:30:00 EST")
	if err := ibkr.WriteFrame(conn, greeting); err != nil {
		return
	}

	startAPI, err := ibkr.ReadFrame(br)
	if err != nil {
		return
	}
	if f := ibkr.SplitFields(startAPI); len(f) == 0 || f[0] != strconv.Itoa(ibkr.OutStartAPI) {
		return
	}

	g.mu.Lock()
	g.conns = append(g.conns, conn)
	g.sessions++
	g.mu.Unlock()

	_ = ibkr.WriteFrame(conn, ibkr.Encode(ibkr.InManagedAccts, 1, g.Accounts))
	_ = ibkr.WriteFrame(conn, ibkr.Encode(ibkr.InNextValidID, 1, g.NextValidID))

	for {
		payload, err := ibkr.ReadFrame(br)
		if err != nil {
			return
		}
		fields := ibkr.SplitFields(payload)
		if len(fields) == 0 {
			continue
		}
		g.mu.Lock()
		g.requests = append(g.requests, fields)
		id, _ := strconv.Atoi(fields[0])
		fn := g.responder[id]
		g.mu.Unlock()

		select {
		case g.reqCh <- fields:
		default:
		}
		if fn != nil {
			fn(g, fields)
		}
	}
}
