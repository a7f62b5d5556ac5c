// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package store is the in-memory state shared by the broker adapter, the
// services and the API. All reads return copies.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	qlog "github.com/ManuGH/qtrader/internal/log"
	"github.com/ManuGH/qtrader/internal/model"
)

const (
	defaultHistorySize     = 1000
	defaultMaxAlerts       = 1000
	defaultPerfSamples     = 252
	defaultPersistInterval = time.Minute
)

// Persister records durable history. Implementations must be safe for
// concurrent use.
type Persister interface {
	SaveAlert(ctx context.Context, a model.Alert) error
	AcknowledgeAlert(ctx context.Context, id string) error
	RecordPrice(ctx context.Context, md model.MarketData) error
}

// Options configure a Store.
type Options struct {
	MaxAlerts   int
	HistorySize int
	// AlertExpiry sets ExpiresAt on alerts added without one. Zero disables.
	AlertExpiry time.Duration
	// PersistInterval is the minimum spacing of persisted prices per symbol.
	PersistInterval time.Duration
	Persister       Persister
	Now             func() time.Time
}

// PricePoint is one entry of a symbol's price history.
type PricePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
	Volume    int64     `json:"volume"`
}

type perfSample struct {
	at    time.Time
	value float64
	spy   float64
}

// AccountValue is one raw key reported for an account.
type AccountValue struct {
	Value     string    `json:"value"`
	Currency  string    `json:"currency"`
	Timestamp time.Time `json:"timestamp"`
}

// Store is the DataManager: market data, greeks, portfolios, alerts and
// system status behind one RWMutex.
type Store struct {
	mu sync.RWMutex

	opts   Options
	now    func() time.Time
	start  time.Time
	logger zerolog.Logger

	marketData map[string]model.MarketData
	greeks     map[string]model.Greeks
	history    map[string]*ring[PricePoint]
	persisted  map[string]time.Time

	portfolios   map[string]*model.Portfolio
	accountData  map[string]map[string]AccountValue
	alerts       []model.Alert
	systemStatus model.SystemStatus
	perf         *ring[perfSample]

	lastMarketUpdate    time.Time
	lastPortfolioUpdate time.Time
	lastGreeksUpdate    time.Time

	listenerMu sync.RWMutex
	listeners  map[int]func(model.MarketData)
	nextLisID  int
}

// New returns an empty store.
func New(opts Options) *Store {
	if opts.MaxAlerts <= 0 {
		opts.MaxAlerts = defaultMaxAlerts
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = defaultHistorySize
	}
	if opts.PersistInterval <= 0 {
		opts.PersistInterval = defaultPersistInterval
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	t := now()
	return &Store{
		opts:                opts,
		now:                 now,
		start:               t,
		logger:              qlog.WithComponent("store"),
		marketData:          map[string]model.MarketData{},
		greeks:              map[string]model.Greeks{},
		history:             map[string]*ring[PricePoint]{},
		persisted:           map[string]time.Time{},
		portfolios:          map[string]*model.Portfolio{},
		accountData:         map[string]map[string]AccountValue{},
		perf:                newRing[perfSample](defaultPerfSamples),
		lastMarketUpdate:    t,
		lastPortfolioUpdate: t,
		lastGreeksUpdate:    t,
		listeners:           map[int]func(model.MarketData){},
	}
}

// Now returns the store's clock reading.
func (s *Store) Now() time.Time { return s.now() }

// Uptime returns the time since the store was created.
func (s *Store) Uptime() time.Duration { return s.now().Sub(s.start) }

// OnMarketData registers fn for every market data update. The returned func
// removes it.
func (s *Store) OnMarketData(fn func(model.MarketData)) (remove func()) {
	s.listenerMu.Lock()
	id := s.nextLisID
	s.nextLisID++
	s.listeners[id] = fn
	s.listenerMu.Unlock()
	return func() {
		s.listenerMu.Lock()
		delete(s.listeners, id)
		s.listenerMu.Unlock()
	}
}

func (s *Store) notify(md model.MarketData) {
	s.listenerMu.RLock()
	fns := make([]func(model.MarketData), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenerMu.RUnlock()
	for _, fn := range fns {
		fn(md)
	}
}

// UpdateMarketData stores a quote. Change fields are computed against the
// previous close already known for the symbol, falling back to the close on
// md itself. A missing close keeps the known one.
func (s *Store) UpdateMarketData(md model.MarketData) {
	now := s.now()

	s.mu.Lock()
	prev, had := s.marketData[md.Symbol]
	if md.Close <= 0 && had {
		md.Close = prev.Close
	}
	ref := md.Close
	if had && prev.Close > 0 {
		ref = prev.Close
	}
	md.Change, md.ChangePercent = 0, 0
	if ref > 0 {
		md.Change = md.Price - ref
		md.ChangePercent = md.Change / ref * 100
	}
	if md.DataType == "" {
		md.DataType = model.DataStock
		if model.IsIndexSymbol(md.Symbol) {
			md.DataType = model.DataIndex
		}
	}
	md.Timestamp = now
	s.marketData[md.Symbol] = md

	h, ok := s.history[md.Symbol]
	if !ok {
		h = newRing[PricePoint](s.opts.HistorySize)
		s.history[md.Symbol] = h
	}
	h.push(PricePoint{Timestamp: now, Price: md.Price, Volume: md.Volume})
	s.lastMarketUpdate = now

	persist := false
	if s.opts.Persister != nil && now.Sub(s.persisted[md.Symbol]) >= s.opts.PersistInterval {
		s.persisted[md.Symbol] = now
		persist = true
	}
	s.mu.Unlock()

	s.logger.Debug().Str(qlog.FieldSymbol, md.Symbol).Float64("price", md.Price).Msg("market data updated")
	if persist {
		if err := s.opts.Persister.RecordPrice(context.Background(), md); err != nil {
			s.logger.Warn().Err(err).Str(qlog.FieldSymbol, md.Symbol).Msg("failed to persist price")
		}
	}
	s.notify(md)
}

// MarketData returns the latest quote for symbol.
func (s *Store) MarketData(symbol string) (model.MarketData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	md, ok := s.marketData[symbol]
	return md, ok
}

// AllMarketData returns every known quote keyed by symbol.
func (s *Store) AllMarketData() map[string]model.MarketData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]model.MarketData, len(s.marketData))
	for k, v := range s.marketData {
		out[k] = v
	}
	return out
}

// History returns up to n of the most recent price points, oldest first. n
// <= 0 returns all of them.
func (s *Store) History(symbol string, n int) []PricePoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.history[symbol]
	if !ok {
		return nil
	}
	return h.last(n)
}

// IndexData returns the quotes backing the index header slots.
func (s *Store) IndexData() model.IndexData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexDataLocked()
}

func (s *Store) indexDataLocked() model.IndexData {
	out := model.IndexData{}
	for slot, sym := range model.IndexSymbols {
		if md, ok := s.marketData[sym]; ok {
			out[slot] = md
		}
	}
	return out
}

// LastMarketUpdate returns when market data last changed.
func (s *Store) LastMarketUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastMarketUpdate
}

// UpdateGreeks stores greeks under an option key and attaches them to any
// position holding that contract.
func (s *Store) UpdateGreeks(key string, g model.Greeks) {
	now := s.now()
	if g.Timestamp.IsZero() {
		g.Timestamp = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.greeks[key] = g
	s.lastGreeksUpdate = now
	for _, pf := range s.portfolios {
		for i := range pf.Positions {
			p := &pf.Positions[i]
			if p.IsOption() && p.Key() == key {
				gc := g
				p.Greeks = &gc
			}
		}
	}
}

// Greeks returns the greeks stored under key.
func (s *Store) Greeks(key string) (model.Greeks, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.greeks[key]
	return g, ok
}

// AllGreeks returns every stored greek set keyed by option key.
func (s *Store) AllGreeks() map[string]model.Greeks {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]model.Greeks, len(s.greeks))
	for k, v := range s.greeks {
		out[k] = v
	}
	return out
}

// SystemStatus returns a copy of the system status block.
func (s *Store) SystemStatus() model.SystemStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshStatusLocked()
	return s.systemStatus
}

// SetSystemStatus applies fn to the system status under the write lock.
func (s *Store) SetSystemStatus(fn func(*model.SystemStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.systemStatus)
}
