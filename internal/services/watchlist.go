// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package services

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/qtrader/internal/broker"
	"github.com/ManuGH/qtrader/internal/config"
	"github.com/ManuGH/qtrader/internal/ibkr"
	qlog "github.com/ManuGH/qtrader/internal/log"
	"github.com/ManuGH/qtrader/internal/model"
	"github.com/ManuGH/qtrader/internal/store"
	"github.com/ManuGH/qtrader/internal/watchlist"
)

// lookupTimeout bounds one contract details or option chain request.
const lookupTimeout = 10 * time.Second

// WatchlistOption is the quote of one leg of the ATM pair.
type WatchlistOption struct {
	Key    string            `json:"key"`
	Strike float64           `json:"strike"`
	Expiry string            `json:"expiry"`
	Right  string            `json:"right"`
	Quote  *model.MarketData `json:"quote"`
	Greeks *model.Greeks     `json:"greeks"`
}

// WatchlistEntry is the resolved state of one watched symbol.
type WatchlistEntry struct {
	Symbol      string            `json:"symbol"`
	ConID       int64             `json:"con_id"`
	LongName    string            `json:"long_name,omitempty"`
	Resolved    bool              `json:"resolved"`
	Expirations int               `json:"expirations"`
	Strikes     int               `json:"strikes"`
	Stock       *model.MarketData `json:"stock"`
	Call        *WatchlistOption  `json:"call"`
	Put         *WatchlistOption  `json:"put"`
	Error       string            `json:"error,omitempty"`
}

type chain struct {
	conID       int64
	longName    string
	resolved    bool
	expirations []string
	strikes     []float64
	stockReq    int
	pair        string
	err         string
}

// WatchlistService follows the symbols of the watchlist file. Each symbol is
// resolved to its option chain and quoted together with its ATM call and put
// at the farthest expiry.
type WatchlistService struct {
	gw       broker.Gateway
	st       *store.Store
	path     string
	interval time.Duration
	logger   zerolog.Logger

	running atomic.Bool

	mu      sync.Mutex
	symbols []string
	chains  map[string]*chain
}

func NewWatchlistService(gw broker.Gateway, st *store.Store, cfg config.AppConfig) *WatchlistService {
	symbols, err := watchlist.Load(cfg.Watchlist.File)
	logger := qlog.WithComponent("watchlist_service")
	if err != nil {
		logger.Warn().Err(err).Strs("symbols", symbols).Msg("using fallback watchlist")
	}
	return &WatchlistService{
		gw:       gw,
		st:       st,
		path:     cfg.Watchlist.File,
		interval: cfg.Watchlist.RefreshInterval,
		logger:   logger,
		symbols:  symbols,
		chains:   map[string]*chain{},
	}
}

func (s *WatchlistService) Name() string { return "watchlist" }

// Running reports whether Run is active.
func (s *WatchlistService) Running() bool { return s.running.Load() }

// Run refreshes the watchlist until ctx ends. A watcher that cannot start is
// logged and the service keeps running on the loaded symbols.
func (s *WatchlistService) Run(ctx context.Context) error {
	s.running.Store(true)
	defer s.running.Store(false)

	remove := s.gw.OnConnectionChange(func(up bool) {
		if up {
			return
		}
		s.mu.Lock()
		for _, c := range s.chains {
			c.stockReq = 0
			c.pair = ""
		}
		s.mu.Unlock()
	})
	defer remove()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := watchlist.Watch(ctx, s.path, s.SetSymbols); err != nil {
			s.logger.Warn().Err(err).Str(qlog.FieldPath, s.path).Msg("watchlist file not watched")
		}
		return nil
	})
	g.Go(func() error {
		every(ctx, s.interval, func(ctx context.Context) {
			cycle(ctx, s.logger, s.Name(), s.runCycle)
		})
		return nil
	})
	err := g.Wait()
	s.cancelAll()
	return err
}

// SetSymbols replaces the watched symbols. Chains of removed symbols are
// dropped and their quotes cancelled.
func (s *WatchlistService) SetSymbols(symbols []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.symbols = slices.Clone(symbols)
	for sym, c := range s.chains {
		if slices.Contains(symbols, sym) {
			continue
		}
		if c.stockReq != 0 && s.gw.Connected() {
			_ = s.gw.CancelMarketData(c.stockReq)
		}
		delete(s.chains, sym)
	}
	s.logger.Info().Strs("symbols", symbols).Msg("watchlist symbols updated")
}

// Symbols returns the watched symbols in file order.
func (s *WatchlistService) Symbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.symbols)
}

// Save writes entries to the watchlist file and applies the enabled symbols.
func (s *WatchlistService) Save(entries []watchlist.Entry) error {
	if err := watchlist.Save(s.path, entries); err != nil {
		return err
	}
	s.SetSymbols(watchlist.Enabled(entries))
	return nil
}

func (s *WatchlistService) runCycle(ctx context.Context) (int, error) {
	if !s.gw.Connected() {
		return 0, nil
	}
	handled := 0
	var first error
	for _, sym := range s.Symbols() {
		if err := s.refresh(ctx, sym); err != nil {
			if first == nil {
				first = err
			}
			continue
		}
		handled++
	}
	return handled, first
}

func (s *WatchlistService) chainFor(sym string) *chain {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chains[sym]
	if !ok {
		c = &chain{}
		s.chains[sym] = c
	}
	return c
}

// refresh resolves sym when needed, keeps its stock quote streaming and
// snapshots the current ATM pair.
func (s *WatchlistService) refresh(ctx context.Context, sym string) error {
	c := s.chainFor(sym)

	s.mu.Lock()
	resolved := c.resolved
	s.mu.Unlock()
	if !resolved {
		if err := s.resolve(ctx, sym, c); err != nil {
			s.mu.Lock()
			c.err = err.Error()
			s.mu.Unlock()
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c.stockReq == 0 {
		id, err := s.gw.RequestMarketData(sym, ibkr.StockContract(sym), false)
		if err != nil {
			return fmt.Errorf("watchlist %s: quote: %w", sym, err)
		}
		c.stockReq = id
	}

	md, ok := s.st.MarketData(sym)
	if !ok || md.Price <= 0 {
		return nil
	}
	strike, expiry, ok := atmPair(c.strikes, c.expirations, md.Price)
	if !ok {
		return nil
	}
	pair := model.OptionKey(sym, strike, expiry, "")
	if pair == c.pair {
		return nil
	}
	for _, right := range []string{"C", "P"} {
		key := model.OptionKey(sym, strike, broker.DisplayExpiry(expiry), right)
		if _, err := s.gw.RequestMarketData(key, ibkr.OptionContract(sym, expiry, strike, right), true); err != nil {
			return fmt.Errorf("watchlist %s: option quote: %w", key, err)
		}
	}
	c.pair = pair
	s.logger.Debug().Str(qlog.FieldSymbol, sym).Float64("strike", strike).Str("expiry", expiry).Msg("selected ATM options")
	return nil
}

func (s *WatchlistService) resolve(ctx context.Context, sym string, c *chain) error {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	details, err := s.gw.RequestContractDetails(ctx, sym, ibkr.StockContract(sym))
	if err != nil {
		return fmt.Errorf("watchlist %s: contract details: %w", sym, err)
	}
	if len(details) == 0 || details[0].Contract.ConID == 0 {
		return fmt.Errorf("watchlist %s: no contract id", sym)
	}
	conID := details[0].Contract.ConID

	params, err := s.gw.RequestOptionParams(ctx, sym, conID)
	if err != nil {
		return fmt.Errorf("watchlist %s: option params: %w", sym, err)
	}
	var expirations []string
	var strikes []float64
	for _, p := range params {
		expirations = append(expirations, p.Expirations...)
		strikes = append(strikes, p.Strikes...)
	}
	slices.Sort(expirations)
	slices.Sort(strikes)

	s.mu.Lock()
	c.conID = conID
	c.longName = details[0].LongName
	c.expirations = slices.Compact(expirations)
	c.strikes = slices.Compact(strikes)
	c.resolved = true
	c.err = ""
	s.mu.Unlock()

	s.logger.Info().
		Str(qlog.FieldSymbol, sym).
		Int64("con_id", conID).
		Int("expirations", len(c.expirations)).
		Int("strikes", len(c.strikes)).
		Msg("watchlist symbol resolved")
	return nil
}

// atmPair picks the strike closest to price and the farthest expiry.
// Expirations must be sorted.
func atmPair(strikes []float64, expirations []string, price float64) (float64, string, bool) {
	if len(strikes) == 0 || len(expirations) == 0 {
		return 0, "", false
	}
	best := strikes[0]
	for _, k := range strikes[1:] {
		if math.Abs(k-price) < math.Abs(best-price) {
			best = k
		}
	}
	return best, expirations[len(expirations)-1], true
}

func (s *WatchlistService) cancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.chains {
		if c.stockReq != 0 && s.gw.Connected() {
			_ = s.gw.CancelMarketData(c.stockReq)
		}
		c.stockReq = 0
		c.pair = ""
	}
}

// Entries returns the state of every watched symbol in file order.
func (s *WatchlistService) Entries() []WatchlistEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]WatchlistEntry, 0, len(s.symbols))
	for _, sym := range s.symbols {
		e := WatchlistEntry{Symbol: sym}
		if md, ok := s.st.MarketData(sym); ok {
			e.Stock = &md
		}
		c, ok := s.chains[sym]
		if !ok {
			out = append(out, e)
			continue
		}
		e.ConID = c.conID
		e.LongName = c.longName
		e.Resolved = c.resolved
		e.Expirations = len(c.expirations)
		e.Strikes = len(c.strikes)
		e.Error = c.err
		if e.Stock != nil {
			if strike, expiry, ok := atmPair(c.strikes, c.expirations, e.Stock.Price); ok {
				e.Call = s.option(sym, strike, broker.DisplayExpiry(expiry), "C")
				e.Put = s.option(sym, strike, broker.DisplayExpiry(expiry), "P")
			}
		}
		out = append(out, e)
	}
	return out
}

func (s *WatchlistService) option(sym string, strike float64, expiry, right string) *WatchlistOption {
	key := model.OptionKey(sym, strike, expiry, right)
	o := &WatchlistOption{Key: key, Strike: strike, Expiry: expiry, Right: right}
	if md, ok := s.st.MarketData(key); ok {
		o.Quote = &md
	}
	if g, ok := s.st.Greeks(key); ok {
		o.Greeks = &g
	}
	return o
}
