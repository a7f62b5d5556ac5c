// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package services

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/ManuGH/qtrader/internal/broker"
	"github.com/ManuGH/qtrader/internal/config"
	"github.com/ManuGH/qtrader/internal/ibkr"
	qlog "github.com/ManuGH/qtrader/internal/log"
	"github.com/ManuGH/qtrader/internal/metrics"
	"github.com/ManuGH/qtrader/internal/model"
	"github.com/ManuGH/qtrader/internal/store"
)

const (
	subscriptionSpacing = 2 * time.Second
	// positionCandidates bounds how many position symbols are considered per cycle.
	positionCandidates = 2
	recentWindow       = 30 * time.Second
)

// ErrSymbolFailed is returned by ForceRefresh when the broker refuses the
// subscription again.
var ErrSymbolFailed = errors.New("services: market data subscription failed")

// indexExchanges lists the symbols that are quoted as indices rather than stock.
var indexExchanges = map[string]string{
	"VIX": "CBOE",
}

func contractFor(symbol string) ibkr.Contract {
	if exch, ok := indexExchanges[symbol]; ok {
		return ibkr.IndexContract(symbol, exch)
	}
	return ibkr.StockContract(symbol)
}

// MarketDataStatus describes the subscription book.
type MarketDataStatus struct {
	SubscribedSymbols    []string       `json:"subscribed_symbols"`
	FailedSymbols        []string       `json:"failed_symbols"`
	QueuedSymbols        []string       `json:"queued_symbols"`
	TotalSubscriptions   int            `json:"total_subscriptions"`
	MaxSubscriptions     int            `json:"max_subscriptions"`
	Running              bool           `json:"running"`
	ConnectionReady      bool           `json:"connection_ready"`
	MarketIndices        []string       `json:"market_indices"`
	RetryCounts          map[string]int `json:"retry_counts"`
	LastSubscriptionTime *time.Time     `json:"last_subscription_time"`
}

// MarketDataStats are the counters shown on the status page.
type MarketDataStats struct {
	TotalSymbolsTracked int            `json:"total_symbols_tracked"`
	RecentUpdates30s    int            `json:"recent_updates_30s"`
	SubscribedSymbols   int            `json:"subscribed_symbols"`
	FailedSymbols       int            `json:"failed_symbols"`
	MaxSubscriptions    int            `json:"max_subscriptions"`
	ConnectionReady     bool           `json:"connection_ready"`
	LastUpdate          time.Time      `json:"last_update"`
	ServiceRunning      bool           `json:"service_running"`
	RetryCounts         map[string]int `json:"subscription_retry_counts"`
}

// MarketDataService keeps a small, paced set of quote subscriptions: the
// configured indices, symbols asked for by clients and the symbols held in
// portfolios.
type MarketDataService struct {
	gw       broker.Gateway
	st       *store.Store
	logger   zerolog.Logger
	interval time.Duration
	snapshot bool
	max      int
	retries  int
	indices  []string

	running atomic.Bool
	group   singleflight.Group

	mu               sync.Mutex
	limiter          *rate.Limiter
	subscribed       map[string]int
	failed           map[string]bool
	retryCount       map[string]int
	queued           []string
	lastSubscription time.Time
}

// NewMarketDataService builds the service from the data settings.
func NewMarketDataService(gw broker.Gateway, st *store.Store, cfg config.AppConfig) *MarketDataService {
	indices := cfg.MarketIndices
	if len(indices) == 0 {
		indices = []string{model.IndexSPY, model.IndexQQQ}
	}
	maxSubs := cfg.Data.MaxMarketDataSubscriptions
	if maxSubs <= 0 {
		maxSubs = 5
	}
	retries := cfg.Data.MarketDataRetryLimit
	if retries <= 0 {
		retries = 3
	}
	return &MarketDataService{
		gw:         gw,
		st:         st,
		logger:     qlog.WithComponent("market_data_service"),
		interval:   cfg.Data.MarketDataFrequency,
		snapshot:   cfg.Data.SnapshotMode,
		max:        maxSubs,
		retries:    retries,
		indices:    slices.Clone(indices),
		limiter:    newSubscriptionLimiter(),
		subscribed: map[string]int{},
		failed:     map[string]bool{},
		retryCount: map[string]int{},
	}
}

func newSubscriptionLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(subscriptionSpacing), 1)
}

func (s *MarketDataService) Name() string { return "market_data" }

// Running reports whether Run is active.
func (s *MarketDataService) Running() bool { return s.running.Load() }

// Run subscribes one candidate per cycle until ctx ends, then cancels every
// subscription.
func (s *MarketDataService) Run(ctx context.Context) error {
	s.running.Store(true)
	defer s.running.Store(false)

	removeConn := s.gw.OnConnectionChange(func(up bool) {
		if !up {
			s.clearSubscriptions("connection lost")
		}
	})
	defer removeConn()
	removeErr := s.gw.OnMarketDataError(s.onMarketDataError)
	defer removeErr()

	s.logger.Info().Str(qlog.FieldEvent, "service.started").Strs("indices", s.indices).Msg("market data service started")
	every(ctx, s.interval, func(ctx context.Context) {
		cycle(ctx, s.logger, s.Name(), s.runCycle)
	})
	s.cancelAll()
	s.logger.Info().Str(qlog.FieldEvent, "service.stopped").Msg("market data service stopped")
	return nil
}

func (s *MarketDataService) runCycle(context.Context) (int, error) {
	if !s.gw.Connected() {
		s.clearSubscriptions("connection not ready")
		return 0, nil
	}
	for _, symbol := range s.candidates() {
		if s.Subscribe(symbol) {
			return 1, nil
		}
	}
	return 0, nil
}

// candidates lists unsubscribed symbols in priority order: indices, queued,
// then at most positionCandidates portfolio symbols.
func (s *MarketDataService) candidates() []string {
	var positions []string
	seen := map[string]bool{}
	for _, acct := range s.st.Accounts() {
		pf, ok := s.st.Portfolio(acct)
		if !ok {
			continue
		}
		for _, p := range pf.Positions {
			if !seen[p.Symbol] {
				seen[p.Symbol] = true
				positions = append(positions, p.Symbol)
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	skip := func(sym string) bool {
		_, subscribed := s.subscribed[sym]
		return subscribed || s.failed[sym] || slices.Contains(out, sym)
	}
	for _, sym := range s.indices {
		if !skip(sym) {
			out = append(out, sym)
		}
	}
	for _, sym := range s.queued {
		if !skip(sym) {
			out = append(out, sym)
		}
	}
	added := 0
	for _, sym := range positions {
		if added >= positionCandidates {
			break
		}
		if !skip(sym) {
			out = append(out, sym)
			added++
		}
	}
	return out
}

// Subscribe requests quotes for symbol now. It reports false when the symbol is
// marked failed, the book is full, the next slot is not due yet or the broker
// is down. Already subscribed symbols report true.
func (s *MarketDataService) Subscribe(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscribed[symbol]; ok {
		return true
	}
	if s.failed[symbol] || !s.canSubscribeLocked() || !s.limiter.Allow() {
		return false
	}
	return s.requestLocked(symbol)
}

func (s *MarketDataService) canSubscribeLocked() bool {
	return len(s.subscribed) < s.max && s.gw.Connected()
}

func (s *MarketDataService) requestLocked(symbol string) bool {
	if s.failed[symbol] && s.retryCount[symbol] >= s.retries {
		return false
	}
	id, err := s.gw.RequestMarketData(symbol, contractFor(symbol), s.snapshot)
	if err != nil {
		s.failed[symbol] = true
		s.retryCount[symbol]++
		metrics.RecordSubscriptionFailure()
		s.logger.Warn().Err(err).Str(qlog.FieldSymbol, symbol).Int("retries", s.retryCount[symbol]).Msg("market data subscription failed")
		return false
	}
	s.subscribed[symbol] = id
	s.queued = slices.DeleteFunc(s.queued, func(q string) bool { return q == symbol })
	s.lastSubscription = s.st.Now()
	metrics.SetMarketSubscriptions(len(s.subscribed))
	s.logger.Info().Str(qlog.FieldEvent, "market.subscribed").Str(qlog.FieldSymbol, symbol).Int(qlog.FieldReqID, id).Msg("subscribed to market data")
	return true
}

// Queue records symbols for the loop to subscribe as slots free up. It returns
// how many were newly queued.
func (s *MarketDataService) Queue(symbols ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sym := range symbols {
		if sym == "" || slices.Contains(s.queued, sym) {
			continue
		}
		if _, ok := s.subscribed[sym]; ok {
			continue
		}
		s.queued = append(s.queued, sym)
		n++
	}
	return n
}

// Unsubscribe cancels the subscription of symbol. Tracking is dropped even
// when the cancel fails.
func (s *MarketDataService) Unsubscribe(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsubscribeLocked(symbol)
}

func (s *MarketDataService) unsubscribeLocked(symbol string) bool {
	id, ok := s.subscribed[symbol]
	if !ok {
		return true
	}
	delete(s.subscribed, symbol)
	metrics.SetMarketSubscriptions(len(s.subscribed))
	if err := s.gw.CancelMarketData(id); err != nil {
		s.logger.Warn().Err(err).Str(qlog.FieldSymbol, symbol).Msg("cancel market data failed")
		return false
	}
	return true
}

// ForceRefresh clears the failure record of symbol and resubscribes it,
// waiting for the next pacing slot. Concurrent calls for one symbol share a
// single request.
func (s *MarketDataService) ForceRefresh(ctx context.Context, symbol string) error {
	if !s.gw.Connected() {
		return ibkr.ErrNotConnected
	}
	_, err, _ := s.group.Do(symbol, func() (any, error) {
		s.mu.Lock()
		delete(s.failed, symbol)
		delete(s.retryCount, symbol)
		s.unsubscribeLocked(symbol)
		limiter := s.limiter
		s.mu.Unlock()

		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.gw.Connected() {
			return nil, ibkr.ErrNotConnected
		}
		if !s.requestLocked(symbol) {
			return nil, ErrSymbolFailed
		}
		return nil, nil
	})
	return err
}

// RetryFailed moves up to positionCandidates failed symbols whose retry budget
// is not spent back into the book. It returns how many succeeded.
func (s *MarketDataService) RetryFailed() int {
	s.mu.Lock()
	var retry []string
	for _, sym := range slices.Sorted(maps.Keys(s.failed)) {
		if s.retryCount[sym] < s.retries {
			retry = append(retry, sym)
		}
		if len(retry) >= positionCandidates {
			break
		}
	}
	for _, sym := range retry {
		delete(s.failed, sym)
	}
	s.mu.Unlock()

	ok := 0
	for _, sym := range retry {
		if s.Subscribe(sym) {
			ok++
		}
	}
	s.logger.Info().Int("retried", len(retry)).Int("successful", ok).Msg("retried failed symbols")
	return ok
}

// EmergencyReset forgets every subscription, failure and queued symbol
// without contacting the broker.
func (s *MarketDataService) EmergencyReset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed = map[string]int{}
	s.failed = map[string]bool{}
	s.retryCount = map[string]int{}
	s.queued = nil
	s.lastSubscription = time.Time{}
	s.limiter = newSubscriptionLimiter()
	metrics.SetMarketSubscriptions(0)
	s.logger.Warn().Str(qlog.FieldEvent, "market.emergency_reset").Msg("market data subscriptions reset")
}

func (s *MarketDataService) onMarketDataError(symbol string, apiErr *ibkr.APIError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscribed[symbol]; !ok && !slices.Contains(s.indices, symbol) && !slices.Contains(s.queued, symbol) {
		return
	}
	delete(s.subscribed, symbol)
	s.failed[symbol] = true
	s.retryCount[symbol]++
	metrics.SetMarketSubscriptions(len(s.subscribed))
	metrics.RecordSubscriptionFailure()
	s.logger.Warn().
		Str(qlog.FieldSymbol, symbol).
		Int(qlog.FieldCode, apiErr.Code).
		Str("message", apiErr.Message).
		Msg("market data rejected by broker")
}

func (s *MarketDataService) clearSubscriptions(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.subscribed) == 0 {
		return
	}
	s.subscribed = map[string]int{}
	metrics.SetMarketSubscriptions(0)
	s.logger.Warn().Str("reason", reason).Msg("clearing market data subscriptions")
}

func (s *MarketDataService) cancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sym := range slices.Sorted(maps.Keys(s.subscribed)) {
		if s.gw.Connected() {
			s.unsubscribeLocked(sym)
		}
	}
	s.subscribed = map[string]int{}
	s.failed = map[string]bool{}
	s.retryCount = map[string]int{}
	metrics.SetMarketSubscriptions(0)
}

// Status returns the subscription book.
func (s *MarketDataService) Status() MarketDataStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := MarketDataStatus{
		SubscribedSymbols:  slices.Sorted(maps.Keys(s.subscribed)),
		FailedSymbols:      slices.Sorted(maps.Keys(s.failed)),
		QueuedSymbols:      slices.Clone(s.queued),
		TotalSubscriptions: len(s.subscribed),
		MaxSubscriptions:   s.max,
		Running:            s.running.Load(),
		ConnectionReady:    s.gw.Connected(),
		MarketIndices:      slices.Clone(s.indices),
		RetryCounts:        maps.Clone(s.retryCount),
	}
	if st.QueuedSymbols == nil {
		st.QueuedSymbols = []string{}
	}
	if !s.lastSubscription.IsZero() {
		t := s.lastSubscription
		st.LastSubscriptionTime = &t
	}
	return st
}

// Stats counts tracked symbols and recent quote updates.
func (s *MarketDataService) Stats() MarketDataStats {
	now := s.st.Now()
	all := s.st.AllMarketData()
	recent := 0
	for _, md := range all {
		if now.Sub(md.Timestamp) <= recentWindow {
			recent++
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return MarketDataStats{
		TotalSymbolsTracked: len(all),
		RecentUpdates30s:    recent,
		SubscribedSymbols:   len(s.subscribed),
		FailedSymbols:       len(s.failed),
		MaxSubscriptions:    s.max,
		ConnectionReady:     s.gw.Connected(),
		LastUpdate:          s.st.LastMarketUpdate(),
		ServiceRunning:      s.running.Load(),
		RetryCounts:         maps.Clone(s.retryCount),
	}
}
