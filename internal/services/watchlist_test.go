// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/qtrader/internal/broker/brokertest"
	"github.com/ManuGH/qtrader/internal/ibkr"
	"github.com/ManuGH/qtrader/internal/model"
	"github.com/ManuGH/qtrader/internal/store"
	"github.com/ManuGH/qtrader/internal/watchlist"
)

func newWatchlist(t *testing.T, csv string) (*WatchlistService, *brokertest.Fake, *store.Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "watchlist.csv")
	require.NoError(t, os.WriteFile(path, []byte(csv), 0o600))
	st, _ := newTestStore()
	gw := brokertest.New(st)
	cfg := testConfig()
	cfg.Watchlist.File = path
	return NewWatchlistService(gw, st, cfg), gw, st
}

func withAAPLChain(gw *brokertest.Fake) {
	gw.SetContractDetails("AAPL", ibkr.ContractDetails{
		Contract: ibkr.Contract{ConID: 265598, Symbol: "AAPL", SecType: ibkr.SecTypeStock},
		LongName: "APPLE INC",
	})
	gw.SetOptionParams(265598,
		ibkr.OptionParams{Exchange: "SMART", Expirations: []string{"20250620", "20251219"}, Strikes: []float64{180, 190, 200}},
		ibkr.OptionParams{Exchange: "CBOE", Expirations: []string{"20250620", "20260116"}, Strikes: []float64{190, 195}},
	)
}

func TestWatchlistLoadsEnabledSymbols(t *testing.T) {
	s, _, _ := newWatchlist(t, "symbol,enabled\naapl,true\nmsft,false\ntsla,true\n")
	assert.Equal(t, []string{"AAPL", "TSLA"}, s.Symbols())
}

func TestWatchlistFallsBackToDefaults(t *testing.T) {
	st, _ := newTestStore()
	cfg := testConfig()
	cfg.Watchlist.File = filepath.Join(t.TempDir(), "missing.csv")
	s := NewWatchlistService(brokertest.New(st), st, cfg)
	assert.Equal(t, watchlist.DefaultSymbols, s.Symbols())
}

func TestWatchlistResolvesChainAndQuotesATMPair(t *testing.T) {
	s, gw, st := newWatchlist(t, "symbol,enabled\nAAPL,true\n")
	withAAPLChain(gw)

	n, err := s.runCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, gw.MarketRequests(), 1, "options wait for a stock price")
	assert.Equal(t, ibkr.StockContract("AAPL"), gw.MarketRequests()[0].Contract)
	assert.False(t, gw.MarketRequests()[0].Snapshot)

	st.UpdateMarketData(model.MarketData{Symbol: "AAPL", Price: 193})
	_, err = s.runCycle(context.Background())
	require.NoError(t, err)

	reqs := gw.MarketRequests()
	require.Len(t, reqs, 3)
	assert.Equal(t, "AAPL_195_01/16/2026_C", reqs[1].Symbol)
	assert.Equal(t, ibkr.OptionContract("AAPL", "20260116", 195, "C"), reqs[1].Contract)
	assert.True(t, reqs[1].Snapshot)
	assert.Equal(t, "AAPL_195_01/16/2026_P", reqs[2].Symbol)

	// The same pair is not requested again.
	_, err = s.runCycle(context.Background())
	require.NoError(t, err)
	assert.Len(t, gw.MarketRequests(), 3)

	st.UpdateMarketData(model.MarketData{Symbol: "AAPL_195_01/16/2026_C", Price: 12.5, DataType: model.DataOption})
	entries := s.Entries()
	require.Len(t, entries, 1)
	e := entries[0]
	assert.True(t, e.Resolved)
	assert.Equal(t, int64(265598), e.ConID)
	assert.Equal(t, "APPLE INC", e.LongName)
	assert.Equal(t, 3, e.Expirations)
	assert.Equal(t, 4, e.Strikes)
	require.NotNil(t, e.Stock)
	assert.Equal(t, 193.0, e.Stock.Price)
	require.NotNil(t, e.Call)
	require.NotNil(t, e.Call.Quote)
	assert.Equal(t, 12.5, e.Call.Quote.Price)
	require.NotNil(t, e.Put)
	assert.Nil(t, e.Put.Quote)
}

func TestWatchlistReportsUnresolvedSymbols(t *testing.T) {
	s, gw, _ := newWatchlist(t, "symbol,enabled\nAAPL,true\nZZZZ,true\n")
	withAAPLChain(gw)

	n, err := s.runCycle(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, n)

	entries := s.Entries()
	require.Len(t, entries, 2)
	assert.True(t, entries[0].Resolved)
	assert.False(t, entries[1].Resolved)
	assert.Contains(t, entries[1].Error, "no contract id")
}

func TestATMPair(t *testing.T) {
	strike, expiry, ok := atmPair([]float64{90, 100, 110}, []string{"20250620", "20250919"}, 104)
	require.True(t, ok)
	assert.Equal(t, 100.0, strike)
	assert.Equal(t, "20250919", expiry)

	_, _, ok = atmPair(nil, []string{"20250620"}, 100)
	assert.False(t, ok)
	_, _, ok = atmPair([]float64{100}, nil, 100)
	assert.False(t, ok)
}

func TestWatchlistSaveAppliesSymbols(t *testing.T) {
	s, gw, _ := newWatchlist(t, "symbol,enabled\nAAPL,true\n")
	withAAPLChain(gw)
	_, err := s.runCycle(context.Background())
	require.NoError(t, err)
	stockReq := gw.MarketRequests()[0].ID

	require.NoError(t, s.Save([]watchlist.Entry{{Symbol: "nvda", Enabled: true}, {Symbol: "AAPL", Enabled: false}}))
	assert.Equal(t, []string{"NVDA"}, s.Symbols())
	assert.Equal(t, []int{stockReq}, gw.Cancelled(), "removed symbols stop streaming")

	got, err := watchlist.Load(s.path)
	require.NoError(t, err)
	assert.Equal(t, []string{"NVDA"}, got)
}

func TestWatchlistRunReloadsOnFileChange(t *testing.T) {
	s, _, _ := newWatchlist(t, "symbol,enabled\nAAPL,true\n")
	stop := runService(t, s)
	defer stop()

	// Give the watcher time to register before replacing the file.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, watchlist.Save(s.path, []watchlist.Entry{{Symbol: "AMD", Enabled: true}}))
	require.Eventually(t, func() bool {
		syms := s.Symbols()
		return len(syms) == 1 && syms[0] == "AMD"
	}, 3*time.Second, 10*time.Millisecond)
}
