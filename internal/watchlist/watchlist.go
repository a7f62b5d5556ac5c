// SPDX-License-Identifier: MIT

// Package watchlist reads, writes and watches the symbol watchlist CSV.
//
// The file has a "symbol,enabled" header. Rows with enabled=true are tracked.
package watchlist

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio/v2"

	qlog "github.com/ManuGH/qtrader/internal/log"
)

// DefaultSymbols is used when the file is missing or unreadable.
var DefaultSymbols = []string{"AAPL", "MSFT", "TSLA", "GOOG"}

// ErrMissingColumn is returned when the header lacks symbol or enabled.
var ErrMissingColumn = errors.New("watchlist: header must contain symbol and enabled")

const watchDebounce = 200 * time.Millisecond

// Entry is one watchlist row.
type Entry struct {
	Symbol  string `json:"symbol"`
	Enabled bool   `json:"enabled"`
}

// Parse reads the CSV. Symbols are trimmed and upper-cased, and later
// duplicates override earlier rows.
func Parse(r io.Reader) ([]Entry, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("watchlist: read header: %w", err)
	}
	symCol, enCol := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "symbol":
			symCol = i
		case "enabled":
			enCol = i
		}
	}
	if symCol < 0 || enCol < 0 {
		return nil, ErrMissingColumn
	}

	var out []Entry
	index := map[string]int{}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("watchlist: %w", err)
		}
		if symCol >= len(rec) {
			continue
		}
		sym := strings.ToUpper(strings.TrimSpace(rec[symCol]))
		if sym == "" {
			continue
		}
		e := Entry{Symbol: sym}
		if enCol < len(rec) {
			e.Enabled = strings.EqualFold(strings.TrimSpace(rec[enCol]), "true")
		}
		if i, ok := index[sym]; ok {
			out[i] = e
			continue
		}
		index[sym] = len(out)
		out = append(out, e)
	}
	return out, nil
}

// Enabled returns the enabled symbols of entries in file order, upper-cased
// and without blanks or repeats.
func Enabled(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if !e.Enabled {
			continue
		}
		sym := strings.ToUpper(strings.TrimSpace(e.Symbol))
		if sym == "" {
			continue
		}
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	}
	return out
}

// Load returns the enabled symbols of the file at path. On any error it
// returns DefaultSymbols together with the error.
func Load(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return append([]string(nil), DefaultSymbols...), fmt.Errorf("watchlist: open: %w", err)
	}
	defer func() { _ = f.Close() }()

	entries, err := Parse(f)
	if err != nil {
		return append([]string(nil), DefaultSymbols...), err
	}
	return Enabled(entries), nil
}

// Save writes entries atomically.
func Save(path string, entries []Entry) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"symbol", "enabled"}); err != nil {
		return fmt.Errorf("watchlist: encode: %w", err)
	}
	for _, e := range entries {
		enabled := "false"
		if e.Enabled {
			enabled = "true"
		}
		if err := w.Write([]string{strings.ToUpper(strings.TrimSpace(e.Symbol)), enabled}); err != nil {
			return fmt.Errorf("watchlist: encode: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("watchlist: encode: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("watchlist: create dir: %w", err)
		}
	}
	if err := renameio.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("watchlist: write %s: %w", path, err)
	}
	return nil
}

// Watch calls onChange with the freshly loaded symbols whenever the file at
// path is written, created or renamed into place. It blocks until ctx ends.
// The parent directory is watched so atomic replaces are seen.
func Watch(ctx context.Context, path string, onChange func([]string)) error {
	logger := qlog.WithComponent("watchlist")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watchlist: create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("watchlist: resolve %s: %w", path, err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watchlist: watch %s: %w", filepath.Dir(abs), err)
	}
	logger.Info().Str(qlog.FieldEvent, "watchlist.watch_started").Str(qlog.FieldPath, abs).Msg("watching watchlist file")

	var (
		timer *time.Timer
		fire  = make(chan struct{}, 1)
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case <-fire:
			symbols, err := Load(abs)
			if err != nil {
				logger.Warn().Err(err).Str(qlog.FieldPath, abs).Msg("watchlist reload failed, keeping previous symbols")
				continue
			}
			logger.Info().Str(qlog.FieldEvent, "watchlist.reloaded").Int("symbols", len(symbols)).Msg("watchlist reloaded")
			onChange(symbols)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error().Err(err).Msg("watchlist watcher error")
		}
	}
}
