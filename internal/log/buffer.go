// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"bytes"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

const (
	maxRecentEntries = 500
	maxLineBytes     = 16 * 1024
	maxPartialBytes  = 64 * 1024
)

// Entry is one retained log line.
type Entry struct {
	Time      time.Time      `json:"time"`
	Level     string         `json:"level"`
	Component string         `json:"component,omitempty"`
	Event     string         `json:"event,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// BufferMetrics counts lines the recent buffer refused to keep.
type BufferMetrics struct {
	DroppedTooLargeLines   uint64 `json:"dropped_too_large_lines"`
	DroppedPartialOverflow uint64 `json:"dropped_partial_overflow"`
	DroppedIrrelevant      uint64 `json:"dropped_irrelevant"`
	DroppedMalformed       uint64 `json:"dropped_malformed"`
}

// structuredBufferWriter retains the most recent operator-relevant entries
// so the API can expose them without a log shipper.
type structuredBufferWriter struct {
	mu      sync.Mutex
	partial bytes.Buffer
	entries []Entry
	next    int
	full    bool

	tooLarge   atomic.Uint64
	overflow   atomic.Uint64
	irrelevant atomic.Uint64
	malformed  atomic.Uint64
}

var recent = &structuredBufferWriter{}

func (w *structuredBufferWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.partial.Write(p)
	for {
		data := w.partial.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		line := make([]byte, idx)
		copy(line, data[:idx])
		w.partial.Next(idx + 1)
		w.consume(line)
	}
	if w.partial.Len() > maxPartialBytes {
		w.partial.Reset()
		w.overflow.Add(1)
	}
	return len(p), nil
}

func (w *structuredBufferWriter) consume(line []byte) {
	if len(line) == 0 {
		return
	}
	if len(line) > maxLineBytes {
		w.tooLarge.Add(1)
		return
	}
	var raw map[string]any
	if err := json.Unmarshal(line, &raw); err != nil {
		w.malformed.Add(1)
		return
	}
	if !relevant(raw) {
		w.irrelevant.Add(1)
		return
	}

	e := Entry{Fields: raw}
	e.Level, _ = raw["level"].(string)
	e.Component, _ = raw[FieldComponent].(string)
	e.Event, _ = raw[FieldEvent].(string)
	e.Message, _ = raw["message"].(string)
	if ts, ok := raw["time"].(string); ok {
		e.Time, _ = time.Parse(time.RFC3339, ts)
	}

	if len(w.entries) < maxRecentEntries {
		w.entries = append(w.entries, e)
		return
	}
	w.entries[w.next] = e
	w.next = (w.next + 1) % maxRecentEntries
	w.full = true
}

// relevant keeps warnings and above plus info lines that carry an event name.
func relevant(raw map[string]any) bool {
	level, _ := raw["level"].(string)
	switch level {
	case "warn", "error", "fatal", "panic":
		return true
	case "info":
		ev, _ := raw[FieldEvent].(string)
		return ev != ""
	default:
		return false
	}
}

func (w *structuredBufferWriter) snapshot() []Entry {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Entry, 0, len(w.entries))
	if w.full {
		out = append(out, w.entries[w.next:]...)
		out = append(out, w.entries[:w.next]...)
		return out
	}
	return append(out, w.entries...)
}

func (w *structuredBufferWriter) clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = nil
	w.next = 0
	w.full = false
	w.partial.Reset()
}

// GetRecentLogs returns retained entries, oldest first.
func GetRecentLogs() []Entry {
	return recent.snapshot()
}

// ClearRecentLogs empties the recent buffer.
func ClearRecentLogs() {
	recent.clear()
}

// GetBufferMetrics reports drop counters of the recent buffer.
func GetBufferMetrics() BufferMetrics {
	return BufferMetrics{
		DroppedTooLargeLines:   recent.tooLarge.Load(),
		DroppedPartialOverflow: recent.overflow.Load(),
		DroppedIrrelevant:      recent.irrelevant.Load(),
		DroppedMalformed:       recent.malformed.Load(),
	}
}
