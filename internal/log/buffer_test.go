// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructuredBufferWriter_Framing(t *testing.T) {
	w := &structuredBufferWriter{}

	part1 := `{"time":"2026-01-01T00:00:00Z","level":"info","component":"broker","event":"broker.connected","message":"part1`
	part2 := `_part2"}` + "\n"

	_, _ = w.Write([]byte(part1))
	assert.Empty(t, w.snapshot())

	_, _ = w.Write([]byte(part2))
	logs := w.snapshot()
	require.Len(t, logs, 1)
	assert.Equal(t, "broker.connected", logs[0].Event)
	assert.Equal(t, "broker", logs[0].Component)
	assert.Equal(t, "part1_part2", logs[0].Message)

	burst := `{"level":"warn","message":"a"}` + "\n" + `{"level":"error","message":"b"}` + "\n"
	_, _ = w.Write([]byte(burst))
	assert.Len(t, w.snapshot(), 3)
}

func TestStructuredBufferWriter_Bounds(t *testing.T) {
	w := &structuredBufferWriter{}

	_, _ = w.Write([]byte(strings.Repeat("A", maxPartialBytes+1)))
	assert.Equal(t, 0, w.partial.Len())
	assert.EqualValues(t, 1, w.overflow.Load())

	giant := `{"level":"warn","message":"` + strings.Repeat("B", maxLineBytes) + `"}` + "\n"
	_, _ = w.Write([]byte(giant))
	assert.Empty(t, w.snapshot())
	assert.EqualValues(t, 1, w.tooLarge.Load())

	_, _ = w.Write([]byte("not json\n"))
	assert.EqualValues(t, 1, w.malformed.Load())
}

func TestStructuredBufferWriter_RelevanceFilter(t *testing.T) {
	w := &structuredBufferWriter{}

	_, _ = w.Write([]byte(`{"level":"info","event":"alert.raised","message":"ok"}` + "\n"))
	_, _ = w.Write([]byte(`{"level":"warn","message":"reconnecting"}` + "\n"))
	_, _ = w.Write([]byte(`{"level":"debug","component":"ibkr","message":"tick"}` + "\n"))
	_, _ = w.Write([]byte(`{"level":"info","message":"no event"}` + "\n"))

	assert.Len(t, w.snapshot(), 2)
	assert.EqualValues(t, 2, w.irrelevant.Load())
}

func TestStructuredBufferWriter_RingOrder(t *testing.T) {
	w := &structuredBufferWriter{}
	for i := 0; i < maxRecentEntries+3; i++ {
		_, _ = w.Write([]byte(`{"level":"warn","message":"m` + strings.Repeat("x", i%5) + `"}` + "\n"))
	}
	logs := w.snapshot()
	require.Len(t, logs, maxRecentEntries)
	// Entry 3 is the oldest survivor once three entries have been evicted.
	assert.Equal(t, "m"+strings.Repeat("x", 3), logs[0].Message)
}
