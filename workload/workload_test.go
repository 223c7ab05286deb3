package workload

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"overlaystudy/identifier"
	"overlaystudy/overlay"
)

func TestUniformGeneratorExhausts(t *testing.T) {
	gen := NewUniformGenerator([]string{"a", "b"}, []OperationTag{OpLookup}, 5, 1)
	count := 0
	for {
		op, ok := gen.Next()
		if !ok {
			break
		}
		assert.Equal(t, OpLookup, op.Op)
		assert.NotEmpty(t, op.ID)
		count++
	}
	assert.Equal(t, 5, count)
}

func TestUniformGeneratorEmptyKeys(t *testing.T) {
	gen := NewUniformGenerator(nil, nil, 5, 1)
	_, ok := gen.Next()
	assert.False(t, ok)
}

func TestPopularityGeneratorPrefersHotSet(t *testing.T) {
	gen := NewPopularityGenerator(
		[]string{"cold1", "cold2", "hot1"},
		[]string{"hot1"},
		[]OperationTag{OpLookup},
		200,
		0.9,
		42,
	)
	hotCount := 0
	total := 0
	for {
		op, ok := gen.Next()
		if !ok {
			break
		}
		total++
		if op.Key == "hot1" {
			hotCount++
		}
	}
	assert.Equal(t, 200, total)
	assert.Greater(t, hotCount, total/2, "weight=0.9 should draw from the hot set most of the time")
}

func TestStatsAggregatesMinMaxMean(t *testing.T) {
	stats := NewStats()
	stats.Observe("chord", "lookup", 1, 3, 0)
	stats.Observe("chord", "lookup", 3, 3, 0)
	stats.Observe("chord", "lookup", 2, 3, 0)
	stats.Observe("pastry", "lookup", 5, 3, 0)

	summaries := stats.Summaries()
	require.Len(t, summaries, 2)

	var chordSummary Summary
	for _, s := range summaries {
		if s.Protocol == "chord" {
			chordSummary = s
		}
	}
	assert.Equal(t, 3, chordSummary.Count)
	assert.Equal(t, 1, chordSummary.Min)
	assert.Equal(t, 3, chordSummary.Max)
	assert.InDelta(t, 2.0, chordSummary.Mean, 0.001)
}

func TestRunDrivesGeneratorToCompletion(t *testing.T) {
	cfg := overlay.Config{M: 8, R: 2, T: 4}
	ov, err := overlay.NewChord(cfg, []identifier.Identifier{10, 90, 200})
	require.NoError(t, err)

	gen := NewUniformGenerator([]string{"alpha", "beta", "gamma"}, []OperationTag{OpInsert, OpLookup}, 20, 7)
	stats := NewStats()

	err = Run(context.Background(), ov, 10, gen, stats.Observe)
	require.NoError(t, err)
	assert.NotEmpty(t, stats.Summaries())
}

func TestRunConcurrentDrivesGeneratorToCompletion(t *testing.T) {
	cfg := overlay.Config{M: 8, B: 2, L: 4, T: 4}
	ov, err := overlay.NewPastry(cfg, []identifier.Identifier{10, 90, 200})
	require.NoError(t, err)

	gen := NewUniformGenerator([]string{"alpha", "beta", "gamma"}, []OperationTag{OpInsert, OpLookup}, 50, 3)
	stats := NewStats()

	err = RunConcurrent(context.Background(), ov, 10, gen, stats.Observe, 4)
	require.NoError(t, err)

	total := 0
	for _, s := range stats.Summaries() {
		total += s.Count
	}
	assert.Equal(t, 50, total)
}
