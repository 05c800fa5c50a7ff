package cache

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMissOnEmptyCache(t *testing.T) {
	c := New(10, time.Hour, zerolog.Nop())
	_, _, ok := c.Get("abc")
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats().Misses)
}

func TestPutThenGetHits(t *testing.T) {
	c := New(10, time.Hour, zerolog.Nop())
	c.Put("abc", []float32{1, 2, 3}, "local")

	vec, tag, ok := c.Get("abc")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2, 3}, vec)
	assert.Equal(t, "local", tag)
	assert.Equal(t, int64(1), c.Stats().Hits)
}

func TestExpiredEntryCountsAsMiss(t *testing.T) {
	c := New(10, time.Millisecond, zerolog.Nop())
	c.Put("abc", []float32{1}, "local")
	time.Sleep(5 * time.Millisecond)

	_, _, ok := c.Get("abc")
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats().Misses)
}

func TestCapacityEvictsOldestEntry(t *testing.T) {
	c := New(2, time.Hour, zerolog.Nop())
	c.Put("a", []float32{1}, "local")
	c.Put("b", []float32{2}, "local")
	c.Put("c", []float32{3}, "local")

	_, _, ok := c.Get("a")
	assert.False(t, ok, "oldest entry should have been evicted")

	_, _, ok = c.Get("c")
	assert.True(t, ok)
}

func TestHitRateComputation(t *testing.T) {
	c := New(10, time.Hour, zerolog.Nop())
	c.Put("a", []float32{1}, "local")

	c.Get("a") // hit
	c.Get("a") // hit
	c.Get("missing") // miss

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 1e-9)
}
