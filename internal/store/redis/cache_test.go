package redis

import (
	"context"
	"math"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-backtest/internal/model"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "scored:BBCA.JK:1d", ScoredKey("BBCA.JK", "1d"))
	assert.Equal(t, "grid:BBCA.JK:4h", RankingKey("BBCA.JK", "4h"))
	assert.Equal(t, "pub:signal:TLKM.JK:1h", SignalChannel("TLKM.JK", "1h"))
}

func TestCache_PrefixDefault(t *testing.T) {
	c := NewWithClient(nil, "")
	assert.Equal(t, "sigbt:scored:X:1d", c.key(ScoredKey("X", "1d")))
}

// liveCache connects to REDIS_ADDR; the test is skipped when it is unset.
func liveCache(t *testing.T) *Cache {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	c, err := New(Config{Addr: addr, Prefix: "sigbt-test-" + uuid.NewString()})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCache_RoundTrip(t *testing.T) {
	c := liveCache(t)
	ctx := context.Background()

	var hits, misses int
	c.OnHit = func() { hits++ }
	c.OnMiss = func() { misses++ }

	rows := []model.ScoredBar{{
		Bar:       model.Bar{Ticker: "BBCA.JK", Interval: "1d", TS: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), Close: 9000},
		MA5:       8950,
		MA10:      math.NaN(),
		RSI:       55,
		Trend:     1,
		VolLabel:  model.LabelUp,
		Indicator: 3,
	}}
	key := ScoredKey("BBCA.JK", "1d")

	var got []model.ScoredBar
	ok, err := c.Get(ctx, key, &got)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, key, rows, time.Minute))
	ok, err = c.Get(ctx, key, &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].Indicator)
	assert.True(t, math.IsNaN(got[0].MA10), "null must decode as NaN")

	require.NoError(t, c.Expire(ctx, key))
	ok, err = c.Get(ctx, key, &got)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 1, hits)
	assert.Equal(t, 2, misses)
}
