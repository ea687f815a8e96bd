package model

import (
	"context"
	"errors"
	"time"
)

// ErrNoData is returned when a series is empty or missing upstream.
// Callers treat it as an omission, never as a fatal batch error.
var ErrNoData = errors.New("no data")

// ── Port Interfaces ──
// These decouple the scoring/backtest core from concrete market-data and
// cache implementations (SQLite, Parquet, Yahoo, Redis).

// BarSource supplies ordered bars for a ticker and interval.
type BarSource interface {
	// GetBars returns bars sorted ascending by TS. count keeps the most
	// recent N bars (0 = everything available). Returns ErrNoData if the
	// upstream has nothing for the series.
	GetBars(ctx context.Context, ticker, interval string, count int) ([]Bar, error)
}

// BarWriter persists bars (used by imports).
type BarWriter interface {
	WriteBars(ctx context.Context, bars []Bar) error

	// Close releases underlying resources.
	Close() error
}

// ResultCache stores computed series and rankings with time-based expiry.
type ResultCache interface {
	// Get loads a cached value into dst. Returns false on a miss.
	Get(ctx context.Context, key string, dst any) (bool, error)

	// Set stores value under key for ttl.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error

	// Expire drops key immediately.
	Expire(ctx context.Context, key string) error
}
