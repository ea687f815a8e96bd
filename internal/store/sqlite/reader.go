package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"signal-backtest/internal/marketdata/resample"
	"signal-backtest/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Reader provides read-only access to stored bars.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// DB returns the underlying sql.DB for health checks.
func (r *Reader) DB() *sql.DB { return r.db }

// GetBars returns the most recent count bars of a series in ascending order
// (count <= 0 returns all). A missing "4h" series is built from stored
// hourly bars. Returns model.ErrNoData when nothing is stored.
func (r *Reader) GetBars(ctx context.Context, ticker, interval string, count int) ([]model.Bar, error) {
	bars, err := r.query(ctx, ticker, interval, count)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 && interval == "4h" {
		hourly, err := r.query(ctx, ticker, "1h", 0)
		if err != nil {
			return nil, err
		}
		if len(hourly) == 0 {
			if hourly, err = r.query(ctx, ticker, "60m", 0); err != nil {
				return nil, err
			}
		}
		bars = resample.Bars(hourly, 4*time.Hour, interval)
		if count > 0 && len(bars) > count {
			bars = bars[len(bars)-count:]
		}
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("sqlite %s: %w", model.SeriesKey(ticker, interval), model.ErrNoData)
	}
	return bars, nil
}

func (r *Reader) query(ctx context.Context, ticker, interval string, count int) ([]model.Bar, error) {
	limit := count
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume FROM (
			SELECT ts, open, high, low, close, volume
			FROM bars
			WHERE ticker = ? AND interval = ?
			ORDER BY ts DESC
			LIMIT ?
		) ORDER BY ts ASC
	`, ticker, interval, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars: %w", err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		b := model.Bar{Ticker: ticker, Interval: interval}
		var tsUnix int64
		if err := rows.Scan(&tsUnix, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("sqlite scan bars: %w", err)
		}
		b.TS = time.Unix(tsUnix, 0).UTC()
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// Series lists every stored ticker/interval pair.
func (r *Reader) Series(ctx context.Context) ([][2]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT ticker, interval FROM bars ORDER BY ticker, interval`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query series: %w", err)
	}
	defer rows.Close()

	var out [][2]string
	for rows.Next() {
		var s [2]string
		if err := rows.Scan(&s[0], &s[1]); err != nil {
			return nil, fmt.Errorf("sqlite scan series: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
