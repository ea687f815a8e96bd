// Package parquetfile reads and writes bar series as Parquet files, one
// file per ticker and interval, so backtests can run offline.
package parquetfile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"signal-backtest/internal/model"
)

// Row is the on-disk layout of one bar. Timestamps are Unix milliseconds.
type Row struct {
	Ticker   string  `parquet:"ticker"`
	Interval string  `parquet:"interval"`
	TS       int64   `parquet:"ts"`
	Open     float64 `parquet:"open"`
	High     float64 `parquet:"high"`
	Low      float64 `parquet:"low"`
	Close    float64 `parquet:"close"`
	Volume   float64 `parquet:"volume"`
}

func toRow(b model.Bar) Row {
	return Row{
		Ticker: b.Ticker, Interval: b.Interval, TS: b.TS.UnixMilli(),
		Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume,
	}
}

func (r Row) bar() model.Bar {
	return model.Bar{
		Ticker: r.Ticker, Interval: r.Interval, TS: time.UnixMilli(r.TS).UTC(),
		Open: r.Open, High: r.High, Low: r.Low, Close: r.Close, Volume: r.Volume,
	}
}

// WriteFile writes bars to path, replacing any existing file.
func WriteFile(path string, bars []model.Bar) error {
	rows := make([]Row, len(bars))
	for i, b := range bars {
		rows[i] = toRow(b)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("parquet mkdir: %w", err)
	}
	if err := parquet.WriteFile(path, rows); err != nil {
		return fmt.Errorf("parquet write %s: %w", path, err)
	}
	return nil
}

// ReadFile loads every bar in path, sorted ascending by timestamp.
func ReadFile(path string) ([]model.Bar, error) {
	rows, err := parquet.ReadFile[Row](path)
	if err != nil {
		return nil, fmt.Errorf("parquet read %s: %w", path, err)
	}
	bars := make([]model.Bar, len(rows))
	for i, r := range rows {
		bars[i] = r.bar()
	}
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].TS.Before(bars[j].TS) })
	return bars, nil
}

// FileName is the file a series lives in, e.g. "BBCA.JK_1d.parquet".
func FileName(ticker, interval string) string {
	return ticker + "_" + interval + ".parquet"
}

// Source serves bars from a directory of Parquet files.
// It satisfies model.BarSource.
type Source struct {
	Dir string
}

var _ model.BarSource = (*Source)(nil)

// NewSource returns a Source rooted at dir.
func NewSource(dir string) *Source { return &Source{Dir: dir} }

// GetBars reads the series file and keeps the most recent count bars.
func (s *Source) GetBars(ctx context.Context, ticker, interval string, count int) ([]model.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := filepath.Join(s.Dir, FileName(ticker, interval))
	bars, err := ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", model.SeriesKey(ticker, interval), model.ErrNoData)
	}
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%s: %w", model.SeriesKey(ticker, interval), model.ErrNoData)
	}
	if count > 0 && len(bars) > count {
		bars = bars[len(bars)-count:]
	}
	return bars, nil
}

// Series lists the ticker/interval pairs present in the directory.
func (s *Source) Series() ([][2]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.Dir, "*.parquet"))
	if err != nil {
		return nil, err
	}
	var out [][2]string
	for _, m := range matches {
		name := strings.TrimSuffix(filepath.Base(m), ".parquet")
		i := strings.LastIndex(name, "_")
		if i <= 0 || i == len(name)-1 {
			continue
		}
		out = append(out, [2]string{name[:i], name[i+1:]})
	}
	return out, nil
}

// WriteBars writes each series in bars to its own file under Dir.
// Existing files are merged: bars with the same timestamp are replaced.
func (s *Source) WriteBars(ctx context.Context, bars []model.Bar) error {
	bySeries := make(map[string][]model.Bar)
	var order []string
	for _, b := range bars {
		k := FileName(b.Ticker, b.Interval)
		if _, ok := bySeries[k]; !ok {
			order = append(order, k)
		}
		bySeries[k] = append(bySeries[k], b)
	}

	for _, name := range order {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := filepath.Join(s.Dir, name)
		existing, err := ReadFile(path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		if err := WriteFile(path, merge(existing, bySeries[name])); err != nil {
			return err
		}
	}
	return nil
}

// Close is a no-op; files are opened per call.
func (s *Source) Close() error { return nil }

func merge(old, fresh []model.Bar) []model.Bar {
	byTS := make(map[int64]model.Bar, len(old)+len(fresh))
	for _, b := range old {
		byTS[b.TS.UnixMilli()] = b
	}
	for _, b := range fresh {
		byTS[b.TS.UnixMilli()] = b
	}
	out := make([]model.Bar, 0, len(byTS))
	for _, b := range byTS {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	return out
}
