// Package marketdata opens the configured bar source. Concrete sources
// live in subpackages: SQLite (store/sqlite), Parquet files (parquetfile)
// and the Yahoo chart API (yahoo).
package marketdata

import (
	"fmt"
	"io"

	"signal-backtest/config"
	"signal-backtest/internal/marketdata/parquetfile"
	"signal-backtest/internal/marketdata/yahoo"
	"signal-backtest/internal/model"
	sqlitestore "signal-backtest/internal/store/sqlite"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open returns the source named by cfg.Source and a closer for it.
func Open(cfg config.DataConfig) (model.BarSource, io.Closer, error) {
	switch cfg.Source {
	case config.SourceSQLite:
		r, err := sqlitestore.NewReader(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return r, r, nil
	case config.SourceParquet:
		s := parquetfile.NewSource(cfg.ParquetDir)
		return s, s, nil
	case config.SourceYahoo:
		return yahoo.NewClient(cfg.YahooBaseURL, cfg.RequestsPerSecond), nopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("marketdata: unknown source %q", cfg.Source)
	}
}
