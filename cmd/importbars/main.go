// cmd/importbars copies bar series between sources: Parquet files or the
// Yahoo chart API into the SQLite bar store, or SQLite out to Parquet.
// Imports into SQLite are incremental; only bars newer than the last stored
// timestamp are written.
//
// Usage:
//
//	go run ./cmd/importbars --from=parquet --dir=data/parquet --db=data/bars.db
//	go run ./cmd/importbars --from=yahoo --tickers=BBCA.JK,TLKM.JK --intervals=1d,1h
//	go run ./cmd/importbars --from=sqlite --to=parquet --dir=data/export
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"signal-backtest/config"
	"signal-backtest/internal/marketdata/parquetfile"
	"signal-backtest/internal/marketdata/yahoo"
	"signal-backtest/internal/model"
	sqlitestore "signal-backtest/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	from := flag.String("from", "parquet", "Source: parquet | yahoo | sqlite")
	to := flag.String("to", "sqlite", "Destination: sqlite | parquet")
	dir := flag.String("dir", "data/parquet", "Parquet directory (source or destination)")
	dbPath := flag.String("db", "data/bars.db", "SQLite database path")
	tickers := flag.String("tickers", "", "Comma-separated tickers (yahoo only)")
	intervals := flag.String("intervals", "1d", "Comma-separated intervals (yahoo only)")
	rps := flag.Float64("rps", 2, "Yahoo requests per second")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ── Source ──
	var (
		source model.BarSource
		series [][2]string
	)
	switch *from {
	case config.SourceParquet:
		src := parquetfile.NewSource(*dir)
		s, err := src.Series()
		if err != nil {
			log.Fatalf("[importbars] list parquet files: %v", err)
		}
		source, series = src, s
	case config.SourceYahoo:
		source = yahoo.NewClient("", *rps)
		for _, t := range config.ParseList(*tickers) {
			for _, iv := range config.ParseList(*intervals) {
				series = append(series, [2]string{t, iv})
			}
		}
	case config.SourceSQLite:
		r, err := sqlitestore.NewReader(*dbPath)
		if err != nil {
			log.Fatalf("[importbars] %v", err)
		}
		defer r.Close()
		s, err := r.Series(ctx)
		if err != nil {
			log.Fatalf("[importbars] %v", err)
		}
		source, series = r, s
	default:
		log.Fatalf("[importbars] unknown source %q", *from)
	}
	if len(series) == 0 {
		log.Fatal("[importbars] nothing to import")
	}

	// ── Destination ──
	var (
		dst  model.BarWriter
		last func(ctx context.Context, ticker, interval string) (int64, error)
	)
	switch *to {
	case config.SourceSQLite:
		if *from == config.SourceSQLite {
			log.Fatal("[importbars] source and destination are both sqlite")
		}
		w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: *dbPath})
		if err != nil {
			log.Fatalf("[importbars] %v", err)
		}
		dst = w
		last = func(ctx context.Context, ticker, interval string) (int64, error) {
			ts, err := w.GetLastTimestamp(ctx, ticker, interval)
			if err != nil || ts.IsZero() {
				return 0, err
			}
			return ts.Unix(), nil
		}
	case config.SourceParquet:
		if *from == config.SourceParquet {
			log.Fatal("[importbars] source and destination are both parquet")
		}
		dst = parquetfile.NewSource(*dir)
	default:
		log.Fatalf("[importbars] unknown destination %q", *to)
	}
	defer dst.Close()

	total := 0
	for _, s := range series {
		if ctx.Err() != nil {
			break
		}
		ticker, interval := s[0], s[1]
		bars, err := source.GetBars(ctx, ticker, interval, 0)
		if errors.Is(err, model.ErrNoData) {
			log.Printf("[importbars] %s: no data", model.SeriesKey(ticker, interval))
			continue
		}
		if err != nil {
			log.Printf("[importbars] %s: %v", model.SeriesKey(ticker, interval), err)
			continue
		}

		if last != nil {
			since, err := last(ctx, ticker, interval)
			if err != nil {
				log.Printf("[importbars] %s: last timestamp: %v", model.SeriesKey(ticker, interval), err)
				continue
			}
			bars = sinceLast(bars, since)
		}
		if len(bars) == 0 {
			log.Printf("[importbars] %s: up to date", model.SeriesKey(ticker, interval))
			continue
		}

		if err := dst.WriteBars(ctx, bars); err != nil {
			log.Printf("[importbars] %s: write: %v", model.SeriesKey(ticker, interval), err)
			continue
		}
		total += len(bars)
		log.Printf("[importbars] %s: %d bars", model.SeriesKey(ticker, interval), len(bars))
	}
	log.Printf("[importbars] done: %d bars across %d series", total, len(series))
}

// sinceLast keeps bars at or after unix second since. The newest stored bar
// is rewritten because an intraday bar may still have moved.
func sinceLast(bars []model.Bar, since int64) []model.Bar {
	if since == 0 {
		return bars
	}
	for i, b := range bars {
		if b.TS.Unix() >= since {
			return bars[i:]
		}
	}
	return nil
}
