// cmd/signals prints the scored bars of one series, its outlook and the
// rules that fire on the latest bar. Scored series are read from the Redis
// cache when one is configured and fresh.
//
// Usage:
//
//	go run ./cmd/signals --ticker=BBCA.JK --interval=1d --n=20
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"signal-backtest/config"
	"signal-backtest/internal/backtest"
	"signal-backtest/internal/logger"
	"signal-backtest/internal/marketdata"
	"signal-backtest/internal/model"
	"signal-backtest/internal/poller"
	"signal-backtest/internal/report"
	"signal-backtest/internal/scoring"
	rediscache "signal-backtest/internal/store/redis"
	"signal-backtest/internal/strategy"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfgPath := flag.String("config", "", "Path to YAML config (optional)")
	ticker := flag.String("ticker", "", "Ticker symbol")
	interval := flag.String("interval", "1d", "Bar interval")
	n := flag.Int("n", 20, "Most recent scored bars to print")
	refresh := flag.Bool("refresh", false, "Ignore cached entries")
	flag.Parse()

	if *ticker == "" {
		log.Fatal("[signals] --ticker is required")
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("[signals] %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[signals] %v", err)
	}
	level, _ := logger.ParseLevel(cfg.Log.Level)
	logger.InitWriter(os.Stderr, "signals", level, "text")

	source, closer, err := marketdata.Open(cfg.Data)
	if err != nil {
		log.Fatalf("[signals] open source: %v", err)
	}
	defer closer.Close()

	rule, err := cfg.Rule()
	if err != nil {
		log.Fatalf("[signals] %v", err)
	}
	btCfg, _ := cfg.Backtest()

	deps := poller.Deps{
		Source:    source,
		Scorer:    scoring.NewScorer(cfg.Indicators),
		Optimizer: backtest.NewOptimizer(cfg.Grid, btCfg),
		Engine:    strategy.NewEngine(rule, strategy.Delta{}),
	}
	if cfg.Redis.Addr != "" {
		cache, err := rediscache.New(rediscache.Config{
			Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB,
		})
		if err != nil {
			log.Printf("[signals] cache unavailable, computing directly: %v", err)
		} else {
			defer cache.Close()
			deps.Cache = cache
		}
	}

	svc, err := poller.New(poller.Config{Bars: cfg.Data.Bars, TTL: cfg.CacheTTL()}, deps)
	if err != nil {
		log.Fatalf("[signals] %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	sr := poller.Series{Ticker: *ticker, Interval: *interval}
	if *refresh {
		if err := svc.Invalidate(ctx, sr); err != nil {
			log.Printf("[signals] invalidate: %v", err)
		}
	}
	rows, err := svc.Scored(ctx, sr)
	if err != nil {
		log.Fatalf("[signals] %s: %v", sr.Key(), err)
	}

	report.Scored(os.Stdout, rows, *n)
	report.Outlook(os.Stdout, rows)
	fmt.Println()
	report.Distribution(os.Stdout, rows)

	latest := rows[len(rows)-1]
	sigs := deps.Engine.Evaluate(latest)
	if len(sigs) == 0 {
		fmt.Printf("\nNo rule fires on %s %s\n", model.SeriesKey(latest.Ticker, latest.Interval),
			latest.TS.Format("2006-01-02 15:04"))
	}
	for _, sig := range sigs {
		fmt.Printf("\n%s %s at %.2f (%s): %s\n", sig.Action, sig.Ticker, sig.Price, sig.Rule, sig.Reason)
	}

	if ranked, ok, err := svc.Rankings(ctx, sr); err == nil && ok && len(ranked) > 0 {
		fmt.Println("\nCached grid ranking:")
		report.Results(os.Stdout, ranked, 5)
	}
}
