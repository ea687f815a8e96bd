// cmd/backtest grid-searches buy/sell thresholds for each ticker, prints the
// ranked results and the best run in detail, and recommends thresholds
// across all tickers.
//
// Usage:
//
//	go run ./cmd/backtest --config=config.yaml --tickers=BBCA.JK,TLKM.JK --interval=1d --top=10
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"signal-backtest/config"
	"signal-backtest/internal/backtest"
	"signal-backtest/internal/logger"
	"signal-backtest/internal/marketdata"
	"signal-backtest/internal/model"
	"signal-backtest/internal/report"
	"signal-backtest/internal/scoring"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfgPath := flag.String("config", "", "Path to YAML config (optional)")
	tickersFlag := flag.String("tickers", "", "Comma-separated tickers (default: poller.tickers)")
	interval := flag.String("interval", "1d", "Bar interval")
	top := flag.Int("top", 10, "Ranked results to print per ticker")
	detail := flag.Bool("detail", true, "Print the best run's summary and trades")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	logger.InitWriter(os.Stderr, "backtest", level, "text")

	tickers := cfg.Poller.Tickers
	if *tickersFlag != "" {
		tickers = config.ParseList(*tickersFlag)
	}
	if len(tickers) == 0 {
		log.Fatal("[backtest] no tickers: pass --tickers or set poller.tickers")
	}

	source, closer, err := marketdata.Open(cfg.Data)
	if err != nil {
		log.Fatalf("[backtest] open source: %v", err)
	}
	defer closer.Close()

	btCfg, err := cfg.Backtest()
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	scorer := scoring.NewScorer(cfg.Indicators)
	opt := backtest.NewOptimizer(cfg.Grid, btCfg)
	ranked := make(map[string][]model.StrategyResult)

	for _, ticker := range tickers {
		if ctx.Err() != nil {
			break
		}
		runCtx := logger.WithRunID(ctx, "")

		bars, err := source.GetBars(runCtx, ticker, *interval, cfg.Data.Bars)
		if errors.Is(err, model.ErrNoData) {
			slog.Warn("no data", append(logger.Attrs(runCtx), "ticker", ticker)...)
			continue
		}
		if err != nil {
			slog.Error("fetch failed", append(logger.Attrs(runCtx), "ticker", ticker, "error", err)...)
			continue
		}
		rows, err := scorer.ScoreBars(bars)
		if err != nil {
			slog.Error("score failed", append(logger.Attrs(runCtx), "ticker", ticker, "error", err)...)
			continue
		}

		results, err := opt.Search(runCtx, rows)
		if errors.Is(err, backtest.ErrInsufficientData) {
			fmt.Printf("\n%s: insufficient data (%d bars)\n", model.SeriesKey(ticker, *interval), len(bars))
			continue
		}
		if err != nil {
			slog.Error("grid search failed", append(logger.Attrs(runCtx), "ticker", ticker, "error", err)...)
			continue
		}
		ranked[ticker] = results

		fmt.Printf("\n%s  (%d bars, run %s)\n", model.SeriesKey(ticker, *interval), len(bars), logger.RunID(runCtx))
		report.Results(os.Stdout, results, *top)

		if *detail && len(results) > 0 {
			best := results[0]
			fmt.Println()
			report.Summary(os.Stdout, &best)
			report.Trades(os.Stdout, best.Trades)

			if delta, err := backtest.RunDelta(runCtx, rows, btCfg); err == nil {
				fmt.Println()
				report.Summary(os.Stdout, delta)
			}
		}
	}

	fmt.Println()
	report.Recommendation(os.Stdout, backtest.Recommend(ranked, cfg.Strategy.TopN))
}
