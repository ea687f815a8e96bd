package backtest

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"signal-backtest/internal/logger"
	"signal-backtest/internal/model"
	"signal-backtest/internal/strategy"
)

// Grid bounds the threshold pairs searched. Buy runs over [BuyMin, BuyMax]
// and, for each buy, sell runs over [SellMin, buy).
type Grid struct {
	BuyMin  int `yaml:"buy_min"`
	BuyMax  int `yaml:"buy_max"`
	SellMin int `yaml:"sell_min"`
	Workers int `yaml:"workers"` // 0 = GOMAXPROCS
}

// DefaultGrid returns buy in [-2, 5] and sell in [-5, buy).
func DefaultGrid() Grid {
	return Grid{BuyMin: -2, BuyMax: 5, SellMin: -5}
}

// Pair is one (buy, sell) threshold combination.
type Pair struct {
	Buy  int
	Sell int
}

// Pairs enumerates every valid combination in buy-major order.
func (g Grid) Pairs() []Pair {
	var out []Pair
	for buy := g.BuyMin; buy <= g.BuyMax; buy++ {
		for sell := g.SellMin; sell < buy; sell++ {
			out = append(out, Pair{Buy: buy, Sell: sell})
		}
	}
	return out
}

// Optimizer runs one level-rule backtest per grid pair over a shared series.
type Optimizer struct {
	Grid   Grid
	Config Config

	// Metrics hooks (optional). OnRun is called from worker goroutines.
	OnRun    func(outcome string)
	OnSearch func(pairs int, d time.Duration)
}

// NewOptimizer creates an optimizer. cfg.Rule is ignored; each pair supplies
// its own level rule.
func NewOptimizer(grid Grid, cfg Config) *Optimizer {
	return &Optimizer{Grid: grid, Config: cfg.withDefaults()}
}

// Search runs every pair and returns the accepted results ranked by total
// return. Runs are independent: each owns its simulator state, and rows are
// only read. Ranking happens after every run has finished.
func (o *Optimizer) Search(ctx context.Context, rows []model.ScoredBar) ([]model.StrategyResult, error) {
	start := time.Now()
	cfg := o.Config.withDefaults()
	trimmed := Trim(rows)
	pairs := o.Grid.Pairs()

	if len(trimmed) < cfg.MinBars {
		o.outcome("insufficient", len(pairs))
		return nil, ErrInsufficientData
	}

	runID := logger.RunID(ctx)
	slots := make([]*model.StrategyResult, len(pairs))

	g, gctx := errgroup.WithContext(ctx)
	workers := o.Grid.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g.SetLimit(workers)

	for i, p := range pairs {
		g.Go(func() error {
			pcfg := cfg
			pcfg.Rule = strategy.Level{Buy: p.Buy, Sell: p.Sell}
			res, err := runTrimmed(gctx, trimmed, pcfg)
			switch {
			case errors.Is(err, ErrInsufficientData):
				o.outcome("insufficient", 1)
				return nil
			case err != nil:
				o.outcome("error", 1)
				return err
			}
			res.RunID = runID
			slots[i] = res
			o.outcome("ok", 1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make([]model.StrategyResult, 0, len(slots))
	for _, r := range slots {
		if r != nil {
			results = append(results, *r)
		}
	}
	Rank(results)

	if o.OnSearch != nil {
		o.OnSearch(len(pairs), time.Since(start))
	}
	slog.Debug("grid search complete",
		append(logger.Attrs(ctx),
			"series", model.SeriesKey(trimmed[0].Ticker, trimmed[0].Interval),
			"pairs", len(pairs), "results", len(results), "elapsed", time.Since(start))...)
	return results, nil
}

func (o *Optimizer) outcome(kind string, n int) {
	if o.OnRun == nil {
		return
	}
	for i := 0; i < n; i++ {
		o.OnRun(kind)
	}
}

// Rank sorts results by total return descending. Equal returns fall back to
// fewer trades, then higher win rate, then higher buy and sell thresholds,
// so the order is fully deterministic.
func Rank(results []model.StrategyResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.TotalReturnPct != b.TotalReturnPct {
			return a.TotalReturnPct > b.TotalReturnPct
		}
		if a.NumTrades != b.NumTrades {
			return a.NumTrades < b.NumTrades
		}
		if a.WinRate != b.WinRate {
			return a.WinRate > b.WinRate
		}
		if a.BuyThreshold != b.BuyThreshold {
			return a.BuyThreshold > b.BuyThreshold
		}
		return a.SellThreshold > b.SellThreshold
	})
}
