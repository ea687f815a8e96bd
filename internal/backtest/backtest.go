package backtest

import (
	"context"
	"fmt"

	"signal-backtest/internal/model"
	"signal-backtest/internal/strategy"
)

// Config controls a single backtest run.
type Config struct {
	InitialCapital float64
	MinBars        int
	CloseAtEnd     bool
	Rule           strategy.Rule
}

// DefaultConfig returns the standard level(2,-2) run on 10,000,000 capital.
func DefaultConfig() Config {
	return Config{
		InitialCapital: DefaultInitialCapital,
		MinBars:        DefaultMinBars,
		Rule:           strategy.Level{Buy: 2, Sell: -2},
	}
}

func (c Config) withDefaults() Config {
	if c.InitialCapital <= 0 {
		c.InitialCapital = DefaultInitialCapital
	}
	if c.MinBars <= 0 {
		c.MinBars = DefaultMinBars
	}
	if c.Rule == nil {
		c.Rule = DefaultConfig().Rule
	}
	return c
}

// Trim returns the rows on which every indicator is defined, in order.
// IndicatorDiff is recomputed over the kept rows, so the first of them
// carries 0 rather than its jump out of warm-up. The input is not modified.
func Trim(rows []model.ScoredBar) []model.ScoredBar {
	out := make([]model.ScoredBar, 0, len(rows))
	for _, r := range rows {
		if !r.Complete() {
			continue
		}
		r.IndicatorDiff = 0
		if n := len(out); n > 0 {
			r.IndicatorDiff = r.Indicator - out[n-1].Indicator
		}
		out = append(out, r)
	}
	return out
}

// Run trims warm-up rows, simulates cfg.Rule over what remains and
// evaluates the result. Series with fewer than cfg.MinBars complete rows
// return ErrInsufficientData.
func Run(ctx context.Context, rows []model.ScoredBar, cfg Config) (*model.StrategyResult, error) {
	return runTrimmed(ctx, Trim(rows), cfg.withDefaults())
}

// RunDelta evaluates the delta rule once over rows.
func RunDelta(ctx context.Context, rows []model.ScoredBar, cfg Config) (*model.StrategyResult, error) {
	cfg.Rule = strategy.Delta{}
	return Run(ctx, rows, cfg)
}

func runTrimmed(ctx context.Context, rows []model.ScoredBar, cfg Config) (*model.StrategyResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(rows) < cfg.MinBars {
		return nil, fmt.Errorf("%w: %d complete bars, need %d", ErrInsufficientData, len(rows), cfg.MinBars)
	}

	sim := Simulator{Rule: cfg.Rule, InitialCapital: cfg.InitialCapital, CloseAtEnd: cfg.CloseAtEnd}
	res, err := Evaluate(rows, sim.Run(rows), cfg.InitialCapital, cfg.MinBars)
	if err != nil {
		return nil, err
	}

	switch r := cfg.Rule.(type) {
	case strategy.Level:
		res.Rule = strategy.RuleLevel
		res.BuyThreshold, res.SellThreshold = r.Buy, r.Sell
	case strategy.Delta:
		res.Rule = strategy.RuleDelta
	default:
		res.Rule = cfg.Rule.Name()
	}
	return res, nil
}
