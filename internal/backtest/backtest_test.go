package backtest

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-backtest/internal/indicator"
	"signal-backtest/internal/logger"
	"signal-backtest/internal/model"
	"signal-backtest/internal/scoring"
	"signal-backtest/internal/strategy"
)

var t0 = time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

// rows builds complete scored rows with the given prices and composite values.
func rows(prices []float64, indicators []int) []model.ScoredBar {
	out := make([]model.ScoredBar, len(prices))
	prev := 0
	for i, p := range prices {
		out[i] = model.ScoredBar{
			Bar: model.Bar{Ticker: "TEST", Interval: "1d", TS: t0.AddDate(0, 0, i),
				Open: p, High: p, Low: p, Close: p, Volume: 1000},
			MA5: p, MA10: p, RSI: 50, SuperTrend: p, Trend: 1, VolOsc: 0,
			Indicator: indicators[i],
		}
		if i > 0 {
			out[i].IndicatorDiff = indicators[i] - prev
		}
		prev = indicators[i]
	}
	return out
}

func flat(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func scoredSeries(t *testing.T, closes []float64) []model.ScoredBar {
	t.Helper()
	bars := make([]model.Bar, len(closes))
	for i, c := range closes {
		bars[i] = model.Bar{Ticker: "TEST", Interval: "1d", TS: t0.AddDate(0, 0, i),
			Open: c, High: c + 1, Low: c - 1, Close: c, Volume: float64(1000 + (i*53)%700)}
	}
	out, err := scoring.NewScorer(indicator.DefaultConfig()).ScoreBars(bars)
	require.NoError(t, err)
	return out
}

func wave(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1000 + 80*math.Sin(float64(i)/3) + float64(i)
	}
	return out
}

// ────────────────────────────────────────────────────────────
// Simulator
// ────────────────────────────────────────────────────────────

func TestRun_SingleRoundTrip(t *testing.T) {
	prices := flat(30, 1050)
	prices[0], prices[29] = 1000, 1100
	ind := make([]int, 30)
	ind[0], ind[29] = 3, -3

	res, err := Run(context.Background(), rows(prices, ind), Config{Rule: strategy.Level{Buy: 2, Sell: -2}})
	require.NoError(t, err)

	require.Len(t, res.Trades, 2)
	buy, sell := res.Trades[0], res.Trades[1]
	assert.Equal(t, model.ActionBuy, buy.Action)
	assert.Equal(t, int64(10_000), buy.Shares)
	assert.Equal(t, model.ActionSell, sell.Action)
	assert.InDelta(t, 1_000_000, sell.PnL, 1e-6)
	assert.InDelta(t, 10, sell.PnLPct, 1e-9)

	assert.InDelta(t, 11_000_000, res.FinalValue, 1e-6)
	assert.InDelta(t, 10, res.TotalReturnPct, 1e-9)
	assert.InDelta(t, 100, res.WinRate, 1e-9)
	assert.InDelta(t, 10, res.BuyHoldReturnPct, 1e-9)
	assert.InDelta(t, 0, res.Outperformance, 1e-9)
	assert.Equal(t, 2, res.NumTrades)
	assert.Equal(t, 1, res.NumSells)
	assert.Equal(t, model.PositionCash, res.FinalPosition)
	assert.Equal(t, "level", res.Rule)
	assert.Equal(t, 2, res.BuyThreshold)
	assert.Equal(t, -2, res.SellThreshold)
}

func TestSimulator_ZeroSharesIsNoop(t *testing.T) {
	sim := Simulator{Rule: strategy.Level{Buy: 1, Sell: -1}, InitialCapital: 500}
	res := sim.Run(rows(flat(5, 1000), []int{3, 3, 3, 3, 3}))
	assert.Empty(t, res.Trades)
	assert.Equal(t, model.PositionCash, res.Position)
	assert.InDelta(t, 500, res.FinalValue, 1e-9)
}

func TestWholeShares(t *testing.T) {
	tests := []struct {
		name        string
		cash, price float64
		want        int64
	}{
		{"exact", 10_000_000, 2500, 4000},
		{"floors", 10_000_000, 3000, 3333},
		{"cannot afford", 500, 1000, 0},
		{"zero price", 1000, 0, 0},
		{"negative price", 1000, -5, 0},
		{"nan price", 1000, math.NaN(), 0},
		{"overflows int64", 10_000_000, 1e-300, 0},
		{"infinite quotient", 10_000_000, math.SmallestNonzeroFloat64, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, wholeShares(tc.cash, tc.price))
		})
	}
}

func TestSimulator_TinyPriceSkipsBuy(t *testing.T) {
	r := rows(flat(5, 1e-300), []int{3, 3, 3, 3, 3})
	res := Simulator{Rule: strategy.Level{Buy: 1, Sell: -1}, InitialCapital: DefaultInitialCapital}.Run(r)
	assert.Empty(t, res.Trades)
	assert.Equal(t, model.PositionCash, res.Position)
	assert.Equal(t, int64(0), res.Shares)
}

func TestSimulator_RisingSeries(t *testing.T) {
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	bars := make([]model.Bar, 40)
	for i, c := range closes {
		bars[i] = model.Bar{Ticker: "TEST", Interval: "1d", TS: t0.AddDate(0, 0, i),
			Open: c, High: c + 0.5, Low: c - 0.5, Close: c, Volume: 1000}
	}
	scored, err := scoring.NewScorer(indicator.DefaultConfig()).ScoreBars(bars)
	require.NoError(t, err)

	sim := Simulator{Rule: strategy.Level{Buy: 2, Sell: -2}, InitialCapital: DefaultInitialCapital}
	res := sim.Run(scored)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, model.ActionBuy, res.Trades[0].Action)
	assert.Equal(t, 2, res.Trades[0].Indicator)
	assert.Equal(t, model.PositionHolding, res.Position)

	sim.CloseAtEnd = true
	res = sim.Run(scored)
	require.Len(t, res.Trades, 2)
	assert.True(t, res.Trades[1].Forced)
	assert.InDelta(t, 139, res.Trades[1].Price, 1e-9)

	// Too few complete rows for a full evaluation.
	_, err = Run(context.Background(), scored, DefaultConfig())
	assert.True(t, errors.Is(err, ErrInsufficientData))
}

func TestSimulator_Alternates(t *testing.T) {
	scored := scoredSeries(t, wave(120))
	for _, rule := range []strategy.Rule{strategy.Level{Buy: 1, Sell: -1}, strategy.Level{Buy: 0, Sell: -3}, strategy.Delta{}} {
		res := Simulator{Rule: rule, InitialCapital: DefaultInitialCapital, CloseAtEnd: true}.Run(scored)
		for i, tr := range res.Trades {
			want := model.ActionBuy
			if i%2 == 1 {
				want = model.ActionSell
			}
			assert.Equal(t, want, tr.Action, "%s trade %d", rule.Name(), i)
			assert.GreaterOrEqual(t, tr.Shares, int64(0))
		}
		assert.Equal(t, model.PositionCash, res.Position)
	}
}

func TestRun_OpenPositionMarkedToMarket(t *testing.T) {
	prices := flat(30, 1000)
	prices[29] = 1200
	ind := make([]int, 30)
	ind[0] = 5

	res, err := Run(context.Background(), rows(prices, ind), Config{Rule: strategy.Level{Buy: 2, Sell: -2}})
	require.NoError(t, err)
	assert.Equal(t, model.PositionHolding, res.FinalPosition)
	assert.Equal(t, 0, res.NumSells)
	assert.Equal(t, 0.0, res.WinRate)
	assert.InDelta(t, 20, res.TotalReturnPct, 1e-9)
}

// ────────────────────────────────────────────────────────────
// Evaluator
// ────────────────────────────────────────────────────────────

func TestEvaluate_InsufficientData(t *testing.T) {
	r := rows(flat(29, 1000), make([]int, 29))
	_, err := Run(context.Background(), r, DefaultConfig())
	assert.True(t, errors.Is(err, ErrInsufficientData))

	_, err = Evaluate(nil, SimResult{}, DefaultInitialCapital, DefaultMinBars)
	assert.True(t, errors.Is(err, ErrInsufficientData))
}

func TestRun_TrimsIncompleteRows(t *testing.T) {
	r := rows(flat(35, 1000), make([]int, 35))
	for i := 0; i < 6; i++ {
		r[i].RSI = math.NaN()
	}
	_, err := Run(context.Background(), r, DefaultConfig())
	assert.True(t, errors.Is(err, ErrInsufficientData), "29 complete rows must be rejected")

	r[5].RSI = 50
	res, err := Run(context.Background(), r, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 30, res.Bars)
}

func TestTrim_DiffRestartsAfterWarmUp(t *testing.T) {
	ind := make([]int, 40)
	for i := range ind {
		ind[i] = 1
	}
	ind[10] = 3
	r := rows(flat(40, 1000), ind)
	for i := 0; i < 10; i++ {
		r[i].RSI = math.NaN()
		r[i].Indicator = -1
	}
	r[10].IndicatorDiff = 4 // jump out of warm-up

	trimmed := Trim(r)
	require.Len(t, trimmed, 30)
	assert.Equal(t, 0, trimmed[0].IndicatorDiff)
	assert.Equal(t, -2, trimmed[1].IndicatorDiff)
	assert.Equal(t, 4, r[10].IndicatorDiff, "input must not be modified")

	res, err := RunDelta(context.Background(), r, DefaultConfig())
	require.NoError(t, err)
	assert.Empty(t, res.Trades, "warm-up transition must not trigger a delta buy")
}

func TestEvaluate_BuyHoldKeepsLeftoverCash(t *testing.T) {
	// 10,000,000 / 3000 = 3333 shares, 1000 left over.
	prices := flat(30, 3000)
	res, err := Run(context.Background(), rows(prices, make([]int, 30)), DefaultConfig())
	require.NoError(t, err)
	assert.InDelta(t, 0, res.BuyHoldReturnPct, 1e-9)
	assert.InDelta(t, 0, res.TotalReturnPct, 1e-9)
	assert.Empty(t, res.Trades)
}

func TestEvaluate_WinLossAverages(t *testing.T) {
	r := rows(flat(30, 100), make([]int, 30))
	sim := SimResult{
		FinalValue: DefaultInitialCapital,
		Position:   model.PositionCash,
		Trades: []model.Trade{
			{Action: model.ActionBuy}, {Action: model.ActionSell, PnLPct: 10},
			{Action: model.ActionBuy}, {Action: model.ActionSell, PnLPct: -4},
			{Action: model.ActionBuy}, {Action: model.ActionSell, PnLPct: 0},
			{Action: model.ActionBuy}, {Action: model.ActionSell, PnLPct: 6},
		},
	}
	res, err := Evaluate(r, sim, DefaultInitialCapital, DefaultMinBars)
	require.NoError(t, err)
	assert.Equal(t, 4, res.NumSells)
	assert.InDelta(t, 50, res.WinRate, 1e-9)
	assert.InDelta(t, 8, res.AvgWinPct, 1e-9)
	assert.InDelta(t, -2, res.AvgLossPct, 1e-9)
}

func TestRunDelta(t *testing.T) {
	ind := make([]int, 30)
	prices := flat(30, 100)
	ind[3], prices[3] = 3, 100 // diff +3 → BUY
	ind[4] = 0                 // diff -3 → SELL
	prices[4] = 110
	res, err := RunDelta(context.Background(), rows(prices, ind), DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, "delta", res.Rule)
	require.Len(t, res.Trades, 2)
	assert.InDelta(t, 10, res.Trades[1].PnLPct, 1e-9)
}

// ────────────────────────────────────────────────────────────
// Grid search
// ────────────────────────────────────────────────────────────

func TestGrid_Pairs(t *testing.T) {
	pairs := DefaultGrid().Pairs()
	assert.Len(t, pairs, 52)
	for _, p := range pairs {
		assert.Greater(t, p.Buy, p.Sell)
		assert.GreaterOrEqual(t, p.Sell, -5)
		assert.GreaterOrEqual(t, p.Buy, -2)
		assert.LessOrEqual(t, p.Buy, 5)
	}
}

func TestOptimizer_Search(t *testing.T) {
	scored := scoredSeries(t, wave(60))
	ctx := logger.WithRunID(context.Background(), "grid-test")

	var runs atomic.Int32
	opt := NewOptimizer(Grid{BuyMin: -2, BuyMax: 5, SellMin: -5, Workers: 4}, DefaultConfig())
	opt.OnRun = func(string) { runs.Add(1) }

	results, err := opt.Search(ctx, scored)
	require.NoError(t, err)
	require.Len(t, results, 52)
	assert.Equal(t, int32(52), runs.Load())

	seen := map[Pair]bool{}
	for i, r := range results {
		assert.Greater(t, r.BuyThreshold, r.SellThreshold)
		p := Pair{Buy: r.BuyThreshold, Sell: r.SellThreshold}
		assert.False(t, seen[p], "duplicate pair %v", p)
		seen[p] = true
		assert.Equal(t, "grid-test", r.RunID)
		if i > 0 {
			assert.GreaterOrEqual(t, results[i-1].TotalReturnPct, r.TotalReturnPct)
		}
	}

	// Same input, same ranking regardless of scheduling.
	again, err := NewOptimizer(DefaultGrid(), DefaultConfig()).Search(ctx, scored)
	require.NoError(t, err)
	for i := range results {
		assert.Equal(t, results[i].BuyThreshold, again[i].BuyThreshold)
		assert.Equal(t, results[i].SellThreshold, again[i].SellThreshold)
	}
}

func TestOptimizer_SearchInsufficient(t *testing.T) {
	scored := scoredSeries(t, wave(40))
	_, err := NewOptimizer(DefaultGrid(), DefaultConfig()).Search(context.Background(), scored)
	assert.True(t, errors.Is(err, ErrInsufficientData))
}

func TestRank_TieBreak(t *testing.T) {
	results := []model.StrategyResult{
		{BuyThreshold: 1, SellThreshold: -3, TotalReturnPct: 5, NumTrades: 4, WinRate: 50},
		{BuyThreshold: 2, SellThreshold: -3, TotalReturnPct: 5, NumTrades: 2, WinRate: 50},
		{BuyThreshold: 3, SellThreshold: -1, TotalReturnPct: 5, NumTrades: 2, WinRate: 100},
		{BuyThreshold: 4, SellThreshold: -5, TotalReturnPct: 9, NumTrades: 6, WinRate: 0},
		{BuyThreshold: 2, SellThreshold: -2, TotalReturnPct: 5, NumTrades: 2, WinRate: 50},
	}
	Rank(results)
	got := make([]Pair, len(results))
	for i, r := range results {
		got[i] = Pair{r.BuyThreshold, r.SellThreshold}
	}
	assert.Equal(t, []Pair{{4, -5}, {3, -1}, {2, -2}, {2, -3}, {1, -3}}, got)
}

// ────────────────────────────────────────────────────────────
// Recommendation
// ────────────────────────────────────────────────────────────

func TestRecommend(t *testing.T) {
	ranked := map[string][]model.StrategyResult{
		"AAA": {
			{BuyThreshold: 2, SellThreshold: -2, Outperformance: 5},
			{BuyThreshold: 3, SellThreshold: -2, Outperformance: 4},
			{BuyThreshold: 2, SellThreshold: -1, Outperformance: 3},
			{BuyThreshold: 4, SellThreshold: -4, Outperformance: 2},
		},
		"BBB": {
			{BuyThreshold: 1, SellThreshold: -3, Outperformance: -1},
			{BuyThreshold: 3, SellThreshold: -3, Outperformance: 1},
		},
	}
	rec := Recommend(ranked, 3)
	assert.False(t, rec.Fallback)
	assert.Len(t, rec.Picks, 4)
	// buy: 2→2, 3→2 ; tie goes to the smaller value.
	assert.Equal(t, 2, rec.Buy)
	assert.Equal(t, -2, rec.Sell)
	assert.Equal(t, 2, rec.BuyFreq[3])
}

func TestRecommend_Fallback(t *testing.T) {
	rec := Recommend(map[string][]model.StrategyResult{
		"AAA": {{BuyThreshold: 5, SellThreshold: 4, Outperformance: -2}},
	}, 3)
	assert.True(t, rec.Fallback)
	assert.Equal(t, FallbackBuy, rec.Buy)
	assert.Equal(t, FallbackSell, rec.Sell)
}
