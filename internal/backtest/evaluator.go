package backtest

import (
	"errors"
	"math"

	"signal-backtest/internal/model"
)

// DefaultInitialCapital is the starting cash of every run unless configured.
const DefaultInitialCapital = 10_000_000

// DefaultMinBars is the shortest complete series a run will evaluate.
const DefaultMinBars = 30

// ErrInsufficientData is returned when a series is too short to evaluate.
// Callers omit the run from any ranking rather than failing the batch.
var ErrInsufficientData = errors.New("insufficient data")

// Evaluate reduces a simulation over rows into a StrategyResult.
// rows must be the exact slice the simulation ran over.
func Evaluate(rows []model.ScoredBar, sim SimResult, initialCapital float64, minBars int) (*model.StrategyResult, error) {
	if len(rows) < minBars || len(rows) == 0 {
		return nil, ErrInsufficientData
	}
	first, last := rows[0].Price(), rows[len(rows)-1].Price()

	res := &model.StrategyResult{
		Ticker:         rows[0].Ticker,
		Interval:       rows[0].Interval,
		InitialCapital: initialCapital,
		FinalValue:     sim.FinalValue,
		TotalReturnPct: pct(sim.FinalValue, initialCapital),
		NumTrades:      len(sim.Trades),
		FinalPosition:  sim.Position,
		Bars:           len(rows),
		Trades:         sim.Trades,
	}
	res.BuyHoldReturnPct = pct(buyHoldValue(initialCapital, first, last), initialCapital)
	res.Outperformance = res.TotalReturnPct - res.BuyHoldReturnPct

	var wins, losses []float64
	for _, t := range sim.Trades {
		if t.Action != model.ActionSell {
			continue
		}
		res.NumSells++
		if t.PnLPct > 0 {
			wins = append(wins, t.PnLPct)
		} else {
			losses = append(losses, t.PnLPct)
		}
	}
	if res.NumSells > 0 {
		res.WinRate = float64(len(wins)) / float64(res.NumSells) * 100
	}
	res.AvgWinPct = mean(wins)
	res.AvgLossPct = mean(losses)
	return res, nil
}

// buyHoldValue invests everything at first and liquidates at last.
// Cash left over from whole-share flooring is kept.
func buyHoldValue(capital, first, last float64) float64 {
	if first <= 0 {
		return capital
	}
	shares := math.Floor(capital / first)
	return shares*last + (capital - shares*first)
}

func pct(value, base float64) float64 {
	if base == 0 {
		return 0
	}
	return (value - base) / base * 100
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
