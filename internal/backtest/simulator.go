// Package backtest simulates rule-driven trading over a scored series and
// evaluates the outcome against a buy-and-hold baseline.
package backtest

import (
	"math"

	"signal-backtest/internal/model"
	"signal-backtest/internal/strategy"
)

// Simulator is the two-state (CASH / HOLDING) position machine.
// A Simulator holds configuration only; every Run starts from cash.
type Simulator struct {
	Rule           strategy.Rule
	InitialCapital float64

	// CloseAtEnd force-sells a position still held after the last bar.
	// When false the position stays open and is marked to market in
	// FinalValue but excluded from realized-trade statistics.
	CloseAtEnd bool
}

// SimResult is the raw outcome of one simulation pass.
type SimResult struct {
	Trades     []model.Trade
	Cash       float64
	Shares     int64
	Position   model.Position
	FinalValue float64 // cash + shares at the last bar's price
}

// Run walks rows in order, evaluating at most one signal per bar.
// A BUY that cannot afford a single share, or whose share count does not
// fit an int64, is skipped.
func (s Simulator) Run(rows []model.ScoredBar) SimResult {
	res := SimResult{Cash: s.InitialCapital, Position: model.PositionCash}
	if len(rows) == 0 {
		res.FinalValue = res.Cash
		return res
	}

	var buyPrice float64
	for _, r := range rows {
		price := r.Price()
		switch res.Position {
		case model.PositionCash:
			if !s.Rule.ShouldBuy(r) {
				continue
			}
			shares := wholeShares(res.Cash, price)
			if shares <= 0 {
				continue
			}
			res.Cash -= float64(shares) * price
			res.Shares = shares
			res.Position = model.PositionHolding
			buyPrice = price
			res.Trades = append(res.Trades, model.Trade{
				TS: r.TS, Action: model.ActionBuy, Price: price, Shares: shares,
				Indicator: r.Indicator, Diff: r.IndicatorDiff,
			})

		case model.PositionHolding:
			if !s.Rule.ShouldSell(r) {
				continue
			}
			res.Trades = append(res.Trades, s.sell(&res, r, buyPrice, false))
		}
	}

	last := rows[len(rows)-1]
	if res.Position == model.PositionHolding && s.CloseAtEnd {
		res.Trades = append(res.Trades, s.sell(&res, last, buyPrice, true))
	}
	res.FinalValue = res.Cash + float64(res.Shares)*last.Price()
	return res
}

func (s Simulator) sell(res *SimResult, r model.ScoredBar, buyPrice float64, forced bool) model.Trade {
	price := r.Price()
	shares := res.Shares
	res.Cash += float64(shares) * price
	res.Shares = 0
	res.Position = model.PositionCash
	return model.Trade{
		TS: r.TS, Action: model.ActionSell, Price: price, Shares: shares,
		Indicator: r.Indicator, Diff: r.IndicatorDiff,
		PnL:    (price - buyPrice) * float64(shares),
		PnLPct: (price - buyPrice) / buyPrice * 100,
		Forced: forced,
	}
}

// wholeShares is floor(cash/price), or 0 when the price is not positive or
// the quotient is not a representable share count.
func wholeShares(cash, price float64) int64 {
	if !(price > 0) {
		return 0
	}
	q := math.Floor(cash / price)
	if !(q >= 1) || q >= math.MaxInt64 {
		return 0
	}
	return int64(q)
}
