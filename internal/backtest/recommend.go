package backtest

import (
	"sort"

	"signal-backtest/internal/model"
)

// Fallback thresholds when no strategy beat buy-and-hold.
const (
	FallbackBuy  = 2
	FallbackSell = -2
)

// Recommendation aggregates the best thresholds across tickers.
type Recommendation struct {
	Buy      int
	Sell     int
	BuyFreq  map[int]int
	SellFreq map[int]int
	Picks    []Pick
	Fallback bool // true when nothing outperformed
}

// Pick is one outperforming strategy that fed the recommendation.
type Pick struct {
	Ticker         string
	Buy            int
	Sell           int
	Outperformance float64
	WinRate        float64
}

// Recommend takes the first topN outperformers (outperformance > 0) of each
// ticker's ranked results and returns the most common buy and sell
// thresholds among them. Ties go to the smaller threshold.
func Recommend(ranked map[string][]model.StrategyResult, topN int) Recommendation {
	rec := Recommendation{BuyFreq: map[int]int{}, SellFreq: map[int]int{}}

	tickers := make([]string, 0, len(ranked))
	for t := range ranked {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	for _, t := range tickers {
		n := 0
		for _, r := range ranked[t] {
			if n >= topN {
				break
			}
			if r.Outperformance <= 0 {
				continue
			}
			n++
			rec.Picks = append(rec.Picks, Pick{
				Ticker: t, Buy: r.BuyThreshold, Sell: r.SellThreshold,
				Outperformance: r.Outperformance, WinRate: r.WinRate,
			})
			rec.BuyFreq[r.BuyThreshold]++
			rec.SellFreq[r.SellThreshold]++
		}
	}

	if len(rec.Picks) == 0 {
		rec.Buy, rec.Sell, rec.Fallback = FallbackBuy, FallbackSell, true
		return rec
	}
	rec.Buy = mode(rec.BuyFreq)
	rec.Sell = mode(rec.SellFreq)
	return rec
}

func mode(freq map[int]int) int {
	best, bestN, first := 0, 0, true
	for v, n := range freq {
		if first || n > bestN || (n == bestN && v < best) {
			best, bestN, first = v, n, false
		}
	}
	return best
}
