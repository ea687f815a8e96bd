package scoring

import (
	"math"

	"signal-backtest/internal/indicator"
	"signal-backtest/internal/model"
)

// Score fills the volume label, the five per-indicator scores, Indicator and
// IndicatorDiff on every row. It writes only into rows; bars are not reordered.
func Score(rows []model.ScoredBar) {
	prev := 0
	for i := range rows {
		r := &rows[i]
		price := r.Price()

		r.VolLabel = Label(price, r.MA5, r.MA10, r.VolOsc)
		r.ScoreMA5 = ScoreMA(price, r.MA5)
		r.ScoreMA10 = ScoreMA(price, r.MA10)
		r.ScoreRSI = ScoreRSI(r.RSI)
		r.ScoreTrend = ScoreTrend(r.Trend)
		r.ScoreVolOsc = ScoreLabel(r.VolLabel)

		r.Indicator = r.ScoreMA5 + r.ScoreMA10 + r.ScoreRSI + r.ScoreTrend + r.ScoreVolOsc
		if i > 0 {
			r.IndicatorDiff = r.Indicator - prev
		} else {
			r.IndicatorDiff = 0
		}
		prev = r.Indicator
	}
}

// Scorer runs the indicator pipeline and scores its output.
type Scorer struct {
	pipeline *indicator.Pipeline
}

// NewScorer creates a scorer over the given indicator configuration.
func NewScorer(cfg indicator.Config) *Scorer {
	return &Scorer{pipeline: indicator.NewPipeline(cfg)}
}

// Pipeline exposes the underlying pipeline (for hooks).
func (s *Scorer) Pipeline() *indicator.Pipeline { return s.pipeline }

// ScoreBars derives a fully scored series from bars.
// An empty input returns an empty slice and model.ErrNoData.
func (s *Scorer) ScoreBars(bars []model.Bar) ([]model.ScoredBar, error) {
	rows, err := s.pipeline.Compute(bars)
	if err != nil {
		return rows, err
	}
	Score(rows)
	return rows, nil
}

// Outlook summarizes a bar as BULLISH, BEARISH or NEUTRAL by counting MA5 vs
// MA10, the trend direction and the UP/DOWN volume labels.
type Outlook string

const (
	Bullish Outlook = "BULLISH"
	Bearish Outlook = "BEARISH"
	Neutral Outlook = "NEUTRAL"
)

// OutlookOf counts bullish and bearish votes on a single row.
func OutlookOf(r model.ScoredBar) Outlook {
	bull, bear := 0, 0
	if !math.IsNaN(r.MA5) && !math.IsNaN(r.MA10) {
		if r.MA5 > r.MA10 {
			bull++
		} else {
			bear++
		}
	}
	switch {
	case r.Trend > 0:
		bull++
	case r.Trend < 0:
		bear++
	}
	switch r.VolLabel {
	case model.LabelUp:
		bull++
	case model.LabelDown:
		bear++
	}

	switch {
	case bull > bear:
		return Bullish
	case bear > bull:
		return Bearish
	default:
		return Neutral
	}
}

// Distribution counts rows per composite Indicator value.
func Distribution(rows []model.ScoredBar) map[int]int {
	out := make(map[int]int, 11)
	for _, r := range rows {
		out[r.Indicator]++
	}
	return out
}
