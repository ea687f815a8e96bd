// Package scoring discretizes indicator values into {-1, 0, +1} scores and
// sums them into the composite Indicator.
package scoring

import (
	"math"

	"signal-backtest/internal/model"
)

// Volume oscillator bands used by Label.
const (
	VolStrong = 20.0
	VolWeak   = -15.0
)

// ScoreMA compares price against a moving average.
// Equal or undefined values score 0.
func ScoreMA(price, ma float64) int {
	switch {
	case math.IsNaN(ma) || math.IsNaN(price):
		return 0
	case price > ma:
		return 1
	case price < ma:
		return -1
	default:
		return 0
	}
}

// ScoreRSI scores RSI: overbought (>75) and oversold (<=30) are both -1,
// the 50..75 band is +1, and 30..50 is neutral.
func ScoreRSI(rsi float64) int {
	switch {
	case math.IsNaN(rsi):
		return 0
	case rsi > 75:
		return -1
	case rsi <= 30:
		return -1
	case rsi >= 50:
		return 1
	default:
		return 0
	}
}

// ScoreTrend maps the SuperTrend direction onto a score.
func ScoreTrend(dir int) int {
	switch {
	case dir > 0:
		return 1
	case dir < 0:
		return -1
	default:
		return 0
	}
}

// Label classifies the volume oscillator against price position relative to
// both moving averages. Any undefined input yields N/A.
func Label(price, maShort, maLong, osc float64) model.VolOscLabel {
	if math.IsNaN(price) || math.IsNaN(maShort) || math.IsNaN(maLong) || math.IsNaN(osc) {
		return model.LabelNA
	}
	above := price > maShort && price > maLong
	below := price < maShort && price < maLong

	switch {
	case above && osc >= VolStrong:
		return model.LabelStrong
	case above && osc <= VolWeak:
		return model.LabelBearishStrong
	case below && osc >= VolStrong:
		return model.LabelAccum
	case below && osc <= VolWeak:
		return model.LabelConfirmBearish
	case osc > 0:
		return model.LabelUp
	default:
		return model.LabelDown
	}
}

var labelScores = map[model.VolOscLabel]int{
	model.LabelStrong:         1,
	model.LabelAccum:          1,
	model.LabelUp:             1,
	model.LabelBearishStrong:  -1,
	model.LabelConfirmBearish: -1,
	model.LabelDown:           -1,
}

// ScoreLabel maps a volume label onto a score. N/A and unknown labels score 0.
func ScoreLabel(l model.VolOscLabel) int {
	return labelScores[l]
}
