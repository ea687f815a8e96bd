package indicator

import (
	"strconv"

	"signal-backtest/internal/model"
)

// SuperTrend tracks a trailing ATR band around the bar midpoint.
//
// Direction is +1 (bullish) or -1 (bearish) once the ATR is ready and 0
// before. The direction flips when the close crosses the previous bar's
// opposite band; while a direction holds, its band only ratchets in the
// trend's favour. State carries forward bar to bar, so a SuperTrend must be
// fed every bar of a series exactly once, in order.
type SuperTrend struct {
	length     int
	multiplier float64
	atr        *ATR

	upper     float64
	lower     float64
	direction int
	line      float64
}

// NewSuperTrend creates a SuperTrend with the given ATR length and band multiplier.
func NewSuperTrend(length int, multiplier float64) *SuperTrend {
	return &SuperTrend{
		length:     length,
		multiplier: multiplier,
		atr:        NewATR(length),
		line:       nan,
	}
}

func (s *SuperTrend) Name() string {
	return "SUPERTREND_" + strconv.Itoa(s.length) + "_" + strconv.FormatFloat(s.multiplier, 'f', -1, 64)
}

func (s *SuperTrend) Update(bar model.Bar) {
	s.atr.Update(bar)
	if !s.atr.Ready() {
		return
	}

	mid := (bar.High + bar.Low) / 2
	band := s.multiplier * s.atr.Value()
	upper := mid + band
	lower := mid - band

	if s.direction == 0 {
		// Seed bar: no previous bands to compare against.
		s.upper, s.lower, s.direction = upper, lower, 1
		s.line = lower
		return
	}

	dir := s.direction
	if bar.Close > s.upper {
		dir = 1
	} else if bar.Close < s.lower {
		dir = -1
	}

	if dir > 0 && lower < s.lower {
		lower = s.lower
	}
	if dir < 0 && upper > s.upper {
		upper = s.upper
	}

	s.upper, s.lower, s.direction = upper, lower, dir
	if dir > 0 {
		s.line = lower
	} else {
		s.line = upper
	}
}

// Value returns the active band (lower when bullish, upper when bearish).
func (s *SuperTrend) Value() float64 { return s.line }

// Direction returns +1, -1, or 0 before warm-up.
func (s *SuperTrend) Direction() int { return s.direction }

func (s *SuperTrend) Ready() bool { return s.direction != 0 }
