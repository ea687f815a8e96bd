package indicator

import (
	"strconv"

	"signal-backtest/internal/model"
)

// SMA calculates Simple Moving Average over a rolling window held in a
// preallocated circular buffer. The window is re-summed on every value, so
// no rounding error carries over between updates, and a window of identical
// values averages to exactly that value.
type SMA struct {
	period  int
	field   Field
	buf     []float64 // preallocated circular buffer
	idx     int       // current write position
	count   int       // total values received
	same    int       // trailing run of values equal to last
	last    float64
	current float64
}

// NewSMA creates an SMA over closes with the given period.
func NewSMA(period int) *SMA {
	return NewSMAOf(period, Close)
}

// NewSMAOf creates an SMA over an arbitrary bar field (e.g. Volume).
func NewSMAOf(period int, field Field) *SMA {
	return &SMA{
		period:  period,
		field:   field,
		buf:     make([]float64, period),
		current: nan,
	}
}

func (s *SMA) Name() string { return "SMA_" + strconv.Itoa(s.period) }

func (s *SMA) Update(bar model.Bar) { s.Add(s.field(bar)) }

// Add pushes a raw value into the window.
func (s *SMA) Add(v float64) {
	if s.count > 0 && v == s.last {
		s.same++
	} else {
		s.same = 1
	}
	s.last = v

	s.buf[s.idx] = v
	s.idx = (s.idx + 1) % s.period
	s.count++

	switch {
	case s.count < s.period:
		return
	case s.same >= s.period:
		s.current = v
	default:
		var sum float64
		for _, x := range s.buf {
			sum += x
		}
		s.current = sum / float64(s.period)
	}
}

func (s *SMA) Value() float64 { return s.current }
func (s *SMA) Ready() bool    { return s.count >= s.period }

// Reset clears the SMA state for reuse.
func (s *SMA) Reset() {
	s.idx = 0
	s.count = 0
	s.same = 0
	s.last = 0
	s.current = nan
	for i := range s.buf {
		s.buf[i] = 0
	}
}
