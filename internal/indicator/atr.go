package indicator

import (
	"math"
	"strconv"

	"signal-backtest/internal/model"
)

// ATR is the Average True Range, Wilder-smoothed over period bars.
// The first bar has no previous close, so its true range is high-low.
type ATR struct {
	period    int
	smma      *SMMA
	prevClose float64
	seen      bool
}

// NewATR creates an ATR with the given period.
func NewATR(period int) *ATR {
	return &ATR{period: period, smma: NewSMMA(period)}
}

func (a *ATR) Name() string { return "ATR_" + strconv.Itoa(a.period) }

func (a *ATR) Update(bar model.Bar) {
	tr := bar.High - bar.Low
	if a.seen {
		tr = math.Max(tr, math.Max(math.Abs(bar.High-a.prevClose), math.Abs(bar.Low-a.prevClose)))
	}
	a.prevClose = bar.Close
	a.seen = true
	a.smma.Add(tr)
}

func (a *ATR) Value() float64 { return a.smma.Value() }
func (a *ATR) Ready() bool    { return a.smma.Ready() }
