// Package indicator provides technical indicator calculations over bar data.
//
// All indicators implement the Indicator interface, receiving bars in
// ascending time order and producing float64 values. Values are NaN until
// the indicator has seen enough bars; callers never see a zero placeholder.
package indicator

import (
	"math"

	"signal-backtest/internal/model"
)

// Indicator is the interface for all streaming technical indicators.
type Indicator interface {
	// Name returns the indicator name (e.g., "SMA_5", "RSI_14").
	Name() string

	// Update feeds the next bar and recalculates.
	Update(bar model.Bar)

	// Value returns the current calculated value. Returns NaN if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool
}

// Field selects the bar value an indicator consumes.
type Field func(b model.Bar) float64

// Close selects the bar close.
func Close(b model.Bar) float64 { return b.Close }

// Volume selects the bar volume.
func Volume(b model.Bar) float64 { return b.Volume }

var nan = math.NaN()
