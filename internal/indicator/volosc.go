package indicator

import (
	"strconv"

	"signal-backtest/internal/model"
)

// VolumeOscillator is the percentage gap between a short and a long simple
// average of volume: 100 * (short - long) / long.
// It is NaN until the long average is ready, and whenever the long average is zero.
type VolumeOscillator struct {
	short *SMA
	long  *SMA
}

// NewVolumeOscillator creates a volume oscillator with the given windows.
func NewVolumeOscillator(short, long int) *VolumeOscillator {
	return &VolumeOscillator{
		short: NewSMAOf(short, Volume),
		long:  NewSMAOf(long, Volume),
	}
}

func (v *VolumeOscillator) Name() string {
	return "VOLOSC_" + strconv.Itoa(v.short.period) + "_" + strconv.Itoa(v.long.period)
}

func (v *VolumeOscillator) Update(bar model.Bar) {
	v.short.Update(bar)
	v.long.Update(bar)
}

func (v *VolumeOscillator) Value() float64 {
	if !v.short.Ready() || !v.long.Ready() {
		return nan
	}
	long := v.long.Value()
	if long == 0 {
		return nan
	}
	return (v.short.Value() - long) / long * 100
}

func (v *VolumeOscillator) Ready() bool { return v.long.Ready() }
