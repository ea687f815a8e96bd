// Package resample aggregates bars into a coarser timeframe.
// Buckets are aligned to the Unix epoch (bucket start = ts - ts%tf), so 4h
// buckets start at 00:00, 04:00, ... UTC.
package resample

import (
	"time"

	"signal-backtest/internal/model"
)

// Bars folds ascending bars into tf-wide buckets labelled interval.
// Open is the first open, High the max, Low the min, Close the last close
// and Volume the sum. Buckets with no input bars are not emitted, and input
// must already be sorted.
func Bars(bars []model.Bar, tf time.Duration, interval string) []model.Bar {
	secs := int64(tf / time.Second)
	if secs <= 0 || len(bars) == 0 {
		return nil
	}

	out := make([]model.Bar, 0, len(bars))
	var cur model.Bar
	var bucket int64
	started := false

	for _, b := range bars {
		ts := b.TS.Unix()
		bk := ts - ts%secs

		if started && bk == bucket {
			if b.High > cur.High {
				cur.High = b.High
			}
			if b.Low < cur.Low {
				cur.Low = b.Low
			}
			cur.Close = b.Close
			cur.Volume += b.Volume
			continue
		}

		if started {
			out = append(out, cur)
		}
		bucket = bk
		started = true
		cur = model.Bar{
			Ticker:   b.Ticker,
			Interval: interval,
			TS:       time.Unix(bk, 0).In(b.TS.Location()),
			Open:     b.Open,
			High:     b.High,
			Low:      b.Low,
			Close:    b.Close,
			Volume:   b.Volume,
		}
	}
	if started {
		out = append(out, cur)
	}
	return out
}
