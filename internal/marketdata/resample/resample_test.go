package resample

import (
	"testing"
	"time"

	"signal-backtest/internal/model"
)

func hourBar(h int, open, high, low, close, vol float64) model.Bar {
	return model.Bar{
		Ticker: "TEST", Interval: "60m",
		TS:   time.Date(2026, 3, 10, h, 0, 0, 0, time.UTC),
		Open: open, High: high, Low: low, Close: close, Volume: vol,
	}
}

func TestBars_FourHour(t *testing.T) {
	in := []model.Bar{
		hourBar(2, 10, 12, 9, 11, 100),
		hourBar(3, 11, 15, 10, 14, 200),
		hourBar(4, 14, 16, 13, 15, 50),
		hourBar(5, 15, 15, 8, 9, 70),
		hourBar(7, 9, 10, 7, 8, 30),
		// 08:00-11:59 has no bars
		hourBar(13, 20, 21, 19, 20, 10),
	}
	out := Bars(in, 4*time.Hour, "4h")
	if len(out) != 3 {
		t.Fatalf("expected 3 buckets, got %d", len(out))
	}

	first := out[0]
	if !first.TS.Equal(time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("first bucket TS = %v", first.TS)
	}
	if first.Open != 10 || first.High != 15 || first.Low != 9 || first.Close != 14 || first.Volume != 300 {
		t.Errorf("first bucket OHLCV wrong: %+v", first)
	}
	if first.Interval != "4h" {
		t.Errorf("interval = %q", first.Interval)
	}

	second := out[1]
	if second.Open != 14 || second.High != 16 || second.Low != 7 || second.Close != 8 || second.Volume != 150 {
		t.Errorf("second bucket OHLCV wrong: %+v", second)
	}

	if !out[2].TS.Equal(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("third bucket TS = %v", out[2].TS)
	}
}

func TestBars_Empty(t *testing.T) {
	if out := Bars(nil, time.Hour, "1h"); out != nil {
		t.Fatalf("expected nil, got %v", out)
	}
	if out := Bars([]model.Bar{hourBar(1, 1, 1, 1, 1, 1)}, 0, "x"); out != nil {
		t.Fatalf("expected nil for zero tf, got %v", out)
	}
}
