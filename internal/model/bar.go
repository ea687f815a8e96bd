package model

import (
	"encoding/json"
	"math"
	"time"
)

// Bar is one OHLCV sample for a fixed interval.
// Bars are produced once per fetch and never mutated afterwards.
type Bar struct {
	Ticker   string    `json:"ticker"`
	Interval string    `json:"interval"` // e.g. "1d", "1h", "4h"
	TS       time.Time `json:"ts"`       // bucket start time
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Price is the value every score compares against (the close).
func (b *Bar) Price() float64 { return b.Close }

// Key returns "ticker:interval".
func (b *Bar) Key() string {
	return SeriesKey(b.Ticker, b.Interval)
}

// SeriesKey builds the key shared by every bar of one ticker/interval series.
func SeriesKey(ticker, interval string) string {
	return ticker + ":" + interval
}

// VolOscLabel classifies volume flow against price position.
type VolOscLabel string

const (
	LabelStrong         VolOscLabel = "STRONG"
	LabelBearishStrong  VolOscLabel = "BEARISH-STRONG"
	LabelAccum          VolOscLabel = "ACCUM"
	LabelConfirmBearish VolOscLabel = "CONFIRM-BEARISH"
	LabelUp             VolOscLabel = "UP"
	LabelDown           VolOscLabel = "DOWN"
	LabelNA             VolOscLabel = "N/A"
)

// ScoredBar is a Bar plus every derived indicator and score.
// Undefined float fields hold NaN, never zero. Trend is 0 until the
// trend indicator has warmed up.
type ScoredBar struct {
	Bar

	MA5        float64     `json:"ma_5"`
	MA10       float64     `json:"ma_10"`
	RSI        float64     `json:"rsi"`
	SuperTrend float64     `json:"supertrend"` // active band value
	Trend      int         `json:"trend"`      // +1 bullish, -1 bearish, 0 undefined
	VolOsc     float64     `json:"vol_osc"`
	VolLabel   VolOscLabel `json:"vol_osc_result"`

	ScoreMA5    int `json:"score_ma5"`
	ScoreMA10   int `json:"score_ma10"`
	ScoreRSI    int `json:"score_rsi"`
	ScoreTrend  int `json:"score_supertrend"`
	ScoreVolOsc int `json:"score_vol_osc"`

	Indicator     int `json:"indicator"`      // sum of the five scores, [-5, 5]
	IndicatorDiff int `json:"indicator_diff"` // Indicator(t) - Indicator(t-1), 0 at t=0
}

// Complete reports whether every indicator on the bar is defined.
func (s *ScoredBar) Complete() bool {
	return !math.IsNaN(s.MA5) && !math.IsNaN(s.MA10) && !math.IsNaN(s.RSI) &&
		!math.IsNaN(s.VolOsc) && s.Trend != 0
}

// MarshalJSON writes undefined values as null; encoding/json rejects NaN.
func (s ScoredBar) MarshalJSON() ([]byte, error) {
	type alias ScoredBar
	return json.Marshal(struct {
		alias
		MA5        *float64 `json:"ma_5"`
		MA10       *float64 `json:"ma_10"`
		RSI        *float64 `json:"rsi"`
		SuperTrend *float64 `json:"supertrend"`
		VolOsc     *float64 `json:"vol_osc"`
	}{
		alias:      alias(s),
		MA5:        nullable(s.MA5),
		MA10:       nullable(s.MA10),
		RSI:        nullable(s.RSI),
		SuperTrend: nullable(s.SuperTrend),
		VolOsc:     nullable(s.VolOsc),
	})
}

// UnmarshalJSON restores nulls as NaN.
func (s *ScoredBar) UnmarshalJSON(data []byte) error {
	type alias ScoredBar
	aux := struct {
		*alias
		MA5        *float64 `json:"ma_5"`
		MA10       *float64 `json:"ma_10"`
		RSI        *float64 `json:"rsi"`
		SuperTrend *float64 `json:"supertrend"`
		VolOsc     *float64 `json:"vol_osc"`
	}{alias: (*alias)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	s.MA5 = orNaN(aux.MA5)
	s.MA10 = orNaN(aux.MA10)
	s.RSI = orNaN(aux.RSI)
	s.SuperTrend = orNaN(aux.SuperTrend)
	s.VolOsc = orNaN(aux.VolOsc)
	return nil
}

func nullable(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func orNaN(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}
