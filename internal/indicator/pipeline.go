package indicator

import (
	"time"

	"signal-backtest/internal/model"
)

// Config specifies the windows used by the pipeline.
type Config struct {
	ShortMA         int     `yaml:"short_ma"`
	LongMA          int     `yaml:"long_ma"`
	RSIPeriod       int     `yaml:"rsi_period"`
	TrendLength     int     `yaml:"trend_length"`
	TrendMultiplier float64 `yaml:"trend_multiplier"`
	VolShort        int     `yaml:"vol_short"`
	VolLong         int     `yaml:"vol_long"`
}

// DefaultConfig returns MA 5/10, RSI 14, SuperTrend 10x3, volume 5/10.
func DefaultConfig() Config {
	return Config{
		ShortMA:         5,
		LongMA:          10,
		RSIPeriod:       14,
		TrendLength:     10,
		TrendMultiplier: 3,
		VolShort:        5,
		VolLong:         10,
	}
}

// WarmUp returns the number of leading bars before every indicator is defined.
func (c Config) WarmUp() int {
	n := c.RSIPeriod
	for _, w := range []int{c.LongMA - 1, c.TrendLength - 1, c.VolLong - 1} {
		if w > n {
			n = w
		}
	}
	return n
}

// Pipeline turns a bar series into scored bars with every indicator column set.
// It holds no state between calls; each Compute builds fresh indicators.
type Pipeline struct {
	cfg Config

	// Metrics hook (optional)
	OnCompute func(bars int, d time.Duration)
}

// NewPipeline creates a pipeline. Zero-valued config fields take defaults.
func NewPipeline(cfg Config) *Pipeline {
	def := DefaultConfig()
	if cfg.ShortMA <= 0 {
		cfg.ShortMA = def.ShortMA
	}
	if cfg.LongMA <= 0 {
		cfg.LongMA = def.LongMA
	}
	if cfg.RSIPeriod <= 0 {
		cfg.RSIPeriod = def.RSIPeriod
	}
	if cfg.TrendLength <= 0 {
		cfg.TrendLength = def.TrendLength
	}
	if cfg.TrendMultiplier <= 0 {
		cfg.TrendMultiplier = def.TrendMultiplier
	}
	if cfg.VolShort <= 0 {
		cfg.VolShort = def.VolShort
	}
	if cfg.VolLong <= 0 {
		cfg.VolLong = def.VolLong
	}
	return &Pipeline{cfg: cfg}
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Compute runs every indicator over bars in a single forward pass.
// Output has the same length and order as the input. Score fields are left
// zero for the scorer to fill. An empty input returns an empty slice and
// model.ErrNoData.
func (p *Pipeline) Compute(bars []model.Bar) ([]model.ScoredBar, error) {
	if len(bars) == 0 {
		return []model.ScoredBar{}, model.ErrNoData
	}
	start := time.Now()

	maShort := NewSMA(p.cfg.ShortMA)
	maLong := NewSMA(p.cfg.LongMA)
	rsi := NewRSI(p.cfg.RSIPeriod)
	trend := NewSuperTrend(p.cfg.TrendLength, p.cfg.TrendMultiplier)
	vol := NewVolumeOscillator(p.cfg.VolShort, p.cfg.VolLong)
	all := []Indicator{maShort, maLong, rsi, trend, vol}

	out := make([]model.ScoredBar, len(bars))
	for i, b := range bars {
		for _, ind := range all {
			ind.Update(b)
		}
		out[i] = model.ScoredBar{
			Bar:        b,
			MA5:        maShort.Value(),
			MA10:       maLong.Value(),
			RSI:        rsi.Value(),
			SuperTrend: trend.Value(),
			Trend:      trend.Direction(),
			VolOsc:     vol.Value(),
			VolLabel:   model.LabelNA,
		}
	}

	if p.OnCompute != nil {
		p.OnCompute(len(bars), time.Since(start))
	}
	return out, nil
}
