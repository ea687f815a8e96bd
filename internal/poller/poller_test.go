package poller

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-backtest/internal/backtest"
	"signal-backtest/internal/indicator"
	"signal-backtest/internal/markethours"
	"signal-backtest/internal/metrics"
	"signal-backtest/internal/model"
	"signal-backtest/internal/notification"
	"signal-backtest/internal/scoring"
	"signal-backtest/internal/strategy"
)

// ── fakes ──

type fakeSource struct {
	bars map[string][]model.Bar
	err  map[string]error
}

func (f *fakeSource) GetBars(_ context.Context, ticker, interval string, count int) ([]model.Bar, error) {
	key := model.SeriesKey(ticker, interval)
	if err := f.err[key]; err != nil {
		return nil, err
	}
	bars, ok := f.bars[key]
	if !ok {
		return nil, model.ErrNoData
	}
	if count > 0 && len(bars) > count {
		bars = bars[len(bars)-count:]
	}
	return bars, nil
}

// memCache round-trips through JSON like the Redis cache does.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	ttl  map[string]time.Duration
}

func newMemCache() *memCache {
	return &memCache{data: map[string][]byte{}, ttl: map[string]time.Duration{}}
}

func (c *memCache) Get(_ context.Context, key string, dst any) (bool, error) {
	c.mu.Lock()
	b, ok := c.data[key]
	c.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dst)
}

func (c *memCache) Set(_ context.Context, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.data[key], c.ttl[key] = b, ttl
	c.mu.Unlock()
	return nil
}

func (c *memCache) Expire(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.data, key)
	c.mu.Unlock()
	return nil
}

type archive struct {
	mu   sync.Mutex
	bars int
}

func (a *archive) WriteBars(_ context.Context, bars []model.Bar) error {
	a.mu.Lock()
	a.bars += len(bars)
	a.mu.Unlock()
	return nil
}

func (a *archive) Close() error { return nil }

type recorder struct {
	mu        sync.Mutex
	alerts    []notification.Alert
	published []string
}

func (r *recorder) Send(_ context.Context, a notification.Alert) error {
	r.mu.Lock()
	r.alerts = append(r.alerts, a)
	r.mu.Unlock()
	return nil
}

func (r *recorder) Publish(_ context.Context, channel string, _ any) error {
	r.mu.Lock()
	r.published = append(r.published, channel)
	r.mu.Unlock()
	return nil
}

// ── helpers ──

var day0 = time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

func rising(ticker, interval string, n int) []model.Bar {
	out := make([]model.Bar, n)
	for i := range out {
		c := 100 + float64(i)
		out[i] = model.Bar{
			Ticker: ticker, Interval: interval, TS: day0.AddDate(0, 0, i),
			Open: c, High: c + 0.5, Low: c - 0.5, Close: c, Volume: 1000,
		}
	}
	return out
}

type harness struct {
	svc   *Service
	src   *fakeSource
	cache *memCache
	rec   *recorder
	prom  *metrics.Metrics
	hc    *metrics.HealthStatus
}

func newHarness(t *testing.T, series []Series, rule strategy.Rule) *harness {
	t.Helper()
	h := &harness{
		src:   &fakeSource{bars: map[string][]model.Bar{}, err: map[string]error{}},
		cache: newMemCache(),
		rec:   &recorder{},
		prom:  metrics.NewMetrics(),
		hc:    metrics.NewHealthStatus(),
	}
	svc, err := New(Config{Series: series, Every: time.Minute, Workers: 2, SourceName: "fake"}, Deps{
		Source:    h.src,
		Scorer:    scoring.NewScorer(indicator.DefaultConfig()),
		Optimizer: backtest.NewOptimizer(backtest.DefaultGrid(), backtest.DefaultConfig()),
		Engine:    strategy.NewEngine(rule),
		Cache:     h.cache,
		Publisher: h.rec,
		Notifier:  h.rec,
		Metrics:   h.prom,
		Health:    h.hc,
	})
	require.NoError(t, err)
	h.svc = svc
	return h
}

func counter(t *testing.T, m *metrics.Metrics, name, label string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, mt := range f.GetMetric() {
			for _, lp := range mt.GetLabel() {
				if lp.GetValue() == label {
					return mt.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

// ── tests ──

func TestNew_RequiresCoreDeps(t *testing.T) {
	_, err := New(Config{}, Deps{})
	assert.Error(t, err)
}

func TestCross(t *testing.T) {
	got := Cross([]string{"A", "B"}, []string{"1d", "4h"})
	assert.Equal(t, []Series{{"A", "1d"}, {"A", "4h"}, {"B", "1d"}, {"B", "4h"}}, got)
}

func TestCycle_RefreshesCachesAndAlerts(t *testing.T) {
	bbca := Series{"BBCA.JK", "1d"}
	h := newHarness(t, []Series{bbca}, strategy.Level{Buy: 1, Sell: -2})
	h.src.bars[bbca.Key()] = rising("BBCA.JK", "1d", 60)

	rep := h.svc.Cycle(context.Background())
	require.Len(t, rep.Outcomes, 1)
	o := rep.Outcomes[0]
	require.NoError(t, o.Err)
	assert.NotEmpty(t, rep.RunID)
	assert.Equal(t, 60, o.Bars)
	assert.Equal(t, 52, o.Results)
	require.NotNil(t, o.Latest)
	assert.Equal(t, 1, o.Latest.Indicator)

	// Cached scored series and ranking round-trip.
	rows, err := h.svc.Scored(context.Background(), bbca)
	require.NoError(t, err)
	assert.Len(t, rows, 60)
	ranked, ok, err := h.svc.Rankings(context.Background(), bbca)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, ranked, 52)
	assert.Equal(t, rep.RunID, ranked[0].RunID)
	assert.Equal(t, time.Minute, h.cache.ttl["scored:BBCA.JK:1d"])

	require.Len(t, o.Signals, 1)
	assert.Equal(t, model.ActionBuy, o.Signals[0].Action)
	require.Len(t, h.rec.alerts, 1)
	assert.Equal(t, "BUY BBCA.JK (1d)", h.rec.alerts[0].Title())
	assert.Equal(t, []string{"pub:signal:BBCA.JK:1d"}, h.rec.published)

	assert.Equal(t, 1.0, counter(t, h.prom, "signal_poll_cycles_total", "ok"))
	assert.Equal(t, 1.0, counter(t, h.prom, "signal_alerts_total", "BUY"))
	assert.Equal(t, 60.0, counter(t, h.prom, "signal_bars_fetched_total", "fake"))
}

func TestCycle_AlertsOncePerBar(t *testing.T) {
	bbca := Series{"BBCA.JK", "1d"}
	h := newHarness(t, []Series{bbca}, strategy.Level{Buy: 1, Sell: -2})
	h.src.bars[bbca.Key()] = rising("BBCA.JK", "1d", 60)

	h.svc.Cycle(context.Background())
	rep := h.svc.Cycle(context.Background())
	assert.Empty(t, rep.Outcomes[0].Signals)
	assert.Len(t, h.rec.alerts, 1)

	h.src.bars[bbca.Key()] = rising("BBCA.JK", "1d", 61)
	rep = h.svc.Cycle(context.Background())
	assert.Len(t, rep.Outcomes[0].Signals, 1)
}

func TestCycle_MissingAndFailingSeriesDoNotStopOthers(t *testing.T) {
	good := Series{"BBCA.JK", "1d"}
	missing := Series{"NONE.JK", "1d"}
	broken := Series{"TLKM.JK", "1h"}
	h := newHarness(t, []Series{good, missing, broken}, strategy.Level{Buy: 2, Sell: -2})
	h.src.bars[good.Key()] = rising("BBCA.JK", "1d", 60)
	h.src.err[broken.Key()] = errors.New("upstream 502")

	rep := h.svc.Cycle(context.Background())
	require.Len(t, rep.Outcomes, 3)
	assert.NoError(t, rep.Outcomes[0].Err)
	assert.True(t, rep.Outcomes[1].Skipped)
	assert.Error(t, rep.Outcomes[2].Err)
	assert.Equal(t, 1, rep.Failed())

	assert.False(t, h.hc.LastPollOK)
	assert.Equal(t, []string{"BBCA.JK:1d"}, h.hc.Series)
	assert.Equal(t, 1.0, counter(t, h.prom, "signal_poll_cycles_total", "error"))
	assert.Equal(t, 1.0, counter(t, h.prom, "signal_fetch_errors_total", "fake"))
}

func TestCycle_ShortSeriesSkipsGridButScores(t *testing.T) {
	sr := Series{"ASII.JK", "1d"}
	h := newHarness(t, []Series{sr}, strategy.Level{Buy: 2, Sell: -2})
	h.src.bars[sr.Key()] = rising("ASII.JK", "1d", 40)

	rep := h.svc.Cycle(context.Background())
	o := rep.Outcomes[0]
	require.NoError(t, o.Err)
	assert.Zero(t, o.Results)
	assert.NotNil(t, o.Latest)
	_, ok, _ := h.svc.Rankings(context.Background(), sr)
	assert.False(t, ok)
}

func TestTick_MarketHoursGate(t *testing.T) {
	sr := Series{"BBCA.JK", "1d"}
	h := newHarness(t, []Series{sr}, strategy.Level{Buy: 2, Sell: -2})
	h.src.bars[sr.Key()] = rising("BBCA.JK", "1d", 60)
	h.svc.deps.Session = markethours.Default()
	h.svc.cfg.MarketHoursOnly = true

	// Saturday morning in Jakarta.
	h.svc.now = func() time.Time { return time.Date(2025, 1, 4, 10, 0, 0, 0, markethours.WIB) }
	_, ran := h.svc.Tick(context.Background())
	assert.False(t, ran)
	assert.Equal(t, 1.0, counter(t, h.prom, "signal_poll_cycles_total", "skipped"))
	assert.False(t, h.hc.MarketOpen)

	// Monday 10:00 WIB.
	h.svc.now = func() time.Time { return time.Date(2025, 1, 6, 10, 0, 0, 0, markethours.WIB) }
	rep, ran := h.svc.Tick(context.Background())
	assert.True(t, ran)
	assert.Len(t, rep.Outcomes, 1)
	assert.True(t, h.hc.MarketOpen)
}

func TestCycle_ArchivesFetchedBars(t *testing.T) {
	sr := Series{"BBCA.JK", "1d"}
	h := newHarness(t, []Series{sr}, strategy.Level{Buy: 2, Sell: -2})
	h.src.bars[sr.Key()] = rising("BBCA.JK", "1d", 45)
	arc := &archive{}
	h.svc.deps.Archive = arc

	h.svc.Cycle(context.Background())
	assert.Equal(t, 45, arc.bars)
}

func TestInvalidate(t *testing.T) {
	sr := Series{"BBCA.JK", "1d"}
	h := newHarness(t, []Series{sr}, strategy.Level{Buy: 2, Sell: -2})
	h.src.bars[sr.Key()] = rising("BBCA.JK", "1d", 60)
	h.svc.Cycle(context.Background())

	require.NoError(t, h.svc.Invalidate(context.Background(), sr))
	_, ok, err := h.svc.Rankings(context.Background(), sr)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRun_StopsOnCancel(t *testing.T) {
	h := newHarness(t, nil, strategy.Level{Buy: 2, Sell: -2})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, h.svc.Run(ctx), context.Canceled)
}
