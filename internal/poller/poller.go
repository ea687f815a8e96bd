// Package poller keeps scored series and grid rankings fresh. On every tick
// it fetches each configured series, scores it, grid-searches thresholds,
// caches the outcome with a TTL, and raises alerts for rules that fire on
// the newest bar.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"signal-backtest/internal/backtest"
	"signal-backtest/internal/logger"
	"signal-backtest/internal/markethours"
	"signal-backtest/internal/metrics"
	"signal-backtest/internal/model"
	"signal-backtest/internal/notification"
	"signal-backtest/internal/scoring"
	rediscache "signal-backtest/internal/store/redis"
	"signal-backtest/internal/strategy"
)

// Series names one ticker/interval pair to refresh.
type Series struct {
	Ticker   string
	Interval string
}

func (s Series) Key() string { return model.SeriesKey(s.Ticker, s.Interval) }

// Cross builds every ticker × interval pair.
func Cross(tickers, intervals []string) []Series {
	out := make([]Series, 0, len(tickers)*len(intervals))
	for _, t := range tickers {
		for _, iv := range intervals {
			out = append(out, Series{Ticker: t, Interval: iv})
		}
	}
	return out
}

// Publisher broadcasts live signals.
type Publisher interface {
	Publish(ctx context.Context, channel string, v any) error
}

// Config controls the refresh loop.
type Config struct {
	Series          []Series
	Bars            int           // most recent bars fetched per series, 0 = all
	Every           time.Duration // poll period
	TTL             time.Duration // cache expiry
	Workers         int           // concurrent series, 0 = GOMAXPROCS
	MarketHoursOnly bool
	SourceName      string // metrics label for the bar source
}

// Deps are the collaborators. Source, Scorer and Optimizer are required;
// every other field may be nil.
type Deps struct {
	Source    model.BarSource
	Scorer    *scoring.Scorer
	Optimizer *backtest.Optimizer
	Engine    *strategy.Engine
	Cache     model.ResultCache
	Archive   model.BarWriter // fetched bars are copied here when set
	Publisher Publisher
	Notifier  notification.Notifier
	Session   *markethours.Session
	Metrics   *metrics.Metrics
	Health    *metrics.HealthStatus
}

// Service runs the poll loop.
type Service struct {
	cfg  Config
	deps Deps
	now  func() time.Time

	mu        sync.Mutex
	lastBarTS map[string]time.Time // newest bar already alerted on, per series
}

// Outcome is the per-series result of one refresh.
type Outcome struct {
	Series  Series
	Bars    int
	Results int
	Latest  *model.ScoredBar
	Signals []strategy.Signal
	Skipped bool // no data upstream
	Err     error
}

// CycleReport summarizes one poll cycle.
type CycleReport struct {
	RunID    string
	Outcomes []Outcome
}

// Failed counts series that ended in an error.
func (r CycleReport) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err != nil {
			n++
		}
	}
	return n
}

// New validates deps and fills defaults.
func New(cfg Config, deps Deps) (*Service, error) {
	if deps.Source == nil || deps.Scorer == nil || deps.Optimizer == nil {
		return nil, errors.New("poller: source, scorer and optimizer are required")
	}
	if cfg.Every <= 0 {
		cfg.Every = 5 * time.Minute
	}
	if cfg.TTL <= 0 {
		cfg.TTL = cfg.Every
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.SourceName == "" {
		cfg.SourceName = "default"
	}
	if deps.Notifier == nil {
		deps.Notifier = notification.NewLogNotifier()
	}
	if deps.Engine == nil {
		deps.Engine = strategy.NewEngine()
	}
	return &Service{
		cfg:       cfg,
		deps:      deps,
		now:       time.Now,
		lastBarTS: make(map[string]time.Time),
	}, nil
}

// Run polls until ctx is cancelled. The first cycle starts immediately.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Every)
	defer ticker.Stop()

	log.Printf("[poller] started: %d series every %s", len(s.cfg.Series), s.cfg.Every)
	for {
		s.Tick(ctx)
		select {
		case <-ctx.Done():
			log.Println("[poller] stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick runs one cycle unless the session gate is closed. ran is false when
// the cycle was skipped.
func (s *Service) Tick(ctx context.Context) (rep CycleReport, ran bool) {
	now := s.now()
	if sess := s.deps.Session; sess != nil {
		open := sess.IsOpen(now)
		if s.deps.Health != nil {
			s.deps.Health.SetMarketOpen(open)
		}
		if m := s.deps.Metrics; m != nil {
			m.MarketState.Set(boolGauge(open))
		}
		if s.cfg.MarketHoursOnly && !open {
			log.Printf("[poller] market closed, skipping cycle. %s", sess.StatusString(now))
			s.cycleOutcome("skipped")
			return CycleReport{}, false
		}
	}
	return s.Cycle(ctx), true
}

// Cycle refreshes every series concurrently. A failing series does not
// stop the others.
func (s *Service) Cycle(ctx context.Context) CycleReport {
	ctx = logger.WithRunID(ctx, "")
	rep := CycleReport{RunID: logger.RunID(ctx), Outcomes: make([]Outcome, len(s.cfg.Series))}
	start := s.now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i, sr := range s.cfg.Series {
		g.Go(func() error {
			rep.Outcomes[i] = s.refresh(gctx, sr)
			return nil
		})
	}
	_ = g.Wait()

	failed := rep.Failed()
	outcome := "ok"
	if failed > 0 {
		outcome = "error"
	}
	s.cycleOutcome(outcome)

	if h := s.deps.Health; h != nil {
		keys := make([]string, 0, len(s.cfg.Series))
		for _, o := range rep.Outcomes {
			if o.Err == nil && !o.Skipped {
				keys = append(keys, o.Series.Key())
			}
		}
		sort.Strings(keys)
		h.SetPoll(start, failed == 0)
		h.SetSeries(keys)
	}

	slog.Info("poll cycle complete",
		append(logger.Attrs(ctx), "series", len(s.cfg.Series), "failed", failed,
			"elapsed", s.now().Sub(start))...)
	return rep
}

func (s *Service) refresh(ctx context.Context, sr Series) Outcome {
	out := Outcome{Series: sr}
	m := s.deps.Metrics

	bars, err := s.deps.Source.GetBars(ctx, sr.Ticker, sr.Interval, s.cfg.Bars)
	if errors.Is(err, model.ErrNoData) {
		slog.Warn("no data for series", append(logger.Attrs(ctx), "series", sr.Key())...)
		out.Skipped = true
		return out
	}
	if err != nil {
		if m != nil {
			m.FetchErrorsTotal.WithLabelValues(s.cfg.SourceName).Inc()
		}
		out.Err = fmt.Errorf("fetch %s: %w", sr.Key(), err)
		slog.Error("fetch failed", append(logger.Attrs(ctx), "series", sr.Key(), "error", err)...)
		return out
	}
	if m != nil {
		m.BarsFetchedTotal.WithLabelValues(s.cfg.SourceName).Add(float64(len(bars)))
	}
	out.Bars = len(bars)
	if s.deps.Archive != nil {
		if err := s.deps.Archive.WriteBars(ctx, bars); err != nil {
			slog.Warn("archive bars failed", append(logger.Attrs(ctx), "series", sr.Key(), "error", err)...)
		}
	}

	rows, err := s.deps.Scorer.ScoreBars(bars)
	if err != nil {
		out.Err = fmt.Errorf("score %s: %w", sr.Key(), err)
		return out
	}
	s.cacheSet(ctx, rediscache.ScoredKey(sr.Ticker, sr.Interval), rows)

	results, err := s.deps.Optimizer.Search(ctx, rows)
	switch {
	case errors.Is(err, backtest.ErrInsufficientData):
		slog.Debug("grid skipped: insufficient data", append(logger.Attrs(ctx), "series", sr.Key())...)
	case err != nil:
		out.Err = fmt.Errorf("grid %s: %w", sr.Key(), err)
		return out
	default:
		out.Results = len(results)
		s.cacheSet(ctx, rediscache.RankingKey(sr.Ticker, sr.Interval), results)
	}

	latest := rows[len(rows)-1]
	out.Latest = &latest
	if m != nil {
		m.LatestIndicator.WithLabelValues(sr.Key()).Set(float64(latest.Indicator))
	}
	out.Signals = s.signal(ctx, sr, latest)
	return out
}

// signal evaluates rules on the newest bar once per bar timestamp.
func (s *Service) signal(ctx context.Context, sr Series, latest model.ScoredBar) []strategy.Signal {
	s.mu.Lock()
	prev, seen := s.lastBarTS[sr.Key()]
	if seen && !latest.TS.After(prev) {
		s.mu.Unlock()
		return nil
	}
	s.lastBarTS[sr.Key()] = latest.TS
	s.mu.Unlock()

	sigs := s.deps.Engine.Evaluate(latest)
	for _, sig := range sigs {
		if m := s.deps.Metrics; m != nil {
			m.SignalsTotal.WithLabelValues(string(sig.Action)).Inc()
		}
		if err := s.deps.Notifier.Send(ctx, notification.FromSignal(sig)); err != nil {
			slog.Warn("alert delivery failed", append(logger.Attrs(ctx), "series", sr.Key(), "error", err)...)
		}
		if s.deps.Publisher != nil {
			if err := s.deps.Publisher.Publish(ctx, rediscache.SignalChannel(sr.Ticker, sr.Interval), sig); err != nil {
				slog.Warn("signal publish failed", append(logger.Attrs(ctx), "series", sr.Key(), "error", err)...)
			}
		}
	}
	return sigs
}

// Scored returns the cached scored series when present, otherwise fetches
// and scores it and fills the cache.
func (s *Service) Scored(ctx context.Context, sr Series) ([]model.ScoredBar, error) {
	if c := s.deps.Cache; c != nil {
		var rows []model.ScoredBar
		ok, err := c.Get(ctx, rediscache.ScoredKey(sr.Ticker, sr.Interval), &rows)
		if err != nil {
			slog.Warn("cache read failed", "series", sr.Key(), "error", err)
		} else if ok && len(rows) > 0 {
			return rows, nil
		}
	}
	bars, err := s.deps.Source.GetBars(ctx, sr.Ticker, sr.Interval, s.cfg.Bars)
	if err != nil {
		return nil, err
	}
	rows, err := s.deps.Scorer.ScoreBars(bars)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, rediscache.ScoredKey(sr.Ticker, sr.Interval), rows)
	return rows, nil
}

// Rankings returns the cached grid results of a series, if any.
func (s *Service) Rankings(ctx context.Context, sr Series) ([]model.StrategyResult, bool, error) {
	if s.deps.Cache == nil {
		return nil, false, nil
	}
	var results []model.StrategyResult
	ok, err := s.deps.Cache.Get(ctx, rediscache.RankingKey(sr.Ticker, sr.Interval), &results)
	return results, ok, err
}

// Invalidate drops cached entries of a series.
func (s *Service) Invalidate(ctx context.Context, sr Series) error {
	if s.deps.Cache == nil {
		return nil
	}
	return errors.Join(
		s.deps.Cache.Expire(ctx, rediscache.ScoredKey(sr.Ticker, sr.Interval)),
		s.deps.Cache.Expire(ctx, rediscache.RankingKey(sr.Ticker, sr.Interval)),
	)
}

func (s *Service) cacheSet(ctx context.Context, key string, v any) {
	if s.deps.Cache == nil {
		return
	}
	if err := s.deps.Cache.Set(ctx, key, v, s.cfg.TTL); err != nil {
		slog.Warn("cache write failed", append(logger.Attrs(ctx), "key", key, "error", err)...)
	}
}

func (s *Service) cycleOutcome(outcome string) {
	if m := s.deps.Metrics; m != nil {
		m.PollCyclesTotal.WithLabelValues(outcome).Inc()
	}
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
