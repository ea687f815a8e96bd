package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the scoring and backtest engine.
type Metrics struct {
	// Pipeline
	BarsScoredTotal    prometheus.Counter
	PipelineComputeDur prometheus.Histogram
	BarsFetchedTotal   *prometheus.CounterVec // labels: source
	FetchErrorsTotal   *prometheus.CounterVec // labels: source
	SQLiteCommitDur    prometheus.Histogram

	// Backtest
	BacktestRunsTotal *prometheus.CounterVec // labels: outcome=ok|insufficient|error
	GridSearchDur     prometheus.Histogram
	LatestIndicator   *prometheus.GaugeVec // labels: series

	// Poller
	PollCyclesTotal *prometheus.CounterVec // labels: outcome=ok|error|skipped
	SignalsTotal    *prometheus.CounterVec // labels: action
	MarketState     prometheus.Gauge       // 0=closed, 1=open

	// Result cache
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter
	RedisWriteDur    prometheus.Histogram

	registry *prometheus.Registry
}

// NewMetrics creates all metrics on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		BarsScoredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signal_bars_scored_total",
			Help: "Total bars run through the indicator pipeline",
		}),
		PipelineComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signal_pipeline_compute_duration_seconds",
			Help:    "Indicator pipeline latency per series",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),
		BarsFetchedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_bars_fetched_total",
			Help: "Bars returned by market-data sources",
		}, []string{"source"}),
		FetchErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_fetch_errors_total",
			Help: "Failed market-data fetches",
		}, []string{"source"}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signal_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),

		BacktestRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_backtest_runs_total",
			Help: "Backtest runs by outcome",
		}, []string{"outcome"}),
		GridSearchDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signal_grid_search_duration_seconds",
			Help:    "Wall time of one threshold grid search",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		LatestIndicator: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "signal_latest_indicator",
			Help: "Composite indicator of the latest bar per series",
		}, []string{"series"}),

		PollCyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_poll_cycles_total",
			Help: "Poller cycles by outcome",
		}, []string{"outcome"}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_alerts_total",
			Help: "Signals raised on the latest bar",
		}, []string{"action"}),
		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signal_market_state",
			Help: "Market session state (0=closed, 1=open)",
		}),

		CacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signal_cache_hits_total",
			Help: "Result cache hits",
		}),
		CacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signal_cache_misses_total",
			Help: "Result cache misses",
		}),
		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signal_redis_write_duration_seconds",
			Help:    "Redis write latency",
			Buckets: prometheus.DefBuckets,
		}),

		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.BarsScoredTotal,
		m.PipelineComputeDur,
		m.BarsFetchedTotal,
		m.FetchErrorsTotal,
		m.SQLiteCommitDur,
		m.BacktestRunsTotal,
		m.GridSearchDur,
		m.LatestIndicator,
		m.PollCyclesTotal,
		m.SignalsTotal,
		m.MarketState,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.RedisWriteDur,
	)

	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObservePipeline is shaped to fit indicator.Pipeline.OnCompute.
func (m *Metrics) ObservePipeline(bars int, d time.Duration) {
	m.BarsScoredTotal.Add(float64(bars))
	m.PipelineComputeDur.Observe(d.Seconds())
}

// ObserveRun is shaped to fit backtest.Optimizer.OnRun.
func (m *Metrics) ObserveRun(outcome string) {
	m.BacktestRunsTotal.WithLabelValues(outcome).Inc()
}

// ObserveGrid is shaped to fit backtest.Optimizer.OnSearch.
func (m *Metrics) ObserveGrid(_ int, d time.Duration) {
	m.GridSearchDur.Observe(d.Seconds())
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	LastPollTime   time.Time `json:"last_poll_time"`
	LastPollOK     bool      `json:"last_poll_ok"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	MarketOpen     bool      `json:"market_open"`
	Series         []string  `json:"series"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`

	// Dependencies that count towards overall health.
	requireRedis  bool
	requireSQLite bool
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

// Require marks which dependencies count towards overall health.
func (h *HealthStatus) Require(redis, sqlite bool) {
	h.mu.Lock()
	h.requireRedis, h.requireSQLite = redis, sqlite
	h.mu.Unlock()
}

func (h *HealthStatus) SetPoll(t time.Time, ok bool) {
	h.mu.Lock()
	h.LastPollTime, h.LastPollOK = t, ok
	h.mu.Unlock()
}

func (h *HealthStatus) SetMarketOpen(v bool) {
	h.mu.Lock()
	h.MarketOpen = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSeries(keys []string) {
	h.mu.Lock()
	h.Series = keys
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	redisDown := h.requireRedis && !h.RedisConnected
	sqliteDown := h.requireSQLite && !h.SQLiteOK
	if redisDown || sqliteDown || (!h.LastPollTime.IsZero() && !h.LastPollOK) {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if redisDown && sqliteDown {
		overallStatus = "unhealthy"
	}

	pollAge := ""
	if !h.LastPollTime.IsZero() {
		pollAge = time.Since(h.LastPollTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string   `json:"status"`
		Uptime          string   `json:"uptime"`
		LastPollTime    string   `json:"last_poll_time"`
		PollAge         string   `json:"poll_age"`
		LastPollOK      bool     `json:"last_poll_ok"`
		MarketOpen      bool     `json:"market_open"`
		RedisConnected  bool     `json:"redis_connected"`
		RedisLatencyMs  float64  `json:"redis_latency_ms"`
		SQLiteOK        bool     `json:"sqlite_ok"`
		SQLiteLatencyMs float64  `json:"sqlite_latency_ms"`
		Series          []string `json:"series"`
		LastCheckAt     string   `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		LastPollTime:    h.LastPollTime.Format(time.RFC3339),
		PollAge:         pollAge,
		LastPollOK:      h.LastPollOK,
		MarketOpen:      h.MarketOpen,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		Series:          h.Series,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, m *Metrics, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Handler returns the server's mux (used by tests).
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
