// cmd/poller keeps scored series, grid rankings and live signals fresh on a
// timer, and serves /metrics and /healthz.
//
// Usage:
//
//	go run ./cmd/poller --config=config.yaml
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"signal-backtest/config"
	"signal-backtest/internal/api"
	"signal-backtest/internal/backtest"
	"signal-backtest/internal/logger"
	"signal-backtest/internal/marketdata"
	"signal-backtest/internal/markethours"
	"signal-backtest/internal/metrics"
	"signal-backtest/internal/notification"
	"signal-backtest/internal/poller"
	"signal-backtest/internal/scoring"
	rediscache "signal-backtest/internal/store/redis"
	sqlitestore "signal-backtest/internal/store/sqlite"
	"signal-backtest/internal/strategy"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfgPath := flag.String("config", "", "Path to YAML config (optional)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("[poller] %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[poller] %v", err)
	}
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Fatalf("[poller] %v", err)
	}
	logger.InitWriter(log.Writer(), "poller", level, cfg.Log.Format)

	if len(cfg.Poller.Tickers) == 0 {
		log.Fatal("[poller] no tickers configured (poller.tickers or TICKERS)")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ── Metrics + health ──
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()

	// ── Bar source ──
	source, closer, err := marketdata.Open(cfg.Data)
	if err != nil {
		log.Fatalf("[poller] open source: %v", err)
	}
	defer closer.Close()

	// ── SQLite bar store: the source itself, or an archive of fetched bars ──
	var sqlDB *sql.DB
	var archive *sqlitestore.Writer
	if r, ok := source.(*sqlitestore.Reader); ok {
		sqlDB = r.DB()
	} else if cfg.Data.Archive {
		archive, err = sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.Data.SQLitePath})
		if err != nil {
			log.Fatalf("[poller] %v", err)
		}
		defer archive.Close()
		archive.OnCommit = func(_ int, d time.Duration) { prom.SQLiteCommitDur.Observe(d.Seconds()) }
		sqlDB = archive.DB()
	}

	// ── Redis cache (optional) ──
	var cache *rediscache.Cache
	var rdb *goredis.Client
	if cfg.Redis.Addr != "" {
		cache, err = rediscache.New(rediscache.Config{
			Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB,
		})
		if err != nil {
			log.Fatalf("[poller] %v", err)
		}
		defer cache.Close()
		cache.OnHit = prom.CacheHitsTotal.Inc
		cache.OnMiss = prom.CacheMissesTotal.Inc
		cache.OnWrite = func(d time.Duration) { prom.RedisWriteDur.Observe(d.Seconds()) }
		rdb = cache.Client()
	}
	health.Require(cache != nil, sqlDB != nil)
	startHealth(ctx, health, rdb, sqlDB)

	// ── Session gate ──
	sess, err := markethours.NewSession(cfg.Poller.Session.Timezone, cfg.Poller.Session.Open,
		cfg.Poller.Session.Close, cfg.Poller.Session.Holidays)
	if err != nil {
		log.Fatalf("[poller] %v", err)
	}

	// ── Scoring + grid ──
	scorer := scoring.NewScorer(cfg.Indicators)
	scorer.Pipeline().OnCompute = prom.ObservePipeline

	btCfg, err := cfg.Backtest()
	if err != nil {
		log.Fatalf("[poller] %v", err)
	}
	opt := backtest.NewOptimizer(cfg.Grid, btCfg)
	opt.OnRun = prom.ObserveRun
	opt.OnSearch = prom.ObserveGrid

	deps := poller.Deps{
		Source:    source,
		Scorer:    scorer,
		Optimizer: opt,
		Engine:    strategy.NewEngine(btCfg.Rule),
		Notifier:  notifiers(cfg.Notify),
		Session:   sess,
		Metrics:   prom,
		Health:    health,
	}
	if cache != nil {
		deps.Cache = cache
		deps.Publisher = cache
	}
	if archive != nil {
		deps.Archive = archive
	}

	svc, err := poller.New(poller.Config{
		Series:          poller.Cross(cfg.Poller.Tickers, cfg.Poller.Intervals),
		Bars:            cfg.Data.Bars,
		Every:           cfg.PollInterval(),
		TTL:             cfg.CacheTTL(),
		Workers:         cfg.Grid.Workers,
		MarketHoursOnly: cfg.Poller.MarketHoursOnly,
		SourceName:      cfg.Data.Source,
	}, deps)
	if err != nil {
		log.Fatalf("[poller] %v", err)
	}

	srv := metrics.NewServer(cfg.MetricsAddr, prom, health)
	srv.Start()

	var apiSrv *http.Server
	if cfg.APIAddr != "" {
		apiSrv = &http.Server{Addr: cfg.APIAddr, Handler: api.NewRouter(svc, btCfg)}
		go func() {
			log.Printf("[api] listening on %s", cfg.APIAddr)
			if err := apiSrv.ListenAndServe(); err != http.ErrServerClosed {
				log.Printf("[api] server error: %v", err)
			}
		}()
	}

	log.Println("[poller] ╔══════════════════════════════════════════════════════╗")
	log.Println("[poller] ║  Signal Poller                                       ║")
	log.Println("[poller] ║  [Source] → [Score] → [Grid] → [Redis cache/Alerts]  ║")
	log.Printf("[poller] ║  Source: %-44s║", cfg.Data.Source)
	log.Printf("[poller] ║  Series: %-44d║", len(cfg.Poller.Tickers)*len(cfg.Poller.Intervals))
	log.Printf("[poller] ║  Every:  %-44s║", cfg.PollInterval())
	log.Println("[poller] ╚══════════════════════════════════════════════════════╝")
	log.Printf("[poller] %s", sess.StatusString(time.Now()))

	if err := svc.Run(ctx); err != nil && ctx.Err() == nil {
		log.Printf("[poller] run error: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Stop(shutdownCtx)
	if apiSrv != nil {
		apiSrv.Shutdown(shutdownCtx)
	}
	log.Println("[poller] shutdown complete")
}

func notifiers(cfg config.NotifyConfig) notification.Notifier {
	multi := notification.Multi{notification.NewLogNotifier()}
	if cfg.WebhookURL != "" {
		multi = append(multi, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		multi = append(multi, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	return multi
}

func startHealth(ctx context.Context, h *metrics.HealthStatus, rdb *goredis.Client, db *sql.DB) {
	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	if rdb != nil {
		h.CheckRedis(probeCtx, rdb)
	}
	if db != nil {
		h.CheckSQLite(probeCtx, db)
	}
	cancel()
	h.StartLivenessChecker(ctx, rdb, db, 15*time.Second)
}
