// Package api serves scored series, grid rankings and ad-hoc backtests
// over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"signal-backtest/internal/backtest"
	"signal-backtest/internal/model"
	"signal-backtest/internal/poller"
	"signal-backtest/internal/scoring"
	"signal-backtest/internal/strategy"
)

// SeriesReader is the read side of the poller.
type SeriesReader interface {
	Scored(ctx context.Context, sr poller.Series) ([]model.ScoredBar, error)
	Rankings(ctx context.Context, sr poller.Series) ([]model.StrategyResult, bool, error)
	Invalidate(ctx context.Context, sr poller.Series) error
}

// Handler holds the route dependencies.
type Handler struct {
	series   SeriesReader
	backtest backtest.Config
}

// NewRouter sets up the HTTP routes.
//
//	GET  /api/v1/health
//	GET  /api/v1/series/{ticker}/{interval}/scored?n=50
//	GET  /api/v1/series/{ticker}/{interval}/outlook
//	GET  /api/v1/series/{ticker}/{interval}/rankings?n=10
//	GET  /api/v1/series/{ticker}/{interval}/backtest?rule=level&buy=2&sell=-2&close_at_end=true
//	POST /api/v1/series/{ticker}/{interval}/refresh
func NewRouter(series SeriesReader, cfg backtest.Config) *http.ServeMux {
	h := &Handler{series: series, backtest: cfg}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /api/v1/series/{ticker}/{interval}/scored", h.scored)
	mux.HandleFunc("GET /api/v1/series/{ticker}/{interval}/outlook", h.outlook)
	mux.HandleFunc("GET /api/v1/series/{ticker}/{interval}/rankings", h.rankings)
	mux.HandleFunc("GET /api/v1/series/{ticker}/{interval}/backtest", h.runBacktest)
	mux.HandleFunc("POST /api/v1/series/{ticker}/{interval}/refresh", h.refresh)
	return mux
}

func seriesOf(r *http.Request) poller.Series {
	return poller.Series{Ticker: r.PathValue("ticker"), Interval: r.PathValue("interval")}
}

func (h *Handler) load(w http.ResponseWriter, r *http.Request) ([]model.ScoredBar, bool) {
	rows, err := h.series.Scored(r.Context(), seriesOf(r))
	if errors.Is(err, model.ErrNoData) {
		writeError(w, http.StatusNotFound, err)
		return nil, false
	}
	if err != nil {
		slog.Error("load series failed", "series", seriesOf(r).Key(), "error", err)
		writeError(w, http.StatusBadGateway, err)
		return nil, false
	}
	return rows, true
}

func (h *Handler) scored(w http.ResponseWriter, r *http.Request) {
	rows, ok := h.load(w, r)
	if !ok {
		return
	}
	if n := intParam(r, "n", 0); n > 0 && len(rows) > n {
		rows = rows[len(rows)-n:]
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handler) outlook(w http.ResponseWriter, r *http.Request) {
	rows, ok := h.load(w, r)
	if !ok {
		return
	}
	last := rows[len(rows)-1]
	writeJSON(w, http.StatusOK, map[string]any{
		"series":       seriesOf(r).Key(),
		"ts":           last.TS,
		"close":        last.Close,
		"indicator":    last.Indicator,
		"outlook":      scoring.OutlookOf(last),
		"distribution": scoring.Distribution(rows),
	})
}

func (h *Handler) rankings(w http.ResponseWriter, r *http.Request) {
	results, ok, err := h.series.Rankings(r.Context(), seriesOf(r))
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("no cached ranking"))
		return
	}
	if n := intParam(r, "n", 0); n > 0 && len(results) > n {
		results = results[:n]
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *Handler) runBacktest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ruleName := q.Get("rule")
	if ruleName == "" {
		ruleName = strategy.RuleLevel
	}
	buy := intParam(r, "buy", backtest.FallbackBuy)
	sell := intParam(r, "sell", backtest.FallbackSell)
	if ruleName == strategy.RuleLevel && buy <= sell {
		writeError(w, http.StatusBadRequest, errors.New("buy must exceed sell"))
		return
	}
	rule, err := strategy.ByName(ruleName, buy, sell)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	rows, ok := h.load(w, r)
	if !ok {
		return
	}
	cfg := h.backtest
	cfg.Rule = rule
	if v := q.Get("close_at_end"); v != "" {
		cfg.CloseAtEnd, _ = strconv.ParseBool(v)
	}

	res, err := backtest.Run(r.Context(), rows, cfg)
	if errors.Is(err, backtest.ErrInsufficientData) {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.series.Invalidate(r.Context(), seriesOf(r)); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func intParam(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
