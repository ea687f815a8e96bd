// Package yahoo fetches OHLCV bars from the Yahoo Finance chart API.
package yahoo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"signal-backtest/internal/marketdata/resample"
	"signal-backtest/internal/model"
)

const (
	DefaultBaseURL = "https://query1.finance.yahoo.com"
	defaultRPS     = 2
	maxRetries     = 3
	baseRetryWait  = 500 * time.Millisecond
)

// ranges maps a requested interval to the history window fetched for it.
var ranges = map[string]string{
	"1m":  "5d",
	"5m":  "30d",
	"15m": "30d",
	"30m": "30d",
	"1h":  "60d",
	"4h":  "60d",
	"1d":  "6mo",
	"1wk": "2y",
}

// Range returns the history window used for interval, and whether the
// interval is supported.
func Range(interval string) (string, bool) {
	r, ok := ranges[interval]
	return r, ok
}

// ErrUnsupportedInterval is returned for intervals outside the range table.
var ErrUnsupportedInterval = errors.New("unsupported interval")

// Client is a rate-limited chart API client. It satisfies model.BarSource.
type Client struct {
	http    *http.Client
	base    string
	limiter *rate.Limiter
}

var _ model.BarSource = (*Client)(nil)

// NewClient creates a Client. Empty baseURL uses the production host;
// rps <= 0 uses the default request rate.
func NewClient(baseURL string, rps float64) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if rps <= 0 {
		rps = defaultRPS
	}
	return &Client{
		http:    &http.Client{Timeout: 15 * time.Second},
		base:    baseURL,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// GetBars fetches the interval's history window and keeps the last count
// bars (0 = all). "4h" is built by resampling hourly bars.
func (c *Client) GetBars(ctx context.Context, ticker, interval string, count int) ([]model.Bar, error) {
	window, ok := Range(interval)
	if !ok {
		return nil, fmt.Errorf("%s: %w", interval, ErrUnsupportedInterval)
	}

	apiInterval := interval
	if interval == "1h" || interval == "4h" {
		apiInterval = "60m"
	}

	bars, err := c.fetch(ctx, ticker, apiInterval, window)
	if err != nil {
		return nil, err
	}
	for i := range bars {
		bars[i].Interval = interval
	}
	if interval == "4h" {
		bars = resample.Bars(bars, 4*time.Hour, "4h")
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%s: %w", model.SeriesKey(ticker, interval), model.ErrNoData)
	}
	if count > 0 && len(bars) > count {
		bars = bars[len(bars)-count:]
	}
	return bars, nil
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (c *Client) fetch(ctx context.Context, ticker, interval, window string) ([]model.Bar, error) {
	q := url.Values{}
	q.Set("interval", interval)
	q.Set("range", window)
	q.Set("includePrePost", "false")
	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?%s", c.base, url.PathEscape(ticker), q.Encode())

	var resp chartResponse
	if err := c.get(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("yahoo %s: %w", ticker, err)
	}
	if e := resp.Chart.Error; e != nil {
		if e.Code == "Not Found" {
			return nil, fmt.Errorf("yahoo %s: %s: %w", ticker, e.Description, model.ErrNoData)
		}
		return nil, fmt.Errorf("yahoo %s: %s: %s", ticker, e.Code, e.Description)
	}
	if len(resp.Chart.Result) == 0 || len(resp.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, fmt.Errorf("yahoo %s: %w", ticker, model.ErrNoData)
	}

	res := resp.Chart.Result[0]
	quote := res.Indicators.Quote[0]
	bars := make([]model.Bar, 0, len(res.Timestamp))
	for i, ts := range res.Timestamp {
		cl := at(quote.Close, i)
		if math.IsNaN(cl) {
			continue
		}
		bars = append(bars, model.Bar{
			Ticker: ticker,
			TS:     time.Unix(ts, 0).UTC(),
			Open:   orValue(at(quote.Open, i), cl),
			High:   orValue(at(quote.High, i), cl),
			Low:    orValue(at(quote.Low, i), cl),
			Close:  cl,
			Volume: orValue(at(quote.Volume, i), 0),
		})
	}
	return bars, nil
}

func at(xs []*float64, i int) float64 {
	if i >= len(xs) || xs[i] == nil {
		return math.NaN()
	}
	return *xs[i]
}

func orValue(v, fallback float64) float64 {
	if math.IsNaN(v) {
		return fallback
	}
	return v
}

// get performs a GET with rate limiting and retries on 429 and 5xx.
func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "Mozilla/5.0")

		resp, err := c.http.Do(req)
		if err != nil {
			if attempt == maxRetries || ctx.Err() != nil {
				return fmt.Errorf("request failed after %d attempts: %w", attempt+1, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return fmt.Errorf("status %d after %d attempts", resp.StatusCode, attempt+1)
			}
			slog.Warn("yahoo request retry", "status", resp.StatusCode, "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue
		}

		// 404 still carries a chart.error body worth decoding.
		if resp.StatusCode >= 400 && resp.StatusCode != http.StatusNotFound {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			return fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := baseRetryWait << attempt
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
