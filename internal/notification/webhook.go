package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"signal-backtest/internal/model"
)

// SignalPayload is the JSON body POSTed for every alert.
type SignalPayload struct {
	Level     AlertLevel   `json:"level"`
	Series    string       `json:"series"`
	Ticker    string       `json:"ticker"`
	Interval  string       `json:"interval"`
	Action    model.Action `json:"action"`
	Rule      string       `json:"rule"`
	Reason    string       `json:"reason"`
	Price     float64      `json:"price"`
	Indicator int          `json:"indicator"`
	Diff      int          `json:"indicator_diff"`
	BarTS     *time.Time   `json:"bar_ts,omitempty"`
	SentAt    time.Time    `json:"sent_at"`
}

// WebhookNotifier POSTs signals as JSON to an HTTP endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
	now    func() time.Time
}

// NewWebhookNotifier creates a webhook notifier for url.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

func (w *WebhookNotifier) payload(alert Alert) SignalPayload {
	s := alert.Signal
	p := SignalPayload{
		Level:     alert.Level,
		Series:    alert.Series(),
		Ticker:    s.Ticker,
		Interval:  s.Interval,
		Action:    s.Action,
		Rule:      s.Rule,
		Reason:    s.Reason,
		Price:     s.Price,
		Indicator: s.Indicator,
		Diff:      s.Diff,
		SentAt:    w.now().UTC(),
	}
	if !s.TS.IsZero() {
		ts := s.TS.UTC()
		p.BarTS = &ts
	}
	return p
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(w.payload(alert))
	if err != nil {
		return fmt.Errorf("webhook %s: marshal: %w", alert.Series(), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook %s: create request: %w", alert.Series(), err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s: send: %w", alert.Series(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("webhook %s: status %d: %s", alert.Series(), resp.StatusCode, bytes.TrimSpace(snippet))
	}

	log.Printf("[webhook] %s %s delivered", alert.Signal.Action, alert.Series())
	return nil
}
