package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"signal-backtest/internal/model"
)

// TelegramNotifier posts signals to a chat through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
}

// NewTelegramNotifier creates a notifier for the bot token and chat ID.
func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  "https://api.telegram.org",
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// FormatSignal renders an alert as a MarkdownV2 message:
//
//	🟢 *BUY BBCA\.JK* \(1d\)
//	Close: 9100\.00
//	Indicator: 3 \(diff \+4\)
//	Rule: level\(2,\-2\)
//	Bar: 2025\-01\-06 00:00 UTC
func FormatSignal(alert Alert) string {
	s := alert.Signal
	icon := "🟢"
	if s.Action == model.ActionSell {
		icon = "🔴"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s* %s\n", icon,
		escapeMarkdown(fmt.Sprintf("%s %s", s.Action, s.Ticker)),
		escapeMarkdown("("+s.Interval+")"))
	b.WriteString(escapeMarkdown(fmt.Sprintf("Close: %.2f", s.Price)) + "\n")
	b.WriteString(escapeMarkdown(fmt.Sprintf("Indicator: %d (diff %+d)", s.Indicator, s.Diff)) + "\n")
	b.WriteString(escapeMarkdown("Rule: " + s.Rule))
	if !s.TS.IsZero() {
		b.WriteString("\n" + escapeMarkdown("Bar: "+s.TS.UTC().Format("2006-01-02 15:04")+" UTC"))
	}
	return b.String()
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(map[string]any{
		"chat_id":    t.chatID,
		"text":       FormatSignal(alert),
		"parse_mode": "MarkdownV2",
	})
	if err != nil {
		return fmt.Errorf("telegram: marshal: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	defer resp.Body.Close()

	// The Bot API reports failures in the body as {"ok":false,"description":...}.
	var tr telegramResponse
	_ = json.NewDecoder(resp.Body).Decode(&tr)
	if resp.StatusCode != http.StatusOK || !tr.OK {
		if tr.Description == "" {
			tr.Description = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("telegram %s: status %d: %s", alert.Series(), resp.StatusCode, tr.Description)
	}

	log.Printf("[telegram] %s %s delivered", alert.Signal.Action, alert.Series())
	return nil
}

const markdownSpecials = "_*[]()~`>#+-=|{}.!\\"

// escapeMarkdown escapes the MarkdownV2 reserved characters.
func escapeMarkdown(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(markdownSpecials, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
