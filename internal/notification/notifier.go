// Package notification delivers rule signals to external channels
// (webhooks, Telegram) or the log.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log"

	"signal-backtest/internal/model"
	"signal-backtest/internal/strategy"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo    AlertLevel = "INFO"
	AlertWarning AlertLevel = "WARNING"
)

// Alert is one signal on its way to a channel.
type Alert struct {
	Level  AlertLevel      `json:"level"`
	Signal strategy.Signal `json:"signal"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// FromSignal wraps a rule signal. Sells are raised as warnings.
func FromSignal(sig strategy.Signal) Alert {
	level := AlertInfo
	if sig.Action == model.ActionSell {
		level = AlertWarning
	}
	return Alert{Level: level, Signal: sig}
}

// Series returns the ticker:interval key the signal fired on.
func (a Alert) Series() string {
	return model.SeriesKey(a.Signal.Ticker, a.Signal.Interval)
}

// Title is the one-line headline, e.g. "BUY BBCA.JK (1d)".
func (a Alert) Title() string {
	return fmt.Sprintf("%s %s (%s)", a.Signal.Action, a.Signal.Ticker, a.Signal.Interval)
}

// Message describes the bar the rule fired on.
func (a Alert) Message() string {
	s := a.Signal
	msg := fmt.Sprintf("%s at %.2f: indicator %d, diff %+d, rule %s", s.Reason, s.Price, s.Indicator, s.Diff, s.Rule)
	if !s.TS.IsZero() {
		msg += ", bar " + s.TS.UTC().Format("2006-01-02 15:04")
	}
	return msg
}

// LogNotifier writes alerts to the standard logger.
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title(), alert.Message())
	return nil
}

// Multi fans an alert out to several notifiers and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
