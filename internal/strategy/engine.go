// Package strategy provides the entry/exit rules applied to a scored series.
//
// A Rule inspects one ScoredBar at a time and reports whether it would buy
// or sell there. Rules are stateless; position tracking belongs to the
// simulator. The Engine evaluates registered rules against the latest bar of
// a live series and emits signals for alerting.
package strategy

import (
	"time"

	"signal-backtest/internal/model"
)

// Rule is the interface that all entry/exit rules must implement.
type Rule interface {
	// Name returns a short description of the rule and its parameters.
	Name() string

	// ShouldBuy is consulted only while the position is in cash.
	ShouldBuy(bar model.ScoredBar) bool

	// ShouldSell is consulted only while a position is held.
	ShouldSell(bar model.ScoredBar) bool
}

// Signal represents a rule firing on the latest bar of a series.
type Signal struct {
	Rule      string       `json:"rule"`
	Action    model.Action `json:"action"`
	Ticker    string       `json:"ticker"`
	Interval  string       `json:"interval"`
	TS        time.Time    `json:"bar_ts"`
	Price     float64      `json:"price"`
	Indicator int          `json:"indicator"`
	Diff      int          `json:"indicator_diff"`
	Reason    string       `json:"reason"`
}

// Engine manages registered rules and evaluates bars against them.
type Engine struct {
	rules []Rule
}

// NewEngine creates a new rule engine.
func NewEngine(rules ...Rule) *Engine {
	return &Engine{rules: rules}
}

// Register adds a rule to the engine.
func (e *Engine) Register(r Rule) {
	e.rules = append(e.rules, r)
}

// Rules returns the registered rules.
func (e *Engine) Rules() []Rule { return e.rules }

// Evaluate checks every rule against bar. With no position context both
// conditions are reported; a rule whose buy and sell conditions both hold
// emits neither.
func (e *Engine) Evaluate(bar model.ScoredBar) []Signal {
	var out []Signal
	for _, r := range e.rules {
		buy, sell := r.ShouldBuy(bar), r.ShouldSell(bar)
		if buy == sell {
			continue
		}
		sig := Signal{
			Rule:      r.Name(),
			Ticker:    bar.Ticker,
			Interval:  bar.Interval,
			TS:        bar.TS,
			Price:     bar.Price(),
			Indicator: bar.Indicator,
			Diff:      bar.IndicatorDiff,
		}
		if buy {
			sig.Action = model.ActionBuy
			sig.Reason = "buy condition met"
		} else {
			sig.Action = model.ActionSell
			sig.Reason = "sell condition met"
		}
		out = append(out, sig)
	}
	return out
}
