package strategy

import (
	"fmt"
	"strconv"

	"signal-backtest/internal/model"
)

// Rule names accepted by ByName.
const (
	RuleLevel = "level"
	RuleDelta = "delta"
)

// Level trades on the composite Indicator crossing fixed thresholds.
//
// Buy when Indicator >= Buy; sell when Indicator <= Sell.
// Buy > Sell is expected but not enforced; inverted thresholds simply
// produce degenerate runs.
type Level struct {
	Buy  int
	Sell int
}

func (l Level) Name() string {
	return "level(" + strconv.Itoa(l.Buy) + "," + strconv.Itoa(l.Sell) + ")"
}

func (l Level) ShouldBuy(bar model.ScoredBar) bool  { return bar.Indicator >= l.Buy }
func (l Level) ShouldSell(bar model.ScoredBar) bool { return bar.Indicator <= l.Sell }

// Delta trades on the bar-over-bar change of the composite Indicator.
//
// Buy when IndicatorDiff > 1; sell when IndicatorDiff < -1.
type Delta struct{}

func (Delta) Name() string { return RuleDelta }

func (Delta) ShouldBuy(bar model.ScoredBar) bool  { return bar.IndicatorDiff > 1 }
func (Delta) ShouldSell(bar model.ScoredBar) bool { return bar.IndicatorDiff < -1 }

// ByName builds a rule from its configured name.
func ByName(name string, buy, sell int) (Rule, error) {
	switch name {
	case RuleLevel, "":
		return Level{Buy: buy, Sell: sell}, nil
	case RuleDelta:
		return Delta{}, nil
	default:
		return nil, fmt.Errorf("unknown rule %q", name)
	}
}
