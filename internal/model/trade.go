package model

import "time"

// Action is a trade direction.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// Position is the simulator state.
type Position string

const (
	PositionCash    Position = "CASH"
	PositionHolding Position = "HOLDING"
)

// Trade is one simulated fill. PnL fields are set on SELL only.
type Trade struct {
	TS        time.Time `json:"date"`
	Action    Action    `json:"action"`
	Price     float64   `json:"price"`
	Shares    int64     `json:"shares"`
	Indicator int       `json:"indicator"`
	Diff      int       `json:"indicator_diff"`
	PnL       float64   `json:"pnl,omitempty"`
	PnLPct    float64   `json:"pnl_pct,omitempty"`
	Forced    bool      `json:"forced,omitempty"` // closed at end of series
}

// StrategyResult is one evaluated backtest run.
type StrategyResult struct {
	RunID    string `json:"run_id"`
	Ticker   string `json:"ticker"`
	Interval string `json:"interval"`

	// Rule is "level" or "delta". Thresholds only apply to the level rule.
	Rule          string `json:"rule"`
	BuyThreshold  int    `json:"buy_threshold"`
	SellThreshold int    `json:"sell_threshold"`

	InitialCapital   float64  `json:"initial_capital"`
	FinalValue       float64  `json:"final_value"`
	TotalReturnPct   float64  `json:"total_return_pct"`
	BuyHoldReturnPct float64  `json:"buy_hold_return_pct"`
	Outperformance   float64  `json:"outperformance"`
	NumTrades        int      `json:"num_trades"`
	NumSells         int      `json:"num_sells"`
	WinRate          float64  `json:"win_rate"`
	AvgWinPct        float64  `json:"avg_win_pct"`
	AvgLossPct       float64  `json:"avg_loss_pct"`
	FinalPosition    Position `json:"final_position"`
	Bars             int      `json:"bars"`
	Trades           []Trade  `json:"trades"`
}
