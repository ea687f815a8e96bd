// Package report renders backtest and scoring output as console tables.
package report

import (
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/olekukonko/tablewriter"

	"signal-backtest/internal/backtest"
	"signal-backtest/internal/model"
	"signal-backtest/internal/scoring"
)

// Results prints the top n ranked results (n <= 0 prints all).
func Results(w io.Writer, results []model.StrategyResult, n int) {
	if n <= 0 || n > len(results) {
		n = len(results)
	}
	table := tablewriter.NewWriter(w)
	table.Header("#", "Rule", "Buy", "Sell", "Return", "B&H", "Outperf", "Trades", "Win%", "AvgWin", "AvgLoss", "Final")
	for i, r := range results[:n] {
		table.Append(
			fmt.Sprintf("%d", i+1),
			r.Rule,
			fmt.Sprintf("%d", r.BuyThreshold),
			fmt.Sprintf("%d", r.SellThreshold),
			signedPct(r.TotalReturnPct),
			signedPct(r.BuyHoldReturnPct),
			signedPct(r.Outperformance),
			fmt.Sprintf("%d", r.NumTrades),
			fmt.Sprintf("%.1f", r.WinRate),
			signedPct(r.AvgWinPct),
			signedPct(r.AvgLossPct),
			string(r.FinalPosition),
		)
	}
	table.Render()
}

// Summary prints a one-result box in the layout the CLIs share.
func Summary(w io.Writer, r *model.StrategyResult) {
	fmt.Fprintln(w, "╔══════════════════════════════════════╗")
	fmt.Fprintf(w, "║  %-36s║\n", model.SeriesKey(r.Ticker, r.Interval))
	fmt.Fprintln(w, "╠══════════════════════════════════════╣")
	fmt.Fprintf(w, "║  Rule:            %-19s║\n", ruleLabel(r))
	fmt.Fprintf(w, "║  Bars:            %-19d║\n", r.Bars)
	fmt.Fprintf(w, "║  Final value:     %-19.0f║\n", r.FinalValue)
	fmt.Fprintf(w, "║  Total return:    %-19s║\n", signedPct(r.TotalReturnPct))
	fmt.Fprintf(w, "║  Buy & hold:      %-19s║\n", signedPct(r.BuyHoldReturnPct))
	fmt.Fprintf(w, "║  Outperformance:  %-19s║\n", signedPct(r.Outperformance))
	fmt.Fprintf(w, "║  Trades:          %-19d║\n", r.NumTrades)
	fmt.Fprintf(w, "║  Win rate:        %-19s║\n", fmt.Sprintf("%.1f%%", r.WinRate))
	fmt.Fprintf(w, "║  Position:        %-19s║\n", r.FinalPosition)
	fmt.Fprintln(w, "╚══════════════════════════════════════╝")
}

func ruleLabel(r *model.StrategyResult) string {
	if r.Rule == "delta" {
		return "delta"
	}
	return fmt.Sprintf("%s(%d,%d)", r.Rule, r.BuyThreshold, r.SellThreshold)
}

// Trades prints the fill history of one run.
func Trades(w io.Writer, trades []model.Trade) {
	table := tablewriter.NewWriter(w)
	table.Header("Date", "Action", "Price", "Shares", "Ind", "Diff", "PnL", "PnL%")
	for _, t := range trades {
		pnl, pnlPct := "", ""
		if t.Action == model.ActionSell {
			pnl = fmt.Sprintf("%.0f", t.PnL)
			pnlPct = signedPct(t.PnLPct)
			if t.Forced {
				pnlPct += " (end)"
			}
		}
		table.Append(
			t.TS.Format("2006-01-02 15:04"),
			string(t.Action),
			fmt.Sprintf("%.2f", t.Price),
			fmt.Sprintf("%d", t.Shares),
			fmt.Sprintf("%d", t.Indicator),
			fmt.Sprintf("%+d", t.Diff),
			pnl,
			pnlPct,
		)
	}
	table.Render()
}

// Scored prints the last n scored bars (n <= 0 prints all).
func Scored(w io.Writer, rows []model.ScoredBar, n int) {
	if n > 0 && len(rows) > n {
		rows = rows[len(rows)-n:]
	}
	table := tablewriter.NewWriter(w)
	table.Header("Date", "Close", "MA5", "MA10", "RSI", "Trend", "VolOsc", "Label", "Ind", "Diff")
	for _, r := range rows {
		table.Append(
			r.TS.Format("2006-01-02 15:04"),
			fmt.Sprintf("%.2f", r.Close),
			num(r.MA5, 2),
			num(r.MA10, 2),
			num(r.RSI, 1),
			trend(r.Trend),
			num(r.VolOsc, 1),
			string(r.VolLabel),
			fmt.Sprintf("%+d", r.Indicator),
			fmt.Sprintf("%+d", r.IndicatorDiff),
		)
	}
	table.Render()
}

// Outlook prints the latest bar's bias line.
func Outlook(w io.Writer, rows []model.ScoredBar) {
	if len(rows) == 0 {
		return
	}
	last := rows[len(rows)-1]
	fmt.Fprintf(w, "%s  %s  indicator %+d  outlook %s\n",
		model.SeriesKey(last.Ticker, last.Interval), last.TS.Format("2006-01-02 15:04"),
		last.Indicator, scoring.OutlookOf(last))
}

// Distribution prints how often each composite value occurs.
func Distribution(w io.Writer, rows []model.ScoredBar) {
	dist := scoring.Distribution(rows)
	keys := make([]int, 0, len(dist))
	for k := range dist {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	table := tablewriter.NewWriter(w)
	table.Header("Indicator", "Bars")
	for _, k := range keys {
		table.Append(fmt.Sprintf("%+d", k), fmt.Sprintf("%d", dist[k]))
	}
	table.Render()
}

// Recommendation prints the per-ticker picks and the thresholds chosen
// across them.
func Recommendation(w io.Writer, rec backtest.Recommendation) {
	if len(rec.Picks) > 0 {
		table := tablewriter.NewWriter(w)
		table.Header("Ticker", "Buy", "Sell", "Outperf", "Win%")
		for _, p := range rec.Picks {
			table.Append(
				p.Ticker,
				fmt.Sprintf("%d", p.Buy),
				fmt.Sprintf("%d", p.Sell),
				signedPct(p.Outperformance),
				fmt.Sprintf("%.1f", p.WinRate),
			)
		}
		table.Render()
	}
	if rec.Fallback {
		fmt.Fprintf(w, "No outperforming combination; using defaults buy>=%d sell<=%d\n", rec.Buy, rec.Sell)
		return
	}
	fmt.Fprintf(w, "Recommended thresholds: buy>=%d sell<=%d\n", rec.Buy, rec.Sell)
}

func signedPct(v float64) string {
	return fmt.Sprintf("%+.2f%%", v)
}

func num(v float64, prec int) string {
	if math.IsNaN(v) {
		return "-"
	}
	return fmt.Sprintf("%.*f", prec, v)
}

func trend(dir int) string {
	switch dir {
	case 1:
		return "UP"
	case -1:
		return "DOWN"
	default:
		return "-"
	}
}
