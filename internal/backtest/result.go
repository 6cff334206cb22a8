package backtest

import (
	"encoding/json"
	"math"
	"time"

	"futures-trading-engine/internal/regime"
	"futures-trading-engine/internal/strategies"
)

// Trade is one simulated round trip.
type Trade struct {
	EntryTime   time.Time            `json:"entry_time"`
	ExitTime    time.Time            `json:"exit_time"`
	Direction   strategies.Direction `json:"direction"`
	Strategy    string               `json:"strategy"`
	Pattern     string               `json:"pattern"`
	Regime      regime.Regime        `json:"regime"`
	EntryPrice  float64              `json:"entry_price"`
	ExitPrice   float64              `json:"exit_price"`
	StopPrice   float64              `json:"stop_price"`
	TargetPrice float64              `json:"target_price"`
	Contracts   int                  `json:"contracts"`
	GrossPnL    float64              `json:"gross_pnl"`
	Fees        float64              `json:"fees"`
	Slippage    float64              `json:"slippage"`
	NetPnL      float64              `json:"net_pnl"`
	ExitReason  string               `json:"exit_reason"`
}

// ProfitFactor is gross profit over gross loss. With no losses it is
// positive infinity, serialized as the string "unbounded" because JSON
// has no representation for Inf.
type ProfitFactor float64

func (p ProfitFactor) MarshalJSON() ([]byte, error) {
	if math.IsInf(float64(p), 1) {
		return json.Marshal("unbounded")
	}
	return json.Marshal(float64(p))
}

func (p *ProfitFactor) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "unbounded" {
			*p = ProfitFactor(math.Inf(1))
		}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = ProfitFactor(v)
	return nil
}

// Result aggregates one simulation run.
type Result struct {
	Symbol       string       `json:"symbol"`
	Strategies   []string     `json:"strategies"`
	Bars         int          `json:"bars"`
	TradeCount   int          `json:"trade_count"`
	Wins         int          `json:"wins"`
	Losses       int          `json:"losses"`
	WinRate      float64      `json:"win_rate"`
	GrossProfit  float64      `json:"gross_profit"`
	GrossLoss    float64      `json:"gross_loss"`
	NetPnL       float64      `json:"net_pnl"`
	ProfitFactor ProfitFactor `json:"profit_factor"`
	MaxDrawdown  float64      `json:"max_drawdown"`
	Expectancy   float64      `json:"expectancy"`
	Rejections   int          `json:"rejections"`
	Trades       []Trade      `json:"trades"`

	// RegimeBreakdown counts closed trades and their net P&L per regime
	// at entry time.
	RegimeBreakdown map[string]RegimeStats `json:"regime_breakdown"`
}

// RegimeStats aggregates trades entered under one regime.
type RegimeStats struct {
	Trades int     `json:"trades"`
	Wins   int     `json:"wins"`
	NetPnL float64 `json:"net_pnl"`
}

// summarize fills the aggregate statistics from the trade list.
func (r *Result) summarize() {
	r.TradeCount = len(r.Trades)
	r.RegimeBreakdown = make(map[string]RegimeStats)
	for _, t := range r.Trades {
		if t.NetPnL > 0 {
			r.Wins++
			r.GrossProfit += t.NetPnL
		} else {
			r.Losses++
			r.GrossLoss += -t.NetPnL
		}
		r.NetPnL += t.NetPnL

		stats := r.RegimeBreakdown[string(t.Regime)]
		stats.Trades++
		if t.NetPnL > 0 {
			stats.Wins++
		}
		stats.NetPnL += t.NetPnL
		r.RegimeBreakdown[string(t.Regime)] = stats
	}

	if r.TradeCount > 0 {
		r.WinRate = float64(r.Wins) / float64(r.TradeCount)
		r.Expectancy = r.NetPnL / float64(r.TradeCount)
	}

	switch {
	case r.GrossLoss > 0:
		r.ProfitFactor = ProfitFactor(r.GrossProfit / r.GrossLoss)
	case r.GrossProfit > 0:
		r.ProfitFactor = ProfitFactor(math.Inf(1))
	default:
		r.ProfitFactor = 0
	}

	r.MaxDrawdown = maxDrawdown(r.Trades)
}

// maxDrawdown is the largest peak-to-trough drop of cumulative net P&L
// across the ordered trade sequence. Zero for monotone equity curves.
func maxDrawdown(trades []Trade) float64 {
	peak := 0.0
	equity := 0.0
	worst := 0.0
	for _, t := range trades {
		equity += t.NetPnL
		if equity > peak {
			peak = equity
		}
		if dd := peak - equity; dd > worst {
			worst = dd
		}
	}
	return worst
}
