package adaptive

import (
	"time"

	"futures-trading-engine/internal/regime"
	"futures-trading-engine/internal/strategies"
)

// HistoryCap bounds the trade outcome FIFO used for learning.
const HistoryCap = 500

// RetrainInterval is how many recorded outcomes pass between feature
// weight retrains.
const RetrainInterval = 50

// Strength tiers of a fused signal.
type Strength string

const (
	StrengthStrong   Strength = "STRONG"
	StrengthModerate Strength = "MODERATE"
	StrengthWeak     Strength = "WEAK"
	StrengthNone     Strength = "NONE"
)

// TradeOutcome is one realized, closed trade fed back into learning.
type TradeOutcome struct {
	Strategy             string               `json:"strategy"`
	Direction            strategies.Direction `json:"direction"`
	Regime               regime.Regime        `json:"regime"`
	PnLPercent           float64              `json:"pnl_percent"`
	Win                  bool                 `json:"win"`
	StopMultiplierUsed   float64              `json:"stop_multiplier_used"`
	TargetMultiplierUsed float64              `json:"target_multiplier_used"`
	HoldingDuration      time.Duration        `json:"holding_duration"`
	Features             map[string]float64   `json:"features"`
	ClosedAt             time.Time            `json:"closed_at"`
}

// StrategyPerformance tracks running stats for one strategy.
// CurrentStreak is positive for consecutive wins, negative for losses.
type StrategyPerformance struct {
	Wins          int       `json:"wins"`
	Losses        int       `json:"losses"`
	TotalPnL      float64   `json:"total_pnl"`
	AvgWin        float64   `json:"avg_win"`
	AvgLoss       float64   `json:"avg_loss"`
	CurrentStreak int       `json:"current_streak"`
	MaxWinStreak  int       `json:"max_win_streak"`
	MaxLossStreak int       `json:"max_loss_streak"`
	LastUpdated   time.Time `json:"last_updated"`
}

// Trades returns the total number of recorded trades.
func (p StrategyPerformance) Trades() int { return p.Wins + p.Losses }

// WinRate returns wins over total trades, 0 with no history.
func (p StrategyPerformance) WinRate() float64 {
	if p.Trades() == 0 {
		return 0
	}
	return float64(p.Wins) / float64(p.Trades())
}

// ProfitFactor returns avg-win-weighted gross profit over gross loss.
// Returns 3 (the fusion cap) when there are wins but no losses.
func (p StrategyPerformance) ProfitFactor() float64 {
	grossWin := p.AvgWin * float64(p.Wins)
	grossLoss := -p.AvgLoss * float64(p.Losses)
	if grossLoss <= 0 {
		if grossWin > 0 {
			return 3
		}
		return 0
	}
	return grossWin / grossLoss
}

// RegimeParams holds the learned risk parameters for one regime bucket.
type RegimeParams struct {
	StopMultiplier   float64 `json:"stop_multiplier"`
	TargetMultiplier float64 `json:"target_multiplier"`
	Wins             int     `json:"wins"`
	Losses           int     `json:"losses"`
}

// OptimalParameters groups the learned per-regime risk parameters and
// the confidence threshold gating fused signals.
type OptimalParameters struct {
	Trending            RegimeParams `json:"trending"`
	Ranging             RegimeParams `json:"ranging"`
	Volatile            RegimeParams `json:"volatile"`
	ConfidenceThreshold float64      `json:"confidence_threshold"`
}

// DefaultOptimalParameters returns the starting risk parameters used
// before any learning has happened.
func DefaultOptimalParameters() OptimalParameters {
	return OptimalParameters{
		Trending:            RegimeParams{StopMultiplier: 1.5, TargetMultiplier: 3.0},
		Ranging:             RegimeParams{StopMultiplier: 1.2, TargetMultiplier: 2.0},
		Volatile:            RegimeParams{StopMultiplier: 2.0, TargetMultiplier: 2.5},
		ConfidenceThreshold: 60,
	}
}

// bucket returns a pointer to the bucket for the given regime.
func (o *OptimalParameters) bucket(r regime.Regime) *RegimeParams {
	switch regime.Bucket(r) {
	case "trending":
		return &o.Trending
	case "volatile":
		return &o.Volatile
	default:
		return &o.Ranging
	}
}

// FeatureWeights holds a learned importance weight per feature name,
// each in (0, 1].
type FeatureWeights map[string]float64

// DefaultFeatureWeights returns the priors used before the first retrain.
func DefaultFeatureWeights() FeatureWeights {
	return FeatureWeights{
		"trend_strength":        0.8,
		"rsi_14":                0.7,
		"atr_ratio":             0.6,
		"macd_histogram":        0.6,
		"volume_ratio":          0.5,
		"rsi_divergence":        0.5,
		"macd_crossover":        0.5,
		"volatility_percentile": 0.4,
		"price_vs_ema_21":       0.4,
	}
}

// Signal is the fused decision emitted per evaluation step.
type Signal struct {
	Direction        strategies.Direction `json:"direction"`
	Strength         Strength             `json:"strength"`
	Confidence       float64              `json:"confidence"`
	Regime           regime.Regime        `json:"regime"`
	StopMultiplier   float64              `json:"stop_multiplier"`
	TargetMultiplier float64              `json:"target_multiplier"`
	SizeMultiplier   float64              `json:"size_multiplier"`
	Strategy         string               `json:"strategy,omitempty"`
	Pattern          string               `json:"pattern,omitempty"`
	Reasons          []string             `json:"reasons"`
	WeightsUsed      map[string]float64   `json:"weights_used"`
	Time             time.Time            `json:"time"`
}

// LearningState is the persistable snapshot of all mutable learned
// state. It is what the store round-trips across restarts.
type LearningState struct {
	History        []TradeOutcome                 `json:"history"`
	Performance    map[string]StrategyPerformance `json:"performance"`
	Params         OptimalParameters              `json:"params"`
	FeatureWeights FeatureWeights                 `json:"feature_weights"`
	TotalRecorded  int                            `json:"total_recorded"`
}
