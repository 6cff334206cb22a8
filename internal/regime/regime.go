package regime

import (
	"futures-trading-engine/internal/features"
)

// Regime labels the market condition derived from one feature vector.
type Regime string

const (
	TrendingUp   Regime = "TRENDING_UP"
	TrendingDown Regime = "TRENDING_DOWN"
	Ranging      Regime = "RANGING"
	Volatile     Regime = "VOLATILE"
	Breakout     Regime = "BREAKOUT"
)

// Thresholds are the hand-tuned classification constants. They are kept
// configurable because none of them has been calibrated against held-out
// data; treat the defaults as a starting point, not validated optima.
type Thresholds struct {
	StrongTrend      float64 // full trend rule, default 0.7
	ModerateTrend    float64 // fallback trend rule, default 0.3
	TrendRSIHigh     float64 // default 55
	TrendRSILow      float64 // default 45
	HighVolATRRatio  float64 // default 1.5
	HighVolPctl      float64 // default 80
	LowVolATRRatio   float64 // default 0.8
	BreakoutProximty float64 // percent distance to a swing extreme, default 0.2
}

// DefaultThresholds returns the stock classification constants.
func DefaultThresholds() Thresholds {
	return Thresholds{
		StrongTrend:      0.7,
		ModerateTrend:    0.3,
		TrendRSIHigh:     55,
		TrendRSILow:      45,
		HighVolATRRatio:  1.5,
		HighVolPctl:      80,
		LowVolATRRatio:   0.8,
		BreakoutProximty: 0.2,
	}
}

// Classifier maps feature vectors to regimes. Pure and deterministic,
// so identical vectors always classify identically.
type Classifier struct {
	t Thresholds
}

// NewClassifier builds a classifier; zero-valued thresholds fall back
// to the defaults.
func NewClassifier(t Thresholds) *Classifier {
	d := DefaultThresholds()
	if t.StrongTrend == 0 {
		t.StrongTrend = d.StrongTrend
	}
	if t.ModerateTrend == 0 {
		t.ModerateTrend = d.ModerateTrend
	}
	if t.TrendRSIHigh == 0 {
		t.TrendRSIHigh = d.TrendRSIHigh
	}
	if t.TrendRSILow == 0 {
		t.TrendRSILow = d.TrendRSILow
	}
	if t.HighVolATRRatio == 0 {
		t.HighVolATRRatio = d.HighVolATRRatio
	}
	if t.HighVolPctl == 0 {
		t.HighVolPctl = d.HighVolPctl
	}
	if t.LowVolATRRatio == 0 {
		t.LowVolATRRatio = d.LowVolATRRatio
	}
	if t.BreakoutProximty == 0 {
		t.BreakoutProximty = d.BreakoutProximty
	}
	return &Classifier{t: t}
}

// Classify runs the ordered rule cascade, first match wins.
func (c *Classifier) Classify(f features.PatternFeatures) Regime {
	t := c.t

	// Strong, confirmed trends.
	if f.TrendStrength > t.StrongTrend && f.HigherHighs >= 3 && f.RSI14 > t.TrendRSIHigh {
		return TrendingUp
	}
	if f.TrendStrength < -t.StrongTrend && f.LowerLows >= 3 && f.RSI14 < t.TrendRSILow {
		return TrendingDown
	}

	// Elevated volatility: breakout when pressed against a swing extreme,
	// otherwise just noisy.
	if f.ATRRatio > t.HighVolATRRatio || f.VolatilityPercentile > t.HighVolPctl {
		if f.DistToSwingHigh < t.BreakoutProximty || f.DistToSwingLow < t.BreakoutProximty {
			return Breakout
		}
		return Volatile
	}

	// Compressed volatility with no directional pull.
	if f.ATRRatio < t.LowVolATRRatio && f.TrendStrength > -t.ModerateTrend && f.TrendStrength < t.ModerateTrend {
		return Ranging
	}

	// Moderate trends without full confirmation.
	if f.TrendStrength > t.ModerateTrend {
		return TrendingUp
	}
	if f.TrendStrength < -t.ModerateTrend {
		return TrendingDown
	}

	return Ranging
}

// Bucket maps a regime onto the three learned-parameter buckets.
// Breakout conditions share the volatile parameters.
func Bucket(r Regime) string {
	switch r {
	case TrendingUp, TrendingDown:
		return "trending"
	case Volatile, Breakout:
		return "volatile"
	default:
		return "ranging"
	}
}
