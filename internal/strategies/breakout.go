package strategies

import (
	"futures-trading-engine/internal/features"
	"futures-trading-engine/internal/market"
	"futures-trading-engine/internal/regime"
)

// MomentumBreakout detects a close beyond the prior 20-bar range with
// volume, RSI, EMA, and Bollinger confirmation.
type MomentumBreakout struct{}

func (s *MomentumBreakout) Name() string { return "momentum_breakout" }

func (s *MomentumBreakout) Evaluate(candles []market.Candle, f features.PatternFeatures, r regime.Regime) *Proposal {
	if len(candles) < 21 {
		return nil
	}
	last := candles[len(candles)-1]
	prior := candles[:len(candles)-1]

	rangeHigh := market.HighestHigh(prior, 20)
	rangeLow := market.LowestLow(prior, 20)
	bands := features.CalculateBollingerBands(candles, 20, 2.0)

	if last.Close > rangeHigh {
		return s.score(Long, "range_breakout_up", last, bands, f, r)
	}
	if last.Close < rangeLow {
		return s.score(Short, "range_breakout_down", last, bands, f, r)
	}
	return nil
}

func (s *MomentumBreakout) score(dir Direction, pattern string, last market.Candle, bands features.BollingerBands, f features.PatternFeatures, r regime.Regime) *Proposal {
	confirmations := 1 // range break itself
	reasons := []string{"close beyond 20-bar range"}

	if f.VolumeRatio > 1.3 {
		confirmations++
		reasons = append(reasons, "breakout volume expansion")
	}
	if r == regime.Breakout || (r == regime.TrendingUp && dir == Long) || (r == regime.TrendingDown && dir == Short) {
		confirmations++
		reasons = append(reasons, "regime aligned")
	}

	if dir == Long {
		if f.RSI14 > 55 && f.RSI14 < 80 {
			confirmations++
			reasons = append(reasons, "RSI momentum without exhaustion")
		}
		if f.TrendStrength > 0 {
			confirmations++
			reasons = append(reasons, "EMAs support upside")
		}
		if bands.Upper > 0 && last.Close > bands.Upper {
			confirmations++
			reasons = append(reasons, "close above upper Bollinger band")
		}
	} else {
		if f.RSI14 < 45 && f.RSI14 > 20 {
			confirmations++
			reasons = append(reasons, "RSI momentum without exhaustion")
		}
		if f.TrendStrength < 0 {
			confirmations++
			reasons = append(reasons, "EMAs support downside")
		}
		if bands.Lower > 0 && last.Close < bands.Lower {
			confirmations++
			reasons = append(reasons, "close below lower Bollinger band")
		}
	}

	if confirmations < 4 {
		return nil
	}
	return &Proposal{
		Strategy:   s.Name(),
		Pattern:    pattern,
		Direction:  dir,
		Confidence: 50 + float64(confirmations)*6,
		Reasons:    reasons,
	}
}
