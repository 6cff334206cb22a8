package strategies

import (
	"futures-trading-engine/internal/features"
	"futures-trading-engine/internal/market"
	"futures-trading-engine/internal/regime"
)

// EMAPullback detects a trend-continuation bounce off the EMA20: a
// counter-trend bar pulls back into the moving average, then the next
// bar closes back in the trend direction. The pullback-and-bounce pair
// is structural; regime, trend, and RSI confirmations stack on top.
type EMAPullback struct{}

func (s *EMAPullback) Name() string { return "ema_pullback" }

func (s *EMAPullback) Evaluate(candles []market.Candle, f features.PatternFeatures, r regime.Regime) *Proposal {
	if len(candles) < 20 {
		return nil
	}
	ema20 := features.CalculateEMA(candles, 20)
	if ema20 <= 0 {
		return nil
	}
	last := candles[len(candles)-1]
	prev := candles[len(candles)-2]

	touchBand := ema20 * 0.0015 // 0.15% proximity counts as a touch

	if long := s.longCase(last, prev, ema20, touchBand, f, r); long != nil {
		return long
	}
	return s.shortCase(last, prev, ema20, touchBand, f, r)
}

func (s *EMAPullback) longCase(last, prev market.Candle, ema20, touchBand float64, f features.PatternFeatures, r regime.Regime) *Proposal {
	// Structural pattern: bearish dip into the EMA, bullish close back above.
	if !prev.IsBearish() || prev.Low > ema20+touchBand {
		return nil
	}
	if !last.IsBullish() || last.Close <= ema20 {
		return nil
	}

	confirmations := 2
	reasons := []string{"pullback touched EMA20", "bullish bounce close above EMA20"}

	if r == regime.TrendingUp {
		confirmations++
		reasons = append(reasons, "uptrend regime")
	}
	if f.TrendStrength > 0.3 {
		confirmations++
		reasons = append(reasons, "bullish EMA structure")
	}
	if f.RSI14 > 45 && f.RSI14 < 70 {
		confirmations++
		reasons = append(reasons, "RSI in continuation band")
	}

	if confirmations < 4 {
		return nil
	}
	return &Proposal{
		Strategy:   s.Name(),
		Pattern:    "ema20_pullback_bounce",
		Direction:  Long,
		Confidence: 55 + float64(confirmations)*5,
		Reasons:    reasons,
	}
}

func (s *EMAPullback) shortCase(last, prev market.Candle, ema20, touchBand float64, f features.PatternFeatures, r regime.Regime) *Proposal {
	if !prev.IsBullish() || prev.High < ema20-touchBand {
		return nil
	}
	if !last.IsBearish() || last.Close >= ema20 {
		return nil
	}

	confirmations := 2
	reasons := []string{"rally touched EMA20", "bearish rejection close below EMA20"}

	if r == regime.TrendingDown {
		confirmations++
		reasons = append(reasons, "downtrend regime")
	}
	if f.TrendStrength < -0.3 {
		confirmations++
		reasons = append(reasons, "bearish EMA structure")
	}
	if f.RSI14 < 55 && f.RSI14 > 30 {
		confirmations++
		reasons = append(reasons, "RSI in continuation band")
	}

	if confirmations < 4 {
		return nil
	}
	return &Proposal{
		Strategy:   s.Name(),
		Pattern:    "ema20_pullback_rejection",
		Direction:  Short,
		Confidence: 55 + float64(confirmations)*5,
		Reasons:    reasons,
	}
}
