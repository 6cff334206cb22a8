package strategies

import (
	"futures-trading-engine/internal/features"
	"futures-trading-engine/internal/market"
	"futures-trading-engine/internal/regime"
)

// MeanReversion fades extreme extensions from the 20-bar Bollinger mean:
// |z-score| above 2 plus a reversal candle shape and an RSI extreme.
// Never fires while the regime is a strong trend.
type MeanReversion struct{}

func (s *MeanReversion) Name() string { return "mean_reversion" }

func (s *MeanReversion) Evaluate(candles []market.Candle, f features.PatternFeatures, r regime.Regime) *Proposal {
	if r == regime.TrendingUp || r == regime.TrendingDown {
		return nil
	}
	if len(candles) < 20 {
		return nil
	}

	bands := features.CalculateBollingerBands(candles, 20, 2.0)
	if bands.StdDev <= 0 {
		return nil
	}
	last := candles[len(candles)-1]
	z := (last.Close - bands.Middle) / bands.StdDev

	if z <= -2 {
		return s.fadeLow(last, z, f)
	}
	if z >= 2 {
		return s.fadeHigh(last, z, f)
	}
	return nil
}

func (s *MeanReversion) fadeLow(last market.Candle, z float64, f features.PatternFeatures) *Proposal {
	confirmations := 1 // z-score extension
	reasons := []string{"extended below 2 std dev"}

	if isHammer(last) {
		confirmations++
		reasons = append(reasons, "hammer reversal candle")
	}
	if f.RSI14 < 30 {
		confirmations++
		reasons = append(reasons, "oversold RSI")
	}
	if f.RSIDivergence > 0 {
		confirmations++
		reasons = append(reasons, "bullish RSI divergence")
	}

	if confirmations < 3 {
		return nil
	}
	return &Proposal{
		Strategy:   s.Name(),
		Pattern:    "mean_reversion_long",
		Direction:  Long,
		Confidence: 48 + float64(confirmations)*7,
		Reasons:    reasons,
	}
}

func (s *MeanReversion) fadeHigh(last market.Candle, z float64, f features.PatternFeatures) *Proposal {
	confirmations := 1
	reasons := []string{"extended above 2 std dev"}

	if isShootingStar(last) {
		confirmations++
		reasons = append(reasons, "shooting star reversal candle")
	}
	if f.RSI14 > 70 {
		confirmations++
		reasons = append(reasons, "overbought RSI")
	}
	if f.RSIDivergence < 0 {
		confirmations++
		reasons = append(reasons, "bearish RSI divergence")
	}

	if confirmations < 3 {
		return nil
	}
	return &Proposal{
		Strategy:   s.Name(),
		Pattern:    "mean_reversion_short",
		Direction:  Short,
		Confidence: 48 + float64(confirmations)*7,
		Reasons:    reasons,
	}
}

// isHammer: small body near the top of the range with a long lower wick.
func isHammer(c market.Candle) bool {
	rng := c.Range()
	if rng <= 0 {
		return false
	}
	body := c.Body()
	return body < rng*0.35 && c.LowerWick() > body*2 && c.UpperWick() < body
}

// isShootingStar: small body near the bottom with a long upper wick.
func isShootingStar(c market.Candle) bool {
	rng := c.Range()
	if rng <= 0 {
		return false
	}
	body := c.Body()
	return body < rng*0.35 && c.UpperWick() > body*2 && c.LowerWick() < body
}
