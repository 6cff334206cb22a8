package strategies

import (
	"time"

	"futures-trading-engine/internal/features"
	"futures-trading-engine/internal/market"
	"futures-trading-engine/internal/regime"
)

// SessionVWAP computes the volume-weighted average price anchored at the
// most recent UTC calendar-day boundary in the window. Returns 0 when the
// session has no volume.
func SessionVWAP(candles []market.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	// Walk back to the start of the last session.
	start := len(candles) - 1
	lastDay := candles[len(candles)-1].Time.UTC().Truncate(24 * time.Hour)
	for start > 0 {
		day := candles[start-1].Time.UTC().Truncate(24 * time.Hour)
		if !day.Equal(lastDay) {
			break
		}
		start--
	}

	pvSum := 0.0
	volSum := 0.0
	for i := start; i < len(candles); i++ {
		typical := (candles[i].High + candles[i].Low + candles[i].Close) / 3
		pvSum += typical * candles[i].Volume
		volSum += candles[i].Volume
	}
	if volSum == 0 {
		return 0
	}
	return pvSum / volSum
}

// VWAPBounce detects a bounce off (or rejection of) the session VWAP.
// A long needs price to dip to VWAP and close bullish above it with the
// regime not fighting the trade; the short case mirrors.
type VWAPBounce struct{}

func (s *VWAPBounce) Name() string { return "vwap_bounce" }

func (s *VWAPBounce) Evaluate(candles []market.Candle, f features.PatternFeatures, r regime.Regime) *Proposal {
	if len(candles) < 20 {
		return nil
	}
	vwap := SessionVWAP(candles)
	if vwap <= 0 {
		return nil
	}
	last := candles[len(candles)-1]
	band := vwap * 0.0015

	if p := s.bounce(last, vwap, band, f, r); p != nil {
		return p
	}
	return s.rejection(last, vwap, band, f, r)
}

func (s *VWAPBounce) bounce(last market.Candle, vwap, band float64, f features.PatternFeatures, r regime.Regime) *Proposal {
	confirmations := 0
	reasons := []string{}

	if last.Low <= vwap+band {
		confirmations++
		reasons = append(reasons, "dipped to session VWAP")
	}
	if last.IsBullish() && last.Close > vwap {
		confirmations++
		reasons = append(reasons, "bullish close back above VWAP")
	}
	if r == regime.TrendingUp || (r == regime.Ranging && f.TrendStrength >= 0) {
		confirmations++
		reasons = append(reasons, "regime supports longs")
	}
	if f.VolumeRatio > 1.0 {
		confirmations++
		reasons = append(reasons, "above-average volume")
	}

	if confirmations < 3 {
		return nil
	}
	return &Proposal{
		Strategy:   s.Name(),
		Pattern:    "vwap_bounce",
		Direction:  Long,
		Confidence: 50 + float64(confirmations)*6,
		Reasons:    reasons,
	}
}

func (s *VWAPBounce) rejection(last market.Candle, vwap, band float64, f features.PatternFeatures, r regime.Regime) *Proposal {
	confirmations := 0
	reasons := []string{}

	if last.High >= vwap-band {
		confirmations++
		reasons = append(reasons, "rallied into session VWAP")
	}
	if last.IsBearish() && last.Close < vwap {
		confirmations++
		reasons = append(reasons, "bearish close back below VWAP")
	}
	if r == regime.TrendingDown || (r == regime.Ranging && f.TrendStrength <= 0) {
		confirmations++
		reasons = append(reasons, "regime supports shorts")
	}
	if f.VolumeRatio > 1.0 {
		confirmations++
		reasons = append(reasons, "above-average volume")
	}

	if confirmations < 3 {
		return nil
	}
	return &Proposal{
		Strategy:   s.Name(),
		Pattern:    "vwap_rejection",
		Direction:  Short,
		Confidence: 50 + float64(confirmations)*6,
		Reasons:    reasons,
	}
}
