package features

import (
	"math"
	"testing"
	"time"

	"futures-trading-engine/internal/market"
)

func buildCandles(count int, start float64, step float64) []market.Candle {
	candles := make([]market.Candle, count)
	base := time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC) // Monday, 09:30 Chicago
	price := start
	for i := 0; i < count; i++ {
		candles[i] = market.Candle{
			Time:   base.Add(time.Duration(i) * time.Minute),
			Open:   price,
			High:   price + math.Abs(step) + 0.5,
			Low:    price - 0.5,
			Close:  price + step,
			Volume: 1000,
		}
		price += step
	}
	return candles
}

func TestExtractShortWindowReturnsNeutral(t *testing.T) {
	e := NewCMEExtractor()
	f := e.Extract(buildCandles(30, 5000, 0.5))

	if f.RSI14 != 50 {
		t.Errorf("expected neutral RSI 50, got %f", f.RSI14)
	}
	if f.ATRRatio != 1.0 {
		t.Errorf("expected neutral ATR ratio 1.0, got %f", f.ATRRatio)
	}
	if f.VolatilityPercentile != 50 {
		t.Errorf("expected neutral volatility percentile 50, got %f", f.VolatilityPercentile)
	}
	if f.PriceChange5 != 0 {
		t.Errorf("expected zero price change, got %f", f.PriceChange5)
	}
}

func TestExtractShortWindowFillsCalendar(t *testing.T) {
	e := NewCMEExtractor()
	f := e.Extract(buildCandles(10, 5000, 0.5))

	// 14:30 UTC on a Monday in June is 09:30 Chicago, inside RTH.
	if !f.IsRTH {
		t.Error("expected RTH session from last candle timestamp")
	}
	if f.DayOfWeek != float64(time.Monday) {
		t.Errorf("expected Monday, got %f", f.DayOfWeek)
	}
}

func TestExtractUptrendFeatures(t *testing.T) {
	e := NewCMEExtractor()
	candles := buildCandles(100, 5000, 2.0)
	f := e.Extract(candles)

	if f.TrendStrength != 1.0 {
		t.Errorf("expected full bullish alignment strength 1.0, got %f", f.TrendStrength)
	}
	if f.RSI14 < 70 {
		t.Errorf("expected overbought RSI in steady uptrend, got %f", f.RSI14)
	}
	if f.PriceChange5 <= 0 {
		t.Errorf("expected positive 5-bar change, got %f", f.PriceChange5)
	}
	if f.HigherHighs != 3 {
		t.Errorf("expected 3 higher highs in uptrend, got %f", f.HigherHighs)
	}
	if f.LowerLows != 0 {
		t.Errorf("expected no lower lows in uptrend, got %f", f.LowerLows)
	}
	if f.DistToSwingHigh > 0.1 {
		t.Errorf("expected price near swing high, got %f%%", f.DistToSwingHigh)
	}
}

func TestExtractDowntrendFeatures(t *testing.T) {
	e := NewCMEExtractor()
	f := e.Extract(buildCandles(100, 5000, -2.0))

	if f.TrendStrength != -1.0 {
		t.Errorf("expected full bearish alignment strength -1.0, got %f", f.TrendStrength)
	}
	if f.LowerLows != 3 {
		t.Errorf("expected 3 lower lows in downtrend, got %f", f.LowerLows)
	}
	if f.RSI14 > 30 {
		t.Errorf("expected oversold RSI in steady downtrend, got %f", f.RSI14)
	}
}

func TestExtractFlatMarket(t *testing.T) {
	e := NewCMEExtractor()
	f := e.Extract(buildCandles(100, 5000, 0))

	if f.PriceChange15 != 0 {
		t.Errorf("expected zero change in flat market, got %f", f.PriceChange15)
	}
	if math.Abs(f.TrendStrength) > 0.1 {
		t.Errorf("expected near-zero trend strength, got %f", f.TrendStrength)
	}
}

func TestCalendarWeekendNotRTH(t *testing.T) {
	e := NewCMEExtractor()
	candles := buildCandles(60, 5000, 1.0)
	// Shift the window onto a Saturday.
	for i := range candles {
		candles[i].Time = candles[i].Time.Add(5 * 24 * time.Hour)
	}
	f := e.Extract(candles)
	if f.IsRTH {
		t.Error("Saturday should not be RTH")
	}
}

func TestFeatureMapCoversVector(t *testing.T) {
	f := Neutral()
	m := f.Map()
	for _, key := range []string{"rsi_14", "atr_ratio", "trend_strength", "is_rth", "volatility_percentile"} {
		if _, ok := m[key]; !ok {
			t.Errorf("feature map missing %s", key)
		}
	}
	if m["is_rth"] != 1.0 {
		t.Errorf("expected is_rth 1.0 for neutral vector, got %f", m["is_rth"])
	}
}

func TestClamp(t *testing.T) {
	if got := Clamp(5, 0.3, 2.0); got != 2.0 {
		t.Errorf("expected clamp to 2.0, got %f", got)
	}
	if got := Clamp(-1, 0.3, 2.0); got != 0.3 {
		t.Errorf("expected clamp to 0.3, got %f", got)
	}
	if got := Clamp(1.5, 0.3, 2.0); got != 1.5 {
		t.Errorf("expected passthrough 1.5, got %f", got)
	}
}
