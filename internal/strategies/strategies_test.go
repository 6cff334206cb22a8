package strategies

import (
	"testing"
	"time"

	"futures-trading-engine/internal/features"
	"futures-trading-engine/internal/market"
	"futures-trading-engine/internal/regime"
)

func seriesAt(start time.Time, prices []float64, volume float64) []market.Candle {
	candles := make([]market.Candle, len(prices))
	prev := prices[0]
	for i, p := range prices {
		open := prev
		high := open
		low := open
		if p > high {
			high = p
		}
		if p < low {
			low = p
		}
		candles[i] = market.Candle{
			Time:   start.Add(time.Duration(i) * time.Minute),
			Open:   open,
			High:   high + 0.25,
			Low:    low - 0.25,
			Close:  p,
			Volume: volume,
		}
		prev = p
	}
	return candles
}

func flatSeries(n int, price float64) []market.Candle {
	prices := make([]float64, n)
	for i := range prices {
		prices[i] = price
	}
	return seriesAt(time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC), prices, 1000)
}

func TestMeanReversionSuppressedInStrongTrend(t *testing.T) {
	s := &MeanReversion{}
	candles := flatSeries(40, 5000)
	// Crash the last bar well below the band.
	last := &candles[len(candles)-1]
	last.Open = 5000
	last.Close = 4950
	last.Low = 4949
	last.High = 5000.5

	f := features.Neutral()
	f.RSI14 = 20

	if p := s.Evaluate(candles, f, regime.TrendingDown); p != nil {
		t.Errorf("mean reversion must not fire in a strong trend, got %+v", p)
	}
	if p := s.Evaluate(candles, f, regime.TrendingUp); p != nil {
		t.Errorf("mean reversion must not fire in a strong trend, got %+v", p)
	}
}

func TestMeanReversionFadesOversoldHammer(t *testing.T) {
	s := &MeanReversion{}
	candles := flatSeries(40, 5000)
	// Last bar: deep flush below the band that recovers into a hammer.
	last := &candles[len(candles)-1]
	last.Open = 4980.0
	last.Low = 4940.0
	last.Close = 4979.0
	last.High = 4979.5

	f := features.Neutral()
	f.RSI14 = 22
	f.RSIDivergence = 1

	p := s.Evaluate(candles, f, regime.Ranging)
	if p == nil {
		t.Fatal("expected a mean reversion long proposal")
	}
	if p.Direction != Long {
		t.Errorf("expected LONG, got %s", p.Direction)
	}
	if p.Confidence < 50 {
		t.Errorf("expected confidence above threshold floor, got %f", p.Confidence)
	}
}

func TestMomentumBreakoutLong(t *testing.T) {
	s := &MomentumBreakout{}
	prices := make([]float64, 40)
	for i := range prices {
		prices[i] = 5000 // tight 20-bar range
	}
	prices[39] = 5015 // decisive break
	candles := seriesAt(time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC), prices, 1000)
	candles[39].Volume = 2500

	f := features.Neutral()
	f.RSI14 = 62
	f.TrendStrength = 0.4
	f.VolumeRatio = 2.5

	p := s.Evaluate(candles, f, regime.Breakout)
	if p == nil {
		t.Fatal("expected a breakout proposal")
	}
	if p.Direction != Long {
		t.Errorf("expected LONG, got %s", p.Direction)
	}
}

func TestMomentumBreakoutNeedsConfirmation(t *testing.T) {
	s := &MomentumBreakout{}
	prices := make([]float64, 40)
	for i := range prices {
		prices[i] = 5000
	}
	prices[39] = 5015
	candles := seriesAt(time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC), prices, 1000)

	// Break with no volume, weak RSI, no trend, adverse regime.
	f := features.Neutral()
	f.RSI14 = 48
	f.VolumeRatio = 0.8
	f.TrendStrength = -0.1

	if p := s.Evaluate(candles, f, regime.Ranging); p != nil {
		t.Errorf("unconfirmed break should not propose, got %+v", p)
	}
}

func TestVWAPBounceLong(t *testing.T) {
	s := &VWAPBounce{}
	candles := flatSeries(30, 5000)
	// Last bar dips through VWAP and closes bullish above it.
	last := &candles[len(candles)-1]
	last.Open = 5000.0
	last.Low = 4995.0
	last.Close = 5002.0
	last.High = 5002.5

	f := features.Neutral()
	f.VolumeRatio = 1.4
	f.TrendStrength = 0.2

	p := s.Evaluate(candles, f, regime.Ranging)
	if p == nil {
		t.Fatal("expected a VWAP bounce proposal")
	}
	if p.Direction != Long {
		t.Errorf("expected LONG, got %s", p.Direction)
	}
}

func TestEMAPullbackLong(t *testing.T) {
	s := &EMAPullback{}
	// Gentle uptrend so EMA20 sits just below price.
	prices := make([]float64, 60)
	p0 := 5000.0
	for i := range prices {
		prices[i] = p0 + float64(i)*0.5
	}
	candles := seriesAt(time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC), prices, 1000)

	ema20 := features.CalculateEMA(candles[:len(candles)-1], 20)

	// Prior bar sells off into the EMA, last bar bounces bullish.
	prev := &candles[len(candles)-2]
	prev.Open = ema20 + 3
	prev.Close = ema20 + 0.5
	prev.High = prev.Open + 0.25
	prev.Low = ema20 - 0.5
	last := &candles[len(candles)-1]
	last.Open = ema20 + 0.5
	last.Close = ema20 + 4
	last.High = last.Close + 0.25
	last.Low = last.Open - 0.25

	f := features.Neutral()
	f.TrendStrength = 0.8
	f.RSI14 = 58

	p := s.Evaluate(candles, f, regime.TrendingUp)
	if p == nil {
		t.Fatal("expected an EMA pullback proposal")
	}
	if p.Direction != Long {
		t.Errorf("expected LONG, got %s", p.Direction)
	}
	if len(p.Reasons) < 4 {
		t.Errorf("expected at least 4 confirmations, got %v", p.Reasons)
	}
}

func TestDefaultSetOrder(t *testing.T) {
	names := Names(DefaultSet())
	want := []string{"ema_pullback", "vwap_bounce", "momentum_breakout", "mean_reversion"}
	if len(names) != len(want) {
		t.Fatalf("expected %d strategies, got %d", len(want), len(names))
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("priority slot %d: expected %s, got %s", i, want[i], names[i])
		}
	}
}

func TestSessionVWAPResetsAtDayBoundary(t *testing.T) {
	day1 := seriesAt(time.Date(2025, 6, 2, 22, 0, 0, 0, time.UTC), []float64{4000, 4000, 4000}, 1000)
	day2 := seriesAt(time.Date(2025, 6, 3, 0, 1, 0, 0, time.UTC), []float64{5000, 5000, 5000}, 1000)
	candles := append(day1, day2...)

	vwap := SessionVWAP(candles)
	// Anchored at day 2, so the 4000 prints must not drag it down.
	if vwap < 4990 || vwap > 5010 {
		t.Errorf("expected VWAP anchored to current session near 5000, got %f", vwap)
	}
}
