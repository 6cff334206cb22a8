package features

import (
	"math"

	"futures-trading-engine/internal/market"
)

// ============================================================================
// MOVING AVERAGES
// ============================================================================

// CalculateSMA calculates the Simple Moving Average of closes.
func CalculateSMA(candles []market.Candle, period int) float64 {
	if len(candles) < period || period <= 0 {
		return 0
	}
	sum := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		sum += candles[i].Close
	}
	return sum / float64(period)
}

// CalculateEMA calculates the Exponential Moving Average of closes,
// seeded from an initial SMA.
func CalculateEMA(candles []market.Candle, period int) float64 {
	if len(candles) < period || period <= 0 {
		return 0
	}
	ema := CalculateSMA(candles[:period], period)
	multiplier := 2.0 / float64(period+1)
	for i := period; i < len(candles); i++ {
		ema = (candles[i].Close * multiplier) + (ema * (1 - multiplier))
	}
	return ema
}

// emaSeries computes an EMA over an arbitrary value series.
// Returns nil when the series is shorter than the period.
func emaSeries(values []float64, period int) []float64 {
	if len(values) < period || period <= 0 {
		return nil
	}
	out := make([]float64, 0, len(values)-period+1)
	seed := 0.0
	for i := 0; i < period; i++ {
		seed += values[i]
	}
	ema := seed / float64(period)
	out = append(out, ema)
	multiplier := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		ema = (values[i] * multiplier) + (ema * (1 - multiplier))
		out = append(out, ema)
	}
	return out
}

// ============================================================================
// RSI (Wilder smoothing)
// ============================================================================

// CalculateRSI calculates the Relative Strength Index with Wilder-style
// smoothed average gain/loss. Returns 50 when there is not enough history.
func CalculateRSI(candles []market.Candle, period int) float64 {
	if len(candles) < period+1 || period <= 0 {
		return 50.0
	}

	gains := 0.0
	losses := 0.0
	for i := 1; i <= period; i++ {
		change := candles[i].Close - candles[i-1].Close
		if change > 0 {
			gains += change
		} else {
			losses += -change
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	for i := period + 1; i < len(candles); i++ {
		change := candles[i].Close - candles[i-1].Close
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// ============================================================================
// ATR (Average True Range)
// ============================================================================

// CalculateATR calculates the rolling mean of the true range over period.
func CalculateATR(candles []market.Candle, period int) float64 {
	if len(candles) < period+1 || period <= 0 {
		return 0
	}
	trSum := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		trSum += trueRange(candles[i], candles[i-1])
	}
	return trSum / float64(period)
}

func trueRange(current, previous market.Candle) float64 {
	hl := current.High - current.Low
	hc := math.Abs(current.High - previous.Close)
	lc := math.Abs(current.Low - previous.Close)
	return math.Max(hl, math.Max(hc, lc))
}

// ============================================================================
// MACD
// ============================================================================

// MACDResult holds the MACD line, its signal line, the histogram, and a
// crossover flag: +1 when MACD crossed above the signal on the last bar,
// -1 when it crossed below, 0 otherwise.
type MACDResult struct {
	MACD      float64
	Signal    float64
	Histogram float64
	Crossover float64
}

// CalculateMACD computes MACD from EMA series over the full window so the
// signal line is a true EMA of the MACD series, not an approximation.
func CalculateMACD(candles []market.Candle, fastPeriod, slowPeriod, signalPeriod int) MACDResult {
	if len(candles) < slowPeriod+signalPeriod {
		return MACDResult{}
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	fast := emaSeries(closes, fastPeriod)
	slow := emaSeries(closes, slowPeriod)
	if fast == nil || slow == nil {
		return MACDResult{}
	}

	// Align the fast series to the slow one; both end at the last bar.
	offset := len(fast) - len(slow)
	macdLine := make([]float64, len(slow))
	for i := range slow {
		macdLine[i] = fast[i+offset] - slow[i]
	}

	signal := emaSeries(macdLine, signalPeriod)
	if signal == nil {
		return MACDResult{}
	}

	last := len(signal) - 1
	macdLast := macdLine[len(macdLine)-1]
	diff := macdLast - signal[last]

	crossover := 0.0
	if last > 0 {
		prevDiff := macdLine[len(macdLine)-2] - signal[last-1]
		if prevDiff <= 0 && diff > 0 {
			crossover = 1
		} else if prevDiff >= 0 && diff < 0 {
			crossover = -1
		}
	}

	return MACDResult{
		MACD:      macdLast,
		Signal:    signal[last],
		Histogram: diff,
		Crossover: crossover,
	}
}

// ============================================================================
// BOLLINGER BANDS
// ============================================================================

// BollingerBands holds the Bollinger band levels and the close standard
// deviation used to build them.
type BollingerBands struct {
	Upper  float64
	Middle float64
	Lower  float64
	StdDev float64
}

// CalculateBollingerBands calculates Bollinger Bands over period closes.
func CalculateBollingerBands(candles []market.Candle, period int, stdDevMultiplier float64) BollingerBands {
	if len(candles) < period || period <= 0 {
		return BollingerBands{}
	}

	middle := CalculateSMA(candles, period)
	variance := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		diff := candles[i].Close - middle
		variance += diff * diff
	}
	stdDev := math.Sqrt(variance / float64(period))

	return BollingerBands{
		Upper:  middle + stdDev*stdDevMultiplier,
		Middle: middle,
		Lower:  middle - stdDev*stdDevMultiplier,
		StdDev: stdDev,
	}
}

// ============================================================================
// VOLUME
// ============================================================================

// CalculateAverageVolume calculates average volume over the last period bars.
func CalculateAverageVolume(candles []market.Candle, period int) float64 {
	if len(candles) == 0 {
		return 0
	}
	if len(candles) < period {
		period = len(candles)
	}
	sum := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		sum += candles[i].Volume
	}
	return sum / float64(period)
}
