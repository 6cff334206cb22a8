package features

import (
	"math"
	"time"

	"futures-trading-engine/internal/market"
)

// MinHistory is the minimum candle window required for full feature
// extraction. Shorter windows produce the documented neutral defaults.
const MinHistory = 50

// PatternFeatures is the named feature vector derived from a candle window.
// It is computed per evaluation step and never persisted.
type PatternFeatures struct {
	PriceChange1  float64 `json:"price_change_1"`
	PriceChange5  float64 `json:"price_change_5"`
	PriceChange15 float64 `json:"price_change_15"`

	ATR14                float64 `json:"atr_14"`
	ATR50                float64 `json:"atr_50"`
	ATRRatio             float64 `json:"atr_ratio"`
	VolatilityPercentile float64 `json:"volatility_percentile"`

	EMA9          float64 `json:"ema_9"`
	EMA21         float64 `json:"ema_21"`
	EMA50         float64 `json:"ema_50"`
	TrendStrength float64 `json:"trend_strength"`
	PriceVsEMA21  float64 `json:"price_vs_ema_21"`

	RSI14         float64 `json:"rsi_14"`
	RSIDivergence float64 `json:"rsi_divergence"`

	MACDHistogram float64 `json:"macd_histogram"`
	MACDCrossover float64 `json:"macd_crossover"`

	VolumeRatio float64 `json:"volume_ratio"`
	VolumeTrend float64 `json:"volume_trend"`

	HigherHighs     float64 `json:"higher_highs"`
	LowerLows       float64 `json:"lower_lows"`
	DistToSwingHigh float64 `json:"dist_to_swing_high"`
	DistToSwingLow  float64 `json:"dist_to_swing_low"`

	HourOfDay float64 `json:"hour_of_day"`
	DayOfWeek float64 `json:"day_of_week"`
	IsRTH     bool    `json:"is_rth"`
}

// Map returns the numeric features keyed by name, used by the feature
// weight learner. Calendar features are included; IsRTH maps to 0/1.
func (f PatternFeatures) Map() map[string]float64 {
	rth := 0.0
	if f.IsRTH {
		rth = 1.0
	}
	return map[string]float64{
		"price_change_1":        f.PriceChange1,
		"price_change_5":        f.PriceChange5,
		"price_change_15":       f.PriceChange15,
		"atr_ratio":             f.ATRRatio,
		"volatility_percentile": f.VolatilityPercentile,
		"trend_strength":        f.TrendStrength,
		"price_vs_ema_21":       f.PriceVsEMA21,
		"rsi_14":                f.RSI14,
		"rsi_divergence":        f.RSIDivergence,
		"macd_histogram":        f.MACDHistogram,
		"macd_crossover":        f.MACDCrossover,
		"volume_ratio":          f.VolumeRatio,
		"volume_trend":          f.VolumeTrend,
		"higher_highs":          f.HigherHighs,
		"lower_lows":            f.LowerLows,
		"dist_to_swing_high":    f.DistToSwingHigh,
		"dist_to_swing_low":     f.DistToSwingLow,
		"hour_of_day":           f.HourOfDay,
		"day_of_week":           f.DayOfWeek,
		"is_rth":                rth,
	}
}

// Neutral returns the documented default vector used when the candle
// window is too short: all deltas zero, RSI 50, ATR ratio 1, volatility
// percentile 50, regular trading hours assumed.
func Neutral() PatternFeatures {
	return PatternFeatures{
		ATRRatio:             1.0,
		VolatilityPercentile: 50.0,
		RSI14:                50.0,
		IsRTH:                true,
	}
}

// Extractor computes PatternFeatures from candle windows. Calendar
// features use the exchange-local time zone and RTH session window.
type Extractor struct {
	loc      *time.Location
	rthStart int // minutes after midnight, exchange-local
	rthEnd   int
}

// NewExtractor creates an extractor for the given exchange time zone and
// regular-trading-hours window (minutes after local midnight).
func NewExtractor(loc *time.Location, rthStartMin, rthEndMin int) *Extractor {
	if loc == nil {
		loc = time.UTC
	}
	return &Extractor{loc: loc, rthStart: rthStartMin, rthEnd: rthEndMin}
}

// NewCMEExtractor returns an extractor configured for CME equity index
// futures: Chicago time, RTH 08:30-15:00.
func NewCMEExtractor() *Extractor {
	loc, err := time.LoadLocation("America/Chicago")
	if err != nil {
		loc = time.UTC
	}
	return NewExtractor(loc, 8*60+30, 15*60)
}

// Extract computes the feature vector for the candle window. Windows
// shorter than MinHistory yield Neutral() with calendar fields filled
// from the last candle when one exists. Never returns an error.
func (e *Extractor) Extract(candles []market.Candle) PatternFeatures {
	if len(candles) < MinHistory {
		f := Neutral()
		if len(candles) > 0 {
			e.fillCalendar(&f, candles[len(candles)-1].Time)
		}
		return f
	}

	last := candles[len(candles)-1]
	f := PatternFeatures{}

	f.PriceChange1 = percentChange(candles, 1)
	f.PriceChange5 = percentChange(candles, 5)
	f.PriceChange15 = percentChange(candles, 15)

	f.ATR14 = CalculateATR(candles, 14)
	f.ATR50 = CalculateATR(candles, 50)
	if f.ATR50 > 0 {
		f.ATRRatio = f.ATR14 / f.ATR50
	} else {
		f.ATRRatio = 1.0
	}
	f.VolatilityPercentile = volatilityPercentile(candles, f.ATR14)

	f.EMA9 = CalculateEMA(candles, 9)
	f.EMA21 = CalculateEMA(candles, 21)
	f.EMA50 = CalculateEMA(candles, 50)
	f.TrendStrength = trendStrength(f.EMA9, f.EMA21, f.EMA50)
	if f.EMA21 > 0 {
		f.PriceVsEMA21 = (last.Close - f.EMA21) / f.EMA21 * 100
	}

	f.RSI14 = CalculateRSI(candles, 14)
	f.RSIDivergence = rsiDivergence(candles, f.RSI14)

	macd := CalculateMACD(candles, 12, 26, 9)
	f.MACDHistogram = macd.Histogram
	f.MACDCrossover = macd.Crossover

	f.VolumeRatio, f.VolumeTrend = volumeFeatures(candles)

	f.HigherHighs, f.LowerLows = swingCounts(candles)
	swingHigh := market.HighestHigh(candles, 20)
	swingLow := market.LowestLow(candles, 20)
	if last.Close > 0 {
		f.DistToSwingHigh = (swingHigh - last.Close) / last.Close * 100
		f.DistToSwingLow = (last.Close - swingLow) / last.Close * 100
	}

	e.fillCalendar(&f, last.Time)
	return f
}

func (e *Extractor) fillCalendar(f *PatternFeatures, t time.Time) {
	local := t.In(e.loc)
	f.HourOfDay = float64(local.Hour())
	f.DayOfWeek = float64(local.Weekday())
	minutes := local.Hour()*60 + local.Minute()
	weekday := local.Weekday()
	f.IsRTH = weekday >= time.Monday && weekday <= time.Friday &&
		minutes >= e.rthStart && minutes < e.rthEnd
}

func percentChange(candles []market.Candle, bars int) float64 {
	n := len(candles)
	if n <= bars {
		return 0
	}
	prev := candles[n-1-bars].Close
	if prev == 0 {
		return 0
	}
	return (candles[n-1].Close - prev) / prev * 100
}

// trendStrength is +1 on full bullish EMA alignment, -1 on full bearish
// alignment, otherwise the EMA9-EMA50 spread as a percent of EMA50
// clamped to (-1, 1).
func trendStrength(ema9, ema21, ema50 float64) float64 {
	if ema9 > ema21 && ema21 > ema50 {
		return 1.0
	}
	if ema9 < ema21 && ema21 < ema50 {
		return -1.0
	}
	if ema50 == 0 {
		return 0
	}
	v := (ema9 - ema50) / ema50 * 100
	if v > 0.99 {
		v = 0.99
	}
	if v < -0.99 {
		v = -0.99
	}
	return v
}

// volatilityPercentile is the fraction of a trailing rolling-ATR series
// sitting below the current ATR14, times 100.
func volatilityPercentile(candles []market.Candle, currentATR float64) float64 {
	if currentATR <= 0 {
		return 50
	}
	// Rolling ATR14 values ending at each of the trailing bars.
	samples := 0
	below := 0
	for end := 15; end <= len(candles); end++ {
		atr := CalculateATR(candles[:end], 14)
		if atr <= 0 {
			continue
		}
		samples++
		if atr < currentATR {
			below++
		}
	}
	if samples == 0 {
		return 50
	}
	return float64(below) / float64(samples) * 100
}

// rsiDivergence flags a sign mismatch between the 5-bar price trend and
// the 5-bar RSI trend: +1 bullish divergence (price down, RSI up),
// -1 bearish divergence (price up, RSI down), 0 otherwise.
func rsiDivergence(candles []market.Candle, currentRSI float64) float64 {
	n := len(candles)
	if n < MinHistory+5 {
		return 0
	}
	priceTrend := candles[n-1].Close - candles[n-6].Close
	rsiTrend := currentRSI - CalculateRSI(candles[:n-5], 14)

	if priceTrend > 0 && rsiTrend < 0 {
		return -1
	}
	if priceTrend < 0 && rsiTrend > 0 {
		return 1
	}
	return 0
}

func volumeFeatures(candles []market.Candle) (ratio, trend float64) {
	n := len(candles)
	avg20 := CalculateAverageVolume(candles[:n-1], 20)
	if avg20 > 0 {
		ratio = candles[n-1].Volume / avg20
	} else {
		ratio = 1.0
	}
	recent := CalculateAverageVolume(candles, 5)
	if recent > avg20 {
		trend = 1
	}
	return ratio, trend
}

// swingCounts samples highs/lows every 5 bars over the trailing 20 and
// counts consecutive higher highs and lower lows.
func swingCounts(candles []market.Candle) (higherHighs, lowerLows float64) {
	n := len(candles)
	if n < 21 {
		return 0, 0
	}
	idx := []int{n - 16, n - 11, n - 6, n - 1}
	for i := 1; i < len(idx); i++ {
		if candles[idx[i]].High > candles[idx[i-1]].High {
			higherHighs++
		}
		if candles[idx[i]].Low < candles[idx[i-1]].Low {
			lowerLows++
		}
	}
	return higherHighs, lowerLows
}

// Clamp bounds v to [lo, hi]. Shared by the risk-sizing code paths.
func Clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
