package adaptive

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"futures-trading-engine/internal/features"
	"futures-trading-engine/internal/market"
	"futures-trading-engine/internal/regime"
	"futures-trading-engine/internal/strategies"
)

func testEngine() *Engine {
	e := NewEngine(nil, nil, nil, zerolog.Nop())
	e.now = func() time.Time { return time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC) }
	return e
}

func outcome(strategy string, r regime.Regime, pnl float64, win bool) TradeOutcome {
	return TradeOutcome{
		Strategy:           strategy,
		Direction:          strategies.Long,
		Regime:             r,
		PnLPercent:         pnl,
		Win:                win,
		StopMultiplierUsed: 1.5,
		ClosedAt:           time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC),
	}
}

func TestHistoryFIFOCap(t *testing.T) {
	e := testEngine()
	for i := 0; i < HistoryCap+75; i++ {
		o := outcome("ema_pullback", regime.Ranging, 1.0, true)
		o.PnLPercent = float64(i)
		e.RecordOutcome(o)
	}
	if got := e.HistoryLen(); got != HistoryCap {
		t.Fatalf("expected history capped at %d, got %d", HistoryCap, got)
	}
	// Oldest entries evicted first.
	s := e.Snapshot()
	if s.History[0].PnLPercent != 75 {
		t.Errorf("expected oldest surviving outcome pnl 75, got %f", s.History[0].PnLPercent)
	}
}

func TestWinningOutcomeUpdatesStopEMA(t *testing.T) {
	e := testEngine()
	o := outcome("ema_pullback", regime.TrendingUp, 2.0, true)
	o.StopMultiplierUsed = 2.0
	e.RecordOutcome(o)

	s := e.Snapshot()
	// 1.5*0.9 + 2.0*0.1 = 1.55
	if math.Abs(s.Params.Trending.StopMultiplier-1.55) > 1e-9 {
		t.Errorf("expected trending stop 1.55, got %f", s.Params.Trending.StopMultiplier)
	}
}

func TestLosingOutcomeLeavesRiskParamsAlone(t *testing.T) {
	e := testEngine()
	o := outcome("ema_pullback", regime.TrendingUp, -1.0, false)
	o.StopMultiplierUsed = 2.5
	e.RecordOutcome(o)

	s := e.Snapshot()
	if s.Params.Trending.StopMultiplier != 1.5 {
		t.Errorf("losing trade must not move stop multiplier, got %f", s.Params.Trending.StopMultiplier)
	}
	if s.Params.Trending.Losses != 1 {
		t.Errorf("expected loss tallied, got %d", s.Params.Trending.Losses)
	}
}

func TestStreakTracking(t *testing.T) {
	e := testEngine()
	for i := 0; i < 4; i++ {
		e.RecordOutcome(outcome("vwap_bounce", regime.Ranging, 1.0, true))
	}
	e.RecordOutcome(outcome("vwap_bounce", regime.Ranging, -1.0, false))
	e.RecordOutcome(outcome("vwap_bounce", regime.Ranging, -1.0, false))

	p, ok := e.Performance("vwap_bounce")
	if !ok {
		t.Fatal("expected recorded performance")
	}
	if p.MaxWinStreak != 4 {
		t.Errorf("expected max win streak 4, got %d", p.MaxWinStreak)
	}
	if p.CurrentStreak != -2 {
		t.Errorf("expected current streak -2 after two losses, got %d", p.CurrentStreak)
	}
}

func TestStrategyWeightDefaultsWithThinHistory(t *testing.T) {
	e := testEngine()
	for i := 0; i < 9; i++ {
		e.RecordOutcome(outcome("momentum_breakout", regime.Ranging, 1.0, true))
	}
	if w := e.StrategyWeight("momentum_breakout"); w != 1.0 {
		t.Errorf("expected weight 1.0 under 10 trades, got %f", w)
	}
	if w := e.StrategyWeight("never_traded"); w != 1.0 {
		t.Errorf("expected weight 1.0 for unknown strategy, got %f", w)
	}
}

func TestStrategyWeightBounds(t *testing.T) {
	e := testEngine()
	// A consistently losing strategy still gets at least the floor.
	for i := 0; i < 30; i++ {
		e.RecordOutcome(outcome("mean_reversion", regime.Ranging, -1.0, false))
	}
	w := e.StrategyWeight("mean_reversion")
	if w < 0.2 || w > 2.0 {
		t.Errorf("weight out of [0.2, 2.0]: %f", w)
	}
	if w != 0.2 {
		t.Errorf("expected all-loss strategy clamped to floor 0.2, got %f", w)
	}
}

func TestRiskParamClamps(t *testing.T) {
	e := testEngine()
	for _, atrRatio := range []float64{0.1, 0.5, 1.0, 1.5, 3.0, 10.0} {
		for _, r := range []regime.Regime{regime.TrendingUp, regime.Ranging, regime.Volatile, regime.Breakout} {
			stop, target := e.RiskParams(r, atrRatio)
			if stop < 1.0 || stop > 3.0 {
				t.Errorf("stop %f out of [1.0, 3.0] for %s atr %f", stop, r, atrRatio)
			}
			if target < 1.5 || target > 5.0 {
				t.Errorf("target %f out of [1.5, 5.0] for %s atr %f", target, r, atrRatio)
			}
		}
	}
}

func TestSizeMultiplierBounds(t *testing.T) {
	for _, conf := range []float64{0, 40, 60, 80, 100, 500} {
		for _, r := range []regime.Regime{regime.TrendingUp, regime.Ranging, regime.Volatile} {
			f := features.Neutral()
			f.VolatilityPercentile = 95
			f.VolumeRatio = 3.0
			size := sizeMultiplier(conf, r, f)
			if size < 0.3 || size > 2.0 {
				t.Errorf("size %f out of [0.3, 2.0] conf %f regime %s", size, conf, r)
			}
		}
	}
}

func TestEvaluateQuietMarketIsFlat(t *testing.T) {
	e := testEngine()
	candles := make([]market.Candle, 100)
	base := time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)
	for i := range candles {
		candles[i] = market.Candle{
			Time:   base.Add(time.Duration(i) * time.Minute),
			Open:   5000,
			High:   5000.25,
			Low:    4999.75,
			Close:  5000,
			Volume: 1000,
		}
	}
	sig := e.Evaluate(candles)
	if sig.Direction != strategies.Flat {
		t.Errorf("expected FLAT in a dead flat market, got %s", sig.Direction)
	}
	if sig.Strength != StrengthNone {
		t.Errorf("expected strength NONE, got %s", sig.Strength)
	}
	if sig.Regime == "" {
		t.Error("FLAT signal should still carry a regime")
	}
	if sig.StopMultiplier < 1.0 || sig.TargetMultiplier < 1.5 {
		t.Errorf("FLAT signal should carry risk params, got %f/%f", sig.StopMultiplier, sig.TargetMultiplier)
	}
}

func TestFuseBelowThresholdIsFlat(t *testing.T) {
	e := testEngine()
	f := features.Neutral()
	p := &strategies.Proposal{
		Strategy:   "ema_pullback",
		Direction:  strategies.Long,
		Confidence: 40, // weight 1.0, below default threshold 60
	}
	e.mu.Lock()
	sig := e.fuse(f, regime.Ranging, []*strategies.Proposal{p})
	e.mu.Unlock()

	if sig.Direction != strategies.Flat {
		t.Errorf("expected FLAT below threshold, got %s", sig.Direction)
	}
}

func TestFuseStrongSignal(t *testing.T) {
	e := testEngine()
	f := features.Neutral()
	f.MACDCrossover = 1
	p := &strategies.Proposal{
		Strategy:   "ema_pullback",
		Pattern:    "ema20_pullback_bounce",
		Direction:  strategies.Long,
		Confidence: 75,
		Reasons:    []string{"uptrend regime"},
	}
	e.mu.Lock()
	sig := e.fuse(f, regime.TrendingUp, []*strategies.Proposal{p})
	e.mu.Unlock()

	// 75*1.0*1.2 + 10 = 100
	if sig.Direction != strategies.Long {
		t.Fatalf("expected LONG, got %s", sig.Direction)
	}
	if sig.Strength != StrengthStrong {
		t.Errorf("expected STRONG at confidence %f, got %s", sig.Confidence, sig.Strength)
	}
	if sig.Strategy != "ema_pullback" {
		t.Errorf("expected leading strategy recorded, got %s", sig.Strategy)
	}
	if sig.SizeMultiplier < 0.3 || sig.SizeMultiplier > 2.0 {
		t.Errorf("size multiplier out of bounds: %f", sig.SizeMultiplier)
	}
}

func TestVolatileRegimePenalizesScores(t *testing.T) {
	e := testEngine()
	f := features.Neutral()
	p := &strategies.Proposal{
		Strategy:   "momentum_breakout",
		Direction:  strategies.Long,
		Confidence: 80,
	}

	e.mu.Lock()
	ranging := e.fuse(f, regime.Ranging, []*strategies.Proposal{p})
	volatile := e.fuse(f, regime.Volatile, []*strategies.Proposal{p})
	e.mu.Unlock()

	if volatile.Direction == strategies.Flat && ranging.Direction == strategies.Flat {
		t.Fatal("expected at least the ranging fuse to pass threshold")
	}
	if volatile.Direction != strategies.Flat && volatile.Confidence >= ranging.Confidence {
		t.Errorf("volatile score %f should be below ranging score %f", volatile.Confidence, ranging.Confidence)
	}
}

func TestFeatureWeightRetrain(t *testing.T) {
	e := testEngine()
	// 25 winners with high trend strength, 25 losers with low, recorded
	// over two retrain intervals.
	for i := 0; i < 50; i++ {
		win := i%2 == 0
		o := outcome("ema_pullback", regime.TrendingUp, 1.0, win)
		if !win {
			o.PnLPercent = -1.0
		}
		if win {
			o.Features = map[string]float64{"trend_strength": 0.9, "volume_ratio": 1.0}
		} else {
			o.Features = map[string]float64{"trend_strength": -0.9, "volume_ratio": 1.0}
		}
		e.RecordOutcome(o)
	}

	s := e.Snapshot()
	// trend_strength separates perfectly, volume_ratio not at all, so
	// the retrain must push trend_strength up relative to its prior and
	// volume_ratio down.
	prior := DefaultFeatureWeights()
	if s.FeatureWeights["trend_strength"] <= prior["trend_strength"] {
		t.Errorf("expected trend_strength weight above prior %f, got %f",
			prior["trend_strength"], s.FeatureWeights["trend_strength"])
	}
	if s.FeatureWeights["volume_ratio"] >= prior["volume_ratio"] {
		t.Errorf("expected volume_ratio weight below prior %f, got %f",
			prior["volume_ratio"], s.FeatureWeights["volume_ratio"])
	}
	for name, w := range s.FeatureWeights {
		if w > 1.0 {
			t.Errorf("weight %s exceeds 1.0: %f", name, w)
		}
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	e := testEngine()
	o := outcome("ema_pullback", regime.TrendingUp, 2.0, true)
	o.StopMultiplierUsed = 2.0
	e.RecordOutcome(o)

	restored := testEngine()
	restored.Restore(e.Snapshot())

	s := restored.Snapshot()
	if s.TotalRecorded != 1 || len(s.History) != 1 {
		t.Fatalf("expected one recorded outcome after restore, got %d/%d", s.TotalRecorded, len(s.History))
	}
	if math.Abs(s.Params.Trending.StopMultiplier-1.55) > 1e-9 {
		t.Errorf("expected learned stop 1.55 to survive restore, got %f", s.Params.Trending.StopMultiplier)
	}
}

func TestRestoreEmptyStateFallsBackToDefaults(t *testing.T) {
	e := testEngine()
	e.Restore(LearningState{})

	s := e.Snapshot()
	if s.Params.ConfidenceThreshold != 60 {
		t.Errorf("expected default threshold 60, got %f", s.Params.ConfidenceThreshold)
	}
	if len(s.FeatureWeights) == 0 {
		t.Error("expected default feature weights after empty restore")
	}
}
