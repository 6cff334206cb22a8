package adaptive

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"futures-trading-engine/internal/features"
	"futures-trading-engine/internal/market"
	"futures-trading-engine/internal/regime"
	"futures-trading-engine/internal/strategies"
)

// Engine fuses strategy proposals into one signal, conditioned by
// learned strategy weights and regime-bucketed risk parameters.
//
// All learned state mutates through EMA-style read-modify-write updates,
// so every entry point serializes on a single mutex. Callers never hold
// references into the internal state.
type Engine struct {
	mu sync.Mutex

	extractor  *features.Extractor
	classifier *regime.Classifier
	strategies []strategies.Strategy

	history     []TradeOutcome
	performance map[string]StrategyPerformance
	params      OptimalParameters
	weights     FeatureWeights
	recorded    int

	now    func() time.Time
	logger zerolog.Logger
}

// NewEngine builds an engine with default learned state. Pass nil for
// extractor or classifier to get CME defaults, nil strategy set for the
// built-in priority order.
func NewEngine(extractor *features.Extractor, classifier *regime.Classifier, set []strategies.Strategy, logger zerolog.Logger) *Engine {
	if extractor == nil {
		extractor = features.NewCMEExtractor()
	}
	if classifier == nil {
		classifier = regime.NewClassifier(regime.Thresholds{})
	}
	if set == nil {
		set = strategies.DefaultSet()
	}
	return &Engine{
		extractor:   extractor,
		classifier:  classifier,
		strategies:  set,
		performance: make(map[string]StrategyPerformance),
		params:      DefaultOptimalParameters(),
		weights:     DefaultFeatureWeights(),
		now:         time.Now,
		logger:      logger.With().Str("component", "adaptive_engine").Logger(),
	}
}

// Strategies returns the strategy set in priority order.
func (e *Engine) Strategies() []strategies.Strategy { return e.strategies }

// Extract runs feature extraction outside the lock; it is pure.
func (e *Engine) Extract(candles []market.Candle) features.PatternFeatures {
	return e.extractor.Extract(candles)
}

// Classify runs regime classification outside the lock; it is pure.
func (e *Engine) Classify(f features.PatternFeatures) regime.Regime {
	return e.classifier.Classify(f)
}

// Evaluate runs the full pipeline on a candle window and returns the
// fused signal. FLAT signals still carry regime and risk parameters.
func (e *Engine) Evaluate(candles []market.Candle) Signal {
	f := e.extractor.Extract(candles)
	r := e.classifier.Classify(f)

	proposals := make([]*strategies.Proposal, 0, len(e.strategies))
	for _, s := range e.strategies {
		if p := s.Evaluate(candles, f, r); p != nil {
			proposals = append(proposals, p)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fuse(f, r, proposals)
}

// fuse implements the scoring algorithm. Caller holds e.mu.
func (e *Engine) fuse(f features.PatternFeatures, r regime.Regime, proposals []*strategies.Proposal) Signal {
	sig := Signal{
		Direction:   strategies.Flat,
		Strength:    StrengthNone,
		Regime:      r,
		Reasons:     []string{},
		WeightsUsed: map[string]float64{},
		Time:        e.now(),
	}
	sig.StopMultiplier, sig.TargetMultiplier = e.riskParams(r, f.ATRRatio)

	longScore, shortScore := 0.0, 0.0
	longBest, shortBest := 0.0, 0.0
	var longLead, shortLead *strategies.Proposal

	for _, p := range proposals {
		w := e.strategyWeight(p.Strategy)
		sig.WeightsUsed[p.Strategy] = w
		weighted := p.Confidence * w
		switch p.Direction {
		case strategies.Long:
			longScore += weighted
			if longLead == nil || weighted > longBest {
				longLead, longBest = p, weighted
			}
		case strategies.Short:
			shortScore += weighted
			if shortLead == nil || weighted > shortBest {
				shortLead, shortBest = p, weighted
			}
		}
	}

	// Regime bias: favor the trend side, haircut everything in chop.
	switch r {
	case regime.TrendingUp:
		longScore *= 1.2
		shortScore *= 0.8
	case regime.TrendingDown:
		shortScore *= 1.2
		longScore *= 0.8
	case regime.Volatile:
		longScore *= 0.7
		shortScore *= 0.7
	}

	// Feature adjustments.
	if f.RSIDivergence > 0 {
		longScore += 15
	} else if f.RSIDivergence < 0 {
		shortScore += 15
	}
	if f.MACDCrossover > 0 {
		longScore += 10
	} else if f.MACDCrossover < 0 {
		shortScore += 10
	}
	if f.VolumeRatio > 1.3 {
		if longScore > shortScore {
			longScore *= 1.1
		} else if shortScore > longScore {
			shortScore *= 1.1
		}
	}

	score := longScore
	direction := strategies.Long
	lead := longLead
	if shortScore > longScore {
		score = shortScore
		direction = strategies.Short
		lead = shortLead
	}

	if score < e.params.ConfidenceThreshold || lead == nil {
		return sig
	}

	sig.Direction = direction
	sig.Confidence = score
	sig.Strength = strengthTier(score)
	sig.Strategy = lead.Strategy
	sig.Pattern = lead.Pattern
	sig.Reasons = lead.Reasons
	sig.SizeMultiplier = sizeMultiplier(score, r, f)

	e.logger.Debug().
		Str("direction", string(direction)).
		Str("regime", string(r)).
		Float64("confidence", score).
		Str("strategy", lead.Strategy).
		Msg("signal fused")

	return sig
}

// RiskParams returns the learned stop/target multipliers for a regime
// scaled by current volatility, clamped to their documented bounds.
func (e *Engine) RiskParams(r regime.Regime, atrRatio float64) (stop, target float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.riskParams(r, atrRatio)
}

func (e *Engine) riskParams(r regime.Regime, atrRatio float64) (stop, target float64) {
	b := e.params.bucket(r)
	stop = b.StopMultiplier
	target = b.TargetMultiplier

	// Widen in expanding volatility, tighten in compression.
	if atrRatio > 1.2 {
		stop *= 1.2
		target *= 1.1
	} else if atrRatio < 0.8 && atrRatio > 0 {
		stop *= 0.8
		target *= 0.9
	}

	stop = features.Clamp(stop, 1.0, 3.0)
	target = features.Clamp(target, 1.5, 5.0)
	return stop, target
}

// ConfidenceThreshold returns the current gating threshold.
func (e *Engine) ConfidenceThreshold() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.params.ConfidenceThreshold
}

func strengthTier(score float64) Strength {
	switch {
	case score >= 80:
		return StrengthStrong
	case score >= 65:
		return StrengthModerate
	case score >= 50:
		return StrengthWeak
	default:
		return StrengthNone
	}
}

// sizeMultiplier derives the position-size multiplier from confidence
// and regime conditions, clamped to [0.3, 2.0].
func sizeMultiplier(confidence float64, r regime.Regime, f features.PatternFeatures) float64 {
	size := 0.5 + confidence/100*0.5

	if r == regime.Volatile || f.VolatilityPercentile > 80 {
		size *= 0.7
	}
	if r == regime.TrendingUp || r == regime.TrendingDown || f.VolumeRatio > 1.5 {
		size *= 1.2
	}
	return features.Clamp(size, 0.3, 2.0)
}
