package adaptive

import (
	"math"
	"time"

	"futures-trading-engine/internal/features"
)

const (
	riskEMAAlpha    = 0.1  // per-regime stop/target update on wins
	weightEMAAlpha  = 0.05 // feature weight retrain blend
	minRetrainSide  = 20   // winners and losers each required to retrain
	weightDecayFlr  = 0.5  // stale strategy weight floor
	streakThreshold = 3
)

// RecordOutcome folds one closed trade into the learned state. This is
// the only mutation path for performance stats, risk parameters, and
// feature weights.
func (e *Engine) RecordOutcome(o TradeOutcome) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if o.ClosedAt.IsZero() {
		o.ClosedAt = e.now()
	}

	e.history = append(e.history, o)
	if len(e.history) > HistoryCap {
		e.history = e.history[len(e.history)-HistoryCap:]
	}
	e.recorded++

	e.updatePerformance(o)
	e.updateRegimeParams(o)

	if e.recorded%RetrainInterval == 0 {
		e.retrainFeatureWeights()
	}

	e.logger.Debug().
		Str("strategy", o.Strategy).
		Str("regime", string(o.Regime)).
		Bool("win", o.Win).
		Float64("pnl_pct", o.PnLPercent).
		Int("history", len(e.history)).
		Msg("trade outcome recorded")
}

func (e *Engine) updatePerformance(o TradeOutcome) {
	p := e.performance[o.Strategy]

	if o.Win {
		p.Wins++
		// Running average of winning pnl.
		p.AvgWin += (o.PnLPercent - p.AvgWin) / float64(p.Wins)
		if p.CurrentStreak >= 0 {
			p.CurrentStreak++
		} else {
			p.CurrentStreak = 1
		}
		if p.CurrentStreak > p.MaxWinStreak {
			p.MaxWinStreak = p.CurrentStreak
		}
	} else {
		p.Losses++
		p.AvgLoss += (o.PnLPercent - p.AvgLoss) / float64(p.Losses)
		if p.CurrentStreak <= 0 {
			p.CurrentStreak--
		} else {
			p.CurrentStreak = -1
		}
		if -p.CurrentStreak > p.MaxLossStreak {
			p.MaxLossStreak = -p.CurrentStreak
		}
	}
	p.TotalPnL += o.PnLPercent
	p.LastUpdated = o.ClosedAt

	e.performance[o.Strategy] = p
}

// updateRegimeParams tallies the regime outcome and, on wins only,
// nudges the bucket's stop/target toward the multipliers actually used.
func (e *Engine) updateRegimeParams(o TradeOutcome) {
	b := e.params.bucket(o.Regime)
	if o.Win {
		b.Wins++
		if o.StopMultiplierUsed > 0 {
			b.StopMultiplier = b.StopMultiplier*(1-riskEMAAlpha) + o.StopMultiplierUsed*riskEMAAlpha
		}
		if o.TargetMultiplierUsed > 0 {
			b.TargetMultiplier = b.TargetMultiplier*(1-riskEMAAlpha) + o.TargetMultiplierUsed*riskEMAAlpha
		}
	} else {
		b.Losses++
	}
}

// retrainFeatureWeights rebuilds weights from the mean separation of
// each feature between winning and losing outcomes. Requires at least
// minRetrainSide examples on each side; otherwise a no-op. Caller holds
// e.mu.
func (e *Engine) retrainFeatureWeights() {
	var winners, losers []TradeOutcome
	for _, o := range e.history {
		if o.Win {
			winners = append(winners, o)
		} else {
			losers = append(losers, o)
		}
	}
	if len(winners) < minRetrainSide || len(losers) < minRetrainSide {
		e.logger.Debug().
			Int("winners", len(winners)).
			Int("losers", len(losers)).
			Msg("feature weight retrain skipped, insufficient history")
		return
	}

	const eps = 1e-9
	for name := range featureUnion(winners, losers) {
		meanWin := featureMean(winners, name)
		meanLose := featureMean(losers, name)
		separation := math.Abs(meanWin-meanLose) / (math.Abs(meanWin) + math.Abs(meanLose) + eps)

		old, ok := e.weights[name]
		if !ok {
			old = separation
		}
		w := old*(1-weightEMAAlpha) + separation*weightEMAAlpha
		if w > 1.0 {
			w = 1.0
		}
		e.weights[name] = w
	}

	e.logger.Info().
		Int("winners", len(winners)).
		Int("losers", len(losers)).
		Int("features", len(e.weights)).
		Msg("feature weights retrained")
}

func featureUnion(winners, losers []TradeOutcome) map[string]struct{} {
	union := make(map[string]struct{})
	for _, o := range winners {
		for name := range o.Features {
			union[name] = struct{}{}
		}
	}
	for _, o := range losers {
		for name := range o.Features {
			union[name] = struct{}{}
		}
	}
	return union
}

func featureMean(outcomes []TradeOutcome, name string) float64 {
	sum := 0.0
	n := 0
	for _, o := range outcomes {
		if v, ok := o.Features[name]; ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// strategyWeight derives the fusion weight for a strategy from its
// recorded performance. Recomputed per call, never persisted. Caller
// holds e.mu.
func (e *Engine) strategyWeight(name string) float64 {
	p, ok := e.performance[name]
	if !ok || p.Trades() < 10 {
		return 1.0
	}

	pf := p.ProfitFactor()
	if pf > 3 {
		pf = 3
	}
	w := 0.5*p.WinRate() + 0.5*pf/3

	// Decay stale strategies toward the floor over a week of silence.
	idle := e.now().Sub(p.LastUpdated)
	if idle > 24*time.Hour {
		week := 7 * 24 * time.Hour
		frac := float64(idle-24*time.Hour) / float64(week-24*time.Hour)
		if frac > 1 {
			frac = 1
		}
		floor := w * weightDecayFlr
		w = w - (w-floor)*frac
	}

	if p.CurrentStreak >= streakThreshold {
		w *= 1.2
	} else if p.CurrentStreak <= -streakThreshold {
		w *= 0.8
	}

	return features.Clamp(w, 0.2, 2.0)
}

// StrategyWeight exposes the derived weight for status surfaces.
func (e *Engine) StrategyWeight(name string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.strategyWeight(name)
}

// Performance returns a copy of the named strategy's stats.
func (e *Engine) Performance(name string) (StrategyPerformance, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.performance[name]
	return p, ok
}

// HistoryLen returns the current outcome history length.
func (e *Engine) HistoryLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.history)
}

// Snapshot copies all learned state for persistence.
func (e *Engine) Snapshot() LearningState {
	e.mu.Lock()
	defer e.mu.Unlock()

	state := LearningState{
		History:        make([]TradeOutcome, len(e.history)),
		Performance:    make(map[string]StrategyPerformance, len(e.performance)),
		Params:         e.params,
		FeatureWeights: make(FeatureWeights, len(e.weights)),
		TotalRecorded:  e.recorded,
	}
	copy(state.History, e.history)
	for k, v := range e.performance {
		state.Performance[k] = v
	}
	for k, v := range e.weights {
		state.FeatureWeights[k] = v
	}
	return state
}

// Restore replaces the learned state, e.g. after loading from the store.
// Zero-valued fields fall back to defaults so a partial document from an
// older version still produces a usable engine.
func (e *Engine) Restore(state LearningState) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.history = state.History
	if len(e.history) > HistoryCap {
		e.history = e.history[len(e.history)-HistoryCap:]
	}
	e.recorded = state.TotalRecorded

	e.performance = make(map[string]StrategyPerformance, len(state.Performance))
	for k, v := range state.Performance {
		e.performance[k] = v
	}

	e.params = state.Params
	if e.params.ConfidenceThreshold == 0 {
		e.params = DefaultOptimalParameters()
	}

	if len(state.FeatureWeights) == 0 {
		e.weights = DefaultFeatureWeights()
	} else {
		e.weights = make(FeatureWeights, len(state.FeatureWeights))
		for k, v := range state.FeatureWeights {
			e.weights[k] = v
		}
	}

	e.logger.Info().
		Int("history", len(e.history)).
		Int("strategies", len(e.performance)).
		Msg("learning state restored")
}
