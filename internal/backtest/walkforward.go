package backtest

import (
	"fmt"

	"github.com/rs/zerolog"

	"futures-trading-engine/internal/market"
	"futures-trading-engine/internal/strategies"
)

// Verdict is the out-of-sample judgement for one strategy.
type Verdict string

const (
	VerdictPass     Verdict = "PASS"     // test net P&L > 0 and profit factor > 1.2
	VerdictMarginal Verdict = "MARGINAL" // test net P&L > 0 only
	VerdictFail     Verdict = "FAIL"
)

// StrategyVerdict pairs train and test runs with the verdict.
type StrategyVerdict struct {
	Strategy string  `json:"strategy"`
	Train    *Result `json:"train"`
	Test     *Result `json:"test"`
	Verdict  Verdict `json:"verdict"`
}

// WalkForwardResult is the full validation report.
type WalkForwardResult struct {
	TrainBars   int               `json:"train_bars"`
	TestBars    int               `json:"test_bars"`
	WarmupBars  int               `json:"warmup_bars"`
	PerStrategy []StrategyVerdict `json:"per_strategy"`
	Combined    StrategyVerdict   `json:"combined"`
	Recommended []string          `json:"recommended"`
}

// Validator runs a chronological train/test split through the simulator.
type Validator struct {
	engine        *Engine
	trainFraction float64
	logger        zerolog.Logger
}

// NewValidator wraps a simulation engine. trainFraction defaults to 0.8.
func NewValidator(engine *Engine, trainFraction float64, logger zerolog.Logger) *Validator {
	if trainFraction <= 0 || trainFraction >= 1 {
		trainFraction = 0.8
	}
	return &Validator{
		engine:        engine,
		trainFraction: trainFraction,
		logger:        logger.With().Str("component", "walk_forward").Logger(),
	}
}

// Split returns the train and test windows. The test window starts
// warmupBars before the train end so indicators are valid at the first
// evaluated test bar, and runs to the end of the series.
func (v *Validator) Split(candles []market.Candle) (train, test []market.Candle, err error) {
	warmup := v.engine.cfg.WarmupBars
	trainEnd := int(float64(len(candles)) * v.trainFraction)
	testStart := trainEnd - warmup
	if testStart <= 0 || trainEnd <= warmup || len(candles)-trainEnd <= 0 {
		return nil, nil, fmt.Errorf("series of %d bars too short for %0.f%%/%d split",
			len(candles), v.trainFraction*100, warmup)
	}
	return candles[:trainEnd], candles[testStart:], nil
}

// Validate runs every strategy individually plus the combined set, and
// recommends the strategies whose test window held up.
func (v *Validator) Validate(candles []market.Candle) (*WalkForwardResult, error) {
	train, test, err := v.Split(candles)
	if err != nil {
		return nil, err
	}

	result := &WalkForwardResult{
		TrainBars:   len(train),
		TestBars:    len(test),
		WarmupBars:  v.engine.cfg.WarmupBars,
		Recommended: []string{},
	}

	for _, s := range v.engine.adaptive.Strategies() {
		sv, err := v.runOne(s.Name(), train, test, []strategies.Strategy{s})
		if err != nil {
			return nil, err
		}
		result.PerStrategy = append(result.PerStrategy, sv)
		if sv.Verdict == VerdictPass || sv.Verdict == VerdictMarginal {
			result.Recommended = append(result.Recommended, s.Name())
		}
	}

	combined, err := v.runOne("combined", train, test, nil)
	if err != nil {
		return nil, err
	}
	result.Combined = combined

	v.logger.Info().
		Int("train_bars", result.TrainBars).
		Int("test_bars", result.TestBars).
		Strs("recommended", result.Recommended).
		Str("combined_verdict", string(combined.Verdict)).
		Msg("walk-forward validation complete")
	return result, nil
}

func (v *Validator) runOne(name string, train, test []market.Candle, set []strategies.Strategy) (StrategyVerdict, error) {
	trainRes, err := v.engine.Run(train, set)
	if err != nil {
		return StrategyVerdict{}, fmt.Errorf("train run %s: %w", name, err)
	}
	testRes, err := v.engine.Run(test, set)
	if err != nil {
		return StrategyVerdict{}, fmt.Errorf("test run %s: %w", name, err)
	}
	return StrategyVerdict{
		Strategy: name,
		Train:    trainRes,
		Test:     testRes,
		Verdict:  judge(testRes),
	}, nil
}

// judge applies the out-of-sample acceptance rule to a test run.
func judge(test *Result) Verdict {
	if test.NetPnL > 0 && float64(test.ProfitFactor) > 1.2 {
		return VerdictPass
	}
	if test.NetPnL > 0 {
		return VerdictMarginal
	}
	return VerdictFail
}
