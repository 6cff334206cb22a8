package strategies

import (
	"futures-trading-engine/internal/features"
	"futures-trading-engine/internal/market"
	"futures-trading-engine/internal/regime"
)

// Direction is the side of a proposed or fused trade.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
	Flat  Direction = "FLAT"
)

// Proposal is one strategy's case for a trade. Confidence is 0-100.
// Reasons list the confirmations that fired, for logs and audit.
type Proposal struct {
	Strategy   string    `json:"strategy"`
	Pattern    string    `json:"pattern"`
	Direction  Direction `json:"direction"`
	Confidence float64   `json:"confidence"`
	Reasons    []string  `json:"reasons"`
}

// Strategy evaluates a candle window under a classified regime and
// either proposes a trade or returns nil. Implementations are pure:
// no state, no side effects, safe from any goroutine.
type Strategy interface {
	Name() string
	Evaluate(candles []market.Candle, f features.PatternFeatures, r regime.Regime) *Proposal
}

// DefaultSet returns the built-in strategies in their fixed evaluation
// priority order. The simulator enters on the first accepted proposal.
func DefaultSet() []Strategy {
	return []Strategy{
		&EMAPullback{},
		&VWAPBounce{},
		&MomentumBreakout{},
		&MeanReversion{},
	}
}

// Names returns the strategy names in priority order.
func Names(set []Strategy) []string {
	out := make([]string, len(set))
	for i, s := range set {
		out[i] = s.Name()
	}
	return out
}
