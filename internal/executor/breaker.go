package executor

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// BreakerState is the circuit breaker state.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"    // normal operation
	StateOpen     BreakerState = "open"      // order flow halted
	StateHalfOpen BreakerState = "half_open" // testing recovery
)

// BreakerConfig holds the trip thresholds.
type BreakerConfig struct {
	Enabled              bool    `json:"enabled"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"`
	MaxDailyLoss         float64 `json:"max_daily_loss"` // dollars
	CooldownMinutes      int     `json:"cooldown_minutes"`
}

// DefaultBreakerConfig returns conservative defaults for one contract.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Enabled:              true,
		MaxConsecutiveLosses: 4,
		MaxDailyLoss:         1000,
		CooldownMinutes:      30,
	}
}

// Breaker halts order flow after a loss cluster or daily loss breach,
// independent of the position tracker's own enable flag. It guards the
// path to the venue, not the evaluation pipeline.
type Breaker struct {
	mu sync.Mutex

	cfg               BreakerConfig
	state             BreakerState
	consecutiveLosses int
	dailyLoss         float64
	day               string
	trippedAt         time.Time
	tripReason        string

	now    func() time.Time
	logger zerolog.Logger
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg BreakerConfig, logger zerolog.Logger) *Breaker {
	return &Breaker{
		cfg:    cfg,
		state:  StateClosed,
		now:    time.Now,
		logger: logger.With().Str("component", "circuit_breaker").Logger(),
	}
}

// Allow reports whether an order may be submitted, with the blocking
// reason when not.
func (b *Breaker) Allow() (bool, string) {
	if !b.cfg.Enabled {
		return true, ""
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollDay()

	if b.state == StateOpen {
		cooldown := time.Duration(b.cfg.CooldownMinutes) * time.Minute
		elapsed := b.now().Sub(b.trippedAt)
		if elapsed < cooldown {
			return false, fmt.Sprintf("circuit open, %s remaining (%s)",
				(cooldown - elapsed).Round(time.Second), b.tripReason)
		}
		b.state = StateHalfOpen
		b.logger.Info().Msg("circuit breaker half-open, allowing one trade")
	}
	return true, ""
}

// RecordOutcome feeds a realized trade P&L into the breaker.
func (b *Breaker) RecordOutcome(pnl float64) {
	if !b.cfg.Enabled {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollDay()

	if pnl < 0 {
		b.consecutiveLosses++
		b.dailyLoss += -pnl
	} else {
		b.consecutiveLosses = 0
		if b.state == StateHalfOpen {
			b.state = StateClosed
			b.logger.Info().Msg("circuit breaker reset after winning probe trade")
		}
	}

	if b.state == StateOpen {
		return
	}
	if b.cfg.MaxConsecutiveLosses > 0 && b.consecutiveLosses >= b.cfg.MaxConsecutiveLosses {
		b.trip(fmt.Sprintf("%d consecutive losses", b.consecutiveLosses))
		return
	}
	if b.cfg.MaxDailyLoss > 0 && b.dailyLoss >= b.cfg.MaxDailyLoss {
		b.trip(fmt.Sprintf("daily loss %.2f reached limit %.2f", b.dailyLoss, b.cfg.MaxDailyLoss))
	}
}

// trip opens the breaker. Caller holds b.mu.
func (b *Breaker) trip(reason string) {
	b.state = StateOpen
	b.trippedAt = b.now()
	b.tripReason = reason
	b.logger.Warn().Str("reason", reason).Msg("circuit breaker tripped, order flow halted")
}

// Reset manually closes the breaker and clears counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.consecutiveLosses = 0
	b.dailyLoss = 0
	b.tripReason = ""
	b.logger.Info().Msg("circuit breaker manually reset")
}

// State returns the current breaker state and trip reason.
func (b *Breaker) State() (BreakerState, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.tripReason
}

// rollDay zeroes the daily loss on a new calendar day. Caller holds b.mu.
func (b *Breaker) rollDay() {
	day := b.now().Format("2006-01-02")
	if day != b.day {
		b.day = day
		b.dailyLoss = 0
	}
}
