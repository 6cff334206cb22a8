package trader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"futures-trading-engine/internal/adaptive"
	"futures-trading-engine/internal/executor"
	"futures-trading-engine/internal/market"
	"futures-trading-engine/internal/position"
	"futures-trading-engine/internal/regime"
	"futures-trading-engine/internal/store"
	"futures-trading-engine/internal/strategies"
)

// LearningStateKey is the store key for the adaptive engine snapshot.
const LearningStateKey = "learning_state"

// Config holds the live loop parameters.
type Config struct {
	Symbol        string
	Interval      string
	WindowBars    int
	Contracts     int
	EvaluateEvery time.Duration
	Location      *time.Location
	RTHEndMinutes int // force-flat boundary, exchange-local
}

// OrderSubmitter is the execution dependency; *executor.Client is the
// production implementation.
type OrderSubmitter interface {
	Submit(ctx context.Context, symbol string, direction strategies.Direction, quantity int) (*executor.Fill, error)
}

// entryMeta carries the evaluation context from open to close so the
// learning layer sees the same snapshot the entry decision used. Lost
// on restart, in which case the outcome is recorded without features.
type entryMeta struct {
	regime     string
	stopMult   float64
	targetMult float64
	features   map[string]float64
}

// Loop is the live evaluation cycle: pull candles, evaluate, manage
// the open position, submit entries. Any panic inside a cycle is
// contained and treated as no signal.
type Loop struct {
	feed    market.Feed
	engine  *adaptive.Engine
	tracker *position.Tracker
	exec    OrderSubmitter
	breaker *executor.Breaker
	store   store.Store
	cfg     Config

	mu   sync.Mutex
	meta map[string]entryMeta // position ID -> entry context

	logger zerolog.Logger
}

// NewLoop wires the live trading cycle.
func NewLoop(feed market.Feed, engine *adaptive.Engine, tracker *position.Tracker,
	exec OrderSubmitter, breaker *executor.Breaker, st store.Store,
	cfg Config, logger zerolog.Logger) *Loop {

	if cfg.WindowBars <= 0 {
		cfg.WindowBars = 200
	}
	if cfg.EvaluateEvery <= 0 {
		cfg.EvaluateEvery = time.Minute
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Contracts <= 0 {
		cfg.Contracts = 1
	}
	return &Loop{
		feed:    feed,
		engine:  engine,
		tracker: tracker,
		exec:    exec,
		breaker: breaker,
		store:   st,
		cfg:     cfg,
		meta:    make(map[string]entryMeta),
		logger:  logger.With().Str("component", "trader_loop").Logger(),
	}
}

// RestoreLearning loads the persisted adaptive state, if any.
func (l *Loop) RestoreLearning(ctx context.Context) error {
	doc, err := l.store.Load(ctx, LearningStateKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			l.logger.Info().Msg("no persisted learning state, starting from defaults")
			return nil
		}
		return fmt.Errorf("failed to load learning state: %w", err)
	}
	var state adaptive.LearningState
	if err := json.Unmarshal(doc, &state); err != nil {
		return fmt.Errorf("corrupt learning state document: %w", err)
	}
	l.engine.Restore(state)
	return nil
}

// Run executes evaluation cycles until the context ends.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.EvaluateEvery)
	defer ticker.Stop()

	l.logger.Info().
		Str("symbol", l.cfg.Symbol).
		Str("interval", l.cfg.Interval).
		Dur("every", l.cfg.EvaluateEvery).
		Msg("live evaluation loop started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.step(ctx)
		}
	}
}

// step runs one evaluation cycle. A panic anywhere inside is logged
// and swallowed; a crash in signal math must not take down position
// management on later cycles.
func (l *Loop) step(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error().Interface("panic", r).Msg("evaluation cycle panicked, treating as no signal")
		}
	}()

	candles, err := l.feed.Candles(ctx, l.cfg.Symbol, l.cfg.Interval, l.cfg.WindowBars)
	if err != nil {
		l.logger.Warn().Err(err).Msg("candle fetch failed, skipping cycle")
		return
	}
	if len(candles) == 0 {
		return
	}

	state, err := l.tracker.Snapshot(ctx)
	if err != nil {
		l.logger.Warn().Err(err).Msg("tracker snapshot failed, skipping cycle")
		return
	}

	if state.Position != nil {
		l.manage(ctx, state.Position, candles)
		return
	}
	l.seek(ctx, candles)
}

// manage checks the open position against the latest bar: stop first,
// then target, then the session close boundary.
func (l *Loop) manage(ctx context.Context, pos *position.OpenPosition, candles []market.Candle) {
	last := candles[len(candles)-1]
	isLong := pos.Direction == strategies.Long

	var reason string
	switch {
	case isLong && last.Low <= pos.StopPrice:
		reason = "Stop Loss"
	case !isLong && last.High >= pos.StopPrice:
		reason = "Stop Loss"
	case isLong && last.High >= pos.TargetPrice:
		reason = "Take Profit"
	case !isLong && last.Low <= pos.TargetPrice:
		reason = "Take Profit"
	case l.pastSessionEnd(last.Time):
		reason = "End of Day"
	default:
		return
	}

	exit := pos.Direction
	if exit == strategies.Long {
		exit = strategies.Short
	} else {
		exit = strategies.Long
	}

	fill, err := l.exec.Submit(ctx, pos.Symbol, exit, pos.Contracts)
	if err != nil {
		// Not confirmed means the position may still be live. Keep it
		// open and try again next cycle rather than assuming a fill.
		l.logger.Error().Err(err).Str("id", pos.ID).Str("reason", reason).Msg("exit order not confirmed, position kept open")
		return
	}

	l.auditFill(pos.ID, "exit", fill)
	record, err := l.tracker.Close(ctx, fill.Price, reason)
	if err != nil {
		l.logger.Error().Err(err).Str("id", pos.ID).Msg("tracker close failed after confirmed fill")
		return
	}
	l.recordOutcome(ctx, pos, record)
}

// seek evaluates for a new entry when flat.
func (l *Loop) seek(ctx context.Context, candles []market.Candle) {
	sig := l.engine.Evaluate(candles)
	if sig.Direction == strategies.Flat {
		return
	}
	if l.pastSessionEnd(candles[len(candles)-1].Time) {
		return // no fresh entries into the close
	}
	if ok, reason := l.breaker.Allow(); !ok {
		l.logger.Warn().Str("reason", reason).Msg("entry blocked by circuit breaker")
		return
	}

	f := l.engine.Extract(candles)
	atr := f.ATR14
	if atr <= 0 {
		l.logger.Warn().Msg("no usable ATR, entry skipped")
		return
	}

	contracts := int(float64(l.cfg.Contracts) * sig.SizeMultiplier)
	if contracts < 1 {
		contracts = 1
	}

	fill, err := l.exec.Submit(ctx, l.cfg.Symbol, sig.Direction, contracts)
	if err != nil {
		if errors.Is(err, executor.ErrRejected) {
			l.logger.Warn().Err(err).Msg("entry rejected by venue")
		} else {
			l.logger.Error().Err(err).Msg("entry order not confirmed, skipped")
		}
		return
	}

	pos := position.OpenPosition{
		ID:        uuid.NewString(),
		Symbol:    l.cfg.Symbol,
		Direction: sig.Direction,
		Contracts: contracts,
		Pattern:   sig.Pattern,
		Strategy:  sig.Strategy,
	}
	pos.EntryPrice = fill.Price
	if sig.Direction == strategies.Long {
		pos.StopPrice = fill.Price - atr*sig.StopMultiplier
		pos.TargetPrice = fill.Price + atr*sig.TargetMultiplier
	} else {
		pos.StopPrice = fill.Price + atr*sig.StopMultiplier
		pos.TargetPrice = fill.Price - atr*sig.TargetMultiplier
	}

	l.auditFill(pos.ID, "entry", fill)
	if err := l.tracker.Open(ctx, pos); err != nil {
		// The fill is real but the tracker refused it. Loud log; the
		// operator reconciles via force-clear or the venue.
		l.logger.Error().Err(err).Float64("fill", fill.Price).Msg("tracker rejected confirmed fill")
		return
	}

	l.mu.Lock()
	l.meta[pos.ID] = entryMeta{
		regime:     string(sig.Regime),
		stopMult:   sig.StopMultiplier,
		targetMult: sig.TargetMultiplier,
		features:   f.Map(),
	}
	l.mu.Unlock()
}

// recordOutcome feeds a closed trade into learning and persists the
// updated state.
func (l *Loop) recordOutcome(ctx context.Context, pos *position.OpenPosition, record position.TradeRecord) {
	l.mu.Lock()
	meta, ok := l.meta[pos.ID]
	delete(l.meta, pos.ID)
	l.mu.Unlock()

	pnlPct := 0.0
	if record.EntryPrice != 0 {
		pnlPct = (record.ExitPrice - record.EntryPrice) / record.EntryPrice * 100
		if record.Direction == strategies.Short {
			pnlPct = -pnlPct
		}
	}

	outcome := adaptive.TradeOutcome{
		Strategy:        pos.Strategy,
		Direction:       record.Direction,
		PnLPercent:      pnlPct,
		Win:             record.PnL > 0,
		HoldingDuration: record.Time.Sub(pos.EntryTime),
		ClosedAt:        record.Time,
	}
	if ok {
		outcome.Regime = regime.Regime(meta.regime)
		outcome.StopMultiplierUsed = meta.stopMult
		outcome.TargetMultiplierUsed = meta.targetMult
		outcome.Features = meta.features
	}

	l.engine.RecordOutcome(outcome)
	l.breaker.RecordOutcome(record.PnL)

	doc, err := json.Marshal(l.engine.Snapshot())
	if err != nil {
		l.logger.Error().Err(err).Msg("failed to encode learning state")
		return
	}
	if err := l.store.Upsert(ctx, LearningStateKey, doc); err != nil {
		l.logger.Warn().Err(err).Msg("failed to persist learning state")
	}
}

// auditFill records the venue's raw response verbatim. The payload is
// opaque to control flow; it exists for post-hoc reconciliation.
func (l *Loop) auditFill(positionID, leg string, fill *executor.Fill) {
	ev := l.logger.Info().
		Str("id", positionID).
		Str("leg", leg).
		Str("order_id", fill.OrderID).
		Float64("price", fill.Price)
	if len(fill.RawResponse) > 0 {
		ev = ev.RawJSON("venue_response", fill.RawResponse)
	}
	ev.Msg("fill confirmed")
}

// pastSessionEnd reports whether t is at or past the RTH close.
func (l *Loop) pastSessionEnd(t time.Time) bool {
	if l.cfg.RTHEndMinutes <= 0 {
		return false
	}
	local := t.In(l.cfg.Location)
	return local.Hour()*60+local.Minute() >= l.cfg.RTHEndMinutes
}
