package position

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"futures-trading-engine/internal/store"
	"futures-trading-engine/internal/strategies"
)

// Sentinel errors for state machine violations.
var (
	ErrPositionOpen = errors.New("position already open")
	ErrNoPosition   = errors.New("no open position")
	ErrDisabled     = errors.New("trading disabled")
)

// HistoryCap bounds the closed trade history kept in state.
const HistoryCap = 50

// OpenPosition is the live position, at most one per tracker.
type OpenPosition struct {
	ID          string               `json:"id"`
	Symbol      string               `json:"symbol"`
	Direction   strategies.Direction `json:"direction"`
	EntryPrice  float64              `json:"entry_price"`
	StopPrice   float64              `json:"stop_price"`
	TargetPrice float64              `json:"target_price"`
	Contracts   int                  `json:"contracts"`
	Pattern     string               `json:"pattern"`
	Strategy    string               `json:"strategy"`
	EntryTime   time.Time            `json:"entry_time"`
}

// TradeRecord summarizes one closed live trade.
type TradeRecord struct {
	ID         string               `json:"id"`
	Time       time.Time            `json:"time"`
	Pattern    string               `json:"pattern"`
	Direction  strategies.Direction `json:"direction"`
	EntryPrice float64              `json:"entry_price"`
	ExitPrice  float64              `json:"exit_price"`
	Contracts  int                  `json:"contracts"`
	PnL        float64              `json:"pnl"`
	ExitReason string               `json:"exit_reason"`
}

// State is the persisted tracker document.
type State struct {
	Position      *OpenPosition `json:"position,omitempty"`
	History       []TradeRecord `json:"history"`
	TotalPnL      float64       `json:"total_pnl"`
	Wins          int           `json:"wins"`
	Losses        int           `json:"losses"`
	DailyPnL      float64       `json:"daily_pnl"`
	DailyTrades   int           `json:"daily_trades"`
	LastTradeDate string        `json:"last_trade_date"`
	Enabled       bool          `json:"enabled"`
}

// Config holds the tracker's instrument and safety parameters.
type Config struct {
	StateKey     string
	PointValue   float64 // dollars per point per contract
	MaxContracts int
	MaxDailyLoss float64 // dollars; breach disables new opens
	StoreTimeout time.Duration
	Location     *time.Location
}

// Tracker is the live position state machine: FLAT -> OPEN -> FLAT.
// Every mutation happens inside one mutex-guarded load-mutate-save
// cycle, so two callers can never both observe FLAT and both open.
// New opens are gated by an enabled flag that defaults to off.
type Tracker struct {
	mu    chan struct{} // single-flight guard usable with context
	store store.Store
	cfg   Config
	state State

	now    func() time.Time
	logger zerolog.Logger
}

// NewTracker builds a tracker around a store. Trading starts disabled
// until SetEnabled or a persisted enabled state says otherwise.
func NewTracker(st store.Store, cfg Config, logger zerolog.Logger) *Tracker {
	if cfg.StateKey == "" {
		cfg.StateKey = "position_state"
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 3 * time.Second
	}
	if cfg.MaxContracts <= 0 {
		cfg.MaxContracts = 1
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	t := &Tracker{
		mu:     make(chan struct{}, 1),
		store:  st,
		cfg:    cfg,
		state:  State{History: []TradeRecord{}},
		now:    time.Now,
		logger: logger.With().Str("component", "position_tracker").Logger(),
	}
	return t
}

// lock acquires the single-flight guard, honoring context cancellation.
func (t *Tracker) lock(ctx context.Context) error {
	select {
	case t.mu <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Tracker) unlock() { <-t.mu }

// Load pulls persisted state from the store and applies the daily
// reset when the exchange-local date has rolled since the last trade.
// A missing document leaves the in-memory defaults in place. Safe to
// call repeatedly; the reset fires at most once per day.
func (t *Tracker) Load(ctx context.Context) error {
	if err := t.lock(ctx); err != nil {
		return err
	}
	defer t.unlock()

	sctx, cancel := context.WithTimeout(ctx, t.cfg.StoreTimeout)
	defer cancel()

	doc, err := t.store.Load(sctx, t.cfg.StateKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			t.logger.Info().Msg("no persisted position state, starting fresh")
			return t.maybeResetDaily(ctx)
		}
		return fmt.Errorf("failed to load position state: %w", err)
	}

	var loaded State
	if err := json.Unmarshal(doc, &loaded); err != nil {
		return fmt.Errorf("corrupt position state document: %w", err)
	}
	if loaded.History == nil {
		loaded.History = []TradeRecord{}
	}
	t.state = loaded
	t.logger.Info().
		Bool("enabled", t.state.Enabled).
		Bool("position_open", t.state.Position != nil).
		Int("history", len(t.state.History)).
		Msg("position state loaded")

	return t.maybeResetDaily(ctx)
}

// maybeResetDaily zeroes daily counters on a date change and persists
// the reset so repeated loads the same day are no-ops. Caller holds
// the guard.
func (t *Tracker) maybeResetDaily(ctx context.Context) error {
	today := t.now().In(t.cfg.Location).Format("2006-01-02")
	if t.state.LastTradeDate == today {
		return nil
	}
	t.state.LastTradeDate = today
	t.state.DailyPnL = 0
	t.state.DailyTrades = 0
	t.logger.Info().Str("date", today).Msg("daily counters reset")
	return t.persist(ctx)
}

// Open transitions FLAT -> OPEN. Rejected when disabled or a position
// already exists; contracts are clamped to the configured maximum.
func (t *Tracker) Open(ctx context.Context, pos OpenPosition) error {
	if err := t.lock(ctx); err != nil {
		return err
	}
	defer t.unlock()

	if !t.state.Enabled {
		return ErrDisabled
	}
	if t.state.Position != nil {
		t.logger.Warn().
			Str("existing", t.state.Position.ID).
			Str("symbol", pos.Symbol).
			Msg("open rejected, position already exists")
		return ErrPositionOpen
	}

	if pos.ID == "" {
		pos.ID = uuid.NewString()
	}
	if pos.EntryTime.IsZero() {
		pos.EntryTime = t.now().UTC()
	}
	if pos.Contracts > t.cfg.MaxContracts {
		t.logger.Warn().
			Int("requested", pos.Contracts).
			Int("max", t.cfg.MaxContracts).
			Msg("contracts clamped to configured maximum")
		pos.Contracts = t.cfg.MaxContracts
	}
	if pos.Contracts <= 0 {
		pos.Contracts = 1
	}

	t.state.Position = &pos
	t.logger.Info().
		Str("id", pos.ID).
		Str("symbol", pos.Symbol).
		Str("direction", string(pos.Direction)).
		Float64("entry", pos.EntryPrice).
		Float64("stop", pos.StopPrice).
		Float64("target", pos.TargetPrice).
		Int("contracts", pos.Contracts).
		Msg("position opened")

	return t.persist(ctx)
}

// Close transitions OPEN -> FLAT, computing realized P&L and recording
// the trade. The returned record feeds the learning layer.
func (t *Tracker) Close(ctx context.Context, exitPrice float64, reason string) (TradeRecord, error) {
	if err := t.lock(ctx); err != nil {
		return TradeRecord{}, err
	}
	defer t.unlock()

	pos := t.state.Position
	if pos == nil {
		t.logger.Warn().Str("reason", reason).Msg("close rejected, no open position")
		return TradeRecord{}, ErrNoPosition
	}

	points := exitPrice - pos.EntryPrice
	if pos.Direction == strategies.Short {
		points = pos.EntryPrice - exitPrice
	}
	pnl := points * t.cfg.PointValue * float64(pos.Contracts)

	record := TradeRecord{
		ID:         pos.ID,
		Time:       t.now().UTC(),
		Pattern:    pos.Pattern,
		Direction:  pos.Direction,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPrice,
		Contracts:  pos.Contracts,
		PnL:        pnl,
		ExitReason: reason,
	}

	t.state.Position = nil
	t.state.History = append(t.state.History, record)
	if len(t.state.History) > HistoryCap {
		t.state.History = t.state.History[len(t.state.History)-HistoryCap:]
	}
	t.state.TotalPnL += pnl
	t.state.DailyPnL += pnl
	t.state.DailyTrades++
	t.state.LastTradeDate = t.now().In(t.cfg.Location).Format("2006-01-02")
	if pnl > 0 {
		t.state.Wins++
	} else {
		t.state.Losses++
	}

	t.logger.Info().
		Str("id", record.ID).
		Float64("exit", exitPrice).
		Float64("pnl", pnl).
		Str("reason", reason).
		Msg("position closed")

	// Safety limit: a daily loss breach shuts off new entries until a
	// human or the daily reset turns them back on.
	if t.cfg.MaxDailyLoss > 0 && t.state.DailyPnL <= -t.cfg.MaxDailyLoss {
		t.state.Enabled = false
		t.logger.Warn().
			Float64("daily_pnl", t.state.DailyPnL).
			Float64("limit", t.cfg.MaxDailyLoss).
			Msg("max daily loss reached, trading disabled")
	}

	if err := t.persist(ctx); err != nil {
		return record, err
	}
	return record, nil
}

// ForceClear drops the open position without producing a TradeRecord.
// Manual recovery only; the audit log marks it distinctly from a close.
func (t *Tracker) ForceClear(ctx context.Context) error {
	if err := t.lock(ctx); err != nil {
		return err
	}
	defer t.unlock()

	if t.state.Position == nil {
		return ErrNoPosition
	}
	t.logger.Warn().
		Str("id", t.state.Position.ID).
		Str("symbol", t.state.Position.Symbol).
		Msg("position force-cleared without trade record")
	t.state.Position = nil
	return t.persist(ctx)
}

// SetEnabled flips the gate on new opens. Disabling never touches an
// already-open position.
func (t *Tracker) SetEnabled(ctx context.Context, enabled bool) error {
	if err := t.lock(ctx); err != nil {
		return err
	}
	defer t.unlock()

	t.state.Enabled = enabled
	t.logger.Info().Bool("enabled", enabled).Msg("trading gate updated")
	return t.persist(ctx)
}

// ResetDaily zeroes the daily counters on operator request and lifts a
// daily-loss disable. The implicit reset on load stays conservative and
// never touches the enabled flag.
func (t *Tracker) ResetDaily(ctx context.Context) error {
	if err := t.lock(ctx); err != nil {
		return err
	}
	defer t.unlock()

	t.state.DailyPnL = 0
	t.state.DailyTrades = 0
	t.state.Enabled = true
	t.state.LastTradeDate = t.now().In(t.cfg.Location).Format("2006-01-02")
	t.logger.Info().Msg("daily counters reset by request, trading re-enabled")
	return t.persist(ctx)
}

// Snapshot returns a deep copy of the current state.
func (t *Tracker) Snapshot(ctx context.Context) (State, error) {
	if err := t.lock(ctx); err != nil {
		return State{}, err
	}
	defer t.unlock()

	out := t.state
	out.History = make([]TradeRecord, len(t.state.History))
	copy(out.History, t.state.History)
	if t.state.Position != nil {
		pos := *t.state.Position
		out.Position = &pos
	}
	return out, nil
}

// persist writes state through the store with a bounded timeout.
// Caller holds the guard.
func (t *Tracker) persist(ctx context.Context) error {
	doc, err := json.Marshal(t.state)
	if err != nil {
		return fmt.Errorf("failed to encode position state: %w", err)
	}

	sctx, cancel := context.WithTimeout(ctx, t.cfg.StoreTimeout)
	defer cancel()

	if err := t.store.Upsert(sctx, t.cfg.StateKey, doc); err != nil {
		return fmt.Errorf("failed to persist position state: %w", err)
	}
	return nil
}
