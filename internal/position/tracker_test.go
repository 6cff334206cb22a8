package position

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"futures-trading-engine/internal/store"
	"futures-trading-engine/internal/strategies"
)

func newTestTracker() (*Tracker, *time.Time) {
	cfg := Config{
		StateKey:     "test_state",
		PointValue:   50,
		MaxContracts: 3,
		MaxDailyLoss: 500,
		Location:     time.UTC,
	}
	t := NewTracker(store.NewMemoryStore(), cfg, zerolog.Nop())
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	t.now = func() time.Time { return now }
	return t, &now
}

func longPosition() OpenPosition {
	return OpenPosition{
		Symbol:      "ES",
		Direction:   strategies.Long,
		EntryPrice:  5000,
		StopPrice:   4995,
		TargetPrice: 5010,
		Contracts:   1,
		Pattern:     "ema20_pullback_bounce",
		Strategy:    "ema_pullback",
	}
}

func TestOpenRequiresEnabled(t *testing.T) {
	tr, _ := newTestTracker()
	ctx := context.Background()

	if err := tr.Open(ctx, longPosition()); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled on fresh tracker, got %v", err)
	}
}

func TestOpenCloseCycle(t *testing.T) {
	tr, _ := newTestTracker()
	ctx := context.Background()
	tr.SetEnabled(ctx, true)

	if err := tr.Open(ctx, longPosition()); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	// Second open must be rejected without mutation.
	if err := tr.Open(ctx, longPosition()); !errors.Is(err, ErrPositionOpen) {
		t.Fatalf("expected ErrPositionOpen, got %v", err)
	}

	record, err := tr.Close(ctx, 5004, "Take Profit")
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if record.PnL != 200 { // 4 points * $50
		t.Errorf("expected pnl 200, got %f", record.PnL)
	}

	s, _ := tr.Snapshot(ctx)
	if s.Position != nil {
		t.Error("expected FLAT after close")
	}
	if s.Wins != 1 || s.DailyTrades != 1 {
		t.Errorf("counters not updated: %+v", s)
	}
	if len(s.History) != 1 || s.History[0].ExitReason != "Take Profit" {
		t.Errorf("history not recorded: %+v", s.History)
	}
}

func TestCloseWhenFlatRejected(t *testing.T) {
	tr, _ := newTestTracker()
	ctx := context.Background()
	if _, err := tr.Close(ctx, 5000, "Stop Loss"); !errors.Is(err, ErrNoPosition) {
		t.Fatalf("expected ErrNoPosition, got %v", err)
	}
}

func TestShortPnL(t *testing.T) {
	tr, _ := newTestTracker()
	ctx := context.Background()
	tr.SetEnabled(ctx, true)

	pos := longPosition()
	pos.Direction = strategies.Short
	tr.Open(ctx, pos)

	record, err := tr.Close(ctx, 4996, "Take Profit")
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if record.PnL != 200 {
		t.Errorf("short profit on price drop: expected 200, got %f", record.PnL)
	}
}

func TestContractsClamped(t *testing.T) {
	tr, _ := newTestTracker()
	ctx := context.Background()
	tr.SetEnabled(ctx, true)

	pos := longPosition()
	pos.Contracts = 10
	tr.Open(ctx, pos)

	s, _ := tr.Snapshot(ctx)
	if s.Position.Contracts != 3 {
		t.Errorf("expected clamp to 3 contracts, got %d", s.Position.Contracts)
	}
}

func TestDailyLossDisablesTrading(t *testing.T) {
	tr, _ := newTestTracker()
	ctx := context.Background()
	tr.SetEnabled(ctx, true)

	tr.Open(ctx, longPosition())
	// 11 points against, $550 loss, over the $500 limit.
	tr.Close(ctx, 4989, "Stop Loss")

	s, _ := tr.Snapshot(ctx)
	if s.Enabled {
		t.Fatal("expected trading disabled after daily loss breach")
	}
	if err := tr.Open(ctx, longPosition()); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled after breach, got %v", err)
	}
}

func TestResetDailyReenablesAfterLossDisable(t *testing.T) {
	tr, _ := newTestTracker()
	ctx := context.Background()
	tr.SetEnabled(ctx, true)

	tr.Open(ctx, longPosition())
	tr.Close(ctx, 4989, "Stop Loss") // $550 loss trips the $500 limit

	if s, _ := tr.Snapshot(ctx); s.Enabled {
		t.Fatal("expected trading disabled after daily loss breach")
	}

	if err := tr.ResetDaily(ctx); err != nil {
		t.Fatalf("reset daily failed: %v", err)
	}
	s, _ := tr.Snapshot(ctx)
	if !s.Enabled {
		t.Fatal("operator reset must re-enable trading")
	}
	if s.DailyPnL != 0 || s.DailyTrades != 0 {
		t.Errorf("expected zeroed daily counters, got pnl=%f trades=%d", s.DailyPnL, s.DailyTrades)
	}
	if err := tr.Open(ctx, longPosition()); err != nil {
		t.Fatalf("open after operator reset must succeed, got %v", err)
	}
}

func TestForceClearLeavesNoRecord(t *testing.T) {
	tr, _ := newTestTracker()
	ctx := context.Background()
	tr.SetEnabled(ctx, true)
	tr.Open(ctx, longPosition())

	if err := tr.ForceClear(ctx); err != nil {
		t.Fatalf("force clear failed: %v", err)
	}
	s, _ := tr.Snapshot(ctx)
	if s.Position != nil {
		t.Error("expected FLAT after force clear")
	}
	if len(s.History) != 0 || s.DailyTrades != 0 {
		t.Error("force clear must not produce a trade record or counters")
	}

	if err := tr.ForceClear(ctx); !errors.Is(err, ErrNoPosition) {
		t.Errorf("expected ErrNoPosition on second clear, got %v", err)
	}
}

func TestDailyResetOncePerDay(t *testing.T) {
	tr, now := newTestTracker()
	ctx := context.Background()
	tr.SetEnabled(ctx, true)

	tr.Open(ctx, longPosition())
	tr.Close(ctx, 5002, "Take Profit")

	s, _ := tr.Snapshot(ctx)
	if s.DailyTrades != 1 || s.DailyPnL != 100 {
		t.Fatalf("precondition failed: %+v", s)
	}

	// Same-day reload: no reset.
	if err := tr.Load(ctx); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	s, _ = tr.Snapshot(ctx)
	if s.DailyTrades != 1 {
		t.Fatal("same-day load must not reset daily counters")
	}

	// New day: reset exactly once, idempotent across repeated loads.
	*now = now.Add(24 * time.Hour)
	for i := 0; i < 3; i++ {
		if err := tr.Load(ctx); err != nil {
			t.Fatalf("load failed: %v", err)
		}
	}
	s, _ = tr.Snapshot(ctx)
	if s.DailyTrades != 0 || s.DailyPnL != 0 {
		t.Errorf("expected daily counters reset on new day: %+v", s)
	}
	if s.TotalPnL != 100 || s.Wins != 1 {
		t.Errorf("lifetime counters must survive the daily reset: %+v", s)
	}
}

func TestStatePersistsAcrossTrackers(t *testing.T) {
	mem := store.NewMemoryStore()
	cfg := Config{StateKey: "shared", PointValue: 50, MaxContracts: 2, Location: time.UTC}
	ctx := context.Background()

	first := NewTracker(mem, cfg, zerolog.Nop())
	first.SetEnabled(ctx, true)
	first.Open(ctx, longPosition())

	second := NewTracker(mem, cfg, zerolog.Nop())
	if err := second.Load(ctx); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	s, _ := second.Snapshot(ctx)
	if s.Position == nil || s.Position.Symbol != "ES" {
		t.Errorf("expected open position to survive restart, got %+v", s.Position)
	}
	if !s.Enabled {
		t.Error("enabled flag should persist")
	}
}
