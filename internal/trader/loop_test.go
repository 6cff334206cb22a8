package trader

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"futures-trading-engine/internal/adaptive"
	"futures-trading-engine/internal/executor"
	"futures-trading-engine/internal/market"
	"futures-trading-engine/internal/position"
	"futures-trading-engine/internal/store"
	"futures-trading-engine/internal/strategies"
)

type stubExecutor struct {
	fills    []*executor.Fill
	errs     []error
	requests []strategies.Direction
}

func (s *stubExecutor) Submit(_ context.Context, _ string, direction strategies.Direction, _ int) (*executor.Fill, error) {
	s.requests = append(s.requests, direction)
	i := len(s.requests) - 1
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	var fill *executor.Fill
	if i < len(s.fills) {
		fill = s.fills[i]
	}
	return fill, err
}

type panicFeed struct{}

func (panicFeed) Candles(context.Context, string, string, int) ([]market.Candle, error) {
	panic("corrupt feed buffer")
}

func newLoopFixture(feed market.Feed, exec OrderSubmitter) (*Loop, *position.Tracker, *adaptive.Engine) {
	mem := store.NewMemoryStore()
	engine := adaptive.NewEngine(nil, nil, nil, zerolog.Nop())
	tracker := position.NewTracker(mem, position.Config{
		StateKey:   "loop_test",
		PointValue: 50,
		Location:   time.UTC,
	}, zerolog.Nop())
	breaker := executor.NewBreaker(executor.BreakerConfig{}, zerolog.Nop())
	loop := NewLoop(feed, engine, tracker, exec, breaker, mem, Config{
		Symbol:        "ES",
		Interval:      "1m",
		WindowBars:    100,
		Contracts:     1,
		Location:      time.UTC,
		RTHEndMinutes: 15 * 60,
	}, zerolog.Nop())
	return loop, tracker, engine
}

func TestStepContainsPanics(t *testing.T) {
	loop, _, _ := newLoopFixture(panicFeed{}, &stubExecutor{})
	// Must not propagate the feed panic.
	loop.step(context.Background())
}

func TestManageStopLossClosesAndRecords(t *testing.T) {
	ctx := context.Background()
	exec := &stubExecutor{
		fills: []*executor.Fill{{OrderID: "x", Price: 4994.75}},
	}
	candles := []market.Candle{{
		Time: time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC),
		Open: 4996, High: 4997, Low: 4993, Close: 4994, Volume: 100,
	}}
	loop, tracker, engine := newLoopFixture(&market.StaticFeed{Series: candles}, exec)

	tracker.SetEnabled(ctx, true)
	tracker.Open(ctx, position.OpenPosition{
		Symbol:      "ES",
		Direction:   strategies.Long,
		EntryPrice:  5000,
		StopPrice:   4995,
		TargetPrice: 5010,
		Contracts:   1,
		Pattern:     "ema20_pullback_bounce",
		Strategy:    "ema_pullback",
	})

	loop.step(ctx)

	s, _ := tracker.Snapshot(ctx)
	if s.Position != nil {
		t.Fatal("expected position closed after stop touch")
	}
	if len(s.History) != 1 || s.History[0].ExitReason != "Stop Loss" {
		t.Fatalf("expected one Stop Loss record, got %+v", s.History)
	}
	if len(exec.requests) != 1 || exec.requests[0] != strategies.Short {
		t.Errorf("expected one SELL exit order, got %v", exec.requests)
	}
	if engine.HistoryLen() != 1 {
		t.Errorf("expected outcome recorded in learning, got %d", engine.HistoryLen())
	}
	// The outcome must land in the strategy's bucket, not the pattern's.
	if _, ok := engine.Performance("ema_pullback"); !ok {
		t.Error("expected performance recorded under the strategy name")
	}
	if _, ok := engine.Performance("ema20_pullback_bounce"); ok {
		t.Error("pattern name must not get its own performance bucket")
	}
}

func TestManageKeepsPositionOnUnconfirmedExit(t *testing.T) {
	ctx := context.Background()
	exec := &stubExecutor{errs: []error{executor.ErrNotConfirmed}}
	candles := []market.Candle{{
		Time: time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC),
		Open: 4996, High: 4997, Low: 4993, Close: 4994, Volume: 100,
	}}
	loop, tracker, _ := newLoopFixture(&market.StaticFeed{Series: candles}, exec)

	tracker.SetEnabled(ctx, true)
	tracker.Open(ctx, position.OpenPosition{
		Symbol: "ES", Direction: strategies.Long,
		EntryPrice: 5000, StopPrice: 4995, TargetPrice: 5010, Contracts: 1,
	})

	loop.step(ctx)

	s, _ := tracker.Snapshot(ctx)
	if s.Position == nil {
		t.Fatal("unconfirmed exit must not close the tracker position")
	}
	if len(s.History) != 0 {
		t.Errorf("no trade record expected, got %+v", s.History)
	}
}

func TestSeekFlatMarketSubmitsNothing(t *testing.T) {
	ctx := context.Background()
	exec := &stubExecutor{}
	candles := make([]market.Candle, 100)
	base := time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)
	for i := range candles {
		candles[i] = market.Candle{
			Time: base.Add(time.Duration(i) * time.Minute),
			Open: 5000, High: 5000.25, Low: 4999.75, Close: 5000, Volume: 1000,
		}
	}
	loop, tracker, _ := newLoopFixture(&market.StaticFeed{Series: candles}, exec)
	tracker.SetEnabled(ctx, true)

	loop.step(ctx)
	if len(exec.requests) != 0 {
		t.Errorf("flat market must not submit orders, got %v", exec.requests)
	}
}

func TestRestoreLearningRoundTrip(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	engine := adaptive.NewEngine(nil, nil, nil, zerolog.Nop())
	engine.RecordOutcome(adaptive.TradeOutcome{Strategy: "ema_pullback", Win: true, PnLPercent: 1})

	doc, err := json.Marshal(engine.Snapshot())
	if err != nil {
		t.Fatalf("snapshot encode failed: %v", err)
	}
	mem.Upsert(ctx, LearningStateKey, doc)

	tracker := position.NewTracker(mem, position.Config{StateKey: "t"}, zerolog.Nop())
	breaker := executor.NewBreaker(executor.BreakerConfig{}, zerolog.Nop())
	fresh := adaptive.NewEngine(nil, nil, nil, zerolog.Nop())
	loop := NewLoop(&market.StaticFeed{}, fresh, tracker, &stubExecutor{}, breaker, mem, Config{}, zerolog.Nop())

	if err := loop.RestoreLearning(ctx); err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if fresh.HistoryLen() != 1 {
		t.Errorf("expected restored history of 1, got %d", fresh.HistoryLen())
	}
}
