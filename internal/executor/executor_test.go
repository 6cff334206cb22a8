package executor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"futures-trading-engine/internal/strategies"
)

func TestSubmitFilled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/orders" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"status":"filled","fill_price":5001.25,"venue_id":"abc-123"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, zerolog.Nop())
	fill, err := c.Submit(context.Background(), "ES", strategies.Long, 1)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if fill.Price != 5001.25 {
		t.Errorf("expected fill price 5001.25, got %f", fill.Price)
	}
	if len(fill.RawResponse) == 0 {
		t.Error("expected raw venue payload captured for audit")
	}
}

func TestSubmitRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"rejected","reason":"insufficient margin"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, zerolog.Nop())
	_, err := c.Submit(context.Background(), "ES", strategies.Short, 1)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
}

func TestSubmitAmbiguousIsNotConfirmed(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"server error": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		},
		"malformed body": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`not json`))
		},
		"fill without price": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"status":"filled"}`))
		},
		"unknown status": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"status":"pending"}`))
		},
	}
	for name, handler := range cases {
		srv := httptest.NewServer(handler)
		c := NewClient(srv.URL, time.Second, zerolog.Nop())
		_, err := c.Submit(context.Background(), "ES", strategies.Long, 1)
		srv.Close()
		if !errors.Is(err, ErrNotConfirmed) {
			t.Errorf("%s: expected ErrNotConfirmed, got %v", name, err)
		}
	}
}

func TestSubmitTimeoutIsNotConfirmed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 20*time.Millisecond, zerolog.Nop())
	_, err := c.Submit(context.Background(), "ES", strategies.Long, 1)
	if !errors.Is(err, ErrNotConfirmed) {
		t.Fatalf("expected ErrNotConfirmed on timeout, got %v", err)
	}
}

func testBreaker(cfg BreakerConfig) (*Breaker, *time.Time) {
	b := NewBreaker(cfg, zerolog.Nop())
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreakerTripsOnConsecutiveLosses(t *testing.T) {
	b, _ := testBreaker(BreakerConfig{Enabled: true, MaxConsecutiveLosses: 3, CooldownMinutes: 30})

	for i := 0; i < 2; i++ {
		b.RecordOutcome(-50)
	}
	if ok, _ := b.Allow(); !ok {
		t.Fatal("breaker should still be closed at 2 losses")
	}
	b.RecordOutcome(-50)
	if ok, reason := b.Allow(); ok {
		t.Fatal("breaker should be open after 3 consecutive losses")
	} else if reason == "" {
		t.Error("expected a blocking reason")
	}
}

func TestBreakerWinResetsStreak(t *testing.T) {
	b, _ := testBreaker(BreakerConfig{Enabled: true, MaxConsecutiveLosses: 3})
	b.RecordOutcome(-50)
	b.RecordOutcome(-50)
	b.RecordOutcome(100)
	b.RecordOutcome(-50)
	if ok, _ := b.Allow(); !ok {
		t.Error("win should have reset the loss streak")
	}
}

func TestBreakerCooldownAndRecovery(t *testing.T) {
	b, now := testBreaker(BreakerConfig{Enabled: true, MaxDailyLoss: 100, CooldownMinutes: 30})
	b.RecordOutcome(-150)
	if ok, _ := b.Allow(); ok {
		t.Fatal("breaker should be open after daily loss breach")
	}

	*now = now.Add(31 * time.Minute)
	if ok, _ := b.Allow(); !ok {
		t.Fatal("breaker should go half-open after cooldown")
	}
	// Winning probe trade closes it.
	b.RecordOutcome(75)
	if state, _ := b.State(); state != StateClosed {
		t.Errorf("expected closed after winning probe, got %s", state)
	}
}

func TestBreakerDailyLossResetsNextDay(t *testing.T) {
	b, now := testBreaker(BreakerConfig{Enabled: true, MaxDailyLoss: 100})
	b.RecordOutcome(-90)
	*now = now.Add(24 * time.Hour)
	b.RecordOutcome(-90)
	if state, _ := b.State(); state != StateClosed {
		t.Error("daily loss should reset on new calendar day")
	}
}
