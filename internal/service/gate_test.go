package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/arbiterhq/arbiter/internal/domain/audit"
	"github.com/arbiterhq/arbiter/internal/domain/decision"
	"github.com/arbiterhq/arbiter/internal/domain/policy"
)

func testLimits() policy.Limits {
	return policy.Limits{
		PerTxUSD:             1000,
		DailyUSD:             5000,
		WeeklyUSD:            20000,
		MultiSigThresholdUSD: 2000,
		Whitelist:            []string{"vendor-a"},
	}
}

func TestGatePassReservesSpend(t *testing.T) {
	g := NewGate(testLimits(), nil)

	for i := 0; i < 5; i++ {
		check := g.Check(spendRequest("req", 1000))
		if !check.Passed {
			t.Fatalf("request %d should pass: %s", i, check.Reason)
		}
	}

	// 5000 committed; anything more breaks the daily limit.
	check := g.Check(spendRequest("req", 1))
	if check.Passed {
		t.Fatal("expected daily limit violation")
	}
	if check.Violated != policy.ConstraintDailyLimit {
		t.Fatalf("expected daily_limit, got %s", check.Violated)
	}
}

func TestGateRejectionReservesNothing(t *testing.T) {
	g := NewGate(testLimits(), nil)

	if check := g.Check(spendRequest("req", 1500)); check.Passed {
		t.Fatal("per-tx violation expected")
	}

	// The rejected request consumed no budget.
	if check := g.Check(spendRequest("req", 1000)); !check.Passed {
		t.Fatalf("expected full daily budget available: %s", check.Reason)
	}
}

func TestGateConcurrentNearLimitRequests(t *testing.T) {
	// Daily limit 5000, twenty concurrent requests of 300 each: at most 16
	// can pass (16*300=4800), never a pair that jointly overshoots.
	g := NewGate(testLimits(), nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var approved float64

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if check := g.Check(spendRequest("req", 300)); check.Passed {
				mu.Lock()
				approved += 300
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if approved > 5000 {
		t.Fatalf("daily limit breached under concurrency: %v approved", approved)
	}
	if approved != 4800 {
		t.Fatalf("expected exactly 4800 approved, got %v", approved)
	}
}

func TestGateReleaseRestoresBudget(t *testing.T) {
	g := NewGate(testLimits(), nil)

	if check := g.Check(spendRequest("req", 1000)); !check.Passed {
		t.Fatalf("expected pass: %s", check.Reason)
	}
	g.Release(spendRequest("req", 1000))

	for i := 0; i < 5; i++ {
		if check := g.Check(spendRequest("req", 1000)); !check.Passed {
			t.Fatalf("budget not restored, request %d failed: %s", i, check.Reason)
		}
	}
}

func TestGateWindowsPerActionType(t *testing.T) {
	limits := testLimits()
	limits.Whitelist = nil
	g := NewGate(limits, nil)

	spend := spendRequest("req", 1000)
	venture := decision.Request{
		ID:         "req-v",
		ActionType: decision.ActionVentureChange,
		Amount:     ptr(1000.0),
	}

	for i := 0; i < 5; i++ {
		if check := g.Check(spend); !check.Passed {
			t.Fatalf("spend %d: %s", i, check.Reason)
		}
	}
	// Spend budget is exhausted, but venture changes track their own window.
	if check := g.Check(venture); !check.Passed {
		t.Fatalf("venture change should have its own window: %s", check.Reason)
	}
}

func TestGateRehydrateFromAuditLog(t *testing.T) {
	store := &memStore{}
	now := time.Now().UTC()

	// Two approved spends earlier today totalling 4500.
	for i, amount := range []float64{3000, 1500} {
		req := spendRequest("old", amount)
		e := &audit.Entry{
			ID:         "e" + string(rune('1'+i)),
			RequestID:  req.ID,
			Tier:       decision.TierCouncil,
			Request:    req,
			Verdict:    decision.Verdict{RequestID: req.ID, Approved: true},
			RecordedAt: now,
		}
		if err := store.Append(context.Background(), e); err != nil {
			t.Fatal(err)
		}
	}

	g := NewGate(testLimits(), store)
	if err := g.Rehydrate(context.Background()); err != nil {
		t.Fatalf("rehydrate failed: %v", err)
	}

	// 500 more reaches the cap exactly; the next dollar breaks it.
	if check := g.Check(spendRequest("req", 500)); !check.Passed {
		t.Fatalf("expected 500 to fit after rehydration: %s", check.Reason)
	}
	if check := g.Check(spendRequest("req", 1)); check.Passed {
		t.Fatal("expected daily limit violation after rehydrated spend")
	}
}

func TestDayAndWeekWindows(t *testing.T) {
	// Wednesday 2026-03-18 15:04 UTC.
	at := time.Date(2026, 3, 18, 15, 4, 0, 0, time.UTC)

	if got := dayStart(at); !got.Equal(time.Date(2026, 3, 18, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("day start: got %v", got)
	}
	if got := weekStart(at); !got.Equal(time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("week start: got %v", got)
	}
	// Sunday belongs to the week that started the previous Monday.
	sunday := time.Date(2026, 3, 22, 23, 0, 0, 0, time.UTC)
	if got := weekStart(sunday); !got.Equal(time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("sunday week start: got %v", got)
	}
}

func TestGateDailyWindowRollsOver(t *testing.T) {
	g := NewGate(testLimits(), nil)
	now := time.Date(2026, 3, 18, 23, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		if check := g.Check(spendRequest("req", 1000)); !check.Passed {
			t.Fatalf("spend %d: %s", i, check.Reason)
		}
	}
	if check := g.Check(spendRequest("req", 1000)); check.Passed {
		t.Fatal("daily budget should be exhausted")
	}

	// Next day: daily window resets, weekly keeps accumulating.
	now = now.Add(2 * time.Hour)
	if check := g.Check(spendRequest("req", 1000)); !check.Passed {
		t.Fatalf("daily window should reset at midnight: %s", check.Reason)
	}
}
