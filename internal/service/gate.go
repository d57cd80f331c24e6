package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/arbiterhq/arbiter/internal/domain/decision"
	"github.com/arbiterhq/arbiter/internal/domain/policy"
	"github.com/arbiterhq/arbiter/internal/port/auditstore"
)

// Gate enforces the hard spending constraints after tier approval. It keeps
// per-action-type spend windows in memory, guarded by one mutex, so that
// concurrent near-limit requests are checked and reserved atomically: two
// requests that individually fit but jointly exceed a window can never both
// pass. Windows are hydrated from the audit log at startup; the log is the
// source of truth across restarts.
type Gate struct {
	limits policy.Limits
	store  auditstore.Store
	now    func() time.Time

	mu      sync.Mutex
	windows map[decision.ActionType]*spendWindow
}

// spendWindow tracks committed approved spend for one action type in the
// current UTC day and ISO week.
type spendWindow struct {
	day    time.Time
	daily  float64
	week   time.Time
	weekly float64
}

// NewGate creates a policy gate with empty spend windows. Call Rehydrate
// before serving traffic.
func NewGate(limits policy.Limits, store auditstore.Store) *Gate {
	return &Gate{
		limits:  limits,
		store:   store,
		now:     time.Now,
		windows: make(map[decision.ActionType]*spendWindow),
	}
}

// Rehydrate rebuilds the spend windows from approved audit entries, so
// daily and weekly limits survive process restarts.
func (g *Gate) Rehydrate(ctx context.Context) error {
	if g.store == nil {
		return nil
	}

	now := g.now().UTC()
	day, week := dayStart(now), weekStart(now)

	types := []decision.ActionType{
		decision.ActionSpend,
		decision.ActionVentureChange,
		decision.ActionSelfModification,
		decision.ActionGeneric,
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, at := range types {
		daily, err := g.store.SumApprovedSpend(ctx, at, day)
		if err != nil {
			return fmt.Errorf("rehydrate daily spend for %s: %w", at, err)
		}
		weekly, err := g.store.SumApprovedSpend(ctx, at, week)
		if err != nil {
			return fmt.Errorf("rehydrate weekly spend for %s: %w", at, err)
		}
		g.windows[at] = &spendWindow{day: day, daily: daily, week: week, weekly: weekly}
		if daily > 0 || weekly > 0 {
			slog.Info("spend window rehydrated",
				"action_type", at,
				"daily_usd", daily,
				"weekly_usd", weekly,
			)
		}
	}
	return nil
}

// Check evaluates the request against the configured limits and, when it
// passes, reserves the amount in the current windows in the same critical
// section. A reservation is released only by Release, on audit failure.
func (g *Gate) Check(req decision.Request) policy.Check {
	now := g.now().UTC()
	amount := req.AmountUSD()

	g.mu.Lock()
	defer g.mu.Unlock()

	w := g.window(req.ActionType, now)
	check := policy.Evaluate(req.ID, req.Destination, amount, w.daily, w.weekly, g.limits, now)
	if check.Passed && amount > 0 {
		w.daily += amount
		w.weekly += amount
	}
	return check
}

// Release undoes a reservation made by a passed Check. Called when the
// audit write fails and the verdict is abandoned.
func (g *Gate) Release(req decision.Request) {
	amount := req.AmountUSD()
	if amount <= 0 {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	w := g.window(req.ActionType, g.now().UTC())
	w.daily -= amount
	if w.daily < 0 {
		w.daily = 0
	}
	w.weekly -= amount
	if w.weekly < 0 {
		w.weekly = 0
	}
}

// Limits returns the configured constraints, for reporting.
func (g *Gate) Limits() policy.Limits {
	return g.limits
}

// window returns the current window for an action type, rolling expired
// day and week boundaries. Must be called with g.mu held.
func (g *Gate) window(at decision.ActionType, now time.Time) *spendWindow {
	w, ok := g.windows[at]
	if !ok {
		w = &spendWindow{day: dayStart(now), week: weekStart(now)}
		g.windows[at] = w
		return w
	}
	if day := dayStart(now); day.After(w.day) {
		w.day = day
		w.daily = 0
	}
	if week := weekStart(now); week.After(w.week) {
		w.week = week
		w.weekly = 0
	}
	return w
}

// dayStart returns UTC midnight of t's day.
func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// weekStart returns UTC midnight of the Monday of t's ISO week.
func weekStart(t time.Time) time.Time {
	d := dayStart(t)
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}
