package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/arbiterhq/arbiter/internal/domain/audit"
	"github.com/arbiterhq/arbiter/internal/domain/council"
	"github.com/arbiterhq/arbiter/internal/domain/decision"
)

// fakeSource is a scripted opinion source for deliberation tests.
type fakeSource struct {
	id         string
	vote       council.Vote
	confidence float64
	weight     float64
	delay      time.Duration
	err        error
}

func (f *fakeSource) ID() string { return f.id }

func (f *fakeSource) Opine(ctx context.Context, _ decision.Request) (council.Opinion, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return council.Opinion{}, ctx.Err()
		}
	}
	if f.err != nil {
		return council.Opinion{}, f.err
	}
	w := f.weight
	if w == 0 {
		w = 1
	}
	return council.Opinion{
		SourceID:   f.id,
		Vote:       f.vote,
		Confidence: f.confidence,
		Weight:     w,
		ReceivedAt: time.Now(),
	}, nil
}

// memStore is an in-memory auditstore.Store for engine and audit tests.
type memStore struct {
	mu         sync.Mutex
	entries    []audit.Entry
	failAppend bool
}

func (m *memStore) Append(_ context.Context, e *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAppend {
		return errors.New("store unavailable")
	}
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memStore) GetByRequestID(_ context.Context, requestID string) (*audit.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.entries {
		if m.entries[i].RequestID == requestID {
			e := m.entries[i]
			return &e, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memStore) List(_ context.Context, q audit.Query) ([]audit.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]audit.Entry, 0, len(m.entries))
	for _, e := range m.entries {
		if q.RequestID != "" && e.RequestID != q.RequestID {
			continue
		}
		if q.Tier != "" && e.Tier != q.Tier {
			continue
		}
		out = append(out, e)
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *memStore) LastHash(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) == 0 {
		return "", nil
	}
	return m.entries[len(m.entries)-1].Hash, nil
}

func (m *memStore) SumApprovedSpend(_ context.Context, actionType decision.ActionType, since time.Time) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum float64
	for _, e := range m.entries {
		if !e.Verdict.Approved || e.Request.ActionType != actionType {
			continue
		}
		if e.RecordedAt.Before(since) {
			continue
		}
		sum += e.Request.AmountUSD()
	}
	return sum, nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *memStore) last() audit.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[len(m.entries)-1]
}

func ptr(v float64) *float64 { return &v }

func testThresholds() decision.Thresholds {
	return decision.Thresholds{
		AutoApproveUSD:   100,
		HumanRequiredUSD: 2000,
		DefaultTiers: map[decision.ActionType]decision.Tier{
			decision.ActionVentureChange: decision.TierCouncil,
			decision.ActionGeneric:       decision.TierHuman,
		},
	}
}

func spendRequest(id string, amount float64) decision.Request {
	return decision.Request{
		ID:          id,
		ActionType:  decision.ActionSpend,
		Amount:      ptr(amount),
		Destination: "vendor-a",
		Payload:     "test spend",
	}
}
