package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/arbiterhq/arbiter/internal/domain/audit"
	"github.com/arbiterhq/arbiter/internal/port/auditstore"
	"github.com/arbiterhq/arbiter/internal/port/cache"
)

// AuditService writes and reads the append-only audit log. Writes are
// serialized under one mutex so each entry chains to the true predecessor
// hash; reads go through an optional in-process cache.
type AuditService struct {
	store auditstore.Store
	cache cache.Cache
	ttl   time.Duration
	now   func() time.Time

	mu sync.Mutex
}

// NewAuditService creates an audit service over the given store.
func NewAuditService(store auditstore.Store) *AuditService {
	return &AuditService{
		store: store,
		now:   time.Now,
	}
}

// SetCache attaches a read cache for entry lookups.
func (s *AuditService) SetCache(c cache.Cache, ttl time.Duration) {
	s.cache = c
	s.ttl = ttl
}

// Record chains and durably appends an entry. The entry's PrevHash and Hash
// are computed here; callers must not set them. Record returning nil is the
// engine's signal that it may release the verdict.
func (s *AuditService) Record(ctx context.Context, e *audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.store.LastHash(ctx)
	if err != nil {
		return fmt.Errorf("read last audit hash: %w", err)
	}

	if e.RecordedAt.IsZero() {
		e.RecordedAt = s.now().UTC()
	}
	e.PrevHash = prev
	e.Hash = e.ComputeHash()

	if err := s.store.Append(ctx, e); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}

	s.cachePut(ctx, e)
	return nil
}

// ByRequestID returns the audit entry for a request.
func (s *AuditService) ByRequestID(ctx context.Context, requestID string) (*audit.Entry, error) {
	if s.cache != nil {
		if data, found, err := s.cache.Get(ctx, cacheKey(requestID)); err == nil && found {
			var e audit.Entry
			if err := json.Unmarshal(data, &e); err == nil {
				return &e, nil
			}
		}
	}

	e, err := s.store.GetByRequestID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	s.cachePut(ctx, e)
	return e, nil
}

// List returns entries matching the query, oldest first.
func (s *AuditService) List(ctx context.Context, q audit.Query) ([]audit.Entry, error) {
	return s.store.List(ctx, q)
}

// VerifyChain walks the whole log oldest first and checks that every
// entry's hash matches its content and chains to its predecessor. Returns
// the number of verified entries; a non-nil error names the first entry
// that breaks the chain.
func (s *AuditService) VerifyChain(ctx context.Context) (int, error) {
	entries, err := s.store.List(ctx, audit.Query{})
	if err != nil {
		return 0, fmt.Errorf("list audit entries: %w", err)
	}

	prev := ""
	for i := range entries {
		e := &entries[i]
		if e.PrevHash != prev {
			return i, fmt.Errorf("entry %s: prev_hash mismatch", e.ID)
		}
		if !e.Verify() {
			return i, fmt.Errorf("entry %s: content hash mismatch", e.ID)
		}
		prev = e.Hash
	}
	return len(entries), nil
}

func (s *AuditService) cachePut(ctx context.Context, e *audit.Entry) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cacheKey(e.RequestID), data, s.ttl); err != nil {
		slog.Debug("audit cache set failed", "request_id", e.RequestID, "error", err)
	}
}

func cacheKey(requestID string) string {
	return "audit:" + requestID
}
