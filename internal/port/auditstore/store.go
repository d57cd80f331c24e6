// Package auditstore defines the port for the append-only audit log.
package auditstore

import (
	"context"
	"time"

	"github.com/arbiterhq/arbiter/internal/domain/audit"
	"github.com/arbiterhq/arbiter/internal/domain/decision"
)

// Store persists audit entries. There is deliberately no update or delete:
// the log is the sole source of truth for post-hoc recomputation.
type Store interface {
	// Append writes an entry. The write must be durable before it returns;
	// the engine does not release a verdict until it succeeds.
	Append(ctx context.Context, e *audit.Entry) error

	// GetByRequestID returns the entry for a request, or domain.ErrNotFound.
	GetByRequestID(ctx context.Context, requestID string) (*audit.Entry, error)

	// List returns entries matching the query, oldest first.
	List(ctx context.Context, q audit.Query) ([]audit.Entry, error)

	// LastHash returns the hash of the most recent entry, or "" for an
	// empty log. Used to chain the next entry.
	LastHash(ctx context.Context) (string, error)

	// SumApprovedSpend returns the total approved amount for an action type
	// since the given instant. Used to rehydrate the gate's spend windows.
	SumApprovedSpend(ctx context.Context, actionType decision.ActionType, since time.Time) (float64, error)
}
