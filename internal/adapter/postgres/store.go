package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/arbiterhq/arbiter/internal/domain/audit"
	"github.com/arbiterhq/arbiter/internal/domain/decision"
)

// uniqueViolation is the Postgres error code for duplicate keys.
const uniqueViolation = "23505"

// AuditStore implements auditstore.Store on PostgreSQL. The full entry is
// stored as JSONB so it round-trips byte-for-byte for hash verification;
// the scalar columns exist for querying and window sums only.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates a store backed by the given connection pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Append durably writes one entry. A second entry for the same request is
// rejected with domain.ErrConflict.
func (s *AuditStore) Append(ctx context.Context, e *audit.Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}

	var amount *float64
	if e.Request.Amount != nil {
		v := *e.Request.Amount
		amount = &v
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO audit_entries (id, request_id, tier, action_type, amount_usd, approved, entry, prev_hash, hash, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.RequestID, e.Tier, e.Request.ActionType, amount, e.Verdict.Approved, data, e.PrevHash, e.Hash, e.RecordedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("append audit entry for %s: %w", e.RequestID, domain.ErrConflict)
		}
		return fmt.Errorf("append audit entry for %s: %w", e.RequestID, err)
	}
	return nil
}

// GetByRequestID returns the entry recorded for a request.
func (s *AuditStore) GetByRequestID(ctx context.Context, requestID string) (*audit.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT entry FROM audit_entries WHERE request_id = $1`, requestID)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get audit entry %s: %w", requestID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get audit entry %s: %w", requestID, err)
	}

	var e audit.Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("unmarshal audit entry %s: %w", requestID, err)
	}
	return &e, nil
}

// List returns entries matching the query in chain order, oldest first.
func (s *AuditStore) List(ctx context.Context, q audit.Query) ([]audit.Entry, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if q.RequestID != "" {
		where = append(where, "request_id = "+arg(q.RequestID))
	}
	if q.Tier != "" {
		where = append(where, "tier = "+arg(string(q.Tier)))
	}
	if !q.From.IsZero() {
		where = append(where, "recorded_at >= "+arg(q.From))
	}
	if !q.To.IsZero() {
		where = append(where, "recorded_at <= "+arg(q.To))
	}

	query := `SELECT entry FROM audit_entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq ASC"
	if q.Limit > 0 {
		query += " LIMIT " + arg(q.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		var e audit.Entry
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// LastHash returns the hash of the most recent entry, or "" for an empty log.
func (s *AuditStore) LastHash(ctx context.Context) (string, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT hash FROM audit_entries ORDER BY seq DESC LIMIT 1`)

	var hash string
	if err := row.Scan(&hash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("last audit hash: %w", err)
	}
	return hash, nil
}

// SumApprovedSpend totals the approved amounts for an action type since the
// given instant.
func (s *AuditStore) SumApprovedSpend(ctx context.Context, actionType decision.ActionType, since time.Time) (float64, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount_usd), 0) FROM audit_entries
		 WHERE approved AND action_type = $1 AND amount_usd IS NOT NULL AND recorded_at >= $2`,
		string(actionType), since)

	var sum float64
	if err := row.Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum approved spend for %s: %w", actionType, err)
	}
	return sum, nil
}
