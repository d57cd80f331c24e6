// Package audit defines the append-only, tamper-evident record of every
// decision. Entries carry the full consensus result or approval terminal
// state plus the policy check, so any outcome can be recomputed offline
// from the log alone. Entries are never edited or deleted.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/arbiterhq/arbiter/internal/domain/approval"
	"github.com/arbiterhq/arbiter/internal/domain/council"
	"github.com/arbiterhq/arbiter/internal/domain/decision"
	"github.com/arbiterhq/arbiter/internal/domain/policy"
)

// Entry is one append-only audit record. Exactly one of Consensus or
// Approval is set for council/human tiers; both are nil for autonomous
// decisions.
type Entry struct {
	ID          string           `json:"id"`
	RequestID   string           `json:"request_id"`
	Tier        decision.Tier    `json:"tier"`
	Request     decision.Request `json:"request"`
	Consensus   *council.Result  `json:"consensus,omitempty"`
	Approval    *approval.Waiter `json:"approval,omitempty"`
	PolicyCheck *policy.Check    `json:"policy_check,omitempty"`
	Verdict     decision.Verdict `json:"verdict"`
	PrevHash    string           `json:"prev_hash"`
	Hash        string           `json:"hash"`
	RecordedAt  time.Time        `json:"recorded_at"`
}

// ComputeHash returns the SHA-256 hash chaining this entry to its
// predecessor. The hash covers the canonical JSON of the entry with the
// Hash field cleared, so any later edit breaks the chain.
func (e *Entry) ComputeHash() string {
	clone := *e
	clone.Hash = ""
	data, _ := json.Marshal(&clone)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Verify reports whether the stored hash matches the entry's content.
func (e *Entry) Verify() bool {
	return e.Hash == e.ComputeHash()
}

// Query selects audit entries for reporting. Zero-value fields are ignored.
type Query struct {
	RequestID string
	Tier      decision.Tier
	From      time.Time
	To        time.Time
	Limit     int
}
