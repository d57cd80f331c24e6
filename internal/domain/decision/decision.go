// Package decision defines the core domain model for Arbiter's decision
// engine: requests, tiers, and verdicts. Every consequential action flows
// through exactly one DecisionRequest and ends in exactly one Verdict.
package decision

import "time"

// ActionType tags what kind of action a decision request gates.
type ActionType string

const (
	ActionSpend            ActionType = "spend"
	ActionVentureChange    ActionType = "venture_change"
	ActionSelfModification ActionType = "self_modification"
	ActionGeneric          ActionType = "generic"
)

// Valid reports whether t is a known action type.
func (t ActionType) Valid() bool {
	switch t {
	case ActionSpend, ActionVentureChange, ActionSelfModification, ActionGeneric:
		return true
	}
	return false
}

// Tier is the authorization level assigned to a request. It is always
// recomputed from thresholds and the action type, never stored on its own.
type Tier string

const (
	TierAutonomous       Tier = "autonomous"
	TierCouncil          Tier = "council"
	TierHuman            Tier = "human"
	TierSelfModification Tier = "self_modification"
)

// Request is a decision request submitted to the engine.
// Immutable once created.
type Request struct {
	ID          string     `json:"id"`
	ActionType  ActionType `json:"action_type"`
	Amount      *float64   `json:"amount,omitempty"` // USD; decisive for tiering
	Destination string     `json:"destination,omitempty"`
	Payload     string     `json:"payload"` // opaque, passed to opinion sources and audit
	RequestedAt time.Time  `json:"requested_at"`
	Deadline    *time.Time `json:"deadline,omitempty"`
}

// AmountUSD returns the request amount, or 0 when none is set.
func (r *Request) AmountUSD() float64 {
	if r.Amount == nil {
		return 0
	}
	return *r.Amount
}

// Verdict is the terminal authorization outcome for a request. The caller
// performs the underlying effect; it must never act on a rejected verdict.
type Verdict struct {
	RequestID    string    `json:"request_id"`
	Approved     bool      `json:"approved"`
	Tier         Tier      `json:"tier"`
	Reason       string    `json:"reason"`
	AuditEntryID string    `json:"audit_entry_id"`
	DecidedAt    time.Time `json:"decided_at"`
}
