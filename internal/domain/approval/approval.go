// Package approval defines the human approval state machine. A waiter is
// created per human-tier request and transitions exactly once from Pending
// to a terminal state; a timeout is treated identically to a rejection.
package approval

import "time"

// Status is the state of a human approval waiter.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusTimedOut Status = "timed_out"
)

// Terminal reports whether s is a terminal state.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusTimedOut
}

// Waiter tracks one pending human decision. Exactly one per human-tier
// request; status transitions are monotonic.
type Waiter struct {
	RequestID   string     `json:"request_id"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	ResponderID string     `json:"responder_id,omitempty"`
	Comment     string     `json:"comment,omitempty"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
}

// Response is a human responder's answer to a pending waiter.
type Response struct {
	RequestID   string `json:"request_id"`
	Approved    bool   `json:"approved"`
	ResponderID string `json:"responder_id"`
	Comment     string `json:"comment,omitempty"`
}
