package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Event type constants for dashboard WebSocket messages.
const (
	EventDecisionRequested  = "decision.requested"
	EventCouncilDeliberated = "council.deliberated"
	EventDecisionResolved   = "decision.resolved"
	EventApprovalPending    = "approval.pending"
	EventApprovalResolved   = "approval.resolved"
	EventApprovalReminder   = "approval.reminder"
)

// DecisionRequestedEvent is broadcast when a request enters the engine.
type DecisionRequestedEvent struct {
	RequestID  string  `json:"request_id"`
	ActionType string  `json:"action_type"`
	AmountUSD  float64 `json:"amount_usd,omitempty"`
	Tier       string  `json:"tier"`
}

// CouncilDeliberatedEvent is broadcast when a council deliberation finalizes.
type CouncilDeliberatedEvent struct {
	RequestID     string  `json:"request_id"`
	Outcome       string  `json:"outcome"`
	Reason        string  `json:"reason"`
	WeightedScore float64 `json:"weighted_score"`
	Opinions      int     `json:"opinions"`
}

// DecisionResolvedEvent is broadcast when a request reaches its verdict.
type DecisionResolvedEvent struct {
	RequestID    string `json:"request_id"`
	Tier         string `json:"tier"`
	Approved     bool   `json:"approved"`
	Reason       string `json:"reason"`
	AuditEntryID string `json:"audit_entry_id"`
}

// ApprovalPendingEvent is broadcast when a request starts waiting on a human.
type ApprovalPendingEvent struct {
	RequestID string  `json:"request_id"`
	AmountUSD float64 `json:"amount_usd,omitempty"`
	Payload   string  `json:"payload"`
	ExpiresAt string  `json:"expires_at"`
}

// ApprovalResolvedEvent is broadcast when a pending approval reaches a
// terminal state, including timeout.
type ApprovalResolvedEvent struct {
	RequestID   string `json:"request_id"`
	Status      string `json:"status"`
	ResponderID string `json:"responder_id,omitempty"`
}

// BroadcastEvent is a convenience method that marshals a typed event and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
