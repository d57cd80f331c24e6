package messagequeue

// DecisionRequestedPayload is the schema for decisions.requested messages.
type DecisionRequestedPayload struct {
	RequestID  string  `json:"request_id"`
	ActionType string  `json:"action_type"`
	AmountUSD  float64 `json:"amount_usd,omitempty"`
	Tier       string  `json:"tier"`
}

// DecisionDeliberatedPayload is the schema for decisions.deliberated messages.
type DecisionDeliberatedPayload struct {
	RequestID     string  `json:"request_id"`
	Outcome       string  `json:"outcome"`
	Reason        string  `json:"reason"`
	WeightedScore float64 `json:"weighted_score"`
	Opinions      int     `json:"opinions"`
}

// DecisionResolvedPayload is the schema for decisions.resolved messages.
type DecisionResolvedPayload struct {
	RequestID    string `json:"request_id"`
	Tier         string `json:"tier"`
	Approved     bool   `json:"approved"`
	Reason       string `json:"reason"`
	AuditEntryID string `json:"audit_entry_id"`
}

// ApprovalPendingPayload is the schema for decisions.approval.pending messages.
type ApprovalPendingPayload struct {
	RequestID string  `json:"request_id"`
	AmountUSD float64 `json:"amount_usd,omitempty"`
	Payload   string  `json:"payload"`
	ExpiresAt string  `json:"expires_at"`
}

// ApprovalResolvedPayload is the schema for decisions.approval.resolved messages.
type ApprovalResolvedPayload struct {
	RequestID   string `json:"request_id"`
	Status      string `json:"status"`
	ResponderID string `json:"responder_id,omitempty"`
}
