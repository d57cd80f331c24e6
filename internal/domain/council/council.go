// Package council defines the domain model for council deliberation:
// opinions collected from independent sources and the consensus rules that
// turn them into a result. Aggregation is a pure function of the recorded
// opinions so any result can be recomputed offline from its audit entry.
package council

import "time"

// Vote is an opinion source's position on a request.
type Vote string

const (
	VoteApprove Vote = "approve"
	VoteReject  Vote = "reject"
	VoteAbstain Vote = "abstain"
)

// Value returns the vote's contribution sign for weighted scoring.
func (v Vote) Value() float64 {
	switch v {
	case VoteApprove:
		return 1
	case VoteReject:
		return -1
	default:
		return 0
	}
}

// Valid reports whether v is a known vote.
func (v Vote) Valid() bool {
	switch v {
	case VoteApprove, VoteReject, VoteAbstain:
		return true
	}
	return false
}

// Opinion is a single source's assessment of a request. A source produces at
// most one opinion per deliberation; a failed or timed-out source produces
// none. Immutable once recorded.
type Opinion struct {
	SourceID   string    `json:"source_id"`
	Vote       Vote      `json:"vote"`
	Confidence float64   `json:"confidence"` // 0.0 - 1.0
	Weight     float64   `json:"weight"`     // member weight, 1.0 when unset
	Rationale  string    `json:"rationale"`
	ReceivedAt time.Time `json:"received_at"`
}

// Outcome is the finalized consensus verdict.
type Outcome string

const (
	OutcomeApproved    Outcome = "approved"
	OutcomeRejected    Outcome = "rejected"
	OutcomeTieResolved Outcome = "tie_resolved"
)

// Rejection reasons. The engine escalates ReasonNoConsensus to the human
// tier; everything else is final at this layer.
const (
	ReasonInsufficientOpinions = "insufficient opinions"
	ReasonChairmanUnavailable  = "tie with chairman unavailable"
	ReasonNoConsensus          = "no consensus"
	ReasonMajorityReject       = "rejected by majority"
	ReasonNoVotes              = "no votes cast"
)

// Rules are the consensus parameters for one deliberation.
type Rules struct {
	Threshold  float64 // consensus fraction, e.g. 0.66
	MinQuorum  int     // minimum opinions required; 0 means all sources
	Sources    int     // number of sources queried
	ChairmanID string  // tie-break source
}

// Result is the finalized outcome of one council deliberation.
// Never mutated after finalization.
type Result struct {
	RequestID      string    `json:"request_id"`
	Opinions       []Opinion `json:"opinions"` // all received, in arrival order
	WeightedScore  float64   `json:"weighted_score"`
	ThresholdUsed  float64   `json:"threshold_used"`
	Outcome        Outcome   `json:"outcome"`
	Approved       bool      `json:"approved"`
	Reason         string    `json:"reason"`
	TieBreakSource string    `json:"tie_break_source,omitempty"` // set only when a tie-break was invoked
	FinalizedAt    time.Time `json:"finalized_at"`
}
