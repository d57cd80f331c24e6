// Package policy defines the domain model for Arbiter's policy gate:
// the hard spending constraints checked after tier approval and before
// any execution is authorized.
package policy

import "time"

// Constraint identifies one evaluated policy constraint.
type Constraint string

const (
	ConstraintWhitelist   Constraint = "whitelist_membership"
	ConstraintPerTxLimit  Constraint = "per_tx_limit"
	ConstraintDailyLimit  Constraint = "daily_limit"
	ConstraintWeeklyLimit Constraint = "weekly_limit"
	ConstraintMultiSig    Constraint = "multi_sig_required"
)

// Limits are the configured hard constraints. Loaded once and passed in
// explicitly; no ambient global state.
type Limits struct {
	PerTxUSD             float64  `json:"per_tx_usd" yaml:"per_tx_usd"`
	DailyUSD             float64  `json:"daily_usd" yaml:"daily_usd"`
	WeeklyUSD            float64  `json:"weekly_usd" yaml:"weekly_usd"`
	MultiSigThresholdUSD float64  `json:"multi_sig_threshold_usd" yaml:"multi_sig_threshold_usd"`
	Whitelist            []string `json:"whitelist" yaml:"whitelist"` // approved destinations, case-insensitive
}

// Evaluation records every limit as it was evaluated so a Check outcome can
// be reproduced from the audit entry alone.
type Evaluation struct {
	AmountUSD        float64 `json:"amount_usd"`
	PerTxLimitUSD    float64 `json:"per_tx_limit_usd"`
	DailySpentUSD    float64 `json:"daily_spent_usd"` // prior same-day approved spend, same action type
	DailyLimitUSD    float64 `json:"daily_limit_usd"`
	WeeklySpentUSD   float64 `json:"weekly_spent_usd"`
	WeeklyLimitUSD   float64 `json:"weekly_limit_usd"`
	WhitelistChecked bool    `json:"whitelist_checked"`
	MultiSigRequired bool    `json:"multi_sig_required"`
}

// Check is the outcome of one policy gate evaluation.
type Check struct {
	RequestID string     `json:"request_id"`
	Passed    bool       `json:"passed"`
	Violated  Constraint `json:"violated,omitempty"` // set only on failure
	Reason    string     `json:"reason,omitempty"`
	Evaluated Evaluation `json:"evaluated"`
	CheckedAt time.Time  `json:"checked_at"`
}
