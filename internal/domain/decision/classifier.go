package decision

import (
	"fmt"

	"github.com/arbiterhq/arbiter/internal/domain"
)

// Thresholds holds the tier boundaries used by Classify.
type Thresholds struct {
	AutoApproveUSD   float64             // below this: autonomous
	HumanRequiredUSD float64             // above this: human
	DefaultTiers     map[ActionType]Tier // tier for requests without an amount
}

// Classify maps a request to its authorization tier. It is pure, total, and
// deterministic so a tier can be re-verified from an audit entry alone.
//
// self_modification always maps to TierSelfModification regardless of amount.
// Requests without an amount use the action type's configured default tier;
// an unconfigured default falls back to TierHuman (fail-closed).
func Classify(req Request, t Thresholds) Tier {
	if req.ActionType == ActionSelfModification {
		return TierSelfModification
	}

	if req.Amount == nil {
		if tier, ok := t.DefaultTiers[req.ActionType]; ok {
			return tier
		}
		return TierHuman
	}

	amount := *req.Amount
	switch {
	case amount < t.AutoApproveUSD:
		return TierAutonomous
	case amount <= t.HumanRequiredUSD:
		return TierCouncil
	default:
		return TierHuman
	}
}

// ValidateRequest rejects malformed requests before any deliberation or
// audit entry is created.
func ValidateRequest(req Request, t Thresholds) error {
	if req.ID == "" {
		return fmt.Errorf("%w: request id is required", domain.ErrValidation)
	}
	if !req.ActionType.Valid() {
		return fmt.Errorf("%w: unknown action type %q", domain.ErrValidation, req.ActionType)
	}
	if req.Amount != nil && *req.Amount < 0 {
		return fmt.Errorf("%w: amount must not be negative", domain.ErrValidation)
	}
	if req.Amount == nil && req.ActionType != ActionSelfModification {
		if _, ok := t.DefaultTiers[req.ActionType]; !ok {
			return fmt.Errorf("%w: no amount and no default tier configured for action type %q",
				domain.ErrValidation, req.ActionType)
		}
	}
	if req.ActionType == ActionSpend && req.Destination == "" {
		return fmt.Errorf("%w: spend requests require a destination", domain.ErrValidation)
	}
	return nil
}
