package council

import (
	"fmt"
	"time"
)

// Aggregate computes the consensus result for the opinions actually
// collected during one deliberation. It depends only on its arguments,
// so the outcome is independently recomputable from the audit entry.
//
// Rules, in order:
//  1. Quorum: fewer opinions than required rejects outright; a council
//     decision never approves on missing data.
//  2. Weighted score: sum(vote * confidence * weight) normalized by
//     sum(confidence * weight), in [-1, 1]. Approved when
//     score >= 2*threshold - 1.
//  3. Below threshold, an exact approve/reject count tie (confidence
//     ignored) is broken by the chairman's collected vote. A missing
//     chairman opinion rejects (fail-closed).
func Aggregate(requestID string, opinions []Opinion, rules Rules, now time.Time) Result {
	res := Result{
		RequestID:     requestID,
		Opinions:      opinions,
		ThresholdUsed: rules.Threshold,
		WeightedScore: weightedScore(opinions),
		FinalizedAt:   now,
	}

	required := rules.MinQuorum
	if required <= 0 {
		required = rules.Sources
	}
	if len(opinions) < required {
		res.Outcome = OutcomeRejected
		res.Reason = ReasonInsufficientOpinions
		return res
	}

	if res.WeightedScore >= 2*rules.Threshold-1 {
		res.Outcome = OutcomeApproved
		res.Approved = true
		res.Reason = fmt.Sprintf("weighted score %.2f met consensus threshold", res.WeightedScore)
		return res
	}

	approves, rejects := voteCounts(opinions)

	if approves == 0 && rejects == 0 {
		res.Outcome = OutcomeRejected
		res.Reason = ReasonNoVotes
		return res
	}

	if approves == rejects {
		return breakTie(res, opinions, rules)
	}

	res.Outcome = OutcomeRejected
	if rejects > approves {
		res.Reason = ReasonMajorityReject
	} else {
		res.Reason = ReasonNoConsensus
	}
	return res
}

// breakTie resolves an exact vote-count tie using the chairman's opinion.
func breakTie(res Result, opinions []Opinion, rules Rules) Result {
	for _, o := range opinions {
		if o.SourceID != rules.ChairmanID {
			continue
		}
		res.TieBreakSource = o.SourceID
		res.Outcome = OutcomeTieResolved
		res.Approved = o.Vote == VoteApprove
		if res.Approved {
			res.Reason = "tie resolved by chairman: approve"
		} else {
			res.Reason = "tie resolved by chairman: " + string(o.Vote)
		}
		return res
	}

	res.Outcome = OutcomeRejected
	res.Reason = ReasonChairmanUnavailable
	return res
}

// weightedScore normalizes the confidence-weighted vote sum into [-1, 1].
// Zero total confidence (all abstains) yields a score of 0.
func weightedScore(opinions []Opinion) float64 {
	var sum, total float64
	for _, o := range opinions {
		w := o.Weight
		if w <= 0 {
			w = 1
		}
		sum += o.Vote.Value() * o.Confidence * w
		total += o.Confidence * w
	}
	if total == 0 {
		return 0
	}
	return sum / total
}

// voteCounts tallies raw approve/reject counts, ignoring confidence.
func voteCounts(opinions []Opinion) (approves, rejects int) {
	for _, o := range opinions {
		switch o.Vote {
		case VoteApprove:
			approves++
		case VoteReject:
			rejects++
		}
	}
	return approves, rejects
}
