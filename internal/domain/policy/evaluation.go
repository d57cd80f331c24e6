package policy

import (
	"fmt"
	"strings"
	"time"
)

// Evaluate checks a transfer against the configured limits, short-circuiting
// on the first violated constraint. dailySpent and weeklySpent are the
// already-committed approved totals for the same action type in the current
// windows; the caller is responsible for reading and reserving them under a
// single mutual-exclusion boundary.
//
// Order: whitelist, per-transaction limit, daily limit, weekly limit,
// multi-signature threshold.
func Evaluate(requestID, destination string, amount, dailySpent, weeklySpent float64, limits Limits, now time.Time) Check {
	check := Check{
		RequestID: requestID,
		CheckedAt: now,
		Evaluated: Evaluation{
			AmountUSD:      amount,
			PerTxLimitUSD:  limits.PerTxUSD,
			DailySpentUSD:  dailySpent,
			DailyLimitUSD:  limits.DailyUSD,
			WeeklySpentUSD: weeklySpent,
			WeeklyLimitUSD: limits.WeeklyUSD,
		},
	}

	if len(limits.Whitelist) > 0 && destination != "" {
		check.Evaluated.WhitelistChecked = true
		if !whitelisted(destination, limits.Whitelist) {
			return fail(check, ConstraintWhitelist,
				fmt.Sprintf("destination %s is not whitelisted", destination))
		}
	}

	if limits.PerTxUSD > 0 && amount > limits.PerTxUSD {
		return fail(check, ConstraintPerTxLimit,
			fmt.Sprintf("amount %.2f exceeds per-transaction limit %.2f", amount, limits.PerTxUSD))
	}

	if limits.DailyUSD > 0 && dailySpent+amount > limits.DailyUSD {
		return fail(check, ConstraintDailyLimit,
			fmt.Sprintf("amount %.2f plus %.2f spent today exceeds daily limit %.2f",
				amount, dailySpent, limits.DailyUSD))
	}

	if limits.WeeklyUSD > 0 && weeklySpent+amount > limits.WeeklyUSD {
		return fail(check, ConstraintWeeklyLimit,
			fmt.Sprintf("amount %.2f plus %.2f spent this week exceeds weekly limit %.2f",
				amount, weeklySpent, limits.WeeklyUSD))
	}

	if limits.MultiSigThresholdUSD > 0 && amount > limits.MultiSigThresholdUSD {
		check.Evaluated.MultiSigRequired = true
		return fail(check, ConstraintMultiSig,
			fmt.Sprintf("amount %.2f above multi-sig threshold %.2f requires co-signature",
				amount, limits.MultiSigThresholdUSD))
	}

	check.Passed = true
	return check
}

func fail(check Check, violated Constraint, reason string) Check {
	check.Passed = false
	check.Violated = violated
	check.Reason = reason
	return check
}

func whitelisted(destination string, whitelist []string) bool {
	for _, w := range whitelist {
		if strings.EqualFold(w, destination) {
			return true
		}
	}
	return false
}
