package risk

import "github.com/itechmeat/kembridge/internal/auth"

// Decision is the admission outcome of a risk score against configured
// thresholds.
type Decision string

const (
	DecisionAllow  Decision = "allow"
	DecisionReview Decision = "review"
	DecisionBlock  Decision = "block"
)

// Thresholds holds the ascending low/manual_review/auto_block cutoffs.
type Thresholds struct {
	Low          float64
	ManualReview float64
	AutoBlock    float64
}

// Classify maps a risk score to a Decision:
// score < low or [low, manual_review) → Allow; [manual_review, auto_block) → Review;
// score >= auto_block → Block.
func Classify(score float64, t Thresholds) Decision {
	switch {
	case score >= t.AutoBlock:
		return DecisionBlock
	case score >= t.ManualReview:
		return DecisionReview
	default:
		return DecisionAllow
	}
}

// AdminBypass converts a Review decision to Allow for Admin-tier users,
// when the policy allows it. Block is never bypassable. Returns the
// possibly-overridden decision and whether a bypass was applied (for the
// audit log entry).
func AdminBypass(decision Decision, tier auth.Tier, allowed bool) (Decision, bool) {
	if decision == DecisionReview && allowed && tier == auth.TierAdmin {
		return DecisionAllow, true
	}
	return decision, false
}

// FailurePolicy decides the decision to use when risk analysis could not
// be completed after retries. Defaults to fail-closed.
type FailurePolicy struct {
	FailClosed bool
}

// OnAnalysisFailure returns Block under fail-closed policy, Allow under
// fail-open.
func (p FailurePolicy) OnAnalysisFailure() Decision {
	if p.FailClosed {
		return DecisionBlock
	}
	return DecisionAllow
}
