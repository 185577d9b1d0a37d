package adjudicate

import (
	"context"

	"github.com/mall-resolver/internal/match"
)

// Policy approves queued stores in bulk: the top candidate is accepted when it
// is close and similar enough, otherwise the store gets no mall
type Policy struct {
	MaxDistanceKm float64
	MinSimilarity float64
	IncludeLow    bool // also decide low-tier items; by default they are left alone
}

// Adjudicate implements match.Adjudicator. Items the policy does not cover are
// answered with low confidence so the engine keeps them queued.
func (p *Policy) Adjudicate(_ context.Context, req match.Request) (match.Decision, error) {
	if req.Tier == match.TierLow && !p.IncludeLow {
		return match.Decision{Verdict: match.VerdictNone, Confidence: match.TierLow, Reason: "policy_skipped_low", Source: "policy"}, nil
	}
	if req.Reason == match.ReasonAmbiguousTie {
		return match.Decision{Verdict: match.VerdictNone, Confidence: match.TierLow, Reason: "policy_skipped_tie", Source: "policy"}, nil
	}

	if len(req.Candidates) > 0 {
		top := req.Candidates[0]
		if top.DistanceKm <= p.MaxDistanceKm && top.NameSimilarity >= p.MinSimilarity {
			return match.Decision{
				Verdict:    match.VerdictAccept,
				MallID:     top.MallID,
				Confidence: match.TierHigh,
				Reason:     "policy_threshold",
				Source:     "policy",
			}, nil
		}
	}

	return match.Decision{Verdict: match.VerdictNone, Confidence: match.TierMedium, Reason: "below_policy_threshold", Source: "policy"}, nil
}
