package adjudicate

import (
	"context"
	"errors"

	"github.com/mall-resolver/internal/match"
	"github.com/mall-resolver/internal/resilience"
)

// Retrying wraps an adjudicator with a retry policy. ErrStopAdjudication is
// passed through without retrying.
type Retrying struct {
	next   match.Adjudicator
	policy *resilience.Policy
}

// NewRetrying wraps next with policy
func NewRetrying(next match.Adjudicator, policy *resilience.Policy) *Retrying {
	return &Retrying{next: next, policy: policy}
}

func (r *Retrying) Adjudicate(ctx context.Context, req match.Request) (match.Decision, error) {
	var dec match.Decision
	err := r.policy.Do(ctx, "adjudicate "+req.Store.ID, func(ctx context.Context) error {
		d, err := r.next.Adjudicate(ctx, req)
		if errors.Is(err, match.ErrStopAdjudication) {
			return resilience.Permanent(err)
		}
		if err != nil {
			return err
		}
		dec = d
		return nil
	})
	return dec, err
}
