package match

import (
	"context"
	"errors"
	"fmt"

	"github.com/mall-resolver/internal/models"
)

// Tier is the confidence band of a proposed store-to-mall match
type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// Rank orders tiers: high > medium > low > unknown
func (t Tier) Rank() int {
	switch t {
	case TierHigh:
		return 3
	case TierMedium:
		return 2
	case TierLow:
		return 1
	default:
		return 0
	}
}

// ParseTier accepts the three tier labels
func ParseTier(s string) (Tier, error) {
	switch t := Tier(s); t {
	case TierHigh, TierMedium, TierLow:
		return t, nil
	}
	return "", fmt.Errorf("unknown confidence tier %q", s)
}

// Candidate is a scored (store, mall) pair
type Candidate struct {
	StoreID           string  `json:"store_id"`
	MallID            string  `json:"mall_id"`
	MallName          string  `json:"mall_name"`
	DistanceKm        float64 `json:"distance_km"`
	NameSimilarity    float64 `json:"name_similarity"`
	RegionAgreement   bool    `json:"region_agreement"`
	DistrictAgreement bool    `json:"district_agreement"`
	Score             float64 `json:"score"`
	Tier              Tier    `json:"tier"`
	Reason            string  `json:"reason,omitempty"`
}

// MatchTiers holds the distance and similarity thresholds. High requires both
// bounds at once, never either alone.
type MatchTiers struct {
	MaxDistanceKm    float64 // hard cutoff for candidates
	HighDistanceKm   float64 // <= 0.3
	HighSimilarity   float64 // >= 70
	MediumDistanceKm float64 // <= 2.0
	MediumSimilarity float64 // >= 50
}

// DefaultTiers returns the standard thresholds
func DefaultTiers() *MatchTiers {
	return &MatchTiers{
		MaxDistanceKm:    3.0,
		HighDistanceKm:   0.3,
		HighSimilarity:   70,
		MediumDistanceKm: 2.0,
		MediumSimilarity: 50,
	}
}

// Validate checks the ordering high <= medium <= max for distance and
// high >= medium for similarity
func (t *MatchTiers) Validate() error {
	if t.HighDistanceKm < 0 || t.MaxDistanceKm <= 0 {
		return errors.New("distance thresholds must be positive")
	}
	if t.HighDistanceKm > t.MediumDistanceKm || t.MediumDistanceKm > t.MaxDistanceKm {
		return fmt.Errorf("distance thresholds out of order: high %.3f, medium %.3f, max %.3f",
			t.HighDistanceKm, t.MediumDistanceKm, t.MaxDistanceKm)
	}
	if t.HighSimilarity < t.MediumSimilarity {
		return fmt.Errorf("similarity thresholds out of order: high %.1f < medium %.1f",
			t.HighSimilarity, t.MediumSimilarity)
	}
	if t.HighSimilarity > 100 || t.MediumSimilarity < 0 {
		return errors.New("similarity thresholds must lie in [0,100]")
	}
	return nil
}

// FeatureWeights defines the composite score weights
type FeatureWeights struct {
	CityBonus     float64 // 1.0 when city codes agree
	DistrictBonus float64 // 0.25 extra when district codes agree
	NameWeight    float64 // 2.0 at 100% similarity
}

// DefaultWeights returns the standard weights
func DefaultWeights() *FeatureWeights {
	return &FeatureWeights{
		CityBonus:     1.0,
		DistrictBonus: 0.25,
		NameWeight:    2.0,
	}
}

// Decision labels produced by MakeDecision
const (
	DecisionAutoAccept = "auto_accept"
	DecisionReview     = "review"
	DecisionReject     = "reject"
)

// Reason codes attached to queued stores
const (
	ReasonNoCoordinates   = "no_coordinates"
	ReasonNoName          = "no_name"
	ReasonNoCandidates    = "no_candidates_in_range"
	ReasonMediumConfident = "medium_confidence"
	ReasonLowConfident    = "low_confidence"
	ReasonAmbiguousTie    = "ambiguous_tie"
	ReasonCachedReject    = "cached_reject"
	ReasonResearch        = "research"
	ReasonPOISearch       = "poi_search"
)

// Verdict is the kind of external decision
type Verdict string

const (
	VerdictAccept   Verdict = "accept"
	VerdictNone     Verdict = "none"
	VerdictResearch Verdict = "research"
	VerdictNewVenue Verdict = "new_venue"
)

// Decision is an adjudicator's answer for one queued store
type Decision struct {
	Verdict    Verdict `json:"verdict"`
	MallID     string  `json:"mall_id,omitempty"`
	Name       string  `json:"name,omitempty"` // search name for research, venue name for new_venue
	Confidence Tier    `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
	Source     string  `json:"source,omitempty"`
}

// Request is what an adjudicator sees for one queued store
type Request struct {
	Store      *models.Store
	Tier       Tier
	Reason     string
	Candidates []Candidate
}

// Adjudicator resolves queued stores. Human, LLM and batch-policy
// implementations live in the adjudicate package.
type Adjudicator interface {
	Adjudicate(ctx context.Context, req Request) (Decision, error)
}

// ErrStopAdjudication is returned by an adjudicator to end the session early.
// Items not yet seen stay queued.
var ErrStopAdjudication = errors.New("adjudication stopped")

// DecisionRecorder receives every applied decision, e.g. an audit trail
type DecisionRecorder interface {
	RecordDecision(ctx context.Context, runID string, req Request, dec Decision) error
}
