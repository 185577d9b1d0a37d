package match

import (
	"math"
	"sort"

	"github.com/mall-resolver/internal/debug"
	"github.com/mall-resolver/internal/models"
	"github.com/mall-resolver/internal/normalize"
)

// tieEpsilon is the tolerance under which two composite scores or distances are equal
const tieEpsilon = 1e-9

// Scorer combines distance, region agreement and name similarity into a
// composite score and a confidence tier. It is pure and safe for concurrent use.
type Scorer struct {
	weights *FeatureWeights
	tiers   *MatchTiers
}

// NewScorer creates a new scorer with default weights and tiers
func NewScorer() *Scorer {
	return &Scorer{
		weights: DefaultWeights(),
		tiers:   DefaultTiers(),
	}
}

// NewScorerWithConfig creates a scorer with custom weights and tiers
func NewScorerWithConfig(weights *FeatureWeights, tiers *MatchTiers) *Scorer {
	if weights == nil {
		weights = DefaultWeights()
	}
	if tiers == nil {
		tiers = DefaultTiers()
	}
	return &Scorer{
		weights: weights,
		tiers:   tiers,
	}
}

// Tiers returns the thresholds in use
func (s *Scorer) Tiers() MatchTiers {
	return *s.tiers
}

// QueryName is the normalized name a store is matched by: its venue token when
// one can be extracted, otherwise its display name
func QueryName(store *models.Store) string {
	if token, ok := normalize.ExtractVenueToken(store.Name, store.Address); ok {
		if n := normalize.NormalizeName(token); n != "" {
			return n
		}
	}
	return normalize.NormalizeName(store.Name)
}

// Score builds the candidate for one (store, mall) pair
func (s *Scorer) Score(store *models.Store, mall *models.Mall, distanceKm float64) Candidate {
	return s.scoreQuery(QueryName(store), store, mall, distanceKm)
}

func (s *Scorer) scoreQuery(query string, store *models.Store, mall *models.Mall, distanceKm float64) Candidate {
	similarity := normalize.Similarity(query, normalize.NormalizeName(mall.Name))

	cityAgree := store.Region.City != "" && store.Region.City == mall.Region.City
	districtAgree := store.Region.District != "" && store.Region.District == mall.Region.District

	var regionBonus float64
	if cityAgree {
		regionBonus += s.weights.CityBonus
	}
	if districtAgree {
		regionBonus += s.weights.DistrictBonus
	}

	distanceTerm := math.Max(0, s.tiers.MaxDistanceKm-distanceKm)
	nameTerm := similarity / 100 * s.weights.NameWeight

	return Candidate{
		StoreID:           store.ID,
		MallID:            mall.ID,
		MallName:          mall.Name,
		DistanceKm:        distanceKm,
		NameSimilarity:    similarity,
		RegionAgreement:   cityAgree,
		DistrictAgreement: districtAgree,
		Score:             regionBonus + distanceTerm + nameTerm,
		Tier:              s.Classify(distanceKm, similarity),
	}
}

// Classify assigns the confidence tier. High and medium each need the distance
// bound and the similarity bound to hold together.
func (s *Scorer) Classify(distanceKm, similarity float64) Tier {
	switch {
	case distanceKm <= s.tiers.HighDistanceKm && similarity >= s.tiers.HighSimilarity:
		return TierHigh
	case distanceKm <= s.tiers.MediumDistanceKm && similarity >= s.tiers.MediumSimilarity:
		return TierMedium
	default:
		return TierLow
	}
}

// ScoreCandidates scores every neighbour of the store and returns them ranked
func (s *Scorer) ScoreCandidates(localDebug bool, store *models.Store, neighbors []Neighbor) []Candidate {
	debug.DebugHeader(localDebug)
	defer debug.DebugFooter(localDebug)

	query := QueryName(store)
	debug.DebugOutput(localDebug, "Store %s query name: %q", store.ID, query)

	candidates := make([]Candidate, 0, len(neighbors))
	for _, n := range neighbors {
		c := s.scoreQuery(query, store, n.Mall, n.DistanceKm)
		debug.DebugOutput(localDebug, "Candidate %s (%s): d=%.3fkm sim=%.1f score=%.4f tier=%s",
			c.MallID, c.MallName, c.DistanceKm, c.NameSimilarity, c.Score, c.Tier)
		candidates = append(candidates, c)
	}

	Rank(candidates)
	return candidates
}

// Rank sorts candidates best first: tier, then composite score, then distance,
// then mall id so the order is total
func Rank(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Tier.Rank() != b.Tier.Rank() {
			return a.Tier.Rank() > b.Tier.Rank()
		}
		if math.Abs(a.Score-b.Score) > tieEpsilon {
			return a.Score > b.Score
		}
		if math.Abs(a.DistanceKm-b.DistanceKm) > tieEpsilon {
			return a.DistanceKm < b.DistanceKm
		}
		return a.MallID < b.MallID
	})
}

// tied reports whether the tie-break rule cannot separate a and b
func tied(a, b Candidate) bool {
	return a.Tier == b.Tier &&
		math.Abs(a.Score-b.Score) <= tieEpsilon &&
		math.Abs(a.DistanceKm-b.DistanceKm) <= tieEpsilon
}

// MakeDecision determines the outcome for ranked candidates: auto_accept for a
// unique best high candidate, review for medium or an exact tie, reject otherwise
func (s *Scorer) MakeDecision(localDebug bool, candidates []Candidate) (decision, acceptedMallID, reason string) {
	debug.DebugHeader(localDebug)
	defer debug.DebugFooter(localDebug)

	if len(candidates) == 0 {
		debug.DebugOutput(localDebug, "No candidates - reject")
		return DecisionReject, "", ReasonNoCandidates
	}

	top := candidates[0]
	debug.DebugOutput(localDebug, "Top candidate: %s (tier=%s score=%.4f)", top.MallID, top.Tier, top.Score)

	switch top.Tier {
	case TierHigh:
		if len(candidates) > 1 && tied(top, candidates[1]) {
			debug.DebugOutput(localDebug, "Top two candidates tie exactly (%s, %s) - review", top.MallID, candidates[1].MallID)
			return DecisionReview, "", ReasonAmbiguousTie
		}
		debug.DebugOutput(localDebug, "Auto-accept: d=%.3fkm <= %.3fkm and sim=%.1f >= %.1f",
			top.DistanceKm, s.tiers.HighDistanceKm, top.NameSimilarity, s.tiers.HighSimilarity)
		return DecisionAutoAccept, top.MallID, ""
	case TierMedium:
		debug.DebugOutput(localDebug, "Medium confidence - review")
		return DecisionReview, "", ReasonMediumConfident
	default:
		debug.DebugOutput(localDebug, "Low confidence - reject")
		return DecisionReject, "", ReasonLowConfident
	}
}
