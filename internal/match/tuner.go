package match

import (
	"fmt"
	"time"

	"github.com/mall-resolver/internal/debug"
	"github.com/mall-resolver/internal/models"
)

// Label is a known answer for one store; an empty MallID means the store is in no mall
type Label struct {
	StoreID string `csv:"store_id"`
	MallID  string `csv:"mall_id"`
}

// Grid lists the high-tier thresholds to try
type Grid struct {
	DistancesKm  []float64
	Similarities []float64
}

// DefaultGrid covers the thresholds seen in past matching runs
func DefaultGrid() Grid {
	return Grid{
		DistancesKm:  []float64{0.1, 0.2, 0.3, 0.5, 0.8},
		Similarities: []float64{50, 60, 70, 80, 85, 90},
	}
}

// TuningResult holds the outcome of one threshold combination
type TuningResult struct {
	HighDistanceKm  float64
	HighSimilarity  float64
	TruePositives   int
	FalsePositives  int
	TrueNegatives   int
	FalseNegatives  int
	Precision       float64
	Recall          float64
	F1Score         float64
	AutoAcceptCount int
	ReviewCount     int
	ProcessingTime  time.Duration
}

// reviewDepth is how far down the review list a correct answer still counts as found
const reviewDepth = 3

type labelled struct {
	store     *models.Store
	truth     string
	neighbors []Neighbor
}

// Tune measures precision and recall of the engine's decisions against labels
// for every (HighDistanceKm, HighSimilarity) pair of the grid. Other thresholds
// stay as configured; combinations that break tier ordering are skipped.
func (e *Engine) Tune(localDebug bool, labels []Label, grid Grid) ([]*TuningResult, error) {
	debug.DebugHeader(localDebug)
	defer debug.DebugFooter(localDebug)

	finder := e.currentFinder()
	samples := make([]labelled, 0, len(labels))
	for _, l := range labels {
		s, ok := e.catalog.Store(l.StoreID)
		if !ok {
			debug.DebugOutput(localDebug, "Skipping unknown labelled store %s", l.StoreID)
			continue
		}
		samples = append(samples, labelled{
			store:     s,
			truth:     l.MallID,
			neighbors: finder.Nearest(s, e.config.Tiers.MaxDistanceKm, e.config.Neighbors),
		})
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("no labelled stores found in catalog")
	}

	var results []*TuningResult
	for _, d := range grid.DistancesKm {
		for _, sim := range grid.Similarities {
			tiers := *e.config.Tiers
			tiers.HighDistanceKm = d
			tiers.HighSimilarity = sim
			if err := tiers.Validate(); err != nil {
				debug.DebugOutput(localDebug, "Skipping d=%.2f sim=%.0f: %v", d, sim, err)
				continue
			}

			result := evaluate(NewScorerWithConfig(e.config.Weights, &tiers), samples)
			result.HighDistanceKm = d
			result.HighSimilarity = sim
			debug.DebugOutput(localDebug, "d=%.2f sim=%.0f precision=%.3f recall=%.3f f1=%.3f",
				d, sim, result.Precision, result.Recall, result.F1Score)
			results = append(results, result)
		}
	}

	return results, nil
}

func evaluate(scorer *Scorer, samples []labelled) *TuningResult {
	start := time.Now()
	result := &TuningResult{}

	for _, sample := range samples {
		candidates := scorer.ScoreCandidates(false, sample.store, sample.neighbors)
		decision, selected, _ := scorer.MakeDecision(false, candidates)

		rank := -1
		for i, c := range candidates {
			if c.MallID == sample.truth {
				rank = i
				break
			}
		}

		switch decision {
		case DecisionAutoAccept:
			result.AutoAcceptCount++
			if selected == sample.truth {
				result.TruePositives++
			} else {
				result.FalsePositives++
			}
		case DecisionReview:
			result.ReviewCount++
			switch {
			case sample.truth == "":
				result.TrueNegatives++
			case rank >= 0 && rank < reviewDepth:
				result.TruePositives++
			default:
				result.FalseNegatives++
			}
		default:
			if sample.truth == "" {
				result.TrueNegatives++
			} else {
				result.FalseNegatives++
			}
		}
	}

	result.ProcessingTime = time.Since(start)

	if result.TruePositives+result.FalsePositives > 0 {
		result.Precision = float64(result.TruePositives) / float64(result.TruePositives+result.FalsePositives)
	}
	if result.TruePositives+result.FalseNegatives > 0 {
		result.Recall = float64(result.TruePositives) / float64(result.TruePositives+result.FalseNegatives)
	}
	if result.Precision+result.Recall > 0 {
		result.F1Score = 2 * (result.Precision * result.Recall) / (result.Precision + result.Recall)
	}

	return result
}

// FindOptimal returns the best F1 among results meeting minPrecision, or the
// best F1 overall when none does
func FindOptimal(results []*TuningResult, minPrecision float64) *TuningResult {
	var best *TuningResult
	for _, r := range results {
		if r.Precision >= minPrecision && (best == nil || r.F1Score > best.F1Score) {
			best = r
		}
	}
	if best != nil {
		return best
	}

	for _, r := range results {
		if best == nil || r.F1Score > best.F1Score {
			best = r
		}
	}
	return best
}
