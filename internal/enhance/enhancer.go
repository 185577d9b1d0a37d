package enhance

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/mall-resolver/internal/catalog"
	"github.com/mall-resolver/internal/debug"
	"github.com/mall-resolver/internal/geo"
	"github.com/mall-resolver/internal/match"
	"github.com/mall-resolver/internal/models"
	"github.com/mall-resolver/internal/normalize"
	"github.com/mall-resolver/internal/poi"
	"github.com/mall-resolver/internal/resilience"
)

// Config holds the re-search limits
type Config struct {
	MaxStores     int     // 0 means every low-queue store
	RadiusKm      float64 // POI-to-mall distance, default the medium distance tier
	MinSimilarity float64 // POI venue name to mall name, default the medium similarity tier
	Neighbors     int
}

// Enhancer re-searches unmatched stores through a POI provider. Stores whose
// POI results point at a known mall move to the medium queue for review; no
// store is assigned here.
type Enhancer struct {
	searcher poi.Searcher
	catalog  *catalog.Catalog
	scorer   *match.Scorer
	policy   *resilience.Policy
	config   Config
}

// New creates an enhancer. policy may be nil.
func New(searcher poi.Searcher, cat *catalog.Catalog, scorer *match.Scorer, policy *resilience.Policy, config Config) *Enhancer {
	tiers := scorer.Tiers()
	if config.RadiusKm <= 0 {
		config.RadiusKm = tiers.MediumDistanceKm
	}
	if config.MinSimilarity <= 0 {
		config.MinSimilarity = tiers.MediumSimilarity
	}
	if config.Neighbors <= 0 {
		config.Neighbors = 5
	}
	return &Enhancer{searcher: searcher, catalog: cat, scorer: scorer, policy: policy, config: config}
}

// Run processes the low queue of report. Search failures are recorded as
// external errors and leave the store where it was.
func (e *Enhancer) Run(ctx context.Context, localDebug bool, report *match.Report) error {
	debug.DebugHeader(localDebug)
	defer debug.DebugFooter(localDebug)
	defer debug.DebugTiming(localDebug, "poi enhancement")()

	finder := match.NewFinder(match.NewIndex(e.catalog.Malls()), true)

	var keep []match.QueueItem
	processed := 0
	for i, item := range report.Low {
		if err := ctx.Err(); err != nil {
			keep = append(keep, report.Low[i:]...)
			report.Low = keep
			return err
		}
		if e.config.MaxStores > 0 && processed >= e.config.MaxStores {
			keep = append(keep, report.Low[i:]...)
			break
		}
		processed++

		candidates, err := e.searchStore(ctx, localDebug, finder, item.Store)
		if err != nil {
			report.AddError(match.KindExternal, item.Store.ID, "", err)
			log.Warn().Err(err).Str("store_id", item.Store.ID).Msg("poi search failed")
			keep = append(keep, item)
			continue
		}
		if len(candidates) == 0 {
			keep = append(keep, item)
			continue
		}

		report.Medium = append(report.Medium, match.QueueItem{
			Store:      item.Store,
			Tier:       candidates[0].Tier,
			Reason:     match.ReasonPOISearch,
			Candidates: candidates,
		})
		report.POIRequeued++
		debug.DebugOutput(localDebug, "Store %s requeued with %d candidates from poi search", item.Store.ID, len(candidates))
	}

	report.Low = keep
	report.QueuedMedium = len(report.Medium)
	report.QueuedLow = len(report.Low)

	log.Info().Int("processed", processed).Int("requeued", report.POIRequeued).Msg("poi enhancement complete")
	return nil
}

func (e *Enhancer) searchStore(ctx context.Context, localDebug bool, finder *match.Finder, store *models.Store) ([]match.Candidate, error) {
	addr, _ := normalize.CanonicalAddress(store.Address)
	query := strings.TrimSpace(store.Name + " " + addr)
	if query == "" {
		return nil, nil
	}

	var pois []poi.POI
	search := func(ctx context.Context) error {
		var err error
		pois, err = e.searcher.Search(ctx, query, store.Region.City)
		return err
	}

	var err error
	if e.policy != nil {
		err = e.policy.Do(ctx, "poi search "+store.ID, search)
	} else {
		err = search(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("poi search %q: %w", query, err)
	}

	best := make(map[string]match.Candidate)
	for _, p := range pois {
		if p.Location == nil {
			continue
		}
		token, ok := normalize.ExtractVenueToken(p.Name, p.Address)
		if !ok {
			token = p.Name
		}
		debug.DebugOutput(localDebug, "POI %s (%s) at %s gives venue %q", p.ID, p.Name, p.Location, token)

		variant := &models.Store{ID: store.ID, Name: token, Region: store.Region, Location: p.Location}
		for _, c := range e.scorer.ScoreCandidates(false, variant, finder.Nearest(variant, e.config.RadiusKm, e.config.Neighbors)) {
			if c.NameSimilarity < e.config.MinSimilarity {
				continue
			}
			if store.HasLocation() {
				if m, ok := e.catalog.Mall(c.MallID); ok && m.HasLocation() {
					c.DistanceKm = geo.Distance(*store.Location, *m.Location)
				}
			}
			c.Reason = match.ReasonPOISearch
			if prev, seen := best[c.MallID]; !seen || c.Score > prev.Score {
				best[c.MallID] = c
			}
		}
	}

	candidates := make([]match.Candidate, 0, len(best))
	for _, c := range best {
		candidates = append(candidates, c)
	}
	match.Rank(candidates)
	return candidates, nil
}
