package cluster

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/mall-resolver/internal/catalog"
	"github.com/mall-resolver/internal/debug"
	"github.com/mall-resolver/internal/decisions"
	"github.com/mall-resolver/internal/geo"
	"github.com/mall-resolver/internal/models"
	"github.com/mall-resolver/internal/normalize"
)

// Config holds the thresholds for treating two malls as the same venue
type Config struct {
	DistanceKm     float64 // strict upper bound on member distance, default 0.3
	NameSimilarity float64 // minimum similarity when normalized names differ, default 70
}

// DefaultConfig returns the standard clustering thresholds
func DefaultConfig() Config {
	return Config{
		DistanceKm:     0.3,
		NameSimilarity: 70,
	}
}

// Cluster is a group of malls that represent one physical venue. Members are
// listed in catalog order.
type Cluster struct {
	CanonicalID string
	Name        string
	Location    geo.Point
	Members     []string
}

// Clusterer finds duplicate mall records
type Clusterer struct {
	config Config
	cache  decisions.Cache
}

// New creates a clusterer. A nil cache means no recorded pair decisions.
func New(config Config, cache decisions.Cache) *Clusterer {
	if config.DistanceKm <= 0 {
		config.DistanceKm = DefaultConfig().DistanceKm
	}
	if config.NameSimilarity <= 0 {
		config.NameSimilarity = DefaultConfig().NameSimilarity
	}
	return &Clusterer{config: config, cache: cache}
}

type member struct {
	mall      *models.Mall
	order     int
	canonical string
	folded    string
}

// Find returns every cluster with more than one member. Pairs are linked when
// they share a city code, lie closer than DistanceKm and have equal normalized
// names or a similarity of at least NameSimilarity. Linking is transitive. For
// pairs in range a cached reject prevents the direct link and a cached accept
// forces it regardless of names.
func (c *Clusterer) Find(ctx context.Context, localDebug bool, malls []*models.Mall) ([]Cluster, error) {
	debug.DebugHeader(localDebug)
	defer debug.DebugFooter(localDebug)
	defer debug.DebugTiming(localDebug, "cluster find")()

	groups := make(map[string][]member)
	var cities []string
	skipped := 0
	for i, m := range malls {
		if !m.HasLocation() {
			skipped++
			continue
		}
		city := m.Region.City
		if _, ok := groups[city]; !ok {
			cities = append(cities, city)
		}
		groups[city] = append(groups[city], member{
			mall:      m,
			order:     i,
			canonical: normalize.CanonicalName(m.Name),
			folded:    normalize.NormalizeName(m.Name),
		})
	}
	if skipped > 0 {
		log.Debug().Int("malls", skipped).Msg("malls without coordinates left out of clustering")
	}

	var clusters []Cluster
	for _, city := range cities {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		found, err := c.clusterGroup(ctx, localDebug, groups[city])
		if err != nil {
			return nil, fmt.Errorf("city %q: %w", city, err)
		}
		clusters = append(clusters, found...)
	}

	sort.SliceStable(clusters, func(i, j int) bool {
		return clusters[i].CanonicalID < clusters[j].CanonicalID
	})
	return clusters, nil
}

func (c *Clusterer) clusterGroup(ctx context.Context, localDebug bool, group []member) ([]Cluster, error) {
	if len(group) < 2 {
		return nil, nil
	}

	points := make([]geo.Point, len(group))
	for i, m := range group {
		points[i] = *m.mall.Location
	}
	tree := geo.NewKDTree(points)
	sets := newUnionFind(len(group))

	for i, a := range group {
		for _, n := range tree.Within(points[i], c.config.DistanceKm) {
			j := n.Index
			if j <= i || n.DistanceKm >= c.config.DistanceKm {
				continue
			}
			b := group[j]

			outcome, err := c.cached(ctx, a.mall.ID, b.mall.ID)
			if err != nil {
				return nil, err
			}
			switch {
			case outcome == decisions.OutcomeReject:
				debug.DebugOutput(localDebug, "Pair %s/%s rejected by earlier decision", a.mall.ID, b.mall.ID)
				continue
			case outcome != decisions.OutcomeAccept && !c.sameVenue(a, b):
				continue
			}

			if sets.union(i, j) {
				debug.DebugOutput(localDebug, "Linked %s (%s) and %s (%s) at %.3fkm",
					a.mall.ID, a.mall.Name, b.mall.ID, b.mall.Name, n.DistanceKm)
			}
		}
	}

	byRoot := make(map[int][]member)
	var roots []int
	for i, m := range group {
		r := sets.find(i)
		if _, ok := byRoot[r]; !ok {
			roots = append(roots, r)
		}
		byRoot[r] = append(byRoot[r], m)
	}

	var clusters []Cluster
	for _, r := range roots {
		members := byRoot[r]
		if len(members) < 2 {
			continue
		}
		clusters = append(clusters, canonicalize(members))
	}
	return clusters, nil
}

func (c *Clusterer) sameVenue(a, b member) bool {
	if a.folded != "" && a.folded == b.folded {
		return true
	}
	return normalize.Similarity(a.folded, b.folded) >= c.config.NameSimilarity
}

func (c *Clusterer) cached(ctx context.Context, a, b string) (decisions.Outcome, error) {
	if c.cache == nil {
		return "", nil
	}
	entry, err := c.cache.Get(ctx, decisions.PairKey(a, b))
	if errors.Is(err, decisions.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("decision cache: %w", err)
	}
	return entry.Outcome, nil
}

// canonicalize picks the member with the longest canonical name, earliest on
// ties, and the per-axis median of member coordinates
func canonicalize(members []member) Cluster {
	sort.SliceStable(members, func(i, j int) bool {
		return members[i].order < members[j].order
	})

	best := members[0]
	points := make([]geo.Point, 0, len(members))
	ids := make([]string, 0, len(members))
	for _, m := range members {
		if utf8.RuneCountInString(m.canonical) > utf8.RuneCountInString(best.canonical) {
			best = m
		}
		points = append(points, *m.mall.Location)
		ids = append(ids, m.mall.ID)
	}

	location, _ := geo.Median(points)
	return Cluster{
		CanonicalID: best.mall.ID,
		Name:        best.mall.Name,
		Location:    location,
		Members:     ids,
	}
}

// Plan turns clusters into catalog merges
func Plan(clusters []Cluster) []catalog.Merge {
	merges := make([]catalog.Merge, 0, len(clusters))
	for _, cl := range clusters {
		loc := cl.Location
		mg := catalog.Merge{CanonicalID: cl.CanonicalID, Name: cl.Name, Location: &loc}
		for _, id := range cl.Members {
			if id != cl.CanonicalID {
				mg.Retired = append(mg.Retired, id)
			}
		}
		merges = append(merges, mg)
	}
	return merges
}

// Run finds the clusters in the catalog and applies them as one merge
func (c *Clusterer) Run(ctx context.Context, localDebug bool, cat *catalog.Catalog) ([]Cluster, catalog.MergeResult, error) {
	clusters, err := c.Find(ctx, localDebug, cat.Malls())
	if err != nil {
		return nil, catalog.MergeResult{}, err
	}

	result, err := cat.ApplyMerges(Plan(clusters))
	if err != nil {
		return clusters, catalog.MergeResult{}, fmt.Errorf("apply merges: %w", err)
	}

	log.Info().
		Int("clusters", result.Clusters).
		Int("retired_malls", result.RetiredMalls).
		Int("repointed_stores", result.RepointedStores).
		Msg("mall clustering complete")

	return clusters, result, nil
}
