package match

import (
	"sort"

	"github.com/mall-resolver/internal/models"
)

// Neighbor is a mall within range of a store
type Neighbor struct {
	Mall       *models.Mall
	DistanceKm float64
	Scope      Scope
}

// Finder returns nearby malls for a store using the region buckets of an Index
type Finder struct {
	index *Index
	// WidenSearch retries the next wider region when the store's own region has
	// no mall in range. Crawled district codes are often wrong.
	WidenSearch bool
}

// NewFinder creates a finder over idx
func NewFinder(idx *Index, widen bool) *Finder {
	return &Finder{index: idx, WidenSearch: widen}
}

// Nearest returns up to k malls within maxDistanceKm of the store, nearest
// first with ties broken by mall id. A store without usable coordinates gets
// no neighbours. k <= 0 means no limit.
func (f *Finder) Nearest(store *models.Store, maxDistanceKm float64, k int) []Neighbor {
	if !store.HasLocation() || f.index == nil {
		return nil
	}

	b, scope := f.index.bucketFor(store)
	for b != nil {
		if found := f.search(b, scope, store, maxDistanceKm, k); len(found) > 0 || !f.WidenSearch {
			return found
		}
		b, scope = f.index.wider(store, scope)
	}
	return nil
}

func (f *Finder) search(b *bucket, scope Scope, store *models.Store, maxDistanceKm float64, k int) []Neighbor {
	hits := b.spatial().Within(*store.Location, maxDistanceKm)

	out := make([]Neighbor, 0, len(hits))
	for _, h := range hits {
		out = append(out, Neighbor{Mall: b.malls[h.Index], DistanceKm: h.DistanceKm, Scope: scope})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DistanceKm != out[j].DistanceKm {
			return out[i].DistanceKm < out[j].DistanceKm
		}
		return out[i].Mall.ID < out[j].Mall.ID
	})

	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}
