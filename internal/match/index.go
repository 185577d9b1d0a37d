package match

import (
	"sync"

	"github.com/mall-resolver/internal/geo"
	"github.com/mall-resolver/internal/models"
)

// Scope names the bucket a region lookup resolved to
type Scope string

const (
	ScopeDistrict Scope = "district"
	ScopeCity     Scope = "city"
	ScopeAll      Scope = "all"
)

// bucket holds references to the malls of one region and a spatial tree over
// them, built on first use
type bucket struct {
	malls []*models.Mall

	once sync.Once
	tree *geo.KDTree
}

func (b *bucket) spatial() *geo.KDTree {
	b.once.Do(func() {
		points := make([]geo.Point, len(b.malls))
		for i, m := range b.malls {
			if m.HasLocation() {
				points[i] = *m.Location
			} else {
				// Zero point is outside the national bounds and is skipped by the tree
				points[i] = geo.Point{}
			}
		}
		b.tree = geo.NewKDTree(points)
	})
	return b.tree
}

// Index partitions the mall catalog by district and city code. It is read-only
// after construction and safe for concurrent use.
type Index struct {
	byDistrict map[string]*bucket
	byCity     map[string]*bucket
	all        *bucket
}

// NewIndex buckets malls in one pass. Buckets hold the given pointers, not copies.
func NewIndex(malls []*models.Mall) *Index {
	idx := &Index{
		byDistrict: make(map[string]*bucket),
		byCity:     make(map[string]*bucket),
		all:        &bucket{malls: malls},
	}

	for _, m := range malls {
		if code := m.Region.District; code != "" {
			b, ok := idx.byDistrict[code]
			if !ok {
				b = &bucket{}
				idx.byDistrict[code] = b
			}
			b.malls = append(b.malls, m)
		}
		if code := m.Region.City; code != "" {
			b, ok := idx.byCity[code]
			if !ok {
				b = &bucket{}
				idx.byCity[code] = b
			}
			b.malls = append(b.malls, m)
		}
	}

	return idx
}

// Len returns the number of indexed malls
func (idx *Index) Len() int {
	return len(idx.all.malls)
}

// CandidatesForRegion returns the malls in the store's district if that bucket
// is non-empty, else those in its city, else the whole catalog
func (idx *Index) CandidatesForRegion(store *models.Store) ([]*models.Mall, Scope) {
	b, scope := idx.bucketFor(store)
	return b.malls, scope
}

func (idx *Index) bucketFor(store *models.Store) (*bucket, Scope) {
	if b, ok := idx.byDistrict[store.Region.District]; ok && store.Region.District != "" && len(b.malls) > 0 {
		return b, ScopeDistrict
	}
	if b, ok := idx.byCity[store.Region.City]; ok && store.Region.City != "" && len(b.malls) > 0 {
		return b, ScopeCity
	}
	return idx.all, ScopeAll
}

// wider returns the next bucket out from scope, or nil at the top
func (idx *Index) wider(store *models.Store, scope Scope) (*bucket, Scope) {
	if scope == ScopeDistrict {
		if b, ok := idx.byCity[store.Region.City]; ok && store.Region.City != "" && len(b.malls) > 0 {
			return b, ScopeCity
		}
	}
	if scope != ScopeAll {
		return idx.all, ScopeAll
	}
	return nil, ScopeAll
}
