package catalog

import (
	"fmt"

	"github.com/mall-resolver/internal/geo"
)

// Merge folds the Retired malls into CanonicalID. Name and Location, when set,
// replace the canonical mall's values.
type Merge struct {
	CanonicalID string
	Name        string
	Location    *geo.Point
	Retired     []string
}

// MergeResult summarises an applied merge plan
type MergeResult struct {
	Clusters        int
	RetiredMalls    int
	RepointedStores int
}

// ValidateMerges checks a plan against the catalog without changing it
func (c *Catalog) ValidateMerges(merges []Merge) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.validateMergesLocked(merges)
}

func (c *Catalog) validateMergesLocked(merges []Merge) error {
	seen := make(map[string]int)

	for i, mg := range merges {
		if _, ok := c.malls[mg.CanonicalID]; !ok {
			return fmt.Errorf("%w: merge %d: canonical %s: %w", ErrInvalidMerge, i, mg.CanonicalID, ErrUnknownMall)
		}
		if prev, dup := seen[mg.CanonicalID]; dup {
			return fmt.Errorf("%w: mall %s appears in merges %d and %d", ErrInvalidMerge, mg.CanonicalID, prev, i)
		}
		seen[mg.CanonicalID] = i

		if mg.Location != nil && !mg.Location.Valid() {
			return fmt.Errorf("%w: merge %d: location %s outside bounds", ErrInvalidMerge, i, mg.Location)
		}

		for _, id := range mg.Retired {
			if id == mg.CanonicalID {
				return fmt.Errorf("%w: merge %d retires its own canonical %s", ErrInvalidMerge, i, id)
			}
			if _, ok := c.malls[id]; !ok {
				return fmt.Errorf("%w: merge %d: retired %s: %w", ErrInvalidMerge, i, id, ErrUnknownMall)
			}
			if prev, dup := seen[id]; dup {
				return fmt.Errorf("%w: mall %s appears in merges %d and %d", ErrInvalidMerge, id, prev, i)
			}
			seen[id] = i
		}
	}

	return nil
}

// ApplyMerges validates the whole plan, then repoints stores of retired malls to
// their canonical mall, removes the retired malls and recounts stores, all under
// one lock. An invalid plan leaves the catalog unchanged.
func (c *Catalog) ApplyMerges(merges []Merge) (MergeResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.validateMergesLocked(merges); err != nil {
		return MergeResult{}, err
	}

	var result MergeResult
	target := make(map[string]string)

	for _, mg := range merges {
		canonical := c.malls[mg.CanonicalID]
		if mg.Name != "" && mg.Name != canonical.Name {
			if canonical.OriginalName == "" {
				canonical.OriginalName = canonical.Name
			}
			canonical.Name = mg.Name
		}
		if mg.Location != nil {
			loc := *mg.Location
			canonical.Location = &loc
		}

		for _, id := range mg.Retired {
			target[id] = mg.CanonicalID
		}
		if len(mg.Retired) > 0 {
			result.Clusters++
		}
	}

	// Stores first so no reference ever points at a removed mall
	for _, id := range c.storeOrder {
		s := c.stores[id]
		if canonicalID, ok := target[s.MallID]; ok {
			s.MallID = canonicalID
			result.RepointedStores++
		}
	}

	// Canonical locations may have moved
	for _, s := range c.stores {
		if m, ok := c.malls[s.MallID]; ok && s.Assigned() {
			s.DistanceKm = storeMallDistance(s, m)
		}
	}

	if len(target) > 0 {
		order := c.mallOrder[:0]
		for _, id := range c.mallOrder {
			if _, retired := target[id]; retired {
				delete(c.malls, id)
				result.RetiredMalls++
				continue
			}
			order = append(order, id)
		}
		c.mallOrder = order
	}

	c.recountLocked()
	return result, nil
}
