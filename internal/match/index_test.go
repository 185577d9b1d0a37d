package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mall-resolver/internal/models"
)

func TestCandidatesForRegion(t *testing.T) {
	m1 := mall("M1", "West Lake Plaza", hangzhou, 30.25, 120.15)
	m1.Region.District = "330106"
	m2 := mall("M2", "Binjiang Mall", hangzhou, 30.20, 120.21)
	m3 := mall("M3", "Bund Center", "310100", 31.24, 121.49)
	idx := NewIndex([]*models.Mall{m1, m2, m3})

	tests := []struct {
		name      string
		region    models.RegionCodes
		wantScope Scope
		wantIDs   []string
	}{
		{"district bucket", models.RegionCodes{City: hangzhou, District: "330106"}, ScopeDistrict, []string{"M1"}},
		{"empty district falls back to city", models.RegionCodes{City: hangzhou, District: "330108"}, ScopeCity, []string{"M1", "M2"}},
		{"no district code", models.RegionCodes{City: hangzhou}, ScopeCity, []string{"M1", "M2"}},
		{"unknown city falls back to catalog", models.RegionCodes{City: "440300"}, ScopeAll, []string{"M1", "M2", "M3"}},
		{"no codes", models.RegionCodes{}, ScopeAll, []string{"M1", "M2", "M3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			malls, scope := idx.CandidatesForRegion(&models.Store{ID: "S", Region: tt.region})
			assert.Equal(t, tt.wantScope, scope)

			var ids []string
			for _, m := range malls {
				ids = append(ids, m.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}

	// Buckets share the catalog's records
	malls, _ := idx.CandidatesForRegion(&models.Store{Region: models.RegionCodes{District: "330106"}})
	require.Len(t, malls, 1)
	assert.Same(t, m1, malls[0])
}

func TestFinderNearest(t *testing.T) {
	malls := []*models.Mall{
		mall("M3", "Far", hangzhou, 30.02, 120),
		mall("M2", "Near", hangzhou, 30.001, 120),
		mall("M1", "Nearest", hangzhou, 30.0005, 120),
		{ID: "M4", Name: "No location", Region: models.RegionCodes{City: hangzhou}},
	}
	finder := NewFinder(NewIndex(malls), true)
	s := store("S1", "Nike", hangzhou, 30, 120)

	got := finder.Nearest(s, 3, 5)
	require.Len(t, got, 3)
	assert.Equal(t, "M1", got[0].Mall.ID)
	assert.Equal(t, "M2", got[1].Mall.ID)
	assert.Equal(t, "M3", got[2].Mall.ID)
	assert.Equal(t, ScopeCity, got[0].Scope)

	got = finder.Nearest(s, 0.5, 5)
	require.Len(t, got, 2)

	got = finder.Nearest(s, 3, 1)
	require.Len(t, got, 1)
	assert.Equal(t, "M1", got[0].Mall.ID)

	s.Location = nil
	assert.Empty(t, finder.Nearest(s, 3, 5))
}

func TestFinderTiesBrokenByMallID(t *testing.T) {
	malls := []*models.Mall{
		mall("MB", "B", hangzhou, 30.001, 120),
		mall("MA", "A", hangzhou, 30.001, 120),
	}
	got := NewFinder(NewIndex(malls), false).Nearest(store("S", "x", hangzhou, 30, 120), 1, 5)
	require.Len(t, got, 2)
	assert.Equal(t, "MA", got[0].Mall.ID)
	assert.Equal(t, "MB", got[1].Mall.ID)
}

func TestFinderWidenSearch(t *testing.T) {
	near := mall("M1", "Starlight Plaza", hangzhou, 30.0005, 120.0005)
	other := mall("M2", "Riverside Mall", hangzhou, 30.3, 120.3)
	other.Region.District = "330106"
	idx := NewIndex([]*models.Mall{near, other})

	s := store("S1", "Nike", hangzhou, 30, 120)
	s.Region.District = "330106" // wrong district in the crawl

	assert.Empty(t, NewFinder(idx, false).Nearest(s, 3, 5))

	got := NewFinder(idx, true).Nearest(s, 3, 5)
	require.Len(t, got, 1)
	assert.Equal(t, "M1", got[0].Mall.ID)
	assert.Equal(t, ScopeCity, got[0].Scope)
}
