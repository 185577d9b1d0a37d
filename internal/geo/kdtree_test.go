package geo

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestKDTreeWithin(t *testing.T) {
	points := []Point{
		{Lat: 30, Lng: 120},
		{Lat: 30.001, Lng: 120},
		{Lat: 30.01, Lng: 120},
		{Lat: 200, Lng: 120}, // invalid, not indexed
		{Lat: 31, Lng: 121},
	}

	tree := NewKDTree(points)
	assert.Equal(t, 4, tree.Len())

	hits := tree.Within(Point{Lat: 30, Lng: 120}, 0.5)
	require.Len(t, hits, 2)
	assert.Equal(t, 0, hits[0].Index)
	assert.Equal(t, 1, hits[1].Index)
	assert.InDelta(t, 0.111, hits[1].DistanceKm, 0.001)

	hits = tree.Within(Point{Lat: 30, Lng: 120}, 2)
	require.Len(t, hits, 3)
	assert.Equal(t, 2, hits[2].Index)

	assert.Empty(t, tree.Within(Point{Lat: 45, Lng: 90}, 1))
	assert.Nil(t, tree.Within(Point{Lat: -5, Lng: 120}, 10))
}

func TestKDTreeEmpty(t *testing.T) {
	tree := NewKDTree(nil)
	assert.Equal(t, 0, tree.Len())
	assert.Nil(t, tree.Within(Point{Lat: 30, Lng: 120}, 100))
}

func TestKDTreeMatchesBruteForce(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		center := Point{
			Lat: rapid.Float64Range(20, 40).Draw(t, "lat"),
			Lng: rapid.Float64Range(100, 120).Draw(t, "lng"),
		}
		n := rapid.IntRange(0, 60).Draw(t, "n")
		points := make([]Point, n)
		for i := range points {
			points[i] = Point{
				Lat: center.Lat + rapid.Float64Range(-0.05, 0.05).Draw(t, "dlat"),
				Lng: center.Lng + rapid.Float64Range(-0.05, 0.05).Draw(t, "dlng"),
			}
		}
		radius := rapid.Float64Range(0, 5).Draw(t, "radius")

		var want []int
		for i, p := range points {
			if Distance(center, p) <= radius {
				want = append(want, i)
			}
		}

		var got []int
		hits := NewKDTree(points).Within(center, radius)
		for i, h := range hits {
			got = append(got, h.Index)
			if i > 0 && hits[i-1].DistanceKm > h.DistanceKm {
				t.Fatalf("hits not ordered by distance")
			}
		}

		sort.Ints(got)
		if len(got) != len(want) {
			t.Fatalf("got %d hits, brute force found %d", len(got), len(want))
		}
		for i := range got {
			if got[i] != want[i] {
				t.Fatalf("hit mismatch at %d: %d vs %d", i, got[i], want[i])
			}
		}
	})
}
