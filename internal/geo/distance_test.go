package geo

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		name  string
		a, b  Point
		want  float64
		delta float64
	}{
		{
			name:  "identical points",
			a:     Point{Lat: 30, Lng: 120},
			b:     Point{Lat: 30, Lng: 120},
			want:  0,
			delta: 0,
		},
		{
			name:  "one degree of longitude at 30N",
			a:     Point{Lat: 30, Lng: 120},
			b:     Point{Lat: 30, Lng: 121},
			want:  96.29,
			delta: 0.1,
		},
		{
			name:  "one degree of latitude",
			a:     Point{Lat: 30, Lng: 120},
			b:     Point{Lat: 31, Lng: 120},
			want:  111.19,
			delta: 0.1,
		},
		{
			name:  "short hop inside a mall block",
			a:     Point{Lat: 30, Lng: 120},
			b:     Point{Lat: 30.0005, Lng: 120.0005},
			want:  0.0735,
			delta: 0.002,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Distance(tt.a, tt.b), tt.delta)
		})
	}
}

func TestNewPoint(t *testing.T) {
	p, err := NewPoint(31.23, 121.47)
	require.NoError(t, err)
	assert.Equal(t, "31.230000,121.470000", p.String())

	for _, bad := range []Point{
		{Lat: -1, Lng: 120},
		{Lat: 30, Lng: 141},
		{Lat: 61, Lng: 100},
		{Lat: math.NaN(), Lng: 120},
		{Lat: 30, Lng: math.Inf(1)},
	} {
		_, err := NewPoint(bad.Lat, bad.Lng)
		assert.Error(t, err, "point %v should be rejected", bad)
	}
}

func TestMedian(t *testing.T) {
	_, ok := Median(nil)
	assert.False(t, ok)

	m, ok := Median([]Point{{Lat: 30, Lng: 120}, {Lat: 31, Lng: 122}, {Lat: 32, Lng: 121}})
	require.True(t, ok)
	assert.Equal(t, Point{Lat: 31, Lng: 121}, m)

	m, ok = Median([]Point{{Lat: 30, Lng: 120}, {Lat: 31, Lng: 122}})
	require.True(t, ok)
	assert.Equal(t, Point{Lat: 30.5, Lng: 121}, m)
}

func validPoint() *rapid.Generator[Point] {
	return rapid.Custom(func(t *rapid.T) Point {
		return Point{
			Lat: rapid.Float64Range(MinLat, MaxLat).Draw(t, "lat"),
			Lng: rapid.Float64Range(MinLng, MaxLng).Draw(t, "lng"),
		}
	})
}

func TestDistanceProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := validPoint().Draw(t, "a")
		b := validPoint().Draw(t, "b")

		if d := Distance(a, a); d != 0 {
			t.Fatalf("distance to self = %v", d)
		}

		ab := Distance(a, b)
		ba := Distance(b, a)
		if math.Abs(ab-ba) > 1e-9 {
			t.Fatalf("asymmetric distance: %v vs %v", ab, ba)
		}
		if ab < 0 || ab > math.Pi*EarthRadiusKm {
			t.Fatalf("distance out of range: %v", ab)
		}
	})
}

func TestDistanceAgreesWithOrb(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := validPoint().Draw(t, "a")
		b := validPoint().Draw(t, "b")

		// orb uses the WGS84 equatorial radius in metres
		want := orbgeo.DistanceHaversine(a.Orb(), b.Orb()) / orb.EarthRadius * EarthRadiusKm
		got := Distance(a, b)
		if math.Abs(got-want) > 1e-6*math.Max(1, want) {
			t.Fatalf("Distance(%v, %v) = %f, orb gives %f", a, b, got, want)
		}
	})
}
