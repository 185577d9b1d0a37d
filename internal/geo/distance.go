package geo

import (
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"
)

// EarthRadiusKm is the mean earth radius used for all great-circle distances
const EarthRadiusKm = 6371.0

// National bounds for coordinates accepted by the matcher
const (
	MinLat = 0.0
	MaxLat = 60.0
	MinLng = 70.0
	MaxLng = 140.0
)

var nationalBounds = orb.Bound{
	Min: orb.Point{MinLng, MinLat},
	Max: orb.Point{MaxLng, MaxLat},
}

// Point is a latitude/longitude pair in degrees
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// NewPoint builds a point and rejects coordinates outside the national bounds
func NewPoint(lat, lng float64) (Point, error) {
	p := Point{Lat: lat, Lng: lng}
	if !p.Valid() {
		return Point{}, fmt.Errorf("coordinate (%f, %f) outside bounds", lat, lng)
	}
	return p, nil
}

// Valid reports whether both components are finite and inside the national bounds
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return false
	}
	return nationalBounds.Contains(p.Orb())
}

// Orb returns the point in orb's lng/lat order
func (p Point) Orb() orb.Point {
	return orb.Point{p.Lng, p.Lat}
}

// String formats the point as "lat,lng"
func (p Point) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lng)
}

// Distance returns the haversine distance between a and b in kilometres.
// Callers must filter invalid coordinates before calling.
func Distance(a, b Point) float64 {
	if a == b {
		return 0
	}

	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := lat2 - lat1
	dLng := radians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)

	// Rounding can push h slightly past 1 for antipodal points
	h = math.Min(1, math.Max(0, h))

	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}

// Median returns the per-axis median of the given points
func Median(points []Point) (Point, bool) {
	if len(points) == 0 {
		return Point{}, false
	}

	lats := make([]float64, len(points))
	lngs := make([]float64, len(points))
	for i, p := range points {
		lats[i] = p.Lat
		lngs[i] = p.Lng
	}

	return Point{Lat: median(lats), Lng: median(lngs)}, true
}

func median(values []float64) float64 {
	sort.Float64s(values)
	n := len(values)
	if n%2 == 1 {
		return values[n/2]
	}
	return (values[n/2-1] + values[n/2]) / 2
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
