package geo

import (
	"math"
	"sort"
)

// Neighbor is a tree hit: the index of the point as passed to NewKDTree and its distance
type Neighbor struct {
	Index      int
	DistanceKm float64
}

// KDTree is a static 3-d tree over points projected onto the unit sphere.
// Chord distance on the sphere is monotonic in great-circle distance, so a
// radius query in kilometres becomes a euclidean radius query in xyz.
type KDTree struct {
	nodes []kdNode
	items []kdItem
	root  int32
}

type kdItem struct {
	xyz   [3]float64
	point Point
	index int
}

type kdNode struct {
	item  int32
	left  int32
	right int32
	axis  uint8
}

// NewKDTree builds a tree over points. Invalid points are not indexed but keep
// their position, so Neighbor.Index always refers to the input slice.
func NewKDTree(points []Point) *KDTree {
	t := &KDTree{root: -1}

	for i, p := range points {
		if !p.Valid() {
			continue
		}
		t.items = append(t.items, kdItem{xyz: toXYZ(p), point: p, index: i})
	}

	if len(t.items) == 0 {
		return t
	}

	order := make([]int32, len(t.items))
	for i := range order {
		order[i] = int32(i)
	}

	t.nodes = make([]kdNode, 0, len(t.items))
	t.root = t.build(order, 0)
	return t
}

// Len returns the number of indexed points
func (t *KDTree) Len() int {
	return len(t.items)
}

func (t *KDTree) build(order []int32, depth int) int32 {
	if len(order) == 0 {
		return -1
	}

	axis := depth % 3
	sort.Slice(order, func(i, j int) bool {
		a, b := t.items[order[i]], t.items[order[j]]
		if a.xyz[axis] != b.xyz[axis] {
			return a.xyz[axis] < b.xyz[axis]
		}
		return a.index < b.index
	})

	m := len(order) / 2
	nodeIdx := int32(len(t.nodes))
	t.nodes = append(t.nodes, kdNode{item: order[m], left: -1, right: -1, axis: uint8(axis)})

	left := t.build(order[:m], depth+1)
	right := t.build(order[m+1:], depth+1)
	t.nodes[nodeIdx].left = left
	t.nodes[nodeIdx].right = right

	return nodeIdx
}

// Within returns every indexed point whose haversine distance to p is at most
// radiusKm, ordered by distance then input index
func (t *KDTree) Within(p Point, radiusKm float64) []Neighbor {
	if t.root < 0 || !p.Valid() || radiusKm < 0 || math.IsNaN(radiusKm) {
		return nil
	}

	angle := math.Min(radiusKm/EarthRadiusKm, math.Pi)
	chord := 2*math.Sin(angle/2)*(1+1e-9) + 1e-12
	maxSq := chord * chord

	var hits []int32
	t.search(t.root, toXYZ(p), maxSq, &hits)

	result := make([]Neighbor, 0, len(hits))
	for _, h := range hits {
		item := t.items[h]
		d := Distance(p, item.point)
		if d <= radiusKm {
			result = append(result, Neighbor{Index: item.index, DistanceKm: d})
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].DistanceKm != result[j].DistanceKm {
			return result[i].DistanceKm < result[j].DistanceKm
		}
		return result[i].Index < result[j].Index
	})

	return result
}

func (t *KDTree) search(nodeIdx int32, q [3]float64, maxSq float64, out *[]int32) {
	if nodeIdx < 0 {
		return
	}

	node := t.nodes[nodeIdx]
	item := t.items[node.item]
	if squaredDistance(item.xyz, q) <= maxSq {
		*out = append(*out, node.item)
	}

	diff := q[node.axis] - item.xyz[node.axis]
	near, far := node.left, node.right
	if diff > 0 {
		near, far = node.right, node.left
	}

	t.search(near, q, maxSq, out)
	if diff*diff <= maxSq {
		t.search(far, q, maxSq, out)
	}
}

func toXYZ(p Point) [3]float64 {
	lat := radians(p.Lat)
	lng := radians(p.Lng)
	return [3]float64{
		math.Cos(lat) * math.Cos(lng),
		math.Cos(lat) * math.Sin(lng),
		math.Sin(lat),
	}
}

func squaredDistance(a, b [3]float64) float64 {
	dx := a[0] - b[0]
	dy := a[1] - b[1]
	dz := a[2] - b[2]
	return dx*dx + dy*dy + dz*dz
}
