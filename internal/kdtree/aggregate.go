package kdtree

import (
	"math"

	"github.com/sells-group/geocluster/internal/geo"
)

// NeutralPower is the discrimination power that yields the plain
// count-weighted centre of mass.
const NeutralPower = 1.0

// aggregate recomputes an internal node from its two children.
func (t *Tree) aggregate(slot int32) {
	n := &t.nodes[slot]
	l, r := &t.nodes[n.left], &t.nodes[n.right]

	n.count = l.count + r.count
	n.bounds = l.bounds.Union(r.bounds)
	n.key = l.key
	if r.key < n.key {
		n.key = r.key
	}
	n.centroid = Centroid(t.power, l.centroid, l.count, r.centroid, r.count)
}

// Centroid averages two child centroids, weighting each by count^power.
// Power 1 gives the centre of mass; larger powers pull toward the heavier
// child and powers below 1 toward the sparser one.
func Centroid(power float64, a geo.Coordinate, na int, b geo.Coordinate, nb int) geo.Coordinate {
	wa := math.Pow(float64(na), power)
	wb := math.Pow(float64(nb), power)
	total := wa + wb
	if total == 0 || math.IsInf(total, 0) || math.IsNaN(total) {
		// Overflowing weights collapse onto the heavier side.
		switch {
		case na > nb:
			return a
		case nb > na:
			return b
		}
		wa, wb, total = 1, 1, 2
	}
	return geo.Coordinate{
		Lat: (wa*a.Lat + wb*b.Lat) / total,
		Lng: (wa*a.Lng + wb*b.Lng) / total,
	}
}

// reaggregate walks from slot to the root recomputing aggregates.
func (t *Tree) reaggregate(slot int32) {
	for s := slot; s != none; s = t.nodes[s].parent {
		t.aggregate(s)
	}
}
