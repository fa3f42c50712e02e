package engine

import (
	"math"

	"github.com/sells-group/geocluster/internal/geo"
	"github.com/sells-group/geocluster/internal/kdtree"
)

// RebuildPolicy decides whether a single added point is inserted into the
// existing tree or triggers a full rebuild.
type RebuildPolicy struct {
	// Threshold is the tree size below which every add rebuilds.
	Threshold int
	// MaxDepthFactor rebuilds once the tree depth exceeds
	// MaxDepthFactor × log2(size). Zero disables the check.
	MaxDepthFactor float64
}

// Rebuild reports whether adding c to t should rebuild the tree. Points
// outside the current bounds are outliers and always rebuild, since they
// shift the weighted centroids of every ancestor.
func (p RebuildPolicy) Rebuild(t *kdtree.Tree, c geo.Coordinate) bool {
	n := t.Len()
	if n == 0 || n < p.Threshold {
		return true
	}
	bounds, ok := t.Bounds()
	if !ok || !bounds.Contains(c.Orb()) {
		return true
	}
	if p.MaxDepthFactor > 0 && float64(t.Depth()) > p.MaxDepthFactor*math.Log2(float64(n+1)) {
		return true
	}
	return false
}
