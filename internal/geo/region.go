package geo

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/rotisserie/eris"
)

// Region is a lat/lng rectangle. X is longitude and Y is latitude.
type Region = orb.Bound

// BufferSize controls how far outside the visible region clustering looks.
type BufferSize int

const (
	BufferNone BufferSize = iota
	BufferSmall
	BufferMedium
	BufferLarge
)

var bufferNames = map[string]BufferSize{
	"none":   BufferNone,
	"small":  BufferSmall,
	"medium": BufferMedium,
	"large":  BufferLarge,
}

// ParseBufferSize maps a config name to a BufferSize.
func ParseBufferSize(name string) (BufferSize, error) {
	b, ok := bufferNames[name]
	if !ok {
		return BufferNone, eris.Errorf("geo: unknown buffer size %q", name)
	}
	return b, nil
}

func (b BufferSize) String() string {
	for name, v := range bufferNames {
		if v == b {
			return name
		}
	}
	return "unknown"
}

// Fraction is the padding applied on every side, as a fraction of the
// region's width and height. BufferLarge adds a full screen in all eight
// directions, for nine times the visible area.
func (b BufferSize) Fraction() float64 {
	switch b {
	case BufferSmall:
		return 0.25
	case BufferMedium:
		return 0.5
	case BufferLarge:
		return 1
	default:
		return 0
	}
}

// NewRegion builds a region from its corner coordinates.
func NewRegion(minLng, minLat, maxLng, maxLat float64) Region {
	return Region{Min: orb.Point{minLng, minLat}, Max: orb.Point{maxLng, maxLat}}
}

// PointRegion is the degenerate region covering a single coordinate.
func PointRegion(c Coordinate) Region {
	return c.Orb().Bound()
}

// Expand grows r by the buffer fraction on every side.
func Expand(r Region, b BufferSize) Region {
	f := b.Fraction()
	if f == 0 {
		return r
	}
	dx := (r.Max[0] - r.Min[0]) * f
	dy := (r.Max[1] - r.Min[1]) * f
	return Region{
		Min: orb.Point{r.Min[0] - dx, r.Min[1] - dy},
		Max: orb.Point{r.Max[0] + dx, r.Max[1] + dy},
	}
}

// Span returns the larger of the region's width and height in degrees.
func Span(r Region) float64 {
	return math.Max(r.Max[0]-r.Min[0], r.Max[1]-r.Min[1])
}

// Distance is the planar distance between two coordinates in degrees.
func Distance(a, b Coordinate) float64 {
	return planar.Distance(a.Orb(), b.Orb())
}

// RegionDistance is the planar distance from c to the nearest point of r,
// zero when r contains c.
func RegionDistance(r Region, c Coordinate) float64 {
	p := c.Orb()
	dx := math.Max(0, math.Max(r.Min[0]-p[0], p[0]-r.Max[0]))
	dy := math.Max(0, math.Max(r.Min[1]-p[1], p[1]-r.Max[1]))
	return math.Hypot(dx, dy)
}
