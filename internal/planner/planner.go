// Package planner turns a viewport into a bounded list of cluster
// selections drawn from a KD-tree.
package planner

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/geocluster/internal/geo"
	"github.com/sells-group/geocluster/internal/kdtree"
	"github.com/sells-group/geocluster/internal/label"
)

// Selection is one cluster or leaf chosen to represent part of a viewport.
type Selection struct {
	Node     kdtree.Ref
	Key      string
	Centroid geo.Coordinate
	Count    int
	Title    string
	Subtitle string
	Leaf     bool
	// Sample holds up to SampleSize point IDs spread across the selection.
	// Leaves carry their own ID.
	Sample []string
	// Point is the original point for leaf selections.
	Point geo.Point
}

// SampleSize bounds the point IDs carried by each cluster selection, so a
// query costs O(target·depth) regardless of how many points it covers.
const SampleSize = 32

// Request describes one viewport query.
type Request struct {
	Region geo.Region
	Buffer geo.BufferSize
	// Target is the cluster budget N.
	Target int
	// MinRegionSpan is the span in degrees below which every leaf in the
	// region is returned instead of clustering to Target.
	MinRegionSpan float64
}

// Planner selects clusters for viewport requests.
type Planner struct {
	labels *label.Labeler
}

// New returns a Planner that labels selections with l.
func New(l *label.Labeler) *Planner {
	return &Planner{labels: l}
}

// Plan queries t for at most req.Target selections covering the buffered
// region. An empty tree yields no selections.
func (p *Planner) Plan(ctx context.Context, t *kdtree.Tree, req Request) ([]Selection, error) {
	start := time.Now()
	region := geo.Expand(req.Region, req.Buffer)

	budget := req.Target
	if req.MinRegionSpan > 0 && geo.Span(region) < req.MinRegionSpan {
		budget = math.MaxInt32
	}

	nodes, err := t.Find(ctx, budget, region)
	if err != nil {
		return nil, err
	}

	out := make([]Selection, 0, len(nodes))
	for i, n := range nodes {
		if i%64 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		out = append(out, p.selection(t, n))
	}

	zap.L().Debug("planner: viewport planned",
		zap.Int("budget", budget),
		zap.Int("selections", len(out)),
		zap.String("buffer", req.Buffer.String()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return out, nil
}

func (p *Planner) selection(t *kdtree.Tree, n kdtree.Node) Selection {
	s := Selection{
		Node:  n.Ref,
		Key:   n.Key,
		Count: n.Count,
		Leaf:  n.Leaf,
		Title: p.labels.Title(n),
	}
	if n.Leaf {
		s.Centroid = n.Point.Coord
		s.Point = n.Point
		s.Sample = []string{n.Point.ID}
		return s
	}
	s.Centroid = n.Centroid
	s.Subtitle = p.labels.Subtitle(t, n)
	s.Sample = t.Sample(n.Ref, SampleSize)
	return s
}

// Total sums the point counts of a selection list.
func Total(sel []Selection) int {
	total := 0
	for _, s := range sel {
		total += s.Count
	}
	return total
}
