package planner

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geocluster/internal/geo"
	"github.com/sells-group/geocluster/internal/kdtree"
	"github.com/sells-group/geocluster/internal/label"
)

func uniform(t *testing.T, n int) *kdtree.Tree {
	t.Helper()
	r := rand.New(rand.NewSource(1))
	pts := make([]geo.Point, n)
	for i := range pts {
		pts[i] = geo.Point{
			ID:    fmt.Sprintf("u%04d", i),
			Coord: geo.Coordinate{Lat: r.Float64() * 20, Lng: r.Float64() * 20},
		}
	}
	tr, err := kdtree.Build(context.Background(), pts, kdtree.NeutralPower)
	require.NoError(t, err)
	return tr
}

func newPlanner() *Planner {
	return New(label.New(label.Options{ShowSubtitle: true}))
}

func TestPlan_ThousandPointsFullExtent(t *testing.T) {
	tr := uniform(t, 1000)
	extent, _ := tr.Bounds()

	sel, err := newPlanner().Plan(context.Background(), tr, Request{
		Region: extent,
		Buffer: geo.BufferNone,
		Target: 20,
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(sel), 20)
	assert.Equal(t, 1000, Total(sel))

	seen := map[string]bool{}
	for _, s := range sel {
		assert.Len(t, s.Sample, min(s.Count, SampleSize))
		for _, id := range s.Sample {
			assert.False(t, seen[id], "item %s in two selections", id)
			seen[id] = true
			assert.True(t, tr.ContainsItem(s.Node, id))
		}
		if !s.Leaf {
			assert.NotEmpty(t, s.Subtitle)
			assert.Contains(t, s.Title, "items")
		}
	}
}

func TestPlan_SampleStaysBounded(t *testing.T) {
	tr := uniform(t, 5000)
	extent, _ := tr.Bounds()

	p := New(label.New(label.Options{}))
	sel, err := p.Plan(context.Background(), tr, Request{Region: extent, Target: 3})
	require.NoError(t, err)
	require.NotEmpty(t, sel)

	var carried int
	for _, s := range sel {
		assert.Greater(t, s.Count, SampleSize)
		assert.Len(t, s.Sample, SampleSize)
		assert.Empty(t, s.Subtitle)
		carried += len(s.Sample)
	}
	assert.Equal(t, 5000, Total(sel))
	assert.LessOrEqual(t, carried, 3*SampleSize)
}

func TestPlan_LeafSelectionUsesOriginalPoint(t *testing.T) {
	tr := kdtree.New(kdtree.NeutralPower)
	p := geo.Point{ID: "solo", Coord: geo.Coordinate{Lat: 5, Lng: 5}, Title: "Solo"}
	tr.Insert(p)

	sel, err := newPlanner().Plan(context.Background(), tr, Request{
		Region: geo.NewRegion(4, 4, 6, 6),
		Target: 20,
	})
	require.NoError(t, err)
	require.Len(t, sel, 1)
	assert.True(t, sel[0].Leaf)
	assert.Equal(t, p, sel[0].Point)
	assert.Equal(t, p.Coord, sel[0].Centroid)
	assert.Equal(t, "Solo", sel[0].Title)
	assert.Empty(t, sel[0].Subtitle)

	sel, err = newPlanner().Plan(context.Background(), tr, Request{
		Region: geo.NewRegion(10, 10, 11, 11),
		Target: 20,
	})
	require.NoError(t, err)
	assert.Empty(t, sel)
}

func TestPlan_BufferWidensRegion(t *testing.T) {
	tr := kdtree.New(kdtree.NeutralPower)
	tr.Insert(geo.Point{ID: "east", Coord: geo.Coordinate{Lat: 0.5, Lng: 1.8}})

	visible := geo.NewRegion(0, 0, 1, 1)
	for _, tt := range []struct {
		buffer geo.BufferSize
		want   int
	}{
		{geo.BufferNone, 0},
		{geo.BufferSmall, 0},
		{geo.BufferMedium, 0},
		{geo.BufferLarge, 1},
	} {
		sel, err := newPlanner().Plan(context.Background(), tr, Request{Region: visible, Buffer: tt.buffer, Target: 5})
		require.NoError(t, err)
		assert.Len(t, sel, tt.want, tt.buffer.String())
	}
}

func TestPlan_MinRegionSpanReturnsLeaves(t *testing.T) {
	tr := kdtree.New(kdtree.NeutralPower)
	for i := 0; i < 30; i++ {
		tr.Insert(geo.Point{ID: fmt.Sprintf("c%02d", i), Coord: geo.Coordinate{Lat: 1 + float64(i)*1e-6, Lng: 1}})
	}
	region := geo.NewRegion(0.9999, 0.9999, 1.0001, 1.0001)

	sel, err := newPlanner().Plan(context.Background(), tr, Request{Region: region, Target: 5})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(sel), 5)

	sel, err = newPlanner().Plan(context.Background(), tr, Request{Region: region, Target: 5, MinRegionSpan: 0.01})
	require.NoError(t, err)
	assert.Len(t, sel, 30)
	for _, s := range sel {
		assert.True(t, s.Leaf)
	}
}

func TestPlan_EmptyTree(t *testing.T) {
	sel, err := newPlanner().Plan(context.Background(), kdtree.New(1), Request{Region: geo.NewRegion(-1, -1, 1, 1), Target: 20})
	require.NoError(t, err)
	assert.Empty(t, sel)
}
