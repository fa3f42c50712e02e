package diff

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geocluster/internal/geo"
	"github.com/sells-group/geocluster/internal/kdtree"
	"github.com/sells-group/geocluster/internal/label"
	"github.com/sells-group/geocluster/internal/planner"
)

func sel(key string, lat, lng float64, items ...string) planner.Selection {
	return planner.Selection{
		Key:      key,
		Centroid: geo.Coordinate{Lat: lat, Lng: lng},
		Count:    len(items),
		Sample:   items,
		Leaf:     len(items) == 1,
		Title:    key,
	}
}

func TestApply_FirstLoadAppearsInPlace(t *testing.T) {
	e := NewEngine(true)
	tr := e.Apply(nil, []planner.Selection{sel("a", 1, 1, "1", "2"), sel("b", 5, 5, "3")})

	assert.Empty(t, tr.Continuing)
	assert.Empty(t, tr.Disappearing)
	require.Len(t, tr.Appearing, 2)
	for _, c := range tr.Appearing {
		assert.Equal(t, PhaseAppearing, c.State.Phase)
		assert.Equal(t, c.State.After, c.State.Before, "no motion on first load")
		assert.True(t, c.State.PopIn)
	}
	assert.Equal(t, KindCluster, tr.Appearing[0].State.Kind)
	assert.Equal(t, KindLeaf, tr.Appearing[1].State.Kind)
	assert.Len(t, e.Displayed(), 2)
}

func TestApply_PopInDisabled(t *testing.T) {
	e := NewEngine(false)
	tr := e.Apply(nil, []planner.Selection{sel("a", 1, 1, "1")})
	require.Len(t, tr.Appearing, 1)
	assert.False(t, tr.Appearing[0].State.PopIn)
}

func TestApply_OverlapContinues(t *testing.T) {
	e := NewEngine(false)
	first := e.Apply(nil, []planner.Selection{sel("A", 1, 1, "1", "2", "3")})
	handle := first.Appearing[0].Handle

	tr := e.Apply(nil, []planner.Selection{sel("B", 2, 2, "2", "3", "4")})
	require.Len(t, tr.Continuing, 1)
	assert.Empty(t, tr.Appearing)
	assert.Empty(t, tr.Disappearing)

	c := tr.Continuing[0]
	assert.Same(t, handle, c.Handle, "identity survives a move")
	assert.Equal(t, PhaseDisplayed, c.State.Phase)
	assert.Equal(t, geo.Coordinate{Lat: 1, Lng: 1}, c.State.Before)
	assert.Equal(t, geo.Coordinate{Lat: 2, Lng: 2}, c.State.After)
	assert.True(t, c.State.NeedsRefresh)
}

func TestApply_BestOverlapWins(t *testing.T) {
	e := NewEngine(false)
	first := e.Apply(nil, []planner.Selection{
		sel("small", 0, 0, "1"),
		sel("big", 10, 10, "2", "3", "4"),
	})
	big := first.Appearing[1].Handle

	tr := e.Apply(nil, []planner.Selection{sel("merged", 5, 5, "1", "2", "3", "4")})
	require.Len(t, tr.Continuing, 1)
	assert.Same(t, big, tr.Continuing[0].Handle)

	require.Len(t, tr.Disappearing, 1)
	gone := tr.Disappearing[0].State
	assert.True(t, gone.PendingRemoval)
	assert.Equal(t, PhaseDisappearing, gone.Phase)
	assert.Equal(t, geo.Coordinate{Lat: 0, Lng: 0}, gone.Before)
	assert.Equal(t, geo.Coordinate{Lat: 5, Lng: 5}, gone.After, "collapses into the surviving cluster")
}

func TestApply_TieBrokenByDistance(t *testing.T) {
	e := NewEngine(false)
	first := e.Apply(nil, []planner.Selection{
		sel("far", 50, 50, "1", "2"),
		sel("near", 1, 1, "3", "4"),
	})
	near := first.Appearing[1].Handle

	tr := e.Apply(nil, []planner.Selection{sel("both", 0, 0, "1", "2", "3", "4")})
	require.Len(t, tr.Continuing, 1)
	assert.Same(t, near, tr.Continuing[0].Handle)
}

func TestApply_SplitAppearsFromParent(t *testing.T) {
	e := NewEngine(true)
	e.Apply(nil, []planner.Selection{sel("parent", 5, 5, "1", "2", "3", "4")})

	tr := e.Apply(nil, []planner.Selection{
		sel("left", 2, 2, "1", "2", "3"),
		sel("right", 8, 8, "4"),
	})
	require.Len(t, tr.Continuing, 1)
	assert.Equal(t, "left", tr.Continuing[0].State.Key)

	require.Len(t, tr.Appearing, 1)
	app := tr.Appearing[0].State
	assert.Equal(t, geo.Coordinate{Lat: 5, Lng: 5}, app.Before, "starts at the previous ancestor")
	assert.Equal(t, geo.Coordinate{Lat: 8, Lng: 8}, app.After)
	assert.False(t, app.PopIn)
}

func TestApply_DisappearFadesInPlaceWithoutTarget(t *testing.T) {
	e := NewEngine(false)
	e.Apply(nil, []planner.Selection{sel("a", 3, 3, "1"), sel("b", 4, 4, "2")})

	tr := e.Apply(nil, []planner.Selection{sel("b", 4, 4, "2")})
	require.Len(t, tr.Disappearing, 1)
	st := tr.Disappearing[0].State
	assert.Equal(t, st.Before, st.After)
	assert.Equal(t, geo.Coordinate{Lat: 3, Lng: 3}, st.After)
}

func TestApply_IdentityMatchOnNodeRef(t *testing.T) {
	tr, err := kdtree.Build(context.Background(), []geo.Point{
		{ID: "1", Coord: geo.Coordinate{Lat: 1, Lng: 1}},
		{ID: "2", Coord: geo.Coordinate{Lat: 2, Lng: 2}},
	}, kdtree.NeutralPower)
	require.NoError(t, err)
	root, _ := tr.Root()

	s := sel("1", 1.5, 1.5, "1", "2")
	s.Node = root.Ref

	e := NewEngine(false)
	first := e.Apply(nil, []planner.Selection{s})
	assert.Equal(t, root.Ref, first.Appearing[0].Handle.Node())

	// Same node, no shared items: the node identity alone carries the match.
	moved := sel("1", 1.6, 1.6, "9")
	moved.Node = root.Ref
	next := e.Apply(nil, []planner.Selection{moved})
	require.Len(t, next.Continuing, 1)
	assert.Same(t, first.Appearing[0].Handle, next.Continuing[0].Handle)
}

func TestComplete_PoolsHandles(t *testing.T) {
	e := NewEngine(false)
	first := e.Apply(nil, []planner.Selection{sel("a", 1, 1, "1"), sel("b", 9, 9, "2")})
	gone := first.Appearing[0].Handle

	tr := e.Apply(nil, []planner.Selection{sel("b", 9, 9, "2")})
	require.Len(t, tr.Disappearing, 1)
	assert.Equal(t, 0, e.Pooled())

	assert.Equal(t, 1, e.Complete())
	assert.Equal(t, 1, e.Pooled())
	st := gone.State()
	assert.True(t, st.After.IsOffscreen())
	assert.Equal(t, PhaseAbsent, st.Phase)
	assert.False(t, st.PendingRemoval)

	// The pooled handle is reused for the next appearance.
	tr = e.Apply(nil, []planner.Selection{sel("b", 9, 9, "2"), sel("c", 20, 20, "3")})
	require.Len(t, tr.Appearing, 1)
	assert.Same(t, gone, tr.Appearing[0].Handle)
	assert.Equal(t, 0, e.Pooled())
}

func TestApply_ReleasesInterruptedRemovals(t *testing.T) {
	e := NewEngine(false)
	e.Apply(nil, []planner.Selection{sel("a", 1, 1, "1"), sel("b", 9, 9, "2")})
	e.Apply(nil, []planner.Selection{sel("b", 9, 9, "2")})
	e.Apply(nil, []planner.Selection{sel("b", 9, 9, "2")})
	assert.Equal(t, 1, e.Pooled())
}

func TestHandleForItem(t *testing.T) {
	e := NewEngine(false)
	tr := e.Apply(nil, []planner.Selection{sel("a", 1, 1, "1", "2"), sel("b", 9, 9, "3")})

	h, ok := e.HandleForItem("2")
	require.True(t, ok)
	assert.Same(t, tr.Appearing[0].Handle, h)

	_, ok = e.HandleForItem("missing")
	assert.False(t, ok)

	e.Apply(nil, nil)
	_, ok = e.HandleForItem("2")
	assert.False(t, ok)
	assert.Empty(t, e.Displayed())
}

func TestHandle_IDsAreStable(t *testing.T) {
	e := NewEngine(false)
	first := e.Apply(nil, []planner.Selection{sel("a", 1, 1, "1", "2")})
	id := first.Appearing[0].Handle.ID()
	next := e.Apply(nil, []planner.Selection{sel("a2", 2, 2, "1")})
	assert.Equal(t, id, next.Continuing[0].State.ID)
}

func gridTree(t *testing.T, n int) (*kdtree.Tree, []geo.Point) {
	t.Helper()
	pts := make([]geo.Point, n)
	for i := range pts {
		pts[i] = geo.Point{
			ID:    fmt.Sprintf("g%04d", i),
			Coord: geo.Coordinate{Lat: float64(i % 20), Lng: float64(i / 20)},
		}
	}
	tr, err := kdtree.Build(context.Background(), pts, kdtree.NeutralPower)
	require.NoError(t, err)
	return tr, pts
}

func TestApply_ResolvesOwnershipThroughTree(t *testing.T) {
	tree, pts := gridTree(t, 400)
	extent, _ := tree.Bounds()
	p := planner.New(label.New(label.Options{}))

	top, err := p.Plan(context.Background(), tree, planner.Request{Region: extent, Target: 1})
	require.NoError(t, err)
	require.Len(t, top, 1)
	require.Len(t, top[0].Sample, planner.SampleSize)

	e := NewEngine(false)
	first := e.Apply(tree, top)
	parent := first.Appearing[0].Handle

	// Items missing from the carried sample still resolve through the tree.
	for _, pt := range pts {
		h, ok := e.HandleForItem(pt.ID)
		require.True(t, ok, pt.ID)
		assert.Same(t, parent, h)
	}

	split, err := p.Plan(context.Background(), tree, planner.Request{Region: extent, Target: 4})
	require.NoError(t, err)
	require.Greater(t, len(split), 1)

	zoomIn := e.Apply(tree, split)
	require.Len(t, zoomIn.Continuing, 1)
	assert.Same(t, parent, zoomIn.Continuing[0].Handle)
	assert.Empty(t, zoomIn.Disappearing)
	require.Len(t, zoomIn.Appearing, len(split)-1)
	for _, c := range zoomIn.Appearing {
		assert.Equal(t, top[0].Centroid, c.State.Before, "children open out of the parent")
		assert.False(t, c.State.PopIn)
	}

	zoomOut := e.Apply(tree, top)
	require.Len(t, zoomOut.Continuing, 1)
	require.Len(t, zoomOut.Disappearing, len(split)-1)
	for _, c := range zoomOut.Disappearing {
		assert.Equal(t, top[0].Centroid, c.State.After, "children collapse into the parent")
	}
	assert.Empty(t, zoomOut.Appearing)
}

func TestApply_MatchesAcrossRebuild(t *testing.T) {
	tree, pts := gridTree(t, 400)
	extent, _ := tree.Bounds()
	p := planner.New(label.New(label.Options{}))

	before, err := p.Plan(context.Background(), tree, planner.Request{Region: extent, Target: 4})
	require.NoError(t, err)
	e := NewEngine(false)
	first := e.Apply(tree, before)

	rebuilt, err := kdtree.Build(context.Background(), pts, kdtree.NeutralPower)
	require.NoError(t, err)
	after, err := p.Plan(context.Background(), rebuilt, planner.Request{Region: extent, Target: 4})
	require.NoError(t, err)

	tr := e.Apply(rebuilt, after)
	assert.Empty(t, tr.Appearing)
	assert.Empty(t, tr.Disappearing)
	require.Len(t, tr.Continuing, len(first.Appearing))
	for i, c := range tr.Continuing {
		assert.Same(t, first.Appearing[i].Handle, c.Handle)
		assert.Equal(t, after[i].Node, c.State.Node)
	}
}
