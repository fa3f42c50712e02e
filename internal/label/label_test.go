package label

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geocluster/internal/geo"
	"github.com/sells-group/geocluster/internal/kdtree"
)

func buildTree(t *testing.T, n int) *kdtree.Tree {
	t.Helper()
	pts := make([]geo.Point, n)
	for i := range pts {
		pts[i] = geo.Point{
			ID:    fmt.Sprintf("id-%d", i),
			Coord: geo.Coordinate{Lat: float64(i), Lng: float64(i)},
			Title: fmt.Sprintf("Cafe %d", i),
		}
	}
	tr, err := kdtree.Build(context.Background(), pts, kdtree.NeutralPower)
	require.NoError(t, err)
	return tr
}

func TestTitle(t *testing.T) {
	tr := buildTree(t, 1200)
	root, _ := tr.Root()

	l := New(Options{})
	assert.Equal(t, "1,200 items", l.Title(root))

	l = New(Options{Title: "%d elements", Locale: "de"})
	assert.Equal(t, "1.200 elements", l.Title(root))

	leaf, ok := tr.NodeForItem("id-3")
	require.True(t, ok)
	assert.Equal(t, "Cafe 3", l.Title(leaf))
}

func TestTitle_LeafFallsBackToID(t *testing.T) {
	tr := kdtree.New(kdtree.NeutralPower)
	tr.Insert(geo.Point{ID: "untitled", Coord: geo.Coordinate{Lat: 1, Lng: 1}})
	leaf, _ := tr.NodeForItem("untitled")
	assert.Equal(t, "untitled", New(Options{}).Title(leaf))
}

func TestSubtitle(t *testing.T) {
	tr := buildTree(t, 8)
	root, _ := tr.Root()

	tests := []struct {
		name string
		opts Options
		want string
	}{
		{"disabled", Options{}, ""},
		{"truncated", Options{ShowSubtitle: true, MaxTitles: 3}, "Cafe 0, Cafe 1, Cafe 2 and 5 more"},
		{"complete", Options{ShowSubtitle: true, MaxTitles: 10}, "Cafe 0, Cafe 1, Cafe 2, Cafe 3, Cafe 4, Cafe 5, Cafe 6, Cafe 7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.opts).Subtitle(tr, root))
		})
	}
}
