package geo

import (
	"math"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordinate_Validate(t *testing.T) {
	tests := []struct {
		name  string
		coord Coordinate
		ok    bool
	}{
		{"origin", Coordinate{}, true},
		{"corner", Coordinate{Lat: -90, Lng: 180}, true},
		{"nan lat", Coordinate{Lat: math.NaN(), Lng: 0}, false},
		{"inf lng", Coordinate{Lat: 0, Lng: math.Inf(1)}, false},
		{"lat range", Coordinate{Lat: 90.0001, Lng: 0}, false},
		{"lng range", Coordinate{Lat: 0, Lng: -181}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.coord.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, eris.Is(err, ErrInvalidCoordinate))
		})
	}
}

func TestPoint_ValidateRequiresID(t *testing.T) {
	err := Point{Coord: Coordinate{Lat: 1, Lng: 1}}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "id is required")
}

func TestOffscreen(t *testing.T) {
	assert.True(t, Offscreen.IsOffscreen())
	assert.False(t, Coordinate{Lat: 1, Lng: 2}.IsOffscreen())
	assert.Error(t, Offscreen.Validate())
}

func TestCoordinate_OrbRoundTrip(t *testing.T) {
	c := Coordinate{Lat: 40.7, Lng: -74}
	p := c.Orb()
	assert.Equal(t, -74.0, p[0])
	assert.Equal(t, 40.7, p[1])
	assert.Equal(t, c, FromOrb(p))
	assert.Equal(t, 40.7, c.On(AxisLatitude))
	assert.Equal(t, -74.0, c.On(AxisLongitude))
}

func TestParseBufferSize(t *testing.T) {
	for name, want := range map[string]BufferSize{"none": BufferNone, "small": BufferSmall, "medium": BufferMedium, "large": BufferLarge} {
		got, err := ParseBufferSize(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Equal(t, name, got.String())
	}
	_, err := ParseBufferSize("huge")
	assert.Error(t, err)
}

func TestExpand(t *testing.T) {
	r := NewRegion(0, 0, 2, 4)
	assert.Equal(t, r, Expand(r, BufferNone))
	assert.Equal(t, NewRegion(-0.5, -1, 2.5, 5), Expand(r, BufferSmall))
	assert.Equal(t, NewRegion(-1, -2, 3, 6), Expand(r, BufferMedium))

	large := Expand(r, BufferLarge)
	assert.Equal(t, NewRegion(-2, -4, 4, 8), large)
	// a full screen on every side is nine times the area
	area := func(b Region) float64 { return (b.Max[0] - b.Min[0]) * (b.Max[1] - b.Min[1]) }
	assert.InDelta(t, 9*area(r), area(large), 1e-9)
}

func TestSpanAndDistance(t *testing.T) {
	assert.Equal(t, 4.0, Span(NewRegion(0, 0, 2, 4)))
	assert.Equal(t, 0.0, Span(PointRegion(Coordinate{Lat: 3, Lng: 3})))
	assert.InDelta(t, 5.0, Distance(Coordinate{}, Coordinate{Lat: 4, Lng: 3}), 1e-9)

	r := NewRegion(0, 0, 1, 1)
	assert.Equal(t, 0.0, RegionDistance(r, Coordinate{Lat: 0.5, Lng: 0.5}))
	assert.InDelta(t, 1.0, RegionDistance(r, Coordinate{Lat: 0.5, Lng: 2}), 1e-9)
	assert.InDelta(t, math.Sqrt2, RegionDistance(r, Coordinate{Lat: 2, Lng: 2}), 1e-9)
}
