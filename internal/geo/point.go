// Package geo holds the coordinate, point and region value types shared by
// the clustering packages.
package geo

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
)

// ErrInvalidCoordinate is returned for NaN, infinite or out-of-range coordinates.
var ErrInvalidCoordinate = eris.New("geo: invalid coordinate")

// Offscreen is the sentinel position for handles that are no longer shown.
var Offscreen = Coordinate{Lat: math.MaxFloat64, Lng: math.MaxFloat64}

// Axis identifies a KD-tree split dimension.
type Axis uint8

const (
	AxisLatitude Axis = iota
	AxisLongitude
)

func (a Axis) String() string {
	if a == AxisLongitude {
		return "longitude"
	}
	return "latitude"
}

// Coordinate is a WGS84 latitude/longitude pair.
type Coordinate struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

// Validate reports ErrInvalidCoordinate for degenerate input.
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lng, 0) {
		return eris.Wrapf(ErrInvalidCoordinate, "lat=%v lng=%v", c.Lat, c.Lng)
	}
	if c.Lat < -90 || c.Lat > 90 || c.Lng < -180 || c.Lng > 180 {
		return eris.Wrapf(ErrInvalidCoordinate, "lat=%v lng=%v out of range", c.Lat, c.Lng)
	}
	return nil
}

// IsOffscreen reports whether c is the Offscreen sentinel.
func (c Coordinate) IsOffscreen() bool {
	return c == Offscreen
}

// On returns the component of c along the given axis.
func (c Coordinate) On(a Axis) float64 {
	if a == AxisLongitude {
		return c.Lng
	}
	return c.Lat
}

// Orb converts c to a planar orb point (X = longitude, Y = latitude).
func (c Coordinate) Orb() orb.Point {
	return orb.Point{c.Lng, c.Lat}
}

// FromOrb converts a planar orb point back to a Coordinate.
func FromOrb(p orb.Point) Coordinate {
	return Coordinate{Lat: p.Lat(), Lng: p.Lon()}
}

// Point is one clusterable item: a stable identifier, its true coordinate
// and the opaque payload it stands for.
type Point struct {
	ID      string     `json:"id"`
	Coord   Coordinate `json:"coord"`
	Title   string     `json:"title,omitempty"`
	Payload any        `json:"-"`
}

// Validate checks the point can be indexed.
func (p Point) Validate() error {
	if p.ID == "" {
		return eris.New("geo: point id is required")
	}
	return p.Coord.Validate()
}
