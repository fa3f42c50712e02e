// Package export renders cluster selections and transitions as GeoJSON.
package export

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/geocluster/internal/diff"
	"github.com/sells-group/geocluster/internal/geo"
	"github.com/sells-group/geocluster/internal/planner"
)

// SelectionCollection converts selections into Point features located at
// each cluster's weighted centroid.
func SelectionCollection(sel []planner.Selection) *geojson.FeatureCollection {
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(sel))}
	for _, s := range sel {
		id := s.Key
		if s.Leaf {
			id = s.Point.ID
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:       id,
			Geometry: point(s.Centroid),
			Properties: map[string]interface{}{
				"cluster":  !s.Leaf,
				"count":    s.Count,
				"title":    s.Title,
				"subtitle": s.Subtitle,
				"key":      s.Key,
			},
		})
	}
	return fc
}

// Selections encodes sel as a GeoJSON FeatureCollection.
func Selections(sel []planner.Selection) ([]byte, error) {
	data, err := json.Marshal(SelectionCollection(sel))
	if err != nil {
		return nil, eris.Wrap(err, "export: marshal selections")
	}
	return data, nil
}

// TransitionCollection converts a transition into one feature per handle,
// located at the handle's animation target. The from property holds the
// animation start as [lng, lat], or null for pop-in and off-screen starts.
func TransitionCollection(tr *diff.Transition) *geojson.FeatureCollection {
	fc := &geojson.FeatureCollection{Features: []*geojson.Feature{}}
	if tr == nil {
		return fc
	}
	for _, group := range [][]diff.Change{tr.Continuing, tr.Appearing, tr.Disappearing} {
		for _, c := range group {
			fc.Features = append(fc.Features, changeFeature(c.State))
		}
	}
	return fc
}

// Transition encodes tr as a GeoJSON FeatureCollection.
func Transition(tr *diff.Transition) ([]byte, error) {
	data, err := json.Marshal(TransitionCollection(tr))
	if err != nil {
		return nil, eris.Wrap(err, "export: marshal transition")
	}
	return data, nil
}

func changeFeature(s diff.State) *geojson.Feature {
	var from interface{}
	if !s.PopIn && !s.Before.IsOffscreen() {
		from = []float64{s.Before.Lng, s.Before.Lat}
	}
	return &geojson.Feature{
		ID:       s.ID.String(),
		Geometry: point(s.After),
		Properties: map[string]interface{}{
			"cluster":  s.Kind == diff.KindCluster,
			"count":    s.Count,
			"title":    s.Title,
			"subtitle": s.Subtitle,
			"key":      s.Key,
			"phase":    s.Phase.String(),
			"from":     from,
		},
	}
}

func point(c geo.Coordinate) *geom.Point {
	return geom.NewPointFlat(geom.XY, []float64{c.Lng, c.Lat}).SetSRID(4326)
}
