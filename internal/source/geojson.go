package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/geocluster/internal/geo"
)

// LoadGeoJSON reads Point features from a FeatureCollection. Other geometry
// types are counted as rejected.
func LoadGeoJSON(ctx context.Context, r io.Reader, opts Options) (*Result, error) {
	opts = opts.withDefaults()

	var fc geojson.FeatureCollection
	if err := json.NewDecoder(r).Decode(&fc); err != nil {
		return nil, eris.Wrap(err, "source: decode geojson")
	}

	c := newCollector()
	for _, f := range fc.Features {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "source: load geojson")
		}
		c.next()
		if f == nil {
			c.reject()
			continue
		}
		pt, ok := f.Geometry.(*geom.Point)
		if !ok || pt.Empty() {
			c.reject()
			continue
		}

		id := f.ID
		if id == "" {
			id = property(f.Properties, opts.IDColumn)
		}
		c.add(geo.Point{
			ID:      id,
			Coord:   geo.Coordinate{Lat: pt.Y(), Lng: pt.X()},
			Title:   property(f.Properties, opts.TitleColumn),
			Payload: f.Properties,
		})
	}
	return c.result(), nil
}

func property(props map[string]interface{}, key string) string {
	v, ok := props[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}
