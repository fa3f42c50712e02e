package source

import (
	"context"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"

	"github.com/sells-group/geocluster/internal/geo"
)

// LoadShapefile reads point shapes and their DBF attributes. Non-point
// shapes are counted as rejected.
func LoadShapefile(ctx context.Context, path string, opts Options) (*Result, error) {
	opts = opts.withDefaults()

	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	names := make([]string, len(fields))
	fieldIdx := make(map[string]int, len(fields))
	for i, f := range fields {
		names[i] = strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToLower(names[i])] = i
	}
	attr := func(name string) string {
		idx, ok := fieldIdx[strings.ToLower(name)]
		if !ok {
			return ""
		}
		return strings.TrimSpace(strings.TrimRight(reader.Attribute(idx), "\x00"))
	}

	c := newCollector()
	for reader.Next() {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "source: load shapefile")
		}
		c.next()

		_, shape := reader.Shape()
		var x, y float64
		switch s := shape.(type) {
		case *shp.Point:
			x, y = s.X, s.Y
		case *shp.PointZ:
			x, y = s.X, s.Y
		case *shp.PointM:
			x, y = s.X, s.Y
		default:
			c.reject()
			continue
		}

		attrs := make(map[string]string, len(names))
		for i, name := range names {
			if v := strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00")); v != "" {
				attrs[name] = v
			}
		}
		c.add(geo.Point{
			ID:      attr(opts.IDColumn),
			Coord:   geo.Coordinate{Lat: y, Lng: x},
			Title:   attr(opts.TitleColumn),
			Payload: attrs,
		})
	}
	if err := reader.Err(); err != nil {
		return nil, eris.Wrap(err, "source: read shapefile")
	}
	return c.result(), nil
}
