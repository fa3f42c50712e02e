// Package source loads map points from CSV, XLSX, GeoJSON and shapefile inputs.
package source

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geocluster/internal/geo"
)

// ErrUnsupportedFormat is returned by Load for unknown file extensions.
var ErrUnsupportedFormat = eris.New("source: unsupported format")

// Options names the attribute columns that carry point fields.
type Options struct {
	LatColumn   string
	LngColumn   string
	IDColumn    string
	TitleColumn string
	Sheet       string // xlsx only; empty reads the first sheet
}

// DefaultOptions returns the column names used when none are configured.
func DefaultOptions() Options {
	return Options{LatColumn: "lat", LngColumn: "lng", IDColumn: "id", TitleColumn: "title"}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.LatColumn == "" {
		o.LatColumn = def.LatColumn
	}
	if o.LngColumn == "" {
		o.LngColumn = def.LngColumn
	}
	if o.IDColumn == "" {
		o.IDColumn = def.IDColumn
	}
	if o.TitleColumn == "" {
		o.TitleColumn = def.TitleColumn
	}
	return o
}

// Result is the outcome of a load.
type Result struct {
	Points     []geo.Point
	Rejected   int // rows with missing or invalid coordinates
	Duplicates int // rows whose ID was already seen; the later row wins
}

// Load reads points from path, choosing the parser by file extension.
func Load(ctx context.Context, path string, opts Options) (*Result, error) {
	opts = opts.withDefaults()

	var (
		res *Result
		err error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		f, openErr := os.Open(path)
		if openErr != nil {
			return nil, eris.Wrapf(openErr, "source: open %s", path)
		}
		defer func() { _ = f.Close() }()
		res, err = LoadCSV(ctx, f, opts)
	case ".xlsx":
		res, err = LoadXLSX(ctx, path, opts)
	case ".geojson", ".json":
		f, openErr := os.Open(path)
		if openErr != nil {
			return nil, eris.Wrapf(openErr, "source: open %s", path)
		}
		defer func() { _ = f.Close() }()
		res, err = LoadGeoJSON(ctx, f, opts)
	case ".shp":
		res, err = LoadShapefile(ctx, path, opts)
	default:
		return nil, eris.Wrapf(ErrUnsupportedFormat, "extension %q", ext)
	}
	if err != nil {
		return nil, err
	}

	zap.L().Info("source: loaded points",
		zap.String("path", path),
		zap.Int("points", len(res.Points)),
		zap.Int("rejected", res.Rejected),
		zap.Int("duplicates", res.Duplicates),
	)
	return res, nil
}

// collector accumulates points, assigning fallback IDs and resolving duplicates.
type collector struct {
	res   Result
	index map[string]int
	row   int
}

func newCollector() *collector {
	return &collector{index: make(map[string]int)}
}

// next advances the row counter; every input record counts, valid or not.
func (c *collector) next() int {
	c.row++
	return c.row
}

func (c *collector) reject() { c.res.Rejected++ }

func (c *collector) add(p geo.Point) {
	if p.ID == "" {
		p.ID = "row-" + strconv.Itoa(c.row)
	}
	if err := p.Coord.Validate(); err != nil {
		c.res.Rejected++
		return
	}
	if i, ok := c.index[p.ID]; ok {
		c.res.Duplicates++
		c.res.Points[i] = p
		return
	}
	c.index[p.ID] = len(c.res.Points)
	c.res.Points = append(c.res.Points, p)
}

func (c *collector) result() *Result {
	res := c.res
	return &res
}

// columns maps the configured column names onto header positions.
type columns struct {
	lat, lng, id, title int
	header              []string
}

func resolveColumns(header []string, opts Options) (columns, error) {
	cols := columns{lat: -1, lng: -1, id: -1, title: -1, header: header}
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case strings.ToLower(opts.LatColumn):
			cols.lat = i
		case strings.ToLower(opts.LngColumn):
			cols.lng = i
		case strings.ToLower(opts.IDColumn):
			cols.id = i
		case strings.ToLower(opts.TitleColumn):
			cols.title = i
		}
	}
	if cols.lat < 0 {
		return cols, eris.Errorf("source: missing latitude column %q", opts.LatColumn)
	}
	if cols.lng < 0 {
		return cols, eris.Errorf("source: missing longitude column %q", opts.LngColumn)
	}
	return cols, nil
}

func field(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// point decodes a tabular row. ok is false when a coordinate does not parse.
func (c columns) point(row []string) (geo.Point, bool) {
	lat, err := strconv.ParseFloat(field(row, c.lat), 64)
	if err != nil {
		return geo.Point{}, false
	}
	lng, err := strconv.ParseFloat(field(row, c.lng), 64)
	if err != nil {
		return geo.Point{}, false
	}

	attrs := make(map[string]string, len(c.header))
	for i, name := range c.header {
		if i == c.lat || i == c.lng {
			continue
		}
		if v := field(row, i); v != "" {
			attrs[strings.TrimSpace(name)] = v
		}
	}

	return geo.Point{
		ID:      field(row, c.id),
		Coord:   geo.Coordinate{Lat: lat, Lng: lng},
		Title:   field(row, c.title),
		Payload: attrs,
	}, true
}

// collectRows treats the first row as the header and decodes the rest.
func collectRows(rowCh <-chan []string, errCh <-chan error, opts Options) (*Result, error) {
	c := newCollector()
	var (
		cols    columns
		started bool
	)
	for row := range rowCh {
		if !started {
			started = true
			var err error
			if cols, err = resolveColumns(row, opts); err != nil {
				return nil, err
			}
			continue
		}
		c.next()
		p, ok := cols.point(row)
		if !ok {
			c.reject()
			continue
		}
		c.add(p)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	if !started {
		return nil, eris.New("source: input has no header row")
	}
	return c.result(), nil
}
