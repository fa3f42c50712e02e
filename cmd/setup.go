package main

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geocluster/internal/config"
	"github.com/sells-group/geocluster/internal/engine"
	"github.com/sells-group/geocluster/internal/geo"
	"github.com/sells-group/geocluster/internal/label"
	"github.com/sells-group/geocluster/internal/source"
)

// engineConfig maps the loaded configuration onto the engine's settings.
func engineConfig(c *config.Config) (engine.Config, error) {
	buffer, err := geo.ParseBufferSize(c.Cluster.Buffer)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		TargetCount:         c.Cluster.TargetCount,
		Buffer:              buffer,
		DiscriminationPower: c.Cluster.DiscriminationPower,
		MinRegionSpan:       c.Cluster.MinRegionSpan,
		AppearanceAnimated:  c.Cluster.AppearanceAnimated,
		Policy: engine.RebuildPolicy{
			Threshold:      c.Index.RebuildThreshold,
			MaxDepthFactor: c.Index.MaxDepthFactor,
		},
		Workers:     c.Engine.Workers,
		EventBuffer: c.Engine.EventBuffer,
		Labels: label.Options{
			Title:        c.Cluster.Title,
			Locale:       c.Cluster.Locale,
			ShowSubtitle: c.Cluster.ShowSubtitle,
			MaxTitles:    c.Cluster.SubtitleMaxTitles,
		},
		Animation: engine.AnimationOptions{
			Duration:       time.Duration(c.Animation.DurationMs) * time.Millisecond,
			SpringDamping:  c.Animation.SpringDamping,
			SpringVelocity: c.Animation.SpringVelocity,
		},
	}, nil
}

func sourceOptions(c *config.Config) source.Options {
	return source.Options{
		LatColumn:   c.Source.LatColumn,
		LngColumn:   c.Source.LngColumn,
		IDColumn:    c.Source.IDColumn,
		TitleColumn: c.Source.TitleColumn,
		Sheet:       c.Source.Sheet,
	}
}

// parseBBox parses "minLng,minLat,maxLng,maxLat".
func parseBBox(s string) (geo.Region, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return geo.Region{}, eris.Errorf("bbox: want minLng,minLat,maxLng,maxLat, got %q", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return geo.Region{}, eris.Wrapf(err, "bbox: parse %q", p)
		}
		v[i] = f
	}
	for _, c := range []geo.Coordinate{{Lat: v[1], Lng: v[0]}, {Lat: v[3], Lng: v[2]}} {
		if err := c.Validate(); err != nil {
			return geo.Region{}, eris.Wrapf(err, "bbox %q", s)
		}
	}
	if v[0] > v[2] || v[1] > v[3] {
		return geo.Region{}, eris.Errorf("bbox: min corner must not exceed max corner in %q", s)
	}
	return geo.NewRegion(v[0], v[1], v[2], v[3]), nil
}

func loadPoints(ctx context.Context, path string) ([]geo.Point, error) {
	res, err := source.Load(ctx, path, sourceOptions(cfg))
	if err != nil {
		return nil, err
	}
	if len(res.Points) == 0 {
		return nil, eris.Errorf("no valid points in %s", path)
	}
	return res.Points, nil
}

// waitFinished blocks until the engine publishes a transition.
func waitFinished(ctx context.Context, e *engine.Engine) (engine.Event, error) {
	for {
		select {
		case <-ctx.Done():
			return engine.Event{}, eris.Wrap(ctx.Err(), "wait for clustering")
		case ev := <-e.Events():
			zap.L().Debug("engine event", zap.Stringer("type", ev.Type), zap.Uint64("generation", ev.Generation))
			if ev.Type == engine.EventClusteringFinished {
				return ev, nil
			}
		}
	}
}

// writeOutput writes data to path, or to stdout when path is empty or "-".
func writeOutput(path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := os.Stdout.Write(append(data, '\n'))
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "write %s", path)
	}
	return nil
}

// staticViewport reports a fixed region, so the first query after loading
// already targets it.
type staticViewport struct{ region geo.Region }

func (v staticViewport) VisibleRegion() geo.Region { return v.region }
