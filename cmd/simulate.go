package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/geocluster/internal/engine"
	"github.com/sells-group/geocluster/internal/export"
	"github.com/sells-group/geocluster/internal/geo"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Replay a zoom toward the centre of a point file",
	Long:  "Loads points, then shrinks the viewport toward the centre of their extent at a fixed rate, logging the transition produced by each step.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		input, _ := cmd.Flags().GetString("input")
		steps, _ := cmd.Flags().GetInt("steps")
		zoom, _ := cmd.Flags().GetFloat64("zoom")
		perSecond, _ := cmd.Flags().GetFloat64("rate")
		outDir, _ := cmd.Flags().GetString("out")

		if input == "" {
			return eris.New("simulate: --input is required")
		}
		if steps < 1 {
			return eris.New("simulate: --steps must be >= 1")
		}
		if zoom <= 0 || zoom > 1 {
			return eris.New("simulate: --zoom must be in (0, 1]")
		}
		if perSecond <= 0 {
			return eris.New("simulate: --rate must be > 0")
		}
		if outDir != "" {
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return eris.Wrapf(err, "simulate: create %s", outDir)
			}
		}

		ec, err := engineConfig(cfg)
		if err != nil {
			return eris.Wrap(err, "simulate")
		}
		points, err := loadPoints(ctx, input)
		if err != nil {
			return eris.Wrap(err, "simulate")
		}

		extent := geo.PointRegion(points[0].Coord)
		for _, p := range points[1:] {
			extent = extent.Extend(p.Coord.Orb())
		}

		e := engine.New(ec)
		e.Start(ctx)
		defer func() { _ = e.Close() }()

		if _, err := e.AddPoints(points); err != nil {
			return eris.Wrap(err, "simulate")
		}
		if _, err := waitFinished(ctx, e); err != nil {
			return eris.Wrap(err, "simulate")
		}

		rec := &transitionLog{outDir: outDir, done: make(chan struct{})}
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return rec.consume(gctx, e) })

		limiter := rate.NewLimiter(rate.Limit(perSecond), 1)
		region := extent
		for i := 1; i <= steps; i++ {
			if err := limiter.Wait(ctx); err != nil {
				return eris.Wrap(err, "simulate: rate limit")
			}
			region = zoomRegion(region, zoom)
			if i == steps {
				rec.expect(region)
			}
			zap.L().Debug("simulate: viewport", zap.Int("step", i), zap.Float64("span", geo.Span(region)))
			e.SetViewport(region)
		}

		select {
		case <-rec.done:
		case <-ctx.Done():
		}
		stop()
		if err := g.Wait(); err != nil && !eris.Is(err, context.Canceled) {
			return err
		}

		fmt.Printf("simulated %d steps over %d points: %d transitions published, %d superseded\n",
			steps, len(points), rec.published, e.Stats().Cancelled)
		return nil
	},
}

// zoomRegion shrinks r around its centre by factor.
func zoomRegion(r geo.Region, factor float64) geo.Region {
	c := r.Center()
	hw := (r.Max[0] - r.Min[0]) * factor / 2
	hh := (r.Max[1] - r.Min[1]) * factor / 2
	return geo.Region{
		Min: orb.Point{c[0] - hw, c[1] - hh},
		Max: orb.Point{c[0] + hw, c[1] + hh},
	}
}

// transitionLog logs every published transition and signals once the
// expected final region has been published.
type transitionLog struct {
	outDir string
	done   chan struct{}

	mu        sync.Mutex
	final     geo.Region
	hasFinal  bool
	closed    bool
	published int
}

func (l *transitionLog) expect(r geo.Region) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.final, l.hasFinal = r, true
}

func (l *transitionLog) consume(ctx context.Context, e *engine.Engine) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-e.Events():
			if ev.Type != engine.EventClusteringFinished {
				continue
			}
			if err := l.record(ev); err != nil {
				return err
			}
			released := e.AnimationFinished()
			zap.L().Info("transition",
				zap.Uint64("generation", ev.Generation),
				zap.Int("continuing", len(ev.Transition.Continuing)),
				zap.Int("appearing", len(ev.Transition.Appearing)),
				zap.Int("disappearing", len(ev.Transition.Disappearing)),
				zap.Int("released", released),
			)
		}
	}
}

func (l *transitionLog) record(ev engine.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.published++

	if l.outDir != "" {
		data, err := export.Transition(ev.Transition)
		if err != nil {
			return err
		}
		path := filepath.Join(l.outDir, fmt.Sprintf("transition-%04d.geojson", ev.Generation))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return eris.Wrapf(err, "simulate: write %s", path)
		}
	}

	if l.hasFinal && !l.closed && ev.Region == l.final {
		l.closed = true
		close(l.done)
	}
	return nil
}

func init() {
	simulateCmd.Flags().String("input", "", "point file (.csv, .xlsx, .geojson, .shp)")
	simulateCmd.Flags().Int("steps", 10, "number of zoom steps")
	simulateCmd.Flags().Float64("zoom", 0.5, "span factor applied per step")
	simulateCmd.Flags().Float64("rate", 4, "zoom steps per second")
	simulateCmd.Flags().String("out", "", "directory receiving one GeoJSON file per transition")
	rootCmd.AddCommand(simulateCmd)
}
