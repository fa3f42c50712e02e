package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geocluster/internal/engine"
	"github.com/sells-group/geocluster/internal/export"
	"github.com/sells-group/geocluster/internal/geo"
	"github.com/sells-group/geocluster/internal/planner"
)

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Cluster a point file for one viewport",
	Long:  "Loads points, runs a single viewport query through the engine, and prints the chosen clusters as GeoJSON.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		input, _ := cmd.Flags().GetString("input")
		if input == "" {
			return eris.New("cluster: --input is required")
		}

		ec, err := engineConfig(cfg)
		if err != nil {
			return eris.Wrap(err, "cluster")
		}
		if cmd.Flags().Changed("count") {
			ec.TargetCount, _ = cmd.Flags().GetInt("count")
		}
		if cmd.Flags().Changed("buffer") {
			name, _ := cmd.Flags().GetString("buffer")
			if ec.Buffer, err = geo.ParseBufferSize(name); err != nil {
				return eris.Wrap(err, "cluster")
			}
		}
		if cmd.Flags().Changed("power") {
			ec.DiscriminationPower, _ = cmd.Flags().GetFloat64("power")
		}

		var opts []engine.Option
		if bbox, _ := cmd.Flags().GetString("bbox"); bbox != "" {
			region, err := parseBBox(bbox)
			if err != nil {
				return err
			}
			opts = append(opts, engine.WithViewport(staticViewport{region: region}))
		}

		points, err := loadPoints(ctx, input)
		if err != nil {
			return eris.Wrap(err, "cluster")
		}

		e := engine.New(ec, opts...)
		e.Start(ctx)
		defer func() { _ = e.Close() }()

		if _, err := e.AddPoints(points); err != nil {
			return eris.Wrap(err, "cluster")
		}
		ev, err := waitFinished(ctx, e)
		if err != nil {
			return eris.Wrap(err, "cluster")
		}

		zap.L().Info("clustered viewport",
			zap.Int("points", len(points)),
			zap.Int("clusters", len(ev.Selection)),
			zap.Int("represented", planner.Total(ev.Selection)),
		)

		data, err := export.Selections(ev.Selection)
		if err != nil {
			return eris.Wrap(err, "cluster")
		}
		out, _ := cmd.Flags().GetString("out")
		return writeOutput(out, data)
	},
}

func init() {
	clusterCmd.Flags().String("input", "", "point file (.csv, .xlsx, .geojson, .shp)")
	clusterCmd.Flags().String("bbox", "", "viewport as minLng,minLat,maxLng,maxLat (default: full extent)")
	clusterCmd.Flags().Int("count", 0, "target cluster count (overrides cluster.target_count)")
	clusterCmd.Flags().String("buffer", "", "viewport buffer: none, small, medium, large")
	clusterCmd.Flags().Float64("power", 0, "centroid discrimination power (overrides cluster.discrimination_power)")
	clusterCmd.Flags().String("out", "", "output GeoJSON file (default stdout)")
	rootCmd.AddCommand(clusterCmd)
}
