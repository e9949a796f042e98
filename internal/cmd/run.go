package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/lad/internal/config"
	"github.com/MeKo-Tech/lad/internal/errs"
	"github.com/MeKo-Tech/lad/internal/geotiff"
	"github.com/MeKo-Tech/lad/internal/layercache"
	"github.com/MeKo-Tech/lad/internal/ops"
	"github.com/MeKo-Tech/lad/internal/pipeline"
	"github.com/MeKo-Tech/lad/internal/scheduler"
	"github.com/MeKo-Tech/lad/internal/vectorio"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full landing-area detection pipeline against a bathymetry raster",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().String("input", "", "path to the input bathymetry GeoTIFF (required)")
	runCmd.Flags().String("output-dir", "./output", "directory for output rasters and caches")

	if err := viper.BindPFlag("input", runCmd.Flags().Lookup("input")); err != nil {
		panic(fmt.Sprintf("failed to bind flag: %v", err))
	}
	if err := viper.BindPFlag("output_dir", runCmd.Flags().Lookup("output-dir")); err != nil {
		panic(fmt.Sprintf("failed to bind flag: %v", err))
	}

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return errs.Wrap(errs.KindWrongArgument, err, "loading configuration")
	}
	if cfg.InputPath == "" {
		return errs.New(errs.KindMissingArgument, "missing required --input flag")
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return errs.Wrap(errs.KindWrongArgument, err, "creating output directory %s", cfg.OutputDir)
	}

	raw, err := geotiff.ReadRaster(cfg.InputPath)
	if err != nil {
		return err
	}

	p := pipeline.New(cfg, logger)
	if err := p.SeedBathymetry(raw); err != nil {
		return err
	}
	if err := p.RunTerrainIntrinsicLanes(); err != nil {
		return err
	}

	progress := scheduler.NewProgress(0, cfg.Scheduling.Verbosity > 0)
	sched := scheduler.New(p)
	sched.OnProgress = progress.Callback()

	res, err := sched.Run(context.Background())
	if err != nil {
		return err
	}
	progress.Done()

	if len(res.Errors) > 0 {
		p.Log().Warn("rotation sweep completed with partial failures", "failed_headings", len(res.Errors))
	}

	if err := geotiff.WriteRaster(filepath.Join(cfg.OutputDir, "M3_final.tif"), res.M3Final, geotiff.WriteOptions{Projection: p.ProjectionTemplate}); err != nil {
		return err
	}
	if err := geotiff.WriteRaster(filepath.Join(cfg.OutputDir, "M4_final.tif"), res.M4Final, geotiff.WriteOptions{Projection: p.ProjectionTemplate}); err != nil {
		return err
	}

	if contour, err := ops.ExtractContours(res.M3Final); err == nil {
		if err := vectorio.WritePolylineCSV(filepath.Join(cfg.OutputDir, "M3_final_contour.csv"), contour); err != nil {
			return err
		}
	} else if !isContoursNotFound(err) {
		return err
	}

	if cfg.Scheduling.ExportIntermediate || cfg.Scheduling.ExportRotated {
		if err := exportLayerCache(&cfg, p, res); err != nil {
			return err
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", cfg.OutputDir)
	return nil
}

func isContoursNotFound(err error) bool {
	e, ok := errs.As(err)
	return ok && e.Kind == errs.KindContoursNotFound
}

func exportLayerCache(cfg *config.Config, p *pipeline.Pipeline, res *scheduler.Result) error {
	cachePath := filepath.Join(cfg.OutputDir, "layers.sqlite")
	w, err := layercache.New(cachePath, layercache.RunMetadata{
		InputPath:    cfg.InputPath,
		Rows:         res.M3Final.Rows,
		Cols:         res.M3Final.Cols,
		GeoTransform: p.GeoTransformTemplate,
		Projection:   p.ProjectionTemplate,
	})
	if err != nil {
		return err
	}
	defer w.Close()

	if cfg.Scheduling.ExportIntermediate {
		for _, name := range []string{
			pipeline.LayerRawBathymetry, pipeline.LayerValidMask,
			pipeline.LayerA1DetailSlope, pipeline.LayerA2HiSlopeExcl,
			pipeline.LayerB0FiltBathy, pipeline.LayerB1Height,
			pipeline.LayerM2Protrusions,
		} {
			buf, err := p.Store.GetRaster(name)
			if err != nil {
				continue
			}
			if err := w.WriteLayer(name, 0, buf); err != nil {
				return err
			}
		}
	}

	if cfg.Scheduling.ExportRotated {
		for heading, rr := range res.PerRotation {
			if err := w.WriteLayer("M3_LandabilityMap", heading, rr.M3); err != nil {
				return err
			}
			if err := w.WriteLayer("M4_FinalMeasurability", heading, rr.M4); err != nil {
				return err
			}
		}
	}

	return w.Flush()
}
