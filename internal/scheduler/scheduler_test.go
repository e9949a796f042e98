package scheduler

import (
	"context"
	"testing"

	"github.com/MeKo-Tech/lad/internal/config"
	"github.com/MeKo-Tech/lad/internal/pipeline"
	"github.com/MeKo-Tech/lad/internal/raster"
)

func TestRunOnCancelledContextFailsEveryHeading(t *testing.T) {
	p := flatPipeline(t, 20, 20)
	s := New(p)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Run(ctx)
	if err == nil {
		t.Fatalf("expected an error when every heading is cancelled")
	}
}

func flatPipeline(t *testing.T, rows, cols int) *pipeline.Pipeline {
	t.Helper()
	cfg := config.Defaults()
	cfg.Vehicle = config.Vehicle{RobotHeight: 0.3, RobotWidth: 0.5, RobotLength: 0.6}
	cfg.Thresholds = config.Thresholds{HeightThreshold: 0.2, SlopeThreshold: 15, GroundThreshold: 0.02, ProtrusionSize: 0.3}
	cfg.Rotation = config.Rotation{RotationMin: 0, RotationMax: 90, RotationStep: 45}
	cfg.Scheduling.MaxThreads = 3

	p := pipeline.New(cfg, nil)
	raw := raster.NewValidBuffer(rows, cols, -9999)
	raw.GeoTransform = [6]float64{0, 0.1, 0, 0, 0, -0.1}
	if err := p.SeedBathymetry(raw); err != nil {
		t.Fatalf("SeedBathymetry: %v", err)
	}
	if err := p.RunTerrainIntrinsicLanes(); err != nil {
		t.Fatalf("RunTerrainIntrinsicLanes: %v", err)
	}
	return p
}

func TestHeadingsFixRotationReturnsSingleValue(t *testing.T) {
	cfg := config.Defaults()
	cfg.Rotation = config.Rotation{FixRotation: true, Rotation: 30}
	p := pipeline.New(cfg, nil)
	s := New(p)

	got := s.headings()
	if len(got) != 1 || got[0] != 30 {
		t.Fatalf("expected [30], got %v", got)
	}
}

func TestHeadingsSweepSamplesInclusiveRange(t *testing.T) {
	cfg := config.Defaults()
	cfg.Rotation = config.Rotation{RotationMin: 0, RotationMax: 90, RotationStep: 30}
	p := pipeline.New(cfg, nil)
	s := New(p)

	got := s.headings()
	want := []float64{0, 30, 60, 90}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestRunOnFlatTerrainProducesFullyLandableMap(t *testing.T) {
	p := flatPipeline(t, 20, 20)
	s := New(p)

	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Errors) != 0 {
		t.Fatalf("expected no per-rotation errors, got %v", res.Errors)
	}
	if res.M3Final == nil || res.M4Final == nil {
		t.Fatalf("expected non-nil M3/M4 final rasters")
	}

	for i, v := range res.M3Final.Mask {
		if v == raster.MaskInvalid {
			continue
		}
		if res.M3Final.Data[i] == 0 {
			t.Fatalf("flat terrain should be landable everywhere, cell %d is excluded", i)
		}
	}
}

func TestRunFixRotationBypassesBlend(t *testing.T) {
	p := flatPipeline(t, 20, 20)
	p.Config.Rotation.FixRotation = true
	p.Config.Rotation.Rotation = 0
	s := New(p)

	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.PerRotation) != 1 {
		t.Fatalf("expected exactly one rotation result, got %d", len(res.PerRotation))
	}
}

// stepPipeline builds a 32x32 grid split into a -10.0m left half and a
// -9.0m right half, exercising the single-step scenario.
func stepPipeline(t *testing.T, threads int) *pipeline.Pipeline {
	t.Helper()
	cfg := config.Defaults()
	cfg.Vehicle = config.Vehicle{RobotHeight: 0.3, RobotWidth: 0.5, RobotLength: 0.6}
	cfg.Thresholds = config.Thresholds{HeightThreshold: 0.5, SlopeThreshold: 15, GroundThreshold: 0.02, ProtrusionSize: 0.3}
	cfg.Rotation = config.Rotation{RotationMin: 0, RotationMax: 90, RotationStep: 30}
	cfg.Scheduling.MaxThreads = threads

	p := pipeline.New(cfg, nil)
	raw := raster.NewValidBuffer(32, 32, -9999)
	raw.GeoTransform = [6]float64{0, 1, 0, 0, 0, -1}
	for r := 0; r < 32; r++ {
		for c := 0; c < 32; c++ {
			if c < 16 {
				raw.Set(r, c, -10.0)
			} else {
				raw.Set(r, c, -9.0)
			}
		}
	}
	if err := p.SeedBathymetry(raw); err != nil {
		t.Fatalf("SeedBathymetry: %v", err)
	}
	if err := p.RunTerrainIntrinsicLanes(); err != nil {
		t.Fatalf("RunTerrainIntrinsicLanes: %v", err)
	}
	return p
}

func TestRunRotationSweepIsDeterministicAcrossThreadCounts(t *testing.T) {
	res1, err := New(stepPipeline(t, 1)).Run(context.Background())
	if err != nil {
		t.Fatalf("Run (threads=1): %v", err)
	}
	res4, err := New(stepPipeline(t, 4)).Run(context.Background())
	if err != nil {
		t.Fatalf("Run (threads=4): %v", err)
	}

	if len(res1.M3Final.Data) != len(res4.M3Final.Data) {
		t.Fatalf("mismatched M3 lengths: %d vs %d", len(res1.M3Final.Data), len(res4.M3Final.Data))
	}
	for i := range res1.M3Final.Data {
		if res1.M3Final.Data[i] != res4.M3Final.Data[i] {
			t.Fatalf("M3_final differs at cell %d: %v (threads=1) vs %v (threads=4)", i, res1.M3Final.Data[i], res4.M3Final.Data[i])
		}
		if res1.M3Final.Mask[i] != res4.M3Final.Mask[i] {
			t.Fatalf("M3_final mask differs at cell %d", i)
		}
	}
}
