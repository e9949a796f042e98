package pipeline

import (
	"testing"

	"github.com/MeKo-Tech/lad/internal/config"
	"github.com/MeKo-Tech/lad/internal/raster"
)

func newTestPipeline(t *testing.T, rotationMax, rotationStep float64) *Pipeline {
	t.Helper()
	cfg := config.Defaults()
	cfg.Vehicle = config.Vehicle{RobotHeight: 0.3, RobotWidth: 0.5, RobotLength: 0.6}
	cfg.Thresholds = config.Thresholds{HeightThreshold: 0.5, SlopeThreshold: 15, GroundThreshold: 0.02, ProtrusionSize: 0.3}
	cfg.Rotation = config.Rotation{RotationMin: 0, RotationMax: rotationMax, RotationStep: rotationStep}
	return New(cfg, nil)
}

func TestFlatTerrainM4EqualsX1(t *testing.T) {
	p := newTestPipeline(t, 0, 0)
	raw := raster.NewValidBuffer(20, 20, -9999)
	raw.GeoTransform = [6]float64{0, 1, 0, 0, 0, -1}
	for i := range raw.Data {
		raw.Data[i] = -10.0
	}
	if err := p.SeedBathymetry(raw); err != nil {
		t.Fatalf("SeedBathymetry: %v", err)
	}
	if err := p.RunTerrainIntrinsicLanes(); err != nil {
		t.Fatalf("RunTerrainIntrinsicLanes: %v", err)
	}

	res, err := p.RunRotationLanes(0)
	if err != nil {
		t.Fatalf("RunRotationLanes: %v", err)
	}

	x1, err := p.Store.GetRaster("X1_MeasurabilityMap" + RotationSuffix(0))
	if err != nil {
		t.Fatalf("GetRaster(X1): %v", err)
	}

	for i := range res.M4.Data {
		if res.M4.Mask[i] == raster.MaskInvalid {
			continue
		}
		if res.M4.Data[i] != x1.Data[i] {
			t.Fatalf("M4 must equal X1 on fully landable terrain: cell %d M4=%v X1=%v", i, res.M4.Data[i], x1.Data[i])
		}
	}
}

func TestSingleStepMarksBandAroundEdgeUnlandable(t *testing.T) {
	p := newTestPipeline(t, 0, 0)
	raw := raster.NewValidBuffer(64, 64, -9999)
	// 0.1 m pixels, so the 0.5 x 0.6 m footprint kernel spans 5 x 6 cells
	// and the windowed slope has enough points to be defined.
	raw.GeoTransform = [6]float64{0, 0.1, 0, 0, 0, -0.1}
	for r := 0; r < 64; r++ {
		for c := 0; c < 64; c++ {
			if c < 32 {
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

	res, err := p.RunRotationLanes(0)
	if err != nil {
		t.Fatalf("RunRotationLanes: %v", err)
	}

	// Far from the step, terrain is flat and landable; right at the step
	// edge it must be excluded.
	if v := res.M3.At(32, 4); v == 0 {
		t.Fatalf("expected landable far from the step, got 0 at (32,4)")
	}
	if v := res.M3.At(32, 32); v != 0 {
		t.Fatalf("expected unlandable at the step edge, got %v at (32,32)", v)
	}
}

func TestNoDataIslandPropagatesThroughHeightAndLandability(t *testing.T) {
	p := newTestPipeline(t, 0, 0)
	raw := raster.NewValidBuffer(32, 32, -9999)
	raw.GeoTransform = [6]float64{0, 1, 0, 0, 0, -1}
	for r := 0; r < 32; r++ {
		for c := 0; c < 32; c++ {
			raw.Set(r, c, -10.0)
		}
	}
	for r := 14; r < 18; r++ {
		for c := 14; c < 18; c++ {
			raw.SetInvalid(r, c)
		}
	}
	if err := p.SeedBathymetry(raw); err != nil {
		t.Fatalf("SeedBathymetry: %v", err)
	}
	if err := p.RunTerrainIntrinsicLanes(); err != nil {
		t.Fatalf("RunTerrainIntrinsicLanes: %v", err)
	}

	b1, err := p.Store.GetRaster(LayerB1Height)
	if err != nil {
		t.Fatalf("GetRaster(B1): %v", err)
	}
	if b1.Valid(15, 15) {
		t.Fatalf("expected B1 to stay NoData inside the island")
	}

	res, err := p.RunRotationLanes(0)
	if err != nil {
		t.Fatalf("RunRotationLanes: %v", err)
	}
	if res.M3.Valid(15, 15) {
		t.Fatalf("expected M3 to remain NoData at the centre of the island")
	}
}
