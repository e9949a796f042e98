// Package pipeline wires the layer store and operator library into the
// named lane compositions (A, B, C, D, X) that the rotation scheduler
// replays across headings.
package pipeline

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/MeKo-Tech/lad/internal/config"
	"github.com/MeKo-Tech/lad/internal/errs"
	"github.com/MeKo-Tech/lad/internal/kernel"
	"github.com/MeKo-Tech/lad/internal/layer"
	"github.com/MeKo-Tech/lad/internal/ops"
	"github.com/MeKo-Tech/lad/internal/raster"
)

// Fixed layer names for the rotation-independent stages, per the naming
// convention in the external-interfaces design.
const (
	LayerRawBathymetry = "M1_RAW_Bathymetry"
	LayerValidMask     = "M1_VALID_DataMask"
	LayerKernelSlope   = "KernelSlope"
	LayerKernelDiag    = "KernelDiag"
	LayerA1DetailSlope = "A1_DetailedSlope"
	LayerA2HiSlopeExcl = "A2_HiSlopeExcl"
	LayerB0FiltBathy   = "B0_FILT_Bathymetry"
	LayerB1Height      = "B1_HEIGHT_Bathymetry"
	LayerM2Protrusions = "M2_Protrusions"
)

// RotationSuffix formats a heading in degrees into the "_rNNN" layer-name
// suffix convention (zero-padded to three characters).
func RotationSuffix(thetaDeg float64) string {
	return fmt.Sprintf("_r%03d", int(math.Round(thetaDeg)))
}

// Pipeline is the named-layer store plus the process-wide geo-transform
// and projection template, verbosity, and the NoData-mask policy flag.
type Pipeline struct {
	Store *layer.Store

	GeoTransformTemplate [6]float64
	ProjectionTemplate   string
	Verbosity            int
	UseNodataMask        bool

	Config config.Config
	Logger *slog.Logger

	// ExclusionSize is the pluggable exclusion-size curve used by the
	// low-protrusion lane; nil means ops.DefaultExclusionSize.
	ExclusionSize ops.ExclusionSizeFunc
}

// New builds an empty Pipeline from cfg. A nil logger falls back to
// slog.Default() the way the teacher's generator does (see log()).
func New(cfg config.Config, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		Store:         layer.NewStore(),
		UseNodataMask: cfg.Map.UseNodataMask,
		Verbosity:     cfg.Scheduling.Verbosity,
		Config:        cfg,
		Logger:        logger,
	}
}

func (p *Pipeline) log() *slog.Logger {
	return p.Log()
}

// Log returns the pipeline's logger, falling back to slog.Default() the
// way the teacher's generator does.
func (p *Pipeline) Log() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// SeedBathymetry installs raw as M1_RAW_Bathymetry and derives
// M1_VALID_DataMask from its validity mask, and records its
// geo-transform/projection as the pipeline's template.
func (p *Pipeline) SeedBathymetry(raw *raster.Buffer) error {
	p.GeoTransformTemplate = raw.GeoTransform
	p.ProjectionTemplate = raw.Projection

	if err := p.Store.Upload(LayerRawBathymetry, layer.KindRaster, raw); err != nil {
		return err
	}

	validMask := raster.NewValidBuffer(raw.Rows, raw.Cols, raw.Nodata)
	validMask.CopyGeoProperties(raw)
	for i, m := range raw.Mask {
		if m != raster.MaskInvalid {
			validMask.Data[i] = 255
		}
	}
	return p.Store.Upload(LayerValidMask, layer.KindRaster, validMask)
}

// PixelSize returns the absolute pixel width/height of the pipeline's
// geo-transform template.
func (p *Pipeline) PixelSize() (sx, sy float64) {
	return math.Abs(p.GeoTransformTemplate[1]), math.Abs(p.GeoTransformTemplate[5])
}

// BuildKernels constructs KernelSlope (a small elliptical kernel, ~0.1 m
// across) and KernelDiag (a circular kernel whose diameter equals the
// robot's body diagonal), both rotation-independent.
func (p *Pipeline) BuildKernels() error {
	sx, sy := p.PixelSize()

	slopeKernel, err := kernel.NewTemplate(0.1, 0.1, sx, sy, kernel.ShapeEllipse)
	if err != nil {
		return err
	}
	slopeKernel.SetRotation(0)
	if err := p.Store.Upload(LayerKernelSlope, layer.KindKernel, slopeKernel); err != nil {
		return err
	}

	w, l := p.Config.Vehicle.RobotWidth, p.Config.Vehicle.RobotLength
	diagM := math.Hypot(w, l)
	diagKernel, err := kernel.NewTemplate(diagM, diagM, sx, sy, kernel.ShapeEllipse)
	if err != nil {
		return err
	}
	diagKernel.SetRotation(0)
	return p.Store.Upload(LayerKernelDiag, layer.KindKernel, diagKernel)
}

// KernelAUV constructs the rectangular vehicle-footprint kernel rotated
// to heading thetaDeg, per the rotation scheduler's contract.
func (p *Pipeline) KernelAUV(thetaDeg float64) (*kernel.Kernel, error) {
	sx, sy := p.PixelSize()
	k, err := kernel.NewTemplate(p.Config.Vehicle.RobotWidth, p.Config.Vehicle.RobotLength, sx, sy, kernel.ShapeRect)
	if err != nil {
		return nil, err
	}
	k.SetRotation(thetaDeg)
	return k, nil
}

// RunLaneA computes the detailed-slope lane: A1_DetailedSlope and
// A2_HiSlopeExcl.
func (p *Pipeline) RunLaneA() error {
	raw, err := p.Store.GetRaster(LayerRawBathymetry)
	if err != nil {
		return err
	}
	validMask, err := p.Store.GetRaster(LayerValidMask)
	if err != nil {
		return err
	}
	slopeKernel, err := p.Store.GetKernel(LayerKernelSlope)
	if err != nil {
		return err
	}
	sx, sy := p.PixelSize()

	a1 := ops.ApplyWindowFilter(raw, slopeKernel, validMask, sx, sy, ops.FilterSlope)
	if err := p.Store.Upload(LayerA1DetailSlope, layer.KindRaster, a1); err != nil {
		return err
	}

	a2 := ops.CompareLayer(a1, p.Config.Thresholds.SlopeThreshold, ops.OpGreater)
	return p.Store.Upload(LayerA2HiSlopeExcl, layer.KindRaster, a2)
}

// RunLaneB computes the filtered-depth/height lane: B0_FILT_Bathymetry
// and B1_HEIGHT_Bathymetry.
func (p *Pipeline) RunLaneB() error {
	raw, err := p.Store.GetRaster(LayerRawBathymetry)
	if err != nil {
		return err
	}
	validMask, err := p.Store.GetRaster(LayerValidMask)
	if err != nil {
		return err
	}
	diagKernel, err := p.Store.GetKernel(LayerKernelDiag)
	if err != nil {
		return err
	}
	sx, sy := p.PixelSize()

	// A circular kernel's low-pass is the generic windowed mean restricted
	// to the kernel's disk, not a square box-mean (see apply_window_filter,
	// kind=mean).
	b0 := ops.ApplyWindowFilter(raw, diagKernel, validMask, sx, sy, ops.FilterMean)
	if err := p.Store.Upload(LayerB0FiltBathy, layer.KindRaster, b0); err != nil {
		return err
	}

	b1 := ops.ComputeHeight(raw, b0)
	if err := p.Store.Upload(LayerB1Height, layer.KindRaster, b1); err != nil {
		return err
	}
	return nil
}

// RunProtrusions computes M2_Protrusions = mask_layer(B1_HEIGHT_Bathymetry,
// A2_HiSlopeExcl). Must run after RunLaneA and RunLaneB.
func (p *Pipeline) RunProtrusions() error {
	b1, err := p.Store.GetRaster(LayerB1Height)
	if err != nil {
		return err
	}
	a2, err := p.Store.GetRaster(LayerA2HiSlopeExcl)
	if err != nil {
		return err
	}
	m2 := ops.MaskLayer(b1, a2)
	return p.Store.Upload(LayerM2Protrusions, layer.KindRaster, m2)
}

// RunTerrainIntrinsicLanes runs lanes A and B, then derives
// M2_Protrusions, exactly once before the rotation sweep begins.
func (p *Pipeline) RunTerrainIntrinsicLanes() error {
	if err := p.BuildKernels(); err != nil {
		return errs.Wrap(errs.KindWrongArgument, err, "building rotation-independent kernels")
	}
	if err := p.RunLaneA(); err != nil {
		return err
	}
	if err := p.RunLaneB(); err != nil {
		return err
	}
	return p.RunProtrusions()
}
