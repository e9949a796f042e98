package pipeline

import (
	"sync"

	"github.com/MeKo-Tech/lad/internal/kernel"
	"github.com/MeKo-Tech/lad/internal/layer"
	"github.com/MeKo-Tech/lad/internal/ops"
	"github.com/MeKo-Tech/lad/internal/raster"
)

// defaultProtrusionBands is the number of elevation bands N the
// low-protrusion lane partitions [ground_threshold, height_threshold]
// into (§4.6, lane D, step 3).
const defaultProtrusionBands = 5

// RotationResult holds the per-heading landability and measurability
// rasters produced by RunRotationLanes.
type RotationResult struct {
	ThetaDeg float64
	M3       *raster.Buffer // landability, 0/255
	M4       *raster.Buffer // measurability, [0,1]
}

// RunRotationLanes constructs KernelAUV_theta and runs lanes C, D, X for
// the given heading, composing M3_theta and M4_theta. C, D, and X are
// independent of each other and run concurrently; all three must
// complete before M3 is composed, and X must complete before M4 is
// composed.
func (p *Pipeline) RunRotationLanes(thetaDeg float64) (*RotationResult, error) {
	suffix := RotationSuffix(thetaDeg)

	kernAUV, err := p.KernelAUV(thetaDeg)
	if err != nil {
		return nil, err
	}
	if err := p.Store.Upload("KernelAUV"+suffix, layer.KindKernel, kernAUV); err != nil {
		return nil, err
	}

	raw, err := p.Store.GetRaster(LayerRawBathymetry)
	if err != nil {
		return nil, err
	}
	validMask, err := p.Store.GetRaster(LayerValidMask)
	if err != nil {
		return nil, err
	}
	m2, err := p.Store.GetRaster(LayerM2Protrusions)
	if err != nil {
		return nil, err
	}
	sx, sy := p.PixelSize()

	var (
		wg               sync.WaitGroup
		c1, c3           *raster.Buffer
		d2, d4           *raster.Buffer
		x1               *raster.Buffer
		cErr, dErr, xErr error
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		c1, c3, cErr = p.runLaneC(raw, validMask, kernAUV, sx, sy)
	}()
	go func() {
		defer wg.Done()
		d2, d4, dErr = p.runLaneD(m2, kernAUV, sx)
	}()
	go func() {
		defer wg.Done()
		x1, xErr = p.runLaneX(raw, validMask, kernAUV, sx, sy)
	}()
	wg.Wait()

	for _, err := range []error{cErr, dErr, xErr} {
		if err != nil {
			return nil, err
		}
	}

	if err := p.storeRotationLayer("C1_ExclusionMap"+suffix, c1); err != nil {
		return nil, err
	}
	if err := p.storeRotationLayer("D2_LoProtExcl"+suffix, d2); err != nil {
		return nil, err
	}
	if err := p.storeRotationLayer("D4_HiProtExcl"+suffix, d4); err != nil {
		return nil, err
	}
	if err := p.storeRotationLayer("X1_MeasurabilityMap"+suffix, x1); err != nil {
		return nil, err
	}

	notC3 := ops.LogicalNot(c3)
	notD2 := ops.LogicalNot(d2)
	notD4 := ops.LogicalNot(d4)
	m3 := ops.LogicalAnd(ops.LogicalAnd(notC3, notD2), notD4)
	m3 = ops.MaskLayer(m3, c1)
	if err := p.storeRotationLayer("M3_LandabilityMap"+suffix, m3); err != nil {
		return nil, err
	}

	// m3 is a 0/255 landability gate, not a 0/1 scale factor, so gate
	// through its binary form rather than multiplying by it directly.
	m4 := ops.ElementwiseMultiply(x1, toBinaryRaster(m3))
	if err := p.storeRotationLayer("M4_FinalMeasurability"+suffix, m4); err != nil {
		return nil, err
	}

	return &RotationResult{ThetaDeg: thetaDeg, M3: m3, M4: m4}, nil
}

func (p *Pipeline) storeRotationLayer(name string, buf *raster.Buffer) error {
	return p.Store.Upload(name, layer.KindRaster, buf)
}

// runLaneC computes C1_ExclusionMap_theta and C2/C3 (mean-slope exclusion
// under the footprint).
func (p *Pipeline) runLaneC(raw, validMask *raster.Buffer, kernAUV *kernel.Kernel, sx, sy float64) (c1, c3 *raster.Buffer, err error) {
	c1 = ops.ComputeExclusionMap(validMask, kernAUV)
	c2 := ops.ApplyWindowFilter(raw, kernAUV, validMask, sx, sy, ops.FilterSlope)
	c3 = ops.CompareLayer(c2, p.Config.Thresholds.SlopeThreshold, ops.OpGreater)
	return c1, c3, nil
}

// runLaneD computes the low- and high-protrusion exclusion rasters.
func (p *Pipeline) runLaneD(m2 *raster.Buffer, kernAUV *kernel.Kernel, sx float64) (d2, d4 *raster.Buffer, err error) {
	heightThreshold := p.Config.Thresholds.HeightThreshold
	groundThreshold := p.Config.Thresholds.GroundThreshold

	m2Buf := m2
	d3 := ops.CompareLayer(m2Buf, heightThreshold, ops.OpGreaterEqual)

	tmpLo := ops.CompareLayer(m2Buf, heightThreshold, ops.OpLess)
	tmpGr := ops.CompareLayer(m2Buf, groundThreshold, ops.OpGreaterEqual)
	d1Mask := ops.LogicalAnd(tmpLo, tmpGr)
	d1Elev := ops.MaskLayer(m2Buf, d1Mask)

	d2 = p.lowProtrusionExclusion(d1Elev, groundThreshold, heightThreshold, sx)
	d4 = ops.DilateKernelRaster(d3, kernAUV)
	return d2, d4, nil
}

// runLaneX computes the measurability map.
func (p *Pipeline) runLaneX(raw, validMask *raster.Buffer, kernAUV *kernel.Kernel, sx, sy float64) (*raster.Buffer, error) {
	return ops.ComputeMeasurabilityMap(raw, kernAUV, validMask, sx, sy), nil
}

// lowProtrusionExclusion partitions [ground, height] into
// defaultProtrusionBands bands, computing each band's exclusive shell,
// opening it (to drop small clusters) and dilating it (scale-aware via
// the exclusion-size curve), then unions every shell.
func (p *Pipeline) lowProtrusionExclusion(elev *raster.Buffer, ground, height, sx float64) *raster.Buffer {
	n := defaultProtrusionBands
	bandThreshold := func(i int) float64 {
		return ground + float64(i+1)*(height-ground)/float64(n)
	}

	layers := make([]*raster.Buffer, n)
	for i := 0; i < n; i++ {
		layers[i] = ops.CompareLayer(elev, bandThreshold(i), ops.OpGreaterEqual)
	}

	union := raster.NewValidBuffer(elev.Rows, elev.Cols, elev.Nodata)
	union.CopyGeoProperties(elev)

	exclusionSize := p.ExclusionSize
	if exclusionSize == nil {
		exclusionSize = ops.DefaultExclusionSize
	}

	for i := 0; i < n; i++ {
		var next *raster.Buffer
		if i+1 < n {
			next = layers[i+1]
		} else {
			next = raster.NewValidBuffer(elev.Rows, elev.Cols, elev.Nodata)
			next.CopyGeoProperties(elev)
		}
		shell := ops.Subtract(layers[i], next)

		openDiameterPx := p.Config.Thresholds.ProtrusionSize / sx
		shellBin := toBinary(shell)
		opened := ops.OpenDisk(shellBin, shell.Rows, shell.Cols, openDiameterPx)

		dilateDiameterPx := exclusionSize(2*bandThreshold(i)) / sx
		dilated := ops.DilateDisk(opened, shell.Rows, shell.Cols, dilateDiameterPx)

		for idx, v := range dilated {
			if v != 0 {
				union.Data[idx] = 255
			}
		}
	}
	return union
}

func toBinary(buf *raster.Buffer) []uint8 {
	out := make([]uint8, len(buf.Data))
	for i, v := range buf.Data {
		if buf.Mask[i] != raster.MaskInvalid && v != 0 {
			out[i] = 1
		}
	}
	return out
}

// toBinaryRaster rescales a 0/255 raster to a 0/1 gate, preserving its
// mask, so it can be used as a multiplicative pass-through factor
// instead of scaling a product by 255.
func toBinaryRaster(buf *raster.Buffer) *raster.Buffer {
	out := raster.NewBuffer(buf.Rows, buf.Cols, buf.Nodata)
	out.CopyGeoProperties(buf)
	for i, v := range buf.Data {
		if buf.Mask[i] == raster.MaskInvalid {
			out.Data[i] = out.Nodata
			out.Mask[i] = raster.MaskInvalid
			continue
		}
		out.Data[i] = 0
		if v != 0 {
			out.Data[i] = 1
		}
		out.Mask[i] = raster.MaskValid
	}
	return out
}
