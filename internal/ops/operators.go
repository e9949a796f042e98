package ops

import (
	"math"

	"github.com/MeKo-Tech/lad/internal/errs"
	"github.com/MeKo-Tech/lad/internal/kernel"
	"github.com/MeKo-Tech/lad/internal/raster"
)

// CompareOp is one of the six elementwise threshold comparisons.
type CompareOp int

const (
	OpLess CompareOp = iota
	OpLessEqual
	OpGreater
	OpGreaterEqual
	OpEqual
	OpNotEqual
)

// FilterKind selects the statistic ApplyWindowFilter computes per window.
type FilterKind int

const (
	FilterMean FilterKind = iota
	FilterSlope
)

func toBinaryMask(buf *raster.Buffer) []uint8 {
	out := make([]uint8, len(buf.Data))
	for i, v := range buf.Data {
		if buf.Mask[i] != raster.MaskInvalid && v != 0 {
			out[i] = 1
		}
	}
	return out
}

func binaryToRaster(bin []uint8, rows, cols int, like *raster.Buffer) *raster.Buffer {
	out := raster.NewValidBuffer(rows, cols, like.Nodata)
	out.CopyGeoProperties(like)
	for i, v := range bin {
		if v != 0 {
			out.Data[i] = 255
		} else {
			out.Data[i] = 0
		}
	}
	return out
}

// ComputeExclusionMap performs binary erosion of baseRaster (read as a
// 0/255 binary raster) by kern.Rotated(), producing a 0/255 exclusion
// map: the global drivable-area mask for the heading kern was rotated
// to.
func ComputeExclusionMap(baseRaster *raster.Buffer, kern *kernel.Kernel) *raster.Buffer {
	src := toBinaryMask(baseRaster)
	rotated := kern.Rotated()
	eroded := ErodeKernel(src, baseRaster.Rows, baseRaster.Cols, rotated, kern.Rows, kern.Cols)
	return binaryToRaster(eroded, baseRaster.Rows, baseRaster.Cols, baseRaster)
}

// ApplyWindowFilter computes, for every output cell, either the windowed
// mean or the windowed plane-fit slope of raw, restricted to cells where
// both validMask and the kernel's rotated structuring element (clipped at
// boundaries, re-centred per cell) are set. sx, sy are pipeline pixel
// sizes.
func ApplyWindowFilter(raw *raster.Buffer, kern *kernel.Kernel, validMask *raster.Buffer, sx, sy float64, kind FilterKind) *raster.Buffer {
	out := raster.NewBuffer(raw.Rows, raw.Cols, raw.Nodata)
	out.CopyGeoProperties(raw)

	rotated := kern.Rotated()
	krows, kcols := kern.Rows, kern.Cols
	cr := (krows - 1) / 2
	cc := (kcols - 1) / 2

	for r := 0; r < raw.Rows; r++ {
		for c := 0; c < raw.Cols; c++ {
			if !raw.Valid(r, c) {
				out.SetInvalid(r, c)
				continue
			}

			var pts []raster.Point3
			for kr := 0; kr < krows; kr++ {
				for kc := 0; kc < kcols; kc++ {
					if rotated[kr*kcols+kc] == 0 {
						continue
					}
					sr := r + kr - cr
					sc := c + kc - cc
					if sr < 0 || sr >= raw.Rows || sc < 0 || sc >= raw.Cols {
						continue
					}
					if !raw.Valid(sr, sc) || !validMask.Valid(sr, sc) || validMask.At(sr, sc) == 0 {
						continue
					}
					pts = append(pts, raster.Point3{
						X: float64(sc-c) * sx,
						Y: float64(sr-r) * sy,
						Z: raw.At(sr, sc),
					})
				}
			}

			if len(pts) < 3 {
				out.SetInvalid(r, c)
				continue
			}

			switch kind {
			case FilterMean:
				out.Set(r, c, meanZ(pts))
			case FilterSlope:
				out.Set(r, c, planeSlopeDegrees(pts))
			}
		}
	}
	return out
}

func meanZ(pts []raster.Point3) float64 {
	var sum float64
	for _, p := range pts {
		sum += p.Z
	}
	return sum / float64(len(pts))
}

// FitPlane fits a least-squares plane a*x + b*y + c*z + d = 0 to pts,
// returning (a, b, c, d) normalised so that a^2+b^2+c^2 == 1 and c >= 0.
// Falls back to the flat plane (0,0,1,-meanZ) if the normal equations are
// singular.
func FitPlane(pts []raster.Point3) (a, b, c, d float64) {
	// Fit z = p*x + q*y + r via least squares (flat-earth approximation,
	// degenerate only for perfectly vertical point sets which cannot occur
	// for a height field sampled on a grid), then convert to the implicit
	// form a*x+b*y+c*z+d=0 with c = -1, i.e. a=p, b=q, c=-1, d=r,
	// renormalised to unit length.
	var sx, sy, sxx, syy, sxy, sz, sxz, syz float64
	n := float64(len(pts))
	for _, p := range pts {
		sx += p.X
		sy += p.Y
		sxx += p.X * p.X
		syy += p.Y * p.Y
		sxy += p.X * p.Y
		sz += p.Z
		sxz += p.X * p.Z
		syz += p.Y * p.Z
	}

	// Normal equations for [p q r]^T minimising sum (p*x+q*y+r - z)^2:
	//   | sxx sxy sx | |p|   |sxz|
	//   | sxy syy sy | |q| = |syz|
	//   | sx  sy  n  | |r|   |sz |
	m := [3][3]float64{
		{sxx, sxy, sx},
		{sxy, syy, sy},
		{sx, sy, n},
	}
	rhs := [3]float64{sxz, syz, sz}

	p, q, r, ok := solve3x3(m, rhs)
	if !ok {
		return 0, 0, 1, -meanZ(pts)
	}

	a, b, c, d = p, q, -1, r
	norm := math.Sqrt(a*a + b*b + c*c)
	if norm == 0 {
		return 0, 0, 1, -meanZ(pts)
	}
	a, b, c, d = a/norm, b/norm, c/norm, d/norm
	if c < 0 {
		a, b, c, d = -a, -b, -c, -d
	}
	return a, b, c, d
}

func solve3x3(m [3][3]float64, rhs [3]float64) (x, y, z float64, ok bool) {
	det := m[0][0]*(m[1][1]*m[2][2]-m[1][2]*m[2][1]) -
		m[0][1]*(m[1][0]*m[2][2]-m[1][2]*m[2][0]) +
		m[0][2]*(m[1][0]*m[2][1]-m[1][1]*m[2][0])
	if math.Abs(det) < 1e-12 {
		return 0, 0, 0, false
	}

	replace := func(col int, v [3]float64) [3][3]float64 {
		out := m
		for i := 0; i < 3; i++ {
			out[i][col] = v[i]
		}
		return out
	}
	det3 := func(mm [3][3]float64) float64 {
		return mm[0][0]*(mm[1][1]*mm[2][2]-mm[1][2]*mm[2][1]) -
			mm[0][1]*(mm[1][0]*mm[2][2]-mm[1][2]*mm[2][0]) +
			mm[0][2]*(mm[1][0]*mm[2][1]-mm[1][1]*mm[2][0])
	}

	x = det3(replace(0, rhs)) / det
	y = det3(replace(1, rhs)) / det
	z = det3(replace(2, rhs)) / det
	return x, y, z, true
}

// planeSlopeDegrees fits a plane to pts and returns the acute angle in
// degrees between its normal and (0,0,1), reflecting values above 90 to
// 180-v. Falls back to 90 degrees if the fit is degenerate in c.
func planeSlopeDegrees(pts []raster.Point3) float64 {
	a, b, c, _ := FitPlane(pts)
	if c == 0 {
		return 90
	}
	norm := math.Sqrt(a*a + b*b + c*c)
	cosAngle := math.Abs(c) / norm
	if cosAngle > 1 {
		cosAngle = 1
	}
	angle := math.Acos(cosAngle) * 180 / math.Pi
	if angle > 90 {
		angle = 180 - angle
	}
	return angle
}

// LowpassFilter computes a box-mean over a w x h rectangular window,
// mask-aware renormalised (sum(valid)/count(valid)); output is NoData
// where the centre cell is invalid.
func LowpassFilter(raw *raster.Buffer, validMask *raster.Buffer, w, h int) *raster.Buffer {
	out := raster.NewBuffer(raw.Rows, raw.Cols, raw.Nodata)
	out.CopyGeoProperties(raw)

	halfW := w / 2
	halfH := h / 2

	for r := 0; r < raw.Rows; r++ {
		for c := 0; c < raw.Cols; c++ {
			if !raw.Valid(r, c) {
				out.SetInvalid(r, c)
				continue
			}
			var sum float64
			var count int
			for dr := -halfH; dr <= halfH; dr++ {
				for dc := -halfW; dc <= halfW; dc++ {
					sr, sc := r+dr, c+dc
					if sr < 0 || sr >= raw.Rows || sc < 0 || sc >= raw.Cols {
						continue
					}
					if !raw.Valid(sr, sc) || !validMask.Valid(sr, sc) || validMask.At(sr, sc) == 0 {
						continue
					}
					sum += raw.At(sr, sc)
					count++
				}
			}
			if count == 0 {
				out.SetInvalid(r, c)
				continue
			}
			out.Set(r, c, sum/float64(count))
		}
	}
	return out
}

// ComputeHeight computes dst = -raw + filtered elementwise, NoData
// wherever either input is NoData.
func ComputeHeight(raw, filtered *raster.Buffer) *raster.Buffer {
	out := raster.NewBuffer(raw.Rows, raw.Cols, raw.Nodata)
	out.CopyGeoProperties(raw)
	for i := range out.Data {
		if raw.Mask[i] == raster.MaskInvalid || filtered.Mask[i] == raster.MaskInvalid {
			out.Data[i] = out.Nodata
			out.Mask[i] = raster.MaskInvalid
			continue
		}
		out.Data[i] = -raw.Data[i] + filtered.Data[i]
		out.Mask[i] = raster.MaskValid
	}
	return out
}

func compareValue(v, threshold float64, op CompareOp) bool {
	switch op {
	case OpLess:
		return v < threshold
	case OpLessEqual:
		return v <= threshold
	case OpGreater:
		return v > threshold
	case OpGreaterEqual:
		return v >= threshold
	case OpEqual:
		return v == threshold
	case OpNotEqual:
		return v != threshold
	default:
		return false
	}
}

// CompareLayer produces a 0/255 raster where the comparison holds on
// valid cells; invalid cells propagate as invalid (masked invalid, with
// the src nodata written as their value, never a bare zero).
func CompareLayer(src *raster.Buffer, threshold float64, op CompareOp) *raster.Buffer {
	out := raster.NewBuffer(src.Rows, src.Cols, src.Nodata)
	out.CopyGeoProperties(src)
	for i, v := range src.Data {
		if src.Mask[i] == raster.MaskInvalid {
			out.Data[i] = out.Nodata
			out.Mask[i] = raster.MaskInvalid
			continue
		}
		if compareValue(v, threshold, op) {
			out.Data[i] = 255
		} else {
			out.Data[i] = 0
		}
		out.Mask[i] = raster.MaskValid
	}
	return out
}

// MaskLayer copies src into dst wherever mask is non-zero (and valid),
// writing src.Nodata elsewhere.
func MaskLayer(src, mask *raster.Buffer) *raster.Buffer {
	out := raster.NewBuffer(src.Rows, src.Cols, src.Nodata)
	out.CopyGeoProperties(src)
	for i := range out.Data {
		if mask.Mask[i] == raster.MaskInvalid || mask.Data[i] == 0 {
			out.Data[i] = src.Nodata
			out.Mask[i] = raster.MaskInvalid
			continue
		}
		out.Data[i] = src.Data[i]
		out.Mask[i] = src.Mask[i]
	}
	return out
}

// LogicalAnd computes the elementwise AND of two 0/255 rasters. A cell
// invalid in either input is invalid in the output.
func LogicalAnd(a, b *raster.Buffer) *raster.Buffer {
	out := raster.NewBuffer(a.Rows, a.Cols, a.Nodata)
	out.CopyGeoProperties(a)
	for i := range out.Data {
		if a.Mask[i] == raster.MaskInvalid || b.Mask[i] == raster.MaskInvalid {
			out.Data[i] = out.Nodata
			out.Mask[i] = raster.MaskInvalid
			continue
		}
		out.Data[i] = 0
		if a.Data[i] != 0 && b.Data[i] != 0 {
			out.Data[i] = 255
		}
		out.Mask[i] = raster.MaskValid
	}
	return out
}

// LogicalNot computes the elementwise complement of a 0/255 raster,
// propagating NoData from a unchanged.
func LogicalNot(a *raster.Buffer) *raster.Buffer {
	out := raster.NewBuffer(a.Rows, a.Cols, a.Nodata)
	out.CopyGeoProperties(a)
	for i, v := range a.Data {
		if a.Mask[i] == raster.MaskInvalid {
			out.Data[i] = out.Nodata
			out.Mask[i] = raster.MaskInvalid
			continue
		}
		out.Data[i] = 0
		if v == 0 {
			out.Data[i] = 255
		}
		out.Mask[i] = raster.MaskValid
	}
	return out
}

// LogicalOr computes the elementwise OR of two 0/255 rasters. A cell
// invalid in either input is invalid in the output.
func LogicalOr(a, b *raster.Buffer) *raster.Buffer {
	out := raster.NewBuffer(a.Rows, a.Cols, a.Nodata)
	out.CopyGeoProperties(a)
	for i := range out.Data {
		if a.Mask[i] == raster.MaskInvalid || b.Mask[i] == raster.MaskInvalid {
			out.Data[i] = out.Nodata
			out.Mask[i] = raster.MaskInvalid
			continue
		}
		out.Data[i] = 0
		if a.Data[i] != 0 || b.Data[i] != 0 {
			out.Data[i] = 255
		}
		out.Mask[i] = raster.MaskValid
	}
	return out
}

// Subtract computes a 0/255 "band-exclusive shell": a minus b, clamped
// to 0/255 (a AND NOT b). A cell invalid in either input is invalid in
// the output.
func Subtract(a, b *raster.Buffer) *raster.Buffer {
	out := raster.NewBuffer(a.Rows, a.Cols, a.Nodata)
	out.CopyGeoProperties(a)
	for i := range out.Data {
		if a.Mask[i] == raster.MaskInvalid || b.Mask[i] == raster.MaskInvalid {
			out.Data[i] = out.Nodata
			out.Mask[i] = raster.MaskInvalid
			continue
		}
		out.Data[i] = 0
		if a.Data[i] != 0 && b.Data[i] == 0 {
			out.Data[i] = 255
		}
		out.Mask[i] = raster.MaskValid
	}
	return out
}

// ElementwiseMultiply computes dst = a*b elementwise (used to zero
// measurability on non-landable cells).
func ElementwiseMultiply(a, b *raster.Buffer) *raster.Buffer {
	out := raster.NewBuffer(a.Rows, a.Cols, a.Nodata)
	out.CopyGeoProperties(a)
	for i := range out.Data {
		if a.Mask[i] == raster.MaskInvalid || b.Mask[i] == raster.MaskInvalid {
			out.Data[i] = out.Nodata
			out.Mask[i] = raster.MaskInvalid
			continue
		}
		out.Data[i] = a.Data[i] * b.Data[i]
		out.Mask[i] = raster.MaskValid
	}
	return out
}

// BlendMean computes the per-cell arithmetic mean of layers, each
// normalised to [0,1] before blending (by its own observed max, or
// assumed already in [0,1] if max <= 1), inheriting the mask of
// reference.
func BlendMean(layers []*raster.Buffer, reference *raster.Buffer) (*raster.Buffer, error) {
	if len(layers) == 0 {
		return nil, errs.New(errs.KindMissingArgument, "blend_mean requires at least one input layer")
	}
	rows, cols := reference.Rows, reference.Cols
	out := raster.NewBuffer(rows, cols, reference.Nodata)
	out.CopyGeoProperties(reference)

	normalised := make([][]float64, len(layers))
	for li, l := range layers {
		maxV := 0.0
		for i, v := range l.Data {
			if l.Mask[i] == raster.MaskInvalid {
				continue
			}
			if v > maxV {
				maxV = v
			}
		}
		norm := make([]float64, len(l.Data))
		copy(norm, l.Data)
		if maxV > 1 {
			for i := range norm {
				norm[i] /= maxV
			}
		}
		normalised[li] = norm
	}

	for i := range out.Data {
		if reference.Mask[i] == raster.MaskInvalid {
			out.Data[i] = out.Nodata
			out.Mask[i] = raster.MaskInvalid
			continue
		}
		var sum float64
		var n int
		for li, l := range layers {
			if l.Mask[i] == raster.MaskInvalid {
				continue
			}
			sum += normalised[li][i]
			n++
		}
		if n == 0 {
			out.Data[i] = out.Nodata
			out.Mask[i] = raster.MaskInvalid
			continue
		}
		out.Data[i] = sum / float64(n)
		out.Mask[i] = raster.MaskValid
	}
	return out, nil
}

// ExclusionSizeFunc maps an obstacle height to the disk size (metres)
// used to dilate a low-protrusion mask for that height; the
// low-protrusion lane divides it by the pixel width and uses the result
// as the dilation disk's diameter in pixels.
type ExclusionSizeFunc func(h float64) float64

// DefaultExclusionSize is a placeholder monotonic fit: a small constant
// base size plus a linear term in height. It is documented tuning
// data, not a reverse-engineered canonical curve (see the Open Question
// in the design notes); callers needing a calibrated curve should supply
// their own ExclusionSizeFunc.
func DefaultExclusionSize(h float64) float64 {
	const base = 0.05  // metres, minimum dilation diameter
	const slope = 0.75 // metres of diameter per metre of obstacle height
	if h < 0 {
		h = 0
	}
	return base + slope*h
}

// PlaneMap emits a raster of z = -(a*x + b*y + d)/c at pixel centres of
// a template raster's grid, using the template's pixel size. Fails with
// numeric_degenerate when c == 0.
func PlaneMap(template *raster.Buffer, a, b, c, d, sx, sy float64) (*raster.Buffer, error) {
	if c == 0 {
		return nil, errs.New(errs.KindNumericDegenerate, "plane-map generator requires c != 0")
	}
	out := raster.NewValidBuffer(template.Rows, template.Cols, template.Nodata)
	out.CopyGeoProperties(template)
	for r := 0; r < template.Rows; r++ {
		for col := 0; col < template.Cols; col++ {
			x := float64(col) * sx
			y := float64(r) * sy
			z := -(a*x + b*y + d) / c
			out.Set(r, col, z)
		}
	}
	return out, nil
}
