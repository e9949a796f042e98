package ops

import (
	"math"
	"testing"

	"github.com/MeKo-Tech/lad/internal/kernel"
	"github.com/MeKo-Tech/lad/internal/raster"
)

func flatBuffer(rows, cols int, value float64) *raster.Buffer {
	b := raster.NewValidBuffer(rows, cols, -9999)
	b.GeoTransform = [6]float64{0, 1, 0, 0, 0, -1}
	b.Fill(value)
	return b
}

func TestCompareLayerComplementary(t *testing.T) {
	src := flatBuffer(4, 4, 0)
	for i := range src.Data {
		src.Data[i] = float64(i)
	}

	threshold := 7.0
	gt := CompareLayer(src, threshold, OpGreater)
	le := CompareLayer(src, threshold, OpLessEqual)

	for i := range src.Data {
		if gt.Data[i]+le.Data[i] != 255 {
			t.Fatalf("cell %d: gt=%v le=%v, want complementary sum 255", i, gt.Data[i], le.Data[i])
		}
	}
}

func TestLogicalAndPropagatesNoDataFromEitherInput(t *testing.T) {
	a := flatBuffer(2, 2, 255)
	b := flatBuffer(2, 2, 255)
	a.SetInvalid(0, 0)
	b.SetInvalid(1, 1)

	out := LogicalAnd(a, b)
	if out.Valid(0, 0) || out.Valid(1, 1) {
		t.Fatalf("expected cells invalid in either input to stay invalid in the output")
	}
	if !out.Valid(0, 1) || out.At(0, 1) != 255 {
		t.Fatalf("expected (0,1) to be valid and true, got valid=%v value=%v", out.Valid(0, 1), out.At(0, 1))
	}
}

func TestLogicalOrPropagatesNoDataFromEitherInput(t *testing.T) {
	a := flatBuffer(2, 2, 0)
	b := flatBuffer(2, 2, 0)
	a.SetInvalid(0, 0)

	out := LogicalOr(a, b)
	if out.Valid(0, 0) {
		t.Fatalf("expected (0,0) to stay invalid")
	}
	if !out.Valid(1, 1) || out.At(1, 1) != 0 {
		t.Fatalf("expected (1,1) valid and false, got valid=%v value=%v", out.Valid(1, 1), out.At(1, 1))
	}
}

func TestLogicalNotPropagatesNoDataFromInput(t *testing.T) {
	a := flatBuffer(2, 2, 0)
	a.SetInvalid(1, 0)

	out := LogicalNot(a)
	if out.Valid(1, 0) {
		t.Fatalf("expected (1,0) to stay invalid")
	}
	if !out.Valid(0, 0) || out.At(0, 0) != 255 {
		t.Fatalf("expected (0,0) valid and true, got valid=%v value=%v", out.Valid(0, 0), out.At(0, 0))
	}
}

func TestSubtractPropagatesNoDataFromEitherInput(t *testing.T) {
	a := flatBuffer(2, 2, 255)
	b := flatBuffer(2, 2, 0)
	b.SetInvalid(0, 1)

	out := Subtract(a, b)
	if out.Valid(0, 1) {
		t.Fatalf("expected (0,1) to stay invalid")
	}
	if !out.Valid(1, 0) || out.At(1, 0) != 255 {
		t.Fatalf("expected (1,0) valid and true, got valid=%v value=%v", out.Valid(1, 0), out.At(1, 0))
	}
}

func TestMaskLayerIgnoresSrcWhereMaskZero(t *testing.T) {
	src := flatBuffer(2, 2, 5)
	mask := flatBuffer(2, 2, 0)
	mask.Data[0] = 255 // only cell 0 passes

	out := MaskLayer(src, mask)

	if out.Data[0] != 5 {
		t.Fatalf("expected cell 0 to carry src value, got %v", out.Data[0])
	}
	for i := 1; i < len(out.Data); i++ {
		if out.Data[i] != src.Nodata || out.Mask[i] != raster.MaskInvalid {
			t.Fatalf("cell %d: expected nodata/invalid, got %v valid=%v", i, out.Data[i], out.Mask[i])
		}
	}
}

func TestComputeHeightEqualsDiffOnValidCells(t *testing.T) {
	a := flatBuffer(2, 2, -10)
	b := flatBuffer(2, 2, -9)

	h := ComputeHeight(a, b)

	for i := range h.Data {
		want := b.Data[i] - a.Data[i]
		if h.Data[i] != want {
			t.Fatalf("cell %d: got %v want %v", i, h.Data[i], want)
		}
	}
}

func TestBlendMeanOverIdenticalInputsEqualsInput(t *testing.T) {
	ref := flatBuffer(3, 3, 0)
	for i := range ref.Data {
		ref.Data[i] = 0.4
	}
	layers := []*raster.Buffer{ref, ref.Clone(), ref.Clone()}

	out, err := BlendMean(layers, ref)
	if err != nil {
		t.Fatalf("BlendMean: %v", err)
	}
	for i, v := range out.Data {
		if math.Abs(v-0.4) > 1e-9 {
			t.Fatalf("cell %d: got %v want 0.4", i, v)
		}
	}
}

func TestPlaneMapRefusesDegenerateC(t *testing.T) {
	tmpl := flatBuffer(2, 2, 0)
	if _, err := PlaneMap(tmpl, 1, 1, 0, 0, 1, 1); err == nil {
		t.Fatalf("expected numeric_degenerate error for c == 0")
	}
}

func TestPlaneFitSlopeMatchesKnownGradient(t *testing.T) {
	const rows, cols = 16, 16
	raw := raster.NewValidBuffer(rows, cols, -9999)
	raw.GeoTransform = [6]float64{0, 1, 0, 0, 0, -1}
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			raw.Set(r, c, 0.1*float64(c))
		}
	}
	valid := flatBuffer(rows, cols, 255)

	k, err := kernel.NewTemplate(8, 8, 1, 1, kernel.ShapeRect)
	if err != nil {
		t.Fatalf("NewTemplate: %v", err)
	}
	k.SetRotation(0)

	out := ApplyWindowFilter(raw, k, valid, 1, 1, FilterSlope)

	want := math.Atan(0.1) * 180 / math.Pi
	r, c := rows/2, cols/2
	got, valid2 := out.AtMasked(r, c)
	if !valid2 {
		t.Fatalf("expected interior cell (%d,%d) to be valid", r, c)
	}
	if math.Abs(got-want) > 0.5 {
		t.Fatalf("slope at (%d,%d) = %v, want ~%v", r, c, got, want)
	}
}

func TestDilateKernelGrowsSingleCell(t *testing.T) {
	const n = 5
	src := make([]uint8, n*n)
	src[2*n+2] = 1 // centre

	k := kernel.NewDisk(3)
	out := DilateKernel(src, n, n, k.Base, k.Rows, k.Cols)

	if out[2*n+2] == 0 {
		t.Fatalf("expected centre to remain set")
	}
	if out[0] != 0 {
		t.Fatalf("expected far corner to remain unset")
	}
	var count int
	for _, v := range out {
		if v != 0 {
			count++
		}
	}
	if count <= 1 {
		t.Fatalf("expected dilation to grow the set, got count=%d", count)
	}
}

func TestExtractContoursFindsSquare(t *testing.T) {
	bin := flatBuffer(10, 10, 0)
	for r := 2; r <= 6; r++ {
		for c := 2; c <= 6; c++ {
			bin.Set(r, c, 255)
		}
	}

	pts, err := ExtractContours(bin)
	if err != nil {
		t.Fatalf("ExtractContours: %v", err)
	}
	if len(pts) == 0 {
		t.Fatalf("expected non-empty contour")
	}
}

func TestExtractContoursFailsOnEmptyRaster(t *testing.T) {
	bin := flatBuffer(4, 4, 0)
	if _, err := ExtractContours(bin); err == nil {
		t.Fatalf("expected contours_not_found on empty raster")
	}
}
