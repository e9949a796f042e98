package raster

import "testing"

func TestUpdateMaskMatchesNodata(t *testing.T) {
	b := NewBuffer(2, 2, -9999)
	b.Set(0, 0, 1.5)
	b.Set(0, 1, 2.5)
	// (1,0) and (1,1) remain nodata from NewBuffer.

	b.UpdateMask()

	for r := 0; r < b.Rows; r++ {
		for c := 0; c < b.Cols; c++ {
			v, valid := b.AtMasked(r, c)
			if valid != (v != b.Nodata) {
				t.Fatalf("cell (%d,%d): mask %v inconsistent with value %v", r, c, valid, v)
			}
		}
	}
	if !b.Valid(0, 0) || !b.Valid(0, 1) {
		t.Fatalf("expected (0,0) and (0,1) valid")
	}
	if b.Valid(1, 0) || b.Valid(1, 1) {
		t.Fatalf("expected (1,0) and (1,1) invalid")
	}
}

func TestToPointListSkipsInvalidCells(t *testing.T) {
	b := NewValidBuffer(2, 2, -9999)
	b.Set(0, 0, 10)
	b.Set(0, 1, 20)
	b.Set(1, 0, 30)
	b.Set(1, 1, 40)
	mask := []uint8{MaskValid, MaskInvalid, MaskValid, MaskValid}

	pts := b.ToPointList(mask, 2, 3)

	if len(pts) != 3 {
		t.Fatalf("expected 3 points, got %d", len(pts))
	}
	want := Point3{X: 0, Y: 0, Z: 10}
	if pts[0] != want {
		t.Fatalf("pts[0] = %+v, want %+v", pts[0], want)
	}
}

func TestCopyGeoPropertiesDoesNotCopyData(t *testing.T) {
	src := NewBuffer(1, 1, -9999)
	src.GeoTransform = [6]float64{100, 2, 0, 200, 0, -2}
	src.Projection = "EPSG:4326"
	src.Set(0, 0, 42)

	dst := NewBuffer(1, 1, -9999)
	dst.CopyGeoProperties(src)

	if dst.GeoTransform != src.GeoTransform || dst.Projection != src.Projection {
		t.Fatalf("geo properties not copied")
	}
	if dst.At(0, 0) != dst.Nodata {
		t.Fatalf("data should not have been copied")
	}
}
