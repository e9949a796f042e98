package layer

import (
	"testing"

	"github.com/MeKo-Tech/lad/internal/raster"
)

func TestCreateRejectsDuplicateAndInvalidNames(t *testing.T) {
	s := NewStore()

	if _, err := s.Create("Valid_Name1", KindRaster); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Create("Valid_Name1", KindRaster); err == nil {
		t.Fatalf("expected duplicate-name error")
	}
	if _, err := s.Create("bad name!", KindRaster); err == nil {
		t.Fatalf("expected invalid-name error")
	}
}

func TestUploadThenGetRasterRoundTrips(t *testing.T) {
	s := NewStore()
	buf := raster.NewValidBuffer(2, 2, -9999)
	buf.Set(0, 0, 42)

	if err := s.Upload("M1", KindRaster, buf); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	got, err := s.GetRaster("M1")
	if err != nil {
		t.Fatalf("GetRaster: %v", err)
	}
	if got.At(0, 0) != 42 {
		t.Fatalf("expected 42, got %v", got.At(0, 0))
	}

	// Mutating the original buffer must not affect the stored copy.
	buf.Set(0, 0, 99)
	if got.At(0, 0) != 42 {
		t.Fatalf("Upload must deep-copy the payload")
	}
}

func TestGetRasterFailsOnTypeMismatch(t *testing.T) {
	s := NewStore()
	if _, err := s.EnsureVector("V1", SpacePixel); err != nil {
		t.Fatalf("EnsureVector: %v", err)
	}
	if _, err := s.GetRaster("V1"); err == nil {
		t.Fatalf("expected layer_type_mismatch error")
	}
}

func TestRenameMovesLayerToNewName(t *testing.T) {
	s := NewStore()
	id, err := s.Create("Old", KindVector)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Rename(id, "New"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if _, err := s.Get("Old"); err == nil {
		t.Fatalf("expected Old to no longer exist")
	}
	if _, err := s.Get("New"); err != nil {
		t.Fatalf("expected New to exist: %v", err)
	}
}

func TestEnsureRasterCreatesMatchingBuffer(t *testing.T) {
	s := NewStore()
	like := raster.NewValidBuffer(3, 4, -9999)
	like.GeoTransform = [6]float64{0, 1, 0, 0, 0, -1}

	buf, err := s.EnsureRaster("Derived", like)
	if err != nil {
		t.Fatalf("EnsureRaster: %v", err)
	}
	if buf.Rows != 3 || buf.Cols != 4 {
		t.Fatalf("expected 3x4, got %dx%d", buf.Rows, buf.Cols)
	}

	again, err := s.EnsureRaster("Derived", like)
	if err != nil {
		t.Fatalf("EnsureRaster (second call): %v", err)
	}
	if again != buf {
		t.Fatalf("expected EnsureRaster to return the same buffer on a second call")
	}
}
