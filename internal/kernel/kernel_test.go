package kernel

import "testing"

func TestSetRotationZeroMatchesBase(t *testing.T) {
	k, err := NewTemplate(3, 3, 1, 1, ShapeRect)
	if err != nil {
		t.Fatalf("NewTemplate: %v", err)
	}
	k.SetRotation(0)
	rotated := k.Rotated()
	for i, v := range k.Base {
		if rotated[i] != v {
			t.Fatalf("cell %d: rotated=%d base=%d, want equal at rotation 0", i, rotated[i], v)
		}
	}
}

func TestSetRotationIdempotent(t *testing.T) {
	k, err := NewTemplate(5, 3, 1, 1, ShapeEllipse)
	if err != nil {
		t.Fatalf("NewTemplate: %v", err)
	}
	k.SetRotation(37)
	first := append([]uint8(nil), k.Rotated()...)
	k.SetRotation(37)
	second := k.Rotated()

	if len(first) != len(second) {
		t.Fatalf("length mismatch")
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("cell %d differs between identical rotations: %d vs %d", i, first[i], second[i])
		}
	}
}

func TestNewTemplateRejectsNonPositiveSize(t *testing.T) {
	if _, err := NewTemplate(0, 1, 1, 1, ShapeRect); err == nil {
		t.Fatalf("expected error for width_m <= 0")
	}
	if _, err := NewTemplate(1, 1, 0, 1, ShapeRect); err == nil {
		t.Fatalf("expected error for sx*sy == 0")
	}
}

func TestNewDiskFillsCircularRegion(t *testing.T) {
	k := NewDisk(5)
	// the center cell must always be set for a disk of diameter >= 1
	center := k.Rows / 2
	if k.Base[center*k.Cols+center] == 0 {
		t.Fatalf("expected center cell set")
	}
	// a far corner of a disk-inscribed-in-square kernel must be unset
	if k.Base[0] != 0 {
		t.Fatalf("expected corner cell unset for disk")
	}
}
