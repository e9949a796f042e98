package vectorio

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MeKo-Tech/lad/internal/ops"
)

func square() []ops.Point2 {
	return []ops.Point2{{X: 0, Y: 0}, {X: 0, Y: 3}, {X: 3, Y: 3}, {X: 3, Y: 0}}
}

func TestWritePolylineCSVWritesOneRowPerVertex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contour.csv")
	if err := WritePolylineCSV(path, square()); err != nil {
		t.Fatalf("WritePolylineCSV: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != len(square())+1 { // header + one row per vertex
		t.Fatalf("expected %d lines, got %d: %q", len(square())+1, len(lines), lines)
	}
	if lines[0] != "X,Y" {
		t.Fatalf("expected header 'X,Y', got %q", lines[0])
	}
}

func TestWritePolylineShapefileRejectsEmptyInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty")
	if err := WritePolylineShapefile(path, nil); err == nil {
		t.Fatalf("expected error for empty polyline")
	}
}

func TestWritePolylineShapefileWritesAllThreeFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contour")
	if err := WritePolylineShapefile(path, square()); err != nil {
		t.Fatalf("WritePolylineShapefile: %v", err)
	}
	for _, ext := range []string{".shp", ".shx", ".dbf"} {
		if info, err := os.Stat(path + ext); err != nil || info.Size() == 0 {
			t.Fatalf("expected non-empty %s%s, stat err: %v", path, ext, err)
		}
	}
}
