package ops

import (
	"github.com/MeKo-Tech/lad/internal/errs"
	"github.com/MeKo-Tech/lad/internal/raster"
)

// Point2 is a pixel-coordinate vertex of an extracted contour.
type Point2 struct {
	X, Y float64
}

// moore8 lists the 8-connected neighbour offsets in clockwise order
// starting from the west, the order Moore-neighbor tracing walks in.
var moore8 = [8][2]int{
	{0, -1}, {-1, -1}, {-1, 0}, {-1, 1},
	{0, 1}, {1, 1}, {1, 0}, {1, -1},
}

func isForeground(bin []uint8, rows, cols, r, c int) bool {
	if r < 0 || r >= rows || c < 0 || c >= cols {
		return false
	}
	return bin[r*cols+c] != 0
}

// isBoundary reports whether (r,c) is a foreground pixel with at least
// one background 4-neighbour (or touches the raster edge).
func isBoundary(bin []uint8, rows, cols, r, c int) bool {
	if !isForeground(bin, rows, cols, r, c) {
		return false
	}
	if r == 0 || r == rows-1 || c == 0 || c == cols-1 {
		return true
	}
	return !isForeground(bin, rows, cols, r-1, c) ||
		!isForeground(bin, rows, cols, r+1, c) ||
		!isForeground(bin, rows, cols, r, c-1) ||
		!isForeground(bin, rows, cols, r, c+1)
}

// traceMoore walks the external boundary of the foreground region
// containing the boundary pixel (startR, startC), returning its
// vertices in pixel coordinates (x=col, y=row) and marking every visited
// boundary pixel in visited.
func traceMoore(bin []uint8, rows, cols, startR, startC int, visited []bool) []Point2 {
	contour := []Point2{{X: float64(startC), Y: float64(startR)}}
	visited[startR*cols+startC] = true

	// backtrack direction: the offset index (into moore8) of the
	// neighbour we arrived from, so the search starts just after it.
	backtrack := 0
	r, c := startR, startC

	for steps := 0; steps < rows*cols*8; steps++ {
		found := false
		for i := 0; i < 8; i++ {
			idx := (backtrack + i) % 8
			dr, dc := moore8[idx][0], moore8[idx][1]
			nr, nc := r+dr, c+dc
			if isForeground(bin, rows, cols, nr, nc) {
				r, c = nr, nc
				backtrack = (idx + 5) % 8 // look starting near where we came from
				found = true
				break
			}
		}
		if !found {
			break
		}
		if r == startR && c == startC {
			break
		}
		if !visited[r*cols+c] {
			visited[r*cols+c] = true
			contour = append(contour, Point2{X: float64(c), Y: float64(r)})
		} else if len(contour) > 1 {
			// Revisiting an already-traced pixel on a thin region: stop to
			// avoid looping forever on degenerate single-pixel-wide shapes.
			break
		}
	}
	return contour
}

// ExtractContours finds external contours of a 0/255 binary raster and
// returns the single longest (by vertex count) as a sequence of pixel
// coordinates. Fails with contours_not_found if the raster has no
// foreground pixels.
func ExtractContours(bin *raster.Buffer) ([]Point2, error) {
	rows, cols := bin.Rows, bin.Cols
	binary := make([]uint8, rows*cols)
	for i, v := range bin.Data {
		if bin.Mask[i] != raster.MaskInvalid && v != 0 {
			binary[i] = 1
		}
	}

	visited := make([]bool, rows*cols)
	var longest []Point2

	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if visited[r*cols+c] || !isBoundary(binary, rows, cols, r, c) {
				continue
			}
			contour := traceMoore(binary, rows, cols, r, c, visited)
			if len(contour) > len(longest) {
				longest = contour
			}
		}
	}

	if len(longest) == 0 {
		return nil, errs.New(errs.KindContoursNotFound, "no contours found in binary raster")
	}
	return longest, nil
}
