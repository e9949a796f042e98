// Package ops implements the masked, NoData-aware raster operator
// library: morphology, windowed filters, threshold/mask combinators,
// blending, contour extraction, and the plane-map generator.
package ops

import (
	"math"

	"github.com/MeKo-Tech/lad/internal/kernel"
	"github.com/MeKo-Tech/lad/internal/raster"
)

// ErodeKernel performs binary erosion of a 0/1 mask by a structuring
// element: output cell is 1 only if every set kernel cell, when centred
// on it, lands on a set source cell (out-of-bounds counts as unset).
func ErodeKernel(src []uint8, rows, cols int, kern []uint8, krows, kcols int) []uint8 {
	out := make([]uint8, rows*cols)
	cr := (krows - 1) / 2
	cc := (kcols - 1) / 2

	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			fits := true
		scan:
			for kr := 0; kr < krows; kr++ {
				for kc := 0; kc < kcols; kc++ {
					if kern[kr*kcols+kc] == 0 {
						continue
					}
					sr := r + kr - cr
					sc := c + kc - cc
					if sr < 0 || sr >= rows || sc < 0 || sc >= cols || src[sr*cols+sc] == 0 {
						fits = false
						break scan
					}
				}
			}
			if fits {
				out[r*cols+c] = 1
			}
		}
	}
	return out
}

// DilateKernel performs binary dilation of a 0/1 mask by a structuring
// element: output cell is 1 if any set kernel cell, when centred on it,
// lands on a set source cell.
func DilateKernel(src []uint8, rows, cols int, kern []uint8, krows, kcols int) []uint8 {
	out := make([]uint8, rows*cols)
	cr := (krows - 1) / 2
	cc := (kcols - 1) / 2

	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			hit := false
		scan:
			for kr := 0; kr < krows; kr++ {
				for kc := 0; kc < kcols; kc++ {
					if kern[kr*kcols+kc] == 0 {
						continue
					}
					sr := r + kr - cr
					sc := c + kc - cc
					if sr >= 0 && sr < rows && sc >= 0 && sc < cols && src[sr*cols+sc] != 0 {
						hit = true
						break scan
					}
				}
			}
			if hit {
				out[r*cols+c] = 1
			}
		}
	}
	return out
}

// OpenKernel is erosion followed by dilation with the same structuring
// element; it removes small isolated foreground clusters no larger than
// the kernel while preserving the shape of larger regions.
func OpenKernel(src []uint8, rows, cols int, kern []uint8, krows, kcols int) []uint8 {
	eroded := ErodeKernel(src, rows, cols, kern, krows, kcols)
	return DilateKernel(eroded, rows, cols, kern, krows, kcols)
}

// squaredEDT computes, for every cell, the squared Euclidean distance to
// the nearest zero cell of mask, using the Felzenszwalb & Huttenlocher
// separable parabola-envelope algorithm. Zero cells get distance 0.
func squaredEDT(mask []uint8, rows, cols int) []float64 {
	const inf = math.MaxFloat64 / 4

	temp := make([]float64, rows*cols)
	for i, v := range mask {
		if v == 0 {
			temp[i] = 0
		} else {
			temp[i] = inf
		}
	}

	rowBuf := make([]float64, cols)
	colBuf := make([]float64, rows)
	maxDim := rows
	if cols > maxDim {
		maxDim = cols
	}
	v := make([]int, maxDim)
	z := make([]float64, maxDim+1)

	for r := 0; r < rows; r++ {
		start := r * cols
		copy(rowBuf, temp[start:start+cols])
		distanceTransform1D(rowBuf, rowBuf, v, z)
		copy(temp[start:start+cols], rowBuf)
	}
	for c := 0; c < cols; c++ {
		for r := 0; r < rows; r++ {
			colBuf[r] = temp[r*cols+c]
		}
		distanceTransform1D(colBuf, colBuf, v, z)
		for r := 0; r < rows; r++ {
			temp[r*cols+c] = colBuf[r]
		}
	}
	return temp
}

// distanceTransform1D computes the 1D squared distance transform via the
// lower-envelope-of-parabolas method. v must have len >= len(input), z
// must have len >= len(input)+1.
func distanceTransform1D(input, output []float64, v []int, z []float64) {
	n := len(input)
	k := 0
	v[0] = 0
	z[0] = math.Inf(-1)
	z[1] = math.Inf(1)

	for q := 1; q < n; q++ {
		var s float64
		for {
			s = ((input[q] + float64(q*q)) - (input[v[k]] + float64(v[k]*v[k]))) /
				(2.0 * float64(q-v[k]))
			if s <= z[k] {
				k--
				if k < 0 {
					break
				}
				continue
			}
			break
		}
		k++
		v[k] = q
		z[k] = s
		z[k+1] = math.Inf(1)
	}

	k = 0
	for q := 0; q < n; q++ {
		for z[k+1] < float64(q) {
			k++
		}
		dx := float64(q - v[k])
		output[q] = dx*dx + input[v[k]]
	}
}

// DilateDisk dilates a 0/1 mask by a disk of the given diameter in
// pixels: output cell is 1 if it lies within radius of any source cell.
func DilateDisk(src []uint8, rows, cols int, diameterPx float64) []uint8 {
	radius := diameterPx / 2.0
	distSq := squaredEDT(invertMask(src), rows, cols)
	out := make([]uint8, rows*cols)
	r2 := radius * radius
	for i, d := range distSq {
		if d <= r2 {
			out[i] = 1
		}
	}
	return out
}

// ErodeDisk erodes a 0/1 mask by a disk of the given diameter in pixels.
func ErodeDisk(src []uint8, rows, cols int, diameterPx float64) []uint8 {
	inv := invertMask(src)
	dilatedInv := DilateDisk(inv, rows, cols, diameterPx)
	return invertMask(dilatedInv)
}

// OpenDisk is ErodeDisk followed by DilateDisk with the same diameter.
func OpenDisk(src []uint8, rows, cols int, diameterPx float64) []uint8 {
	eroded := ErodeDisk(src, rows, cols, diameterPx)
	return DilateDisk(eroded, rows, cols, diameterPx)
}

// DilateKernelRaster dilates a 0/255 binary raster by kern.Rotated(),
// returning a new 0/255 raster with the same geo properties.
func DilateKernelRaster(src *raster.Buffer, kern *kernel.Kernel) *raster.Buffer {
	bin := make([]uint8, len(src.Data))
	for i, v := range src.Data {
		if src.Mask[i] != raster.MaskInvalid && v != 0 {
			bin[i] = 1
		}
	}
	rotated := kern.Rotated()
	dilated := DilateKernel(bin, src.Rows, src.Cols, rotated, kern.Rows, kern.Cols)

	out := raster.NewValidBuffer(src.Rows, src.Cols, src.Nodata)
	out.CopyGeoProperties(src)
	for i, v := range dilated {
		if v != 0 {
			out.Data[i] = 255
		}
	}
	return out
}

func invertMask(m []uint8) []uint8 {
	out := make([]uint8, len(m))
	for i, v := range m {
		if v == 0 {
			out[i] = 1
		}
	}
	return out
}
