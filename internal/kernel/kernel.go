// Package kernel implements the binary structuring element used by
// morphology and windowed-filter operators: a small 0/1 raster with an
// associated rotation angle and a lazily rebuilt rotated copy.
package kernel

import (
	"math"
	"sync"

	"github.com/MeKo-Tech/lad/internal/errs"
)

// Shape selects the structuring-element fill used by NewTemplate.
type Shape int

const (
	ShapeRect Shape = iota
	ShapeEllipse
)

// Kernel is a small binary (0/1) raster plus a rotation angle and a
// derived, nearest-neighbour-resampled rotated buffer. Mutating Base or
// the rotation invalidates Rotated; the Rotated accessor rebuilds the
// buffer when it is dirty, and SetRotation rebuilds eagerly.
type Kernel struct {
	mu sync.Mutex

	Rows, Cols int
	Base       []uint8 // row-major 0/1

	rotationDeg float64
	rotated     []uint8 // row-major 0/1, same Rows x Cols bounding box
	dirty       bool
}

// NewTemplate builds a kernel inscribed in a ceil(length_m/|sy|) x
// ceil(width_m/|sx|) rectangle, filled per shape.
func NewTemplate(widthM, lengthM, sx, sy float64, shape Shape) (*Kernel, error) {
	if widthM <= 0 || lengthM <= 0 {
		return nil, errs.New(errs.KindWrongArgument, "kernel width_m and length_m must be positive, got %v, %v", widthM, lengthM)
	}
	if sx*sy == 0 {
		return nil, errs.New(errs.KindWrongArgument, "kernel pixel size sx*sy must be nonzero")
	}
	sx, sy = math.Abs(sx), math.Abs(sy)

	ncols := int(math.Ceil(widthM / sx))
	nrows := int(math.Ceil(lengthM / sy))
	if ncols < 1 {
		ncols = 1
	}
	if nrows < 1 {
		nrows = 1
	}

	k := &Kernel{Rows: nrows, Cols: ncols, Base: make([]uint8, nrows*ncols)}

	cr := float64(nrows-1) / 2.0
	cc := float64(ncols-1) / 2.0
	switch shape {
	case ShapeRect:
		for i := range k.Base {
			k.Base[i] = 1
		}
	case ShapeEllipse:
		rr := float64(nrows) / 2.0
		rc := float64(ncols) / 2.0
		for r := 0; r < nrows; r++ {
			for c := 0; c < ncols; c++ {
				dy := (float64(r) - cr) / rr
				dx := (float64(c) - cc) / rc
				if dx*dx+dy*dy <= 1.0 {
					k.Base[r*ncols+c] = 1
				}
			}
		}
	}

	k.dirty = true
	return k, nil
}

// NewDisk builds a square kernel filled with a disk of the given diameter
// in pixels (values below 1 are raised to 1). diameterPx may be
// fractional; the box side is ceil(diameterPx), raised to the next odd
// number so the disk has a centre cell.
func NewDisk(diameterPx float64) *Kernel {
	if diameterPx < 1 {
		diameterPx = 1
	}
	n := int(math.Ceil(diameterPx))
	if n%2 == 0 {
		n++
	}
	k := &Kernel{Rows: n, Cols: n, Base: make([]uint8, n*n)}

	radius := diameterPx / 2.0
	center := float64(n-1) / 2.0
	for r := 0; r < n; r++ {
		for c := 0; c < n; c++ {
			dy := float64(r) - center
			dx := float64(c) - center
			if dx*dx+dy*dy <= radius*radius {
				k.Base[r*n+c] = 1
			}
		}
	}
	k.dirty = true
	return k
}

// MarkDirty forces the next Rotated call to rebuild.
func (k *Kernel) MarkDirty() {
	k.mu.Lock()
	k.dirty = true
	k.mu.Unlock()
}

// SetRotation records deg and rebuilds Rotated immediately. The rebuild
// is deterministic: calling SetRotation(deg) twice in a row produces
// identical Rotated buffers.
func (k *Kernel) SetRotation(deg float64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.rotationDeg = deg
	k.rebuildLocked()
}

// RotationDeg returns the currently recorded rotation angle.
func (k *Kernel) RotationDeg() float64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.rotationDeg
}

// Rotated returns the rotated buffer, rebuilding first if dirty.
func (k *Kernel) Rotated() []uint8 {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.dirty {
		k.rebuildLocked()
	}
	return k.rotated
}

func (k *Kernel) rebuildLocked() {
	out := make([]uint8, k.Rows*k.Cols)
	theta := -k.rotationDeg * math.Pi / 180.0 // rotate sampling grid by -theta to rotate the shape by +theta
	sin, cos := math.Sin(theta), math.Cos(theta)
	cr := float64(k.Rows-1) / 2.0
	cc := float64(k.Cols-1) / 2.0

	for r := 0; r < k.Rows; r++ {
		for c := 0; c < k.Cols; c++ {
			dy := float64(r) - cr
			dx := float64(c) - cc
			// Sample the base kernel at the point that maps to (dx,dy)
			// under the forward rotation, i.e. apply the inverse rotation.
			sx := dx*cos - dy*sin
			sy := dx*sin + dy*cos
			srcCol := int(math.Round(sx + cc))
			srcRow := int(math.Round(sy + cr))
			if srcRow < 0 || srcRow >= k.Rows || srcCol < 0 || srcCol >= k.Cols {
				continue
			}
			v := k.Base[srcRow*k.Cols+srcCol]
			if v > 0 {
				out[r*k.Cols+c] = 1
			}
		}
	}
	k.rotated = out
	k.dirty = false
}

// Clone returns a deep, independent copy of k.
func (k *Kernel) Clone() *Kernel {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := &Kernel{
		Rows:        k.Rows,
		Cols:        k.Cols,
		Base:        append([]uint8(nil), k.Base...),
		rotationDeg: k.rotationDeg,
		dirty:       true,
	}
	return out
}

// At reports whether the rotated kernel is set at (row, col).
func (k *Kernel) At(rotated []uint8, row, col int) bool {
	if row < 0 || row >= k.Rows || col < 0 || col >= k.Cols {
		return false
	}
	return rotated[row*k.Cols+col] != 0
}
