package ops

import (
	"math"

	"github.com/MeKo-Tech/lad/internal/kernel"
	"github.com/MeKo-Tech/lad/internal/raster"
)

// ComputeMeasurabilityMap scores, for each cell, how well a disk-shaped
// geotechnical sensor can take a reading under the vehicle footprint: a
// plane is fit under the footprint exactly as in the slope filter, then
// scored by the cosine agreement between the sensor axis (0,0,1) and the
// local terrain normal, giving a value in [0,1] (1 = flat/well-coupled,
// 0 = perpendicular/unreadable). NoData propagates.
func ComputeMeasurabilityMap(raw *raster.Buffer, kern *kernel.Kernel, validMask *raster.Buffer, sx, sy float64) *raster.Buffer {
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

			_, _, cz, _ := FitPlane(pts)
			agreement := math.Abs(cz) // plane normal is already unit length
			if agreement > 1 {
				agreement = 1
			}
			out.Set(r, c, agreement)
		}
	}
	return out
}
