package raster

// NDVI computes the Normalized Difference Vegetation Index from NIR and
// red reflectance grids: (nir - red) / (nir + red).
//
// NDVI ranges from -1 to 1; values above roughly 0.2-0.3 typically
// indicate living vegetation. Pixels where nir + red is zero (no
// reflected light at all) are set to 0.
//
// Both grids must have identical dimensions; NDVI panics otherwise, as
// mismatched channels from the same source image indicate a programming
// error rather than a recoverable condition.
func NDVI(nir, red *Grid) *Grid {
	rows, cols := mustSameDims(nir, red)
	out := New(rows, cols, nir.GSD)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			n := nir.Data[r][c]
			rd := red.Data[r][c]
			if sum := n + rd; sum != 0 {
				out.Data[r][c] = (n - rd) / sum
			}
		}
	}
	return out
}

// SAVI computes the Soil-Adjusted Vegetation Index:
// ((1 + l) * (nir - red)) / (nir + red + l).
//
// The adjustment factor l accounts for soil brightness effects that make
// plain NDVI unstable over sparse canopy; 0.5 is the conventional default.
func SAVI(nir, red *Grid, l float64) *Grid {
	rows, cols := mustSameDims(nir, red)
	out := New(rows, cols, nir.GSD)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			n := nir.Data[r][c]
			rd := red.Data[r][c]
			if denom := n + rd + l; denom != 0 {
				out.Data[r][c] = ((1 + l) * (n - rd)) / denom
			}
		}
	}
	return out
}

// EVI2 computes the two-band approximation of the Enhanced Vegetation
// Index: g * (nir - red) / (l + nir + c*red), with the MODIS coefficients
// g=2.5, c=2.4, l=1. Used when the source imagery has no blue band, which
// is the case for NIR false-color aerial photography.
func EVI2(nir, red *Grid) *Grid {
	const (
		gain = 2.5
		c    = 2.4
		l    = 1.0
	)
	rows, cols := mustSameDims(nir, red)
	out := New(rows, cols, nir.GSD)
	for r := 0; r < rows; r++ {
		for cc := 0; cc < cols; cc++ {
			n := nir.Data[r][cc]
			rd := red.Data[r][cc]
			if denom := l + n + c*rd; denom != 0 {
				out.Data[r][cc] = gain * (n - rd) / denom
			}
		}
	}
	return out
}

func mustSameDims(a, b *Grid) (int, int) {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	if ar != br || ac != bc {
		panic("raster: index input grids have mismatched dimensions")
	}
	return ar, ac
}
