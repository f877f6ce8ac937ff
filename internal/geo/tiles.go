package geo

import (
	"fmt"
	"math"
)

// Tile is one fetchable sub-box of a larger analysis area.
type Tile struct {
	// Name is the "i_j" grid position of the tile, used as the base
	// filename for cached imagery and per-tile results.
	Name string

	// Box is the tile's geographic extent.
	Box BBox
}

// Tiles cuts a bounding box into fixed-size tiles.
//
// Each tile covers imSize pixels per axis at the given ground sampling
// distance. The grid is anchored at the box's southwest corner and
// extends far enough to cover the full box, so the covered area (the
// second return value) may overshoot the requested box to the north and
// east by up to one tile.
func Tiles(full BBox, imSize int, gsd float64) ([]Tile, BBox, error) {
	if imSize <= 0 {
		return nil, BBox{}, fmt.Errorf("tile size must be positive, got %d", imSize)
	}
	if gsd <= 0 {
		return nil, BBox{}, fmt.Errorf("ground sampling distance must be positive, got %g", gsd)
	}

	full = full.Normalize()

	widthM := Haversine(full.MinLon, full.MinLat, full.MaxLon, full.MinLat)
	heightM := Haversine(full.MinLon, full.MinLat, full.MinLon, full.MaxLat)

	tileM := float64(imSize) * gsd
	stepsX := int(math.Ceil(widthM / tileM))
	stepsY := int(math.Ceil(heightM / tileM))
	if stepsX < 1 {
		stepsX = 1
	}
	if stepsY < 1 {
		stepsY = 1
	}

	// Degree step per tile, measured once at the anchor corner.
	stepLon, stepLat := Offset(full.MinLon, full.MinLat, tileM, tileM)
	dLon := stepLon - full.MinLon
	dLat := stepLat - full.MinLat

	tiles := make([]Tile, 0, stepsX*stepsY)
	for i := 0; i < stepsX; i++ {
		lon := full.MinLon + float64(i)*dLon
		for j := 0; j < stepsY; j++ {
			lat := full.MinLat + float64(j)*dLat
			tiles = append(tiles, Tile{
				Name: fmt.Sprintf("%d_%d", i, j),
				Box: BBox{
					MinLon: lon,
					MinLat: lat,
					MaxLon: lon + dLon,
					MaxLat: lat + dLat,
				},
			})
		}
	}

	covered := BBox{
		MinLon: full.MinLon,
		MinLat: full.MinLat,
		MaxLon: full.MinLon + float64(stepsX)*dLon,
		MaxLat: full.MinLat + float64(stepsY)*dLat,
	}
	return tiles, covered, nil
}
