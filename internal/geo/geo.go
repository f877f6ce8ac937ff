package geo

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const earthRadiusKm = 6371

// BBox is a geographic bounding box in lon/lat degrees.
type BBox struct {
	MinLon float64 `json:"min_lon"`
	MinLat float64 `json:"min_lat"`
	MaxLon float64 `json:"max_lon"`
	MaxLat float64 `json:"max_lat"`
}

// Normalize returns a copy of the box with coordinates ordered low to
// high on both axes, the form map services expect.
func (b BBox) Normalize() BBox {
	if b.MaxLon < b.MinLon {
		b.MinLon, b.MaxLon = b.MaxLon, b.MinLon
	}
	if b.MaxLat < b.MinLat {
		b.MinLat, b.MaxLat = b.MaxLat, b.MinLat
	}
	return b
}

// String formats the box as "minlon,minlat,maxlon,maxlat", the order used
// in WMS GetMap requests and bounding-box tools.
func (b BBox) String() string {
	return fmt.Sprintf("%g,%g,%g,%g", b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
}

// ParseBBox parses a "lon1,lat1,lon2,lat2" string into a normalized box.
func ParseBBox(s string) (BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return BBox{}, fmt.Errorf("bbox must have 4 comma-separated values, got %d", len(parts))
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return BBox{}, fmt.Errorf("bbox component %d: %w", i+1, err)
		}
		vals[i] = v
	}
	b := BBox{MinLon: vals[0], MinLat: vals[1], MaxLon: vals[2], MaxLat: vals[3]}
	return b.Normalize(), nil
}

// Haversine returns the great-circle distance in meters between two
// lon/lat coordinates.
func Haversine(lon1, lat1, lon2, lat2 float64) float64 {
	lon1 = lon1 * math.Pi / 180
	lat1 = lat1 * math.Pi / 180
	lon2 = lon2 * math.Pi / 180
	lat2 = lat2 * math.Pi / 180

	dlon := lon2 - lon1
	dlat := lat2 - lat1

	a := math.Pow(math.Sin(dlat/2), 2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Pow(math.Sin(dlon/2), 2)
	c := 2 * math.Asin(math.Sqrt(a))

	return c * earthRadiusKm * 1000
}

// Offset returns the lon/lat coordinate reached by moving dx meters east
// and dy meters north from the given starting coordinate. The inverse of
// Haversine for small offsets.
func Offset(lon, lat, dx, dy float64) (float64, float64) {
	dxKm := dx / 1000
	dyKm := dy / 1000
	lon2 := lon + (dxKm/earthRadiusKm)*(180/math.Pi)/math.Cos(lat*math.Pi/180)
	lat2 := lat + (dyKm/earthRadiusKm)*(180/math.Pi)
	return lon2, lat2
}

// PixelToLonLat converts a pixel position inside a tile raster to a
// geographic coordinate.
//
// Raster rows count down from the top of the image while latitude grows
// northward, so the row axis is flipped against the raster height before
// the metric offset from the tile's southwest corner is applied.
func PixelToLonLat(row, col float64, rows int, gsd float64, tile BBox) (float64, float64) {
	x := col
	y := float64(rows) - row
	return Offset(tile.MinLon, tile.MinLat, x*gsd, y*gsd)
}
