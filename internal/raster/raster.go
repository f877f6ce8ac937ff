package raster

import (
	"fmt"
	"image"

	"gonum.org/v1/gonum/floats"
)

// Grid is a single-channel raster: real-valued samples in row-major order
// plus the ground sampling distance tying pixels to physical size.
//
// A Grid is immutable by convention once handed to the detection pipeline.
// Use Clone before mutating a grid that another stage may still read.
type Grid struct {
	// Data holds sample values indexed as Data[row][col].
	Data [][]float64

	// GSD is the ground sampling distance in meters per pixel.
	GSD float64
}

// New allocates a zero-filled grid of the given dimensions.
func New(rows, cols int, gsd float64) *Grid {
	data := make([][]float64, rows)
	for r := range data {
		data[r] = make([]float64, cols)
	}
	return &Grid{Data: data, GSD: gsd}
}

// Dims returns the grid dimensions as (rows, cols).
func (g *Grid) Dims() (int, int) {
	if len(g.Data) == 0 {
		return 0, 0
	}
	return len(g.Data), len(g.Data[0])
}

// At returns the sample at (row, col). No bounds checking is performed.
func (g *Grid) At(row, col int) float64 {
	return g.Data[row][col]
}

// Clone returns a deep copy of the grid.
func (g *Grid) Clone() *Grid {
	rows, cols := g.Dims()
	out := New(rows, cols, g.GSD)
	for r := 0; r < rows; r++ {
		copy(out.Data[r], g.Data[r])
	}
	return out
}

// Max returns the largest sample value, or 0 for an empty grid.
func (g *Grid) Max() float64 {
	rows, _ := g.Dims()
	if rows == 0 {
		return 0
	}
	max := floats.Max(g.Data[0])
	for r := 1; r < rows; r++ {
		if m := floats.Max(g.Data[r]); m > max {
			max = m
		}
	}
	return max
}

// FromImage converts an image to a luminance grid using ITU-R BT.601
// weights (0.299*R + 0.587*G + 0.114*B), with values scaled to [0, 1].
func FromImage(img image.Image, gsd float64) *Grid {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	g := New(height, width, gsd)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, gr, b, _ := img.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()
			rf := float64(r>>8) / 255.0
			gf := float64(gr>>8) / 255.0
			bf := float64(b>>8) / 255.0
			g.Data[y][x] = 0.299*rf + 0.587*gf + 0.114*bf
		}
	}
	return g
}

// Channel extracts a single color channel from an image as a grid, with
// values divided by maxValue so a full-range channel maps to [0, 1].
//
// Near-infrared false color imagery encodes NIR reflectance in channel 0,
// red in channel 1 and green in channel 2.
func Channel(img image.Image, ch int, maxValue float64, gsd float64) (*Grid, error) {
	if ch < 0 || ch > 2 {
		return nil, fmt.Errorf("channel index %d out of range [0, 2]", ch)
	}
	if maxValue <= 0 {
		return nil, fmt.Errorf("max value must be positive, got %g", maxValue)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	g := New(height, width, gsd)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, gr, b, _ := img.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()
			var v float64
			switch ch {
			case 0:
				v = float64(r >> 8)
			case 1:
				v = float64(gr >> 8)
			case 2:
				v = float64(b >> 8)
			}
			g.Data[y][x] = v / maxValue
		}
	}
	return g, nil
}
