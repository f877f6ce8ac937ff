// Package visual renders detection overlays for visual inspection of
// analysis output. Detected crowns are drawn as circle outlines over the
// source tile, colored along a perceptual ramp from weakest to strongest
// response score.
package visual

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/ironsheep/crownscan/internal/detect"
)

// Ramp endpoints: weak detections in yellow, strong ones in red.
var (
	rampLow, _  = colorful.Hex("#ffd60a")
	rampHigh, _ = colorful.Hex("#d00000")
)

// Overlay draws the detections onto a copy of the source tile image.
//
// Circle centers and radii are in pixel units; the caller converts
// detection radii from meters using the ground sampling distance. The
// stroke color of each circle is blended between the ramp endpoints by
// the detection's score relative to the strongest score in the set.
func Overlay(src image.Image, dets []detect.Detection, gsd float64) image.Image {
	bounds := src.Bounds()
	out := image.NewRGBA(bounds)
	draw.Draw(out, bounds, src, bounds.Min, draw.Src)

	var maxScore float64
	for _, d := range dets {
		if d.Score > maxScore {
			maxScore = d.Score
		}
	}

	for _, d := range dets {
		t := 0.0
		if maxScore > 0 {
			t = d.Score / maxScore
		}
		stroke := rampLow.BlendLuv(rampHigh, t).Clamped()
		c := color.RGBA{
			R: uint8(stroke.R*255 + 0.5),
			G: uint8(stroke.G*255 + 0.5),
			B: uint8(stroke.B*255 + 0.5),
			A: 255,
		}
		drawCircle(out, d.Col, d.Row, d.Radius/gsd, c)
	}
	return out
}

// Save writes an overlay image to path, format inferred from the
// extension.
func Save(img image.Image, path string) error {
	if err := imaging.Save(img, path); err != nil {
		return fmt.Errorf("save overlay: %w", err)
	}
	return nil
}

// drawCircle strokes a one-pixel circle outline. Steps are sized so
// adjacent samples land at most half a pixel apart, leaving no gaps.
func drawCircle(img *image.RGBA, cx, cy int, radius float64, c color.RGBA) {
	if radius < 1 {
		radius = 1
	}
	steps := int(4 * math.Pi * radius)
	if steps < 16 {
		steps = 16
	}
	bounds := img.Bounds()
	for i := 0; i < steps; i++ {
		theta := 2 * math.Pi * float64(i) / float64(steps)
		x := cx + int(radius*math.Cos(theta)+0.5)
		y := cy + int(radius*math.Sin(theta)+0.5)
		if x >= bounds.Min.X && x < bounds.Max.X && y >= bounds.Min.Y && y < bounds.Max.Y {
			img.SetRGBA(x, y, c)
		}
	}
}
