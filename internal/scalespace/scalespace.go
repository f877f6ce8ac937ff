package scalespace

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/ironsheep/crownscan/internal/raster"
)

// ErrInvalidParameter reports a scale-range configuration that violates
// the builder's preconditions. It is a configuration defect: the caller
// should abort the invocation rather than retry.
var ErrInvalidParameter = errors.New("invalid scale-space parameter")

// minPixelsPerRadius is the smallest feature radius, in pixels, for which
// the gaussian filter is adequately sampled. Below this the smallest
// scale level is numerically unstable.
const minPixelsPerRadius = 3

// Level is one entry in a scale space: the physical feature radius it
// targets and the scale-normalized filter response over the input grid.
type Level struct {
	// Radius is the blob radius in meters this level responds to.
	Radius float64

	// Resp holds the filter response, same dimensions as the input.
	// Positive values indicate bright blob-like structure of roughly
	// this level's radius.
	Resp *raster.Grid
}

// Space is an ordered sequence of levels with strictly increasing radius.
type Space []Level

// Build constructs the scale space for a grid over the radius range
// [minrad, maxrad] in meters, sampled every steprad meters (inclusive of
// maxrad, with an epsilon tolerance for floating accumulation).
//
// Each level applies a Laplacian-of-Gaussian filter tuned to its radius:
// the grid is smoothed with a gaussian of sigma = (radius/GSD)/sqrt(2)
// pixels, a discrete 5-point laplacian is taken, and the result is
// negated and multiplied by sigma^2. The sigma^2 factor scale-normalizes
// the response so magnitudes are comparable across radii; without it,
// larger filters would report systematically weaker responses from
// kernel scaling alone.
//
// Build is a pure function: identical inputs produce identical output.
// Levels are computed concurrently but returned in radius order.
//
// Returns an error wrapping ErrInvalidParameter when minrad or steprad is
// not positive, minrad exceeds maxrad, or minrad spans fewer than 3
// pixels at the grid's ground sampling distance.
func Build(g *raster.Grid, minrad, maxrad, steprad float64) (Space, error) {
	if minrad <= 0 {
		return nil, fmt.Errorf("%w: minrad must be positive, got %g", ErrInvalidParameter, minrad)
	}
	if steprad <= 0 {
		return nil, fmt.Errorf("%w: steprad must be positive, got %g", ErrInvalidParameter, steprad)
	}
	if minrad > maxrad {
		return nil, fmt.Errorf("%w: minrad %g exceeds maxrad %g", ErrInvalidParameter, minrad, maxrad)
	}
	if g.GSD <= 0 {
		return nil, fmt.Errorf("%w: ground sampling distance must be positive, got %g", ErrInvalidParameter, g.GSD)
	}
	if minrad/g.GSD < minPixelsPerRadius {
		return nil, fmt.Errorf("%w: minrad %gm spans %.2f pixels at %gm/pixel, need at least %d",
			ErrInvalidParameter, minrad, minrad/g.GSD, g.GSD, minPixelsPerRadius)
	}

	// Index-based sampling keeps the level count stable against float
	// accumulation drift across the range.
	eps := steprad * 1e-9
	n := int(math.Floor((maxrad-minrad)/steprad+eps)) + 1

	space := make(Space, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			radius := minrad + float64(i)*steprad
			sigma := (radius / g.GSD) / math.Sqrt2
			space[i] = Level{
				Radius: radius,
				Resp:   logResponse(g, sigma),
			}
		}(i)
	}
	wg.Wait()

	return space, nil
}

// logResponse computes the negated, scale-normalized
// Laplacian-of-Gaussian response at one sigma.
func logResponse(g *raster.Grid, sigma float64) *raster.Grid {
	smoothed := gaussianSmooth(g, sigma)

	rows, cols := smoothed.Dims()
	out := raster.New(rows, cols, g.GSD)
	norm := sigma * sigma
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			up := smoothed.Data[clamp(r-1, 0, rows-1)][c]
			down := smoothed.Data[clamp(r+1, 0, rows-1)][c]
			left := smoothed.Data[r][clamp(c-1, 0, cols-1)]
			right := smoothed.Data[r][clamp(c+1, 0, cols-1)]
			lap := up + down + left + right - 4*smoothed.Data[r][c]
			out.Data[r][c] = -norm * lap
		}
	}
	return out
}

// gaussianSmooth convolves the grid with a normalized gaussian kernel,
// applied separably (rows then columns). Border pixels use clamped
// (replicated) edge values.
func gaussianSmooth(g *raster.Grid, sigma float64) *raster.Grid {
	kernel := gaussianKernel(sigma)
	kr := len(kernel) / 2
	rows, cols := g.Dims()

	horiz := raster.New(rows, cols, g.GSD)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			var sum float64
			for k := -kr; k <= kr; k++ {
				sum += g.Data[r][clamp(c+k, 0, cols-1)] * kernel[k+kr]
			}
			horiz.Data[r][c] = sum
		}
	}

	out := raster.New(rows, cols, g.GSD)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			var sum float64
			for k := -kr; k <= kr; k++ {
				sum += horiz.Data[clamp(r+k, 0, rows-1)][c] * kernel[k+kr]
			}
			out.Data[r][c] = sum
		}
	}
	return out
}

// gaussianKernel builds a 1-D gaussian of the given sigma, truncated at
// 3 sigma and normalized to unit sum.
func gaussianKernel(sigma float64) []float64 {
	kr := int(math.Ceil(3 * sigma))
	if kr < 1 {
		kr = 1
	}
	kernel := make([]float64, 2*kr+1)
	twoSigmaSq := 2 * sigma * sigma
	for k := -kr; k <= kr; k++ {
		kernel[k+kr] = math.Exp(-float64(k*k) / twoSigmaSq)
	}
	floats.Scale(1/floats.Sum(kernel), kernel)
	return kernel
}

func clamp(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
