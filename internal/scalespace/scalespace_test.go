package scalespace

import (
	"errors"
	"math"
	"testing"

	"github.com/ironsheep/crownscan/internal/raster"
)

// createBumpGrid builds a grid with one gaussian-shaped bump of the given
// physical radius (meters) and peak amplitude, zero elsewhere. The bump
// profile uses sigma = (radius/gsd)/sqrt(2), the convention under which
// the LoG response is extremal at the level targeting that radius.
func createBumpGrid(rows, cols int, cy, cx int, radiusM, amp, gsd float64) *raster.Grid {
	g := raster.New(rows, cols, gsd)
	sigma := (radiusM / gsd) / math.Sqrt2
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			dr := float64(r - cy)
			dc := float64(c - cx)
			g.Data[r][c] = amp * math.Exp(-(dr*dr+dc*dc)/(2*sigma*sigma))
		}
	}
	return g
}

func TestBuild_InvalidParameters(t *testing.T) {
	g := raster.New(32, 32, 0.25)

	tests := []struct {
		name                    string
		minrad, maxrad, steprad float64
	}{
		{"zero minrad", 0, 10, 0.5},
		{"negative minrad", -1, 10, 0.5},
		{"zero steprad", 2.5, 10, 0},
		{"negative steprad", 2.5, 10, -0.5},
		{"minrad above maxrad", 12, 10, 0.5},
		{"under-sampled minrad", 0.5, 10, 0.5}, // 2 pixels at 0.25 m/pixel
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(g, tt.minrad, tt.maxrad, tt.steprad)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, ErrInvalidParameter) {
				t.Errorf("error %v does not wrap ErrInvalidParameter", err)
			}
		})
	}
}

func TestBuild_LevelCount(t *testing.T) {
	g := raster.New(16, 16, 0.25)

	sp, err := Build(g, 2.5, 20, 0.5)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(sp) != 36 {
		t.Errorf("level count: got %d, want 36", len(sp))
	}
	if sp[0].Radius != 2.5 {
		t.Errorf("first radius: got %g, want 2.5", sp[0].Radius)
	}
	if math.Abs(sp[35].Radius-20) > 1e-9 {
		t.Errorf("last radius: got %g, want 20", sp[35].Radius)
	}
}

func TestBuild_RadiiStrictlyIncreasing(t *testing.T) {
	g := raster.New(16, 16, 1)
	sp, err := Build(g, 3, 9, 1.5)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	for i := 1; i < len(sp); i++ {
		if sp[i].Radius <= sp[i-1].Radius {
			t.Errorf("level %d radius %g not above previous %g", i, sp[i].Radius, sp[i-1].Radius)
		}
	}
}

func TestBuild_FlatInputZeroResponse(t *testing.T) {
	g := raster.New(24, 24, 1)
	for r := range g.Data {
		for c := range g.Data[r] {
			g.Data[r][c] = 0.7
		}
	}

	sp, err := Build(g, 3, 6, 1)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	for _, level := range sp {
		rows, cols := level.Resp.Dims()
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				if math.Abs(level.Resp.Data[r][c]) > 1e-9 {
					t.Fatalf("flat input produced response %g at level r=%g (%d,%d)",
						level.Resp.Data[r][c], level.Radius, r, c)
				}
			}
		}
	}
}

func TestBuild_Deterministic(t *testing.T) {
	g := createBumpGrid(48, 48, 24, 24, 4, 1, 1)

	a, err := Build(g, 3, 8, 1)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	b, err := Build(g, 3, 8, 1)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	for i := range a {
		if a[i].Radius != b[i].Radius {
			t.Fatalf("level %d radius differs: %g vs %g", i, a[i].Radius, b[i].Radius)
		}
		rows, cols := a[i].Resp.Dims()
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				if a[i].Resp.Data[r][c] != b[i].Resp.Data[r][c] {
					t.Fatalf("level %d response differs at (%d,%d)", i, r, c)
				}
			}
		}
	}
}

func TestBuild_ResponsePeaksAtMatchingScale(t *testing.T) {
	const (
		radiusM = 5.0
		gsd     = 1.0
	)
	g := createBumpGrid(64, 64, 32, 32, radiusM, 1, gsd)

	sp, err := Build(g, 3, 8, 1)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	// The center response should be largest at the level whose radius
	// matches the bump.
	bestRadius := 0.0
	bestResp := math.Inf(-1)
	for _, level := range sp {
		if v := level.Resp.Data[32][32]; v > bestResp {
			bestResp = v
			bestRadius = level.Radius
		}
	}
	if bestResp <= 0 {
		t.Fatalf("center response %g not positive", bestResp)
	}
	if math.Abs(bestRadius-radiusM) > 1 {
		t.Errorf("peak scale: got radius %g, want within 1m of %g", bestRadius, radiusM)
	}
}
