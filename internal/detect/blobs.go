package detect

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/ironsheep/crownscan/internal/geo"
	"github.com/ironsheep/crownscan/internal/scalespace"
)

// Candidate is a local maximum in the (row, col, scale) response volume.
type Candidate struct {
	// Row and Col are the pixel position of the maximum.
	Row int `json:"row"`
	Col int `json:"col"`

	// Radius is the physical blob radius in meters, taken from the
	// scale level the maximum was found at.
	Radius float64 `json:"radius"`

	// Score is the scale-normalized filter response at the maximum.
	Score float64 `json:"score"`
}

// Detection is a candidate that survived overlap pruning, promoted with
// geographic coordinates and derived crown measurements.
type Detection struct {
	Candidate

	// Lon and Lat are the geographic position of the crown center.
	Lon float64 `json:"longitude"`
	Lat float64 `json:"latitude"`
}

// Diameter returns the crown diameter in meters.
func (d Detection) Diameter() float64 { return 2 * d.Radius }

// Circumference returns the crown circumference in meters.
func (d Detection) Circumference() float64 { return 2 * math.Pi * d.Radius }

// Area returns the crown disk area in square meters.
func (d Detection) Area() float64 { return math.Pi * d.Radius * d.Radius }

// Result contains the detections for one tile, sorted strongest first.
type Result struct {
	// Detections is the final pruned detection set.
	Detections []Detection `json:"detections"`

	// Count is the number of detections.
	Count int `json:"count"`

	// CandidateCount is the number of local maxima before pruning.
	CandidateCount int `json:"candidate_count"`
}

// Crowns runs extraction, pruning and geographic promotion over a built
// scale space in one call. rows is the raster height in pixels and tile
// the raster's geographic extent; both feed the pixel-to-coordinate
// transform. An empty result is a valid outcome, not an error.
func Crowns(sp scalespace.Space, relThreshold, overlapThreshold, gsd float64, rows int, tile geo.BBox) *Result {
	cands := ExtractCandidates(sp, relThreshold)
	pruned := PruneOverlaps(cands, overlapThreshold, gsd)
	return &Result{
		Detections:     Promote(pruned, rows, gsd, tile),
		Count:          len(pruned),
		CandidateCount: len(cands),
	}
}

// ExtractCandidates scans a scale space for local maxima in the
// (row, col, scale) volume and filters them by relative strength.
//
// A voxel is a local maximum when its response is >= every response in
// its 26-neighborhood: the 8 spatial neighbors at its own scale plus the
// 9 corresponding neighbors at the scale immediately above and below,
// where those levels exist. Pixels within one pixel of the raster border
// are excluded, as filter responses are unreliable there.
//
// A maximum survives only if its response exceeds a small absolute floor
// and is at least relThreshold times the largest response anywhere in the
// volume. Tying the cutoff to the volume maximum adapts the noise floor
// to the image's own response dynamics; the absolute floor rejects the
// zero (up to rounding residue) response of featureless input, for which
// any relative cutoff would otherwise degenerate to nothing.
//
// Candidates are returned in scan order (scale, row, col ascending);
// callers needing a different order must impose it themselves.
func ExtractCandidates(sp scalespace.Space, relThreshold float64) []Candidate {
	// Filtering a constant raster leaves rounding residue on the order of
	// an ulp per tap; anything below this floor is numerically zero.
	const responseFloor = 1e-9

	if len(sp) == 0 {
		return nil
	}
	rows, cols := sp[0].Resp.Dims()
	if rows < 3 || cols < 3 {
		return nil
	}

	var volumeMax float64
	for _, level := range sp {
		for r := 0; r < rows; r++ {
			if m := floats.Max(level.Resp.Data[r]); m > volumeMax {
				volumeMax = m
			}
		}
	}
	cutoff := relThreshold * volumeMax

	var cands []Candidate
	for s, level := range sp {
		for r := 1; r < rows-1; r++ {
			for c := 1; c < cols-1; c++ {
				v := level.Resp.Data[r][c]
				if v <= responseFloor || v < cutoff {
					continue
				}
				if isLocalMax(sp, s, r, c, v) {
					cands = append(cands, Candidate{
						Row:    r,
						Col:    c,
						Radius: level.Radius,
						Score:  v,
					})
				}
			}
		}
	}
	return cands
}

// isLocalMax reports whether the response v at (scale s, row r, col c)
// is >= all neighbors in the existing part of its 26-neighborhood.
func isLocalMax(sp scalespace.Space, s, r, c int, v float64) bool {
	for ds := -1; ds <= 1; ds++ {
		ns := s + ds
		if ns < 0 || ns >= len(sp) {
			continue
		}
		resp := sp[ns].Resp
		for dr := -1; dr <= 1; dr++ {
			for dc := -1; dc <= 1; dc++ {
				if ds == 0 && dr == 0 && dc == 0 {
					continue
				}
				if resp.Data[r+dr][c+dc] > v {
					return false
				}
			}
		}
	}
	return true
}

// PruneOverlaps resolves geometric conflicts among candidates with a
// greedy strongest-first suppression pass.
//
// Candidates are ordered by score descending, ties broken by larger
// radius, then row-major position, so the result is fully deterministic.
// Each candidate is accepted unless it conflicts with an already accepted
// one. Modeling each candidate as a disk at its pixel position, a pair
// conflicts when the center distance eats more than overlapThreshold of
// the smaller disk's diameter:
//
//	(2*rSmall - dist) / rSmall >= overlapThreshold
//
// Measuring against the smaller radius means a small candidate engulfed
// by a larger accepted disk is always pruned, regardless of how large the
// bigger disk is. Rejected candidates are never revisited.
//
// The returned slice is never larger than the input and preserves the
// strongest-first ordering.
func PruneOverlaps(cands []Candidate, overlapThreshold float64, gsd float64) []Candidate {
	ordered := make([]Candidate, len(cands))
	copy(ordered, cands)
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Radius != b.Radius {
			return a.Radius > b.Radius
		}
		if a.Row != b.Row {
			return a.Row < b.Row
		}
		return a.Col < b.Col
	})

	accepted := make([]Candidate, 0, len(ordered))
	for _, cand := range ordered {
		conflict := false
		for _, acc := range accepted {
			if overlaps(cand, acc, overlapThreshold, gsd) {
				conflict = true
				break
			}
		}
		if !conflict {
			accepted = append(accepted, cand)
		}
	}
	return accepted
}

// overlaps reports whether two candidate disks overlap by more than the
// threshold fraction of the smaller disk's radius.
func overlaps(a, b Candidate, threshold, gsd float64) bool {
	dr := float64(a.Row - b.Row)
	dc := float64(a.Col - b.Col)
	dist := math.Sqrt(dr*dr+dc*dc) * gsd

	rSmall := a.Radius
	if b.Radius < rSmall {
		rSmall = b.Radius
	}
	return (2*rSmall-dist)/rSmall >= threshold
}

// Promote converts pruned candidates into detections with geographic
// coordinates derived from the tile's bounding box and raster height.
func Promote(cands []Candidate, rows int, gsd float64, tile geo.BBox) []Detection {
	dets := make([]Detection, len(cands))
	for i, c := range cands {
		lon, lat := geo.PixelToLonLat(float64(c.Row), float64(c.Col), rows, gsd, tile)
		dets[i] = Detection{Candidate: c, Lon: lon, Lat: lat}
	}
	return dets
}
