// Package detect extracts blob candidates from a scale space and prunes
// overlapping detections down to a final crown set.
//
// The two stages are pure functions over immutable inputs. Extraction
// finds local maxima in the joint (row, col, scale) response volume and
// keeps those above a relative strength cutoff; pruning runs a greedy
// strongest-first suppression over the survivors, so the output is a
// deterministic subset of the candidates, never a superset.
//
// # Determinism
//
// Repeated runs over identical input produce byte-identical results.
// Extraction scans in a fixed (scale, row, col) order, and pruning
// imposes a total order on candidates: score descending, then radius
// descending, then row-major position.
package detect
