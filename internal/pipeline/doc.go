// Package pipeline orchestrates a full crown detection run: cutting the
// requested bounding box into tiles, fetching imagery per tile, running
// the scale-space detection core, and persisting detections to sqlite
// and CSV.
//
// Each tile is an independent pipeline invocation owning its own raster,
// scale space and candidate set; tiles share no mutable state and are
// processed by a fixed-size worker pool. The detection stages themselves
// are pure and synchronous.
package pipeline
