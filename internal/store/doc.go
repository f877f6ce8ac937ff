// Package store persists analysis runs and their artifacts: an sqlite
// database indexing runs, per-tile status and detections, plus an
// on-disk image cache for fetched tiles. Failed tiles recorded here feed
// the retry mode, which reprocesses only what a previous run missed.
package store
