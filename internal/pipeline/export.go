package pipeline

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/ironsheep/crownscan/internal/detect"
	"github.com/ironsheep/crownscan/internal/geo"
)

var resultHeader = []string{
	"longitude", "latitude", "radius", "diameter", "circumference", "area", "score",
}

// WriteTileCSV writes one tile's detections as a row-per-detection CSV.
func WriteTileCSV(path string, dets []detect.Detection) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create results file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(resultHeader); err != nil {
		return err
	}
	for _, d := range dets {
		row := []string{
			formatFloat(d.Lon),
			formatFloat(d.Lat),
			formatFloat(d.Radius),
			formatFloat(d.Diameter()),
			formatFloat(d.Circumference()),
			formatFloat(d.Area()),
			formatFloat(d.Score),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// MergeResults concatenates all per-tile result CSVs in a directory into
// full.csv, then removes the per-tile files. Returns the merged path.
//
// Tiles are merged in sorted name order so repeated runs over identical
// input produce byte-identical output.
func MergeResults(resultsDir string) (string, error) {
	pattern := filepath.Join(resultsDir, "*_*.csv")
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return "", err
	}
	sort.Strings(paths)

	mergedPath := filepath.Join(resultsDir, "full.csv")
	out, err := os.Create(mergedPath)
	if err != nil {
		return "", fmt.Errorf("create merged results: %w", err)
	}
	defer out.Close()

	w := csv.NewWriter(out)
	if err := w.Write(resultHeader); err != nil {
		return "", err
	}

	for _, path := range paths {
		if err := appendRows(w, path); err != nil {
			return "", fmt.Errorf("merge %s: %w", filepath.Base(path), err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}

	for _, path := range paths {
		if err := os.Remove(path); err != nil {
			return "", fmt.Errorf("remove merged source %s: %w", filepath.Base(path), err)
		}
	}
	return mergedPath, nil
}

func appendRows(w *csv.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return err
	}
	for i, row := range rows {
		if i == 0 {
			continue // header
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

// WriteCoordCSV records each tile's name and bounding box, matching the
// layout tools expect for inspecting which sub-areas a run covered.
func WriteCoordCSV(path string, tiles []geo.Tile) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create coord file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"filename", "lon min", "lat min", "lon max", "lat max"}); err != nil {
		return err
	}
	for _, t := range tiles {
		row := []string{
			t.Name,
			formatFloat(t.Box.MinLon),
			formatFloat(t.Box.MinLat),
			formatFloat(t.Box.MaxLon),
			formatFloat(t.Box.MaxLat),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
