package pipeline

import (
	"context"
	"crypto/sha1"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ironsheep/crownscan/internal/config"
	"github.com/ironsheep/crownscan/internal/detect"
	"github.com/ironsheep/crownscan/internal/geo"
	"github.com/ironsheep/crownscan/internal/raster"
	"github.com/ironsheep/crownscan/internal/scalespace"
	"github.com/ironsheep/crownscan/internal/store"
	"github.com/ironsheep/crownscan/internal/visual"
	"github.com/ironsheep/crownscan/internal/wms"
)

// Summary reports the outcome of one analysis run.
type Summary struct {
	RunID      string
	Total      int
	Succeeded  []string
	Failed     []string
	Detections int
	CSVPath    string
	Elapsed    time.Duration
}

// Pipeline runs the full fetch-analyze-persist loop for a bounding box.
type Pipeline struct {
	cfg     *config.Config
	log     *zap.SugaredLogger
	clients map[string]*wms.Client
}

// New builds a pipeline from a validated configuration.
func New(cfg *config.Config, log *zap.SugaredLogger) *Pipeline {
	clients := make(map[string]*wms.Client)
	for key, api := range cfg.Data.API {
		if !api.Use {
			continue
		}
		clients[key] = wms.New(wms.Options{
			Name:    key,
			URL:     api.URL,
			Layer:   api.Layer,
			Version: api.Version,
			Format:  api.Format,
			CRS:     cfg.Data.CoordCRS,
			Retries: cfg.General.FetchRetries,
		}, log)
	}
	return &Pipeline{cfg: cfg, log: log, clients: clients}
}

// Run analyzes a bounding box: tiles it, fetches imagery per tile,
// detects crowns, and exports the merged results CSV.
//
// Individual tile failures (fetch errors, decode errors) are recorded
// and skipped; they never abort the run. A scale-space parameter error
// is a configuration defect and aborts immediately.
//
// When retryFailed is true, only the tiles that failed in the most
// recent run with identical settings are processed.
func (p *Pipeline) Run(ctx context.Context, box geo.BBox, retryFailed bool) (*Summary, error) {
	start := time.Now()
	box = box.Normalize()

	tiles, covered, err := geo.Tiles(box, p.cfg.Data.ImSizeOut, p.cfg.Data.PixelSize)
	if err != nil {
		return nil, fmt.Errorf("tile bounding box: %w", err)
	}

	hash, err := p.settingsHash(box)
	if err != nil {
		return nil, err
	}
	baseDir := filepath.Join(p.cfg.General.DataDir, hash)
	resultsDir := filepath.Join(baseDir, "results")
	if err := os.MkdirAll(resultsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create run directory: %w", err)
	}

	if err := p.writeRunMetadata(baseDir, tiles); err != nil {
		return nil, err
	}

	db, err := store.Open(filepath.Join(baseDir, "crownscan.db"))
	if err != nil {
		return nil, err
	}
	defer db.Close()

	cache, err := store.NewTileCache(baseDir, "png")
	if err != nil {
		return nil, err
	}

	if retryFailed {
		failed, err := db.FailedTiles(hash)
		if err != nil {
			return nil, err
		}
		tiles = filterTiles(tiles, failed)
		p.log.Infow("retrying failed tiles", "count", len(tiles))
	}

	runID, err := db.CreateRun(box, hash)
	if err != nil {
		return nil, err
	}
	p.log.Infow("starting run",
		"run", runID, "bbox", box.String(), "covered", covered.String(),
		"tiles", len(tiles), "workers", p.cfg.General.Workers)

	summary := &Summary{RunID: runID, Total: len(tiles)}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type tileOutcome struct {
		name string
		box  geo.BBox
		err  error
	}

	jobs := make(chan geo.Tile)
	outcomes := make(chan tileOutcome)

	var wg sync.WaitGroup
	for w := 0; w < p.cfg.General.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tile := range jobs {
				err := p.processTile(ctx, db, cache, resultsDir, runID, hash, tile)
				select {
				case outcomes <- tileOutcome{name: tile.Name, box: tile.Box, err: err}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, tile := range tiles {
			select {
			case jobs <- tile:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	var fatal error
	done := 0
	for oc := range outcomes {
		done++
		switch {
		case oc.err == nil:
			summary.Succeeded = append(summary.Succeeded, oc.name)
			if err := db.SetTileStatus(runID, oc.name, oc.box, "success"); err != nil {
				p.log.Warnw("record tile status", "tile", oc.name, "error", err)
			}
		case errors.Is(oc.err, scalespace.ErrInvalidParameter):
			// Configuration defect, not a transient fault. Stop everything.
			fatal = oc.err
			cancel()
		default:
			summary.Failed = append(summary.Failed, oc.name)
			if err := db.SetTileStatus(runID, oc.name, oc.box, "fail"); err != nil {
				p.log.Warnw("record tile status", "tile", oc.name, "error", err)
			}
			p.log.Errorw("tile failed", "tile", oc.name, "error", oc.err)
		}
		p.log.Infow("tile done", "done", done, "total", len(tiles))
	}

	if fatal != nil {
		return nil, fatal
	}

	if err := db.FinishRun(runID); err != nil {
		p.log.Warnw("finish run", "error", err)
	}

	dets, err := db.Detections(runID)
	if err != nil {
		return nil, err
	}
	summary.Detections = len(dets)

	csvPath, err := MergeResults(resultsDir)
	if err != nil {
		return nil, fmt.Errorf("merge results: %w", err)
	}
	summary.CSVPath = csvPath
	summary.Elapsed = time.Since(start)

	p.log.Infow("run complete",
		"total", summary.Total, "success", len(summary.Succeeded),
		"fail", len(summary.Failed), "detections", summary.Detections,
		"csv", csvPath, "elapsed", summary.Elapsed)
	if len(summary.Failed) > 0 {
		p.log.Warnw("some tiles failed; rerun with retry mode", "tiles", summary.Failed)
	}
	return summary, nil
}

// processTile fetches one tile's imagery and runs the detection core
// over it, persisting detections, the per-tile CSV and optional overlay.
func (p *Pipeline) processTile(ctx context.Context, db *store.Store, cache *store.TileCache, resultsDir, runID, hash string, tile geo.Tile) error {
	if !p.cfg.General.RedoIfAlreadyProcessed {
		done, err := db.TileSucceeded(hash, tile.Name)
		if err != nil {
			return err
		}
		if done {
			p.log.Debugw("tile already processed", "tile", tile.Name)
			return nil
		}
	}

	nirImg, err := p.sourceImage(ctx, cache, "nir", tile)
	if err != nil {
		return err
	}

	api := p.cfg.Data.API["nir"]
	gsd := p.cfg.Data.PixelSize
	nir, err := raster.Channel(nirImg, 0, api.MaxValue, gsd)
	if err != nil {
		return err
	}
	red, err := raster.Channel(nirImg, 1, api.MaxValue, gsd)
	if err != nil {
		return err
	}
	ndvi := raster.NDVI(nir, red)

	sp, err := scalespace.Build(ndvi,
		p.cfg.ScaleSpace.MinRad, p.cfg.ScaleSpace.MaxRad, p.cfg.ScaleSpace.StepRad)
	if err != nil {
		return err
	}

	rows, _ := ndvi.Dims()
	result := detect.Crowns(sp,
		p.cfg.ScaleSpace.ThresholdRelBlobPeaks, p.cfg.ScaleSpace.BlobOverlapThreshold,
		gsd, rows, tile.Box)
	dets := result.Detections
	p.log.Debugw("tile detections",
		"tile", tile.Name, "candidates", result.CandidateCount, "detections", result.Count)

	if err := db.InsertDetections(runID, tile.Name, dets); err != nil {
		return err
	}
	if err := WriteTileCSV(filepath.Join(resultsDir, tile.Name+".csv"), dets); err != nil {
		return err
	}

	if p.cfg.General.SaveOverlays {
		overlay := visual.Overlay(nirImg, dets, gsd)
		path := filepath.Join(resultsDir, tile.Name+"_overlay.png")
		if err := visual.Save(overlay, path); err != nil {
			return err
		}
	}
	return nil
}

// sourceImage returns a tile image for a source, from the cache when
// possible, otherwise fetched and optionally cached.
func (p *Pipeline) sourceImage(ctx context.Context, cache *store.TileCache, source string, tile geo.Tile) (image.Image, error) {
	client, ok := p.clients[source]
	if !ok {
		return nil, fmt.Errorf("source %q is not configured", source)
	}

	if p.cfg.General.SaveWMSData && cache.Has(source, tile.Name) {
		img, err := cache.Load(source, tile.Name)
		if err == nil {
			return img, nil
		}
		// Corrupt cache entry; fall through to a fresh fetch.
		p.log.Warnw("cached tile unreadable, refetching",
			"source", source, "tile", tile.Name, "error", err)
	}

	img, err := client.GetMap(ctx, tile.Box, p.cfg.Data.ImSizeOut)
	if err != nil {
		return nil, err
	}
	if p.cfg.General.SaveWMSData {
		if err := cache.Save(source, tile.Name, img); err != nil {
			p.log.Warnw("cache tile", "source", source, "tile", tile.Name, "error", err)
		}
	}
	return img, nil
}

// settingsHash derives the run directory name from the analysis inputs,
// so identical bbox+settings reuse cached data and results. Only fields
// that change the output participate; run-level knobs like worker count
// or retry limits must not invalidate an earlier run's cache.
func (p *Pipeline) settingsHash(box geo.BBox) (string, error) {
	key := struct {
		Data         config.DataConfig       `yaml:"data"`
		ScaleSpace   config.ScaleSpaceConfig `yaml:"scale_space"`
		SaveOverlays bool                    `yaml:"save_overlays"`
	}{p.cfg.Data, p.cfg.ScaleSpace, p.cfg.General.SaveOverlays}

	raw, err := yaml.Marshal(key)
	if err != nil {
		return "", fmt.Errorf("hash settings: %w", err)
	}
	sum := sha1.Sum(append([]byte(box.String()), raw...))
	return fmt.Sprintf("%x", sum), nil
}

// writeRunMetadata snapshots the settings and tile grid into the run
// directory, once per directory.
func (p *Pipeline) writeRunMetadata(baseDir string, tiles []geo.Tile) error {
	settingsPath := filepath.Join(baseDir, "settings.yml")
	if _, err := os.Stat(settingsPath); os.IsNotExist(err) {
		raw, err := yaml.Marshal(p.cfg)
		if err != nil {
			return fmt.Errorf("marshal settings: %w", err)
		}
		if err := os.WriteFile(settingsPath, raw, 0o644); err != nil {
			return fmt.Errorf("write settings snapshot: %w", err)
		}
	}

	coordPath := filepath.Join(baseDir, "coord.csv")
	if _, err := os.Stat(coordPath); os.IsNotExist(err) {
		if err := WriteCoordCSV(coordPath, tiles); err != nil {
			return err
		}
	}
	return nil
}

func filterTiles(tiles []geo.Tile, names []string) []geo.Tile {
	keep := make(map[string]bool, len(names))
	for _, n := range names {
		keep[n] = true
	}
	out := tiles[:0:0]
	for _, t := range tiles {
		if keep[t.Name] {
			out = append(out, t)
		}
	}
	return out
}
