// Package config loads and validates the crownscan YAML configuration.
//
// The configuration is an explicit value passed into each pipeline stage,
// not ambient state, so the detection stages remain testable with literal
// parameter values.
//
// Config file locations (priority order):
//  1. path given on the command line
//  2. $CROWNSCAN_CONFIG
//  3. ./crownscan.yaml
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration surface.
type Config struct {
	Data       DataConfig       `yaml:"data"`
	ScaleSpace ScaleSpaceConfig `yaml:"scale_space"`
	General    GeneralConfig    `yaml:"general"`
}

// DataConfig describes the imagery sources and raster geometry.
type DataConfig struct {
	// PixelSize is the ground sampling distance in meters per pixel.
	PixelSize float64 `yaml:"pixel_size"`

	// ImSizeOut is the tile size in pixels per axis.
	ImSizeOut int `yaml:"im_size_out"`

	// CoordCRS is the coordinate reference system for map requests.
	CoordCRS string `yaml:"coord_crs"`

	// API maps source keys (e.g. "nir", "rgb") to their map services.
	API map[string]APIConfig `yaml:"api"`
}

// APIConfig describes one web map service source.
type APIConfig struct {
	Use        bool    `yaml:"use"`
	URL        string  `yaml:"url"`
	Layer      string  `yaml:"layer"`
	Version    string  `yaml:"version"`
	Format     string  `yaml:"format"`
	MaxValue   float64 `yaml:"max_value"`
	SaveFormat string  `yaml:"save_format"`
}

// ScaleSpaceConfig holds the blob detection parameters.
type ScaleSpaceConfig struct {
	// MinRad and MaxRad bound the crown radius range in meters.
	MinRad float64 `yaml:"minrad"`
	MaxRad float64 `yaml:"maxrad"`

	// StepRad is the radius sampling step in meters.
	StepRad float64 `yaml:"steprad"`

	// ThresholdRelBlobPeaks is the fraction of the volume-wide maximum
	// response below which a peak is treated as noise.
	ThresholdRelBlobPeaks float64 `yaml:"threshold_rel_blob_peaks"`

	// BlobOverlapThreshold is the overlap fraction, relative to the
	// smaller disk, above which the weaker of two blobs is pruned.
	BlobOverlapThreshold float64 `yaml:"blob_overlap_threshold"`

	// OutputFileFormat is the results file extension.
	OutputFileFormat string `yaml:"output_file_format"`
}

// GeneralConfig holds run-level options.
type GeneralConfig struct {
	// DataDir is the root under which run data and results are stored.
	DataDir string `yaml:"data_dir"`

	// SaveWMSData caches fetched tiles on disk for reuse.
	SaveWMSData bool `yaml:"save_wms_data"`

	// RedoIfAlreadyProcessed reprocesses tiles that already have results.
	RedoIfAlreadyProcessed bool `yaml:"redo_if_already_processed"`

	// FetchRetries is the number of attempts per tile fetch.
	FetchRetries int `yaml:"fetch_retries"`

	// Workers is the number of tiles processed concurrently.
	Workers int `yaml:"workers"`

	// SaveOverlays writes annotated detection PNGs next to the results.
	SaveOverlays bool `yaml:"save_overlays"`
}

// Load reads a config from path, or falls back to $CROWNSCAN_CONFIG and
// then ./crownscan.yaml when path is empty.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CROWNSCAN_CONFIG")
	}
	if path == "" {
		path = "crownscan.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every optional field filled in.
// The API map is empty; at least one source must be configured before use.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in missing values with defaults.
func (c *Config) applyDefaults() {
	if c.Data.PixelSize == 0 {
		c.Data.PixelSize = 0.25
	}
	if c.Data.ImSizeOut == 0 {
		c.Data.ImSizeOut = 1024
	}
	if c.Data.CoordCRS == "" {
		c.Data.CoordCRS = "EPSG:4326"
	}
	if c.ScaleSpace.MinRad == 0 {
		c.ScaleSpace.MinRad = 2.5
	}
	if c.ScaleSpace.MaxRad == 0 {
		c.ScaleSpace.MaxRad = 20
	}
	if c.ScaleSpace.StepRad == 0 {
		c.ScaleSpace.StepRad = 0.5
	}
	if c.ScaleSpace.ThresholdRelBlobPeaks == 0 {
		c.ScaleSpace.ThresholdRelBlobPeaks = 0.0025
	}
	if c.ScaleSpace.BlobOverlapThreshold == 0 {
		c.ScaleSpace.BlobOverlapThreshold = 0.5
	}
	if c.ScaleSpace.OutputFileFormat == "" {
		c.ScaleSpace.OutputFileFormat = "csv"
	}
	if c.General.DataDir == "" {
		c.General.DataDir = "data"
	}
	if c.General.FetchRetries == 0 {
		c.General.FetchRetries = 3
	}
	if c.General.Workers == 0 {
		c.General.Workers = 1
	}
	for key, api := range c.Data.API {
		if api.MaxValue == 0 {
			api.MaxValue = 255
		}
		if api.Version == "" {
			api.Version = "1.1.1"
		}
		if api.Format == "" {
			api.Format = "image/png"
		}
		if api.SaveFormat == "" {
			api.SaveFormat = "png"
		}
		c.Data.API[key] = api
	}
}

// Validate checks the parameter preconditions that would otherwise only
// surface deep inside the detection core.
func (c *Config) Validate() error {
	s := c.ScaleSpace
	if s.MinRad <= 0 || s.StepRad <= 0 {
		return fmt.Errorf("scale_space: minrad and steprad must be positive")
	}
	if s.MinRad > s.MaxRad {
		return fmt.Errorf("scale_space: minrad %g exceeds maxrad %g", s.MinRad, s.MaxRad)
	}
	if c.Data.PixelSize <= 0 {
		return fmt.Errorf("data: pixel_size must be positive")
	}
	if s.MinRad/c.Data.PixelSize < 3 {
		return fmt.Errorf("scale_space: minrad %gm is under-sampled at %gm/pixel (needs at least 3 pixels)",
			s.MinRad, c.Data.PixelSize)
	}
	if s.ThresholdRelBlobPeaks <= 0 || s.ThresholdRelBlobPeaks > 1 {
		return fmt.Errorf("scale_space: threshold_rel_blob_peaks must be in (0, 1]")
	}
	if s.BlobOverlapThreshold <= 0 || s.BlobOverlapThreshold > 1 {
		return fmt.Errorf("scale_space: blob_overlap_threshold must be in (0, 1]")
	}
	if c.Data.ImSizeOut < 16 {
		return fmt.Errorf("data: im_size_out %d is too small", c.Data.ImSizeOut)
	}
	used := 0
	for key, api := range c.Data.API {
		if !api.Use {
			continue
		}
		used++
		if api.URL == "" || api.Layer == "" {
			return fmt.Errorf("data: api %q is enabled but missing url or layer", key)
		}
	}
	if used == 0 {
		return fmt.Errorf("data: no api source enabled")
	}
	return nil
}
