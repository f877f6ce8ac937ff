package store

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

// TileCache stores fetched tile imagery on disk so reruns over the same
// area skip the map service entirely.
//
// The layout mirrors one directory per source under the run data
// directory, one file per tile:
//
//	<dir>/<source>/<tile>.<ext>
type TileCache struct {
	dir string
	ext string
}

// NewTileCache creates a cache rooted at dir, writing files with the
// given extension (e.g. "png").
func NewTileCache(dir, ext string) (*TileCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &TileCache{dir: dir, ext: ext}, nil
}

func (c *TileCache) path(source, tile string) string {
	return filepath.Join(c.dir, source, tile+"."+c.ext)
}

// Has reports whether a tile image is already cached for a source.
func (c *TileCache) Has(source, tile string) bool {
	_, err := os.Stat(c.path(source, tile))
	return err == nil
}

// Save writes a tile image to the cache.
func (c *TileCache) Save(source, tile string, img image.Image) error {
	path := c.path(source, tile)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create source dir: %w", err)
	}
	if err := imaging.Save(img, path); err != nil {
		return fmt.Errorf("save tile %s/%s: %w", source, tile, err)
	}
	return nil
}

// Load reads a cached tile image.
func (c *TileCache) Load(source, tile string) (image.Image, error) {
	img, err := imaging.Open(c.path(source, tile))
	if err != nil {
		return nil, fmt.Errorf("load cached tile %s/%s: %w", source, tile, err)
	}
	return img, nil
}
