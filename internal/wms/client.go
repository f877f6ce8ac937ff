package wms

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF format decoder
	_ "image/jpeg" // Register JPEG format decoder
	_ "image/png"  // Register PNG format decoder
	"net/http"
	"net/url"
	"time"

	"github.com/anthonynsimon/bild/transform"
	"go.uber.org/zap"

	"github.com/ironsheep/crownscan/internal/geo"
)

// FetchError reports a failed tile fetch after all retries are exhausted.
// Fetch failures are transient-fault territory: the caller records the
// tile as failed and moves on rather than aborting the run.
type FetchError struct {
	Source   string
	Box      geo.BBox
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s tile %s failed after %d attempts: %v",
		e.Source, e.Box, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Client fetches map tiles from one WMS source.
type Client struct {
	name    string
	baseURL string
	layer   string
	version string
	format  string
	crs     string
	retries int
	http    *http.Client
	log     *zap.SugaredLogger
}

// Options configures a Client.
type Options struct {
	// Name identifies the source in logs and errors (e.g. "nir").
	Name string

	// URL is the service endpoint, without GetMap query parameters.
	URL string

	// Layer is the WMS layer to request.
	Layer string

	// Version is the WMS protocol version ("1.1.1" or "1.3.0").
	Version string

	// Format is the requested image MIME type.
	Format string

	// CRS is the coordinate reference system identifier.
	CRS string

	// Retries is the number of attempts per fetch. Values below 1 are
	// treated as 1.
	Retries int

	// Timeout bounds a single HTTP request. Zero means 30 seconds.
	Timeout time.Duration
}

// New creates a WMS client.
func New(opts Options, log *zap.SugaredLogger) *Client {
	if opts.Retries < 1 {
		opts.Retries = 1
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Client{
		name:    opts.Name,
		baseURL: opts.URL,
		layer:   opts.Layer,
		version: opts.Version,
		format:  opts.Format,
		crs:     opts.CRS,
		retries: opts.Retries,
		http:    &http.Client{Timeout: opts.Timeout},
		log:     log,
	}
}

// Name returns the source key this client fetches for.
func (c *Client) Name() string { return c.name }

// GetMap fetches the imagery covering a bounding box at the given pixel
// size. Failed requests are retried with linear backoff; the returned
// error is a *FetchError once retries are exhausted.
//
// Servers occasionally return imagery at a different size than requested;
// such responses are resampled to size x size pixels so downstream raster
// dimensions stay fixed.
func (c *Client) GetMap(ctx context.Context, box geo.BBox, size int) (image.Image, error) {
	reqURL := c.mapURL(box, size)

	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt-1) * time.Second):
			}
		}

		img, err := c.fetchOnce(ctx, reqURL)
		if err == nil {
			if b := img.Bounds(); b.Dx() != size || b.Dy() != size {
				c.log.Debugw("resampling mis-sized tile",
					"source", c.name, "got", b.Dx(), "want", size)
				img = transform.Resize(img, size, size, transform.Linear)
			}
			return img, nil
		}
		lastErr = err
		c.log.Warnw("tile fetch failed",
			"source", c.name, "bbox", box.String(), "attempt", attempt, "error", err)
	}

	return nil, &FetchError{Source: c.name, Box: box, Attempts: c.retries, Err: lastErr}
}

func (c *Client) fetchOnce(ctx context.Context, reqURL string) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned %s", resp.Status)
	}

	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode tile: %w", err)
	}
	return img, nil
}

// mapURL builds the GetMap query. WMS 1.3.0 renamed the SRS parameter to
// CRS and switched BBOX to the CRS-native axis order, which for
// geographic EPSG codes like EPSG:4326 puts latitude first.
func (c *Client) mapURL(box geo.BBox, size int) string {
	q := url.Values{}
	q.Set("SERVICE", "WMS")
	q.Set("REQUEST", "GetMap")
	q.Set("VERSION", c.version)
	q.Set("LAYERS", c.layer)
	q.Set("STYLES", "")
	q.Set("FORMAT", c.format)
	q.Set("WIDTH", fmt.Sprintf("%d", size))
	q.Set("HEIGHT", fmt.Sprintf("%d", size))
	bbox := box.String()
	if c.version == "1.3.0" {
		q.Set("CRS", c.crs)
		if latFirst(c.crs) {
			bbox = fmt.Sprintf("%g,%g,%g,%g", box.MinLat, box.MinLon, box.MaxLat, box.MaxLon)
		}
	} else {
		q.Set("SRS", c.crs)
	}
	q.Set("BBOX", bbox)

	sep := "?"
	if u, err := url.Parse(c.baseURL); err == nil && u.RawQuery != "" {
		sep = "&"
	}
	return c.baseURL + sep + q.Encode()
}

// latFirst reports whether a CRS identifier orders axes latitude first
// under WMS 1.3.0 semantics. Geographic EPSG codes do; CRS:84 is the
// explicit lon/lat variant.
func latFirst(crs string) bool {
	switch crs {
	case "EPSG:4326", "EPSG:4258":
		return true
	}
	return false
}
