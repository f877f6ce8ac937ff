package wms

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/ironsheep/crownscan/internal/geo"
)

func testBox() geo.BBox {
	return geo.BBox{MinLon: 5.0, MinLat: 52.0, MaxLon: 5.001, MaxLat: 52.001}
}

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{200, 80, 40, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func newTestClient(url string, retries int) *Client {
	return New(Options{
		Name:    "nir",
		URL:     url,
		Layer:   "aerial_nir",
		Version: "1.1.1",
		Format:  "image/png",
		CRS:     "EPSG:4326",
		Retries: retries,
	}, zap.NewNop().Sugar())
}

func TestGetMap(t *testing.T) {
	tile := pngBytes(t, 64, 64)
	var gotQuery atomic.Value

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery.Store(r.URL.Query())
		w.Header().Set("Content-Type", "image/png")
		w.Write(tile)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, 1)
	img, err := client.GetMap(context.Background(), testBox(), 64)
	if err != nil {
		t.Fatalf("GetMap failed: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 64 {
		t.Errorf("image size: got %dx%d, want 64x64", b.Dx(), b.Dy())
	}

	q := gotQuery.Load().(url.Values)
	checks := map[string]string{
		"SERVICE": "WMS",
		"REQUEST": "GetMap",
		"LAYERS":  "aerial_nir",
		"SRS":     "EPSG:4326",
		"WIDTH":   "64",
		"HEIGHT":  "64",
		"BBOX":    testBox().String(),
	}
	for key, want := range checks {
		if got := q[key]; len(got) != 1 || got[0] != want {
			t.Errorf("query %s: got %v, want %q", key, got, want)
		}
	}
}

func TestGetMap_CRSParamFor130(t *testing.T) {
	var gotQuery atomic.Value
	tile := pngBytes(t, 32, 32)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery.Store(r.URL.Query())
		w.Write(tile)
	}))
	defer srv.Close()

	client := New(Options{
		Name: "nir", URL: srv.URL, Layer: "l", Version: "1.3.0",
		Format: "image/png", CRS: "EPSG:4326",
	}, zap.NewNop().Sugar())

	if _, err := client.GetMap(context.Background(), testBox(), 32); err != nil {
		t.Fatalf("GetMap failed: %v", err)
	}
	q := gotQuery.Load().(url.Values)
	if len(q["CRS"]) != 1 || len(q["SRS"]) != 0 {
		t.Errorf("1.3.0 request must use CRS (got CRS=%v SRS=%v)", q["CRS"], q["SRS"])
	}
}

func TestGetMap_BBoxAxisOrderFor130(t *testing.T) {
	// WMS 1.3.0 orders BBOX by the CRS's native axes: latitude first for
	// geographic EPSG codes, longitude first for CRS:84.
	tests := []struct {
		crs  string
		want string
	}{
		{"EPSG:4326", "52,5,52.001,5.001"},
		{"CRS:84", "5,52,5.001,52.001"},
	}

	tile := pngBytes(t, 32, 32)
	for _, tt := range tests {
		t.Run(tt.crs, func(t *testing.T) {
			var gotQuery atomic.Value
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotQuery.Store(r.URL.Query())
				w.Write(tile)
			}))
			defer srv.Close()

			client := New(Options{
				Name: "nir", URL: srv.URL, Layer: "l", Version: "1.3.0",
				Format: "image/png", CRS: tt.crs,
			}, zap.NewNop().Sugar())

			if _, err := client.GetMap(context.Background(), testBox(), 32); err != nil {
				t.Fatalf("GetMap failed: %v", err)
			}
			q := gotQuery.Load().(url.Values)
			if got := q.Get("BBOX"); got != tt.want {
				t.Errorf("BBOX: got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetMap_RetriesThenSucceeds(t *testing.T) {
	tile := pngBytes(t, 32, 32)
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write(tile)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, 3)
	if _, err := client.GetMap(context.Background(), testBox(), 32); err != nil {
		t.Fatalf("GetMap failed after retries: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("request count: got %d, want 3", calls.Load())
	}
}

func TestGetMap_ExhaustedRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "broken", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, 2)
	_, err := client.GetMap(context.Background(), testBox(), 32)
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}

	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("error %T is not a *FetchError", err)
	}
	if fe.Attempts != 2 || fe.Source != "nir" {
		t.Errorf("fetch error fields: %+v", fe)
	}
}

func TestGetMap_ResamplesMisSizedResponse(t *testing.T) {
	// Server ignores WIDTH/HEIGHT and returns a 48x48 tile.
	tile := pngBytes(t, 48, 48)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tile)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, 1)
	img, err := client.GetMap(context.Background(), testBox(), 64)
	if err != nil {
		t.Fatalf("GetMap failed: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 64 {
		t.Errorf("resampled size: got %dx%d, want 64x64", b.Dx(), b.Dy())
	}
}

func TestGetMap_NonImageBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<ServiceException>no such layer</ServiceException>"))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, 1)
	if _, err := client.GetMap(context.Background(), testBox(), 32); err == nil {
		t.Error("expected decode error for non-image body")
	}
}
