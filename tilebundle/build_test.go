package tilebundle

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

var beijingBlockBounds = orb.Bound{
	Min: orb.Point{116.39, 39.91},
	Max: orb.Point{116.40, 39.92},
}

func newTileServer(t *testing.T, handler func(w http.ResponseWriter, z, x, y string)) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("SERVICE") != "WMTS" || q.Get("REQUEST") != "GetTile" {
			t.Errorf("request is not a WMTS GetTile: %s", r.URL)
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		handler(w, q.Get("TileMatrix"), q.Get("TileCol"), q.Get("TileRow"))
	}))
}

func TestBuildWritesFetchedTiles(t *testing.T) {
	payload := []byte("fixed-tile-payload")

	server := newTileServer(t, func(w http.ResponseWriter, z, x, y string) {
		w.Write(payload)
	})
	defer server.Close()

	out := filepath.Join(t.TempDir(), "beijing.zip")

	var snapshots []Progress
	err := Build(context.Background(), &BuildOptions{
		Bounds:     beijingBlockBounds,
		MinZoom:    10,
		MaxZoom:    10,
		Layer:      LayerVector,
		Token:      "test-token",
		BaseURL:    server.URL + "/{layer}/wmts",
		OutputPath: out,
		Workers:    2,
	}, func(p Progress) {
		snapshots = append(snapshots, p)
	})
	if err != nil {
		t.Fatalf("Build() returned error: %v", err)
	}

	reader, err := OpenBundle(out)
	if err != nil {
		t.Fatalf("OpenBundle() returned error: %v", err)
	}
	defer reader.Close()

	var tiles []maptile.Tile
	err = reader.VisitAllTiles(func(tile maptile.Tile, data []byte) {
		tiles = append(tiles, tile)
		if !bytes.Equal(data, payload) {
			t.Errorf("tile %v data = %q, want %q", tile, data, payload)
		}
	})
	if err != nil {
		t.Fatalf("VisitAllTiles() returned error: %v", err)
	}

	if len(tiles) != 1 || tiles[0] != maptile.New(843, 387, 10) {
		t.Errorf("bundle tiles = %v, want exactly 10/843/387", tiles)
	}

	if len(snapshots) != 1 {
		t.Fatalf("got %d progress snapshots, want 1", len(snapshots))
	}
	final := snapshots[0]
	if final.Downloaded != 1 || final.Percent != 100 || final.Attempted != final.Total {
		t.Errorf("final snapshot = %+v, want one downloaded tile at 100%%", final)
	}
	if !final.RemainingKnown || final.Remaining != 0 {
		t.Errorf("final snapshot remaining = %+v, want known zero", final)
	}
}

func TestBuildAllFetchesFailStillWritesBundle(t *testing.T) {
	server := newTileServer(t, func(w http.ResponseWriter, z, x, y string) {
		http.Error(w, "not found", http.StatusNotFound)
	})
	defer server.Close()

	out := filepath.Join(t.TempDir(), "failed.zip")

	var snapshots []Progress
	err := Build(context.Background(), &BuildOptions{
		Bounds:     orb.Bound{Min: orb.Point{116.2, 39.8}, Max: orb.Point{116.6, 40.0}},
		MinZoom:    10,
		MaxZoom:    10,
		Layer:      LayerSatellite,
		Token:      "test-token",
		BaseURL:    server.URL + "/{layer}/wmts",
		OutputPath: out,
		Workers:    3,
	}, func(p Progress) {
		snapshots = append(snapshots, p)
	})
	if err != nil {
		t.Fatalf("Build() returned error: %v", err)
	}

	reader, err := OpenBundle(out)
	if err != nil {
		t.Fatalf("bundle was not written: %v", err)
	}
	defer reader.Close()

	count := 0
	if err := reader.VisitAllTiles(func(maptile.Tile, []byte) { count++ }); err != nil {
		t.Fatalf("VisitAllTiles() returned error: %v", err)
	}
	if count != 0 {
		t.Errorf("bundle has %d tiles, want 0", count)
	}

	if len(snapshots) != 4 {
		t.Fatalf("got %d progress snapshots, want 4", len(snapshots))
	}
	final := snapshots[len(snapshots)-1]
	if final.Failed != 4 || final.Downloaded != 0 || final.Percent != 0 {
		t.Errorf("final snapshot = %+v, want four failures", final)
	}
	for _, s := range snapshots {
		if s.RemainingKnown {
			t.Errorf("snapshot %+v claims a remaining estimate with zero downloads", s)
		}
	}
}

func TestBuildUnknownLayerFailsFast(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))
	defer server.Close()

	out := filepath.Join(t.TempDir(), "never.zip")

	err := Build(context.Background(), &BuildOptions{
		Bounds:     beijingBlockBounds,
		MinZoom:    10,
		MaxZoom:    10,
		Layer:      LayerType("roadmap"),
		Token:      "test-token",
		BaseURL:    server.URL + "/{layer}/wmts",
		OutputPath: out,
	}, nil)
	if !errors.Is(err, ErrUnknownLayer) {
		t.Fatalf("Build() error = %v, want ErrUnknownLayer", err)
	}

	if n := requests.Load(); n != 0 {
		t.Errorf("server received %d requests, want 0", n)
	}

	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("output file exists after failed run")
	}
}

func TestBuildPartialFailures(t *testing.T) {
	// The 2x2 metro box at z10 covers rows 387 and 388. Rows ending in 7 fail.
	server := newTileServer(t, func(w http.ResponseWriter, z, x, y string) {
		if y == "387" {
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}
		w.Write([]byte("row-" + y))
	})
	defer server.Close()

	out := filepath.Join(t.TempDir(), "partial.zip")

	var snapshots []Progress
	err := Build(context.Background(), &BuildOptions{
		Bounds:     orb.Bound{Min: orb.Point{116.2, 39.8}, Max: orb.Point{116.6, 40.0}},
		MinZoom:    10,
		MaxZoom:    10,
		Layer:      LayerTerrain,
		Token:      "test-token",
		BaseURL:    server.URL + "/{layer}/wmts",
		OutputPath: out,
		Workers:    3,
	}, func(p Progress) {
		snapshots = append(snapshots, p)
	})
	if err != nil {
		t.Fatalf("Build() returned error: %v", err)
	}

	reader, err := OpenBundle(out)
	if err != nil {
		t.Fatalf("OpenBundle() returned error: %v", err)
	}
	defer reader.Close()

	var tiles []maptile.Tile
	if err := reader.VisitAllTiles(func(tile maptile.Tile, data []byte) {
		tiles = append(tiles, tile)
		if tile.Y != 388 {
			t.Errorf("unexpected tile %v in bundle", tile)
		}
	}); err != nil {
		t.Fatalf("VisitAllTiles() returned error: %v", err)
	}
	if len(tiles) != 2 {
		t.Errorf("bundle has %d tiles, want 2", len(tiles))
	}

	lastDownloaded := int64(-1)
	lastPercent := -1
	for _, s := range snapshots {
		if s.Downloaded < lastDownloaded || s.Percent < lastPercent {
			t.Fatalf("progress went backwards: %+v", s)
		}
		lastDownloaded = s.Downloaded
		lastPercent = s.Percent
	}

	final := snapshots[len(snapshots)-1]
	if final.Downloaded != 2 || final.Failed != 2 || final.Percent != 50 {
		t.Errorf("final snapshot = %+v, want 2 downloaded and 2 failed", final)
	}
}

func TestBuildInvalidZoomOrder(t *testing.T) {
	err := Build(context.Background(), &BuildOptions{
		Bounds:     beijingBlockBounds,
		MinZoom:    12,
		MaxZoom:    10,
		Layer:      LayerVector,
		OutputPath: filepath.Join(t.TempDir(), "never.zip"),
	}, nil)
	if err == nil {
		t.Fatal("Build() with inverted zoom range returned nil error")
	}
}
