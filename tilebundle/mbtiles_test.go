package tilebundle

import (
	"bytes"
	"database/sql"
	"math"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

func TestMbtilesRoundTrip(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "beijing.mbtiles")

	outputter, err := NewMbtilesOutputter(dsn)
	if err != nil {
		t.Fatalf("NewMbtilesOutputter() returned error: %v", err)
	}
	if err := outputter.CreateTiles(); err != nil {
		t.Fatalf("CreateTiles() returned error: %v", err)
	}

	saved := map[maptile.Tile][]byte{
		maptile.New(843, 387, 10):  []byte("tile-a"),
		maptile.New(842, 388, 10):  []byte("tile-b"),
		maptile.New(1686, 775, 11): []byte("tile-c"),
	}
	for tile, data := range saved {
		if err := outputter.Save(tile, data); err != nil {
			t.Fatalf("Save(%v) returned error: %v", tile, err)
		}
	}

	bounds := orb.Bound{Min: orb.Point{116.39, 39.91}, Max: orb.Point{116.40, 39.92}}
	if err := outputter.AssignSpatialMetadata(bounds, 10, 11); err != nil {
		t.Fatalf("AssignSpatialMetadata() returned error: %v", err)
	}
	if err := outputter.Close(); err != nil {
		t.Fatalf("Close() returned error: %v", err)
	}

	reader, err := NewMbtilesReader(dsn)
	if err != nil {
		t.Fatalf("NewMbtilesReader() returned error: %v", err)
	}
	defer reader.Close()

	got, err := reader.GetTile(maptile.New(843, 387, 10))
	if err != nil {
		t.Fatalf("GetTile() returned error: %v", err)
	}
	if got.Data == nil || !bytes.Equal(*got.Data, []byte("tile-a")) {
		t.Errorf("GetTile() data = %v, want tile-a", got.Data)
	}

	missing, err := reader.GetTile(maptile.New(0, 0, 10))
	if err != nil {
		t.Fatalf("GetTile() for absent tile returned error: %v", err)
	}
	if missing.Data != nil {
		t.Errorf("GetTile() for absent tile returned data")
	}

	visited := map[maptile.Tile][]byte{}
	if err := reader.VisitAllTiles(func(tile maptile.Tile, data []byte) {
		visited[tile] = data
	}); err != nil {
		t.Fatalf("VisitAllTiles() returned error: %v", err)
	}
	if len(visited) != len(saved) {
		t.Fatalf("visited %d tiles, want %d", len(visited), len(saved))
	}
	for tile, want := range saved {
		if !bytes.Equal(visited[tile], want) {
			t.Errorf("visited tile %v data = %q, want %q", tile, visited[tile], want)
		}
	}

	metadata, err := reader.Metadata()
	if err != nil {
		t.Fatalf("Metadata() returned error: %v", err)
	}
	if metadata.Name() != "beijing" {
		t.Errorf("metadata name = %q, want beijing", metadata.Name())
	}
	if metadata.Format() != "png" {
		t.Errorf("metadata format = %q, want png", metadata.Format())
	}
	if minZoom, err := metadata.MinZoom(); err != nil || minZoom != 10 {
		t.Errorf("metadata minzoom = %d (%v), want 10", minZoom, err)
	}
	if maxZoom, err := metadata.MaxZoom(); err != nil || maxZoom != 11 {
		t.Errorf("metadata maxzoom = %d (%v), want 11", maxZoom, err)
	}

	gotBounds, err := metadata.Bounds()
	if err != nil {
		t.Fatalf("Bounds() returned error: %v", err)
	}
	for i, pair := range [][2]float64{
		{gotBounds.Min.X(), bounds.Min.X()},
		{gotBounds.Min.Y(), bounds.Min.Y()},
		{gotBounds.Max.X(), bounds.Max.X()},
		{gotBounds.Max.Y(), bounds.Max.Y()},
	} {
		if math.Abs(pair[0]-pair[1]) > 1e-6 {
			t.Errorf("bounds coordinate %d = %f, want %f", i, pair[0], pair[1])
		}
	}
}

func TestMbtilesStoresRowsFromTheSouth(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "rows.mbtiles")

	outputter, err := NewMbtilesOutputter(dsn)
	if err != nil {
		t.Fatalf("NewMbtilesOutputter() returned error: %v", err)
	}
	if err := outputter.Save(maptile.New(843, 387, 10), []byte("tile-a")); err != nil {
		t.Fatalf("Save() returned error: %v", err)
	}
	if err := outputter.Close(); err != nil {
		t.Fatalf("Close() returned error: %v", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("sql.Open() returned error: %v", err)
	}
	defer db.Close()

	var tileRow uint32
	err = db.QueryRow("SELECT tile_row FROM map WHERE zoom_level=10 AND tile_column=843").Scan(&tileRow)
	if err != nil {
		t.Fatalf("map row query returned error: %v", err)
	}

	// At z10, XYZ row 387 is TMS row 1023-387.
	if tileRow != 636 {
		t.Errorf("stored tile_row = %d, want 636", tileRow)
	}
}

func TestMbtilesDedupesIdenticalData(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "dedupe.mbtiles")

	outputter, err := NewMbtilesOutputter(dsn)
	if err != nil {
		t.Fatalf("NewMbtilesOutputter() returned error: %v", err)
	}
	data := []byte("same-bytes")
	if err := outputter.Save(maptile.New(843, 387, 10), data); err != nil {
		t.Fatalf("Save() returned error: %v", err)
	}
	if err := outputter.Save(maptile.New(842, 387, 10), data); err != nil {
		t.Fatalf("Save() returned error: %v", err)
	}
	if err := outputter.Close(); err != nil {
		t.Fatalf("Close() returned error: %v", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("sql.Open() returned error: %v", err)
	}
	defer db.Close()

	var images, mapped int
	if err := db.QueryRow("SELECT COUNT(*) FROM images").Scan(&images); err != nil {
		t.Fatalf("images count query returned error: %v", err)
	}
	if err := db.QueryRow("SELECT COUNT(*) FROM map").Scan(&mapped); err != nil {
		t.Fatalf("map count query returned error: %v", err)
	}

	if images != 1 {
		t.Errorf("images rows = %d, want 1 shared blob", images)
	}
	if mapped != 2 {
		t.Errorf("map rows = %d, want 2", mapped)
	}
}
