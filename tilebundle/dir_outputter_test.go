package tilebundle

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb/maptile"
)

func TestDirOutputterWritesTileFiles(t *testing.T) {
	root := filepath.Join(t.TempDir(), "tiles")

	outputter, err := NewDirOutputter(root)
	if err != nil {
		t.Fatalf("NewDirOutputter() returned error: %v", err)
	}
	if err := outputter.CreateTiles(); err != nil {
		t.Fatalf("CreateTiles() returned error: %v", err)
	}

	if err := outputter.Save(maptile.New(843, 387, 10), []byte("tile-a")); err != nil {
		t.Fatalf("Save() returned error: %v", err)
	}
	if err := outputter.Save(maptile.New(1686, 775, 11), []byte("tile-b")); err != nil {
		t.Fatalf("Save() returned error: %v", err)
	}
	if err := outputter.Close(); err != nil {
		t.Fatalf("Close() returned error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(root, "10", "843", "387.png"))
	if err != nil {
		t.Fatalf("tile file missing: %v", err)
	}
	if !bytes.Equal(data, []byte("tile-a")) {
		t.Errorf("tile file data = %q, want tile-a", data)
	}

	if _, err := os.Stat(filepath.Join(root, "11", "1686", "775.png")); err != nil {
		t.Errorf("second tile file missing: %v", err)
	}
}

func TestDirOutputterRejectsFileRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "occupied")
	if err := os.WriteFile(root, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	outputter, err := NewDirOutputter(root)
	if err != nil {
		t.Fatalf("NewDirOutputter() returned error: %v", err)
	}
	if err := outputter.CreateTiles(); err == nil {
		t.Fatal("CreateTiles() over an existing file returned nil error")
	}
}
