package tilebundle

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/paulmach/orb/maptile"
)

// BundleReader provides read access to a packaged tile bundle.
type BundleReader interface {
	Close() error
	GetTile(tile maptile.Tile) (*TileData, error)
	VisitAllTiles(visitor func(maptile.Tile, []byte)) error
}

type zipBundleReader struct {
	archive *zip.ReadCloser
}

// OpenBundle opens a zip bundle written by the zip outputter.
func OpenBundle(path string) (BundleReader, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening bundle %s: %w", path, err)
	}

	return &zipBundleReader{archive: archive}, nil
}

func (r *zipBundleReader) Close() error {
	return r.archive.Close()
}

// GetTile returns data for the given tile. Tiles absent from the bundle come
// back with nil data.
func (r *zipBundleReader) GetTile(tile maptile.Tile) (*TileData, error) {
	f, err := r.archive.Open(tileEntryName(tile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &TileData{Tile: tile, Data: nil}, nil
		}
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	return &TileData{Tile: tile, Data: &data}, nil
}

// VisitAllTiles runs the given function on all tiles in the bundle. Entries
// that don't look like tiles are skipped.
func (r *zipBundleReader) VisitAllTiles(visitor func(maptile.Tile, []byte)) error {
	for _, zf := range r.archive.File {
		var z, x, y uint32
		var ext string
		if n, err := fmt.Sscanf(zf.Name, "%d/%d/%d.%s", &z, &x, &y, &ext); err != nil || n != 4 {
			continue
		}

		fr, err := zf.Open()
		if err != nil {
			return fmt.Errorf("opening bundle entry %s: %w", zf.Name, err)
		}

		data, err := io.ReadAll(fr)
		fr.Close()
		if err != nil {
			return fmt.Errorf("reading bundle entry %s: %w", zf.Name, err)
		}

		visitor(maptile.New(x, y, maptile.Zoom(z)), data)
	}

	return nil
}
