package tilebundle

import (
	"archive/zip"
	"compress/flate"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/paulmach/orb/maptile"
)

// zipOutputter collects tiles in memory and serializes them into a single
// DEFLATE-compressed archive when the run finishes. Entries are written in
// ascending zoom, column, row order regardless of arrival order, and the
// archive is moved into place with a rename so a crashed run never leaves a
// half-written bundle at the output path.
type zipOutputter struct {
	path  string
	tiles map[maptile.Tile][]byte
}

func NewZipOutputter(path string) (*zipOutputter, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	return &zipOutputter{
		path:  absPath,
		tiles: make(map[maptile.Tile][]byte),
	}, nil
}

func (o *zipOutputter) CreateTiles() error {
	dir := filepath.Dir(o.path)

	_, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return os.MkdirAll(dir, 0755)
	}

	return err
}

func (o *zipOutputter) Save(tile maptile.Tile, data []byte) error {
	o.tiles[tile] = data
	return nil
}

func (o *zipOutputter) Close() error {
	order := make([]maptile.Tile, 0, len(o.tiles))
	for t := range o.tiles {
		order = append(order, t)
	}
	sort.Slice(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if a.Z != b.Z {
			return a.Z < b.Z
		}
		if a.X != b.X {
			return a.X < b.X
		}
		return a.Y < b.Y
	})

	tmp, err := os.CreateTemp(filepath.Dir(o.path), filepath.Base(o.path)+".tmp")
	if err != nil {
		return fmt.Errorf("creating bundle temp file: %w", err)
	}

	if err := writeBundle(tmp, order, o.tiles); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing bundle: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	return os.Rename(tmp.Name(), o.path)
}

func writeBundle(w io.Writer, order []maptile.Tile, tiles map[maptile.Tile][]byte) error {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.DefaultCompression)
	})

	for _, t := range order {
		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:   tileEntryName(t),
			Method: zip.Deflate,
		})
		if err != nil {
			return err
		}

		if _, err := fw.Write(tiles[t]); err != nil {
			return err
		}
	}

	return zw.Close()
}

func tileEntryName(t maptile.Tile) string {
	return fmt.Sprintf("%d/%d/%d.png", t.Z, t.X, t.Y)
}
