package tilebundle

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/paulmach/orb/maptile"
)

// dirOutputter writes each tile to its own zoom/column/row file under a root
// directory instead of packing a single archive.
type dirOutputter struct {
	root     string
	hasTiles bool
}

func NewDirOutputter(root string) (*dirOutputter, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	return &dirOutputter{root: absRoot}, nil
}

func (o *dirOutputter) Close() error {
	return nil
}

func (o *dirOutputter) CreateTiles() error {
	if o.hasTiles {
		return nil
	}

	info, err := os.Stat(o.root)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		if err := os.MkdirAll(o.root, 0755); err != nil {
			return err
		}
	} else if !info.IsDir() {
		return errors.New("output root is already a file")
	}

	o.hasTiles = true
	return nil
}

func (o *dirOutputter) Save(tile maptile.Tile, data []byte) error {
	absPath := filepath.Join(o.root, tileEntryName(tile))

	dir := filepath.Dir(absPath)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	return os.WriteFile(absPath, data, 0644)
}
