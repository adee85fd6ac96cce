package tilebundle

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

type TileOutputter interface {
	CreateTiles() error
	Save(tile maptile.Tile, data []byte) error
	Close() error
}

// spatialMetadataAssigner is implemented by outputters that record the
// covered bounds and zoom span alongside the tiles.
type spatialMetadataAssigner interface {
	AssignSpatialMetadata(bounds orb.Bound, minZoom maptile.Zoom, maxZoom maptile.Zoom) error
}

const (
	FormatZip     = "zip"
	FormatDir     = "dir"
	FormatMbtiles = "mbtiles"
	FormatPmtiles = "pmtiles"
)

// NewOutputter selects an outputter by format name.
func NewOutputter(format string, path string) (TileOutputter, error) {
	switch format {
	case FormatZip:
		return NewZipOutputter(path)
	case FormatDir:
		return NewDirOutputter(path)
	case FormatMbtiles:
		return NewMbtilesOutputter(path)
	case FormatPmtiles:
		return NewPmtilesOutputter(path)
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}
