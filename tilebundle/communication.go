package tilebundle

import (
	"github.com/paulmach/orb/maptile"
)

type TileRequest struct {
	Tile maptile.Tile
	URL  string
}

// TileResponse reports the outcome of one fetch attempt. Err is nil when the
// tile was retrieved and Data holds its raw bytes.
type TileResponse struct {
	Tile    maptile.Tile
	Data    []byte
	Elapsed float64
	Err     error
}
