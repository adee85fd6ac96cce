package tilebundle

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

const webMercatorLatLimit float64 = 85.05112877980659

// TileRange is the rectangle of tile coordinates covering a geographic
// bounding box at a single zoom level.
type TileRange struct {
	MinX uint32
	MinY uint32
	MaxX uint32
	MaxY uint32
	Zoom maptile.Zoom
}

// Count returns the number of tiles in the range.
func (r TileRange) Count() uint64 {
	return uint64(r.MaxX-r.MinX+1) * uint64(r.MaxY-r.MinY+1)
}

// CoverBounds computes the tile range covering the given bounding box at the
// given zoom. Latitudes beyond the web mercator limit are clamped to it, so
// boxes touching the poles still resolve to valid rows.
func CoverBounds(bounds orb.Bound, zoom maptile.Zoom) TileRange {
	clampedBox := orb.Bound{
		Min: orb.Point{
			math.Max(-180.0, bounds.Min.X()),
			math.Max(-webMercatorLatLimit, bounds.Min.Y()),
		},
		Max: orb.Point{
			math.Min(180.0-0.00000001, bounds.Max.X()),
			math.Min(webMercatorLatLimit, bounds.Max.Y()),
		},
	}

	minTile := maptile.At(clampedBox.Min, zoom)
	maxTile := maptile.At(clampedBox.Max, zoom)

	// Flip Y because the XYZ tiling scheme has an inverted Y compared to lat/lon
	maxTile.Y, minTile.Y = minTile.Y, maxTile.Y

	return TileRange{
		MinX: minTile.X,
		MinY: minTile.Y,
		MaxX: maxTile.X,
		MaxY: maxTile.Y,
		Zoom: zoom,
	}
}

// ZoomRange expands an inclusive min/max zoom pair into the list of zooms in
// ascending order.
func ZoomRange(minZoom maptile.Zoom, maxZoom maptile.Zoom) []maptile.Zoom {
	zooms := make([]maptile.Zoom, 0, int(maxZoom)-int(minZoom)+1)
	for z := minZoom; z <= maxZoom; z++ {
		zooms = append(zooms, z)
	}
	return zooms
}

// CountTiles returns the total number of tiles needed to cover the bounding
// box at every listed zoom.
func CountTiles(bounds orb.Bound, zooms []maptile.Zoom) uint64 {
	var total uint64
	for _, z := range zooms {
		total += CoverBounds(bounds, z).Count()
	}
	return total
}
