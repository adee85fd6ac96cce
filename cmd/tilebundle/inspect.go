package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/tilebundle/go-tilebundle/tilebundle"
	"github.com/urfave/cli/v3"
)

// bundleSource is the part of the readers inspect needs, shared by zip
// bundles and mbtiles archives.
type bundleSource interface {
	Close() error
	VisitAllTiles(visitor func(maptile.Tile, []byte)) error
}

type zoomSummary struct {
	count                  int
	minX, maxX, minY, maxY uint32
}

type bundleSummary struct {
	total    int
	covered  orb.Bound
	perZoom  map[maptile.Zoom]*zoomSummary
	zoomsAsc []maptile.Zoom
}

// summarizeBundle walks every tile once and collects per-zoom counts, column
// and row extents, and the union of the covered bounds.
func summarizeBundle(source bundleSource) (*bundleSummary, error) {
	summary := &bundleSummary{
		perZoom: map[maptile.Zoom]*zoomSummary{},
	}

	err := source.VisitAllTiles(func(tile maptile.Tile, data []byte) {
		s, ok := summary.perZoom[tile.Z]
		if !ok {
			s = &zoomSummary{minX: tile.X, maxX: tile.X, minY: tile.Y, maxY: tile.Y}
			summary.perZoom[tile.Z] = s
		}
		s.count++
		s.minX = min(s.minX, tile.X)
		s.maxX = max(s.maxX, tile.X)
		s.minY = min(s.minY, tile.Y)
		s.maxY = max(s.maxY, tile.Y)

		if summary.total == 0 {
			summary.covered = tile.Bound()
		} else {
			summary.covered = summary.covered.Union(tile.Bound())
		}
		summary.total++
	})
	if err != nil {
		return nil, err
	}

	summary.zoomsAsc = make([]maptile.Zoom, 0, len(summary.perZoom))
	for z := range summary.perZoom {
		summary.zoomsAsc = append(summary.zoomsAsc, z)
	}
	sort.Slice(summary.zoomsAsc, func(i, j int) bool {
		return summary.zoomsAsc[i] < summary.zoomsAsc[j]
	})

	return summary, nil
}

func cmdInspect() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Summarize the tiles inside a bundle",
		ArgsUsage: "<bundle path>",
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 1 {
				return fmt.Errorf("expected exactly one bundle path")
			}
			path := c.Args().First()

			var source bundleSource
			var metadata *tilebundle.MbtilesMetadata

			if strings.HasSuffix(path, ".mbtiles") {
				reader, err := tilebundle.NewMbtilesReader(path)
				if err != nil {
					return fmt.Errorf("opening mbtiles archive: %w", err)
				}
				if metadata, err = reader.Metadata(); err != nil {
					reader.Close()
					return fmt.Errorf("reading mbtiles metadata: %w", err)
				}
				source = reader
			} else {
				reader, err := tilebundle.OpenBundle(path)
				if err != nil {
					return fmt.Errorf("opening bundle: %w", err)
				}
				source = reader
			}
			defer source.Close()

			summary, err := summarizeBundle(source)
			if err != nil {
				return fmt.Errorf("scanning bundle: %w", err)
			}

			fmt.Printf("bundle: %s\n", path)
			fmt.Printf("tiles: %d\n", summary.total)

			if summary.total > 0 {
				zooms := summary.zoomsAsc
				fmt.Printf("zooms: %d-%d\n", zooms[0], zooms[len(zooms)-1])
				for _, z := range zooms {
					s := summary.perZoom[z]
					fmt.Printf("  z%d: %d tiles, columns %d-%d, rows %d-%d\n",
						z, s.count, s.minX, s.maxX, s.minY, s.maxY)
				}
				fmt.Printf("coverage: %f,%f to %f,%f\n",
					summary.covered.Min.X(), summary.covered.Min.Y(),
					summary.covered.Max.X(), summary.covered.Max.Y())
			}

			if metadata != nil {
				keys := metadata.Keys()
				sort.Strings(keys)

				fmt.Println("metadata:")
				for _, k := range keys {
					v, _ := metadata.Get(k)
					fmt.Printf("  %s: %s\n", k, v)
				}
			}

			return nil
		},
	}
}
