package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/tilebundle/go-tilebundle/tilebundle"
	"github.com/urfave/cli/v3"
)

func cmdEnsureMetadata() *cli.Command {
	return &cli.Command{
		Name:      "ensure-metadata",
		Usage:     "Recompute the spatial metadata of mbtiles archives from their tiles",
		ArgsUsage: "<archive.mbtiles> [...]",
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() == 0 {
				return fmt.Errorf("expected at least one mbtiles path")
			}

			for _, path := range c.Args().Slice() {
				if err := ensureMetadata(path); err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
			}

			return nil
		},
	}
}

// ensureMetadata scans every tile in the archive, derives the covered bounds
// and zoom span, and writes them back. Rows the archive already carries are
// kept.
func ensureMetadata(path string) error {
	reader, err := tilebundle.NewMbtilesReader(path)
	if err != nil {
		return fmt.Errorf("opening mbtiles archive: %w", err)
	}

	existing, err := reader.Metadata()
	if err != nil {
		reader.Close()
		return fmt.Errorf("reading metadata: %w", err)
	}

	var bounds *orb.Bound
	var minZoom, maxZoom maptile.Zoom
	tiles := 0

	err = reader.VisitAllTiles(func(t maptile.Tile, data []byte) {
		tb := t.Bound()
		if bounds == nil {
			bounds = &tb
			minZoom, maxZoom = t.Z, t.Z
		} else {
			u := bounds.Union(tb)
			bounds = &u
			minZoom = min(minZoom, t.Z)
			maxZoom = max(maxZoom, t.Z)
		}
		tiles++
	})
	if closeErr := reader.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("scanning tiles: %w", err)
	}

	if bounds == nil {
		return fmt.Errorf("archive has no tiles")
	}

	writer, err := tilebundle.NewMbtilesOutputter(path)
	if err != nil {
		return fmt.Errorf("reopening mbtiles archive: %w", err)
	}

	for _, k := range existing.Keys() {
		v, _ := existing.Get(k)
		writer.SetMetadata(k, v)
	}

	if err := writer.CreateTiles(); err != nil {
		writer.Close()
		return err
	}
	if err := writer.AssignSpatialMetadata(*bounds, minZoom, maxZoom); err != nil {
		writer.Close()
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	slog.Info("spatial metadata assigned",
		"path", path,
		"tiles", tiles,
		"minZoom", uint32(minZoom),
		"maxZoom", uint32(maxZoom))

	return nil
}
