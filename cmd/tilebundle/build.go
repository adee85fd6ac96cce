package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/schollz/progressbar/v3"
	"github.com/teris-io/shortid"
	"github.com/tilebundle/go-tilebundle/tilebundle"
	"github.com/urfave/cli/v3"
)

const (
	minSupportedZoom = 1
	maxSupportedZoom = 18
)

type buildConfig struct {
	Bounds  string
	Zooms   string
	Layer   string
	Token   string
	Output  string
	Format  string
	BaseURL string
	Quiet   bool
}

func (c *buildConfig) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "bounds",
			Usage:       "Bounding box to cover as south,west,north,east degrees",
			Required:    true,
			Destination: &c.Bounds,
		},
		&cli.StringFlag{
			Name:        "zooms",
			Usage:       "Zoom range to cover, like 10-14, or a single zoom",
			Required:    true,
			Destination: &c.Zooms,
		},
		&cli.StringFlag{
			Name:        "layer",
			Usage:       "Base layer to fetch (satellite, vector, terrain)",
			Value:       string(tilebundle.LayerSatellite),
			Destination: &c.Layer,
		},
		&cli.StringFlag{
			Name:        "token",
			Usage:       "Service token sent as the tk query parameter",
			Required:    true,
			Destination: &c.Token,
			Sources:     cli.EnvVars("TILEBUNDLE_TOKEN"),
		},
		&cli.StringFlag{
			Name:        "output",
			Aliases:     []string{"o"},
			Usage:       "Path to write the bundle to",
			Required:    true,
			Destination: &c.Output,
		},
		&cli.StringFlag{
			Name:        "format",
			Usage:       "Bundle format (zip, dir, mbtiles, pmtiles)",
			Value:       tilebundle.FormatZip,
			Destination: &c.Format,
		},
		&cli.StringFlag{
			Name:        "base-url",
			Usage:       "Override the tile service URL template",
			Destination: &c.BaseURL,
			Sources:     cli.EnvVars("TILEBUNDLE_BASE_URL"),
		},
		&cli.IntFlag{
			Name:  "workers",
			Usage: "Number of tile fetch workers to use",
			Value: tilebundle.DefaultWorkers,
		},
		&cli.IntFlag{
			Name:  "timeout",
			Usage: "HTTP client timeout for tile requests, in seconds",
			Value: 10,
		},
		&cli.BoolFlag{
			Name:        "quiet",
			Aliases:     []string{"q"},
			Usage:       "Suppress the progress bar",
			Destination: &c.Quiet,
		},
	}
}

func cmdBuild() *cli.Command {
	var cfg buildConfig

	return &cli.Command{
		Name:  "build",
		Usage: "Download the tiles covering a bounding box into a bundle",
		Flags: cfg.Flags(),
		Action: func(ctx context.Context, c *cli.Command) error {
			bounds, err := parseBounds(cfg.Bounds)
			if err != nil {
				return err
			}

			minZoom, maxZoom, err := parseZooms(cfg.Zooms)
			if err != nil {
				return err
			}

			layer, err := tilebundle.ParseLayerType(cfg.Layer)
			if err != nil {
				return err
			}

			runID, _ := shortid.Generate()
			slog.SetDefault(slog.Default().With("run", runID))

			var onProgress tilebundle.ProgressFunc
			if !cfg.Quiet {
				total := tilebundle.CountTiles(bounds, tilebundle.ZoomRange(minZoom, maxZoom))
				bar := progressbar.NewOptions64(int64(total),
					progressbar.OptionSetDescription(fmt.Sprintf("downloading %s tiles", layer)),
					progressbar.OptionSetWriter(os.Stderr),
					progressbar.OptionShowCount(),
					progressbar.OptionThrottle(65*time.Millisecond),
					progressbar.OptionClearOnFinish(),
				)
				defer bar.Finish()

				// The bar tracks attempts so it completes even when tiles fail.
				onProgress = func(p tilebundle.Progress) {
					bar.Add(1)
				}
			}

			return tilebundle.Build(ctx, &tilebundle.BuildOptions{
				Bounds:     bounds,
				MinZoom:    minZoom,
				MaxZoom:    maxZoom,
				Layer:      layer,
				Token:      cfg.Token,
				BaseURL:    cfg.BaseURL,
				OutputPath: cfg.Output,
				Format:     cfg.Format,
				Workers:    int(c.Int("workers")),
				Timeout:    time.Duration(c.Int("timeout")) * time.Second,
			}, onProgress)
		},
	}
}

// parseBounds reads a bounding box given as south,west,north,east degrees.
func parseBounds(value string) (orb.Bound, error) {
	parts := strings.Split(value, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("bounds must be south,west,north,east, got %q", value)
	}

	coords := make([]float64, 4)
	for i, part := range parts {
		coord, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("bounds coordinate %q is not a number", part)
		}
		coords[i] = coord
	}

	south, west, north, east := coords[0], coords[1], coords[2], coords[3]
	if south > north {
		return orb.Bound{}, fmt.Errorf("southern latitude %v is above northern latitude %v", south, north)
	}
	if west > east {
		return orb.Bound{}, fmt.Errorf("western longitude %v is east of eastern longitude %v", west, east)
	}

	return orb.Bound{
		Min: orb.Point{west, south},
		Max: orb.Point{east, north},
	}, nil
}

// parseZooms reads a zoom range like "10-14" or a single zoom like "12".
func parseZooms(value string) (maptile.Zoom, maptile.Zoom, error) {
	minPart, maxPart, found := strings.Cut(value, "-")
	if !found {
		maxPart = minPart
	}

	minZoom, err := strconv.ParseUint(strings.TrimSpace(minPart), 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("zoom %q is not a number", minPart)
	}

	maxZoom, err := strconv.ParseUint(strings.TrimSpace(maxPart), 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("zoom %q is not a number", maxPart)
	}

	if minZoom < minSupportedZoom || maxZoom > maxSupportedZoom {
		return 0, 0, fmt.Errorf("zooms must stay within %d-%d, got %q", minSupportedZoom, maxSupportedZoom, value)
	}
	if minZoom > maxZoom {
		return 0, 0, fmt.Errorf("minimum zoom %d is above maximum zoom %d", minZoom, maxZoom)
	}

	return maptile.Zoom(minZoom), maptile.Zoom(maxZoom), nil
}
