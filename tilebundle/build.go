package tilebundle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

const (
	// DefaultTimeout bounds each tile request.
	DefaultTimeout = 10 * time.Second

	// DefaultWorkers keeps the load on a public tile service polite.
	DefaultWorkers = 4

	queueSize = 2000
)

// BuildOptions configures one bundle run. The options are read once at the
// start of the run and never mutated.
type BuildOptions struct {
	Bounds     orb.Bound
	MinZoom    maptile.Zoom
	MaxZoom    maptile.Zoom
	Layer      LayerType
	Token      string
	BaseURL    string
	OutputPath string
	Format     string
	Workers    int
	Timeout    time.Duration
}

// Build downloads every tile covering the bounding box across the zoom range
// and packs the results into a bundle at OutputPath. Failed tiles are logged
// and left out of the bundle; the run only fails on setup, cancellation or
// output errors. After every fetch attempt onProgress, when non-nil, receives
// a snapshot.
func Build(ctx context.Context, opts *BuildOptions, onProgress ProgressFunc) error {
	if opts.MinZoom > opts.MaxZoom {
		return fmt.Errorf("minimum zoom %d is above maximum zoom %d", opts.MinZoom, opts.MaxZoom)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	format := opts.Format
	if format == "" {
		format = FormatZip
	}

	zooms := ZoomRange(opts.MinZoom, opts.MaxZoom)

	endpoint := NewEndpoint(opts.BaseURL, opts.Token)
	generator, err := NewWMTSJobGenerator(endpoint, opts.Layer, opts.Bounds, zooms, timeout)
	if err != nil {
		return err
	}

	outputter, err := NewOutputter(format, opts.OutputPath)
	if err != nil {
		return err
	}

	if err := outputter.CreateTiles(); err != nil {
		return fmt.Errorf("creating %s output: %w", format, err)
	}

	total := CountTiles(opts.Bounds, zooms)
	tracker := newProgressTracker(int64(total))

	slog.Info("starting bundle run",
		"layer", string(opts.Layer),
		"minZoom", uint32(opts.MinZoom),
		"maxZoom", uint32(opts.MaxZoom),
		"tiles", total,
		"workers", workers)

	jobs := make(chan *TileRequest, queueSize)
	results := make(chan *TileResponse, queueSize)

	// Start up the workers that will fetch tiles
	workerWG := &sync.WaitGroup{}
	for w := 0; w < workers; w++ {
		worker, err := generator.CreateWorker()
		if err != nil {
			return fmt.Errorf("creating fetch worker: %w", err)
		}

		workerWG.Add(1)
		go func(id int) {
			defer workerWG.Done()
			worker(id, jobs, results)
		}(w)
	}

	// Start the worker that receives data from the fetch workers. Tiles that
	// fetched but won't save count as failures so the bundle's contents and
	// the downloaded count always agree.
	resultWG := &sync.WaitGroup{}
	resultWG.Add(1)
	go func() {
		defer resultWG.Done()

		for result := range results {
			if result.Err != nil {
				tracker.fail()
			} else if err := outputter.Save(result.Tile, result.Data); err != nil {
				slog.Warn("couldn't save tile",
					"z", result.Tile.Z, "x", result.Tile.X, "y", result.Tile.Y, "error", err)
				tracker.fail()
			} else {
				tracker.success()
			}

			if onProgress != nil {
				onProgress(tracker.snapshot())
			}
		}
	}()

	genErr := generator.CreateJobs(ctx, jobs)
	close(jobs)

	// When the workers are done, close the results channel
	workerWG.Wait()
	close(results)
	resultWG.Wait()

	final := tracker.snapshot()

	if sm, ok := outputter.(spatialMetadataAssigner); ok {
		if err := sm.AssignSpatialMetadata(opts.Bounds, opts.MinZoom, opts.MaxZoom); err != nil {
			return fmt.Errorf("assigning spatial metadata: %w", err)
		}
	}

	if err := outputter.Close(); err != nil {
		return fmt.Errorf("closing %s output: %w", format, err)
	}

	if genErr != nil {
		return genErr
	}

	slog.Info("bundle run finished",
		"downloaded", final.Downloaded,
		"failed", final.Failed,
		"total", final.Total,
		"elapsed", final.Elapsed.Round(time.Millisecond),
		"output", opts.OutputPath)

	return nil
}
