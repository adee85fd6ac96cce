package tilebundle

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

const (
	httpUserAgent = "go-tilebundle/1.0"
	httpReferer   = "https://map.tianditu.gov.cn/"
)

// NewWMTSJobGenerator creates jobs for every tile covering the bounding box
// at the given zooms, and workers that fetch them from the WMTS endpoint.
// Each tile gets a single GET attempt; failures are logged and skipped.
func NewWMTSJobGenerator(endpoint *Endpoint, layer LayerType, bounds orb.Bound, zooms []maptile.Zoom, httpTimeout time.Duration) (JobGenerator, error) {
	if _, ok := wmtsLayers[layer]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLayer, string(layer))
	}

	// Configure the HTTP client with a timeout and connection pools
	httpClient := &http.Client{}
	httpClient.Timeout = httpTimeout
	httpTransport := &http.Transport{
		MaxIdleConnsPerHost: 500,
		DisableCompression:  true,
	}
	httpClient.Transport = httpTransport

	return &wmtsJobGenerator{
		httpClient: httpClient,
		endpoint:   endpoint,
		layer:      layer,
		bounds:     bounds,
		zooms:      zooms,
	}, nil
}

type wmtsJobGenerator struct {
	httpClient *http.Client
	endpoint   *Endpoint
	layer      LayerType
	bounds     orb.Bound
	zooms      []maptile.Zoom
}

func (g *wmtsJobGenerator) fetch(request *TileRequest) ([]byte, error) {
	httpReq, err := http.NewRequest("GET", request.URL, nil)
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("User-Agent", httpUserAgent)
	httpReq.Header.Set("Referer", httpReferer)

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// Any 2xx counts as a fetched tile, everything else is a failure.
	if resp.StatusCode/100 != 2 {
		if resp.StatusCode == http.StatusForbidden {
			slog.Warn("tile request forbidden, the service token may be invalid or exhausted",
				"z", request.Tile.Z, "x", request.Tile.X, "y", request.Tile.Y)
		}
		return nil, fmt.Errorf("GET %s: %s", request.URL, resp.Status)
	}

	return io.ReadAll(resp.Body)
}

func (g *wmtsJobGenerator) CreateWorker() (func(id int, jobs chan *TileRequest, results chan *TileResponse), error) {
	f := func(id int, jobs chan *TileRequest, results chan *TileResponse) {
		for request := range jobs {
			start := time.Now()

			data, err := g.fetch(request)
			if err != nil {
				slog.Warn("skipping tile",
					"z", request.Tile.Z, "x", request.Tile.X, "y", request.Tile.Y, "error", err)
			}

			results <- &TileResponse{
				Tile:    request.Tile,
				Data:    data,
				Elapsed: time.Since(start).Seconds(),
				Err:     err,
			}

			// Sleep a tiny bit to try to prevent thundering herd
			time.Sleep(time.Duration(rand.Intn(50)) * time.Millisecond)
		}
	}

	return f, nil
}

// CreateJobs enqueues one request per tile, ascending by zoom, then column,
// then row. Cancelling the context stops the queue between sends.
func (g *wmtsJobGenerator) CreateJobs(ctx context.Context, jobs chan *TileRequest) error {
	for _, z := range g.zooms {
		r := CoverBounds(g.bounds, z)

		for x := r.MinX; x <= r.MaxX; x++ {
			for y := r.MinY; y <= r.MaxY; y++ {
				tile := maptile.New(x, y, z)

				url, err := g.endpoint.TileURL(tile, g.layer)
				if err != nil {
					return err
				}

				select {
				case jobs <- &TileRequest{Tile: tile, URL: url}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}

	return nil
}
