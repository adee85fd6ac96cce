package tilebundle

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"

	"github.com/paulmach/orb/maptile"
)

// DefaultBaseURL is the endpoint template tile URLs are built from. The {s}
// placeholder becomes a random subdomain digit and {layer} becomes the path
// segment of the requested base layer.
const DefaultBaseURL = "https://t{s}.tianditu.gov.cn/{layer}/wmts"

const subdomainCount = 8

// LayerType names a base layer offered by the tile service.
type LayerType string

const (
	LayerSatellite LayerType = "satellite"
	LayerVector    LayerType = "vector"
	LayerTerrain   LayerType = "terrain"
)

// ErrUnknownLayer is returned when a layer type has no WMTS mapping.
var ErrUnknownLayer = errors.New("unknown base layer type")

type wmtsLayer struct {
	pathSegment string
	layerName   string
}

var wmtsLayers = map[LayerType]wmtsLayer{
	LayerSatellite: {pathSegment: "img_w", layerName: "img"},
	LayerVector:    {pathSegment: "vec_w", layerName: "vec"},
	LayerTerrain:   {pathSegment: "ter_w", layerName: "ter"},
}

// ParseLayerType validates a layer name given on the command line.
func ParseLayerType(s string) (LayerType, error) {
	layer := LayerType(s)
	if _, ok := wmtsLayers[layer]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownLayer, s)
	}
	return layer, nil
}

const tileQueryTemplate = "SERVICE=WMTS&REQUEST=GetTile&VERSION=1.0.0&LAYER={layer}&STYLE=default&TILEMATRIXSET=w&FORMAT=tiles&TileMatrix={z}&TileCol={x}&TileRow={y}&tk={token}"

// Endpoint builds GetTile request URLs for one tile service and token.
type Endpoint struct {
	baseURL string
	token   string
}

// NewEndpoint returns an endpoint for the given base URL template. An empty
// template selects DefaultBaseURL.
func NewEndpoint(baseURL string, token string) *Endpoint {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Endpoint{
		baseURL: baseURL,
		token:   token,
	}
}

// TileURL returns the GetTile URL for a single tile of the given layer,
// spreading requests across the service's subdomains.
func (e *Endpoint) TileURL(tile maptile.Tile, layer LayerType) (string, error) {
	l, ok := wmtsLayers[layer]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownLayer, string(layer))
	}

	base := strings.NewReplacer(
		"{s}", fmt.Sprintf("%d", rand.Intn(subdomainCount)),
		"{layer}", l.pathSegment).Replace(e.baseURL)

	query := strings.NewReplacer(
		"{layer}", l.layerName,
		"{z}", fmt.Sprintf("%d", tile.Z),
		"{x}", fmt.Sprintf("%d", tile.X),
		"{y}", fmt.Sprintf("%d", tile.Y),
		"{token}", e.token).Replace(tileQueryTemplate)

	return base + "?" + query, nil
}
