package tilebundle

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// MbtilesMetadata wraps the key/value rows of an mbtiles metadata table.
type MbtilesMetadata struct {
	metadata map[string]string
}

func NewMbtilesMetadata(metadata map[string]string) *MbtilesMetadata {
	return &MbtilesMetadata{
		metadata: metadata,
	}
}

func (m *MbtilesMetadata) Get(k string) (string, bool) {
	v, exists := m.metadata[k]
	return v, exists
}

func (m *MbtilesMetadata) Set(k string, v string) {
	m.metadata[k] = v
}

func (m *MbtilesMetadata) Keys() []string {
	keys := make([]string, 0, len(m.metadata))
	for k := range m.metadata {
		keys = append(keys, k)
	}
	return keys
}

// Bounds parses the west,south,east,north bounds entry.
func (m *MbtilesMetadata) Bounds() (orb.Bound, error) {
	var bounds orb.Bound

	strBounds, exists := m.Get("bounds")
	if !exists {
		return bounds, fmt.Errorf("metadata is missing bounds")
	}

	parts := strings.Split(strBounds, ",")
	if len(parts) != 4 {
		return bounds, fmt.Errorf("invalid bounds metadata %q", strBounds)
	}

	coords := make([]float64, 4)
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return bounds, fmt.Errorf("failed to parse bounds metadata, %w", err)
		}
		coords[i] = v
	}

	return orb.Bound{
		Min: orb.Point{coords[0], coords[1]},
		Max: orb.Point{coords[2], coords[3]},
	}, nil
}

// Center parses the lon,lat center entry.
func (m *MbtilesMetadata) Center() (orb.Point, error) {
	var pt orb.Point

	strCenter, exists := m.Get("center")
	if !exists {
		return pt, fmt.Errorf("metadata is missing center")
	}

	parts := strings.Split(strCenter, ",")
	if len(parts) != 2 {
		return pt, fmt.Errorf("invalid center metadata %q", strCenter)
	}

	x, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return pt, fmt.Errorf("failed to parse center x, %w", err)
	}

	y, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return pt, fmt.Errorf("failed to parse center y, %w", err)
	}

	return orb.Point{x, y}, nil
}

func (m *MbtilesMetadata) MinZoom() (uint, error) {
	strMinzoom, exists := m.Get("minzoom")
	if !exists {
		return 0, fmt.Errorf("metadata is missing minzoom")
	}

	i, err := strconv.Atoi(strMinzoom)
	if err != nil {
		return 0, fmt.Errorf("failed to parse minzoom value, %w", err)
	}

	return uint(i), nil
}

func (m *MbtilesMetadata) MaxZoom() (uint, error) {
	strMaxzoom, exists := m.Get("maxzoom")
	if !exists {
		return 0, fmt.Errorf("metadata is missing maxzoom")
	}

	i, err := strconv.Atoi(strMaxzoom)
	if err != nil {
		return 0, fmt.Errorf("failed to parse maxzoom value, %w", err)
	}

	return uint(i), nil
}

func (m *MbtilesMetadata) Name() string {
	return m.metadata["name"]
}

func (m *MbtilesMetadata) Format() string {
	return m.metadata["format"]
}
