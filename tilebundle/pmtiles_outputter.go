package tilebundle

import (
	"fmt"
	"hash"
	"hash/fnv"
	"io"
	"log/slog"
	"math"
	"os"
	"sort"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/protomaps/go-pmtiles/pmtiles"
)

type offsetLen struct {
	offset uint64
	length uint32
}

// pmtilesOutputter accumulates tile data in a temp file, deduplicating
// identical payloads by hash, and assembles the final archive when the run
// finishes.
type pmtilesOutputter struct {
	tileset   *roaring64.Bitmap
	hashFunc  hash.Hash
	offsetMap map[string]offsetLen
	tileData  *os.File
	entries   []pmtiles.EntryV3
	header    pmtiles.HeaderV3
	outFile   *os.File
}

func NewPmtilesOutputter(path string) (*pmtilesOutputter, error) {
	tmpFile, err := os.CreateTemp("", "pmtiles-tiledata")
	if err != nil {
		return nil, fmt.Errorf("error creating temp file: %w", err)
	}

	outFile, err := os.Create(path)
	if err != nil {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
		return nil, fmt.Errorf("error creating pmtiles output file: %w", err)
	}

	return &pmtilesOutputter{
		outFile:   outFile,
		tileset:   roaring64.New(),
		hashFunc:  fnv.New128a(),
		tileData:  tmpFile,
		offsetMap: make(map[string]offsetLen),
		entries:   make([]pmtiles.EntryV3, 0),
		header: pmtiles.HeaderV3{
			TileType:        pmtiles.Png,
			TileCompression: pmtiles.NoCompression,
		},
	}, nil
}

func (p *pmtilesOutputter) CreateTiles() error {
	return nil
}

func (p *pmtilesOutputter) Save(tile maptile.Tile, data []byte) error {
	id := pmtiles.ZxyToID(uint8(tile.Z), tile.X, tile.Y)
	p.tileset.Add(id)

	// Hash the tile data to use as a key for dedupe
	p.hashFunc.Reset()
	p.hashFunc.Write(data)
	sumString := string(p.hashFunc.Sum(nil))

	found, ok := p.offsetMap[sumString]
	if !ok {
		offset, err := p.tileData.Seek(0, io.SeekEnd)
		if err != nil {
			return err
		}

		bytesWritten, err := p.tileData.Write(data)
		if err != nil {
			return err
		}

		found = offsetLen{
			offset: uint64(offset),
			length: uint32(bytesWritten),
		}

		p.offsetMap[sumString] = found
	}

	p.entries = append(p.entries, pmtiles.EntryV3{
		TileID:    id,
		Offset:    found.offset,
		Length:    found.length,
		RunLength: 1,
	})

	return nil
}

// AssignSpatialMetadata records the covered bounds and zoom span in the
// archive header.
func (p *pmtilesOutputter) AssignSpatialMetadata(bounds orb.Bound, minZoom maptile.Zoom, maxZoom maptile.Zoom) error {
	center := bounds.Center()

	p.header.MinZoom = uint8(minZoom)
	p.header.MaxZoom = uint8(maxZoom)
	p.header.MinLonE7 = int32(math.Round(bounds.Min.X() * 10000000))
	p.header.MinLatE7 = int32(math.Round(bounds.Min.Y() * 10000000))
	p.header.MaxLonE7 = int32(math.Round(bounds.Max.X() * 10000000))
	p.header.MaxLatE7 = int32(math.Round(bounds.Max.Y() * 10000000))
	p.header.CenterZoom = uint8(minZoom)
	p.header.CenterLonE7 = int32(math.Round(center.X() * 10000000))
	p.header.CenterLatE7 = int32(math.Round(center.Y() * 10000000))

	return nil
}

func (p *pmtilesOutputter) Close() error {
	defer p.outFile.Close()
	defer os.Remove(p.tileData.Name())
	defer p.tileData.Close()

	// Directory entries must be ordered by tile ID, not by arrival.
	sort.Slice(p.entries, func(i, j int) bool {
		return p.entries[i].TileID < p.entries[j].TileID
	})

	p.header.AddressedTilesCount = p.tileset.GetCardinality()
	p.header.TileEntriesCount = uint64(len(p.entries))
	p.header.TileContentsCount = uint64(len(p.offsetMap))

	rootBytes, leavesBytes, numLeaves := optimizeDirectories(p.entries, 16384-pmtiles.HeaderV3LenBytes, pmtiles.Gzip)

	slog.Debug("serialized pmtiles directories",
		"tiles", p.tileset.GetCardinality(),
		"rootBytes", len(rootBytes),
		"leavesBytes", len(leavesBytes),
		"leaves", numLeaves)

	jsonMetadata := map[string]interface{}{
		"format": "png",
	}

	metadataBytes, err := pmtiles.SerializeMetadata(jsonMetadata, pmtiles.Gzip)
	if err != nil {
		return fmt.Errorf("error serializing pmtiles metadata: %w", err)
	}

	tileDataLength, err := p.tileData.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}

	p.header.InternalCompression = pmtiles.Gzip
	p.header.RootOffset = pmtiles.HeaderV3LenBytes
	p.header.RootLength = uint64(len(rootBytes))
	p.header.MetadataOffset = p.header.RootOffset + p.header.RootLength
	p.header.MetadataLength = uint64(len(metadataBytes))
	p.header.LeafDirectoryOffset = p.header.MetadataOffset + p.header.MetadataLength
	p.header.LeafDirectoryLength = uint64(len(leavesBytes))
	p.header.TileDataOffset = p.header.LeafDirectoryOffset + p.header.LeafDirectoryLength
	p.header.TileDataLength = uint64(tileDataLength)

	headerBytes := pmtiles.SerializeHeader(p.header)

	if _, err := p.outFile.Write(headerBytes); err != nil {
		return fmt.Errorf("error writing pmtiles header: %w", err)
	}

	if _, err := p.outFile.Write(rootBytes); err != nil {
		return fmt.Errorf("error writing pmtiles root directory: %w", err)
	}

	if _, err := p.outFile.Write(metadataBytes); err != nil {
		return fmt.Errorf("error writing pmtiles metadata: %w", err)
	}

	if _, err := p.outFile.Write(leavesBytes); err != nil {
		return fmt.Errorf("error writing pmtiles leaf directory: %w", err)
	}

	if _, err := p.tileData.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("error seeking to start of tile data: %w", err)
	}

	if _, err := io.Copy(p.outFile, p.tileData); err != nil {
		return fmt.Errorf("error copying tile data to outfile: %w", err)
	}

	return nil
}

func optimizeDirectories(entries []pmtiles.EntryV3, targetRootLen int, compression pmtiles.Compression) ([]byte, []byte, int) {
	if len(entries) < 16384 {
		testRootBytes := pmtiles.SerializeEntries(entries, compression)
		if len(testRootBytes) <= targetRootLen {
			// The entire directory fits into the root
			return testRootBytes, make([]byte, 0), 0
		}
	}

	// Root becomes leaf pointers only. Grow the leaf directory size until the
	// root fits.
	leafSize := float32(len(entries)) / 3500
	if leafSize < 4096 {
		leafSize = 4096
	}

	for {
		rootBytes, leavesBytes, numLeaves := buildRootsLeaves(entries, int(leafSize), compression)
		if len(rootBytes) <= targetRootLen {
			return rootBytes, leavesBytes, numLeaves
		}
		leafSize *= 1.2
	}
}

func buildRootsLeaves(entries []pmtiles.EntryV3, leafSize int, compression pmtiles.Compression) ([]byte, []byte, int) {
	rootEntries := make([]pmtiles.EntryV3, 0)
	leavesBytes := make([]byte, 0)
	numLeaves := 0

	for i := 0; i < len(entries); i += leafSize {
		numLeaves++
		end := i + leafSize
		if end > len(entries) {
			end = len(entries)
		}
		serialized := pmtiles.SerializeEntries(entries[i:end], compression)

		rootEntries = append(rootEntries, pmtiles.EntryV3{
			TileID:    entries[i].TileID,
			Offset:    uint64(len(leavesBytes)),
			Length:    uint32(len(serialized)),
			RunLength: 0,
		})
		leavesBytes = append(leavesBytes, serialized...)
	}

	rootBytes := pmtiles.SerializeEntries(rootEntries, compression)
	return rootBytes, leavesBytes, numLeaves
}
