package tilebundle

import (
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3" // Register sqlite3 database driver
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

const mbtilesBatchSize = 1000

func NewMbtilesOutputter(dsn string) (*mbtilesOutputter, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSuffix(filepath.Base(dsn), filepath.Ext(dsn))

	return &mbtilesOutputter{
		db: db,
		metadata: map[string]string{
			"name":    name,
			"format":  "png",
			"type":    "baselayer",
			"version": "1",
		},
	}, nil
}

type mbtilesOutputter struct {
	db         *sql.DB
	txn        *sql.Tx
	batchCount int
	hasTiles   bool
	metadata   map[string]string
}

func (o *mbtilesOutputter) CreateTiles() error {
	if o.hasTiles {
		return nil
	}
	if _, err := o.db.Exec(`
		BEGIN TRANSACTION;
		CREATE TABLE IF NOT EXISTS map (
			zoom_level INTEGER NOT NULL,
			tile_column INTEGER NOT NULL,
			tile_row INTEGER NOT NULL,
			tile_id TEXT NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS map_index ON map (zoom_level, tile_column, tile_row);
		CREATE TABLE IF NOT EXISTS images (
			tile_data BLOB NOT NULL,
			tile_id TEXT NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS images_id ON images (tile_id);
		CREATE TABLE IF NOT EXISTS metadata (
			name TEXT,
			value TEXT
		);
		CREATE UNIQUE INDEX IF NOT EXISTS name ON metadata (name);
		CREATE VIEW IF NOT EXISTS tiles AS
		SELECT
			map.zoom_level AS zoom_level,
			map.tile_column AS tile_column,
			map.tile_row AS tile_row,
			images.tile_data AS tile_data
		FROM map
		JOIN images ON images.tile_id = map.tile_id;
		COMMIT;
		PRAGMA synchronous=OFF;
	`); err != nil {
		return err
	}
	o.hasTiles = true
	return nil
}

func (o *mbtilesOutputter) Save(tile maptile.Tile, data []byte) error {
	if err := o.CreateTiles(); err != nil {
		return err
	}

	if o.txn == nil {
		tx, err := o.db.Begin()
		if err != nil {
			return err
		}
		o.txn = tx
	}

	hash := md5.Sum(data)
	tileID := hex.EncodeToString(hash[:])

	if _, err := o.txn.Exec("INSERT OR REPLACE INTO images (tile_id, tile_data) VALUES (?, ?);", tileID, data); err != nil {
		return err
	}

	// mbtiles rows count from the south, flip from the XYZ scheme
	tileRow := (uint32(1) << uint(tile.Z)) - 1 - tile.Y

	if _, err := o.txn.Exec("INSERT OR REPLACE INTO map (zoom_level, tile_column, tile_row, tile_id) VALUES (?, ?, ?, ?);", tile.Z, tile.X, tileRow, tileID); err != nil {
		return err
	}

	o.batchCount++

	if o.batchCount%mbtilesBatchSize == 0 {
		if err := o.txn.Commit(); err != nil {
			return err
		}
		o.batchCount = 0
		o.txn = nil
	}

	return nil
}

// SetMetadata overrides one metadata row before the outputter closes.
func (o *mbtilesOutputter) SetMetadata(name string, value string) {
	o.metadata[name] = value
}

// AssignSpatialMetadata records the covered bounds and zoom span, written to
// the metadata table when the outputter closes.
func (o *mbtilesOutputter) AssignSpatialMetadata(bounds orb.Bound, minZoom maptile.Zoom, maxZoom maptile.Zoom) error {
	center := bounds.Center()

	o.metadata["bounds"] = fmt.Sprintf("%f,%f,%f,%f", bounds.Min.X(), bounds.Min.Y(), bounds.Max.X(), bounds.Max.Y())
	o.metadata["center"] = fmt.Sprintf("%f,%f", center.X(), center.Y())
	o.metadata["minzoom"] = fmt.Sprintf("%d", minZoom)
	o.metadata["maxzoom"] = fmt.Sprintf("%d", maxZoom)

	return nil
}

func (o *mbtilesOutputter) Close() error {
	var err error

	if o.txn != nil {
		err = o.txn.Commit()
		o.txn = nil
	}

	if err == nil && o.hasTiles {
		for name, value := range o.metadata {
			if _, mdErr := o.db.Exec("INSERT OR REPLACE INTO metadata (name, value) VALUES (?, ?);", name, value); mdErr != nil {
				err = mdErr
				break
			}
		}
	}

	if o.db != nil {
		if err2 := o.db.Close(); err2 != nil {
			err = err2
		}
	}

	return err
}
