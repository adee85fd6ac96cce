package tilebundle

import (
	"database/sql"
	"log/slog"

	_ "github.com/mattn/go-sqlite3" // Register sqlite3 database driver
	"github.com/paulmach/orb/maptile"
)

type TileData struct {
	Tile maptile.Tile
	Data *[]byte
}

type MbtilesReader interface {
	Close() error
	GetTile(tile maptile.Tile) (*TileData, error)
	VisitAllTiles(visitor func(maptile.Tile, []byte)) error
	Metadata() (*MbtilesMetadata, error)
}

func NewMbtilesReader(dsn string) (MbtilesReader, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	return NewMbtilesReaderWithDatabase(db)
}

func NewMbtilesReaderWithDatabase(db *sql.DB) (MbtilesReader, error) {
	return &mbtilesReader{db: db}, nil
}

type mbtilesReader struct {
	db *sql.DB
}

// Close gracefully tears down the mbtiles connection.
func (o *mbtilesReader) Close() error {
	var err error

	if o.db != nil {
		if err2 := o.db.Close(); err2 != nil {
			err = err2
		}
	}

	return err
}

// GetTile returns data for the given XYZ tile, translating to the TMS rows
// the tiles view stores. Tiles absent from the archive come back with nil
// data.
func (o *mbtilesReader) GetTile(tile maptile.Tile) (*TileData, error) {
	var data []byte

	tileRow := (uint32(1) << uint(tile.Z)) - 1 - tile.Y

	result := o.db.QueryRow("SELECT tile_data FROM tiles WHERE zoom_level=? AND tile_column=? AND tile_row=? LIMIT 1", tile.Z, tile.X, tileRow)
	err := result.Scan(&data)

	if err != nil {
		if err == sql.ErrNoRows {
			return &TileData{Tile: tile, Data: nil}, nil
		}
		return nil, err
	}

	return &TileData{Tile: tile, Data: &data}, nil
}

// VisitAllTiles runs the given function on all tiles in this mbtiles archive,
// presented in the XYZ scheme.
func (o *mbtilesReader) VisitAllTiles(visitor func(maptile.Tile, []byte)) error {
	rows, err := o.db.Query("SELECT zoom_level, tile_column, tile_row, tile_data FROM tiles")
	if err != nil {
		return err
	}
	defer rows.Close()

	var x, row uint32
	var z maptile.Zoom
	for rows.Next() {
		data := []byte{}
		if err := rows.Scan(&z, &x, &row, &data); err != nil {
			slog.Warn("couldn't scan tile row", "error", err)
			continue
		}

		y := (uint32(1) << uint(z)) - 1 - row
		visitor(maptile.New(x, y, z), data)
	}
	return rows.Err()
}

// Metadata reads the metadata table.
func (o *mbtilesReader) Metadata() (*MbtilesMetadata, error) {
	rows, err := o.db.Query("SELECT name, value FROM metadata")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	metadata := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		metadata[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return NewMbtilesMetadata(metadata), nil
}
