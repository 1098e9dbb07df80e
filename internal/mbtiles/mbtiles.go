// Package mbtiles writes downloaded tiles into an MBTiles 1.3 archive.
package mbtiles

import (
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"

	_ "github.com/mattn/go-sqlite3" // Register sqlite3 driver
	"github.com/paulmach/orb/maptile"

	"github.com/kiesman99/anaxi/pkg/tile"
)

// Version of the MBTiles layout written.
const Version = "1.3"

// Archive is an open MBTiles file.
type Archive struct {
	db   *sql.DB
	path string
}

// Create replaces any file at path with an empty archive holding meta.
func Create(path string, meta map[string]string) (*Archive, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	stmts := []string{
		"PRAGMA synchronous=0",
		"PRAGMA journal_mode=DELETE",
		"create table if not exists tiles (zoom_level integer, tile_column integer, tile_row integer, tile_data blob);",
		"create table if not exists metadata (name text, value text);",
		"create unique index name on metadata (name);",
		"create unique index tile_index on tiles(zoom_level, tile_column, tile_row);",
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup %s: %w", path, err)
		}
	}

	for name, value := range meta {
		if _, err := db.Exec("insert into metadata (name, value) values (?, ?)", name, value); err != nil {
			db.Close()
			return nil, err
		}
	}
	return &Archive{db: db, path: path}, nil
}

// Open opens an existing archive.
func Open(path string) (*Archive, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	return &Archive{db: db, path: path}, nil
}

// Path of the archive file.
func (a *Archive) Path() string { return a.path }

// FlipY converts an XYZ row into the TMS row stored by MBTiles.
func FlipY(t maptile.Tile) uint32 {
	return uint32(1)<<uint(t.Z) - 1 - t.Y
}

// Put stores data for t, replacing a previous copy.
func (a *Archive) Put(t maptile.Tile, data []byte) error {
	_, err := a.db.Exec("insert or replace into tiles (zoom_level, tile_column, tile_row, tile_data) values (?, ?, ?, ?);",
		t.Z, t.X, FlipY(t), data)
	return err
}

// Get returns the stored data of t, or sql.ErrNoRows.
func (a *Archive) Get(t maptile.Tile) ([]byte, error) {
	var data []byte
	err := a.db.QueryRow("select tile_data from tiles where zoom_level = ? and tile_column = ? and tile_row = ?",
		t.Z, t.X, FlipY(t)).Scan(&data)
	return data, err
}

// Metadata returns the metadata value stored under name.
func (a *Archive) Metadata(name string) (string, error) {
	var v string
	err := a.db.QueryRow("select value from metadata where name = ?", name).Scan(&v)
	return v, err
}

// Count is the number of stored tiles.
func (a *Archive) Count() (int, error) {
	var n int
	err := a.db.QueryRow("select count(*) from tiles").Scan(&n)
	return n, err
}

// Close flushes and closes the archive.
func (a *Archive) Close() error {
	if _, err := a.db.Exec("ANALYZE;"); err != nil {
		a.db.Close()
		return err
	}
	return a.db.Close()
}

// Meta builds the metadata table for a single-zoom archive of r.
func Meta(name, ext string, r tile.Rect, attribution string) map[string]string {
	b := r.Bound()
	c := b.Center()
	meta := map[string]string{
		"name":    name,
		"format":  strings.TrimPrefix(ext, "."),
		"type":    "baselayer",
		"version": Version,
		"bounds":  fmt.Sprintf("%f,%f,%f,%f", b.Left(), b.Bottom(), b.Right(), b.Top()),
		"center":  fmt.Sprintf("%f,%f,%d", c.X(), c.Y(), r.Zoom),
		"minzoom": strconv.Itoa(r.Zoom),
		"maxzoom": strconv.Itoa(r.Zoom),
	}
	if meta["format"] == "jpeg" {
		meta["format"] = "jpg"
	}
	if attribution != "" {
		meta["attribution"] = attribution
	}
	return meta
}
