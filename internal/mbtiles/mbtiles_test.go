package mbtiles

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb/maptile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiesman99/anaxi/pkg/tile"
)

func TestFlipY(t *testing.T) {
	assert.Equal(t, uint32(0), FlipY(maptile.New(0, 0, 0)))
	assert.Equal(t, uint32(3), FlipY(maptile.New(1, 0, 2)))
	assert.Equal(t, uint32(0), FlipY(maptile.New(1, 3, 2)))
	assert.Equal(t, uint32(1023-340), FlipY(maptile.New(511, 340, 10)))
}

func TestArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "map.mbtiles")
	r := tile.Rect{Zoom: 2, XMin: 1, XMax: 2, YMin: 0, YMax: 1}

	a, err := Create(path, Meta("test", ".png", r, "© OpenStreetMap"))
	require.NoError(t, err)
	assert.Equal(t, path, a.Path())

	for _, tl := range r.Tiles() {
		require.NoError(t, a.Put(tl, []byte(tile.FileName(tl, ".png"))))
	}
	// a second put replaces the row
	require.NoError(t, a.Put(maptile.New(1, 0, 2), []byte("again")))

	n, err := a.Count()
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	data, err := a.Get(maptile.New(2, 1, 2))
	require.NoError(t, err)
	assert.Equal(t, "2_2_1.png", string(data))

	data, err = a.Get(maptile.New(1, 0, 2))
	require.NoError(t, err)
	assert.Equal(t, "again", string(data))

	var row int
	require.NoError(t, a.db.QueryRow("select tile_row from tiles where tile_data = ?", []byte("again")).Scan(&row))
	assert.Equal(t, 3, row)

	_, err = a.Get(maptile.New(0, 0, 2))
	assert.True(t, errors.Is(err, sql.ErrNoRows))

	v, err := a.Metadata("format")
	require.NoError(t, err)
	assert.Equal(t, "png", v)
	v, err = a.Metadata("minzoom")
	require.NoError(t, err)
	assert.Equal(t, "2", v)

	require.NoError(t, a.Close())
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestCreateReplacesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "map.mbtiles")
	require.NoError(t, os.WriteFile(path, []byte("not a database"), 0o644))

	a, err := Create(path, nil)
	require.NoError(t, err)
	defer a.Close()

	n, err := a.Count()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMeta(t *testing.T) {
	r := tile.Rect{Zoom: 1, XMin: 0, XMax: 1, YMin: 0, YMax: 1}
	m := Meta("world", ".jpeg", r, "")
	assert.Equal(t, "jpg", m["format"])
	assert.Equal(t, "1", m["maxzoom"])
	assert.NotContains(t, m, "attribution")
	assert.Equal(t, "-180.000000,-85.051129,180.000000,85.051129", m["bounds"])
	assert.Equal(t, "0.000000,0.000000,1", m["center"])
}
