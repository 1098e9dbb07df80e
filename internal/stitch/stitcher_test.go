package stitch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiesman99/anaxi/internal/download"
	"github.com/kiesman99/anaxi/internal/mbtiles"
	"github.com/kiesman99/anaxi/internal/stitcher"
	"github.com/kiesman99/anaxi/pkg/tile"
)

func tileColor(x, y int) color.RGBA {
	return color.RGBA{R: uint8(40 + 100*x), G: uint8(40 + 100*y), B: 7, A: 255}
}

func tilePNG(x, y int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := 0; i < 8; i++ {
		for j := 0; j < 8; j++ {
			img.SetRGBA(i, j, tileColor(x, y))
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

type tileServer struct {
	*httptest.Server
	mu   sync.Mutex
	hits map[string]int
	// respond may override the answer for a path and hit count.
	respond func(path string, hit int) (int, []byte)
}

func newTileServer(t *testing.T) *tileServer {
	ts := &tileServer{hits: map[string]int{}}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.mu.Lock()
		ts.hits[r.URL.Path]++
		hit := ts.hits[r.URL.Path]
		ts.mu.Unlock()

		if ts.respond != nil {
			if code, body := ts.respond(r.URL.Path, hit); code != 0 {
				w.WriteHeader(code)
				_, _ = w.Write(body)
				return
			}
		}
		var z, x, y int
		if _, err := fmt.Sscanf(r.URL.Path, "/%d/%d/%d.png", &z, &x, &y); err != nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(tilePNG(x, y))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tileServer) template() string {
	return ts.URL + "/%zoom%/%xTile%/%yTile%.png"
}

func (ts *tileServer) total() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	n := 0
	for _, h := range ts.hits {
		n += h
	}
	return n
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// worldOptions covers the four tiles of zoom 1.
func worldOptions(ts *tileServer, dir string) Options {
	return Options{
		Start:     tile.GeoPoint{Lat: 80, Lon: -170},
		End:       tile.GeoPoint{Lat: -80, Lon: 170},
		Zoom:      1,
		Server:    ts.template(),
		OutputDir: dir,
		Workers:   2,
		Command:   "anaxi 80 -170 -80 170 1 test",
		Log:       quietLogger(),
	}
}

func TestRun_StitchesAndWritesInfo(t *testing.T) {
	ts := newTileServer(t)
	dir := t.TempDir()

	res, err := NewStitcher(worldOptions(ts, dir)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, tile.Rect{Zoom: 1, XMin: 0, XMax: 1, YMin: 0, YMax: 1}, res.Rect)
	assert.Equal(t, 4, res.Download.Fetched)
	assert.Equal(t, filepath.Join(dir, "tiles", "Map_1_0-1_0-1.png"), res.MapFile)
	assert.Equal(t, 16, res.Width)
	assert.Equal(t, 16, res.Height)

	raw, err := os.ReadDir(filepath.Join(dir, "tiles", "raw"))
	require.NoError(t, err)
	assert.Len(t, raw, 4)

	data, err := os.ReadFile(res.MapFile)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	for _, c := range [][2]int{{0, 0}, {1, 0}, {0, 1}, {1, 1}} {
		got := color.RGBAModel.Convert(img.At(c[0]*8+3, c[1]*8+3))
		assert.Equal(t, tileColor(c[0], c[1]), got, "tile %v", c)
	}

	text, err := stitcher.ReadText(data)
	require.NoError(t, err)
	assert.Equal(t, "1", text["tileEndY"])

	assert.Equal(t, filepath.Join(dir, "tiles", "Map_1_0-1_0-1.info"), res.InfoFile)
	info, err := ReadInfo(res.InfoFile)
	require.NoError(t, err)
	assert.Equal(t, "Map_1_0-1_0-1.png", info["mapFile"])
	assert.Equal(t, "4", info["numTiles"])
	assert.Equal(t, "0", info["tileStartX"])
	assert.Equal(t, "1", info["tileEndX"])
	assert.Equal(t, "-180", info["lon_west"])
	assert.Equal(t, "180", info["lon_east"])
	assert.True(t, strings.HasPrefix(info["lat_north"], "85.0511"))
	assert.Equal(t, "anaxi 80 -170 -80 170 1 test", info["cmd"])
}

func TestRun_SecondRunSkipsDownloads(t *testing.T) {
	ts := newTileServer(t)
	dir := t.TempDir()

	_, err := NewStitcher(worldOptions(ts, dir)).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, ts.total())

	res, err := NewStitcher(worldOptions(ts, dir)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, ts.total())
	assert.Equal(t, 4, res.Download.Skipped)

	opts := worldOptions(ts, dir)
	opts.Force = true
	_, err = NewStitcher(opts).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, ts.total())
}

func TestRun_DryRun(t *testing.T) {
	ts := newTileServer(t)
	dir := t.TempDir()
	opts := worldOptions(ts, dir)
	opts.DryRun = true

	res, err := NewStitcher(opts).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, res.Tiles)
	assert.Nil(t, res.Download)
	assert.Zero(t, ts.total())

	_, err = os.Stat(filepath.Join(dir, "tiles"))
	assert.True(t, os.IsNotExist(err))
}

func TestRun_NoStitch(t *testing.T) {
	ts := newTileServer(t)
	dir := t.TempDir()
	opts := worldOptions(ts, dir)
	opts.NoStitch = true

	res, err := NewStitcher(opts).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.MapFile)
	assert.Empty(t, res.InfoFile)

	entries, err := os.ReadDir(filepath.Join(dir, "tiles"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "raw", entries[0].Name())
}

func TestRun_NamedMapAndFormat(t *testing.T) {
	ts := newTileServer(t)
	dir := t.TempDir()
	opts := worldOptions(ts, dir)
	opts.Name = "world"
	opts.Format = "jpeg"

	res, err := NewStitcher(opts).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "world", "world.jpeg"), res.MapFile)
	assert.Equal(t, filepath.Join(dir, "world", "world.info"), res.InfoFile)

	f, err := os.Open(res.MapFile)
	require.NoError(t, err)
	defer f.Close()
	_, kind, err := image.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", kind)
}

func TestRun_UnsupportedFormatKeepsTiles(t *testing.T) {
	ts := newTileServer(t)
	dir := t.TempDir()
	opts := worldOptions(ts, dir)
	opts.Format = ".xcf"

	res, err := NewStitcher(opts).Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, stitcher.ErrResourceUnavailable))
	require.NotNil(t, res)
	assert.Equal(t, 4, res.Download.Fetched)
	assert.Empty(t, res.MapFile)

	raw, err := os.ReadDir(res.RawDir)
	require.NoError(t, err)
	assert.Len(t, raw, 4)
}

func TestRun_HTTPErrorAbortsWithoutOutput(t *testing.T) {
	ts := newTileServer(t)
	ts.respond = func(path string, _ int) (int, []byte) {
		if path == "/1/1/0.png" {
			return http.StatusForbidden, nil
		}
		return 0, nil
	}
	dir := t.TempDir()
	opts := worldOptions(ts, dir)
	opts.Workers = 1

	res, err := NewStitcher(opts).Run(context.Background())
	require.Error(t, err)
	var he *download.HTTPError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, http.StatusForbidden, he.StatusCode)
	assert.Contains(t, he.URL, "/1/1/0.png")
	assert.Empty(t, res.MapFile)

	_, err = os.Stat(filepath.Join(dir, "tiles", "Map_1_0-1_0-1.png"))
	assert.True(t, os.IsNotExist(err))
}

func TestRun_RedownloadsCorruptTileOnce(t *testing.T) {
	ts := newTileServer(t)
	ts.respond = func(path string, hit int) (int, []byte) {
		if path == "/1/0/1.png" && hit == 1 {
			return http.StatusOK, []byte("not an image")
		}
		return 0, nil
	}
	dir := t.TempDir()

	res, err := NewStitcher(worldOptions(ts, dir)).Run(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, res.MapFile)
	ts.mu.Lock()
	assert.Equal(t, 2, ts.hits["/1/0/1.png"])
	ts.mu.Unlock()
}

func TestRun_CorruptTileTwiceFails(t *testing.T) {
	ts := newTileServer(t)
	ts.respond = func(path string, _ int) (int, []byte) {
		if path == "/1/0/1.png" {
			return http.StatusOK, []byte("not an image")
		}
		return 0, nil
	}
	dir := t.TempDir()

	res, err := NewStitcher(worldOptions(ts, dir)).Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, stitcher.ErrCorruptTile))
	assert.Empty(t, res.MapFile)
	ts.mu.Lock()
	assert.Equal(t, 2, ts.hits["/1/0/1.png"])
	ts.mu.Unlock()
}

func TestRun_FileSystemError(t *testing.T) {
	ts := newTileServer(t)
	file := filepath.Join(t.TempDir(), "occupied")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	_, err := NewStitcher(worldOptions(ts, file)).Run(context.Background())
	assert.True(t, errors.Is(err, ErrFileSystem))
	assert.Zero(t, ts.total())
}

func TestRun_InvalidCoordinate(t *testing.T) {
	ts := newTileServer(t)
	opts := worldOptions(ts, t.TempDir())
	opts.Start.Lat = 89

	_, err := NewStitcher(opts).Run(context.Background())
	assert.True(t, errors.Is(err, tile.ErrInvalidCoordinate))
}

func TestRun_KnownSourceByID(t *testing.T) {
	ts := newTileServer(t)
	dir := t.TempDir()
	opts := worldOptions(ts, dir)
	opts.Sources = []tile.Source{{Name: "Test", URL: ts.template(), License: "CC0", MaxZoom: 19}}
	opts.Server = "0"
	opts.NoStitch = true

	res, err := NewStitcher(opts).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Test", res.Source.Name)
	assert.Equal(t, 4, ts.total())

	opts.Server = "1"
	_, err = NewStitcher(opts).Run(context.Background())
	assert.Error(t, err)
}

func TestRun_MBTilesAndWorldFile(t *testing.T) {
	ts := newTileServer(t)
	dir := t.TempDir()
	opts := worldOptions(ts, dir)
	opts.MBTiles = true
	opts.WorldFile = true

	res, err := NewStitcher(opts).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "tiles", "Map_1_0-1_0-1.mbtiles"), res.MBTiles)
	assert.Equal(t, filepath.Join(dir, "tiles", "Map_1_0-1_0-1.pgw"), res.WorldFile)

	a, err := mbtiles.Open(res.MBTiles)
	require.NoError(t, err)
	n, err := a.Count()
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	attribution, err := a.Metadata("attribution")
	assert.Error(t, err, "unnamed sources carry no license")
	assert.Empty(t, attribution)
	require.NoError(t, a.Close())

	wf, err := os.ReadFile(res.WorldFile)
	require.NoError(t, err)
	lines := strings.Fields(string(wf))
	require.Len(t, lines, 6)
	// 16 pixels across the whole world
	assert.True(t, strings.HasPrefix(lines[0], "2504688.54"), lines[0])
	assert.True(t, strings.HasPrefix(lines[3], "-2504688.54"), lines[3])
}

func TestRun_MaxPixelsRejectedBeforeDownload(t *testing.T) {
	ts := newTileServer(t)
	dir := t.TempDir()
	opts := worldOptions(ts, dir)
	// 2x2 tiles of 256 px need 512x512
	opts.MaxPixels = 256 * 256

	_, err := NewStitcher(opts).Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, stitcher.ErrCanvasTooLarge))
	assert.Zero(t, ts.total())

	_, err = os.Stat(filepath.Join(dir, "tiles"))
	assert.True(t, os.IsNotExist(err))
}

func TestRun_MaxPixelsIgnoredWithoutStitching(t *testing.T) {
	ts := newTileServer(t)
	opts := worldOptions(ts, t.TempDir())
	opts.MaxPixels = 1
	opts.NoStitch = true

	res, err := NewStitcher(opts).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, res.Download.Fetched)
}

func TestPlan_UsesSourceTileSize(t *testing.T) {
	ts := newTileServer(t)
	opts := worldOptions(ts, t.TempDir())
	opts.Server = "0"
	opts.Sources = []tile.Source{{Name: "small", URL: ts.template(), MaxZoom: 5, TileSize: 8}}
	opts.MaxPixels = 16 * 16

	res, err := NewStitcher(opts).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 16, res.Width)
	assert.Equal(t, 16, res.Height)
}

func TestRunPlan_LogsSummaryOnce(t *testing.T) {
	ts := newTileServer(t)
	logger, hook := logtest.NewNullLogger()
	opts := worldOptions(ts, t.TempDir())
	opts.Log = logger

	st := NewStitcher(opts)
	plan, err := st.Plan()
	require.NoError(t, err)
	_, err = st.RunPlan(context.Background(), plan)
	require.NoError(t, err)

	n := 0
	for _, e := range hook.AllEntries() {
		if strings.HasPrefix(e.Message, "==Zoom Level") {
			n++
		}
	}
	assert.Equal(t, 1, n)
}

func TestExportMBTiles_RemovesPartialArchive(t *testing.T) {
	ts := newTileServer(t)
	st := NewStitcher(worldOptions(ts, t.TempDir()))
	plan, err := st.Plan()
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(plan.RawDir, 0o755))

	// only one of the four tiles is on disk
	dl := download.New(plan.Source.URL, plan.RawDir)
	require.NoError(t, os.WriteFile(dl.Path(plan.Rect.Tiles()[0]), tilePNG(0, 0), 0o644))

	_, err = st.exportMBTiles(plan, dl)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFileSystem))

	entries, err := os.ReadDir(plan.Dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), "Map_"), e.Name())
	}
}

func TestWorldFileExt(t *testing.T) {
	assert.Equal(t, ".pgw", WorldFileExt(".png"))
	assert.Equal(t, ".jgw", WorldFileExt(".jpg"))
	assert.Equal(t, ".tfw", WorldFileExt(".tif"))
	assert.Equal(t, ".wpw", WorldFileExt("webp"))
	assert.Equal(t, ".wld", WorldFileExt(""))
}
