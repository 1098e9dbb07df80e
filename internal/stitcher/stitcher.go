package stitcher

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/paulmach/orb/maptile"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/bmp" // Register BMP decoder
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff" // Register TIFF decoder
	_ "golang.org/x/image/webp" // Register WebP decoder

	"github.com/kiesman99/anaxi/pkg/tile"
)

// DefaultMaxPixels is the canvas area cap used by the HTTP server.
const DefaultMaxPixels = 10000 * 10000

// maxAddressablePixels bounds any canvas so its RGBA buffer length fits in an int.
const maxAddressablePixels = math.MaxInt / 4

var (
	ErrTileMissing    = errors.New("tile missing")
	ErrCorruptTile    = errors.New("tile corrupt")
	ErrCanvasTooLarge = errors.New("requested image size too large")
)

// TileError reports a tile that could not be read while stitching.
type TileError struct {
	X, Y int
	Path string
	Err  error
}

func (e *TileError) Error() string {
	return fmt.Sprintf("tile %d/%d (%s): %v", e.X, e.Y, e.Path, e.Err)
}

func (e *TileError) Unwrap() error {
	return e.Err
}

// Source gives access to the tiles of a grid.
type Source interface {
	Config(x, y int) (image.Config, error)
	Image(x, y int) (image.Image, error)
}

// DirSource reads <zoom>_<x>_<y><ext> files from Dir.
type DirSource struct {
	Dir  string
	Zoom int
	Ext  string
}

// Path returns the file name of tile x/y.
func (s DirSource) Path(x, y int) string {
	return filepath.Join(s.Dir, tile.FileName(maptile.New(uint32(x), uint32(y), maptile.Zoom(s.Zoom)), s.Ext))
}

func (s DirSource) open(x, y int) (*os.File, string, error) {
	path := s.Path(x, y)
	f, err := os.Open(path)
	if err != nil {
		return nil, path, &TileError{X: x, Y: y, Path: path, Err: fmt.Errorf("%w: %v", ErrTileMissing, err)}
	}
	return f, path, nil
}

// Config decodes only the header of tile x/y.
func (s DirSource) Config(x, y int) (image.Config, error) {
	f, path, err := s.open(x, y)
	if err != nil {
		return image.Config{}, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return image.Config{}, &TileError{X: x, Y: y, Path: path, Err: fmt.Errorf("%w: %v", ErrCorruptTile, err)}
	}
	return cfg, nil
}

// Image decodes tile x/y.
func (s DirSource) Image(x, y int) (image.Image, error) {
	f, path, err := s.open(x, y)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, &TileError{X: x, Y: y, Path: path, Err: fmt.Errorf("%w: %v", ErrCorruptTile, err)}
	}
	return img, nil
}

// Options controls a compose run.
type Options struct {
	// Alpha keeps transparency. Without it the canvas is opaque (RGB).
	Alpha bool
	// MaxPixels caps the canvas area. Zero means no cap.
	MaxPixels int64
	Log       logrus.FieldLogger
	Progress  io.Writer
}

// Result is a stitched canvas.
type Result struct {
	Image      *image.RGBA
	Rect       tile.Rect
	TileWidth  int
	TileHeight int
}

// Width of the canvas in pixels.
func (r *Result) Width() int { return r.Image.Bounds().Dx() }

// Height of the canvas in pixels.
func (r *Result) Height() int { return r.Image.Bounds().Dy() }

// CanvasSize returns the pixel size of a canvas holding r with the given tile size.
func CanvasSize(r tile.Rect, tileWidth, tileHeight int) (int, int) {
	return r.Cols() * tileWidth, r.Rows() * tileHeight
}

// CheckCanvas fails with ErrCanvasTooLarge when a width x height canvas
// exceeds maxPixels, or cannot be allocated at all. maxPixels <= 0 disables the cap.
func CheckCanvas(width, height int, maxPixels int64) error {
	limit := int64(maxAddressablePixels)
	if maxPixels > 0 && maxPixels < limit {
		limit = maxPixels
	}
	if width <= 0 || height <= 0 {
		return nil
	}
	if int64(width) > limit/int64(height) {
		return fmt.Errorf("%w: %dx%d", ErrCanvasTooLarge, width, height)
	}
	return nil
}

// Placement returns the top-left canvas pixel of tile x/y. Tile rows grow
// southward like canvas rows, so the row with the smallest y lands on top.
func Placement(r tile.Rect, x, y, tileWidth, tileHeight int) image.Point {
	_, height := CanvasSize(r, tileWidth, tileHeight)
	return image.Point{
		X: (x - r.XMin) * tileWidth,
		Y: height - (r.YMax-y+1)*tileHeight,
	}
}

// TileSize returns the largest width and height found among the tiles of r.
// Smaller tiles are later placed at their cell origin without scaling.
func TileSize(r tile.Rect, src Source, log logrus.FieldLogger) (int, int, error) {
	var w, h int
	for y := r.YMin; y <= r.YMax; y++ {
		for x := r.XMin; x <= r.XMax; x++ {
			cfg, err := src.Config(x, y)
			if err != nil {
				return 0, 0, err
			}
			if cfg.Width > w {
				log.Debugf("Changing tile width to %d", cfg.Width)
				w = cfg.Width
			}
			if cfg.Height > h {
				log.Debugf("Changing tile height to %d", cfg.Height)
				h = cfg.Height
			}
		}
	}
	if w == 0 || h == 0 {
		return 0, 0, fmt.Errorf("tiles of %s have no pixels", r)
	}
	return w, h, nil
}

// Compose pastes every tile of r from src onto one canvas. Any unreadable tile
// aborts the whole run.
func Compose(r tile.Rect, src Source, opts Options) (*Result, error) {
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}

	tw, th, err := TileSize(r, src, opts.Log)
	if err != nil {
		return nil, err
	}

	width, height := CanvasSize(r, tw, th)
	if err := CheckCanvas(width, height, opts.MaxPixels); err != nil {
		return nil, err
	}
	opts.Log.Debugf("Canvas %dx%d from %dx%d tiles of %dx%d px", width, height, r.Cols(), r.Rows(), tw, th)

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	op := draw.Src
	if !opts.Alpha {
		draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
		op = draw.Over
	}

	var bar *progressbar.ProgressBar
	if opts.Progress != nil {
		bar = progressbar.NewOptions(r.Count(),
			progressbar.OptionSetWriter(opts.Progress),
			progressbar.OptionSetDescription("Stitching"),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}

	for y := r.YMin; y <= r.YMax; y++ {
		for x := r.XMin; x <= r.XMax; x++ {
			img, err := src.Image(x, y)
			if err != nil {
				return nil, err
			}
			at := Placement(r, x, y, tw, th)
			b := img.Bounds()
			draw.Draw(canvas, image.Rectangle{Min: at, Max: at.Add(b.Size())}, img, b.Min, op)
			if bar != nil {
				_ = bar.Add(1)
			}
		}
	}

	return &Result{Image: canvas, Rect: r, TileWidth: tw, TileHeight: th}, nil
}

// Metadata returns the key/value pairs embedded into stitched images.
func Metadata(r tile.Rect) map[string]string {
	return map[string]string{
		"tileStartX": fmt.Sprint(r.XMin),
		"tileStartY": fmt.Sprint(r.YMin),
		"tileEndX":   fmt.Sprint(r.XMax),
		"tileEndY":   fmt.Sprint(r.YMax),
		"zoom":       fmt.Sprint(r.Zoom),
	}
}
