package stitch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/paulmach/orb/maptile"
	"github.com/sirupsen/logrus"

	"github.com/kiesman99/anaxi/internal/download"
	"github.com/kiesman99/anaxi/internal/mbtiles"
	"github.com/kiesman99/anaxi/internal/stitcher"
	"github.com/kiesman99/anaxi/pkg/tile"
)

// ErrFileSystem wraps failures to create directories or write output files.
var ErrFileSystem = errors.New("file system error")

// Options contains all configuration for a download and stitch run
type Options struct {
	Start tile.GeoPoint
	End   tile.GeoPoint
	Zoom  int
	// Server is a URL template or the numeric ID of a known source.
	Server  string
	Sources []tile.Source

	Name      string
	Format    string
	NoStitch  bool
	Force     bool
	DryRun    bool
	WorldFile bool
	MBTiles   bool

	Workers   int
	UserAgent string
	OutputDir string
	MaxPixels int64
	// Command is recorded in the info file.
	Command string

	Client   *http.Client
	Log      logrus.FieldLogger
	Progress io.Writer
}

// Plan is what a run is going to do.
type Plan struct {
	Source    tile.Source   `json:"source"`
	Rect      tile.Rect     `json:"rect"`
	NorthWest tile.GeoPoint `json:"north_west"`
	SouthEast tile.GeoPoint `json:"south_east"`
	Tiles     int           `json:"tiles"`
	// TileWidth is the approximate width of one tile in meters.
	TileWidth float64 `json:"tile_width_m"`
	Dir       string  `json:"dir"`
	RawDir    string  `json:"raw_dir"`
}

// Result describes the files produced by a run.
type Result struct {
	Plan
	Download  *download.Report `json:"download,omitempty"`
	MapFile   string           `json:"map_file,omitempty"`
	InfoFile  string           `json:"info_file,omitempty"`
	WorldFile string           `json:"world_file,omitempty"`
	MBTiles   string           `json:"mbtiles,omitempty"`
	Width     int              `json:"width,omitempty"`
	Height    int              `json:"height,omitempty"`
}

// Stitcher handles the main download and stitching logic
type Stitcher struct {
	opts Options
	log  logrus.FieldLogger
}

// NewStitcher creates a new stitcher instance
func NewStitcher(opts Options) *Stitcher {
	if opts.Name == "" {
		opts.Name = tile.DefaultName
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "."
	}
	if opts.Sources == nil {
		opts.Sources = tile.Sources()
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	return &Stitcher{opts: opts, log: opts.Log}
}

// Plan resolves the tile server and the tile rectangle without touching the
// network or the file system.
func (s *Stitcher) Plan() (*Plan, error) {
	src, known, err := tile.LookupSource(s.opts.Server, s.opts.Sources)
	if err != nil {
		return nil, err
	}
	if known {
		s.log.Infof("Using %s as Tile Server Source", src.Name)
		s.log.Debugf("URL: %s License: %s Zoom: [%d, %d]", src.URL, src.License, src.MinZoom, src.MaxZoom)
		if s.opts.Zoom < src.MinZoom || s.opts.Zoom > src.MaxZoom {
			s.log.Warnf("Zoom %d is outside the range [%d, %d] served by %s", s.opts.Zoom, src.MinZoom, src.MaxZoom, src.Name)
		}
	}
	if !tile.HasTokens(src.URL) {
		s.log.Warnf("Tile server %s has no %%zoom%%/%%xTile%%/%%yTile%% tokens, every tile will be the same image", src.URL)
	}
	if tile.Extension(src.URL) == "" {
		s.log.Warn("The source you've given does not have a filetype extension. We will do our best to guess, though this sometimes fails.")
	}

	r, err := tile.Resolve(s.opts.Start, s.opts.End, s.opts.Zoom)
	if err != nil {
		return nil, err
	}
	if !s.opts.NoStitch {
		ts := src.PixelSize()
		width, height := stitcher.CanvasSize(r, ts, ts)
		if err := stitcher.CheckCanvas(width, height, s.opts.MaxPixels); err != nil {
			return nil, err
		}
	}

	dir := filepath.Join(s.opts.OutputDir, s.opts.Name)
	p := &Plan{
		Source:    src,
		Rect:      r,
		NorthWest: r.NorthWest(),
		SouthEast: r.SouthEast(),
		Tiles:     r.Count(),
		Dir:       dir,
		RawDir:    filepath.Join(dir, "raw"),
	}
	p.TileWidth = tile.HorizontalDistance(p.NorthWest.Lat, r.Zoom)

	s.log.Infof("==Starting at North-West corner: %s", p.NorthWest)
	s.log.Infof("==Ending at South-East corner: %s", p.SouthEast)
	s.log.Infof("==Zoom Level: %d", r.Zoom)
	s.log.Infof("==X tiles %d through %d", r.XMin, r.XMax)
	s.log.Infof("==Y tiles %d through %d", r.YMin, r.YMax)
	s.log.Infof("==Total of %d tiles, each ~%.2f meters wide", p.Tiles, p.TileWidth)
	return p, nil
}

// Run plans and executes a download and stitch run.
func (s *Stitcher) Run(ctx context.Context) (*Result, error) {
	plan, err := s.Plan()
	if err != nil {
		return nil, err
	}
	return s.RunPlan(ctx, plan)
}

// RunPlan downloads the tiles of plan and, unless disabled, stitches them into
// one image. On ErrResourceUnavailable the downloaded tiles are kept and the
// returned Result is still valid.
func (s *Stitcher) RunPlan(ctx context.Context, plan *Plan) (*Result, error) {
	res := &Result{Plan: *plan}

	if s.opts.DryRun {
		if s.opts.Format != "" {
			if err := stitcher.Supported(s.opts.Format); err != nil {
				s.log.Warnf("%v, image stitching will not be supported", err)
			}
		}
		s.log.Info("Dry run, exiting now...")
		return res, nil
	}

	if err := os.MkdirAll(plan.RawDir, 0o755); err != nil {
		return res, fmt.Errorf("%w: %v", ErrFileSystem, err)
	}

	dl := download.New(plan.Source.URL, plan.RawDir)
	dl.Force = s.opts.Force
	dl.Log = s.log
	dl.Progress = s.opts.Progress
	if s.opts.Workers > 0 {
		dl.Workers = s.opts.Workers
	}
	if s.opts.UserAgent != "" {
		dl.UserAgent = s.opts.UserAgent
	}
	if s.opts.Client != nil {
		dl.Client = s.opts.Client
	}

	report, err := dl.Batch(ctx, plan.Rect)
	res.Download = report
	if err != nil {
		return res, err
	}
	s.log.Infof("Download Complete! %d fetched, %d already present", report.Fetched, report.Skipped)

	if s.opts.MBTiles {
		path, err := s.exportMBTiles(plan, dl)
		if err != nil {
			return res, err
		}
		res.MBTiles = path
	}

	if s.opts.NoStitch {
		return res, nil
	}

	format := s.opts.Format
	if format == "" {
		format = report.Ext
	}
	f, err := stitcher.Lookup(format)
	if err != nil {
		s.log.Errorf("Stitching images requires an encoder for %q", format)
		return res, err
	}

	s.log.Info("Stitching images...")
	src := stitcher.DirSource{Dir: plan.RawDir, Zoom: plan.Rect.Zoom, Ext: report.Ext}
	copts := stitcher.Options{
		Alpha:     f.Alpha,
		MaxPixels: s.opts.MaxPixels,
		Log:       s.log,
		Progress:  s.opts.Progress,
	}
	img, err := stitcher.Compose(plan.Rect, src, copts)
	var te *stitcher.TileError
	if errors.As(err, &te) {
		s.log.Warnf("%s may be corrupt, redownloading", filepath.Base(te.Path))
		t := maptile.New(uint32(te.X), uint32(te.Y), maptile.Zoom(plan.Rect.Zoom))
		if _, derr := dl.Tile(ctx, t, true); derr != nil {
			return res, derr
		}
		img, err = stitcher.Compose(plan.Rect, src, copts)
	}
	if err != nil {
		return res, err
	}

	name := plan.Rect.MapName(s.opts.Name, f.Ext)
	out := filepath.Join(plan.Dir, name)
	s.log.Infof("Saving to %s...", name)
	if err := f.WriteFile(out, img.Image, stitcher.Metadata(plan.Rect), s.log); err != nil {
		return res, fmt.Errorf("%w: %v", ErrFileSystem, err)
	}
	res.MapFile = out
	res.Width, res.Height = img.Width(), img.Height()
	s.log.Infof("Stitched image saved to %s", out)

	base := strings.TrimSuffix(out, f.Ext)
	if s.opts.WorldFile {
		res.WorldFile = base + WorldFileExt(f.Ext)
		if err := WriteWorldFile(res.WorldFile, plan.Rect, res.Width, res.Height); err != nil {
			return res, fmt.Errorf("%w: %v", ErrFileSystem, err)
		}
		s.log.Infof("World file written to %s", res.WorldFile)
	}

	res.InfoFile = base + ".info"
	s.log.Infof("Writing info file to %s", res.InfoFile)
	if err := WriteInfo(res.InfoFile, plan.Rect, name, s.opts.Command); err != nil {
		return res, fmt.Errorf("%w: %v", ErrFileSystem, err)
	}
	return res, nil
}

func (s *Stitcher) exportMBTiles(plan *Plan, dl *download.Downloader) (string, error) {
	name := plan.Rect.MapName(s.opts.Name, "")
	path := filepath.Join(plan.Dir, name+".mbtiles")
	a, err := mbtiles.Create(path, mbtiles.Meta(name, dl.Ext, plan.Rect, plan.Source.License))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFileSystem, err)
	}
	discard := func(err error) (string, error) {
		a.Close()
		os.Remove(path)
		return "", fmt.Errorf("%w: %v", ErrFileSystem, err)
	}
	for _, t := range plan.Rect.Tiles() {
		data, err := os.ReadFile(dl.Path(t))
		if err != nil {
			return discard(err)
		}
		if err := a.Put(t, data); err != nil {
			return discard(err)
		}
	}
	if err := a.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("%w: %v", ErrFileSystem, err)
	}
	s.log.Infof("Wrote %d tiles to %s", plan.Tiles, path)
	return path, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
