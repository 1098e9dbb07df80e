package download

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/paulmach/orb/maptile"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	_ "golang.org/x/image/bmp"  // Register BMP decoder
	_ "golang.org/x/image/tiff" // Register TIFF decoder
	_ "golang.org/x/image/webp" // Register WebP decoder
	"golang.org/x/sync/errgroup"

	"github.com/kiesman99/anaxi/pkg/tile"
)

// DefaultUserAgent is sent with every tile request unless overridden.
const DefaultUserAgent = "Anaxi Open Source Tile Stitch Software"

// HTTPError is returned for a tile server answering with anything but 200.
type HTTPError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("error getting %s: %s", e.URL, e.Status)
}

// Outcome of a single tile download.
type Outcome int

const (
	Fetched Outcome = iota
	Skipped
)

// Report summarizes a batch download.
type Report struct {
	Total   int
	Fetched int
	Skipped int
	Failed  int
	Ext     string
}

// Downloader fetches tiles from a URL template into Dir.
type Downloader struct {
	Template  string
	Dir       string
	Ext       string
	UserAgent string
	Workers   int
	Force     bool

	Client   *http.Client
	Log      logrus.FieldLogger
	Progress io.Writer
}

// New creates a downloader for template that stores tiles in dir.
// The file extension is taken from the template when it has one.
func New(template, dir string) *Downloader {
	return &Downloader{
		Template:  template,
		Dir:       dir,
		Ext:       tile.Extension(template),
		UserAgent: DefaultUserAgent,
		Workers:   4,
		Client: &http.Client{
			Timeout: 30 * time.Second,
		},
		Log: logrus.StandardLogger(),
	}
}

// Path returns where t is stored on disk.
func (d *Downloader) Path(t maptile.Tile) string {
	return filepath.Join(d.Dir, tile.FileName(t, d.Ext))
}

// Tile downloads a single tile unless a readable copy already exists.
// With force the cached copy is ignored. When the extension is still unknown it
// is guessed from the response, so such calls must not run concurrently.
func (d *Downloader) Tile(ctx context.Context, t maptile.Tile, force bool) (Outcome, error) {
	return d.fetch(ctx, t, force, d.Ext == "")
}

func (d *Downloader) fetch(ctx context.Context, t maptile.Tile, force, guess bool) (Outcome, error) {
	if guess && !force {
		if ext, ok := d.cachedExt(t); ok {
			d.Ext = ext
			d.Log.Debugf("Skipping %s, it already exists", filepath.Base(d.Path(t)))
			return Skipped, nil
		}
	}

	path := d.Path(t)
	if !force {
		if _, err := os.Stat(path); err == nil {
			if !Corrupt(path) {
				d.Log.Debugf("Skipping %s, it already exists", filepath.Base(path))
				return Skipped, nil
			}
			d.Log.Warnf("Cached image %s possibly corrupt, downloading again", filepath.Base(path))
		}
	}

	url := tile.BuildURL(d.Template, t)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Fetched, err
	}
	req.Header.Set("User-Agent", d.UserAgent)

	resp, err := d.Client.Do(req)
	if err != nil {
		return Fetched, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Fetched, &HTTPError{URL: url, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Fetched, fmt.Errorf("read %s: %w", url, err)
	}

	if guess {
		d.Ext = GuessExtension(resp.Header.Get("Content-Type"), body)
		path = d.Path(t)
	}

	if err := writeFile(path, body); err != nil {
		return Fetched, err
	}
	d.Log.Debugf("Saved %s to %s", url, filepath.Base(path))
	return Fetched, nil
}

// cachedExt looks for a readable copy of t stored under any extension.
func (d *Downloader) cachedExt(t maptile.Tile) (string, bool) {
	matches, err := filepath.Glob(filepath.Join(d.Dir, tile.FileName(t, ".*")))
	if err != nil {
		return "", false
	}
	for _, m := range matches {
		if !Corrupt(m) {
			return filepath.Ext(m), true
		}
	}
	return "", false
}

// Batch downloads every tile of r. The first tile is fetched on its own when
// the extension still has to be guessed from the server response; the rest run
// on at most Workers goroutines.
//
// Without Force the first failure cancels the remaining downloads. With Force
// failures are logged and collected, and the batch carries on.
func (d *Downloader) Batch(ctx context.Context, r tile.Rect) (*Report, error) {
	tiles := r.Tiles()
	report := &Report{Total: len(tiles)}

	var bar *progressbar.ProgressBar
	if d.Progress != nil {
		bar = progressbar.NewOptions(len(tiles),
			progressbar.OptionSetWriter(d.Progress),
			progressbar.OptionSetDescription("Downloading tiles"),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}

	var (
		mu   sync.Mutex
		errs error
	)
	record := func(t maptile.Tile, o Outcome, err error) error {
		mu.Lock()
		defer mu.Unlock()
		if bar != nil {
			_ = bar.Add(1)
		}
		if err != nil {
			report.Failed++
			if !d.Force {
				return err
			}
			d.Log.WithField("tile", t).Errorf("%v", err)
			errs = multierr.Append(errs, err)
			return nil
		}
		if o == Skipped {
			report.Skipped++
		} else {
			report.Fetched++
		}
		return nil
	}

	if d.Ext == "" && len(tiles) > 0 {
		o, err := d.Tile(ctx, tiles[0], d.Force)
		if err := record(tiles[0], o, err); err != nil {
			return report, err
		}
		if d.Ext != "" {
			d.Log.Infof("Guessing future tile extensions will be %s", d.Ext)
		}
		tiles = tiles[1:]
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(d.Workers, 1))
	for _, t := range tiles {
		if gctx.Err() != nil {
			break
		}
		t := t
		g.Go(func() error {
			o, err := d.fetch(gctx, t, d.Force, false)
			return record(t, o, err)
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	report.Ext = d.Ext
	return report, errs
}

// Corrupt reports whether the image file at path cannot be decoded.
func Corrupt(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return true
	}
	defer f.Close()

	_, _, err = image.DecodeConfig(f)
	return err != nil
}

// GuessExtension derives a file extension from a Content-Type header,
// falling back to sniffing body.
func GuessExtension(contentType string, body []byte) string {
	var ext string
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		if m := mimetype.Lookup(mediaType); m != nil {
			ext = m.Extension()
		}
	}
	if ext == "" {
		ext = mimetype.Detect(body).Extension()
	}
	if ext == ".jpe" || ext == ".jpeg" {
		ext = ".jpg"
	}
	return ext
}

// writeFile stores data next to path first so readers never see a torn tile.
func writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tile-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}
