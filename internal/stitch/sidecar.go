package stitch

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"

	"github.com/kiesman99/anaxi/pkg/tile"
)

const infoHeader = "// Generated with Anaxi Tile Downloader"

// WriteInfo writes the key=value description of a stitched map to path.
func WriteInfo(path string, r tile.Rect, mapFile, cmd string) error {
	nw, se := r.NorthWest(), r.SouthEast()

	var buf bytes.Buffer
	fmt.Fprintln(&buf, infoHeader)
	pairs := [][2]string{
		{"lat_north", formatFloat(nw.Lat)},
		{"lat_south", formatFloat(se.Lat)},
		{"lon_east", formatFloat(se.Lon)},
		{"lon_west", formatFloat(nw.Lon)},
		{"tileStartX", fmt.Sprint(r.XMin)},
		{"tileStartY", fmt.Sprint(r.YMin)},
		{"tileEndX", fmt.Sprint(r.XMax)},
		{"tileEndY", fmt.Sprint(r.YMax)},
		{"zoom", fmt.Sprint(r.Zoom)},
		{"numTiles", fmt.Sprint(r.Count())},
		{"mapFile", mapFile},
		{"cmd", cmd},
	}
	for _, p := range pairs {
		fmt.Fprintf(&buf, "%s=%s\n", p[0], p[1])
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// ReadInfo parses a file written by WriteInfo.
func ReadInfo(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info := map[string]string{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "//") || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("%s: malformed line %q", path, line)
		}
		info[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return info, sc.Err()
}

// WorldFileExt returns the ESRI world file extension for an image extension,
// e.g. .pgw for .png and .tfw for .tif.
func WorldFileExt(ext string) string {
	e := strings.TrimPrefix(strings.ToLower(ext), ".")
	if len(e) < 2 {
		return ".wld"
	}
	return "." + e[:1] + e[len(e)-1:] + "w"
}

// WriteWorldFile georeferences a width x height image of r in EPSG:3857.
func WriteWorldFile(path string, r tile.Rect, width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid raster size %dx%d", width, height)
	}
	nw, se := r.NorthWest(), r.SouthEast()
	tl := project.Point(orb.Point{nw.Lon, nw.Lat}, project.WGS84.ToMercator)
	br := project.Point(orb.Point{se.Lon, se.Lat}, project.WGS84.ToMercator)

	px := (br.X() - tl.X()) / float64(width)
	py := (tl.Y() - br.Y()) / float64(height)

	var buf bytes.Buffer
	// pixel size x, rotation, rotation, pixel size y (negative), then the
	// center of the top left pixel
	for _, v := range []float64{px, 0, 0, -py, tl.X() + px/2, tl.Y() - py/2} {
		fmt.Fprintf(&buf, "%.10f\n", v)
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
