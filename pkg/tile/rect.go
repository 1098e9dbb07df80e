package tile

import (
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// DefaultName is the map name that selects the generated Map_<zoom>_... file name.
const DefaultName = "tiles"

// Resolve converts two corners, given in any diagonal order, into the inclusive
// tile rectangle that fully covers the area between them.
func Resolve(start, end GeoPoint, zoom int) (Rect, error) {
	x1, y1, err := TileXY(start.Lat, start.Lon, zoom)
	if err != nil {
		return Rect{}, fmt.Errorf("start corner %s: %w", start, err)
	}
	x2, y2, err := TileXY(end.Lat, end.Lon, zoom)
	if err != nil {
		return Rect{}, fmt.Errorf("end corner %s: %w", end, err)
	}

	// Sort the numbers low to high
	if x1 > x2 {
		x1, x2 = x2, x1
	}
	if y1 > y2 {
		y1, y2 = y2, y1
	}

	last := 1<<uint(zoom) - 1
	xMin, xMax := cover(x1, x2, last)
	yMin, yMax := cover(y1, y2, last)

	return Rect{Zoom: zoom, XMin: xMin, XMax: xMax, YMin: yMin, YMax: yMax}, nil
}

// cover floors lo and ceils hi. The ceiling is the exclusive edge of the last
// tile touched, so a zero-width range still yields one tile.
func cover(lo, hi float64, last int) (int, int) {
	first := clamp(int(math.Floor(lo)), 0, last)
	end := clamp(int(math.Ceil(hi))-1, 0, last)
	if end < first {
		end = first
	}
	return first, end
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Cols is the number of tile columns.
func (r Rect) Cols() int { return r.XMax - r.XMin + 1 }

// Rows is the number of tile rows.
func (r Rect) Rows() int { return r.YMax - r.YMin + 1 }

// Count is the number of tiles in the rectangle.
func (r Rect) Count() int { return r.Cols() * r.Rows() }

// Contains reports whether x/y lies inside the rectangle.
func (r Rect) Contains(x, y int) bool {
	return x >= r.XMin && x <= r.XMax && y >= r.YMin && y <= r.YMax
}

// Tiles lists every tile, row by row starting with the northern row.
func (r Rect) Tiles() []maptile.Tile {
	tiles := make([]maptile.Tile, 0, r.Count())
	for y := r.YMin; y <= r.YMax; y++ {
		for x := r.XMin; x <= r.XMax; x++ {
			tiles = append(tiles, maptile.New(uint32(x), uint32(y), maptile.Zoom(r.Zoom)))
		}
	}
	return tiles
}

// NorthWest is the north-west corner of the first tile.
func (r Rect) NorthWest() GeoPoint {
	_, west, north, _ := TileEdges(r.XMin, r.YMin, r.Zoom)
	return GeoPoint{Lat: north, Lon: west}
}

// SouthEast is the south-east corner of the last tile.
func (r Rect) SouthEast() GeoPoint {
	south, _, _, east := TileEdges(r.XMax, r.YMax, r.Zoom)
	return GeoPoint{Lat: south, Lon: east}
}

// Bound is the geographic area covered by the rectangle.
func (r Rect) Bound() orb.Bound {
	nw, se := r.NorthWest(), r.SouthEast()
	return orb.Bound{
		Min: orb.Point{nw.Lon, se.Lat},
		Max: orb.Point{se.Lon, nw.Lat},
	}
}

// MapName returns the stitched file name for ext (with leading dot).
// Any name other than DefaultName is used verbatim as the base name.
func (r Rect) MapName(name, ext string) string {
	ext = strings.TrimSpace(ext)
	if name != "" && name != DefaultName {
		return name + ext
	}
	return fmt.Sprintf("Map_%d_%d-%d_%d-%d%s", r.Zoom, r.XMin, r.XMax, r.YMin, r.YMax, ext)
}

func (r Rect) String() string {
	return fmt.Sprintf("z%d x[%d..%d] y[%d..%d]", r.Zoom, r.XMin, r.XMax, r.YMin, r.YMax)
}

// FileName is the on-disk name of a downloaded tile.
func FileName(t maptile.Tile, ext string) string {
	return fmt.Sprintf("%d_%d_%d%s", t.Z, t.X, t.Y, ext)
}
