package tile

import (
	"fmt"
	"math"
)

// MaxLatitude is the northern (and, negated, southern) limit of the Web Mercator tile grid.
const MaxLatitude = 85.05112877980659

// MaxZoom is the highest zoom level accepted by the mapper.
const MaxZoom = 30

// EquatorCircumference in meters (WGS84 semi-major axis).
const EquatorCircumference = 2 * math.Pi * 6378137

// DefaultTileSize is the edge length in pixels of a standard web map tile.
const DefaultTileSize = 256

// GeoPoint is a geographic position in degrees (EPSG:4326).
type GeoPoint struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

func (p GeoPoint) String() string {
	return fmt.Sprintf("[%v, %v]", p.Lat, p.Lon)
}

// Rect is an inclusive range of tile indices at a single zoom level.
// XMin <= XMax and YMin <= YMax always hold for a Rect returned by Resolve.
type Rect struct {
	Zoom int `json:"zoom"`
	XMin int `json:"x_min"`
	XMax int `json:"x_max"`
	YMin int `json:"y_min"`
	YMax int `json:"y_max"`
}

// Source is a known public tile server.
type Source struct {
	Name    string `json:"name" yaml:"name" mapstructure:"name"`
	URL     string `json:"url" yaml:"url" mapstructure:"url"`
	License string `json:"license,omitempty" yaml:"license,omitempty" mapstructure:"license"`
	MinZoom int    `json:"min_zoom" yaml:"min_zoom" mapstructure:"min_zoom"`
	MaxZoom int    `json:"max_zoom" yaml:"max_zoom" mapstructure:"max_zoom"`
	// TileSize is the tile edge in pixels. Zero means DefaultTileSize.
	TileSize int `json:"tile_size,omitempty" yaml:"tile_size,omitempty" mapstructure:"tile_size"`
}

// PixelSize returns the tile edge length, falling back to DefaultTileSize.
func (s Source) PixelSize() int {
	if s.TileSize > 0 {
		return s.TileSize
	}
	return DefaultTileSize
}
