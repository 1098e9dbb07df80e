package tile

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidCoordinate is returned for points the Mercator tile grid cannot represent.
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// TileXY converts lat/lon to fractional tile coordinates at the given zoom level.
// The integer part is the tile index, the fraction the position inside the tile.
// http://wiki.openstreetmap.org/wiki/Slippy_map_tilenames
func TileXY(lat, lon float64, zoom int) (float64, float64, error) {
	if err := checkZoom(zoom); err != nil {
		return 0, 0, err
	}
	if math.IsNaN(lat) || lat < -MaxLatitude || lat > MaxLatitude {
		return 0, 0, fmt.Errorf("%w: latitude %v outside [-%v, %v]", ErrInvalidCoordinate, lat, MaxLatitude, MaxLatitude)
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return 0, 0, fmt.Errorf("%w: longitude %v outside [-180, 180]", ErrInvalidCoordinate, lon)
	}

	n := math.Exp2(float64(zoom))
	latRad := lat * math.Pi / 180

	x := (lon + 180) / 360 * n
	y := (1 - math.Log(math.Tan(latRad)+1/math.Cos(latRad))/math.Pi) / 2 * n

	return x, y, nil
}

// TileEdges returns the geographic edges of tile x/y in the order
// south latitude, west longitude, north latitude, east longitude.
func TileEdges(x, y, zoom int) (south, west, north, east float64) {
	south, north = latEdges(y, zoom)
	west, east = lonEdges(x, zoom)
	return south, west, north, east
}

func latEdges(y, zoom int) (float64, float64) {
	n := math.Exp2(float64(zoom))
	unit := 1 / n
	relY1 := float64(y) * unit
	relY2 := relY1 + unit
	lat1 := mercatorToLat(math.Pi * (1 - 2*relY1))
	lat2 := mercatorToLat(math.Pi * (1 - 2*relY2))
	return lat2, lat1
}

func lonEdges(x, zoom int) (float64, float64) {
	unit := 360 / math.Exp2(float64(zoom))
	lon1 := -180 + float64(x)*unit
	return lon1, lon1 + unit
}

func mercatorToLat(mercatorY float64) float64 {
	return math.Atan(math.Sinh(mercatorY)) * 180 / math.Pi
}

// HorizontalDistance approximates the width in meters of one tile at lat.
// Informational only.
func HorizontalDistance(lat float64, zoom int) float64 {
	return math.Cos(lat*math.Pi/180) * EquatorCircumference / math.Exp2(float64(zoom))
}

func checkZoom(zoom int) error {
	if zoom < 0 || zoom > MaxZoom {
		return fmt.Errorf("%w: zoom %d outside [0, %d]", ErrInvalidCoordinate, zoom, MaxZoom)
	}
	return nil
}
