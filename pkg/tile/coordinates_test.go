package tile

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/paulmach/orb/maptile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomPoint(r *rand.Rand) (float64, float64) {
	lat := (2*r.Float64() - 1) * (MaxLatitude - 1e-9)
	lon := 360*r.Float64() - 180
	return lat, lon
}

func TestTileXY_Known(t *testing.T) {
	x, y, err := TileXY(0, 0, 1)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, x, 1e-12)
	assert.InDelta(t, 1.0, y, 1e-12)

	x, y, err = TileXY(51.5074, -0.1278, 10)
	require.NoError(t, err)
	assert.Equal(t, 511, int(math.Floor(x)))
	assert.Equal(t, 340, int(math.Floor(y)))
}

func TestTileXY_RoundTripContainment(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for z := 0; z <= 22; z++ {
		for i := 0; i < 200; i++ {
			lat, lon := randomPoint(r)
			fx, fy, err := TileXY(lat, lon, z)
			require.NoError(t, err)

			south, west, north, east := TileEdges(int(math.Floor(fx)), int(math.Floor(fy)), z)
			const eps = 1e-9
			if lat < south-eps || lat > north+eps || lon < west-eps || lon > east+eps {
				t.Fatalf("z%d: point %v,%v not inside tile edges s=%v w=%v n=%v e=%v", z, lat, lon, south, west, north, east)
			}
		}
	}
}

func TestTileXY_Monotonic(t *testing.T) {
	for _, z := range []int{0, 3, 12, 18, 22} {
		prevX := math.Inf(-1)
		for lon := -180.0; lon <= 180; lon += 0.37 {
			x, _, err := TileXY(10, lon, z)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, x, prevX, "zoom %d lon %v", z, lon)
			prevX = x
		}

		prevY := math.Inf(1)
		for lat := -85.0; lat <= 85; lat += 0.29 {
			_, y, err := TileXY(lat, 10, z)
			require.NoError(t, err)
			assert.LessOrEqual(t, y, prevY, "zoom %d lat %v", z, lat)
			prevY = y
		}
	}
}

func TestTileXY_Invalid(t *testing.T) {
	cases := []struct {
		name     string
		lat, lon float64
		zoom     int
	}{
		{"north of mercator", 86, 0, 5},
		{"south of mercator", -89.9, 0, 5},
		{"pole", 90, 0, 5},
		{"longitude", 10, 181, 5},
		{"nan", math.NaN(), 0, 5},
		{"negative zoom", 0, 0, -1},
		{"zoom too high", 0, 0, MaxZoom + 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := TileXY(tc.lat, tc.lon, tc.zoom)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidCoordinate))
		})
	}
}

func TestTileEdges_MatchesMaptile(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for z := 0; z <= 20; z++ {
		n := 1 << uint(z)
		x, y := r.Intn(n), r.Intn(n)
		south, west, north, east := TileEdges(x, y, z)

		b := maptile.New(uint32(x), uint32(y), maptile.Zoom(z)).Bound()
		assert.InDelta(t, b.Min.Lon(), west, 1e-6)
		assert.InDelta(t, b.Max.Lon(), east, 1e-6)
		assert.InDelta(t, b.Min.Lat(), south, 1e-6)
		assert.InDelta(t, b.Max.Lat(), north, 1e-6)
		assert.Less(t, south, north)
		assert.Less(t, west, east)
	}
}

func TestTileEdges_WholeWorld(t *testing.T) {
	south, west, north, east := TileEdges(0, 0, 0)
	assert.InDelta(t, -MaxLatitude, south, 1e-9)
	assert.InDelta(t, -180.0, west, 1e-12)
	assert.InDelta(t, MaxLatitude, north, 1e-9)
	assert.InDelta(t, 180.0, east, 1e-12)
}

func TestHorizontalDistance(t *testing.T) {
	assert.InDelta(t, EquatorCircumference, HorizontalDistance(0, 0), 1e-6)
	assert.InDelta(t, 19567.879, HorizontalDistance(60, 10), 1e-3)

	prev := math.Inf(1)
	for z := 0; z <= 22; z++ {
		d := HorizontalDistance(45, z)
		assert.Less(t, d, prev)
		prev = d
	}
}
