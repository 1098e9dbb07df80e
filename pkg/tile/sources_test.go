package tile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupSource_BuiltinZero(t *testing.T) {
	s, known, err := LookupSource("0", Sources())
	require.NoError(t, err)
	assert.True(t, known)
	assert.NotEmpty(t, s.URL)
	assert.Contains(t, s.URL, "%zoom%")
	assert.Contains(t, s.URL, "%xTile%")
	assert.Contains(t, s.URL, "%yTile%")
}

func TestLookupSource_AllBuiltinsHaveTokens(t *testing.T) {
	for i, s := range Sources() {
		assert.True(t, HasTokens(s.URL), "source %d (%s)", i, s.Name)
		assert.LessOrEqual(t, s.MinZoom, s.MaxZoom)
	}
}

func TestLookupSource_URL(t *testing.T) {
	u := "https://tiles.example/%zoom%/%xTile%/%yTile%.png"
	s, known, err := LookupSource(u, Sources())
	require.NoError(t, err)
	assert.False(t, known)
	assert.Equal(t, u, s.URL)
}

func TestLookupSource_Extra(t *testing.T) {
	extra := Source{Name: "Local", URL: "http://localhost/{z}/{x}/{y}.png"}
	all := Sources(extra)
	s, known, err := LookupSource(" 28 ", all)
	require.NoError(t, err)
	assert.True(t, known)
	assert.Equal(t, extra, s)
}

func TestLookupSource_OutOfRange(t *testing.T) {
	_, _, err := LookupSource("999", Sources())
	assert.Error(t, err)
	_, _, err = LookupSource("-1", Sources())
	assert.Error(t, err)
}
