package tile

import (
	"path"
	"strconv"
	"strings"

	"github.com/paulmach/orb/maptile"
)

// HasTokens reports whether template contains all three tile placeholders.
func HasTokens(template string) bool {
	return (strings.Contains(template, "%zoom%") || strings.Contains(template, "{z}")) &&
		(strings.Contains(template, "%xTile%") || strings.Contains(template, "{x}")) &&
		(strings.Contains(template, "%yTile%") || strings.Contains(template, "{y}"))
}

// BuildURL replaces URL template tokens. Both %zoom%/%xTile%/%yTile% and
// {z}/{x}/{y} are understood.
func BuildURL(template string, t maptile.Tile) string {
	z := strconv.Itoa(int(t.Z))
	x := strconv.FormatUint(uint64(t.X), 10)
	y := strconv.FormatUint(uint64(t.Y), 10)
	r := strings.NewReplacer(
		"%zoom%", z, "%xTile%", x, "%yTile%", y,
		"{z}", z, "{x}", x, "{y}", y,
	)
	return r.Replace(template)
}

// Extension returns the file extension of the template path, query removed.
// Templates whose last path element has no extension yield "".
func Extension(template string) string {
	s, _, _ := strings.Cut(template, "?")
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
		if j := strings.Index(s, "/"); j >= 0 {
			s = s[j:]
		} else {
			return ""
		}
	}
	ext := path.Ext(path.Base(s))
	if strings.ContainsAny(ext, "%{}=&") {
		return ""
	}
	return ext
}
