package tile

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	osmLicense     = "OpenStreetMap contributors, CC-BY-SA"
	stamenLicense  = "Map tiles by Stamen Design, under CC BY 3.0. Data by OpenStreetMap, under ODbL"
	cartoLicense   = "Map tiles by CartoDB, under CC BY 3.0. Data by OpenStreetMap, under ODbL."
	wikiLicense    = "OpenStreetMap contributors, under ODbL"
	arcgisServices = "https://server.arcgisonline.com/ArcGIS/rest/services/"
)

// builtinSources is the table of known servers. IDs are positions in this
// slice and may change between releases.
var builtinSources = []Source{
	{Name: "Google Maps", URL: "https://mt.google.com/vt/lyrs=m&x=%xTile%&y=%yTile%&z=%zoom%", MaxZoom: 19},
	{Name: "Google Satellite", URL: "https://mt.google.com/vt/lyrs=s&x=%xTile%&y=%yTile%&z=%zoom%", MaxZoom: 19},
	{Name: "Google Terrain", URL: "https://mt.google.com/vt/lyrs=t&x=%xTile%&y=%yTile%&z=%zoom%", MaxZoom: 19},
	{Name: "Google Terrain Hybrid", URL: "https://mt.google.com/vt/lyrs=p&x=%xTile%&y=%yTile%&z=%zoom%", MaxZoom: 19},
	{Name: "Google Satellite Hybrid", URL: "https://mt.google.com/vt/lyrs=y&x=%xTile%&y=%yTile%&z=%zoom%", MaxZoom: 19},
	{
		Name:    "US National Map Imagery",
		URL:     "https://basemap.nationalmap.gov/arcgis/rest/services/USGSImageryOnly/MapServer/tile/%zoom%/%yTile%/%xTile%",
		License: "Public Domain (Excluding Alaska) https://basemap.nationalmap.gov/arcgis/rest/services/USGSImageryOnly/MapServer",
		MaxZoom: 16,
	},
	{Name: "Stamen Terrain", URL: "http://tile.stamen.com/terrain/%zoom%/%xTile%/%yTile%.png", License: stamenLicense, MaxZoom: 20},
	{Name: "Stamen Toner", URL: "http://tile.stamen.com/toner/%zoom%/%xTile%/%yTile%.png", License: stamenLicense, MaxZoom: 20},
	{Name: "Stamen Toner Light", URL: "http://tile.stamen.com/toner-lite/%zoom%/%xTile%/%yTile%.png", License: stamenLicense, MaxZoom: 20},
	{Name: "Stamen Watercolor", URL: "http://tile.stamen.com/watercolor/%zoom%/%xTile%/%yTile%.jpg", License: stamenLicense, MaxZoom: 18},
	{Name: "Wikimedia Map", URL: "https://maps.wikimedia.org/osm-intl/%zoom%/%xTile%/%yTile%.png", License: wikiLicense, MinZoom: 1, MaxZoom: 20},
	{Name: "Wikimedia Hike Bike Map", URL: "http://tiles.wmflabs.org/hikebike/%zoom%/%xTile%/%yTile%.png", License: wikiLicense, MinZoom: 1, MaxZoom: 17},
	{Name: "Esri Boundaries Places", URL: arcgisServices + "Reference/World_Boundaries_and_Places/MapServer/tile/%zoom%/%yTile%/%xTile%", MaxZoom: 20},
	{Name: "Esri Gray (dark)", URL: "http://services.arcgisonline.com/ArcGIS/rest/services/Canvas/World_Dark_Gray_Base/MapServer/tile/%zoom%/%yTile%/%xTile%", MaxZoom: 16},
	{Name: "Esri Gray (light)", URL: "http://services.arcgisonline.com/ArcGIS/rest/services/Canvas/World_Light_Gray_Base/MapServer/tile/%zoom%/%yTile%/%xTile%", MaxZoom: 16},
	{Name: "Esri National Geographic", URL: "http://services.arcgisonline.com/ArcGIS/rest/services/NatGeo_World_Map/MapServer/tile/%zoom%/%yTile%/%xTile%", MaxZoom: 12},
	{Name: "Esri Ocean", URL: "https://services.arcgisonline.com/ArcGIS/rest/services/Ocean/World_Ocean_Base/MapServer/tile/%zoom%/%yTile%/%xTile%", MaxZoom: 10},
	{Name: "Esri Satellite", URL: arcgisServices + "World_Imagery/MapServer/tile/%zoom%/%yTile%/%xTile%", MaxZoom: 17},
	{Name: "Esri Standard", URL: arcgisServices + "World_Street_Map/MapServer/tile/%zoom%/%yTile%/%xTile%", MaxZoom: 17},
	{Name: "Esri Terrain", URL: arcgisServices + "World_Terrain_Base/MapServer/tile/%zoom%/%yTile%/%xTile%", MaxZoom: 13},
	{Name: "Esri Transportation", URL: arcgisServices + "Reference/World_Transportation/MapServer/tile/%zoom%/%yTile%/%xTile%", MaxZoom: 20},
	{Name: "Esri Topo World", URL: "http://services.arcgisonline.com/ArcGIS/rest/services/World_Topo_Map/MapServer/tile/%zoom%/%yTile%/%xTile%", MaxZoom: 20},
	{Name: "OpenStreetMap Standard", URL: "http://tile.openstreetmap.org/%zoom%/%xTile%/%yTile%.png", License: osmLicense, MaxZoom: 19},
	{Name: "OpenStreetMap H.O.T.", URL: "http://tile.openstreetmap.fr/hot/%zoom%/%xTile%/%yTile%.png", License: osmLicense, MaxZoom: 19},
	{Name: "OpenStreetMap Monochrome", URL: "http://tiles.wmflabs.org/bw-mapnik/%zoom%/%xTile%/%yTile%.png", License: osmLicense, MaxZoom: 19},
	{
		Name:    "OpenTopoMap",
		URL:     "https://tile.opentopomap.org/%zoom%/%xTile%/%yTile%.png",
		License: "Kartendaten: © OpenStreetMap-Mitwirkende, SRTM | Kartendarstellung: © OpenTopoMap (CC-BY-SA)",
		MinZoom: 1,
		MaxZoom: 17,
	},
	{Name: "CartoDb Dark Matter", URL: "http://basemaps.cartocdn.com/dark_all/%zoom%/%xTile%/%yTile%.png", License: cartoLicense, MaxZoom: 20},
	{Name: "CartoDb Positron", URL: "http://basemaps.cartocdn.com/light_all/%zoom%/%xTile%/%yTile%.png", License: cartoLicense, MaxZoom: 20},
}

// Sources returns the built-in tile servers followed by extra.
func Sources(extra ...Source) []Source {
	all := make([]Source, 0, len(builtinSources)+len(extra))
	all = append(all, builtinSources...)
	return append(all, extra...)
}

// LookupSource resolves a numeric source ID against sources. Anything that is
// not an integer is treated as a URL template and returned as an unnamed Source.
func LookupSource(idOrURL string, sources []Source) (Source, bool, error) {
	id, err := strconv.Atoi(strings.TrimSpace(idOrURL))
	if err != nil {
		return Source{URL: idOrURL, MaxZoom: MaxZoom}, false, nil
	}
	if id < 0 || id >= len(sources) {
		return Source{}, false, fmt.Errorf("unknown tile server id %d (have 0-%d)", id, len(sources)-1)
	}
	return sources[id], true, nil
}
