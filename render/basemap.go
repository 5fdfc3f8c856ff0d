package render

import (
	_ "embed"

	geojson "github.com/paulmach/go.geojson"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// Layer names read from the "layer" property of each base map feature.
const (
	LayerLand   = "land"
	LayerLake   = "lake"
	LayerRiver  = "river"
	LayerBorder = "border"
)

//go:embed basemap.geojson
var defaultBaseMap []byte

// BaseMap holds the geometry drawn under the observations. Polygons are lists
// of rings, rings and lines are lists of [lon, lat] pairs.
type BaseMap struct {
	Land    [][][][]float64
	Lakes   [][][][]float64
	Rivers  [][][]float64
	Borders [][][]float64
}

// DefaultBaseMap returns the embedded base map of the Taiwan Strait region.
func DefaultBaseMap() (*BaseMap, error) {
	return ParseBaseMap(defaultBaseMap)
}

// LoadBaseMap reads a GeoJSON base map from the filesystem.
func LoadBaseMap(fs afero.Fs, path string) (*BaseMap, error) {
	blob, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read base map")
	}
	bm, err := ParseBaseMap(blob)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot load base map %s", path)
	}
	return bm, nil
}

// ParseBaseMap decodes a GeoJSON FeatureCollection. Features without a known
// layer property are ignored.
func ParseBaseMap(blob []byte) (*BaseMap, error) {
	fc, err := geojson.UnmarshalFeatureCollection(blob)
	if err != nil {
		return nil, errors.Wrap(err, "invalid GeoJSON")
	}
	bm := &BaseMap{}
	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		layer, _ := f.Properties["layer"].(string)
		switch layer {
		case LayerLand:
			bm.Land = append(bm.Land, polygons(f.Geometry)...)
		case LayerLake:
			bm.Lakes = append(bm.Lakes, polygons(f.Geometry)...)
		case LayerRiver:
			bm.Rivers = append(bm.Rivers, lines(f.Geometry)...)
		case LayerBorder:
			bm.Borders = append(bm.Borders, lines(f.Geometry)...)
		}
	}
	return bm, nil
}

func polygons(g *geojson.Geometry) [][][][]float64 {
	switch {
	case g.IsPolygon():
		return [][][][]float64{g.Polygon}
	case g.IsMultiPolygon():
		return g.MultiPolygon
	}
	return nil
}

func lines(g *geojson.Geometry) [][][]float64 {
	switch {
	case g.IsLineString():
		return [][][]float64{g.LineString}
	case g.IsMultiLineString():
		return g.MultiLineString
	case g.IsPolygon():
		return g.Polygon
	case g.IsMultiPolygon():
		var out [][][]float64
		for _, p := range g.MultiPolygon {
			out = append(out, p...)
		}
		return out
	}
	return nil
}
