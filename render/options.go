package render

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"

	"github.com/JiscSD/lightning-observation-map/bucket"

	"github.com/golang/geo/r1"
	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
	"github.com/pkg/errors"
)

// Extent is the geographic window drawn by the renderer, in decimal degrees.
type Extent struct {
	MinLon, MaxLon float64
	MinLat, MaxLat float64
}

// Validate rejects empty or inverted windows.
func (e Extent) Validate() error {
	if !(e.MinLon < e.MaxLon) || !(e.MinLat < e.MaxLat) {
		return errors.Errorf("extent is empty or inverted: %v", e)
	}
	if e.MinLon < -180 || e.MaxLon > 180 || e.MinLat < -90 || e.MaxLat > 90 {
		return errors.Errorf("extent is out of range: %v", e)
	}
	return nil
}

// Rect returns the extent as a latitude/longitude rectangle. The longitude
// interval always runs eastwards from MinLon to MaxLon, even when it spans
// more than half the globe.
func (e Extent) Rect() s2.Rect {
	lo := s2.LatLngFromDegrees(e.MinLat, e.MinLon)
	hi := s2.LatLngFromDegrees(e.MaxLat, e.MaxLon)
	return s2.Rect{
		Lat: r1.Interval{Lo: lo.Lat.Radians(), Hi: hi.Lat.Radians()},
		Lng: s1.IntervalFromEndpoints(lo.Lng.Radians(), hi.Lng.Radians()),
	}
}

func (e Extent) String() string {
	return fmt.Sprintf("[%g, %g, %g, %g]", e.MinLon, e.MaxLon, e.MinLat, e.MaxLat)
}

// Palette holds one color per bucket, earliest first.
type Palette [bucket.K]color.RGBA

// ParsePalette reads exactly bucket.K colors in "#rrggbb" notation.
func ParsePalette(values []string) (Palette, error) {
	var p Palette
	if len(values) != bucket.K {
		return p, errors.Errorf("palette needs %d colors, got %d", bucket.K, len(values))
	}
	for i, v := range values {
		c, err := ParseHexColor(v)
		if err != nil {
			return p, err
		}
		p[i] = c
	}
	return p, nil
}

// ParseHexColor reads "#rrggbb" or "#rgb".
func ParseHexColor(s string) (color.RGBA, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 {
		return color.RGBA{}, errors.Errorf("invalid color %q", s)
	}
	n, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.RGBA{}, errors.Wrapf(err, "invalid color %q", s)
	}
	return color.RGBA{R: uint8(n >> 16), G: uint8(n >> 8), B: uint8(n), A: 0xff}, nil
}

// Options controls the layout of the rendered map.
type Options struct {
	Width, Height int
	Title         string
	Extent        Extent
	Palette       Palette
	GridStep      float64 // degrees between grid lines
	MarkerSize    int     // half length of each arm of the marker, pixels
	MarkerWidth   int
}

const DefaultTitle = "Real-time Lightning Observation Map"

// DefaultPalette goes from pale yellow (earliest) to red (latest).
var DefaultPalette = []string{"#ffff00", "#ffd700", "#ffa500", "#ff4500", "#ff0000"}

// DefaultOptions covers the Taiwan Strait window.
func DefaultOptions() Options {
	p, _ := ParsePalette(DefaultPalette)
	return Options{
		Width:       1280,
		Height:      1160,
		Title:       DefaultTitle,
		Extent:      Extent{MinLon: 116, MaxLon: 126, MinLat: 20, MaxLat: 28},
		Palette:     p,
		GridStep:    2,
		MarkerSize:  9,
		MarkerWidth: 3,
	}
}

// Validate checks that the options describe a drawable map.
func (o Options) Validate() error {
	if o.Width < 200 || o.Height < 200 {
		return errors.Errorf("raster size %dx%d is too small", o.Width, o.Height)
	}
	if err := o.Extent.Validate(); err != nil {
		return err
	}
	if o.GridStep <= 0 {
		return errors.New("grid step must be positive")
	}
	if o.MarkerSize < 1 || o.MarkerWidth < 1 {
		return errors.New("marker size and width must be positive")
	}
	return nil
}
