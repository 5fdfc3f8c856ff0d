// Package render draws bucketed observations over a base map and encodes the
// result as a PNG image.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"time"

	"github.com/JiscSD/lightning-observation-map/bucket"

	"github.com/golang/geo/s2"
	"github.com/pkg/errors"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// ContentType of the encoded artifact.
const ContentType = "image/png"

var (
	background = color.RGBA{0x00, 0x00, 0x00, 0xff}
	ocean      = color.RGBA{0x1a, 0x1a, 0x1a, 0xff}
	land       = color.RGBA{0x00, 0x00, 0x00, 0xff}
	lightGray  = color.RGBA{0xd3, 0xd3, 0xd3, 0xff}
	gray       = color.RGBA{0x80, 0x80, 0x80, 0xff}
	white      = color.RGBA{0xff, 0xff, 0xff, 0xff}
)

// Artifact is a rendered map.
type Artifact struct {
	Image       []byte
	ContentType string
	GeneratedAt time.Time
	Points      int
}

// Renderer draws maps with fixed options. It is safe for concurrent use.
type Renderer struct {
	opts Options
	base *BaseMap
	font *opentype.Font
	rect s2.Rect
	now  func() time.Time
}

// New returns a renderer. A nil base map draws the ocean only.
func New(opts Options, base *BaseMap) (*Renderer, error) {
	if err := opts.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid render options")
	}
	if base == nil {
		base = &BaseMap{}
	}
	f, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, errors.Wrap(err, "cannot load font")
	}
	return &Renderer{
		opts: opts,
		base: base,
		font: f,
		rect: opts.Extent.Rect(),
		now:  time.Now,
	}, nil
}

// Render returns nil when there is nothing to draw. The image only depends on
// the points and the options, GeneratedAt is the only varying field.
func (r *Renderer) Render(points []bucket.BucketedPoint) (*Artifact, error) {
	if len(points) == 0 {
		return nil, nil
	}

	titleFace, err := r.face(28)
	if err != nil {
		return nil, err
	}
	defer titleFace.Close()
	labelFace, err := r.face(15)
	if err != nil {
		return nil, err
	}
	defer labelFace.Close()

	c := newCanvas(r.opts.Width, r.opts.Height, background)
	titleHeight := 2 * titleFace.Metrics().Height.Ceil()
	labelWidth := font.MeasureString(labelFace, "00°N ").Ceil() + 8
	labelHeight := 2 * labelFace.Metrics().Height.Ceil()
	c.fit(image.Rect(labelWidth, titleHeight, r.opts.Width-labelWidth/2, r.opts.Height-labelHeight), r.opts.Extent)

	r.drawBase(c)
	r.drawGrid(c, labelFace)
	drawn := r.drawPoints(c, points)
	drawText(c.img, titleFace, r.opts.Title, (r.opts.Width-font.MeasureString(titleFace, r.opts.Title).Ceil())/2, titleHeight*2/3)

	var buf bytes.Buffer
	if err := png.Encode(&buf, c.img); err != nil {
		return nil, errors.Wrap(err, "cannot encode image")
	}
	return &Artifact{
		Image:       buf.Bytes(),
		ContentType: ContentType,
		GeneratedAt: r.now(),
		Points:      drawn,
	}, nil
}

func (r *Renderer) face(size float64) (font.Face, error) {
	f, err := opentype.NewFace(r.font, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingFull})
	if err != nil {
		return nil, errors.Wrap(err, "cannot create font face")
	}
	return f, nil
}

// drawBase paints, bottom to top: ocean, land, lakes, coastline, borders and
// rivers.
func (r *Renderer) drawBase(c *canvas) {
	c.fillRect(c.plot, ocean)
	for _, p := range r.base.Land {
		c.fillPolygon(p, land)
	}
	for _, p := range r.base.Lakes {
		c.fillPolygon(p, land)
	}
	coast := stroke{color: lightGray, width: 2}
	for _, p := range r.base.Land {
		for _, ring := range p {
			c.polyline(ring, coast)
		}
	}
	for _, l := range r.base.Borders {
		c.polyline(l, stroke{color: lightGray, width: 1})
	}
	for _, l := range r.base.Rivers {
		c.polyline(l, stroke{color: gray, width: 1})
	}
}

// drawGrid draws dashed meridians and parallels at every multiple of the
// grid step, labelled on the left and bottom edges only.
func (r *Renderer) drawGrid(c *canvas, face font.Face) {
	e, step := r.opts.Extent, r.opts.GridStep
	grid := stroke{color: gray, width: 1, alpha: 0.3, dash: 6, gap: 4}
	ascent := face.Metrics().Ascent.Ceil()

	for _, lon := range ticks(e.MinLon, e.MaxLon, step) {
		c.polyline([][]float64{{lon, e.MinLat}, {lon, e.MaxLat}}, grid)
		label := formatDegrees(lon, "E", "W")
		x, _ := c.project(lon, e.MinLat)
		w := font.MeasureString(face, label).Ceil()
		drawText(c.img, face, label, int(x)-w/2, c.plot.Max.Y+ascent+6)
	}
	for _, lat := range ticks(e.MinLat, e.MaxLat, step) {
		c.polyline([][]float64{{e.MinLon, lat}, {e.MaxLon, lat}}, grid)
		label := formatDegrees(lat, "N", "S")
		_, y := c.project(e.MinLon, lat)
		w := font.MeasureString(face, label).Ceil()
		drawText(c.img, face, label, c.plot.Min.X-w-6, int(y)+ascent/2)
	}
}

// drawPoints plots one marker per point inside the extent, in input order so
// later points are drawn on top. It returns the number of markers drawn.
func (r *Renderer) drawPoints(c *canvas, points []bucket.BucketedPoint) int {
	var n int
	for _, p := range points {
		if !r.rect.ContainsLatLng(s2.LatLngFromDegrees(p.Latitude, p.Longitude)) {
			continue
		}
		idx := p.Index
		if idx < 0 {
			idx = 0
		} else if idx >= len(r.opts.Palette) {
			idx = len(r.opts.Palette) - 1
		}
		x, y := c.project(p.Longitude, p.Latitude)
		c.plus(int(math.Round(x)), int(math.Round(y)), r.opts.MarkerSize, r.opts.MarkerWidth, r.opts.Palette[idx])
		n++
	}
	return n
}

func drawText(dst *image.RGBA, face font.Face, s string, x, y int) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(white),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

// ticks returns the multiples of step within [min, max].
func ticks(min, max, step float64) []float64 {
	var out []float64
	for v := math.Ceil(min/step) * step; v <= max+1e-9; v += step {
		out = append(out, math.Round(v*1e6)/1e6)
	}
	return out
}

func formatDegrees(v float64, pos, neg string) string {
	hemi := pos
	if v < 0 {
		hemi, v = neg, -v
	}
	if v == 0 {
		hemi = ""
	}
	return fmt.Sprintf("%g°%s", v, hemi)
}
