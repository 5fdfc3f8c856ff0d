package render

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"sort"
)

// canvas is an equirectangular (plate carrée) projection of the extent onto
// the plot rectangle of an RGBA image. Map layers are clipped to plot.
type canvas struct {
	img    *image.RGBA
	plot   image.Rectangle
	extent Extent
	scale  float64 // pixels per degree
}

func newCanvas(width, height int, bg color.RGBA) *canvas {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{bg}, image.Point{}, draw.Src)
	return &canvas{img: img}
}

// fit places the extent inside area keeping one degree of longitude as wide
// as one degree of latitude is tall.
func (c *canvas) fit(area image.Rectangle, e Extent) {
	lonSpan, latSpan := e.MaxLon-e.MinLon, e.MaxLat-e.MinLat
	c.scale = math.Min(float64(area.Dx())/lonSpan, float64(area.Dy())/latSpan)
	w, h := int(lonSpan*c.scale), int(latSpan*c.scale)
	x0 := area.Min.X + (area.Dx()-w)/2
	y0 := area.Min.Y + (area.Dy()-h)/2
	c.plot = image.Rect(x0, y0, x0+w, y0+h)
	c.extent = e
}

func (c *canvas) project(lon, lat float64) (x, y float64) {
	x = float64(c.plot.Min.X) + (lon-c.extent.MinLon)*c.scale
	y = float64(c.plot.Min.Y) + (c.extent.MaxLat-lat)*c.scale
	return x, y
}

func (c *canvas) set(x, y int, col color.RGBA) {
	if !image.Pt(x, y).In(c.plot) {
		return
	}
	off := c.img.PixOffset(x, y)
	c.img.Pix[off], c.img.Pix[off+1], c.img.Pix[off+2], c.img.Pix[off+3] = col.R, col.G, col.B, 255
}

// blend mixes col over the existing pixel with the given opacity.
func (c *canvas) blend(x, y int, col color.RGBA, alpha float64) {
	if !image.Pt(x, y).In(c.plot) {
		return
	}
	off := c.img.PixOffset(x, y)
	mix := func(dst, src uint8) uint8 {
		return uint8(math.Round(float64(dst)*(1-alpha) + float64(src)*alpha))
	}
	c.img.Pix[off] = mix(c.img.Pix[off], col.R)
	c.img.Pix[off+1] = mix(c.img.Pix[off+1], col.G)
	c.img.Pix[off+2] = mix(c.img.Pix[off+2], col.B)
	c.img.Pix[off+3] = 255
}

func (c *canvas) fillRect(r image.Rectangle, col color.RGBA) {
	r = r.Intersect(c.plot)
	draw.Draw(c.img, r, &image.Uniform{col}, image.Point{}, draw.Src)
}

// fillPolygon paints the rings using the even-odd rule so that inner rings
// become holes.
func (c *canvas) fillPolygon(rings [][][]float64, col color.RGBA) {
	type point struct{ x, y float64 }
	projected := make([][]point, 0, len(rings))
	minY, maxY := math.Inf(1), math.Inf(-1)
	for _, ring := range rings {
		pts := make([]point, 0, len(ring))
		for _, p := range ring {
			if len(p) < 2 {
				continue
			}
			x, y := c.project(p[0], p[1])
			pts = append(pts, point{x, y})
			minY, maxY = math.Min(minY, y), math.Max(maxY, y)
		}
		projected = append(projected, pts)
	}
	if math.IsInf(minY, 0) {
		return
	}
	y0 := int(math.Max(math.Floor(minY), float64(c.plot.Min.Y)))
	y1 := int(math.Min(math.Ceil(maxY), float64(c.plot.Max.Y-1)))
	var nodes []int
	for y := y0; y <= y1; y++ {
		nodes = nodes[:0]
		fy := float64(y) + 0.5
		for _, ring := range projected {
			for i := range ring {
				j := (i + 1) % len(ring)
				a, b := ring[i], ring[j]
				if (a.y < fy && b.y >= fy) || (b.y < fy && a.y >= fy) {
					nodes = append(nodes, int(math.Round(a.x+(fy-a.y)/(b.y-a.y)*(b.x-a.x))))
				}
			}
		}
		sort.Ints(nodes)
		for i := 0; i+1 < len(nodes); i += 2 {
			c.fillRect(image.Rect(nodes[i], y, nodes[i+1], y+1), col)
		}
	}
}

// stroke describes how a line is drawn. A zero Dash draws a solid line,
// otherwise Dash pixels on are followed by Gap pixels off.
type stroke struct {
	color     color.RGBA
	width     int
	alpha     float64
	dash, gap int
}

func (c *canvas) polyline(coords [][]float64, s stroke) {
	for i := 0; i+1 < len(coords); i++ {
		if len(coords[i]) < 2 || len(coords[i+1]) < 2 {
			continue
		}
		x1, y1 := c.project(coords[i][0], coords[i][1])
		x2, y2 := c.project(coords[i+1][0], coords[i+1][1])
		c.line(int(math.Round(x1)), int(math.Round(y1)), int(math.Round(x2)), int(math.Round(y2)), s)
	}
}

// line is Bresenham's algorithm with a square brush of the stroke width.
func (c *canvas) line(x1, y1, x2, y2 int, s stroke) {
	dx, dy := abs(x2-x1), -abs(y2-y1)
	sx, sy := 1, 1
	if x1 > x2 {
		sx = -1
	}
	if y1 > y2 {
		sy = -1
	}
	err := dx + dy
	for step := 0; ; step++ {
		if s.dash == 0 || step%(s.dash+s.gap) < s.dash {
			c.brush(x1, y1, s)
		}
		if x1 == x2 && y1 == y2 {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x1 += sx
		}
		if e2 <= dx {
			err += dx
			y1 += sy
		}
	}
}

func (c *canvas) brush(x, y int, s stroke) {
	w := s.width
	if w < 1 {
		w = 1
	}
	lo := -(w - 1) / 2
	for oy := lo; oy < lo+w; oy++ {
		for ox := lo; ox < lo+w; ox++ {
			if s.alpha > 0 && s.alpha < 1 {
				c.blend(x+ox, y+oy, s.color, s.alpha)
			} else {
				c.set(x+ox, y+oy, s.color)
			}
		}
	}
}

// plus draws a "+" marker centred on (x, y).
func (c *canvas) plus(x, y, size, width int, col color.RGBA) {
	lo := -(width - 1) / 2
	c.fillRect(image.Rect(x-size, y+lo, x+size+1, y+lo+width), col)
	c.fillRect(image.Rect(x+lo, y-size, x+lo+width, y+size+1), col)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
