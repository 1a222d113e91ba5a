package render

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Surface is the drawing target a frame is rendered onto. Alpha arguments
// are in [0,1] and multiply the color's own alpha.
type Surface interface {
	Size() (w, h int)
	Resize(w, h int)
	Clear(c color.RGBA)
	Line(x1, y1, x2, y2, width float64, c color.RGBA, alpha float64)
	FillCircle(cx, cy, r float64, c color.RGBA, alpha float64)
	StrokeCircle(cx, cy, r, width float64, c color.RGBA, alpha float64)
	Text(x, y float64, s string, c color.RGBA, alpha float64)
}

// Raster is a Surface backed by an in-memory RGBA image. It is not safe for
// concurrent use; the Loop serializes access.
type Raster struct {
	img  *image.RGBA
	face font.Face
}

var _ Surface = (*Raster)(nil)

// NewRaster allocates a w×h raster. Sizes below 1 are clamped to 1.
func NewRaster(w, h int) *Raster {
	r := &Raster{face: basicfont.Face7x13}
	r.Resize(w, h)
	return r
}

func (r *Raster) Size() (int, int) {
	b := r.img.Bounds()
	return b.Dx(), b.Dy()
}

// Resize reallocates the backing image. Contents are discarded.
func (r *Raster) Resize(w, h int) {
	r.img = image.NewRGBA(image.Rect(0, 0, max(w, 1), max(h, 1)))
}

func (r *Raster) Clear(c color.RGBA) {
	pix := r.img.Pix
	for i := 0; i < len(pix); i += 4 {
		pix[i], pix[i+1], pix[i+2], pix[i+3] = c.R, c.G, c.B, c.A
	}
}

// Image returns a copy of the current contents.
func (r *Raster) Image() *image.RGBA {
	cp := image.NewRGBA(r.img.Bounds())
	copy(cp.Pix, r.img.Pix)
	return cp
}

// Line draws a line with integer Bresenham steps. Widths above one are drawn
// as parallel strokes offset along the normal. Each stroke is clipped to the
// image first, so the work is bounded by the surface size however far away
// the endpoints are.
func (r *Raster) Line(x1, y1, x2, y2, width float64, c color.RGBA, alpha float64) {
	w, h := r.Size()
	strokes := max(int(math.Round(width)), 1)
	dx, dy := x2-x1, y2-y1
	length := math.Hypot(dx, dy)
	nx, ny := 0.0, 0.0
	if length > 0 {
		nx, ny = -dy/length, dx/length
	}
	for i := 0; i < strokes; i++ {
		off := float64(i) - float64(strokes-1)/2
		ax, ay, bx, by, ok := clipSegment(
			x1+nx*off, y1+ny*off, x2+nx*off, y2+ny*off,
			-1, -1, float64(w), float64(h),
		)
		if !ok {
			continue
		}
		r.line(
			int(math.Round(ax)), int(math.Round(ay)),
			int(math.Round(bx)), int(math.Round(by)),
			c, alpha,
		)
	}
}

// clipSegment clips (x1,y1)-(x2,y2) to the rectangle [minX,maxX]×[minY,maxY]
// with Liang-Barsky. ok is false when no part of the segment is inside or a
// coordinate is not finite.
func clipSegment(x1, y1, x2, y2, minX, minY, maxX, maxY float64) (ax, ay, bx, by float64, ok bool) {
	for _, v := range [4]float64{x1, y1, x2, y2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, 0, 0, 0, false
		}
	}
	dx, dy := x2-x1, y2-y1
	t0, t1 := 0.0, 1.0
	edges := [4][2]float64{
		{-dx, x1 - minX},
		{dx, maxX - x1},
		{-dy, y1 - minY},
		{dy, maxY - y1},
	}
	for _, e := range edges {
		p, q := e[0], e[1]
		if p == 0 {
			// Parallel to this edge: either fully outside or unconstrained.
			if q < 0 {
				return 0, 0, 0, 0, false
			}
			continue
		}
		t := q / p
		if p < 0 {
			if t > t1 {
				return 0, 0, 0, 0, false
			}
			t0 = max(t0, t)
		} else {
			if t < t0 {
				return 0, 0, 0, 0, false
			}
			t1 = min(t1, t)
		}
	}
	return x1 + t0*dx, y1 + t0*dy, x1 + t1*dx, y1 + t1*dy, true
}

func (r *Raster) line(x1, y1, x2, y2 int, c color.RGBA, alpha float64) {
	dx, dy := abs(x2-x1), abs(y2-y1)
	sx, sy := -1, -1
	if x1 < x2 {
		sx = 1
	}
	if y1 < y2 {
		sy = 1
	}
	err := dx - dy
	for {
		r.blend(x1, y1, c, alpha)
		if x1 == x2 && y1 == y2 {
			break
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x1 += sx
		}
		if e2 < dx {
			err += dx
			y1 += sy
		}
	}
}

// FillCircle fills a disc with a one pixel soft edge.
func (r *Raster) FillCircle(cx, cy, radius float64, c color.RGBA, alpha float64) {
	if radius <= 0 {
		return
	}
	r.eachInBox(cx, cy, radius+1, func(x, y int, d float64) {
		if cov := clamp01(radius - d + 0.5); cov > 0 {
			r.blend(x, y, c, alpha*cov)
		}
	})
}

// StrokeCircle draws a ring of the given width centered on radius.
func (r *Raster) StrokeCircle(cx, cy, radius, width float64, c color.RGBA, alpha float64) {
	if radius <= 0 || width <= 0 {
		return
	}
	half := width / 2
	r.eachInBox(cx, cy, radius+half+1, func(x, y int, d float64) {
		if cov := clamp01(half - math.Abs(d-radius) + 0.5); cov > 0 {
			r.blend(x, y, c, alpha*cov)
		}
	})
}

// Text draws s with its baseline at y.
func (r *Raster) Text(x, y float64, s string, c color.RGBA, alpha float64) {
	// fixed.Point26_6 holds 26 integer bits; anything that far out is off
	// the image anyway.
	if !(math.Abs(x) < 1<<24 && math.Abs(y) < 1<<24) {
		return
	}
	a := float64(c.A) * clamp01(alpha)
	d := font.Drawer{
		Dst:  r.img,
		Src:  image.NewUniform(color.NRGBA{R: c.R, G: c.G, B: c.B, A: uint8(a)}),
		Face: r.face,
		Dot:  fixed.P(int(math.Round(x)), int(math.Round(y))),
	}
	d.DrawString(s)
}

func (r *Raster) eachInBox(cx, cy, reach float64, fn func(x, y int, d float64)) {
	b := r.img.Bounds()
	x0 := max(int(math.Floor(cx-reach)), b.Min.X)
	x1 := min(int(math.Ceil(cx+reach)), b.Max.X-1)
	y0 := max(int(math.Floor(cy-reach)), b.Min.Y)
	y1 := min(int(math.Ceil(cy+reach)), b.Max.Y-1)
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			fn(x, y, math.Hypot(float64(x)+0.5-cx, float64(y)+0.5-cy))
		}
	}
}

// blend composites c over the pixel at (x,y) with src-over.
func (r *Raster) blend(x, y int, c color.RGBA, alpha float64) {
	if !(image.Point{X: x, Y: y}.In(r.img.Rect)) {
		return
	}
	sa := float64(c.A) / 255 * clamp01(alpha)
	if sa <= 0 {
		return
	}
	off := r.img.PixOffset(x, y)
	p := r.img.Pix[off : off+4 : off+4]
	inv := 1 - sa
	p[0] = uint8(float64(c.R)*sa + float64(p[0])*inv + 0.5)
	p[1] = uint8(float64(c.G)*sa + float64(p[1])*inv + 0.5)
	p[2] = uint8(float64(c.B)*sa + float64(p[2])*inv + 0.5)
	p[3] = uint8(255*sa + float64(p[3])*inv + 0.5)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0 || math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
