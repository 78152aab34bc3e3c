package transform

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/vector"
)

// ShapeKind names a parametric shape the editor can draw.
type ShapeKind string

const (
	ShapeRectangle ShapeKind = "rectangle"
	ShapeCircle    ShapeKind = "circle"
	ShapeTriangle  ShapeKind = "triangle"
	ShapeStar      ShapeKind = "star"
	ShapeHeart     ShapeKind = "heart"
	ShapeHexagon   ShapeKind = "hexagon"
)

// Point is a position in a shape's local pixel space.
type Point struct {
	X, Y float64
}

const (
	circleSegments = 64
	curveSegments  = 16
	starPoints     = 5
	starInnerRatio = 0.5
)

// ShapePath returns the closed outline of kind inside a w by h box whose top-left
// corner is the origin.
func ShapePath(kind ShapeKind, w, h float64) ([]Point, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: shape size %vx%v", ErrInvalidParams, w, h)
	}
	cx, cy := w/2, h/2
	switch kind {
	case ShapeRectangle:
		return []Point{{0, 0}, {w, 0}, {w, h}, {0, h}}, nil
	case ShapeCircle:
		pts := make([]Point, circleSegments)
		for i := range pts {
			a := 2 * math.Pi * float64(i) / circleSegments
			pts[i] = Point{cx + cx*math.Cos(a), cy + cy*math.Sin(a)}
		}
		return pts, nil
	case ShapeTriangle:
		return []Point{{cx, 0}, {w, h}, {0, h}}, nil
	case ShapeStar:
		return starPath(cx, cy, math.Min(w, h)/2), nil
	case ShapeHeart:
		return heartPath(cx, 0, w, h), nil
	case ShapeHexagon:
		r := math.Min(w, h) / 2
		pts := make([]Point, 6)
		for i := range pts {
			a := float64(i) * math.Pi / 3
			pts[i] = Point{cx + r*math.Cos(a), cy + r*math.Sin(a)}
		}
		return pts, nil
	}
	return nil, fmt.Errorf("%w: unknown shape %q", ErrInvalidParams, kind)
}

// starPath alternates between the outer and inner radius, starting at the top.
func starPath(cx, cy, outer float64) []Point {
	inner := outer * starInnerRatio
	pts := make([]Point, 0, starPoints*2)
	step := math.Pi / starPoints
	a := -math.Pi / 2
	for i := 0; i < starPoints; i++ {
		pts = append(pts, Point{cx + outer*math.Cos(a), cy + outer*math.Sin(a)})
		a += step
		pts = append(pts, Point{cx + inner*math.Cos(a), cy + inner*math.Sin(a)})
		a += step
	}
	return pts
}

// heartPath traces four cubic segments from the top notch at (x, top).
func heartPath(x, top, w, h float64) []Point {
	curve := h * 0.3
	mid := top + (h+curve)/2
	start := Point{x, top + curve}
	segments := [][3]Point{
		{{x, top}, {x - w/2, top}, {x - w/2, top + curve}},
		{{x - w/2, mid}, {x, mid}, {x, top + h}},
		{{x, mid}, {x + w/2, mid}, {x + w/2, top + curve}},
		{{x + w/2, top}, {x, top}, start},
	}

	pts := []Point{start}
	p0 := start
	for _, s := range segments {
		for i := 1; i <= curveSegments; i++ {
			pts = append(pts, cubicAt(p0, s[0], s[1], s[2], float64(i)/curveSegments))
		}
		p0 = s[2]
	}
	// last point duplicates the first
	return pts[:len(pts)-1]
}

func cubicAt(p0, p1, p2, p3 Point, t float64) Point {
	u := 1 - t
	a, b, c, d := u*u*u, 3*u*u*t, 3*u*t*t, t*t*t
	return Point{
		X: a*p0.X + b*p1.X + c*p2.X + d*p3.X,
		Y: a*p0.Y + b*p1.Y + c*p2.Y + d*p3.Y,
	}
}

func offsetPath(pts []Point, dx, dy float64) []Point {
	out := make([]Point, len(pts))
	for i, p := range pts {
		out[i] = Point{p.X + dx, p.Y + dy}
	}
	return out
}

// fillPath rasterizes the closed polygon onto dst.
func fillPath(dst *image.NRGBA, pts []Point, c color.Color) {
	if len(pts) < 3 {
		return
	}
	b := dst.Bounds()
	z := vector.NewRasterizer(b.Dx(), b.Dy())
	z.MoveTo(float32(pts[0].X), float32(pts[0].Y))
	for _, p := range pts[1:] {
		z.LineTo(float32(p.X), float32(p.Y))
	}
	z.ClosePath()
	z.Draw(dst, b, image.NewUniform(c), image.Point{})
}

// strokePath draws each edge of the closed polygon as a quad of the given width.
// Each edge is rasterized on its own so overlapping joints don't cancel out.
func strokePath(dst *image.NRGBA, pts []Point, width float64, c color.Color) {
	if len(pts) < 2 || width <= 0 {
		return
	}
	half := width / 2
	for i := range pts {
		a, b := pts[i], pts[(i+1)%len(pts)]
		dx, dy := b.X-a.X, b.Y-a.Y
		length := math.Hypot(dx, dy)
		if length == 0 {
			continue
		}
		nx, ny := -dy/length*half, dx/length*half
		// extend along the edge so corners close
		ex, ey := dx/length*half, dy/length*half
		fillPath(dst, []Point{
			{a.X - ex + nx, a.Y - ey + ny},
			{b.X + ex + nx, b.Y + ey + ny},
			{b.X + ex - nx, b.Y + ey - ny},
			{a.X - ex - nx, a.Y - ey - ny},
		}, c)
	}
}
