package transform

import (
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// Anchor is one of the nine named watermark positions.
type Anchor string

const (
	TopLeft      Anchor = "top-left"
	TopCenter    Anchor = "top-center"
	TopRight     Anchor = "top-right"
	CenterLeft   Anchor = "center-left"
	Center       Anchor = "center"
	CenterRight  Anchor = "center-right"
	BottomLeft   Anchor = "bottom-left"
	BottomCenter Anchor = "bottom-center"
	BottomRight  Anchor = "bottom-right"
)

const (
	anchorMargin    = 0.05
	defaultTileGrid = 5
)

// Watermark describes a text or image mark. Exactly one of Text and Image is used;
// Image wins when both are set.
type Watermark struct {
	Text     string  `json:"text"`
	FontSize float64 `json:"fontSize"`
	Color    string  `json:"color"`
	Image    []byte  `json:"image,omitempty"`

	// Opacity is 0-100.
	Opacity  float64 `json:"opacity"`
	Rotation float64 `json:"rotation"`
	// Scale multiplies the rendered mark; zero means 1.
	Scale    float64 `json:"scale"`
	Position Anchor  `json:"position"`
	Tiled    bool    `json:"tiled"`
	// Grid is the tile count per axis; zero means 5.
	Grid int `json:"grid"`
}

func (w Watermark) alpha() float64 {
	return math.Max(0, math.Min(100, w.Opacity)) / 100
}

// mark renders the watermark itself, scaled and rotated, on a transparent surface.
func (w Watermark) mark() (*image.NRGBA, error) {
	var m *image.NRGBA
	if len(w.Image) > 0 {
		src, err := Decode(w.Image)
		if err != nil {
			return nil, fmt.Errorf("failed to decode watermark image: %w", err)
		}
		m = imaging.Clone(src)
	} else {
		c, err := ParseColor(w.Color)
		if err != nil {
			return nil, err
		}
		size := w.FontSize
		if size <= 0 {
			size = 48
		}
		if m, err = renderText(w.Text, size, c); err != nil {
			return nil, err
		}
	}

	if w.Scale > 0 && w.Scale != 1 {
		sw := int(math.Round(float64(m.Bounds().Dx()) * w.Scale))
		sh := int(math.Round(float64(m.Bounds().Dy()) * w.Scale))
		if sw <= 0 || sh <= 0 {
			return nil, fmt.Errorf("%w: watermark scale %v too small", ErrInvalidParams, w.Scale)
		}
		m = imaging.Resize(m, sw, sh, imaging.Lanczos)
	}
	if w.Rotation != 0 {
		m = renderRotated(m, w.Rotation, false, false)
	}
	return m, nil
}

// Placements returns where each copy of a mark of size mw by mh lands on a
// w by h base, before clipping to the base.
func (w Watermark) Placements(width, height, mw, mh int) []image.Rectangle {
	if w.Tiled {
		grid := w.Grid
		if grid <= 0 {
			grid = defaultTileGrid
		}
		cellW, cellH := float64(width)/float64(grid), float64(height)/float64(grid)
		rects := make([]image.Rectangle, 0, grid*grid)
		for row := 0; row < grid; row++ {
			for col := 0; col < grid; col++ {
				cx := cellW*float64(col) + cellW/2
				cy := cellH*float64(row) + cellH/2
				x := int(math.Round(cx - float64(mw)/2))
				y := int(math.Round(cy - float64(mh)/2))
				rects = append(rects, image.Rect(x, y, x+mw, y+mh))
			}
		}
		return rects
	}

	mx := int(math.Round(float64(width) * anchorMargin))
	my := int(math.Round(float64(height) * anchorMargin))
	left, hcenter, right := mx, (width-mw)/2, width-mw-mx
	top, vcenter, bottom := my, (height-mh)/2, height-mh-my

	var x, y int
	switch w.Position {
	case TopLeft:
		x, y = left, top
	case TopCenter:
		x, y = hcenter, top
	case TopRight:
		x, y = right, top
	case CenterLeft:
		x, y = left, vcenter
	case CenterRight:
		x, y = right, vcenter
	case BottomLeft:
		x, y = left, bottom
	case BottomCenter:
		x, y = hcenter, bottom
	case BottomRight:
		x, y = right, bottom
	default:
		x, y = hcenter, vcenter
	}
	return []image.Rectangle{image.Rect(x, y, x+mw, y+mh)}
}

// ApplyWatermark draws base, then every placement of the mark with the
// watermark opacity as global alpha.
func ApplyWatermark(base image.Image, w Watermark) (*image.NRGBA, error) {
	m, err := w.mark()
	if err != nil {
		return nil, err
	}
	dst := imaging.Clone(base)
	b := dst.Bounds()
	alpha := w.alpha()
	for _, r := range w.Placements(b.Dx(), b.Dy(), m.Bounds().Dx(), m.Bounds().Dy()) {
		dst = imaging.Overlay(dst, m, r.Min, alpha)
	}
	return dst, nil
}

// MarkBounds returns the clipped rectangles a watermark would touch on base.
func MarkBounds(base image.Image, w Watermark) ([]image.Rectangle, error) {
	m, err := w.mark()
	if err != nil {
		return nil, err
	}
	b := base.Bounds()
	var out []image.Rectangle
	for _, r := range w.Placements(b.Dx(), b.Dy(), m.Bounds().Dx(), m.Bounds().Dy()) {
		if r = r.Intersect(image.Rect(0, 0, b.Dx(), b.Dy())); !r.Empty() {
			out = append(out, r)
		}
	}
	return out, nil
}
