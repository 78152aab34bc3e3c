package transform

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// ObjectKind names a drawable editor object.
type ObjectKind string

const (
	ObjectText  ObjectKind = "text"
	ObjectImage ObjectKind = "image"
)

// Stroke outlines a shape.
type Stroke struct {
	Color string  `json:"color"`
	Width float64 `json:"width"`
}

// Shadow is drawn under an object, offset and blurred.
type Shadow struct {
	Color   string  `json:"color"`
	Blur    float64 `json:"blur"`
	OffsetX float64 `json:"offsetX"`
	OffsetY float64 `json:"offsetY"`
}

// Object is one entry in the editor's draw list. X and Y locate the object's
// center on the base image; Rotation is clockwise degrees around that center.
// Kind is "text", "image" or one of the ShapeKind values.
type Object struct {
	Kind     ObjectKind `json:"kind"`
	X        float64    `json:"x"`
	Y        float64    `json:"y"`
	Width    float64    `json:"width"`
	Height   float64    `json:"height"`
	Rotation float64    `json:"rotation"`
	Fill     string     `json:"fill"`
	Stroke   *Stroke    `json:"stroke,omitempty"`
	Shadow   *Shadow    `json:"shadow,omitempty"`

	Text     string  `json:"text,omitempty"`
	FontSize float64 `json:"fontSize,omitempty"`

	Image []byte `json:"image,omitempty"`
	// Opacity applies to image objects, 0-100. Zero means fully opaque.
	Opacity float64 `json:"opacity,omitempty"`
}

func (o Object) opacity() float64 {
	if o.Kind != ObjectImage || o.Opacity <= 0 {
		return 1
	}
	return math.Min(100, o.Opacity) / 100
}

// layer renders the object unrotated on its own transparent surface.
func (o Object) layer() (*image.NRGBA, error) {
	switch o.Kind {
	case ObjectText:
		c, err := ParseColor(o.Fill)
		if err != nil {
			return nil, err
		}
		return renderText(o.Text, o.FontSize, c)
	case ObjectImage:
		src, err := Decode(o.Image)
		if err != nil {
			return nil, fmt.Errorf("failed to decode editor image: %w", err)
		}
		if o.Width > 0 && o.Height > 0 {
			return imaging.Resize(src, int(math.Round(o.Width)), int(math.Round(o.Height)), imaging.Lanczos), nil
		}
		return imaging.Clone(src), nil
	}

	pad := 0.0
	if o.Stroke != nil {
		pad = math.Ceil(o.Stroke.Width / 2)
	}
	pts, err := ShapePath(ShapeKind(o.Kind), o.Width, o.Height)
	if err != nil {
		return nil, err
	}
	pts = offsetPath(pts, pad, pad)

	w := int(math.Ceil(o.Width + 2*pad))
	h := int(math.Ceil(o.Height + 2*pad))
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	if o.Fill != "" {
		c, err := ParseColor(o.Fill)
		if err != nil {
			return nil, err
		}
		fillPath(dst, pts, c)
	}
	if o.Stroke != nil && o.Stroke.Width > 0 {
		c, err := ParseColor(o.Stroke.Color)
		if err != nil {
			return nil, err
		}
		strokePath(dst, pts, o.Stroke.Width, c)
	}
	return dst, nil
}

// silhouette recolors every pixel of l with c, keeping l's coverage.
func silhouette(l *image.NRGBA, c color.NRGBA) *image.NRGBA {
	return imaging.AdjustFunc(l, func(p color.NRGBA) color.NRGBA {
		return color.NRGBA{R: c.R, G: c.G, B: c.B, A: uint8(uint16(p.A) * uint16(c.A) / 255)}
	})
}

// drawCentered overlays l so its center lands on (cx, cy).
func drawCentered(dst *image.NRGBA, l *image.NRGBA, cx, cy, opacity float64) *image.NRGBA {
	pos := image.Pt(
		int(math.Round(cx-float64(l.Bounds().Dx())/2)),
		int(math.Round(cy-float64(l.Bounds().Dy())/2)),
	)
	return imaging.Overlay(dst, l, pos, opacity)
}

// Compose replays the editor: the adjusted base first, then each object in
// list order with its own translate, rotate, draw.
func Compose(base image.Image, adj Adjustments, objects []Object) (*image.NRGBA, error) {
	dst := ApplyAdjustments(base, adj)
	for i, o := range objects {
		l, err := o.layer()
		if err != nil {
			return nil, fmt.Errorf("object %d (%s): %w", i, o.Kind, err)
		}
		if o.Rotation != 0 {
			l = renderRotated(l, o.Rotation, false, false)
		}
		if o.Shadow != nil {
			c, err := ParseColor(o.Shadow.Color)
			if err != nil {
				return nil, fmt.Errorf("object %d shadow: %w", i, err)
			}
			sh := silhouette(l, c)
			if o.Shadow.Blur > 0 {
				// grow the surface so the blur isn't clipped at the edges
				margin := int(math.Ceil(o.Shadow.Blur * 2))
				grown := imaging.New(sh.Bounds().Dx()+2*margin, sh.Bounds().Dy()+2*margin, color.Transparent)
				sh = imaging.Blur(imaging.PasteCenter(grown, sh), o.Shadow.Blur)
			}
			dst = drawCentered(dst, sh, o.X+o.Shadow.OffsetX, o.Y+o.Shadow.OffsetY, o.opacity())
		}
		dst = drawCentered(dst, l, o.X, o.Y, o.opacity())
	}
	return dst, nil
}
