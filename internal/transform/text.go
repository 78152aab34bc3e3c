package transform

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

var (
	fontOnce sync.Once
	baseFont *opentype.Font
	fontErr  error
)

func regularFont() (*opentype.Font, error) {
	fontOnce.Do(func() {
		baseFont, fontErr = opentype.Parse(goregular.TTF)
	})
	return baseFont, fontErr
}

// newFace returns a face of the given pixel size. Callers must Close it.
func newFace(size float64) (font.Face, error) {
	f, err := regularFont()
	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}
	if size <= 0 {
		size = 16
	}
	return opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	})
}

// renderText draws a single line of text on a transparent surface just large
// enough to hold it.
func renderText(text string, size float64, c color.Color) (*image.NRGBA, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty text", ErrInvalidParams)
	}
	face, err := newFace(size)
	if err != nil {
		return nil, err
	}
	defer face.Close()

	metrics := face.Metrics()
	ascent := metrics.Ascent.Ceil()
	height := ascent + metrics.Descent.Ceil()
	width := font.MeasureString(face, text).Ceil()
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: text has no extent", ErrInvalidParams)
	}

	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(0, ascent),
	}
	d.DrawString(text)
	return dst, nil
}

// ParseColor reads #rgb, #rrggbb or #rrggbbaa. An empty string is black.
func ParseColor(s string) (color.NRGBA, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if s == "" {
		return color.NRGBA{A: 0xff}, nil
	}
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) == 6 {
		s += "ff"
	}
	if len(s) != 8 {
		return color.NRGBA{}, fmt.Errorf("%w: bad color %q", ErrInvalidParams, s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("%w: bad color %q", ErrInvalidParams, s)
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}

// DrawText draws s with its baseline starting at (x, y) in dst's pixel space.
func DrawText(dst draw.Image, s string, x, y, size float64, c color.Color) error {
	face, err := newFace(size)
	if err != nil {
		return err
	}
	defer face.Close()

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.Int26_6(x * 64), Y: fixed.Int26_6(y * 64)},
	}
	d.DrawString(s)
	return nil
}
