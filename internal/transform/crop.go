package transform

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// CropParams is a rectangle in the pixel space of the rotated and flipped
// source. Rotation is in degrees, clockwise.
type CropParams struct {
	X        int     `json:"x"`
	Y        int     `json:"y"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Rotation float64 `json:"rotation"`
	FlipH    bool    `json:"flipH"`
	FlipV    bool    `json:"flipV"`
}

// RotatedBounds is the size of the box that holds a w by h image rotated by deg.
func RotatedBounds(w, h int, deg float64) (int, int) {
	rad := deg * math.Pi / 180
	cos, sin := math.Abs(math.Cos(rad)), math.Abs(math.Sin(rad))
	fw, fh := float64(w), float64(h)
	return int(math.Round(fw*cos + fh*sin)), int(math.Round(fw*sin + fh*cos))
}

func normalizeDegrees(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

// renderRotated flips img, then rotates it clockwise by deg around its center
// onto a canvas sized by RotatedBounds. Uncovered corners stay transparent.
func renderRotated(img image.Image, deg float64, flipH, flipV bool) *image.NRGBA {
	src := imaging.Clone(img)
	if flipH {
		src = imaging.FlipH(src)
	}
	if flipV {
		src = imaging.FlipV(src)
	}

	// imaging rotates counter-clockwise.
	switch d := normalizeDegrees(deg); d {
	case 0:
		return src
	case 90:
		return imaging.Rotate270(src)
	case 180:
		return imaging.Rotate180(src)
	case 270:
		return imaging.Rotate90(src)
	default:
		w, h := RotatedBounds(src.Bounds().Dx(), src.Bounds().Dy(), d)
		rotated := imaging.Rotate(src, -d, color.Transparent)
		canvas := imaging.New(w, h, color.Transparent)
		return imaging.PasteCenter(canvas, rotated)
	}
}

// Crop renders the rotated, flipped source and extracts the crop rectangle.
// The rectangle is clipped to the rendered surface.
func Crop(img image.Image, p CropParams) (*image.NRGBA, error) {
	if p.Width <= 0 || p.Height <= 0 {
		return nil, fmt.Errorf("%w: crop %dx%d", ErrInvalidParams, p.Width, p.Height)
	}
	rendered := renderRotated(img, p.Rotation, p.FlipH, p.FlipV)
	rect := image.Rect(p.X, p.Y, p.X+p.Width, p.Y+p.Height).Intersect(rendered.Bounds())
	if rect.Empty() {
		return nil, fmt.Errorf("%w: crop rectangle outside the image", ErrInvalidParams)
	}
	return imaging.Crop(rendered, rect), nil
}

// FullFrame is the crop that keeps the whole rotated source.
func FullFrame(w, h int, deg float64) CropParams {
	bw, bh := RotatedBounds(w, h, deg)
	return CropParams{Width: bw, Height: bh, Rotation: deg}
}
