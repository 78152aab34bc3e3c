package transform

import (
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// ResizeMode selects how target dimensions are expressed.
type ResizeMode string

const (
	ResizePixels     ResizeMode = "pixels"
	ResizePercentage ResizeMode = "percentage"
)

// Edge names the dimension a user edited last.
type Edge string

const (
	EdgeWidth  Edge = "width"
	EdgeHeight Edge = "height"
)

// ResizeParams describe a target size. With LockAspect set, the edge named by
// LastEdited is authoritative and the other one is derived from it.
type ResizeParams struct {
	Mode       ResizeMode `json:"mode"`
	Width      int        `json:"width"`
	Height     int        `json:"height"`
	Percentage float64    `json:"percentage"`
	LockAspect bool       `json:"lockAspect"`
	LastEdited Edge       `json:"lastEdited"`
}

// DeriveHeight returns the height matching width under the original aspect ratio.
func DeriveHeight(width, origW, origH int) int {
	aspect := float64(origW) / float64(origH)
	return int(math.Round(float64(width) / aspect))
}

// DeriveWidth returns the width matching height under the original aspect ratio.
// Deriving back and forth is approximate: the round trip lands within 1px.
func DeriveWidth(height, origW, origH int) int {
	aspect := float64(origW) / float64(origH)
	return int(math.Round(float64(height) * aspect))
}

// Target resolves the params against the original size.
func (p ResizeParams) Target(origW, origH int) (int, int, error) {
	if origW <= 0 || origH <= 0 {
		return 0, 0, fmt.Errorf("%w: source has no size", ErrInvalidParams)
	}

	var w, h int
	switch p.Mode {
	case ResizePercentage:
		if p.Percentage <= 0 {
			return 0, 0, fmt.Errorf("%w: percentage must be positive", ErrInvalidParams)
		}
		w = int(math.Round(float64(origW) * p.Percentage / 100))
		h = int(math.Round(float64(origH) * p.Percentage / 100))
	case ResizePixels, "":
		w, h = p.Width, p.Height
		if p.LockAspect {
			if p.LastEdited == EdgeHeight {
				w = DeriveWidth(h, origW, origH)
			} else {
				h = DeriveHeight(w, origW, origH)
			}
		}
	default:
		return 0, 0, fmt.Errorf("%w: unknown resize mode %q", ErrInvalidParams, p.Mode)
	}

	if w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("%w: target %dx%d", ErrInvalidParams, w, h)
	}
	return w, h, nil
}

// Resize scales img to exactly w by h.
func Resize(img image.Image, w, h int) (*image.NRGBA, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: target %dx%d", ErrInvalidParams, w, h)
	}
	b := img.Bounds()
	if b.Dx() == w && b.Dy() == h {
		return imaging.Clone(img), nil
	}
	return imaging.Resize(img, w, h, imaging.Lanczos), nil
}

// ApplyResize resolves params against img and scales it.
func ApplyResize(img image.Image, p ResizeParams) (*image.NRGBA, error) {
	b := img.Bounds()
	w, h, err := p.Target(b.Dx(), b.Dy())
	if err != nil {
		return nil, err
	}
	return Resize(img, w, h)
}
