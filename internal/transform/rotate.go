package transform

import (
	"image"
	"math"
)

// RotateParams describe a clockwise rotation in degrees plus axis flips.
type RotateParams struct {
	Angle float64 `json:"angle"`
	FlipH bool    `json:"flipH"`
	FlipV bool    `json:"flipV"`
}

// Lossless reports whether the rotation is a pure pixel remap.
func (p RotateParams) Lossless() bool {
	return math.Mod(normalizeDegrees(p.Angle), 90) == 0
}

// Rotate flips and rotates img. Quarter turns remap pixels exactly; other
// angles use the bounding-box render shared with Crop.
func Rotate(img image.Image, p RotateParams) *image.NRGBA {
	return renderRotated(img, p.Angle, p.FlipH, p.FlipV)
}
