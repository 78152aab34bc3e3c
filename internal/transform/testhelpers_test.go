package transform

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

func solid(w, h int, c color.Color) *image.NRGBA {
	return imaging.New(w, h, c)
}

// halves paints the left half of a w by h image red and the right half blue.
func halves(w, h int) *image.NRGBA {
	img := imaging.New(w, h, color.NRGBA{B: 255, A: 255})
	left := imaging.New(w/2, h, color.NRGBA{R: 255, A: 255})
	return imaging.Paste(img, left, image.Pt(0, 0))
}

func isRed(c color.NRGBA) bool  { return c.R > 200 && c.B < 50 }
func isBlue(c color.NRGBA) bool { return c.B > 200 && c.R < 50 }
