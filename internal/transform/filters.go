package transform

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// Adjustments mirror the CSS filter functions, applied in the order
// brightness, contrast, saturate, grayscale, sepia, hue-rotate, blur.
// Percentages use 100 as identity for the first three and 0 for the rest.
type Adjustments struct {
	Brightness float64 `json:"brightness"`
	Contrast   float64 `json:"contrast"`
	Saturation float64 `json:"saturation"`
	Grayscale  float64 `json:"grayscale"`
	Sepia      float64 `json:"sepia"`
	HueRotate  float64 `json:"hueRotate"`
	Blur       float64 `json:"blur"`
}

func DefaultAdjustments() Adjustments {
	return Adjustments{Brightness: 100, Contrast: 100, Saturation: 100}
}

// Neutral reports whether applying a would leave every pixel unchanged.
func (a Adjustments) Neutral() bool {
	return a.colorNeutral() && a.Blur <= 0
}

func (a Adjustments) colorNeutral() bool {
	return a.Brightness == 100 && a.Contrast == 100 && a.Saturation == 100 &&
		a.Grayscale == 0 && a.Sepia == 0 && math.Mod(a.HueRotate, 360) == 0
}

type matrix [3][3]float64

func (m matrix) apply(r, g, b float64) (float64, float64, float64) {
	return clamp01(m[0][0]*r + m[0][1]*g + m[0][2]*b),
		clamp01(m[1][0]*r + m[1][1]*g + m[1][2]*b),
		clamp01(m[2][0]*r + m[2][1]*g + m[2][2]*b)
}

func saturateMatrix(s float64) matrix {
	return matrix{
		{0.213 + 0.787*s, 0.715 - 0.715*s, 0.072 - 0.072*s},
		{0.213 - 0.213*s, 0.715 + 0.285*s, 0.072 - 0.072*s},
		{0.213 - 0.213*s, 0.715 - 0.715*s, 0.072 + 0.928*s},
	}
}

func grayscaleMatrix(amount float64) matrix {
	s := 1 - math.Min(1, amount)
	return matrix{
		{0.2126 + 0.7874*s, 0.7152 - 0.7152*s, 0.0722 - 0.0722*s},
		{0.2126 - 0.2126*s, 0.7152 + 0.2848*s, 0.0722 - 0.0722*s},
		{0.2126 - 0.2126*s, 0.7152 - 0.7152*s, 0.0722 + 0.9278*s},
	}
}

func sepiaMatrix(amount float64) matrix {
	s := 1 - math.Min(1, amount)
	return matrix{
		{0.393 + 0.607*s, 0.769 - 0.769*s, 0.189 - 0.189*s},
		{0.349 - 0.349*s, 0.686 + 0.314*s, 0.168 - 0.168*s},
		{0.272 - 0.272*s, 0.534 - 0.534*s, 0.131 + 0.869*s},
	}
}

func hueRotateMatrix(deg float64) matrix {
	rad := deg * math.Pi / 180
	c, s := math.Cos(rad), math.Sin(rad)
	return matrix{
		{0.213 + c*0.787 - s*0.213, 0.715 - c*0.715 - s*0.715, 0.072 - c*0.072 + s*0.928},
		{0.213 - c*0.213 + s*0.143, 0.715 + c*0.285 + s*0.140, 0.072 - c*0.072 - s*0.283},
		{0.213 - c*0.213 - s*0.787, 0.715 - c*0.715 + s*0.715, 0.072 + c*0.928 + s*0.072},
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// ApplyAdjustments returns a filtered copy of img.
func ApplyAdjustments(img image.Image, a Adjustments) *image.NRGBA {
	out := imaging.Clone(img)
	if !a.colorNeutral() {
		brightness := a.Brightness / 100
		contrast := a.Contrast / 100
		var steps []matrix
		if a.Saturation != 100 {
			steps = append(steps, saturateMatrix(a.Saturation/100))
		}
		if a.Grayscale > 0 {
			steps = append(steps, grayscaleMatrix(a.Grayscale/100))
		}
		if a.Sepia > 0 {
			steps = append(steps, sepiaMatrix(a.Sepia/100))
		}
		if math.Mod(a.HueRotate, 360) != 0 {
			steps = append(steps, hueRotateMatrix(a.HueRotate))
		}

		out = imaging.AdjustFunc(out, func(c color.NRGBA) color.NRGBA {
			r, g, b := float64(c.R)/255, float64(c.G)/255, float64(c.B)/255
			r, g, b = clamp01(r*brightness), clamp01(g*brightness), clamp01(b*brightness)
			r = clamp01((r-0.5)*contrast + 0.5)
			g = clamp01((g-0.5)*contrast + 0.5)
			b = clamp01((b-0.5)*contrast + 0.5)
			for _, m := range steps {
				r, g, b = m.apply(r, g, b)
			}
			return color.NRGBA{
				R: uint8(math.Round(r * 255)),
				G: uint8(math.Round(g * 255)),
				B: uint8(math.Round(b * 255)),
				A: c.A,
			}
		})
	}
	if a.Blur > 0 {
		out = imaging.Blur(out, a.Blur)
	}
	return out
}
