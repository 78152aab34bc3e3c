package transform

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// Format is an output encoding.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatGIF  Format = "gif"
	FormatBMP  Format = "bmp"
	FormatTIFF Format = "tiff"
)

var imagingFormats = map[Format]imaging.Format{
	FormatJPEG: imaging.JPEG,
	FormatPNG:  imaging.PNG,
	FormatGIF:  imaging.GIF,
	FormatBMP:  imaging.BMP,
	FormatTIFF: imaging.TIFF,
}

// ParseFormat accepts a format name, a file extension or a MIME type.
func ParseFormat(s string) (Format, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "image/")
	s = strings.TrimPrefix(s, ".")
	switch s {
	case "jpg", "jpeg", "pjpeg":
		return FormatJPEG, nil
	case "png":
		return FormatPNG, nil
	case "gif":
		return FormatGIF, nil
	case "bmp", "x-ms-bmp":
		return FormatBMP, nil
	case "tif", "tiff":
		return FormatTIFF, nil
	}
	return "", fmt.Errorf("%w: unsupported output format %q", ErrInvalidParams, s)
}

// FormatForMIME picks the encoding that keeps a source in its own format.
// Formats without an encoder (webp) fall back to png.
func FormatForMIME(mimeType string) Format {
	f, err := ParseFormat(mimeType)
	if err != nil {
		return FormatPNG
	}
	return f
}

func (f Format) Extension() string {
	if f == FormatJPEG {
		return "jpg"
	}
	return string(f)
}

func (f Format) MimeType() string {
	return "image/" + string(f)
}

// HasAlpha reports whether the format can carry transparency.
func (f Format) HasAlpha() bool {
	return f != FormatJPEG && f != FormatBMP
}

// Lossy reports whether the quality argument has any effect.
func (f Format) Lossy() bool {
	return f == FormatJPEG
}

// Decode reads any registered image format, honoring EXIF orientation.
func Decode(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrDecode)
	}
	return img, nil
}

// Flatten composites img onto an opaque white background.
func Flatten(img image.Image) *image.NRGBA {
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}

// Encode writes img in format f. quality (0-100) only affects lossy formats and
// is clamped to the encoder's 1-100 range.
func Encode(img image.Image, f Format, quality int) ([]byte, error) {
	target, ok := imagingFormats[f]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported format %q", ErrEncode, f)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: zero-sized image", ErrEncode)
	}
	if !f.HasAlpha() {
		img = Flatten(img)
	}

	var opts []imaging.EncodeOption
	if f.Lossy() {
		opts = append(opts, imaging.JPEGQuality(clampQuality(quality)))
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, target, opts...); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return buf.Bytes(), nil
}

func clampQuality(q int) int {
	if q < 1 {
		return 1
	}
	if q > 100 {
		return 100
	}
	return q
}
