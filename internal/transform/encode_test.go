package transform

import (
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{
		"jpg": FormatJPEG, ".JPEG": FormatJPEG, "image/png": FormatPNG,
		"gif": FormatGIF, "image/bmp": FormatBMP, "tif": FormatTIFF,
	} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("heic")
	assert.ErrorIs(t, err, ErrInvalidParams)
	assert.Equal(t, FormatPNG, FormatForMIME("image/webp"))
	assert.Equal(t, "jpg", FormatJPEG.Extension())
}

func TestEncodeFlattensTransparencyForJPEG(t *testing.T) {
	src := imaging.New(8, 8, color.NRGBA{})
	data, err := Encode(src, FormatJPEG, 90)
	require.NoError(t, err)

	img, err := Decode(data)
	require.NoError(t, err)
	r, g, b, _ := img.At(4, 4).RGBA()
	assert.Greater(t, r>>8, uint32(240))
	assert.Greater(t, g>>8, uint32(240))
	assert.Greater(t, b>>8, uint32(240))
}

func TestEncodeKeepsAlphaForPNG(t *testing.T) {
	src := imaging.New(8, 8, color.NRGBA{R: 10, A: 0})
	data, err := Encode(src, FormatPNG, 0)
	require.NoError(t, err)
	img, err := Decode(data)
	require.NoError(t, err)
	_, _, _, a := img.At(1, 1).RGBA()
	assert.Zero(t, a)
}

func TestEncodeQualityChangesJPEGSize(t *testing.T) {
	src := imaging.Blur(halves(200, 200), 0.5)
	src = ApplyAdjustments(src, Adjustments{Brightness: 100, Contrast: 100, Saturation: 100, HueRotate: 45})
	low, err := Encode(src, FormatJPEG, 5)
	require.NoError(t, err)
	high, err := Encode(src, FormatJPEG, 100)
	require.NoError(t, err)
	assert.Less(t, len(low), len(high))
}

func TestEncodeErrors(t *testing.T) {
	_, err := Encode(image.NewNRGBA(image.Rect(0, 0, 0, 0)), FormatPNG, 80)
	assert.ErrorIs(t, err, ErrEncode)
	_, err = Encode(solid(2, 2, color.White), Format("webp"), 80)
	assert.ErrorIs(t, err, ErrEncode)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("not an image"))
	assert.ErrorIs(t, err, ErrDecode)
}
