package transform

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func TestDefaultAdjustmentsAreNeutral(t *testing.T) {
	src := halves(20, 10)
	a := DefaultAdjustments()
	require.True(t, a.Neutral())
	assert.Equal(t, src.Pix, ApplyAdjustments(src, a).Pix)
}

func TestAdjustments(t *testing.T) {
	src := solid(4, 4, color.NRGBA{R: 200, G: 100, B: 50, A: 255})

	gray := ApplyAdjustments(src, Adjustments{Brightness: 100, Contrast: 100, Saturation: 100, Grayscale: 100})
	c := gray.NRGBAAt(1, 1)
	assert.InDelta(t, float64(c.R), float64(c.G), 1)
	assert.InDelta(t, float64(c.G), float64(c.B), 1)

	dark := ApplyAdjustments(src, Adjustments{Brightness: 50, Contrast: 100, Saturation: 100})
	assert.Equal(t, uint8(100), dark.NRGBAAt(0, 0).R)

	flat := ApplyAdjustments(src, Adjustments{Brightness: 100, Contrast: 0, Saturation: 100})
	assert.InDelta(t, 128, float64(flat.NRGBAAt(0, 0).R), 1)

	rotated := ApplyAdjustments(src, Adjustments{Brightness: 100, Contrast: 100, Saturation: 100, HueRotate: 180})
	assert.NotEqual(t, src.NRGBAAt(0, 0), rotated.NRGBAAt(0, 0))

	sepia := ApplyAdjustments(src, Adjustments{Brightness: 100, Contrast: 100, Saturation: 100, Sepia: 100})
	sc := sepia.NRGBAAt(0, 0)
	assert.GreaterOrEqual(t, sc.R, sc.G)
	assert.GreaterOrEqual(t, sc.G, sc.B)
}

func TestAdjustmentBlurSoftensEdges(t *testing.T) {
	src := halves(40, 10)
	out := ApplyAdjustments(src, Adjustments{Brightness: 100, Contrast: 100, Saturation: 100, Blur: 3})
	edge := out.NRGBAAt(20, 5)
	assert.True(t, edge.R > 20 && edge.B > 20, "edge pixel %v should mix both halves", edge)
}

func TestShapePaths(t *testing.T) {
	star, err := ShapePath(ShapeStar, 100, 100)
	require.NoError(t, err)
	require.Len(t, star, 10)
	for i, p := range star {
		r := math.Hypot(p.X-50, p.Y-50)
		if i%2 == 0 {
			assert.InDelta(t, 50, r, 1e-9)
		} else {
			assert.InDelta(t, 25, r, 1e-9)
		}
	}
	assert.InDelta(t, 0, star[0].Y, 1e-9, "first star point is at the top")

	hex, err := ShapePath(ShapeHexagon, 100, 100)
	require.NoError(t, err)
	require.Len(t, hex, 6)
	for i := range hex {
		next := hex[(i+1)%6]
		assert.InDelta(t, 50, math.Hypot(next.X-hex[i].X, next.Y-hex[i].Y), 1e-9)
	}

	heart, err := ShapePath(ShapeHeart, 100, 100)
	require.NoError(t, err)
	assert.Len(t, heart, 4*curveSegments)
	assert.InDelta(t, 100, heart[2*curveSegments].Y, 1e-9, "bottom tip")

	_, err = ShapePath("octagon", 10, 10)
	assert.ErrorIs(t, err, ErrInvalidParams)
	_, err = ShapePath(ShapeCircle, 0, 10)
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestComposeDrawsObjectsInOrder(t *testing.T) {
	base := solid(200, 200, color.White)
	out, err := Compose(base, DefaultAdjustments(), []Object{
		{Kind: ObjectKind(ShapeRectangle), X: 100, Y: 100, Width: 80, Height: 80, Fill: "#ff0000"},
		{Kind: ObjectKind(ShapeCircle), X: 100, Y: 100, Width: 40, Height: 40, Fill: "#0000ff"},
	})
	require.NoError(t, err)

	assert.True(t, isBlue(out.NRGBAAt(100, 100)), "later objects draw over earlier ones")
	assert.True(t, isRed(out.NRGBAAt(70, 70)))
	assert.Equal(t, color.NRGBA{R: 255, G: 255, B: 255, A: 255}, out.NRGBAAt(5, 5))
}

func TestComposeRotationStrokeAndShadow(t *testing.T) {
	base := solid(200, 200, color.White)
	out, err := Compose(base, DefaultAdjustments(), []Object{{
		Kind:     ObjectKind(ShapeRectangle),
		X:        100,
		Y:        100,
		Width:    100,
		Height:   20,
		Rotation: 90,
		Fill:     "#ff0000",
		Stroke:   &Stroke{Color: "#0000ff", Width: 4},
		Shadow:   &Shadow{Color: "#00000080", OffsetX: 30},
	}})
	require.NoError(t, err)

	// rotated a quarter turn the bar is vertical
	assert.True(t, isRed(out.NRGBAAt(100, 70)))
	assert.Equal(t, uint8(255), out.NRGBAAt(70, 100).G)
	assert.True(t, isBlue(out.NRGBAAt(100, 49)))

	shadow := out.NRGBAAt(130, 130)
	assert.Less(t, shadow.R, uint8(200), "shadow darkens the offset area")
}

func TestComposeImageOpacityAndText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solid(10, 10, color.Black)))

	out, err := Compose(solid(100, 100, color.White), DefaultAdjustments(), []Object{
		{Kind: ObjectImage, X: 20, Y: 20, Image: buf.Bytes(), Opacity: 50},
		{Kind: ObjectText, X: 60, Y: 60, Text: "Hi", FontSize: 30, Fill: "#000"},
	})
	require.NoError(t, err)
	assert.InDelta(t, 127.5, float64(out.NRGBAAt(20, 20).R), 1.5)

	_, err = Compose(solid(10, 10, color.White), DefaultAdjustments(), []Object{{Kind: ObjectImage, Image: []byte("x")}})
	assert.ErrorIs(t, err, ErrDecode)
}

func TestHTMLCapture(t *testing.T) {
	r := NewHTMLRenderer()
	img, err := r.Capture(context.Background(), `<html><head><style>p{}</style></head><body>
		<h1>Title</h1><p>Some body text that is long enough to wrap at a narrow width.</p>
		<ul><li>one</li><li>two</li></ul></body></html>`, CaptureOptions{Width: 200})
	require.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dx())
	assert.Greater(t, img.Bounds().Dy(), 100)

	dark := false
	for y := 0; y < img.Bounds().Dy() && !dark; y++ {
		for x := 0; x < img.Bounds().Dx(); x++ {
			if img.NRGBAAt(x, y).R < 100 {
				dark = true
				break
			}
		}
	}
	assert.True(t, dark, "text should be drawn")
}

func darkPixels(img *image.NRGBA) int {
	n := 0
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if img.NRGBAAt(x, y).R < 100 {
				n++
			}
		}
	}
	return n
}

func TestHTMLCaptureDrawsInlineText(t *testing.T) {
	r := NewHTMLRenderer()
	ref, err := r.Capture(context.Background(), `<p>Hello world</p>`, CaptureOptions{Width: 300})
	require.NoError(t, err)
	want := darkPixels(ref)
	require.Positive(t, want)

	for _, src := range []string{
		`<div>Hello world</div>`,
		`<div><span>Hello</span> <b>world</b></div>`,
		`<section><a href="#">Hello</a> world</section>`,
		`<main>Hello <em>world</em></main>`,
	} {
		img, err := r.Capture(context.Background(), src, CaptureOptions{Width: 300})
		require.NoError(t, err, src)
		assert.Equal(t, want, darkPixels(img), src)
	}
}

func TestCollectBlocksGroupsRunsPerContainer(t *testing.T) {
	doc, err := html.Parse(strings.NewReader(`<body>intro<div>one <span>two</span><div>nested</div> tail</div>
		<p>para <b>bold</b></p><ul><li>item</li></ul><script>skip()</script></body>`))
	require.NoError(t, err)

	var texts []string
	for _, b := range collectBlocks(doc, 16) {
		texts = append(texts, b.text)
	}
	assert.Equal(t, []string{"intro", "one two", "nested", "tail", "para bold", "item"}, texts)
}

func TestHTMLCaptureHonorsCancellation(t *testing.T) {
	r := NewHTMLRenderer()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Capture(ctx, "<p>x</p>", CaptureOptions{SettleDelay: time.Second})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, r.Busy())
}

func TestHTMLCaptureHoldsSurfaceExclusively(t *testing.T) {
	r := NewHTMLRenderer()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = r.Capture(context.Background(), "<p>slow</p>", CaptureOptions{SettleDelay: 200 * time.Millisecond})
	}()

	require.Eventually(t, r.Busy, time.Second, 5*time.Millisecond)
	start := time.Now()
	_, err := r.Capture(context.Background(), "<p>fast</p>", CaptureOptions{})
	require.NoError(t, err)
	assert.Greater(t, time.Since(start), 50*time.Millisecond, "second capture waits for the first")
	wg.Wait()
	assert.False(t, r.Busy())
}
