package pdfops

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/ledongthuc/pdf"

	"github.com/feichai0017/media-toolkit/internal/transform"
)

// Info is the metadata read at intake.
type Info struct {
	Pages int
	Title string
}

// openReader wraps the pdf reader, which reports malformed input by panicking.
func withReader(src []byte, fn func(r *pdf.Reader) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("failed to parse pdf: %v", rec)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(src), int64(len(src)))
	if err != nil {
		return fmt.Errorf("failed to open pdf: %w", err)
	}
	return fn(r)
}

// Inspect reads the page count and document title.
func Inspect(src []byte) (Info, error) {
	var info Info
	err := withReader(src, func(r *pdf.Reader) error {
		info.Pages = r.NumPage()
		info.Title = strings.TrimSpace(r.Trailer().Key("Info").Key("Title").Text())
		return nil
	})
	if err != nil {
		return Info{}, err
	}
	if info.Pages < 1 {
		return Info{}, fmt.Errorf("failed to parse pdf: no pages")
	}
	return info, nil
}

// PageText returns the text shown on page n (1-based), in content order.
func PageText(src []byte, n int) (string, error) {
	var sb strings.Builder
	err := withReader(src, func(r *pdf.Reader) error {
		if n < 1 || n > r.NumPage() {
			return fmt.Errorf("%w: page %d of %d", ErrPageRange, n, r.NumPage())
		}
		for _, t := range r.Page(n).Content().Text {
			sb.WriteString(t.S)
		}
		return nil
	})
	return sb.String(), err
}

// PageContent returns the decoded content stream of page n (1-based).
func PageContent(src []byte, n int) ([]byte, error) {
	var out []byte
	err := withReader(src, func(r *pdf.Reader) error {
		if n < 1 || n > r.NumPage() {
			return fmt.Errorf("%w: page %d of %d", ErrPageRange, n, r.NumPage())
		}
		contents := r.Page(n).V.Key("Contents")
		var buf bytes.Buffer
		if contents.Kind() == pdf.Array {
			for i := 0; i < contents.Len(); i++ {
				if err := readStream(&buf, contents.Index(i)); err != nil {
					return err
				}
			}
		} else if err := readStream(&buf, contents); err != nil {
			return err
		}
		out = buf.Bytes()
		return nil
	})
	return out, err
}

func readStream(buf *bytes.Buffer, v pdf.Value) error {
	rc := v.Reader()
	defer rc.Close()
	if _, err := buf.ReadFrom(rc); err != nil {
		return fmt.Errorf("failed to read content stream: %w", err)
	}
	return nil
}

// Rasterizer renders one page to a bitmap at the given pixel scale.
type Rasterizer interface {
	RenderPage(src []byte, page int, scale float64) (image.Image, error)
}

// PageBoxRasterizer draws a page's media box with its filled rectangles and
// text runs. It is a preview renderer, not a full PDF interpreter.
type PageBoxRasterizer struct{}

func mediaBox(p pdf.Page) (float64, float64) {
	for v := p.V; !v.IsNull(); v = v.Key("Parent") {
		if box := v.Key("MediaBox"); box.Len() == 4 {
			return box.Index(2).Float64() - box.Index(0).Float64(), box.Index(3).Float64() - box.Index(1).Float64()
		}
	}
	// US Letter
	return 612, 792
}

func (PageBoxRasterizer) RenderPage(src []byte, n int, scale float64) (image.Image, error) {
	if scale <= 0 {
		return nil, fmt.Errorf("%w: scale must be positive", ErrBadRequest)
	}
	var canvas *image.NRGBA
	err := withReader(src, func(r *pdf.Reader) error {
		if n < 1 || n > r.NumPage() {
			return fmt.Errorf("%w: page %d of %d", ErrPageRange, n, r.NumPage())
		}
		page := r.Page(n)
		w, h := mediaBox(page)
		canvas = imaging.New(int(math.Ceil(w*scale)), int(math.Ceil(h*scale)), color.White)

		content := page.Content()
		fill := color.NRGBA{R: 0xdd, G: 0xdd, B: 0xdd, A: 0xff}
		for _, rc := range content.Rect {
			rect := image.Rect(
				int(rc.Min.X*scale), int((h-rc.Max.Y)*scale),
				int(rc.Max.X*scale), int((h-rc.Min.Y)*scale),
			).Canon()
			block := imaging.New(max(rect.Dx(), 1), max(rect.Dy(), 1), fill)
			canvas = imaging.Paste(canvas, block, rect.Min)
		}
		for _, t := range content.Text {
			size := t.FontSize * scale
			if size <= 0 {
				size = 12 * scale
			}
			if err := transform.DrawText(canvas, t.S, t.X*scale, (h-t.Y)*scale, size, color.Black); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return canvas, nil
}
