package tools

import (
	"context"
	"time"

	"github.com/feichai0017/media-toolkit/internal/models"
	"github.com/feichai0017/media-toolkit/internal/transform"
)

// htmlTool captures an uploaded HTML document. Every capture holds the shared
// renderer, so the tool is sequential.
type htmlTool struct {
	spec     Spec
	renderer transform.Capturer
	width    int
	settle   time.Duration
}

func (t *htmlTool) Spec() Spec { return t.spec }

func (t *htmlTool) Process(ctx context.Context, a *models.Artifact, s Settings) (*Output, error) {
	format := transform.FormatPNG
	if s.Format != "" {
		f, err := outputFormat(a, s, false)
		if err != nil {
			return nil, err
		}
		format = f
	}

	width := t.width
	if s.HTMLWidth > 0 {
		width = s.HTMLWidth
	}
	img, err := t.renderer.Capture(ctx, string(a.Data), transform.CaptureOptions{
		Width:       width,
		SettleDelay: t.settle,
	})
	if err != nil {
		return nil, err
	}

	data, err := transform.Encode(img, format, s.Quality)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	return &Output{
		Data:     data,
		MimeType: format.MimeType(),
		Ext:      format.Extension(),
		Width:    b.Dx(),
		Height:   b.Dy(),
	}, nil
}
