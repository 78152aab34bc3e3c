package tools

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/feichai0017/media-toolkit/internal/models"
	"github.com/feichai0017/media-toolkit/internal/transform"
)

type imageFunc func(img image.Image, a *models.Artifact, s Settings) (image.Image, error)

// imageTool decodes, applies one transform and re-encodes.
type imageTool struct {
	spec          Spec
	apply         imageFunc
	requireFormat bool
}

func (t *imageTool) Spec() Spec { return t.spec }

func (t *imageTool) Process(ctx context.Context, a *models.Artifact, s Settings) (*Output, error) {
	format, err := outputFormat(a, s, t.requireFormat)
	if err != nil {
		return nil, err
	}

	img, err := transform.Decode(a.Data)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := t.apply(img, a, s)
	if err != nil {
		return nil, err
	}

	data, err := transform.Encode(result, format, s.Quality)
	if err != nil {
		return nil, err
	}
	b := result.Bounds()
	return &Output{
		Data:     data,
		MimeType: format.MimeType(),
		Ext:      format.Extension(),
		Width:    b.Dx(),
		Height:   b.Dy(),
	}, nil
}

func outputFormat(a *models.Artifact, s Settings, required bool) (transform.Format, error) {
	if s.Format == "" {
		if required {
			return "", fmt.Errorf("%w: output format is required", transform.ErrInvalidParams)
		}
		return transform.FormatForMIME(a.MimeType), nil
	}
	f, err := transform.ParseFormat(s.Format)
	if err != nil {
		return "", fmt.Errorf("%w: %v", transform.ErrInvalidParams, err)
	}
	return f, nil
}

// applyCompress keeps the dimensions unless a resize is requested alongside.
func applyCompress(img image.Image, a *models.Artifact, s Settings) (image.Image, error) {
	p := s.Resize
	switch {
	case p.Mode == transform.ResizePercentage && p.Percentage > 0 && p.Percentage != 100:
	case p.Mode == transform.ResizePixels && (p.Width > 0 || p.Height > 0):
	default:
		return img, nil
	}
	return applyResize(img, a, s)
}

func applyResize(img image.Image, a *models.Artifact, s Settings) (image.Image, error) {
	p := s.Resize
	if a.State.LockAspect != nil {
		p.LockAspect = *a.State.LockAspect
	}
	return transform.ApplyResize(img, p)
}

func applyCrop(img image.Image, a *models.Artifact, s Settings) (image.Image, error) {
	var p transform.CropParams
	if a.State.Crop != nil {
		p = *a.State.Crop
	} else {
		b := img.Bounds()
		p = centeredCrop(b.Dx(), b.Dy(), s.CropAspect)
	}
	return transform.Crop(img, p)
}

// centeredCrop is the largest rectangle of the given aspect centered in w by h.
// A non-positive aspect selects the whole frame.
func centeredCrop(w, h int, aspect float64) transform.CropParams {
	if aspect <= 0 {
		return transform.FullFrame(w, h, 0)
	}
	cw, ch := w, int(math.Round(float64(w)/aspect))
	if ch > h {
		cw, ch = int(math.Round(float64(h)*aspect)), h
	}
	return transform.CropParams{X: (w - cw) / 2, Y: (h - ch) / 2, Width: cw, Height: ch}
}

func applyConvert(img image.Image, _ *models.Artifact, _ Settings) (image.Image, error) {
	return img, nil
}

func applyRotate(img image.Image, a *models.Artifact, s Settings) (image.Image, error) {
	p := s.Rotate
	if a.State.Rotate != nil {
		p = *a.State.Rotate
	}
	return transform.Rotate(img, p), nil
}

func applyWatermark(img image.Image, _ *models.Artifact, s Settings) (image.Image, error) {
	return transform.ApplyWatermark(img, s.Watermark)
}

func applyEditor(img image.Image, _ *models.Artifact, s Settings) (image.Image, error) {
	return transform.Compose(img, s.Adjustments, s.Objects)
}
