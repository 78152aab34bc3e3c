// Package intake turns uploaded files into session artifacts.
package intake

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/feichai0017/media-toolkit/internal/models"
	"github.com/feichai0017/media-toolkit/internal/pdfops"
	"github.com/feichai0017/media-toolkit/internal/preview"
	"github.com/feichai0017/media-toolkit/internal/transform"
	"github.com/feichai0017/media-toolkit/internal/utils/validator"
	"github.com/feichai0017/media-toolkit/pkg/logger"
)

// Rejection names a file that was skipped and why.
type Rejection struct {
	Name    string `json:"name"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Result lists accepted artifacts in arrival order.
type Result struct {
	Accepted []*models.Artifact
	Rejected []Rejection
}

// Skipped is the number of rejected files.
func (r *Result) Skipped() int { return len(r.Rejected) }

// Intake validates uploads and builds artifacts with their original previews.
type Intake struct {
	validator    *validator.FileValidator
	rasterizer   pdfops.Rasterizer
	previewScale float64
	logger       logger.Logger
	now          func() time.Time
}

func NewIntake(v *validator.FileValidator, r pdfops.Rasterizer, previewScale float64, log logger.Logger) *Intake {
	if previewScale <= 0 {
		previewScale = 2
	}
	return &Intake{
		validator:    v,
		rasterizer:   r,
		previewScale: previewScale,
		logger:       log.Named("intake"),
		now:          time.Now,
	}
}

// Ingest validates files against the allow-list and allocates one original
// preview per accepted file in reg.
func (in *Intake) Ingest(ctx context.Context, files []validator.File, allowed []string, reg *preview.Registry) (*Result, error) {
	v := in.validator.WithAllowedTypes(allowed)
	results := v.ValidateFiles(files)

	out := &Result{}
	for i, res := range results {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !res.IsValid {
			e := res.Errors[0]
			out.Rejected = append(out.Rejected, Rejection{Name: files[i].Name, Code: e.Code, Message: e.Message})
			continue
		}

		a, err := in.build(files[i], res.FileInfo, reg)
		if err != nil {
			in.logger.Warn("Failed to build artifact",
				logger.String("filename", files[i].Name),
				logger.Error(err),
			)
			out.Rejected = append(out.Rejected, Rejection{Name: files[i].Name, Code: validator.CodeUnreadableFile, Message: err.Error()})
			continue
		}
		out.Accepted = append(out.Accepted, a)
	}

	in.logger.Info("Files ingested",
		logger.Int("accepted", len(out.Accepted)),
		logger.Int("skipped", out.Skipped()),
	)
	return out, nil
}

func (in *Intake) build(f validator.File, info validator.FileInfo, reg *preview.Registry) (*models.Artifact, error) {
	a := &models.Artifact{
		ID:           NewID(f.Name, in.now()),
		Name:         f.Name,
		MimeType:     info.MimeType,
		Data:         f.Data,
		Hash:         info.Hash,
		OriginalSize: int64(len(f.Data)),
		Width:        info.Width,
		Height:       info.Height,
		PageCount:    info.Pages,
		Title:        info.Title,
		CreatedAt:    in.now(),
	}

	var (
		thumb     = f.Data
		thumbType = info.MimeType
	)
	switch {
	case info.MimeType == "application/pdf":
		a.Kind = models.KindPDF
		a.State.Pages = pdfops.IdentityPlan(info.Pages)
		img, err := in.rasterizer.RenderPage(f.Data, 1, in.previewScale)
		if err != nil {
			return nil, fmt.Errorf("failed to render first page: %w", err)
		}
		if thumb, err = transform.Encode(img, transform.FormatPNG, 0); err != nil {
			return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
		}
		thumbType = transform.FormatPNG.MimeType()
	case strings.HasPrefix(info.MimeType, "image/"):
		a.Kind = models.KindImage
	default:
		a.Kind = models.KindHTML
	}

	a.OriginalPreview = reg.Allocate(thumb, thumbType)
	if a.OriginalPreview.IsZero() {
		return nil, fmt.Errorf("preview registry is disposed")
	}
	return a, nil
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// NewID derives a session-local id from the filename, a timestamp and a
// random suffix, so duplicate filenames never collide.
func NewID(name string, at time.Time) string {
	base := name
	if i := strings.LastIndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	base = strings.Trim(unsafeChars.ReplaceAllString(base, "-"), "-")
	if len(base) > 40 {
		base = base[:40]
	}
	if base == "" {
		base = "file"
	}
	return fmt.Sprintf("%s-%d-%s", strings.ToLower(base), at.UnixNano(), uuid.NewString()[:8])
}

// ReadMultipart reads uploaded parts, stopping each at limit+1 bytes so an
// oversized file is reported by its declared size without being buffered.
func ReadMultipart(headers []*multipart.FileHeader, limit int64) ([]validator.File, error) {
	files := make([]validator.File, 0, len(headers))
	for _, h := range headers {
		f, err := h.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open file %s: %w", h.Filename, err)
		}
		var r io.Reader = f
		if limit > 0 {
			r = io.LimitReader(f, limit+1)
		}
		data, err := io.ReadAll(r)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read file %s: %w", h.Filename, err)
		}
		files = append(files, validator.File{Name: h.Filename, Size: h.Size, Data: data})
	}
	return files, nil
}
