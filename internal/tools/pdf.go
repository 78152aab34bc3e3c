package tools

import (
	"context"
	"fmt"

	"github.com/feichai0017/media-toolkit/internal/models"
	"github.com/feichai0017/media-toolkit/internal/pdfops"
)

const pdfMimeType = "application/pdf"

type pdfFunc func(src []byte, a *models.Artifact, s Settings) ([]byte, error)

// pdfTool rewrites one document through pdfcpu; pages are copied, never re-rendered.
type pdfTool struct {
	spec  Spec
	apply pdfFunc
}

func (t *pdfTool) Spec() Spec { return t.spec }

func (t *pdfTool) Process(ctx context.Context, a *models.Artifact, s Settings) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := t.apply(a.Data, a, s)
	if err != nil {
		return nil, err
	}
	return &Output{Data: data, MimeType: pdfMimeType, Ext: "pdf"}, nil
}

func applyOrganize(src []byte, a *models.Artifact, _ Settings) ([]byte, error) {
	plan := a.State.Pages
	if len(plan) == 0 {
		plan = pdfops.IdentityPlan(a.PageCount)
	}
	out, err := pdfops.Organize(src, plan)
	if err != nil {
		return nil, fmt.Errorf("failed to organize pages: %w", err)
	}
	return out, nil
}

func applyPDFCrop(src []byte, a *models.Artifact, s Settings) ([]byte, error) {
	p := s.PDFCrop
	if a.State.PDFCrop != nil {
		p = *a.State.PDFCrop
	}
	out, err := pdfops.Crop(src, p)
	if err != nil {
		return nil, fmt.Errorf("failed to crop pages: %w", err)
	}
	return out, nil
}

// mergeTool concatenates every document of the session in list order.
type mergeTool struct {
	spec Spec
}

func (t *mergeTool) Spec() Spec { return t.spec }

func (t *mergeTool) Process(context.Context, *models.Artifact, Settings) (*Output, error) {
	return nil, fmt.Errorf("%w: %s", ErrCombineOnly, t.spec.Name)
}

func (t *mergeTool) CombineAll(ctx context.Context, artifacts []*models.Artifact, _ Settings) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	srcs := make([][]byte, len(artifacts))
	for i, a := range artifacts {
		srcs[i] = a.Data
	}
	data, err := pdfops.Merge(srcs...)
	if err != nil {
		return nil, fmt.Errorf("failed to merge documents: %w", err)
	}
	return &Output{Data: data, MimeType: pdfMimeType, Ext: "pdf"}, nil
}
