package models

import (
	"time"

	"github.com/feichai0017/media-toolkit/internal/pdfops"
	"github.com/feichai0017/media-toolkit/internal/preview"
	"github.com/feichai0017/media-toolkit/internal/transform"
)

// ArtifactKind 文件类型
type ArtifactKind string

const (
	KindImage ArtifactKind = "image"
	KindPDF   ArtifactKind = "pdf"
	KindHTML  ArtifactKind = "html"
)

// Artifact is one uploaded file in a session plus its processed output.
type Artifact struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	MimeType string       `json:"mimeType"`
	Kind     ArtifactKind `json:"kind"`
	Data     []byte       `json:"-"`
	Hash     string       `json:"hash"`

	// OriginalPreview is fixed for the artifact's lifetime.
	OriginalPreview preview.Ref `json:"originalPreview"`
	OriginalSize    int64       `json:"originalSize"`
	Width           int         `json:"width,omitempty"`
	Height          int         `json:"height,omitempty"`
	PageCount       int         `json:"pageCount,omitempty"`
	Title           string      `json:"title,omitempty"`

	Derived    *Derived      `json:"derived,omitempty"`
	Processing bool          `json:"processing"`
	Processed  bool          `json:"processed"`
	Error      string        `json:"error,omitempty"`
	State      ArtifactState `json:"state"`
	CreatedAt  time.Time     `json:"createdAt"`
}

// Derived is the output of the last successful processing run.
type Derived struct {
	Data     []byte      `json:"-"`
	MimeType string      `json:"mimeType"`
	Filename string      `json:"filename"`
	Preview  preview.Ref `json:"preview"`
	Size     int64       `json:"size"`
	Width    int         `json:"width,omitempty"`
	Height   int         `json:"height,omitempty"`
}

// ArtifactState holds per-artifact overrides of the session settings.
type ArtifactState struct {
	Crop       *transform.CropParams   `json:"crop,omitempty"`
	Rotate     *transform.RotateParams `json:"rotate,omitempty"`
	LockAspect *bool                   `json:"lockAspect,omitempty"`
	Pages      []pdfops.PageSpec       `json:"pages,omitempty"`
	PDFCrop    *pdfops.CropParams      `json:"pdfCrop,omitempty"`
}

// Clone copies the artifact for read-only use outside the session lock.
// Byte slices are shared; they are never mutated in place.
func (a *Artifact) Clone() *Artifact {
	cp := *a
	if a.Derived != nil {
		d := *a.Derived
		cp.Derived = &d
	}
	cp.State.Pages = append([]pdfops.PageSpec(nil), a.State.Pages...)
	return &cp
}
