// Package tools binds each toolkit tool to its transform and its intake and
// packaging rules.
package tools

import (
	"context"
	"errors"

	"github.com/feichai0017/media-toolkit/internal/models"
	"github.com/feichai0017/media-toolkit/internal/pdfops"
	"github.com/feichai0017/media-toolkit/internal/transform"
)

// Name identifies a tool.
type Name string

const (
	Compress    Name = "compress"
	Resize      Name = "resize"
	Crop        Name = "crop"
	Convert     Name = "convert"
	Rotate      Name = "rotate"
	Watermark   Name = "watermark"
	Editor      Name = "editor"
	HTMLToImage Name = "html-to-image"
	PDFMerge    Name = "pdf-merge"
	PDFOrganize Name = "pdf-organize"
	PDFCrop     Name = "pdf-crop"
)

var (
	ErrUnknownTool = errors.New("unknown tool")
	// ErrCombineOnly is returned by tools whose output spans the whole list.
	ErrCombineOnly = errors.New("tool only processes the whole list")
)

// Spec is what a session needs to know about a tool besides running it.
type Spec struct {
	Name   Name     `json:"name"`
	Accept []string `json:"accept"`
	// Suffix is appended to the original basename of each output.
	Suffix string `json:"suffix"`
	// Sequential tools share one rendering surface and must not run in parallel.
	Sequential bool `json:"sequential"`
	// Combine tools produce one output from every artifact in list order.
	Combine bool `json:"combine"`
}

// Output is one encoded result.
type Output struct {
	Data     []byte
	MimeType string
	Ext      string
	Width    int
	Height   int
}

// Tool runs one transform over a single artifact.
type Tool interface {
	Spec() Spec
	Process(ctx context.Context, a *models.Artifact, s Settings) (*Output, error)
}

// Combiner is implemented by tools whose Spec sets Combine.
type Combiner interface {
	CombineAll(ctx context.Context, artifacts []*models.Artifact, s Settings) (*Output, error)
}

// Settings are shared by every artifact of a session. Each tool reads only the
// fields that concern it.
type Settings struct {
	// Quality is 0-100 and only affects lossy output formats.
	Quality int `json:"quality"`
	// Format is the output format; empty keeps the source format.
	Format      string                 `json:"format,omitempty"`
	Resize      transform.ResizeParams `json:"resize"`
	CropAspect  float64                `json:"cropAspect,omitempty"`
	Rotate      transform.RotateParams `json:"rotate"`
	Watermark   transform.Watermark    `json:"watermark"`
	Adjustments transform.Adjustments  `json:"adjustments"`
	Objects     []transform.Object     `json:"objects,omitempty"`
	HTMLWidth   int                    `json:"htmlWidth,omitempty"`
	PDFCrop     pdfops.CropParams      `json:"pdfCrop"`
	// OutputName names the combined output of merge tools.
	OutputName string `json:"outputName,omitempty"`
}

func DefaultSettings() Settings {
	return Settings{
		Quality: 80,
		Resize: transform.ResizeParams{
			Mode:       transform.ResizePixels,
			Percentage: 100,
			LockAspect: true,
			LastEdited: transform.EdgeWidth,
		},
		Watermark: transform.Watermark{
			FontSize: 48,
			Color:    "#000000",
			Opacity:  50,
			Position: transform.Center,
		},
		Adjustments: transform.DefaultAdjustments(),
		PDFCrop: pdfops.CropParams{
			Scale:    2,
			AllPages: true,
		},
		OutputName: "merged",
	}
}

// Clone returns a copy that shares no slices with s.
func (s Settings) Clone() Settings {
	cp := s
	cp.Objects = append([]transform.Object(nil), s.Objects...)
	return cp
}
