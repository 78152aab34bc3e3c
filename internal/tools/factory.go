package tools

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/feichai0017/media-toolkit/internal/transform"
	"github.com/feichai0017/media-toolkit/pkg/logger"
)

var (
	imageTypes = []string{"image/jpeg", "image/png", "image/gif", "image/bmp", "image/tiff", "image/webp"}
	pdfTypes   = []string{"application/pdf"}
	htmlTypes  = []string{"text/html"}
)

// FactoryConfig carries the rendering defaults from the application config.
type FactoryConfig struct {
	HTMLWidth       int
	HTMLSettleDelay time.Duration
}

type Factory struct {
	tools  map[Name]Tool
	logger logger.Logger
}

// NewFactory registers every tool. All HTML captures share renderer.
func NewFactory(cfg FactoryConfig, renderer transform.Capturer, log logger.Logger) *Factory {
	f := &Factory{
		tools:  make(map[Name]Tool),
		logger: log.Named("tools"),
	}

	f.register(&imageTool{spec: Spec{Name: Compress, Accept: imageTypes, Suffix: "_compressed"}, apply: applyCompress})
	f.register(&imageTool{spec: Spec{Name: Resize, Accept: imageTypes, Suffix: "_resized"}, apply: applyResize})
	f.register(&imageTool{spec: Spec{Name: Crop, Accept: imageTypes, Suffix: "_cropped"}, apply: applyCrop})
	f.register(&imageTool{spec: Spec{Name: Convert, Accept: imageTypes, Suffix: "_converted"}, apply: applyConvert, requireFormat: true})
	f.register(&imageTool{spec: Spec{Name: Rotate, Accept: imageTypes, Suffix: "_rotated"}, apply: applyRotate})
	f.register(&imageTool{spec: Spec{Name: Watermark, Accept: imageTypes, Suffix: "_watermarked"}, apply: applyWatermark})
	f.register(&imageTool{spec: Spec{Name: Editor, Accept: imageTypes, Suffix: "_edited"}, apply: applyEditor})

	f.register(&htmlTool{
		spec:     Spec{Name: HTMLToImage, Accept: htmlTypes, Suffix: "", Sequential: true},
		renderer: renderer,
		width:    cfg.HTMLWidth,
		settle:   cfg.HTMLSettleDelay,
	})

	f.register(&mergeTool{spec: Spec{Name: PDFMerge, Accept: pdfTypes, Combine: true}})
	f.register(&pdfTool{spec: Spec{Name: PDFOrganize, Accept: pdfTypes, Suffix: "_organized"}, apply: applyOrganize})
	f.register(&pdfTool{spec: Spec{Name: PDFCrop, Accept: pdfTypes, Suffix: "_cropped"}, apply: applyPDFCrop})

	return f
}

func (f *Factory) register(t Tool) {
	f.tools[t.Spec().Name] = t
}

// Get returns the tool registered under name.
func (f *Factory) Get(name string) (Tool, error) {
	t, ok := f.tools[Name(strings.ToLower(strings.TrimSpace(name)))]
	if !ok {
		f.logger.Debug("Unknown tool requested", logger.String("tool", name))
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return t, nil
}

// Specs lists every registered tool, sorted by name.
func (f *Factory) Specs() []Spec {
	specs := make([]Spec, 0, len(f.tools))
	for _, t := range f.tools {
		specs = append(specs, t.Spec())
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}
