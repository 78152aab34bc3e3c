// Package pdfops implements the page-level PDF operations: merge, organize and
// crop, plus the metadata and preview helpers the intake path needs.
// Pages are copied, never re-rendered.
package pdfops

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

var (
	ErrNoInput    = errors.New("no pdf input")
	ErrPageRange  = errors.New("page out of range")
	ErrBadRequest = errors.New("invalid page operation")
)

func newConfig() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// Merge concatenates every page of srcs, in order, into one document.
func Merge(srcs ...[]byte) ([]byte, error) {
	if len(srcs) == 0 {
		return nil, ErrNoInput
	}
	readers := make([]io.ReadSeeker, len(srcs))
	for i, src := range srcs {
		readers[i] = bytes.NewReader(src)
	}

	var out bytes.Buffer
	if err := api.MergeRaw(readers, &out, false, newConfig()); err != nil {
		return nil, fmt.Errorf("failed to merge pdfs: %w", err)
	}
	return out.Bytes(), nil
}

// PageSpec places source page Source (1-based) at its position in a plan and
// turns it by Delta degrees clockwise on top of its existing rotation.
type PageSpec struct {
	Source int `json:"source"`
	Delta  int `json:"delta"`
}

// IdentityPlan keeps every page where it is.
func IdentityPlan(pages int) []PageSpec {
	plan := make([]PageSpec, pages)
	for i := range plan {
		plan[i] = PageSpec{Source: i + 1}
	}
	return plan
}

func normalizeDelta(d int) int {
	d %= 360
	if d < 0 {
		d += 360
	}
	return d
}

// Organize copies pages into the order given by plan and applies each page's
// rotation delta, so the final rotation is existing plus delta mod 360.
func Organize(src []byte, plan []PageSpec) ([]byte, error) {
	if len(plan) == 0 {
		return nil, fmt.Errorf("%w: empty page plan", ErrBadRequest)
	}
	count, err := PageCount(src)
	if err != nil {
		return nil, err
	}

	selected := make([]string, len(plan))
	byDelta := make(map[int][]string)
	for i, spec := range plan {
		if spec.Source < 1 || spec.Source > count {
			return nil, fmt.Errorf("%w: page %d of %d", ErrPageRange, spec.Source, count)
		}
		if spec.Delta%90 != 0 {
			return nil, fmt.Errorf("%w: rotation %d is not a multiple of 90", ErrBadRequest, spec.Delta)
		}
		selected[i] = strconv.Itoa(spec.Source)
		if d := normalizeDelta(spec.Delta); d != 0 {
			byDelta[d] = append(byDelta[d], strconv.Itoa(i+1))
		}
	}

	conf := newConfig()
	var buf bytes.Buffer
	if err := api.Collect(bytes.NewReader(src), &buf, selected, conf); err != nil {
		return nil, fmt.Errorf("failed to reorder pages: %w", err)
	}
	out := buf.Bytes()

	deltas := make([]int, 0, len(byDelta))
	for d := range byDelta {
		deltas = append(deltas, d)
	}
	sort.Ints(deltas)
	for _, d := range deltas {
		var next bytes.Buffer
		if err := api.Rotate(bytes.NewReader(out), &next, d, byDelta[d], conf); err != nil {
			return nil, fmt.Errorf("failed to rotate pages: %w", err)
		}
		out = next.Bytes()
	}
	return out, nil
}

// Rect is a crop rectangle in the pixel space of a page preview.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Box is a rectangle in PDF user space, origin bottom-left.
type Box struct {
	LLX, LLY, URX, URY float64
}

// ToUserSpace maps a preview rectangle rendered at scale onto a page of height
// pageHeight points, flipping the vertical axis.
func (r Rect) ToUserSpace(scale, pageHeight float64) Box {
	return Box{
		LLX: r.X / scale,
		LLY: pageHeight - (r.Y+r.Height)/scale,
		URX: (r.X + r.Width) / scale,
		URY: pageHeight - r.Y/scale,
	}
}

func (b Box) String() string {
	return fmt.Sprintf("[%.2f %.2f %.2f %.2f]", b.LLX, b.LLY, b.URX, b.URY)
}

// CropParams select the preview rectangle and the pages it applies to.
// Page is 1-based and ignored when AllPages is set.
type CropParams struct {
	Rect     Rect    `json:"rect"`
	Scale    float64 `json:"scale"`
	AllPages bool    `json:"allPages"`
	Page     int     `json:"page"`
}

// Crop sets the crop box of the selected pages to the mapped rectangle.
func Crop(src []byte, p CropParams) ([]byte, error) {
	if p.Rect.Width <= 0 || p.Rect.Height <= 0 {
		return nil, fmt.Errorf("%w: empty crop rectangle", ErrBadRequest)
	}
	if p.Scale <= 0 {
		return nil, fmt.Errorf("%w: preview scale must be positive", ErrBadRequest)
	}
	dims, err := PageDims(src)
	if err != nil {
		return nil, err
	}

	pages := []int{p.Page}
	if p.AllPages {
		pages = make([]int, len(dims))
		for i := range pages {
			pages[i] = i + 1
		}
	} else if p.Page < 1 || p.Page > len(dims) {
		return nil, fmt.Errorf("%w: page %d of %d", ErrPageRange, p.Page, len(dims))
	}

	// pages of equal height share one box
	groups := make(map[float64][]string)
	var heights []float64
	for _, n := range pages {
		h := dims[n-1].Height
		if _, ok := groups[h]; !ok {
			heights = append(heights, h)
		}
		groups[h] = append(groups[h], strconv.Itoa(n))
	}

	conf := newConfig()
	out := src
	for _, h := range heights {
		box, err := model.ParseBox(p.Rect.ToUserSpace(p.Scale, h).String(), types.POINTS)
		if err != nil {
			return nil, fmt.Errorf("failed to build crop box: %w", err)
		}
		var next bytes.Buffer
		if err := api.Crop(bytes.NewReader(out), &next, groups[h], box, conf); err != nil {
			return nil, fmt.Errorf("failed to crop pages: %w", err)
		}
		out = next.Bytes()
	}
	return out, nil
}

// PageCount returns the number of pages in src.
func PageCount(src []byte) (int, error) {
	n, err := api.PageCount(bytes.NewReader(src), newConfig())
	if err != nil {
		return 0, fmt.Errorf("failed to count pages: %w", err)
	}
	return n, nil
}

// Dim is a page size in points.
type Dim struct {
	Width, Height float64
}

// PageDims returns the media box size of every page.
func PageDims(src []byte) ([]Dim, error) {
	dims, err := api.PageDims(bytes.NewReader(src), newConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to read page dimensions: %w", err)
	}
	out := make([]Dim, len(dims))
	for i, d := range dims {
		out[i] = Dim{Width: d.Width, Height: d.Height}
	}
	return out, nil
}

// PageRotations returns the effective /Rotate of every page, normalized to 0-359.
func PageRotations(src []byte) ([]int, error) {
	ctx, err := api.ReadContext(bytes.NewReader(src), newConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to read pdf: %w", err)
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return nil, fmt.Errorf("failed to count pages: %w", err)
	}

	rotations := make([]int, ctx.PageCount)
	for i := range rotations {
		d, _, inh, err := ctx.PageDict(i+1, false)
		if err != nil {
			return nil, fmt.Errorf("failed to read page %d: %w", i+1, err)
		}
		rot := 0
		if inh != nil {
			rot = inh.Rotate
		}
		if r := d.IntEntry("Rotate"); r != nil {
			rot = *r
		}
		rotations[i] = normalizeDelta(rot)
	}
	return rotations, nil
}
