package transform

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// CaptureOptions control one HTML capture.
type CaptureOptions struct {
	Width       int
	SettleDelay time.Duration
	FontSize    float64
	Padding     int
}

func (o CaptureOptions) withDefaults() CaptureOptions {
	if o.Width <= 0 {
		o.Width = 1024
	}
	if o.FontSize <= 0 {
		o.FontSize = 16
	}
	if o.Padding <= 0 {
		o.Padding = 24
	}
	return o
}

// Capturer turns an HTML document into an image. Implementations own one
// exclusive surface, so concurrent captures queue behind each other.
type Capturer interface {
	Capture(ctx context.Context, source string, opts CaptureOptions) (*image.NRGBA, error)
	// Busy reports whether a capture currently holds the surface.
	Busy() bool
}

var _ Capturer = (*HTMLRenderer)(nil)

// settle waits d unless ctx ends first.
func settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type block struct {
	text   string
	size   float64
	bullet bool
}

// HTMLRenderer owns a single render surface. Captures are serialized: each one
// holds the surface for the settle delay and the render, then releases it.
type HTMLRenderer struct {
	mu      sync.Mutex
	surface *image.NRGBA
}

func NewHTMLRenderer() *HTMLRenderer {
	return &HTMLRenderer{}
}

// Busy reports whether a capture currently holds the surface.
func (r *HTMLRenderer) Busy() bool {
	if !r.mu.TryLock() {
		return true
	}
	r.mu.Unlock()
	return false
}

// Capture renders source as a page of text blocks and returns the image.
func (r *HTMLRenderer) Capture(ctx context.Context, source string, opts CaptureOptions) (*image.NRGBA, error) {
	opts = opts.withDefaults()
	doc, err := html.Parse(strings.NewReader(source))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	blocks := collectBlocks(doc, opts.FontSize)

	r.mu.Lock()
	defer r.mu.Unlock()
	defer func() { r.surface = nil }()

	if err := settle(ctx, opts.SettleDelay); err != nil {
		return nil, err
	}

	lines, height, err := layoutBlocks(blocks, opts)
	if err != nil {
		return nil, err
	}
	r.surface = imaging.New(opts.Width, height, color.White)
	if err := drawLines(r.surface, lines); err != nil {
		return nil, err
	}
	return imaging.Clone(r.surface), nil
}

// containers start and end a run of inline text without drawing anything
// themselves.
var containers = map[atom.Atom]bool{
	atom.Html: true, atom.Body: true, atom.Div: true, atom.Section: true,
	atom.Main: true, atom.Article: true, atom.Header: true, atom.Footer: true,
	atom.Nav: true, atom.Aside: true, atom.Ul: true, atom.Ol: true,
	atom.Dl: true, atom.Dt: true, atom.Dd: true, atom.Table: true,
	atom.Thead: true, atom.Tbody: true, atom.Tfoot: true, atom.Tr: true,
	atom.Form: true, atom.Fieldset: true, atom.Figure: true, atom.Figcaption: true,
	atom.Address: true, atom.Details: true, atom.Summary: true, atom.Hr: true,
	atom.Center: true,
}

// leafBlock reports the text size of elements drawn as one block.
func leafBlock(a atom.Atom, base float64) (size float64, bullet, ok bool) {
	switch a {
	case atom.H1:
		return base * 2, false, true
	case atom.H2:
		return base * 1.5, false, true
	case atom.H3, atom.H4, atom.H5, atom.H6:
		return base * 1.25, false, true
	case atom.P, atom.Pre, atom.Blockquote, atom.Td, atom.Th, atom.Caption:
		return base, false, true
	case atom.Li:
		return base, true, true
	}
	return 0, false, false
}

// collectBlocks flattens the document into drawable blocks. Text outside a
// leaf block is gathered into one run per nearest container, so inline
// markup such as span or a joins the surrounding text.
func collectBlocks(n *html.Node, base float64) []block {
	var blocks []block
	var run strings.Builder
	flush := func() {
		if t := strings.Join(strings.Fields(run.String()), " "); t != "" {
			blocks = append(blocks, block{text: t, size: base})
		}
		run.Reset()
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			run.WriteString(n.Data)
			return
		case html.CommentNode, html.DoctypeNode:
			return
		case html.ElementNode:
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Head, atom.Template, atom.Noscript:
				return
			case atom.Br:
				run.WriteString(" ")
				return
			}
			if size, bullet, ok := leafBlock(n.DataAtom, base); ok {
				flush()
				blocks = append(blocks, block{text: extractText(n), size: size, bullet: bullet})
				return
			}
			if containers[n.DataAtom] {
				flush()
				defer flush()
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	flush()
	return blocks
}

func extractText(n *html.Node) string {
	var sb strings.Builder
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Br {
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}

type line struct {
	text string
	size float64
	x, y int
}

// layoutBlocks word-wraps every block to the content width.
func layoutBlocks(blocks []block, opts CaptureOptions) ([]line, int, error) {
	contentW := opts.Width - 2*opts.Padding
	if contentW <= 0 {
		return nil, 0, fmt.Errorf("%w: width %d leaves no room for content", ErrInvalidParams, opts.Width)
	}

	var lines []line
	y := opts.Padding
	for _, b := range blocks {
		if b.text == "" {
			continue
		}
		face, err := newFace(b.size)
		if err != nil {
			return nil, 0, err
		}
		lineH := int(b.size * 1.4)
		x := opts.Padding
		text := b.text
		if b.bullet {
			text = "• " + text
		}
		for _, l := range wrap(face, text, contentW) {
			y += lineH
			lines = append(lines, line{text: l, size: b.size, x: x, y: y})
		}
		face.Close()
		y += int(b.size * 0.6)
	}
	return lines, y + opts.Padding, nil
}

func wrap(face font.Face, text string, width int) []string {
	words := strings.Fields(text)
	var out []string
	cur := ""
	for _, w := range words {
		next := w
		if cur != "" {
			next = cur + " " + w
		}
		if cur != "" && font.MeasureString(face, next).Ceil() > width {
			out = append(out, cur)
			cur = w
			continue
		}
		cur = next
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}

func drawLines(dst *image.NRGBA, lines []line) error {
	for _, l := range lines {
		face, err := newFace(l.size)
		if err != nil {
			return err
		}
		d := &font.Drawer{
			Dst:  dst,
			Src:  image.Black,
			Face: face,
			Dot:  fixed.P(l.x, l.y),
		}
		d.DrawString(l.text)
		face.Close()
	}
	return nil
}
