package transform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/playwright-community/playwright-go"
)

// ErrBrowserClosed is returned by captures after Close.
var ErrBrowserClosed = errors.New("browser capturer is closed")

// BrowserOptions configure the headless browser behind BrowserCapturer.
type BrowserOptions struct {
	// Install downloads the chromium build on start.
	Install bool
	// Viewport height before the full-page screenshot grows it.
	Height int
}

// BrowserCapturer renders HTML in headless chromium. It holds a single page;
// every capture loads its document into that page, waits for the settle
// delay and takes a full-page screenshot before the next one may start.
type BrowserCapturer struct {
	mu      sync.Mutex
	height  int
	pw      *playwright.Playwright
	browser playwright.Browser
	page    playwright.Page
}

var _ Capturer = (*BrowserCapturer)(nil)

func NewBrowserCapturer(opts BrowserOptions) (*BrowserCapturer, error) {
	if opts.Install {
		if err := playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}}); err != nil {
			return nil, fmt.Errorf("failed to install chromium: %w", err)
		}
	}
	if opts.Height <= 0 {
		opts.Height = 768
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}
	br, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
		Args:     []string{`--no-default-browser-check`},
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to launch chromium: %w", err)
	}
	page, err := br.NewPage()
	if err != nil {
		_ = br.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	return &BrowserCapturer{height: opts.Height, pw: pw, browser: br, page: page}, nil
}

func (b *BrowserCapturer) Busy() bool {
	if !b.mu.TryLock() {
		return true
	}
	b.mu.Unlock()
	return false
}

// Capture loads source into the page and screenshots it at opts.Width.
func (b *BrowserCapturer) Capture(ctx context.Context, source string, opts CaptureOptions) (*image.NRGBA, error) {
	opts = opts.withDefaults()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.page == nil {
		return nil, ErrBrowserClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := b.page.SetViewportSize(opts.Width, b.height); err != nil {
		return nil, fmt.Errorf("failed to size page: %w", err)
	}
	if err := b.page.SetContent(source, playwright.PageSetContentOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if err := settle(ctx, opts.SettleDelay); err != nil {
		return nil, err
	}

	shot, err := b.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(true),
		Type:     playwright.ScreenshotTypePng,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to capture page: %w", err)
	}
	img, err := imaging.Decode(bytes.NewReader(shot))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return imaging.Clone(img), nil
}

// Close shuts the page, the browser and the driver. Later captures fail.
func (b *BrowserCapturer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.page == nil {
		return nil
	}
	errs := []error{b.page.Close(), b.browser.Close(), b.pw.Stop()}
	b.page, b.browser, b.pw = nil, nil, nil
	return errors.Join(errs...)
}
