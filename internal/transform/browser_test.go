package transform

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Needs a chromium build; set TOOLKIT_BROWSER_TESTS=1 where one is installed.
func newTestBrowser(t *testing.T) *BrowserCapturer {
	t.Helper()
	if os.Getenv("TOOLKIT_BROWSER_TESTS") == "" {
		t.Skip("TOOLKIT_BROWSER_TESTS not set")
	}
	b, err := NewBrowserCapturer(BrowserOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBrowserCapture(t *testing.T) {
	b := newTestBrowser(t)
	img, err := b.Capture(context.Background(), `<div style="font-size:32px"><span>Hello</span> <b>world</b></div>`, CaptureOptions{Width: 400})
	require.NoError(t, err)
	assert.Equal(t, 400, img.Bounds().Dx())
	assert.Positive(t, darkPixels(img))
	assert.False(t, b.Busy())
}

func TestBrowserCaptureAfterClose(t *testing.T) {
	b := newTestBrowser(t)
	require.NoError(t, b.Close())
	_, err := b.Capture(context.Background(), "<p>x</p>", CaptureOptions{})
	assert.ErrorIs(t, err, ErrBrowserClosed)
	assert.NoError(t, b.Close())
}

func TestClosedBrowserCapturerRefuses(t *testing.T) {
	var b BrowserCapturer
	_, err := b.Capture(context.Background(), "<p>x</p>", CaptureOptions{})
	assert.ErrorIs(t, err, ErrBrowserClosed)
	assert.NoError(t, b.Close())
	assert.False(t, b.Busy())
}
