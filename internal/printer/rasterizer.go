package printer

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"runtime"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// Rasterizer turns an HTML document into a PNG exactly width pixels wide.
type Rasterizer interface {
	Rasterize(ctx context.Context, html string, width int) ([]byte, error)
}

// ChromeRasterizer renders through a headless Chrome. One browser is started
// lazily and reused; each document gets its own tab.
type ChromeRasterizer struct {
	execPath string

	mu          sync.Mutex
	allocCtx    context.Context
	allocCancel context.CancelFunc
	browserCtx  context.Context
	cancel      context.CancelFunc
}

// NewChromeRasterizer uses the Chrome found on PATH, or execPath when given.
func NewChromeRasterizer(execPath string) *ChromeRasterizer {
	return &ChromeRasterizer{execPath: execPath}
}

func (r *ChromeRasterizer) start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browserCtx != nil {
		return nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	execPath := r.execPath
	if execPath == "" && runtime.GOOS == "darwin" {
		execPath = "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"
	}
	if execPath != "" {
		opts = append(opts, chromedp.ExecPath(execPath))
	}

	r.allocCtx, r.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	r.browserCtx, r.cancel = chromedp.NewContext(r.allocCtx)
	if err := chromedp.Run(r.browserCtx); err != nil {
		r.shutdown()
		return fmt.Errorf("failed to start chrome: %w", err)
	}
	return nil
}

func (r *ChromeRasterizer) Rasterize(ctx context.Context, html string, width int) ([]byte, error) {
	if err := r.start(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	browserCtx := r.browserCtx
	r.mu.Unlock()
	tabCtx, cancel := chromedp.NewContext(browserCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var height float64
	var png []byte
	err := chromedp.Run(tabCtx,
		chromedp.EmulateViewport(int64(width), 1),
		chromedp.Navigate("data:text/html,"+urlEncode(html)),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(`document.documentElement.scrollHeight`, &height),
		chromedp.ActionFunc(func(ctx context.Context) error {
			h := int64(math.Ceil(height))
			if h < 1 {
				h = 1
			}
			if err := emulation.SetDeviceMetricsOverride(int64(width), h, 1, false).Do(ctx); err != nil {
				return err
			}
			buf, err := page.CaptureScreenshot().
				WithFormat(page.CaptureScreenshotFormatPng).
				WithCaptureBeyondViewport(true).
				Do(ctx)
			if err != nil {
				return err
			}
			png = buf
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to rasterize document: %w", err)
	}
	return png, nil
}

func (r *ChromeRasterizer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shutdown()
}

func (r *ChromeRasterizer) shutdown() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.allocCancel != nil {
		r.allocCancel()
	}
	r.browserCtx, r.cancel, r.allocCtx, r.allocCancel = nil, nil, nil, nil
}

func urlEncode(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
