package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/contentcheck/contentcheck/internal/capture"
)

// Tab wraps a Rod page. It satisfies capture.Page.
type Tab struct {
	Page *rod.Page
	cfg  Config
}

var _ capture.Page = (*Tab)(nil)

func openTab(b *rod.Browser, cfg Config) (*Tab, error) {
	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	err = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             cfg.Width,
		Height:            cfg.Height,
		DeviceScaleFactor: 1,
	})
	if err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: set viewport: %w", err)
	}
	return &Tab{Page: page, cfg: cfg}, nil
}

// Navigate loads pageURL and waits for the load event within timeout.
func (t *Tab) Navigate(ctx context.Context, pageURL string, timeout time.Duration) error {
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := t.Page.Context(navCtx).Navigate(pageURL); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := t.Page.Context(navCtx).WaitLoad(); err != nil {
		return fmt.Errorf("browser: wait load %s: %w", pageURL, err)
	}
	return nil
}

// ElementImage screenshots the first match of selector as PNG.
func (t *Tab) ElementImage(ctx context.Context, selector string, attempts int) ([]byte, error) {
	el, err := t.find(ctx, selector, attempts)
	if err != nil {
		return nil, err
	}
	if err := el.ScrollIntoView(); err != nil {
		return nil, fmt.Errorf("browser: scroll %s: %w", selector, err)
	}
	img, err := el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
	if err != nil {
		return nil, fmt.Errorf("browser: screenshot %s: %w", selector, err)
	}
	return img, nil
}

// Text returns the DOM textContent of the first match of selector, verbatim.
func (t *Tab) Text(ctx context.Context, selector string) (string, error) {
	el, err := t.find(ctx, selector, 1)
	if err != nil {
		return "", err
	}
	res, err := el.Eval(`() => this.textContent`)
	if err != nil {
		return "", fmt.Errorf("browser: text %s: %w", selector, err)
	}
	return res.Value.Str(), nil
}

// FullPage screenshots the whole scrollable page as PNG.
func (t *Tab) FullPage(ctx context.Context) ([]byte, error) {
	img, err := t.Page.Context(ctx).Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("browser: full page screenshot: %w", err)
	}
	return img, nil
}

// Close closes the tab.
func (t *Tab) Close() error {
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}

func (t *Tab) find(ctx context.Context, selector string, attempts int) (*rod.Element, error) {
	if attempts < 1 {
		attempts = 1
	}
	for i := range attempts {
		has, el, err := t.Page.Context(ctx).Has(selector)
		if err != nil {
			return nil, fmt.Errorf("browser: query %s: %w", selector, err)
		}
		if has {
			return el.Context(ctx), nil
		}
		if i < attempts-1 {
			if err := sleepCtx(ctx, t.cfg.LookupPause); err != nil {
				return nil, err
			}
		}
	}
	t.cfg.Logger.Debug("browser: selector not found", "selector", selector, "attempts", attempts)
	return nil, fmt.Errorf("%w: %s", capture.ErrNotFound, selector)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
