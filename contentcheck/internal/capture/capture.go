// Package capture defines what contentcheck needs from a browser: open a
// page, navigate, grab an element screenshot, an element's text, and a
// full-page fallback image.
package capture

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Browser opens pages.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
}

// Page is one open tab.
type Page interface {
	// Navigate loads url and waits for the load event, bounded by timeout.
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	// ElementImage screenshots the first element matching selector. The
	// lookup is attempted up to attempts times before failing.
	ElementImage(ctx context.Context, selector string, attempts int) ([]byte, error)
	// Text returns the textContent of the first element matching selector.
	Text(ctx context.Context, selector string) (string, error)
	// FullPage screenshots the whole scrollable page.
	FullPage(ctx context.Context) ([]byte, error)
	Close() error
}

// ErrNotFound is wrapped by adapters when a selector matches nothing.
var ErrNotFound = errors.New("capture: selector matched no element")

// Stage names the capture step that failed.
type Stage string

const (
	StageNavigate   Stage = "navigate"
	StageScreenshot Stage = "screenshot"
	StageContent    Stage = "content"
)

// Error is a failed capture. Every stage goes through the same recovery
// path, so callers only need errors.As(err, &*capture.Error).
type Error struct {
	Stage    Stage
	Selector string
	Err      error
}

func (e *Error) Error() string {
	if e.Selector == "" {
		return fmt.Sprintf("capture: %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("capture: %s %q: %v", e.Stage, e.Selector, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a deadline.
func (e *Error) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// Message is the operator-facing explanation, pointing at the diagnostic
// full-page screenshot when fallbackURL is non-empty.
func (e *Error) Message(fallbackURL string) string {
	var msg string
	switch e.Stage {
	case StageScreenshot:
		msg = "Cannot get screenshot (screenshot selector is probably wrong)."
	case StageContent:
		msg = "Cannot get content (content selector is probably wrong)."
	default:
		msg = "Cannot load the page (navigation failed or timed out)."
	}
	if fallbackURL == "" {
		return msg
	}
	return msg + "\n Made screenshot of the full page instead: \n " + fallbackURL
}
