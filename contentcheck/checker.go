// CLAUDE:SUMMARY Run orchestrator: capture a page region, classify against the watch store, rotate state, notify on change.
// Package contentcheck watches one region of a web page. Each Run captures
// the region's text and screenshot, compares the text with the previous
// run, persists the two most recent observations, and notifies recipients
// when the text changed.
//
// State lives in a named key-value store per watch. Records are addressable
// through the HTTP API returned by NewRecordHandler, and the locators Run
// logs point there.
package contentcheck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/contentcheck/contentcheck/internal/capture"
	"github.com/hazyhaar/contentcheck/contentcheck/internal/compose"
	"github.com/hazyhaar/contentcheck/contentcheck/internal/detect"
	"github.com/hazyhaar/contentcheck/contentcheck/internal/kvstore"
	"github.com/hazyhaar/contentcheck/contentcheck/internal/notify"
	"github.com/hazyhaar/contentcheck/idgen"
)

// DefaultAttempts is how many times the screenshot selector is looked up.
const DefaultAttempts = 10

// ErrStore marks failures of the state store. Nothing is captured or
// notified after one.
var ErrStore = errors.New("contentcheck: state store")

// Options configures a Checker.
type Options struct {
	Input *Input

	// DB holds the watch store and the per-run stores.
	DB *DB
	// StoreName is the watch store, usually Settings.StoreName().
	StoreName string

	Browser Browser

	// Mailer sends change and error mail. Nil disables mail.
	Mailer Mailer
	// Publishers receive the chat message in addition to the SLACK_MESSAGE
	// record of the run store.
	Publishers []Publisher

	// PublicURL prefixes record locators.
	PublicURL string

	// Attempts bounds the screenshot selector lookup. Default: DefaultAttempts.
	Attempts int

	// RunID generates run IDs. Default: UUIDv7.
	RunID idgen.Generator

	Logger *slog.Logger
}

// Locator addresses one stored record.
type Locator struct {
	Key string
	URL string
}

// Result describes a completed run.
type Result struct {
	RunID     string
	StoreID   string
	StoreName string
	Decision  Decision
	Locators  []Locator

	// DispatchErr holds notification failures. They do not fail the run.
	DispatchErr error
}

// Checker runs content checks for one watch.
type Checker struct {
	opts   Options
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates a Checker.
func New(opts Options) *Checker {
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.RunID == nil {
		opts.RunID = idgen.UUIDv7()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{opts: opts, logger: logger, sleep: sleepCtx}
}

// Run performs one check. A capture failure returns a *CaptureError after
// the diagnostic screenshot is stored and, if requested, reported by mail;
// the persisted state is left untouched. Store failures wrap ErrStore.
func (c *Checker) Run(ctx context.Context) (*Result, error) {
	in := c.opts.Input
	if in == nil {
		return nil, fmt.Errorf("contentcheck: no input")
	}
	runID := c.opts.RunID()
	log := c.logger.With("run", runID)

	st, err := c.opts.DB.OpenStore(ctx, c.opts.StoreName)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrStore, c.opts.StoreName, err)
	}
	det := detect.New(st)
	prior, err := det.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}
	res := &Result{RunID: runID, StoreID: st.ID, StoreName: st.Name}
	log.Info("contentcheck: run started", "url", in.URL, "store", st.Name, "first_run", prior.Current == nil)

	page, err := c.opts.Browser.NewPage(ctx)
	if err != nil {
		return res, fmt.Errorf("contentcheck: open page: %w", err)
	}
	defer page.Close()

	obs, err := c.capture(ctx, page)
	if err != nil {
		var cerr *capture.Error
		if errors.As(err, &cerr) {
			return res, c.captureFailed(ctx, log, page, st, cerr)
		}
		return res, err
	}

	dec, err := det.Apply(ctx, prior, obs)
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrStore, err)
	}
	res.Decision = dec
	log.Info("contentcheck: classified", "decision", dec.Kind.String())

	switch dec.Kind {
	case detect.FirstRun:
		log.Info("contentcheck: first run, initial state saved")
	case detect.Unchanged:
		log.Info("contentcheck: no change")
	case detect.Changed:
		res.DispatchErr = c.notify(ctx, log, runID, st, dec)
		if res.DispatchErr != nil {
			log.Error("contentcheck: notification failed", "error", res.DispatchErr)
		}
	}

	res.Locators = c.locators(st, prior.Current != nil)
	for _, l := range res.Locators {
		log.Info("contentcheck: record", "key", l.Key, "url", l.URL)
	}
	return res, nil
}

func (c *Checker) capture(ctx context.Context, page capture.Page) (detect.Observation, error) {
	in := c.opts.Input
	if err := page.Navigate(ctx, in.URL, in.NavigationTimeout); err != nil {
		return detect.Observation{}, &capture.Error{Stage: capture.StageNavigate, Err: err}
	}
	if err := c.sleep(ctx, in.SettleDelay); err != nil {
		return detect.Observation{}, err
	}

	img, err := page.ElementImage(ctx, in.ScreenshotSelector, c.opts.Attempts)
	if err != nil {
		return detect.Observation{}, &capture.Error{Stage: capture.StageScreenshot, Selector: in.ScreenshotSelector, Err: err}
	}
	text, err := page.Text(ctx, in.ContentSelector)
	if err != nil {
		return detect.Observation{}, &capture.Error{Stage: capture.StageContent, Selector: in.ContentSelector, Err: err}
	}
	return detect.Observation{Text: text, Image: img}, nil
}

// captureFailed stores a full-page screenshot, mails the error report when
// informOnError is set, and returns cerr.
func (c *Checker) captureFailed(ctx context.Context, log *slog.Logger, page capture.Page, st *kvstore.Store, cerr *capture.Error) error {
	log.Error("contentcheck: capture failed",
		"stage", string(cerr.Stage), "selector", cerr.Selector, "timeout", cerr.Timeout(), "error", cerr.Err)

	var locator string
	img, err := page.FullPage(ctx)
	if err != nil {
		log.Warn("contentcheck: full-page screenshot failed", "error", err)
		img = nil
	} else if err := st.Set(ctx, detect.KeyFullPageScreenshot, img, kvstore.ContentTypePNG); err != nil {
		log.Warn("contentcheck: store full-page screenshot", "error", err)
	} else {
		locator = st.RecordURL(c.opts.PublicURL, detect.KeyFullPageScreenshot)
		log.Info("contentcheck: record", "key", detect.KeyFullPageScreenshot, "url", locator)
	}

	if c.opts.Input.InformOnError {
		env := compose.CaptureFailure(c.composeContext(st), cerr.Message(locator), img)
		if err := notify.NewDispatcher(nil, c.opts.Mailer, log).Mail(ctx, env); err != nil {
			log.Error("contentcheck: error report not sent", "error", err)
		}
	}
	return cerr
}

// notify composes the change notification and dispatches it once. The
// message is always kept as SLACK_MESSAGE in the store run-<runID>.
func (c *Checker) notify(ctx context.Context, log *slog.Logger, runID string, st *kvstore.Store, dec detect.Decision) error {
	payload, err := compose.Changed(dec, c.composeContext(st))
	if err != nil {
		return err
	}

	var errs []error
	pubs := make([]notify.Publisher, 0, len(c.opts.Publishers)+1)
	runStore, err := c.opts.DB.OpenStore(ctx, "run-"+runID)
	if err != nil {
		errs = append(errs, fmt.Errorf("contentcheck: open run store: %w", err))
	} else {
		pubs = append(pubs, notify.NewRecordPublisher(runStore))
		log.Info("contentcheck: record", "key", notify.KeySlackMessage,
			"url", runStore.RecordURL(c.opts.PublicURL, notify.KeySlackMessage))
	}
	pubs = append(pubs, c.opts.Publishers...)

	d := notify.NewDispatcher(notify.NewFanout(log, pubs...), c.opts.Mailer, log)
	if err := d.Dispatch(ctx, payload); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Checker) composeContext(st *kvstore.Store) compose.Context {
	in := c.opts.Input
	return compose.Context{
		URL:           in.URL,
		Note:          in.NotifyText,
		Recipients:    in.NotifyTo,
		ScreenshotURL: st.RecordURL(c.opts.PublicURL, detect.KeyCurrentScreenshot),
	}
}

// locators lists the state records, previous ones only when that slot exists.
func (c *Checker) locators(st *kvstore.Store, withPrevious bool) []Locator {
	keys := []string{detect.KeyCurrentScreenshot, detect.KeyCurrentData}
	if withPrevious {
		keys = append(keys, detect.KeyPreviousScreenshot, detect.KeyPreviousData)
	}
	out := make([]Locator, len(keys))
	for i, k := range keys {
		out[i] = Locator{Key: k, URL: st.RecordURL(c.opts.PublicURL, k)}
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
