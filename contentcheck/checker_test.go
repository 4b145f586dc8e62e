package contentcheck

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/contentcheck/contentcheck/internal/capture"
	"github.com/hazyhaar/contentcheck/contentcheck/internal/compose"
	"github.com/hazyhaar/contentcheck/contentcheck/internal/detect"
	"github.com/hazyhaar/contentcheck/contentcheck/internal/kvstore"
	"github.com/hazyhaar/contentcheck/contentcheck/internal/notify"
	"github.com/hazyhaar/contentcheck/dbopen"
	"github.com/hazyhaar/contentcheck/idgen"
)

const storeName = "content-checker-store-task1"

type fakePage struct {
	text  string
	image []byte
	full  []byte

	navErr, imgErr, textErr, fullErr error

	attempts int
	closed   int
}

func (p *fakePage) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	return p.navErr
}

func (p *fakePage) ElementImage(ctx context.Context, selector string, attempts int) ([]byte, error) {
	p.attempts = attempts
	if p.imgErr != nil {
		return nil, p.imgErr
	}
	return p.image, nil
}

func (p *fakePage) Text(ctx context.Context, selector string) (string, error) {
	if p.textErr != nil {
		return "", p.textErr
	}
	return p.text, nil
}

func (p *fakePage) FullPage(ctx context.Context) ([]byte, error) {
	if p.fullErr != nil {
		return nil, p.fullErr
	}
	return p.full, nil
}

func (p *fakePage) Close() error {
	p.closed++
	return nil
}

type fakeBrowser struct {
	page  *fakePage
	err   error
	calls int
}

func (b *fakeBrowser) NewPage(ctx context.Context) (capture.Page, error) {
	b.calls++
	if b.err != nil {
		return nil, b.err
	}
	return b.page, nil
}

type fakeMailer struct {
	sent []compose.Envelope
	err  error
}

func (m *fakeMailer) Send(ctx context.Context, env compose.Envelope) error {
	m.sent = append(m.sent, env)
	return m.err
}

type fixture struct {
	db      *kvstore.DB
	page    *fakePage
	browser *fakeBrowser
	mailer  *fakeMailer
	checker *Checker
	input   *Input
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := kvstore.New(dbopen.OpenMemory(t, dbopen.WithSchema(kvstore.Schema)),
		kvstore.WithIDGenerator(idgen.Sequence("st")))
	page := &fakePage{text: "Hello", image: []byte("img1"), full: []byte("full")}
	f := &fixture{
		db:      db,
		page:    page,
		browser: &fakeBrowser{page: page},
		mailer:  &fakeMailer{},
		input: &Input{
			URL:                "https://example.com",
			ContentSelector:    "#content",
			ScreenshotSelector: "#content",
			NotifyTo:           []string{"ops@example.com"},
			NavigationTimeout:  time.Second,
		},
	}
	f.checker = New(Options{
		Input:     f.input,
		DB:        db,
		StoreName: storeName,
		Browser:   f.browser,
		Mailer:    f.mailer,
		PublicURL: "http://records.test",
		RunID:     idgen.Sequence("run"),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return f
}

func (f *fixture) state(t *testing.T) detect.State {
	t.Helper()
	st, err := f.db.OpenStore(context.Background(), storeName)
	if err != nil {
		t.Fatal(err)
	}
	s, err := detect.Load(context.Background(), st)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestRun_FirstRun(t *testing.T) {
	f := newFixture(t)

	res, err := f.checker.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Decision.Kind != FirstRun {
		t.Errorf("decision: got %s, want first_run", res.Decision.Kind)
	}
	if len(f.mailer.sent) != 0 {
		t.Errorf("mails: got %d, want 0", len(f.mailer.sent))
	}
	if f.page.attempts != DefaultAttempts {
		t.Errorf("attempts: got %d, want %d", f.page.attempts, DefaultAttempts)
	}
	if f.page.closed != 1 {
		t.Errorf("page closed %d times", f.page.closed)
	}

	s := f.state(t)
	if s.Previous != nil {
		t.Errorf("previous slot should be absent, got %+v", s.Previous)
	}
	if s.Current == nil || s.Current.TextOrEmpty() != "Hello" || !bytes.Equal(s.Current.Image, []byte("img1")) {
		t.Errorf("current slot: got %+v", s.Current)
	}

	if len(res.Locators) != 2 {
		t.Fatalf("locators: got %d, want 2", len(res.Locators))
	}
	want := "http://records.test/v2/key-value-stores/" + res.StoreID + "/records/currentScreenshot.png"
	if res.Locators[0].URL != want {
		t.Errorf("locator: got %q, want %q", res.Locators[0].URL, want)
	}
}

func TestRun_Unchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.checker.Run(ctx); err != nil {
		t.Fatal(err)
	}
	f.page.image = []byte("img2")
	res, err := f.checker.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Decision.Kind != Unchanged {
		t.Errorf("decision: got %s, want unchanged", res.Decision.Kind)
	}
	if len(f.mailer.sent) != 0 {
		t.Errorf("mails: got %d, want 0", len(f.mailer.sent))
	}

	s := f.state(t)
	if s.Previous == nil || !bytes.Equal(s.Previous.Image, []byte("img1")) {
		t.Errorf("previous slot: got %+v", s.Previous)
	}
	if s.Current == nil || !bytes.Equal(s.Current.Image, []byte("img2")) {
		t.Errorf("current slot: got %+v", s.Current)
	}
	if len(res.Locators) != 4 {
		t.Errorf("locators: got %d, want 4", len(res.Locators))
	}
}

func TestRun_Changed(t *testing.T) {
	f := newFixture(t)
	f.input.NotifyText = "watch the price"
	ctx := context.Background()

	if _, err := f.checker.Run(ctx); err != nil {
		t.Fatal(err)
	}
	f.page.text = "Hello, world"
	f.page.image = []byte("img2")

	res, err := f.checker.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Decision.Kind != Changed {
		t.Fatalf("decision: got %s, want changed", res.Decision.Kind)
	}
	if res.DispatchErr != nil {
		t.Errorf("dispatch: %v", res.DispatchErr)
	}

	if len(f.mailer.sent) != 1 {
		t.Fatalf("mails: got %d, want 1", len(f.mailer.sent))
	}
	env := f.mailer.sent[0]
	if env.Subject != compose.SubjectChanged {
		t.Errorf("subject: got %q", env.Subject)
	}
	wantBody := "URL: https://example.com\n\nNote: watch the price\n\nPrevious data: Hello\n\nCurrent data: Hello, world"
	if env.Text != wantBody {
		t.Errorf("body: got %q, want %q", env.Text, wantBody)
	}
	if len(env.Attachments) != 2 ||
		!bytes.Equal(env.Attachments[0].Data, []byte("img1")) ||
		!bytes.Equal(env.Attachments[1].Data, []byte("img2")) {
		t.Errorf("attachments: got %+v", env.Attachments)
	}

	runStore, err := f.db.OpenStore(ctx, "run-"+res.RunID)
	if err != nil {
		t.Fatal(err)
	}
	rec, err := runStore.Get(ctx, notify.KeySlackMessage)
	if err != nil {
		t.Fatalf("slack message record: %v", err)
	}
	var msg compose.Message
	if err := json.Unmarshal(rec.Value, &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if len(msg.Blocks) != 5 {
		t.Fatalf("blocks: got %d, want 5", len(msg.Blocks))
	}
	if !strings.HasSuffix(msg.Blocks[2].ImageURL, "/records/currentScreenshot.png") {
		t.Errorf("image url: got %q", msg.Blocks[2].ImageURL)
	}

	s := f.state(t)
	if s.Previous.TextOrEmpty() != "Hello" || s.Current.TextOrEmpty() != "Hello, world" {
		t.Errorf("state: previous %q, current %q", s.Previous.TextOrEmpty(), s.Current.TextOrEmpty())
	}
}

func TestRun_ScreenshotSelectorMissing(t *testing.T) {
	f := newFixture(t)
	f.input.InformOnError = true
	ctx := context.Background()

	if _, err := f.checker.Run(ctx); err != nil {
		t.Fatal(err)
	}
	before := f.state(t)

	f.page.text = "Other"
	f.page.imgErr = fmt.Errorf("browser: %q: %w", "#content", capture.ErrNotFound)
	res, err := f.checker.Run(ctx)

	var cerr *CaptureError
	if !errors.As(err, &cerr) {
		t.Fatalf("error: got %v, want *CaptureError", err)
	}
	if cerr.Stage != capture.StageScreenshot {
		t.Errorf("stage: got %s", cerr.Stage)
	}
	if !errors.Is(err, capture.ErrNotFound) {
		t.Error("cause should be ErrNotFound")
	}

	st, _ := f.db.OpenStore(ctx, storeName)
	rec, err := st.Get(ctx, detect.KeyFullPageScreenshot)
	if err != nil {
		t.Fatalf("full-page record: %v", err)
	}
	if !bytes.Equal(rec.Value, []byte("full")) {
		t.Errorf("full-page: got %q", rec.Value)
	}

	if len(f.mailer.sent) != 1 {
		t.Fatalf("mails: got %d, want 1", len(f.mailer.sent))
	}
	env := f.mailer.sent[0]
	if env.Subject != compose.SubjectError {
		t.Errorf("subject: got %q", env.Subject)
	}
	if !strings.Contains(env.Text, "Cannot get screenshot (screenshot selector is probably wrong).") {
		t.Errorf("body: %q", env.Text)
	}
	locator := st.RecordURL("http://records.test", detect.KeyFullPageScreenshot)
	if !strings.Contains(env.Text, locator) {
		t.Errorf("body should point at %s: %q", locator, env.Text)
	}
	if len(env.Attachments) != 1 || env.Attachments[0].Filename != detect.KeyFullPageScreenshot {
		t.Errorf("attachments: got %+v", env.Attachments)
	}

	after := f.state(t)
	if after.Current.TextOrEmpty() != before.Current.TextOrEmpty() || after.Previous != nil {
		t.Errorf("state rotated on failure: %+v", after)
	}
	if res == nil || res.StoreName != storeName {
		t.Errorf("result: got %+v", res)
	}
}

func TestRun_ContentSelectorMissing_NoReport(t *testing.T) {
	f := newFixture(t)
	f.page.textErr = capture.ErrNotFound

	_, err := f.checker.Run(context.Background())
	var cerr *CaptureError
	if !errors.As(err, &cerr) || cerr.Stage != capture.StageContent {
		t.Fatalf("error: got %v", err)
	}
	if len(f.mailer.sent) != 0 {
		t.Errorf("informOnError off, got %d mails", len(f.mailer.sent))
	}
	if s := f.state(t); s.Current != nil {
		t.Errorf("state written on failure: %+v", s.Current)
	}
}

func TestRun_NavigationTimeout(t *testing.T) {
	f := newFixture(t)
	f.input.InformOnError = true
	f.page.navErr = context.DeadlineExceeded
	f.page.fullErr = errors.New("page crashed")

	_, err := f.checker.Run(context.Background())
	var cerr *CaptureError
	if !errors.As(err, &cerr) {
		t.Fatalf("error: got %v", err)
	}
	if cerr.Stage != capture.StageNavigate || !cerr.Timeout() {
		t.Errorf("got stage %s timeout %v", cerr.Stage, cerr.Timeout())
	}
	if len(f.mailer.sent) != 1 {
		t.Fatalf("mails: got %d, want 1", len(f.mailer.sent))
	}
	if got := len(f.mailer.sent[0].Attachments); got != 0 {
		t.Errorf("attachments without full-page image: got %d", got)
	}
}

func TestRun_DispatchFailureDoesNotFailRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.checker.Run(ctx); err != nil {
		t.Fatal(err)
	}
	f.mailer.err = errors.New("smtp down")
	f.page.text = "Bye"

	res, err := f.checker.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.DispatchErr == nil {
		t.Error("expected dispatch error")
	}
	if len(f.mailer.sent) != 1 {
		t.Errorf("mail attempts: got %d, want 1", len(f.mailer.sent))
	}
	if s := f.state(t); s.Current.TextOrEmpty() != "Bye" {
		t.Errorf("state not rotated: %q", s.Current.TextOrEmpty())
	}
}

func TestRun_StoreFailureSkipsBrowser(t *testing.T) {
	f := newFixture(t)
	f.db.Close()

	_, err := f.checker.Run(context.Background())
	if !errors.Is(err, ErrStore) {
		t.Fatalf("error: got %v, want ErrStore", err)
	}
	if f.browser.calls != 0 {
		t.Errorf("browser used %d times after store failure", f.browser.calls)
	}
}

func TestRun_BrowserFailureIsNotCaptureError(t *testing.T) {
	f := newFixture(t)
	f.browser.err = errors.New("chrome not found")

	_, err := f.checker.Run(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	var cerr *CaptureError
	if errors.As(err, &cerr) {
		t.Errorf("launch failure reported as capture error: %v", err)
	}
}
