package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/contentcheck/contentcheck/internal/compose"
	"github.com/hazyhaar/contentcheck/contentcheck/internal/kvstore"
	"github.com/hazyhaar/contentcheck/dbopen"
)

type fakePublisher struct {
	msgs []compose.Message
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, m compose.Message) error {
	f.msgs = append(f.msgs, m)
	return f.err
}

type fakeMailer struct {
	envs []compose.Envelope
	err  error
}

func (f *fakeMailer) Send(_ context.Context, e compose.Envelope) error {
	f.envs = append(f.envs, e)
	return f.err
}

func payload() compose.Payload {
	return compose.Payload{
		Message: compose.Message{Blocks: []compose.Block{{Type: "divider"}}},
		Envelope: compose.Envelope{
			To:      []string{"ops@example.com"},
			Subject: compose.SubjectChanged,
			Text:    "body",
		},
	}
}

func TestDispatch_BothChannels(t *testing.T) {
	pub, mail := &fakePublisher{}, &fakeMailer{}
	d := NewDispatcher(pub, mail, nil)
	if err := d.Dispatch(context.Background(), payload()); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(pub.msgs) != 1 || len(mail.envs) != 1 {
		t.Fatalf("deliveries: publish=%d mail=%d, want 1/1", len(pub.msgs), len(mail.envs))
	}
}

func TestDispatch_PublishFailureStillMails(t *testing.T) {
	pubErr := errors.New("webhook down")
	pub, mail := &fakePublisher{err: pubErr}, &fakeMailer{}
	err := NewDispatcher(pub, mail, nil).Dispatch(context.Background(), payload())
	if !errors.Is(err, pubErr) {
		t.Fatalf("err = %v, want publish error", err)
	}
	if len(mail.envs) != 1 {
		t.Fatalf("mail attempts: %d, want 1", len(mail.envs))
	}
}

func TestDispatch_NoRetry(t *testing.T) {
	mailErr := errors.New("smtp refused")
	mail := &fakeMailer{err: mailErr}
	err := NewDispatcher(nil, mail, nil).Dispatch(context.Background(), payload())
	if !errors.Is(err, mailErr) {
		t.Fatalf("err = %v, want mail error", err)
	}
	if len(mail.envs) != 1 {
		t.Fatalf("mail attempts: %d, want exactly 1", len(mail.envs))
	}
}

func TestDispatch_SkipsWithoutMailerOrRecipients(t *testing.T) {
	if err := NewDispatcher(nil, nil, nil).Dispatch(context.Background(), payload()); err != nil {
		t.Fatalf("nil channels: %v", err)
	}
	mail := &fakeMailer{}
	p := payload()
	p.Envelope.To = nil
	if err := NewDispatcher(nil, mail, nil).Dispatch(context.Background(), p); err != nil {
		t.Fatalf("no recipients: %v", err)
	}
	if len(mail.envs) != 0 {
		t.Fatalf("mailed without recipients")
	}
}

func TestRecordPublisher(t *testing.T) {
	ctx := context.Background()
	db := kvstore.New(dbopen.OpenMemory(t, dbopen.WithSchema(kvstore.Schema)))
	st, err := db.OpenStore(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if err := NewRecordPublisher(st).Publish(ctx, payload().Message); err != nil {
		t.Fatalf("publish: %v", err)
	}
	rec, err := st.Get(ctx, KeySlackMessage)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.ContentType != kvstore.ContentTypeJSON {
		t.Errorf("ContentType: got %q", rec.ContentType)
	}
	var msg compose.Message
	if err := json.Unmarshal(rec.Value, &msg); err != nil {
		t.Fatalf("stored message is not JSON: %v", err)
	}
	if len(msg.Blocks) != 1 || msg.Blocks[0].Type != "divider" {
		t.Errorf("stored blocks: %+v", msg.Blocks)
	}
}

func TestSlackWebhook(t *testing.T) {
	var got compose.Message
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type: got %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	if err := NewSlackWebhook(srv.URL).Publish(context.Background(), payload().Message); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if calls != 1 || len(got.Blocks) != 1 {
		t.Fatalf("calls=%d blocks=%d", calls, len(got.Blocks))
	}
}

func TestSlackWebhook_BadStatusNotRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "invalid_payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewSlackWebhook(srv.URL).Publish(context.Background(), payload().Message)
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("err = %v, want status 400", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestFanout_FirstErrorAllDelivered(t *testing.T) {
	first := errors.New("first")
	a := &fakePublisher{err: first}
	b := &fakePublisher{err: errors.New("second")}
	c := &fakePublisher{}
	err := NewFanout(nil, a, b, c).Publish(context.Background(), payload().Message)
	if !errors.Is(err, first) {
		t.Fatalf("err = %v, want first", err)
	}
	if len(a.msgs) != 1 || len(b.msgs) != 1 || len(c.msgs) != 1 {
		t.Fatal("not every publisher was called")
	}
}

func TestBuildEmail(t *testing.T) {
	env := compose.Envelope{
		To:      []string{"ops@example.com"},
		Subject: compose.SubjectChanged,
		Text:    "URL: https://example.com",
		Attachments: []compose.Attachment{
			{Filename: "previousScreenshot.png", ContentType: "image/png", Data: []byte("p")},
			{Filename: "currentScreenshot.png", ContentType: "image/png", Data: []byte("c")},
			{Filename: "empty.png", ContentType: "image/png"},
		},
	}
	msg, err := buildEmail("bot@example.com", env)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(msg.Attachments) != 2 {
		t.Errorf("attachments: got %d, want 2 (empty skipped)", len(msg.Attachments))
	}
	raw, err := msg.Bytes()
	if err != nil {
		t.Fatalf("bytes: %v", err)
	}
	for _, want := range []string{"Subject: Content checker - page changed!", "previousScreenshot.png", "currentScreenshot.png"} {
		if !strings.Contains(string(raw), want) {
			t.Errorf("MIME message lacks %q", want)
		}
	}
}

func TestSMTPMailer_NoRecipients(t *testing.T) {
	err := NewSMTPMailer(SMTPConfig{Server: "localhost", Port: 25}).Send(context.Background(), compose.Envelope{})
	if !errors.Is(err, ErrNoRecipients) {
		t.Fatalf("err = %v, want ErrNoRecipients", err)
	}
}
