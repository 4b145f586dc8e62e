package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/contentcheck/contentcheck/internal/compose"
	"github.com/hazyhaar/contentcheck/contentcheck/internal/kvstore"
	"github.com/hazyhaar/contentcheck/horosafe"
)

// KeySlackMessage is the record the message is stored under.
const KeySlackMessage = "SLACK_MESSAGE"

// RecordSetter is the slice of kvstore.Store RecordPublisher needs.
type RecordSetter interface {
	Set(ctx context.Context, key string, value []byte, contentType string) error
}

// RecordPublisher stores the message as JSON in a record, where chat
// integrations pick it up.
type RecordPublisher struct {
	store RecordSetter
}

// NewRecordPublisher publishes into store under KeySlackMessage.
func NewRecordPublisher(store RecordSetter) *RecordPublisher {
	return &RecordPublisher{store: store}
}

func (p *RecordPublisher) Publish(ctx context.Context, msg compose.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("record: marshal: %w", err)
	}
	return p.store.Set(ctx, KeySlackMessage, data, kvstore.ContentTypeJSON)
}

// SlackWebhook POSTs the message to a Slack incoming webhook, once.
type SlackWebhook struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// SlackOption configures a SlackWebhook.
type SlackOption func(*SlackWebhook)

// WithSlackClient sets the HTTP client. Default: 10s timeout.
func WithSlackClient(c *http.Client) SlackOption {
	return func(s *SlackWebhook) { s.client = c }
}

// WithSlackLogger sets a custom logger.
func WithSlackLogger(l *slog.Logger) SlackOption {
	return func(s *SlackWebhook) { s.logger = l }
}

// NewSlackWebhook targets the given incoming-webhook URL.
func NewSlackWebhook(url string, opts ...SlackOption) *SlackWebhook {
	s := &SlackWebhook{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *SlackWebhook) Publish(ctx context.Context, msg compose.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := horosafe.LimitedReadAll(resp.Body, 4<<10)
		s.logger.Warn("slack: bad status", "status", resp.StatusCode, "body", string(detail))
		return fmt.Errorf("slack: status %d", resp.StatusCode)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// Fanout publishes to every publisher. One failure does not block the
// others; each is logged and the first is returned.
type Fanout struct {
	pubs   []Publisher
	logger *slog.Logger
}

// NewFanout creates a fan-out publisher.
func NewFanout(logger *slog.Logger, pubs ...Publisher) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{pubs: pubs, logger: logger}
}

func (f *Fanout) Publish(ctx context.Context, msg compose.Message) error {
	var firstErr error
	for _, p := range f.pubs {
		if err := p.Publish(ctx, msg); err != nil {
			f.logger.Warn("notify: publish failed", "publisher", fmt.Sprintf("%T", p), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
