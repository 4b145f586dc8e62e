package contentcheck

import (
	"log/slog"
	"net/http"

	"github.com/hazyhaar/contentcheck/contentcheck/internal/browser"
	"github.com/hazyhaar/contentcheck/contentcheck/internal/kvstore"
	"github.com/hazyhaar/contentcheck/contentcheck/internal/notify"
	"github.com/hazyhaar/contentcheck/contentcheck/internal/server"
)

// DB holds the named key-value stores.
type DB = kvstore.DB

// Publisher delivers the structured chat message.
type Publisher = notify.Publisher

// Mailer sends mail envelopes.
type Mailer = notify.Mailer

// OpenDB opens the stores database named by s: Postgres when a DSN is set,
// otherwise the SQLite file.
func OpenDB(s Settings) (*DB, error) {
	if s.PostgresDSN != "" {
		return kvstore.OpenPostgres(s.PostgresDSN)
	}
	return kvstore.Open(s.DBPath)
}

// NewBrowser creates a lazily started Chrome manager. proxyURL may be empty.
func NewBrowser(cfg BrowserConfig, proxyURL string, logger *slog.Logger) *browser.Manager {
	return browser.NewManager(browser.Config{
		RemoteURL:   cfg.RemoteURL,
		Headful:     cfg.Headful,
		XvfbDisplay: cfg.XvfbDisplay,
		ProxyURL:    proxyURL,
		Logger:      logger,
	})
}

// NewMailer returns an SMTP mailer, or nil when no server is configured.
func NewMailer(cfg SMTPConfig) Mailer {
	if cfg.Server == "" {
		return nil
	}
	return notify.NewSMTPMailer(notify.SMTPConfig{
		Server:   cfg.Server,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Password,
		From:     cfg.From,
	})
}

// NewSlackPublisher posts messages to a Slack incoming webhook.
func NewSlackPublisher(webhookURL string, logger *slog.Logger) Publisher {
	return notify.NewSlackWebhook(webhookURL, notify.WithSlackLogger(logger))
}

// NewRecordHandler serves store records at the locators Run logs.
func NewRecordHandler(db *DB, logger *slog.Logger) http.Handler {
	return server.New(db, logger)
}
