package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hazyhaar/contentcheck/horosafe"
)

// StorePrefix prefixes every watch store name.
const StorePrefix = "content-checker-store-"

// Settings are the process-level knobs read from the environment.
type Settings struct {
	// WatchID scopes persisted state: CONTENTCHECK_TASK_ID, else CONTENTCHECK_ACTOR_ID.
	WatchID string

	// DBPath is the SQLite file. Ignored when PostgresDSN is set.
	DBPath      string
	PostgresDSN string

	// PublicURL prefixes record locators in notifications and logs.
	PublicURL string

	SMTP    SMTPConfig
	Slack   SlackConfig
	Browser BrowserConfig
}

// SMTPConfig configures outbound mail. An empty Server disables mail.
type SMTPConfig struct {
	Server   string
	Port     int
	User     string
	Password string
	From     string
}

// SlackConfig configures the optional incoming-webhook publisher.
type SlackConfig struct {
	WebhookURL string
}

// BrowserConfig controls Chrome.
type BrowserConfig struct {
	// RemoteURL is the DevTools WebSocket of an external Chrome. Empty = launch locally.
	RemoteURL   string
	Headful     bool
	XvfbDisplay string
}

// StoreName is the named store holding this watch's state.
func (s Settings) StoreName() string {
	return StorePrefix + s.WatchID
}

// SettingsFromEnv reads Settings through getenv (os.Getenv in production).
func SettingsFromEnv(getenv func(string) string) (Settings, error) {
	env := func(key, fallback string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return fallback
	}

	s := Settings{
		WatchID:     env("CONTENTCHECK_TASK_ID", env("CONTENTCHECK_ACTOR_ID", "")),
		DBPath:      env("CONTENTCHECK_DB", "data/contentcheck.db"),
		PostgresDSN: env("CONTENTCHECK_PG_DSN", ""),
		PublicURL:   env("CONTENTCHECK_PUBLIC_URL", "http://localhost:8080"),
		SMTP: SMTPConfig{
			Server:   env("SMTP_SERVER", ""),
			User:     env("SMTP_USER", ""),
			Password: getenv("SMTP_PASSWORD"),
			From:     env("SMTP_FROM", ""),
		},
		Slack: SlackConfig{WebhookURL: env("SLACK_WEBHOOK_URL", "")},
		Browser: BrowserConfig{
			RemoteURL:   env("BROWSER_REMOTE_URL", ""),
			XvfbDisplay: env("BROWSER_XVFB_DISPLAY", ":99"),
		},
	}

	port, err := strconv.Atoi(env("SMTP_PORT", "587"))
	if err != nil {
		return Settings{}, fmt.Errorf("%w: SMTP_PORT: %v", ErrInvalid, err)
	}
	s.SMTP.Port = port
	if s.SMTP.From == "" {
		s.SMTP.From = s.SMTP.User
	}

	if v := env("BROWSER_HEADFUL", "false"); v != "false" {
		if v != "true" {
			return Settings{}, fmt.Errorf("%w: BROWSER_HEADFUL must be \"true\" or \"false\", got %q", ErrInvalid, v)
		}
		s.Browser.Headful = true
	}

	if err := horosafe.ValidateURL(s.PublicURL); err != nil {
		return Settings{}, fmt.Errorf("%w: CONTENTCHECK_PUBLIC_URL: %v", ErrInvalid, err)
	}
	if s.Slack.WebhookURL != "" {
		if err := horosafe.ValidateURL(s.Slack.WebhookURL, "https", "http"); err != nil {
			return Settings{}, fmt.Errorf("%w: SLACK_WEBHOOK_URL: %v", ErrInvalid, err)
		}
	}
	return s, nil
}

// Validate checks the settings a check run depends on.
func (s Settings) Validate() error {
	if s.WatchID == "" {
		return fmt.Errorf("%w: CONTENTCHECK_TASK_ID or CONTENTCHECK_ACTOR_ID is required", ErrInvalid)
	}
	if err := horosafe.ValidateIdentifier(s.WatchID); err != nil {
		return fmt.Errorf("%w: watch id: %v", ErrInvalid, err)
	}
	return nil
}
