package contentcheck

import (
	"github.com/hazyhaar/contentcheck/contentcheck/internal/capture"
	"github.com/hazyhaar/contentcheck/contentcheck/internal/config"
	"github.com/hazyhaar/contentcheck/contentcheck/internal/detect"
)

// Input is the resolved run input. Re-exported from internal.
type Input = config.Input

// Settings are the process-level settings read from the environment.
type Settings = config.Settings

// SMTPConfig configures outbound mail.
type SMTPConfig = config.SMTPConfig

// BrowserConfig controls Chrome.
type BrowserConfig = config.BrowserConfig

// ErrInvalidInput wraps every input or settings validation failure.
var ErrInvalidInput = config.ErrInvalid

// LoadInputFile reads a YAML or JSON run input.
func LoadInputFile(path string) (*Input, error) {
	return config.LoadFile(path)
}

// ParseInput parses a YAML or JSON run input.
func ParseInput(data []byte) (*Input, error) {
	return config.Parse(data)
}

// SettingsFromEnv reads Settings through getenv.
func SettingsFromEnv(getenv func(string) string) (Settings, error) {
	return config.SettingsFromEnv(getenv)
}

// Decision is the classification of one run.
type Decision = detect.Decision

// Kind enumerates decisions.
type Kind = detect.Kind

const (
	FirstRun  = detect.FirstRun
	Unchanged = detect.Unchanged
	Changed   = detect.Changed
)

// CaptureError is returned by Run when the page could not be captured.
type CaptureError = capture.Error

// Browser opens pages for capture.
type Browser = capture.Browser

// Page is one open tab.
type Page = capture.Page
