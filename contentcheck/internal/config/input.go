// CLAUDE:SUMMARY Parses and validates the content-check run input (YAML or JSON) into an immutable Input with defaults resolved.
// Package config handles contentcheck configuration: the per-watch run
// input (YAML or JSON file) and the process settings read from the
// environment.
package config

import (
	"errors"
	"fmt"
	"net/mail"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/contentcheck/horosafe"
)

// Defaults applied when the input leaves a field out.
const (
	DefaultNavigationTimeout = 30 * time.Second
	DefaultSettleDelay       = 5 * time.Second
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid input")

// Input is the fully resolved run input. Every optional field carries its
// default, so downstream code never branches on absence.
type Input struct {
	URL                string
	ContentSelector    string
	ScreenshotSelector string
	NotifyTo           []string
	NotifyText         string
	NavigationTimeout  time.Duration
	SettleDelay        time.Duration
	InformOnError      bool
	ProxyURL           string
}

// rawInput mirrors the input document. Keys are camelCase.
type rawInput struct {
	URL                  string     `yaml:"url"`
	ContentSelector      string     `yaml:"contentSelector"`
	ScreenshotSelector   string     `yaml:"screenshotSelector"`
	SendNotificationTo   Recipients `yaml:"sendNotificationTo"`
	SendNotificationText string     `yaml:"sendNotificationText"`
	NavigationTimeout    *int64     `yaml:"navigationTimeout"` // ms
	SettleDelay          *int64     `yaml:"settleDelay"`       // ms
	InformOnError        Flag       `yaml:"informOnError"`
	Proxy                struct {
		ProxyURLs []string `yaml:"proxyUrls"`
	} `yaml:"proxy"`
}

// Flag is a boolean that accepts true/false as YAML booleans or as the
// strings "true"/"false". Anything else is rejected.
type Flag bool

// UnmarshalYAML implements yaml.Unmarshaler.
func (f *Flag) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		switch n.Value {
		case "true":
			*f = true
			return nil
		case "false":
			*f = false
			return nil
		}
	}
	return fmt.Errorf("%w: informOnError must be \"true\" or \"false\", got %q", ErrInvalid, n.Value)
}

// Recipients accepts a comma-separated string or a list of addresses.
type Recipients []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (r *Recipients) UnmarshalYAML(n *yaml.Node) error {
	var parts []string
	switch n.Kind {
	case yaml.ScalarNode:
		parts = strings.Split(n.Value, ",")
	case yaml.SequenceNode:
		if err := n.Decode(&parts); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: sendNotificationTo must be a string or a list", ErrInvalid)
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	*r = out
	return nil
}

// LoadFile reads and validates an input file.
func LoadFile(path string) (*Input, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read input: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates an input document. JSON is valid YAML, so
// both formats go through the same decoder.
func Parse(data []byte) (*Input, error) {
	var raw rawInput
	if err := yaml.Unmarshal(data, &raw); err != nil {
		if errors.Is(err, ErrInvalid) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return raw.resolve()
}

func (raw *rawInput) resolve() (*Input, error) {
	in := &Input{
		URL:                strings.TrimSpace(raw.URL),
		ContentSelector:    strings.TrimSpace(raw.ContentSelector),
		ScreenshotSelector: strings.TrimSpace(raw.ScreenshotSelector),
		NotifyTo:           []string(raw.SendNotificationTo),
		NotifyText:         raw.SendNotificationText,
		NavigationTimeout:  DefaultNavigationTimeout,
		SettleDelay:        DefaultSettleDelay,
		InformOnError:      bool(raw.InformOnError),
	}

	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if in.URL == "" {
		invalid("url is required")
	} else if err := horosafe.ValidateURL(in.URL); err != nil {
		invalid("url: %v", err)
	}
	if in.ContentSelector == "" {
		invalid("contentSelector is required")
	}
	if in.ScreenshotSelector == "" {
		in.ScreenshotSelector = in.ContentSelector
	}
	if raw.NavigationTimeout != nil {
		if *raw.NavigationTimeout <= 0 {
			invalid("navigationTimeout must be positive, got %d", *raw.NavigationTimeout)
		}
		in.NavigationTimeout = time.Duration(*raw.NavigationTimeout) * time.Millisecond
	}
	if raw.SettleDelay != nil {
		if *raw.SettleDelay < 0 {
			invalid("settleDelay must not be negative, got %d", *raw.SettleDelay)
		}
		in.SettleDelay = time.Duration(*raw.SettleDelay) * time.Millisecond
	}
	for _, addr := range in.NotifyTo {
		if _, err := mail.ParseAddress(addr); err != nil {
			invalid("sendNotificationTo: %q: %v", addr, err)
		}
	}
	if in.InformOnError && len(in.NotifyTo) == 0 {
		invalid("informOnError requires sendNotificationTo")
	}
	if len(raw.Proxy.ProxyURLs) > 0 {
		in.ProxyURL = strings.TrimSpace(raw.Proxy.ProxyURLs[0])
		if err := horosafe.ValidateURL(in.ProxyURL, "http", "https", "socks5"); err != nil {
			invalid("proxy: %v", err)
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return in, nil
}
