// Package horosafe holds the input guards shared by contentcheck: URL scheme
// checks, record-key and identifier validation, bounded reads.
package horosafe

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"slices"
	"strings"
)

// MaxResponseBody is the default cap for HTTP response body reads (1 MiB).
const MaxResponseBody int64 = 1 << 20

// MaxKeyLen is the longest accepted record key.
const MaxKeyLen = 256

// ErrUnsafeScheme is returned when a URL uses a scheme outside the allowed set.
var ErrUnsafeScheme = errors.New("horosafe: URL scheme not allowed")

// ErrInvalidKey is returned for record keys outside the accepted alphabet.
var ErrInvalidKey = errors.New("horosafe: invalid record key")

// ValidateURL checks that rawURL is absolute, carries a host and uses one of
// schemes (http and https when none are given).
func ValidateURL(rawURL string, schemes ...string) error {
	if len(schemes) == 0 {
		schemes = []string{"http", "https"}
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("horosafe: invalid URL: %w", err)
	}
	if !slices.Contains(schemes, strings.ToLower(u.Scheme)) {
		return fmt.Errorf("%w: %q", ErrUnsafeScheme, u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("horosafe: URL has no host")
	}
	return nil
}

// ValidateKey accepts record keys of 1..MaxKeyLen characters drawn from
// a-z A-Z 0-9 and !-_.'(). Keys end up in URL paths, so nothing else is let through.
func ValidateKey(key string) error {
	if key == "" || len(key) > MaxKeyLen {
		return fmt.Errorf("%w: length %d", ErrInvalidKey, len(key))
	}
	for _, r := range key {
		if !isIdentChar(r) && !strings.ContainsRune("!'()", r) {
			return fmt.Errorf("%w: character %q", ErrInvalidKey, r)
		}
	}
	return nil
}

// ValidateIdentifier rejects identifiers unsuitable for store names or URL
// path segments. Allows alphanumeric, underscore, hyphen, and dot.
func ValidateIdentifier(s string) error {
	if s == "" {
		return fmt.Errorf("horosafe: identifier must not be empty")
	}
	if len(s) > 256 {
		return fmt.Errorf("horosafe: identifier too long (max 256)")
	}
	for _, r := range s {
		if !isIdentChar(r) {
			return fmt.Errorf("horosafe: invalid character %q in identifier", r)
		}
	}
	return nil
}

// LimitedReadAll reads at most maxBytes from r and fails past that.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("horosafe: response exceeds %d bytes", maxBytes)
	}
	return data, nil
}

func isIdentChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.'
}
