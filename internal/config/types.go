package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Duration is a time.Duration read from config files and environment variables.
// It accepts Go duration strings ("1m30s") and bare integers, which count seconds.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if n, err := cast.ToInt64E(raw); err == nil {
		raw = fmt.Sprintf("%ds", n)
	}
	parsed, err := cast.ToDurationE(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	if parsed < 0 {
		return fmt.Errorf("invalid duration %q: must not be negative", text)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

// Duration returns d as a time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

const redactedSecret = "[REDACTED]"

// Secret is a credential such as the GitHub token. Formatting and encoding
// always print a placeholder; only Value exposes the credential.
type Secret string

func (s Secret) placeholder() string {
	if s == "" {
		return ""
	}
	return redactedSecret
}

// Format prints the placeholder for every verb, %#v included.
func (s Secret) Format(f fmt.State, _ rune) {
	_, _ = f.Write([]byte(s.placeholder()))
}

func (s Secret) String() string { return s.placeholder() }

// MarshalText also covers JSON, which encodes text marshalers as strings.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(s.placeholder()), nil
}

// UnmarshalText decodes a placeholder to the empty secret, so a config dump fed
// back in never turns "[REDACTED]" into a token.
func (s *Secret) UnmarshalText(text []byte) error {
	if string(text) == redactedSecret {
		*s = ""
		return nil
	}
	*s = Secret(text)
	return nil
}

// Value returns the credential.
func (s Secret) Value() string { return string(s) }

// IsSet reports whether a credential is configured.
func (s Secret) IsSet() bool { return s != "" }
