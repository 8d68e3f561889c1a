package logging

import (
	"log/slog"
	"net/url"
	"strings"
)

// RedactedValue is the placeholder logged in place of secrets.
const RedactedValue = "[REDACTED]"

// MaskValue returns the placeholder for non-empty values. Empty values are
// returned unchanged so unset settings stay visible as unset.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField returns a slog.Attr whose value is masked when non-empty.
func MaskField(key, value string) slog.Attr {
	return slog.String(key, MaskValue(value))
}

// MaskURL strips credentials and query parameters from an endpoint URL, which
// commonly carry RPC provider API keys.
func MaskURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return trimmed
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Host == "" {
		return RedactedValue
	}
	if parsed.User != nil {
		parsed.User = url.User(RedactedValue)
	}
	if parsed.RawQuery != "" {
		parsed.RawQuery = "redacted"
	}
	if segments := strings.Split(strings.Trim(parsed.Path, "/"), "/"); len(segments) > 0 {
		last := segments[len(segments)-1]
		if len(last) >= 16 {
			segments[len(segments)-1] = RedactedValue
			parsed.Path = "/" + strings.Join(segments, "/")
		}
	}
	return parsed.String()
}
