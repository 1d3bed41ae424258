package util

import (
	"html"
	"net"
	"os"
	"strings"
	"unicode"
)

const (
	maxDetailKeyLen   = 100
	maxDetailValueLen = 1000
	maxUserAgentLen   = 512
)

// SanitizeInput escapes HTML/script-like characters
func SanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return html.EscapeString(s)
}

// ContainsSuspicious reports whether a string carries injection-style payloads
func ContainsSuspicious(s string) bool {
	badChars := []string{"<", ">", "$", "{", "}", "script", "onerror", "onload"}
	lower := strings.ToLower(s)
	for _, c := range badChars {
		if strings.Contains(lower, c) {
			return true
		}
	}
	return false
}

// SanitizeIP validates an IP address string. Invalid input returns "".
func SanitizeIP(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if ip := net.ParseIP(s); ip != nil {
		return ip.String()
	}
	return ""
}

// SanitizeUserAgent strips control characters and injection markers from a
// user-agent string and truncates it to a sane length.
func SanitizeUserAgent(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	for _, r := range s {
		if unicode.IsControl(r) {
			continue
		}
		switch r {
		case '<', '>', '{', '}', '`':
			continue
		}
		b.WriteRune(r)
	}
	out := b.String()
	if len(out) > maxUserAgentLen {
		out = out[:maxUserAgentLen]
	}
	return out
}

// SanitizeDetails enforces the event details contract: keys capped at 100
// characters, values stringified and capped at 1000 characters, everything
// HTML-escaped.
func SanitizeDetails(details map[string]string) map[string]string {
	if details == nil {
		return nil
	}
	out := make(map[string]string, len(details))
	for k, v := range details {
		key := SanitizeInput(k)
		if len(key) > maxDetailKeyLen {
			key = key[:maxDetailKeyLen]
		}
		value := SanitizeInput(v)
		if len(value) > maxDetailValueLen {
			value = value[:maxDetailValueLen]
		}
		out[key] = value
	}
	return out
}

// GetEnv reads an environment variable with a fallback default.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
