package logging

import (
	"log/slog"
	"regexp"
	"strings"
)

// Redacted replaces any value the Redactor removes.
const Redacted = "***"

// Redactor removes credentials from log output.
type Redactor struct {
	patterns []*regexp.Regexp
	secrets  []string
}

var defaultPatterns = []*regexp.Regexp{
	// Discord bot tokens: base64 user ID, timestamp, HMAC.
	regexp.MustCompile(`[MNO][A-Za-z\d_-]{23,27}\.[A-Za-z\d_-]{6}\.[A-Za-z\d_-]{27,40}`),
	// Authorization header values.
	regexp.MustCompile(`\b(Bot|Bearer)\s+[A-Za-z0-9\-._~+/]{16,}=*`),
	// Webhook URLs embed their own token.
	regexp.MustCompile(`https://(?:\w+\.)?discord(?:app)?\.com/api/webhooks/\d+/[\w-]+`),
}

// sensitiveKeys are attribute keys whose values are always dropped.
var sensitiveKeys = []string{"token", "secret", "password", "authorization", "auth_header"}

// NewRedactor creates a Redactor that also removes the given literal secrets.
func NewRedactor(secrets ...string) *Redactor {
	r := &Redactor{patterns: defaultPatterns}
	for _, s := range secrets {
		if s != "" {
			r.secrets = append(r.secrets, s)
		}
	}
	return r
}

// RedactString removes credentials from value.
func (r *Redactor) RedactString(value string) string {
	if r == nil || value == "" {
		return value
	}
	for _, s := range r.secrets {
		value = strings.ReplaceAll(value, s, Redacted)
	}
	for _, p := range r.patterns {
		value = p.ReplaceAllString(value, Redacted)
	}
	return value
}

// RedactAttr redacts a single attribute, descending into groups.
func (r *Redactor) RedactAttr(a slog.Attr) slog.Attr {
	if r == nil {
		return a
	}
	if isSensitiveKey(a.Key) {
		return slog.String(a.Key, Redacted)
	}

	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return slog.String(a.Key, r.RedactString(v.String()))
	case slog.KindGroup:
		group := v.Group()
		out := make([]any, len(group))
		for i, ga := range group {
			out[i] = r.RedactAttr(ga)
		}
		return slog.Group(a.Key, out...)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return slog.String(a.Key, r.RedactString(err.Error()))
		}
	}
	return slog.Attr{Key: a.Key, Value: v}
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
