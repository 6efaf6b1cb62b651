package redact

import (
	"regexp"
	"strings"
)

var (
	emailRe = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
	phoneRe = regexp.MustCompile(`\b\+?\d[\d\s\-]{7,}\d\b`)
)

// Redactor strips PII from text destined for logs and run artifacts.
// A nil or disabled Redactor passes text through unchanged.
type Redactor struct {
	enabled bool
}

func New(enabled bool) *Redactor {
	return &Redactor{enabled: enabled}
}

// Enabled returns true when redaction is active.
func (r *Redactor) Enabled() bool {
	return r != nil && r.enabled
}

// Text redacts emails and phone numbers when enabled.
func (r *Redactor) Text(in string) string {
	if !r.Enabled() || strings.TrimSpace(in) == "" {
		return in
	}
	out := emailRe.ReplaceAllString(in, "[REDACTED_EMAIL]")
	out = phoneRe.ReplaceAllString(out, "[REDACTED_PHONE]")
	return out
}
