package secrets

import (
	"net/url"
	"regexp"
	"strings"
)

const replacement = "[REDACTED]"

var defaultPatterns = []*regexp.Regexp{
	// credentials embedded in connection URLs
	regexp.MustCompile(`(?i)\b([a-z][a-z0-9+.-]*://[^:/@\s]+):[^@\s]+@`),
	regexp.MustCompile(`(?i)\b(password|passwd|pwd|secret|api[_-]?key|token)(["\s]*[:=]["\s]*)[^\s"',}&]+`),
	regexp.MustCompile(`(?i)\bbearer\s+[a-z0-9\-._~+/]+=*`),
	regexp.MustCompile(`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`),
}

// Redactor scrubs secrets out of strings before they reach logs or CLI
// output.
type Redactor struct {
	patterns []*regexp.Regexp
}

func NewRedactor(extra ...*regexp.Regexp) *Redactor {
	patterns := append(append([]*regexp.Regexp{}, defaultPatterns...), extra...)
	return &Redactor{patterns: patterns}
}

func (r *Redactor) RedactString(input string) string {
	out := input
	for i, p := range r.patterns {
		switch i {
		case 0:
			out = p.ReplaceAllString(out, "${1}:"+replacement+"@")
		case 1:
			out = p.ReplaceAllString(out, "${1}${2}"+replacement)
		default:
			out = p.ReplaceAllString(out, replacement)
		}
	}
	return out
}

// RedactDSN hides the password of a postgres URL or key=value DSN.
func RedactDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	if u, err := url.Parse(dsn); err == nil && u.Scheme != "" && u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
		}
		return u.String()
	}
	fields := strings.Fields(dsn)
	for i, f := range fields {
		if k, _, ok := strings.Cut(f, "="); ok && strings.EqualFold(k, "password") {
			fields[i] = k + "=xxxxx"
		}
	}
	return strings.Join(fields, " ")
}

// Mask keeps the last four characters of a credential so operators can tell
// which key is loaded.
func Mask(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "****"
	default:
		return "****" + s[len(s)-4:]
	}
}
