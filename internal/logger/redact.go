// Package logger provides log output helpers, including a secret-masking writer.
package logger

import (
	"io"
	"regexp"
)

var redactPatterns = []struct {
	re          *regexp.Regexp
	replacement []byte
}{
	// Rotating access tokens are 32 hex characters, logged as a "token" field
	// or an X-Access-Token header.
	{regexp.MustCompile(`(?i)((?:access[_-]?)?token"?\s*[:=]\s*"?)[A-Fa-f0-9]{32}`), []byte("${1}[REDACTED-TOKEN]")},
	// Credentials embedded in redis:// URLs.
	{regexp.MustCompile(`(rediss?://[^:/@\s]*:)[^@\s]+@`), []byte("${1}[REDACTED]@")},
	// Bearer tokens in Authorization headers or log fields.
	{regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/]+=*`), []byte("bearer [REDACTED]")},
}

type RedactWriter struct{ w io.Writer }

func NewRedactWriter(w io.Writer) *RedactWriter { return &RedactWriter{w: w} }

func (r *RedactWriter) Write(p []byte) (int, error) {
	out := p
	for _, pat := range redactPatterns {
		out = pat.re.ReplaceAll(out, pat.replacement)
	}
	_, err := r.w.Write(out)
	return len(p), err
}
