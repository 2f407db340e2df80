// Package redact masks sensitive lines in raw device output before it
// reaches logs or job results. Configuration snapshots are stored unredacted;
// callers must not apply this to config store payloads.
package redact

import "strings"

// Marker replaces an entire line containing a sensitive keyword.
const Marker = "[REDACTED LINE]"

// DefaultPatterns applies when no patterns are configured.
var DefaultPatterns = []string{"password", "secret", "community"}

// Redactor masks lines matching its configured keyword patterns.
type Redactor struct {
	patterns []string
}

// New creates a redactor; empty patterns fall back to DefaultPatterns
func New(patterns []string) *Redactor {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	lowered := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" {
			lowered = append(lowered, strings.ToLower(p))
		}
	}
	if len(lowered) == 0 {
		lowered = DefaultPatterns
	}
	return &Redactor{patterns: lowered}
}

// Redact replaces every line containing a keyword (case-insensitive) with
// the marker. Line count and line endings are preserved.
func (r *Redactor) Redact(text string) string {
	if text == "" {
		return text
	}
	lines := strings.Split(text, "\n")
	changed := false
	for i, line := range lines {
		lower := strings.ToLower(line)
		for _, p := range r.patterns {
			if strings.Contains(lower, p) {
				lines[i] = Marker
				changed = true
				break
			}
		}
	}
	if !changed {
		return text
	}
	return strings.Join(lines, "\n")
}

// Redact is a convenience for one-off use with explicit patterns
func Redact(text string, patterns []string) string {
	return New(patterns).Redact(text)
}
