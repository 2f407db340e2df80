package redact

import (
	"strings"
	"testing"
)

func TestRedact(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		patterns []string
		expected string
	}{
		{
			"password line masked",
			"hostname sw1\nenable password cisco123\ninterface Gi0/1",
			nil,
			"hostname sw1\n" + Marker + "\ninterface Gi0/1",
		},
		{
			"case insensitive",
			"SNMP COMMUNITY public RO",
			nil,
			Marker,
		},
		{
			"custom patterns",
			"tacacs key abc\npassword notmasked",
			[]string{"tacacs"},
			Marker + "\npassword notmasked",
		},
		{
			"no match unchanged",
			"interface Gi0/1\n no shutdown",
			nil,
			"interface Gi0/1\n no shutdown",
		},
		{
			"empty text",
			"",
			nil,
			"",
		},
		{
			"secret default",
			"ospf message-digest-key 1 md5 SECRETKEY",
			nil,
			Marker,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Redact(tt.text, tt.patterns)
			if got != tt.expected {
				t.Errorf("Redact() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestRedactPreservesLineCount(t *testing.T) {
	text := "line1\npassword x\nline3\nsecret y\nline5\n"
	got := Redact(text, nil)

	if strings.Count(got, "\n") != strings.Count(text, "\n") {
		t.Errorf("line count changed: %q", got)
	}
	if strings.Contains(strings.ToLower(got), "password") {
		t.Error("keyword survived redaction")
	}
	if !strings.HasSuffix(got, "\n") {
		t.Error("trailing newline lost")
	}
}

func TestRedactKeywordNeverSurvives(t *testing.T) {
	r := New(nil)
	inputs := []string{
		"password",
		"  Password: x",
		"xxPASSWORDxx",
		"snmp-server community private RW",
		"the secret is out",
	}
	for _, in := range inputs {
		got := r.Redact(in)
		for _, p := range DefaultPatterns {
			if strings.Contains(strings.ToLower(got), p) {
				t.Errorf("Redact(%q) left keyword %q: %q", in, p, got)
			}
		}
	}
}

func TestNewFallsBackToDefaults(t *testing.T) {
	for _, patterns := range [][]string{nil, {}, {"", "  "}} {
		r := New(patterns)
		if got := r.Redact("my password here"); got != Marker {
			t.Errorf("New(%v) did not apply defaults: %q", patterns, got)
		}
	}
}
