package cli

import (
	"strings"
	"testing"
)

func TestColorFunctions(t *testing.T) {
	was := colorEnabled
	colorEnabled = true
	t.Cleanup(func() { colorEnabled = was })

	tests := []struct {
		name   string
		fn     func(string) string
		prefix string
	}{
		{"Green", Green, "\033[32m"},
		{"Yellow", Yellow, "\033[33m"},
		{"Red", Red, "\033[31m"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.fn("hello")
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("%s should start with %q", tt.name, tt.prefix)
			}
			if !strings.Contains(got, "hello") {
				t.Errorf("%s should contain the input string", tt.name)
			}
			if !strings.HasSuffix(got, "\033[0m") {
				t.Errorf("%s should end with reset code", tt.name)
			}
		})
	}
}

func TestColorsDisabled(t *testing.T) {
	was := colorEnabled
	colorEnabled = false
	t.Cleanup(func() { colorEnabled = was })

	for name, fn := range map[string]func(string) string{"Green": Green, "Yellow": Yellow, "Red": Red} {
		if got := fn("hello"); got != "hello" {
			t.Errorf("%s with colors disabled = %q, want plain string", name, got)
		}
	}
}
