package util

import (
	"strings"
	"testing"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"basic", "My Cool Site!!", "my-cool-site"},
		{"already slugged", "my-cool-site", "my-cool-site"},
		{"collapses runs", "a  --  b", "a-b"},
		{"trims edges", "!!hello!!", "hello"},
		{"unicode stripped", "café ☕ menu", "caf-menu"},
		{"empty", "", ""},
		{"only separators", "---", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Slugify(tt.in); got != tt.want {
				t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSlugifyIdempotent(t *testing.T) {
	inputs := []string{"My Cool Site!!", "Project 42", "a_b_c", strings.Repeat("x y ", 60)}
	for _, in := range inputs {
		once := Slugify(in)
		if twice := Slugify(once); twice != once {
			t.Errorf("Slugify not idempotent for %q: %q != %q", in, twice, once)
		}
	}
}

func TestSlugifyTruncates(t *testing.T) {
	long := strings.Repeat("abc", 100)
	if got := Slugify(long); len(got) != 96 {
		t.Errorf("expected 96-char slug, got %d chars", len(got))
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"my-cool-site", "my-cool-site"},
		{"My Site!", "My_Site_"},
		{"a/b.html", "a_b_html"},
		{"под_écran", "_____cran"},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
