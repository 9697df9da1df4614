package tracking_test

import (
	"errors"
	"testing"

	"github.com/ignite/leadtrack/internal/service/tracking"
)

func TestRedirectPolicy_Resolve(t *testing.T) {
	p := tracking.NewRedirectPolicy(
		[]string{"example.com", "Partner.IO"}, []string{"https", "http"},
		"https://www.example.com/", "https://www.example.com/fallback",
	)
	const fallback = "https://www.example.com/fallback"

	tests := []struct {
		name    string
		dest    string
		want    string
		invalid bool
	}{
		{"exact host", "https://example.com/landing", "https://example.com/landing", false},
		{"subdomain", "https://shop.example.com/a?b=c", "https://shop.example.com/a?b=c", false},
		{"case insensitive host", "https://PARTNER.io/x", "https://PARTNER.io/x", false},
		{"http allowed", "http://example.com/", "http://example.com/", false},
		{"empty uses default", "", "https://www.example.com/", false},
		{"foreign host", "https://evil.example/phish", fallback, true},
		{"suffix trick", "https://example.com.evil.io/", fallback, true},
		{"lookalike", "https://notexample.com/", fallback, true},
		{"javascript scheme", "javascript:alert(1)", fallback, true},
		{"ftp scheme", "ftp://example.com/file", fallback, true},
		{"relative", "/local/path", fallback, true},
		{"protocol relative", "//example.com/x", fallback, true},
		{"userinfo", "https://example.com@evil.io/", fallback, true},
		{"garbage", "https://exa mple.com/%zz", fallback, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Resolve(tt.dest)
			if got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.dest, got, tt.want)
			}
			if tt.invalid != errors.Is(err, tracking.ErrInvalidRedirectTarget) {
				t.Errorf("Resolve(%q) err = %v, invalid = %v", tt.dest, err, tt.invalid)
			}
		})
	}
}

func TestRedirectPolicy_EmptyWithoutDefaultUsesFallback(t *testing.T) {
	p := tracking.NewRedirectPolicy([]string{"example.com"}, nil, "", "https://example.com/home")
	got, err := p.Resolve("")
	if err != nil || got != "https://example.com/home" {
		t.Fatalf("Resolve(\"\") = %q, %v", got, err)
	}
}
