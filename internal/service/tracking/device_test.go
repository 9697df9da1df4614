package tracking_test

import (
	"testing"

	"github.com/ignite/leadtrack/internal/service/tracking"
)

func TestDetectDevice(t *testing.T) {
	tests := []struct {
		ua   string
		want string
	}{
		{"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) Mobile/15E148", "mobile"},
		{"Mozilla/5.0 (Linux; Android 14; Pixel 8)", "mobile"},
		{"Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X) Mobile/15E148", "tablet"},
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/120", "desktop"},
		{"", "desktop"},
	}
	for _, tt := range tests {
		if got := tracking.DetectDevice(tt.ua); got != tt.want {
			t.Errorf("DetectDevice(%q) = %q, want %q", tt.ua, got, tt.want)
		}
	}
}

func TestIsScanner(t *testing.T) {
	if !tracking.IsScanner("Mozilla/5.0 (Windows NT 5.1; rv:11.0) Gecko Firefox/11.0 (via ggpht.com GoogleImageProxy)") {
		t.Error("GoogleImageProxy should be flagged")
	}
	if !tracking.IsScanner("Barracuda Sentinel (EE)") {
		t.Error("Barracuda should be flagged")
	}
	if tracking.IsScanner("Mozilla/5.0 (Macintosh; Intel Mac OS X 14_0) AppleWebKit/605.1.15 Safari/605.1.15") {
		t.Error("Safari should not be flagged")
	}
}
