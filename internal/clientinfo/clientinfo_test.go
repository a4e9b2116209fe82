package clientinfo

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNew_EmptyPathDisablesCountry(t *testing.T) {
	r := New("")
	if got := r.country("8.8.8.8"); got != "" {
		t.Errorf("expected empty country, got %q", got)
	}
}

func TestNew_InvalidPathFallsBack(t *testing.T) {
	r := New("/nonexistent/path.mmdb")
	if got := r.country("8.8.8.8"); got != "" {
		t.Errorf("expected empty country, got %q", got)
	}
	if err := r.Close(); err != nil {
		t.Errorf("expected no error closing fallback resolver, got %v", err)
	}
}

func TestDescribe_UsesForwardedIPAndUserAgent(t *testing.T) {
	r := New("")
	req := httptest.NewRequest("POST", "/video-token", nil)
	req.RemoteAddr = "10.0.0.1:4444"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")

	info := r.Describe(req)
	if info.IP != "203.0.113.9" {
		t.Errorf("expected forwarded IP, got %q", info.IP)
	}
	if !strings.HasPrefix(info.UserAgent, "Chrome") {
		t.Errorf("expected Chrome label, got %q", info.UserAgent)
	}
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		contains string
	}{
		{"empty", "", ""},
		{"bot", "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)", "[bot]"},
		{"mobile", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1", "[mobile]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Summarize(tt.raw)
			if tt.contains == "" {
				if got != "" {
					t.Errorf("expected empty summary, got %q", got)
				}
				return
			}
			if !strings.Contains(got, tt.contains) {
				t.Errorf("expected %q in %q", tt.contains, got)
			}
		})
	}
}

func TestSummarize_TruncatesLongLabels(t *testing.T) {
	raw := "Mozilla/5.0 (" + strings.Repeat("X", 400) + ")"
	if got := Summarize(raw); len(got) > maxUserAgentLen {
		t.Errorf("expected at most %d chars, got %d", maxUserAgentLen, len(got))
	}
}
