package oauth

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/TiredShaman/assessmatefinal/internal/monitoring"
)

func TestProviderErrorKeepsRunesWhole(t *testing.T) {
	in := strings.Repeat("a", maxProviderErrorLen-1) + "é"
	got := providerError(in)
	if !utf8.ValidString(got) {
		t.Fatalf("invalid UTF-8 after truncation: %q", got)
	}
	if len(got) > maxProviderErrorLen {
		t.Fatalf("length %d over limit", len(got))
	}
	if enc := escapeQueryValue(got); strings.HasSuffix(enc, "%C3") {
		t.Fatalf("split rune reached the redirect: %s", enc)
	}

	if got := providerError("  access_denied "); got != "access_denied" {
		t.Fatalf("untrimmed: %q", got)
	}
	if got := providerError("d\xffenied"); got != "denied" {
		t.Fatalf("invalid bytes kept: %q", got)
	}
}

func TestOutcomeLabel(t *testing.T) {
	for _, code := range []string{ErrCodeInvalidState, ErrCodeMissingCode, ErrCodeTokenError} {
		if got := outcomeLabel(code); got != code {
			t.Errorf("outcomeLabel(%q) = %q", code, got)
		}
	}
	for _, code := range []string{"access_denied", "junk42", ""} {
		if got := outcomeLabel(code); got != outcomeProviderError {
			t.Errorf("outcomeLabel(%q) = %q, want %q", code, got, outcomeProviderError)
		}
	}
}

func TestProviderErrorsShareOneSeries(t *testing.T) {
	h, _ := newTestHandler(t, googleConfig(), nil)
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/auth/google/callback?error=bogus%d", i), nil)
		w := httptest.NewRecorder()
		h.HandleGoogleCallback(w, req)
		if body := w.Body.String(); !strings.Contains(body, loginTarget(fmt.Sprintf("bogus%d", i))) {
			t.Fatalf("raw code missing from page: %s", body)
		}
	}

	srv := httptest.NewServer(monitoring.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	metrics := string(b)
	if !strings.Contains(metrics, `outcome="provider_error"`) {
		t.Fatalf("provider_error series missing:\n%s", metrics)
	}
	if strings.Contains(metrics, "bogus") {
		t.Fatalf("provider input became a label:\n%s", metrics)
	}
}
