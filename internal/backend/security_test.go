package backend

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestUnauthorizedAPI(t *testing.T) {
	s := newTestServer(t)
	cases := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/auth/validate"},
		{http.MethodPost, "/api/auth/role"},
		{http.MethodGet, "/api/auth/audit"},
	}
	for _, c := range cases {
		t.Run(c.method+" "+c.path, func(t *testing.T) {
			w := do(s, c.method, c.path, "", nil)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", w.Code)
			}
			if h := w.Header().Get("WWW-Authenticate"); !strings.Contains(h, "/.well-known/oauth-protected-resource/api") {
				t.Fatalf("missing resource metadata hint: %q", h)
			}
		})
	}
}

func TestRejectsBadTokens(t *testing.T) {
	s := newTestServer(t)
	u, _ := createTestUser(t, s, "fran@cit.edu")

	expired, err := s.generateAccessToken(u, -time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{UserID: u.ID}).SignedString([]byte("other-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwtClaims{UserID: u.ID}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	for name, tok := range map[string]string{"expired": expired, "foreign": foreign, "none": unsigned, "garbage": "abc"} {
		if w := do(s, http.MethodGet, "/api/auth/validate", tok, nil); w.Code != http.StatusUnauthorized {
			t.Errorf("%s token accepted: %d", name, w.Code)
		}
	}
}

func TestResponderPageNotCached(t *testing.T) {
	s := newTestServer(t)
	w := do(s, http.MethodGet, "/auth/dev/login", "", nil)
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("Cache-Control = %q", got)
	}
	if got := w.Header().Get("Referrer-Policy"); got != "no-referrer" {
		t.Fatalf("Referrer-Policy = %q", got)
	}
}

func TestCSRFProtection(t *testing.T) {
	s := newTestServer(t)
	_, tok := createTestUser(t, s, "gina@cit.edu")

	post := func(path string, cookie *http.Cookie, header map[string]string) int {
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader([]byte(`{"role":"student"}`)))
		req.Header.Set("Content-Type", "application/json")
		for k, v := range header {
			req.Header.Set(k, v)
		}
		if cookie != nil {
			req.AddCookie(cookie)
		}
		w := httptest.NewRecorder()
		s.Router.ServeHTTP(w, req)
		return w.Code
	}
	access := &http.Cookie{Name: accessCookie, Value: tok}
	refresh := &http.Cookie{Name: refreshCookie, Value: "whatever"}

	cases := []struct {
		name   string
		path   string
		cookie *http.Cookie
		header map[string]string
		denied bool
	}{
		{"role via cookie", "/api/auth/role", access, nil, true},
		{"logout via cookie", "/api/auth/logout", refresh, nil, true},
		{"refresh via cookie", "/api/auth/refresh", refresh, nil, true},
		{"role via cookie with header", "/api/auth/role", access, map[string]string{csrfHeader: "1"}, false},
		{"logout with header", "/api/auth/logout", refresh, map[string]string{csrfHeader: "1"}, false},
		{"role via bearer", "/api/auth/role", nil, map[string]string{"Authorization": "Bearer " + tok}, false},
		{"anonymous", "/api/auth/logout", nil, nil, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			code := post(c.path, c.cookie, c.header)
			if c.denied && code != http.StatusForbidden {
				t.Fatalf("expected 403, got %d", code)
			}
			if !c.denied && code == http.StatusForbidden {
				t.Fatalf("request refused by CSRF check")
			}
		})
	}

	// reads are never checked
	req := httptest.NewRequest(http.MethodGet, "/api/auth/validate", nil)
	req.AddCookie(access)
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("validate via cookie got %d", w.Code)
	}
}

func TestCORSAllowsCSRFHeader(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/auth/role", nil)
	req.Header.Set("Origin", testFrontend)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", csrfHeader)
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != testFrontend {
		t.Fatalf("preflight not allowed: origin %q, status %d", got, w.Code)
	}
}
