package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/TiredShaman/assessmatefinal/internal/l10n"
	"github.com/TiredShaman/assessmatefinal/internal/logging"
	"github.com/TiredShaman/assessmatefinal/internal/monitoring"
	"github.com/TiredShaman/assessmatefinal/internal/sessions"
	"github.com/TiredShaman/assessmatefinal/internal/storage"
)

func newTestHandler(t *testing.T, cfg Config, issue IssueTokenFunc) (*Handler, *storage.Store) {
	t.Helper()
	logging.Init(false, false)
	monitoring.Init()
	_ = l10n.Init()
	st, err := storage.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	if cfg.FrontendURL == "" {
		cfg.FrontendURL = testFrontend
	}
	if issue == nil {
		issue = func(w http.ResponseWriter, r *http.Request, u *storage.User) (string, error) {
			return "token-for-" + u.ID, nil
		}
	}
	sess := sessions.NewMemoryStore()
	t.Cleanup(func() { _ = sess.Close() })
	h, err := NewHandler(st, logging.L(), cfg, sess, issue)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return h, st
}

func googleConfig() Config {
	return Config{
		GoogleClientID:     "client",
		GoogleClientSecret: "secret",
		GoogleRedirectURL:  "/auth/google/callback",
	}
}

func loginTarget(code string) string {
	return `window.location.replace("` + testFrontend + `/login?error=` + code + `")`
}

func TestNewHandlerRequiresFrontendURL(t *testing.T) {
	_, err := NewHandler(nil, logging.L(), Config{FrontendURL: " "}, sessions.NewMemoryStore(), nil)
	if !errors.Is(err, ErrFrontendURLMissing) {
		t.Fatalf("expected ErrFrontendURLMissing, got %v", err)
	}
}

func TestCallbackProviderError(t *testing.T) {
	h, _ := newTestHandler(t, googleConfig(), nil)
	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?error=access_denied&error_description=user+said+no", nil)
	w := httptest.NewRecorder()
	h.HandleGoogleCallback(w, req)

	if w.Code != http.StatusOK || !strings.HasPrefix(w.Header().Get("Content-Type"), "text/html") {
		t.Fatalf("unexpected response %d %q", w.Code, w.Header().Get("Content-Type"))
	}
	body := w.Body.String()
	if !strings.Contains(body, loginTarget("access_denied")) {
		t.Fatalf("expected login redirect with provider error: %s", body)
	}
	if strings.Contains(body, "user said no") {
		t.Fatalf("provider description leaked into page: %s", body)
	}
}

func TestCallbackFailureCodes(t *testing.T) {
	h, _ := newTestHandler(t, googleConfig(), nil)

	cases := []struct {
		name   string
		path   string
		cookie string
		want   string
	}{
		{"missing state", "/auth/google/callback?code=c", "", ErrCodeInvalidState},
		{"no cookie", "/auth/google/callback?code=c&state=s1", "", ErrCodeInvalidState},
		{"cookie mismatch", "/auth/google/callback?code=c&state=s1", "other", ErrCodeInvalidState},
		{"unknown state", "/auth/google/callback?code=c&state=s1", "s1", ErrCodeInvalidState},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, c.path, nil)
			if c.cookie != "" {
				req.AddCookie(&http.Cookie{Name: "oauth_google_state", Value: c.cookie})
			}
			w := httptest.NewRecorder()
			h.HandleGoogleCallback(w, req)
			if body := w.Body.String(); !strings.Contains(body, loginTarget(c.want)) {
				t.Fatalf("expected %s redirect: %s", c.want, body)
			}
		})
	}
}

func TestCallbackMissingCodeConsumesState(t *testing.T) {
	h, _ := newTestHandler(t, googleConfig(), nil)
	ctx := context.Background()
	key := "state:google:s2"
	if err := h.sessions.Set(ctx, key, []byte(`{"nonce":"n"}`), time.Minute); err != nil {
		t.Fatalf("seed state: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?state=s2", nil)
	req.AddCookie(&http.Cookie{Name: "oauth_google_state", Value: "s2"})
	w := httptest.NewRecorder()
	h.HandleGoogleCallback(w, req)

	if body := w.Body.String(); !strings.Contains(body, loginTarget(ErrCodeMissingCode)) {
		t.Fatalf("expected missing_code redirect: %s", body)
	}
	if v, _ := h.sessions.Get(ctx, key); v != nil {
		t.Fatalf("state must be single use")
	}
	cleared := false
	for _, c := range w.Result().Cookies() {
		if c.Name == "oauth_google_state" && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatalf("state cookie not cleared")
	}
}

func TestNotConfigured(t *testing.T) {
	h, _ := newTestHandler(t, Config{}, nil)
	for _, fn := range []http.HandlerFunc{h.HandleOIDCLogin, h.HandleOIDCCallback, h.HandleGoogleLogin} {
		w := httptest.NewRecorder()
		fn(w, httptest.NewRequest(http.MethodGet, "/auth/oidc/callback?code=c&state=s", nil))
		if body := w.Body.String(); !strings.Contains(body, loginTarget(ErrCodeNotConfigured)) {
			t.Fatalf("expected not_configured redirect: %s", body)
		}
	}
}

func TestCompleteLogin(t *testing.T) {
	h, st := newTestHandler(t, Config{}, nil)
	ctx := context.Background()

	u, err := st.FindOrCreateUser(ctx, "google", "sub-9", "dana@cit.edu", "Dana", "")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	w := httptest.NewRecorder()
	h.CompleteLogin(w, httptest.NewRequest(http.MethodGet, "/auth/google/callback", nil), "google", u)
	body := w.Body.String()
	if !strings.Contains(body, `"token-for-`+u.ID+`"`) || !strings.Contains(body, testFrontend+"/role-selection") {
		t.Fatalf("new user should land on role selection with token: %s", body)
	}

	u, _ = st.SetUserRole(ctx, u.ID, storage.RoleStudent)
	w = httptest.NewRecorder()
	h.CompleteLogin(w, httptest.NewRequest(http.MethodGet, "/auth/google/callback", nil), "google", u)
	if body := w.Body.String(); !strings.Contains(body, testFrontend+"/dashboard") {
		t.Fatalf("user with role should land on dashboard: %s", body)
	}

	logs, err := st.GetUserAuditLogs(ctx, u.ID, 10)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(logs) != 2 || logs[0].Status != "success" || logs[0].Event != "login" {
		t.Fatalf("unexpected audit logs: %+v", logs)
	}
}

func TestCompleteLoginTokenError(t *testing.T) {
	h, st := newTestHandler(t, Config{}, func(w http.ResponseWriter, r *http.Request, u *storage.User) (string, error) {
		return "", errors.New("signing key unavailable")
	})
	u, err := st.FindOrCreateUser(context.Background(), "google", "sub-10", "", "", "")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	w := httptest.NewRecorder()
	h.CompleteLogin(w, httptest.NewRequest(http.MethodGet, "/", nil), "google", u)
	body := w.Body.String()
	if !strings.Contains(body, loginTarget(ErrCodeTokenError)) {
		t.Fatalf("expected token_error redirect: %s", body)
	}
	if strings.Contains(body, "signing key") {
		t.Fatalf("internal error leaked: %s", body)
	}
}
