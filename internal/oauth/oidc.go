package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/TiredShaman/assessmatefinal/internal/sessions"
)

const stateTTL = 15 * time.Minute

var errNotConfigured = errors.New("provider not configured")

type providerParams struct {
	name         string
	issuer       string
	clientID     string
	clientSecret string
	redirectURL  string
}

func (p providerParams) configured() bool {
	return p.issuer != "" && p.clientID != "" && p.clientSecret != "" && p.redirectURL != ""
}

func (p providerParams) stateCookie() string { return "oauth_" + p.name + "_state" }
func (p providerParams) stateKey(state string) string {
	return "state:" + p.name + ":" + state
}

type stateMeta struct {
	Nonce string `json:"nonce"`
}

func (h *Handler) oidcParams() providerParams {
	return providerParams{
		name:         "oidc",
		issuer:       h.cfg.OIDCIssuer,
		clientID:     h.cfg.OIDCClientID,
		clientSecret: h.cfg.OIDCClientSecret,
		redirectURL:  h.cfg.OIDCRedirectURL,
	}
}

func (h *Handler) oidcLogin(w http.ResponseWriter, r *http.Request) {
	h.doOIDCLogin(w, r, h.oidcParams())
}

func (h *Handler) oidcCallback(w http.ResponseWriter, r *http.Request) {
	h.doOIDCCallback(w, r, h.oidcParams())
}

func (h *Handler) oidcConfig(ctx context.Context, r *http.Request, p providerParams) (*oidc.Provider, *oauth2.Config, error) {
	if !p.configured() {
		return nil, nil, errNotConfigured
	}
	provider, err := oidc.NewProvider(ctx, p.issuer)
	if err != nil {
		return nil, nil, fmt.Errorf("discover %s: %w", p.issuer, err)
	}
	conf := &oauth2.Config{
		ClientID:     p.clientID,
		ClientSecret: p.clientSecret,
		RedirectURL:  GetAbsoluteURL(r, p.redirectURL),
		Endpoint:     provider.Endpoint(),
		Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
	}
	return provider, conf, nil
}

func (h *Handler) doOIDCLogin(w http.ResponseWriter, r *http.Request, p providerParams) {
	if !p.configured() {
		h.fail(w, r, p.name, ErrCodeNotConfigured, errNotConfigured, "")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	_, conf, err := h.oidcConfig(ctx, r, p)
	if err != nil {
		h.fail(w, r, p.name, ErrCodeProviderDown, err, "")
		return
	}

	state, nonce := randomState(), randomNonce()
	meta, _ := json.Marshal(stateMeta{Nonce: nonce})
	if err := h.sessions.Set(ctx, p.stateKey(state), meta, stateTTL); err != nil {
		h.fail(w, r, p.name, ErrCodeProviderDown, fmt.Errorf("store state: %w", err), "")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     p.stateCookie(),
		Value:    url.QueryEscape(state),
		Path:     "/",
		HttpOnly: true,
		Secure:   IsSecure(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(stateTTL.Seconds()),
	})

	http.Redirect(w, r, conf.AuthCodeURL(state, oidc.Nonce(nonce)), http.StatusFound)
}

// doOIDCCallback validates the provider response and finishes the login. Checks that
// need no network run first. Every outcome ends in the post-login page.
func (h *Handler) doOIDCCallback(w http.ResponseWriter, r *http.Request, p providerParams) {
	q := r.URL.Query()

	if e := q.Get("error"); e != "" {
		h.clearStateCookie(w, p)
		h.fail(w, r, p.name, providerError(e), fmt.Errorf("provider error: %s", q.Get("error_description")), "")
		return
	}
	if !p.configured() {
		h.fail(w, r, p.name, ErrCodeNotConfigured, errNotConfigured, "")
		return
	}

	meta, err := h.consumeState(r, p)
	h.clearStateCookie(w, p)
	if err != nil {
		h.fail(w, r, p.name, ErrCodeInvalidState, err, "")
		return
	}

	code := q.Get("code")
	if code == "" {
		h.fail(w, r, p.name, ErrCodeMissingCode, nil, "")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	provider, conf, err := h.oidcConfig(ctx, r, p)
	if err != nil {
		h.fail(w, r, p.name, ErrCodeProviderDown, err, "")
		return
	}

	oauth2Token, err := conf.Exchange(ctx, code)
	if err != nil {
		h.fail(w, r, p.name, ErrCodeExchangeFailed, err, "")
		return
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		h.fail(w, r, p.name, ErrCodeInvalidIDToken, errors.New("no id_token in token response"), "")
		return
	}
	idToken, err := provider.Verifier(&oidc.Config{ClientID: p.clientID}).Verify(ctx, rawIDToken)
	if err != nil {
		h.fail(w, r, p.name, ErrCodeInvalidIDToken, err, "")
		return
	}
	if idToken.Nonce != meta.Nonce {
		h.fail(w, r, p.name, ErrCodeInvalidIDToken, errors.New("nonce mismatch"), "")
		return
	}

	var claims struct {
		Subject string `json:"sub"`
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := idToken.Claims(&claims); err != nil {
		h.fail(w, r, p.name, ErrCodeInvalidIDToken, err, "")
		return
	}

	u, err := h.store.FindOrCreateUser(ctx, p.name, claims.Subject, claims.Email, claims.Name, claims.Picture)
	if err != nil {
		h.fail(w, r, p.name, ErrCodeUserError, err, "")
		return
	}

	h.CompleteLogin(w, r, p.name, u)
}

// consumeState checks the state parameter against the browser cookie and takes the
// matching single-use entry from the session store.
func (h *Handler) consumeState(r *http.Request, p providerParams) (stateMeta, error) {
	var meta stateMeta
	state := r.URL.Query().Get("state")
	if state == "" {
		return meta, errors.New("missing state")
	}
	c, err := r.Cookie(p.stateCookie())
	if err != nil {
		return meta, errors.New("no state cookie")
	}
	if cv, _ := url.QueryUnescape(c.Value); cv != state {
		return meta, errors.New("state does not match cookie")
	}

	raw, err := sessions.Take(r.Context(), h.sessions, p.stateKey(state))
	if err != nil {
		return meta, fmt.Errorf("load state: %w", err)
	}
	if raw == nil {
		return meta, errors.New("unknown or expired state")
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return meta, fmt.Errorf("decode state: %w", err)
	}
	return meta, nil
}

func (h *Handler) clearStateCookie(w http.ResponseWriter, p providerParams) {
	http.SetCookie(w, &http.Cookie{
		Name:    p.stateCookie(),
		Value:   "",
		Path:    "/",
		MaxAge:  -1,
		Expires: time.Unix(0, 0),
	})
}
