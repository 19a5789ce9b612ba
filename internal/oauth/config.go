package oauth

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrFrontendURLMissing is returned when FRONTEND_URL is not configured.
var ErrFrontendURLMissing = errors.New("frontend URL is not configured (FRONTEND_URL)")

// Config holds OAuth/OIDC provider configuration and the frontend base URL
// that post-login redirects are built on.
type Config struct {
	FrontendURL string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	OIDCIssuer       string
	OIDCClientID     string
	OIDCClientSecret string
	OIDCRedirectURL  string
}

// Validate fails when the frontend URL is missing or not an absolute http(s) URL.
func (c Config) Validate() error {
	_, err := NormalizeFrontendURL(c.FrontendURL)
	return err
}

func (c Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.GoogleRedirectURL != ""
}

func (c Config) OIDCEnabled() bool {
	return c.OIDCIssuer != "" && c.OIDCClientID != "" && c.OIDCClientSecret != "" && c.OIDCRedirectURL != ""
}

// NormalizeFrontendURL checks raw and strips trailing slashes so paths can be appended.
func NormalizeFrontendURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrFrontendURLMissing
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid frontend URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid frontend URL %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid frontend URL %q: missing host", raw)
	}
	// an empty "?" or "#" parses to nothing but would still end up in every redirect
	if u.RawQuery != "" || u.Fragment != "" || u.ForceQuery || strings.ContainsAny(raw, "?#") {
		return "", fmt.Errorf("invalid frontend URL %q: query and fragment are not allowed", raw)
	}
	return strings.TrimRight(raw, "/"), nil
}
