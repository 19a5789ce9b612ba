package oauth

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"strings"
)

// maxProviderErrorLen bounds the provider supplied error passed on to the frontend.
const maxProviderErrorLen = 128

// GetAbsoluteURL resolves a relative redirect path against the request host.
func GetAbsoluteURL(r *http.Request, path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	scheme := "http"
	if IsSecure(r) {
		scheme = "https"
	}
	return scheme + "://" + r.Host + path
}

// IsSecure reports whether the request arrived over TLS, directly or via a proxy.
func IsSecure(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

func randomToken(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

func randomState() string { return randomToken(16) }
func randomNonce() string { return randomToken(16) }

func providerError(code string) string {
	code = strings.TrimSpace(code)
	if len(code) > maxProviderErrorLen {
		code = code[:maxProviderErrorLen]
	}
	// the frontend runs decodeURIComponent on this, which throws on a split rune
	return strings.ToValidUTF8(code, "")
}
