package backend

import (
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/oauthex"

	"github.com/TiredShaman/assessmatefinal/internal/oauth"
)

const protectedResourcePath = "/.well-known/oauth-protected-resource"

// handleProtectedResourceMetadata serves RFC 9728 Protected Resource Metadata.
// The resource is derived from the path suffix after /.well-known/oauth-protected-resource.
func (s *Server) handleProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	baseURL := s.getBaseURL(r)

	suffix := strings.TrimPrefix(r.URL.Path, protectedResourcePath)
	resourceID := baseURL + suffix

	metadata := oauthex.ProtectedResourceMetadata{
		Resource:               resourceID,
		AuthorizationServers:   []string{baseURL},
		BearerMethodsSupported: []string{"header"},
		ResourceName:           "AssessMate API",
	}

	writeJSON(w, http.StatusOK, metadata)
}

// OAuthAuthorizationServerMetadata represents OAuth 2.0 Authorization Server Metadata (RFC 8414).
type OAuthAuthorizationServerMetadata struct {
	Issuer                 string   `json:"issuer"`
	AuthorizationEndpoint  string   `json:"authorization_endpoint,omitempty"`
	TokenEndpoint          string   `json:"token_endpoint,omitempty"`
	UserinfoEndpoint       string   `json:"userinfo_endpoint,omitempty"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported []string `json:"response_types_supported,omitempty"`
	GrantTypesSupported    []string `json:"grant_types_supported,omitempty"`

	Config struct {
		GoogleEnabled bool `json:"google_enabled"`
		OIDCEnabled   bool `json:"oidc_enabled"`
		DevLogin      bool `json:"dev_login"`
	} `json:"x_assessmate_config"`
}

// handleAuthorizationServerMetadata serves RFC 8414 Authorization Server Metadata.
// The x_assessmate_config member lists the enabled login methods.
func (s *Server) handleAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	baseURL := s.getBaseURL(r)

	metadata := OAuthAuthorizationServerMetadata{
		Issuer:                 baseURL,
		AuthorizationEndpoint:  baseURL + "/auth/login",
		TokenEndpoint:          baseURL + "/api/auth/refresh",
		UserinfoEndpoint:       baseURL + "/api/auth/validate",
		ScopesSupported:        []string{"openid", "profile", "email"},
		ResponseTypesSupported: []string{"code"},
		GrantTypesSupported:    []string{"authorization_code", "refresh_token"},
	}

	metadata.Config.GoogleEnabled = s.oauth.GoogleEnabled()
	metadata.Config.OIDCEnabled = s.oauth.OIDCEnabled()
	metadata.Config.DevLogin = s.cfg.DevLoginEnabled

	writeJSON(w, http.StatusOK, metadata)
}

func (s *Server) getBaseURL(r *http.Request) string {
	return oauth.GetAbsoluteURL(r, "")
}

func (s *Server) getMetadataURLForResource(r *http.Request, resourcePath string) string {
	if !strings.HasPrefix(resourcePath, "/") {
		resourcePath = "/" + resourcePath
	}
	return s.getBaseURL(r) + protectedResourcePath + resourcePath
}
