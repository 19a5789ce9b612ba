package backend

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/TiredShaman/assessmatefinal/internal/oauth"
	"github.com/TiredShaman/assessmatefinal/internal/sessions"
	"github.com/TiredShaman/assessmatefinal/internal/storage"
)

const (
	accessCookie  = "access_token"
	refreshCookie = "refresh_token"
)

type jwtClaims struct {
	UserID string `json:"uid"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type refreshSession struct {
	UserID   string `json:"uid"`
	IssuedAt int64  `json:"iat"`
}

func refreshKey(token string) string { return "sess:" + token }

func (s *Server) JWTAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		var tok string
		if auth != "" && strings.HasPrefix(strings.ToLower(auth), "bearer ") {
			tok = strings.TrimSpace(auth[len("Bearer "):])
		} else if c, err := r.Cookie(accessCookie); err == nil {
			val, _ := url.QueryUnescape(c.Value)
			tok = strings.TrimSpace(val)
		}

		if tok == "" {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := s.parseAccessToken(tok)
		if err != nil {
			// invalid or expired, treated as anonymous
			next.ServeHTTP(w, r)
			return
		}

		ctx := WithUserID(r.Context(), claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) parseAccessToken(tok string) (*jwtClaims, error) {
	claims := &jwtClaims{}
	_, err := jwt.ParseWithClaims(tok, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// RequireAuth middleware ensures user is authenticated.
func (s *Server) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := UserIDFromCtx(r.Context()); !ok {
			// RFC 9728 discovery via WWW-Authenticate header
			metaURL := s.getMetadataURLForResource(r, "/api")
			w.Header().Add("WWW-Authenticate", fmt.Sprintf("Bearer realm=\"AssessMate\", resource_metadata=\"%s\"", metaURL))
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// issueTokens starts a session for u: a signed access token plus an opaque refresh
// token kept in the session store. Both are also set as cookies. The access token is
// returned so the post-login page can hand it to the frontend.
func (s *Server) issueTokens(w http.ResponseWriter, r *http.Request, u *storage.User) (string, error) {
	accessToken, err := s.generateAccessToken(u, s.cfg.AccessTTL)
	if err != nil {
		return "", err
	}

	refreshToken := s.generateOpaqueToken()
	sess, _ := json.Marshal(refreshSession{UserID: u.ID, IssuedAt: time.Now().Unix()})
	if err := s.sessions.Set(r.Context(), refreshKey(refreshToken), sess, s.cfg.RefreshTTL); err != nil {
		return "", fmt.Errorf("store refresh session: %w", err)
	}

	secure := oauth.IsSecure(r)
	http.SetCookie(w, &http.Cookie{
		Name:     accessCookie,
		Value:    url.QueryEscape(accessToken),
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.cfg.AccessTTL.Seconds()),
	})
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    url.QueryEscape(refreshToken),
		Path:     "/api/auth",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.cfg.RefreshTTL.Seconds()),
	})

	return accessToken, nil
}

func (s *Server) generateAccessToken(u *storage.User, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwtClaims{
		UserID: u.ID,
		Role:   u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.JWTSecret))
}

func (s *Server) generateOpaqueToken() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var refreshToken string
	if c, err := r.Cookie(refreshCookie); err == nil {
		refreshToken, _ = url.QueryUnescape(c.Value)
	}
	if refreshToken == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing refresh token"})
		return
	}

	// rotate: the old session is consumed even if the rest fails
	val, err := sessions.Take(r.Context(), s.sessions, refreshKey(refreshToken))
	if err != nil || val == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid refresh token"})
		return
	}
	var sess refreshSession
	if err := json.Unmarshal(val, &sess); err != nil || sess.UserID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid refresh token"})
		return
	}

	u, err := s.store.GetUser(r.Context(), sess.UserID)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "user not found"})
		return
	}

	access, err := s.issueTokens(w, r, u)
	if err != nil {
		s.log.WithContext(r.Context()).WithError(err).Error("auth: refresh failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "token error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"access_token": access})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(refreshCookie); err == nil {
		refreshToken, _ := url.QueryUnescape(c.Value)
		_ = s.sessions.Del(r.Context(), refreshKey(refreshToken))
	}

	secure := oauth.IsSecure(r)
	clearCookie := func(name, path string) {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     path,
			HttpOnly: true,
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
			MaxAge:   -1,
		})
	}
	clearCookie(accessCookie, "/")
	clearCookie(refreshCookie, "/api/auth")

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

