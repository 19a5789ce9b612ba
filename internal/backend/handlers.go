package backend

import (
	"encoding/json"
	"errors"
	htmltemplate "html/template"
	"net/http"
	"strings"

	"gorm.io/gorm"

	"github.com/TiredShaman/assessmatefinal/internal/l10n"
	"github.com/TiredShaman/assessmatefinal/internal/monitoring"
	"github.com/TiredShaman/assessmatefinal/internal/storage"
)

const (
	devProvider  = "dev"
	devEmail     = "dev@assessmate.local"
	auditPageLen = 50
)

var loginPageTmpl = htmltemplate.Must(htmltemplate.New("login").Parse(`<!DOCTYPE html>
<html lang="{{.Lang}}">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif; display: flex; align-items: center; justify-content: center; min-height: 100vh; background-color: #f9fafb; margin: 0; padding: 20px; }
        .card { background: white; padding: 2.5rem; border-radius: 16px; box-shadow: 0 10px 25px rgba(0,0,0,0.05); width: 100%; max-width: 400px; text-align: center; }
        h2 { margin-bottom: 1.5rem; color: #111827; font-size: 1.5rem; }
        .btn { display: flex; align-items: center; justify-content: center; width: 100%; padding: 14px; margin-bottom: 16px; border-radius: 10px; text-decoration: none; font-weight: 600; border: none; }
        .btn-google { background-color: #4285F4; color: white; }
        .btn-oidc { background-color: #6366f1; color: white; }
        .btn-dev { background-color: #ef4444; color: white; }
    </style>
</head>
<body>
    <div class="card">
        <h2>{{.Title}}</h2>
        {{if .GoogleEnabled}}<a href="/auth/google/login" class="btn btn-google">{{.Google}}</a>{{end}}
        {{if .OIDCEnabled}}<a href="/auth/oidc/login" class="btn btn-oidc">{{.OIDC}}</a>{{end}}
        {{if .DevEnabled}}<a href="/auth/dev/login" class="btn btn-dev">{{.Dev}}</a>{{end}}
        {{if not (or .GoogleEnabled .OIDCEnabled .DevEnabled)}}<p>{{.None}}</p>{{end}}
    </div>
</body>
</html>`))

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	lang := langFromCtx(r.Context())
	data := struct {
		Lang, Title, Google, OIDC, Dev, None   string
		GoogleEnabled, OIDCEnabled, DevEnabled bool
	}{
		Lang:          lang,
		Title:         l10n.T(lang, "login_title"),
		Google:        l10n.T(lang, "login_google"),
		OIDC:          l10n.T(lang, "login_oidc"),
		Dev:           l10n.T(lang, "login_dev"),
		None:          l10n.T(lang, "login_none"),
		GoogleEnabled: s.oauth.GoogleEnabled(),
		OIDCEnabled:   s.oauth.OIDCEnabled(),
		DevEnabled:    s.cfg.DevLoginEnabled,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := loginPageTmpl.Execute(w, data); err != nil {
		s.log.WithContext(r.Context()).WithError(err).Error("render login page")
	}
}

// handleDevLogin signs in a local user without a provider round trip. It ends on
// the same post-login page a provider callback renders.
func (s *Server) handleDevLogin(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.DevLoginEnabled {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "dev login disabled"})
		return
	}
	q := r.URL.Query()
	email := strings.TrimSpace(q.Get("email"))
	if email == "" {
		email = devEmail
	}
	role := q.Get("role")
	if role != "" && !storage.ValidRole(role) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": storage.ErrInvalidRole.Error()})
		return
	}

	u, err := s.store.FindOrCreateUser(r.Context(), devProvider, email, email, email, "")
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cannot create user"})
		return
	}
	if role != "" && u.NeedsRoleSelection() {
		if u, err = s.store.SetUserRole(r.Context(), u.ID, role); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cannot set role"})
			return
		}
	}

	s.oauth.CompleteLogin(w, r, devProvider, u)
}

// userView is the shape the frontend expects from /api/auth/validate.
type userView struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	FullName string   `json:"fullName"`
	Roles    []string `json:"roles"`
}

func toUserView(u *storage.User) userView {
	roles := []string{}
	if u.Role != "" {
		roles = append(roles, u.Role)
	}
	return userView{
		ID:       u.ID,
		Username: u.Username(),
		Email:    u.Email,
		FullName: u.Name,
		Roles:    roles,
	}
}

func (s *Server) currentUser(w http.ResponseWriter, r *http.Request) (*storage.User, bool) {
	uid, _ := UserIDFromCtx(r.Context())
	u, err := s.store.GetUser(r.Context(), uid)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
		return nil, false
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "storage error"})
		return nil, false
	}
	return u, true
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	u, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toUserView(u))
}

func (s *Server) handleSelectRole(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Role string `json:"role"`
	}
	if err := jsonNewDecoder(r).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	uid, _ := UserIDFromCtx(r.Context())
	u, err := s.store.SetUserRole(r.Context(), uid, strings.ToLower(strings.TrimSpace(in.Role)))
	switch {
	case errors.Is(err, storage.ErrInvalidRole):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	case errors.Is(err, storage.ErrRoleAlreadySet):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	case errors.Is(err, gorm.ErrRecordNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
		return
	case err != nil:
		s.log.WithContext(r.Context()).WithError(err).Error("auth: set role")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "storage error"})
		return
	}

	monitoring.IncRoleSelection(u.Role)
	s.LogAudit(r, "role", "success", u.Role)
	s.log.WithContext(r.Context()).WithField("role", u.Role).Info("auth: role selected")

	// the old token has no role claim
	access, err := s.generateAccessToken(u, s.cfg.AccessTTL)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "token error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": access,
		"user":         toUserView(u),
	})
}

func (s *Server) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	uid, _ := UserIDFromCtx(r.Context())
	logs, err := s.store.GetUserAuditLogs(r.Context(), uid, auditPageLen)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "storage error"})
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func jsonNewDecoder(r *http.Request) *json.Decoder {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec
}
