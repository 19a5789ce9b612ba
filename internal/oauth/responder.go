package oauth

import (
	htmltemplate "html/template"
	"net/http"
	"net/url"
	"strings"

	"github.com/TiredShaman/assessmatefinal/internal/l10n"
	"github.com/TiredShaman/assessmatefinal/internal/logging"
	"github.com/TiredShaman/assessmatefinal/internal/monitoring"
)

// Frontend pages a finished login lands on.
const (
	PathRoleSelection = "/role-selection"
	PathDashboard     = "/dashboard"
	PathLogin         = "/login"
)

// Token and target are injected in JS context, so html/template quotes and
// escapes them as JS strings.
var responderTmpl = htmltemplate.Must(htmltemplate.New("auth-result").Parse(`<!DOCTYPE html>
<html lang="{{.Lang}}">
<head>
    <meta charset="UTF-8">
    <meta name="referrer" content="no-referrer">
    <title>{{.Title}}</title>
</head>
<body>
    <p>{{.Message}}</p>
    <noscript><a href="{{.Target}}">{{.Continue}}</a></noscript>
    <script>
{{- if .Token}}
        sessionStorage.setItem("token", {{.Token}});
{{- end}}
        window.location.replace({{.Target}});
    </script>
</body>
</html>
`))

// Responder renders the page that finishes a login in the browser: it stores the
// token client-side and navigates to the frontend. It holds no mutable state.
type Responder struct {
	frontendURL string
}

// NewResponder validates frontendURL once; see NormalizeFrontendURL.
func NewResponder(frontendURL string) (*Responder, error) {
	base, err := NormalizeFrontendURL(frontendURL)
	if err != nil {
		return nil, err
	}
	return &Responder{frontendURL: base}, nil
}

// FrontendURL returns the normalized base URL.
func (p *Responder) FrontendURL() string { return p.frontendURL }

// RedirectTarget is the absolute frontend URL the page for res navigates to.
func (p *Responder) RedirectTarget(res *AuthResult) string {
	switch {
	case !res.OK():
		return p.frontendURL + PathLogin + "?error=" + escapeQueryValue(res.Reason())
	case res.NeedsRoleSelection:
		return p.frontendURL + PathRoleSelection
	default:
		return p.frontendURL + PathDashboard
	}
}

// Respond writes the HTML page for res. A nil res renders the failure page.
func (p *Responder) Respond(w http.ResponseWriter, r *http.Request, res *AuthResult) {
	lang := "en"
	if l, ok := r.Context().Value(logging.ContextLang).(string); ok && l != "" {
		lang = l
	}

	data := struct {
		Lang     string
		Title    string
		Message  string
		Continue string
		Token    string
		Target   string
	}{
		Lang:     lang,
		Title:    l10n.T(lang, "auth_page_title"),
		Message:  l10n.T(lang, "auth_completing"),
		Continue: l10n.T(lang, "auth_continue"),
		Target:   p.RedirectTarget(res),
	}
	page := "login"
	if res.OK() {
		data.Token = res.Token
		page = "dashboard"
		if res.NeedsRoleSelection {
			page = "role_selection"
		}
	} else {
		data.Message = l10n.T(lang, "auth_failed")
	}
	monitoring.IncAuthRedirect(page)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Referrer-Policy", "no-referrer")
	if err := responderTmpl.Execute(w, data); err != nil {
		logging.L().WithContext(r.Context()).WithError(err).Error("oauth: render auth result page")
	}
}

// escapeQueryValue percent-encodes s for a query value. Spaces become %20. Unlike
// JS encodeURIComponent it also escapes !'()*; decodeURIComponent reads both forms.
func escapeQueryValue(s string) string {
	// QueryEscape already turned literal '+' into %2B
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
