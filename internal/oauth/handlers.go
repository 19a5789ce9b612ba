package oauth

import (
	"net/http"

	chmw "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/TiredShaman/assessmatefinal/internal/monitoring"
	"github.com/TiredShaman/assessmatefinal/internal/sessions"
	"github.com/TiredShaman/assessmatefinal/internal/storage"
)

// IssueTokenFunc issues the app credentials for u and returns the access token
// that the post-login page hands to the browser.
type IssueTokenFunc func(w http.ResponseWriter, r *http.Request, u *storage.User) (string, error)

// Handler bundles OAuth login and callback handlers for providers.
type Handler struct {
	store       *storage.Store
	logger      *logrus.Logger
	cfg         Config
	sessions    sessions.Store
	issueTokens IssueTokenFunc
	responder   *Responder
}

// NewHandler constructs Handler. It fails when cfg does not carry a valid frontend URL.
func NewHandler(store *storage.Store, logger *logrus.Logger, cfg Config, sessStore sessions.Store, issue IssueTokenFunc) (*Handler, error) {
	resp, err := NewResponder(cfg.FrontendURL)
	if err != nil {
		return nil, err
	}
	if sessStore == nil {
		sessStore = sessions.NewMemoryStore()
	}
	return &Handler{
		store:       store,
		logger:      logger,
		cfg:         cfg,
		sessions:    sessStore,
		issueTokens: issue,
		responder:   resp,
	}, nil
}

func (h *Handler) GoogleEnabled() bool { return h.cfg.GoogleEnabled() }
func (h *Handler) OIDCEnabled() bool   { return h.cfg.OIDCEnabled() }

// Responder returns the post-login page renderer.
func (h *Handler) Responder() *Responder { return h.responder }

func (h *Handler) HandleGoogleLogin(w http.ResponseWriter, r *http.Request) { h.googleLogin(w, r) }
func (h *Handler) HandleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	h.googleCallback(w, r)
}
func (h *Handler) HandleOIDCLogin(w http.ResponseWriter, r *http.Request)    { h.oidcLogin(w, r) }
func (h *Handler) HandleOIDCCallback(w http.ResponseWriter, r *http.Request) { h.oidcCallback(w, r) }

// CompleteLogin issues credentials for an authenticated user and renders the
// success page. Token issuance errors render the failure page instead.
func (h *Handler) CompleteLogin(w http.ResponseWriter, r *http.Request, provider string, u *storage.User) {
	token, err := h.issueTokens(w, r, u)
	if err != nil {
		h.fail(w, r, provider, ErrCodeTokenError, err, u.ID)
		return
	}
	needsRole := u.NeedsRoleSelection()
	monitoring.IncAuthCallback(provider, "success")
	h.audit(r, provider, u.ID, "success", "")
	h.logger.WithContext(r.Context()).WithFields(logrus.Fields{
		"provider": provider,
		"outcome":  "success",
		"role":     u.Role,
	}).Info("oauth: login completed")

	h.responder.Respond(w, r, Success(token, needsRole))
}

// outcomeProviderError labels callbacks that failed with a code sent by the provider.
const outcomeProviderError = "provider_error"

// outcomeLabel maps code onto a fixed set of metric labels. Provider supplied codes
// are request input and collapse into one series.
func outcomeLabel(code string) string {
	switch code {
	case ErrCodeAuthFailed, ErrCodeNotConfigured, ErrCodeInvalidState, ErrCodeMissingCode,
		ErrCodeProviderDown, ErrCodeExchangeFailed, ErrCodeInvalidIDToken, ErrCodeUserError,
		ErrCodeTokenError:
		return code
	default:
		return outcomeProviderError
	}
}

// fail renders the failure page carrying code. cause is logged, never shown.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, provider, code string, cause error, userID string) {
	monitoring.IncAuthCallback(provider, outcomeLabel(code))
	h.audit(r, provider, userID, "error", code)
	entry := h.logger.WithContext(r.Context()).WithFields(logrus.Fields{
		"provider": provider,
		"outcome":  outcomeLabel(code),
		"code":     code,
	})
	if cause != nil {
		entry = entry.WithError(cause)
	}
	entry.Warn("oauth: login failed")

	h.responder.Respond(w, r, Failure(code))
}

func (h *Handler) audit(r *http.Request, provider, userID, status, detail string) {
	if h.store == nil {
		return
	}
	err := h.store.RecordAuthEvent(r.Context(), storage.AuditLog{
		UserID:    userID,
		Provider:  provider,
		Event:     "login",
		Status:    status,
		Detail:    detail,
		RequestID: chmw.GetReqID(r.Context()),
	})
	if err != nil {
		h.logger.WithContext(r.Context()).WithError(err).Error("oauth: write audit log")
	}
}
