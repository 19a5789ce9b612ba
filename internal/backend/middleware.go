package backend

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chmw "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/TiredShaman/assessmatefinal/internal/l10n"
	"github.com/TiredShaman/assessmatefinal/internal/logging"
	"github.com/TiredShaman/assessmatefinal/internal/monitoring"
	"github.com/TiredShaman/assessmatefinal/internal/storage"
)

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

type ctxKey string

const ctxUserID ctxKey = "userID"

func WithUserID(ctx context.Context, uid string) context.Context {
	ctx = context.WithValue(ctx, ctxUserID, uid)
	ctx = context.WithValue(ctx, logging.ContextUserID, uid)
	return ctx
}

func UserIDFromCtx(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxUserID).(string)
	return id, ok && id != ""
}

func RequestIDFromCtx(ctx context.Context) (string, bool) {
	if rid := chmw.GetReqID(ctx); rid != "" {
		return rid, true
	}
	return "", false
}

// RequestLogger logs each request and counts it. Successful requests to debugPaths
// are logged at debug level.
func RequestLogger(l *logrus.Logger, debugPaths ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			if lrw.status == 0 {
				lrw.status = http.StatusOK
			}

			// the route pattern is only known after routing ran
			rctx := chi.RouteContext(r.Context())
			route := ""
			if rctx != nil {
				route = rctx.RoutePattern()
			}
			if route == "" {
				route = "unmatched"
			}
			monitoring.IncHTTP(r.Method, route, strconv.Itoa(lrw.status))

			isDebugPath := false
			for _, p := range debugPaths {
				if r.URL.Path == p {
					isDebugPath = true
					break
				}
			}

			rid, _ := RequestIDFromCtx(r.Context())
			fields := logrus.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"route":       route,
				"status":      lrw.status,
				"size":        lrw.size,
				"duration_ms": float64(time.Since(start).Nanoseconds()) / 1e6,
				"request_id":  rid,
			}
			entry := l.WithContext(r.Context()).WithFields(fields)

			if lrw.status < 400 && isDebugPath {
				entry.Debug("request")
			} else {
				entry.Info("request")
			}
		})
	}
}

// SecurityHeaders adds common security-related headers to all responses. Inline
// scripts are allowed because the post-login page is one.
func SecurityHeaders() func(http.Handler) http.Handler {
	csp := strings.Join([]string{
		"default-src 'self'",
		"base-uri 'none'",
		"form-action 'self'",
		"script-src 'self' 'unsafe-inline'",
		"style-src 'self' 'unsafe-inline'",
		"img-src 'self' data: https:",
		"connect-src 'self'",
		"frame-ancestors 'none'",
	}, "; ")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Security-Policy", csp)
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer")
			w.Header().Set("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
			next.ServeHTTP(w, r)
		})
	}
}

// Language stores the preferred language from Accept-Language in the context.
func Language(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lang := l10n.Lang(r.Header.Get("Accept-Language"))
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), logging.ContextLang, lang)))
	})
}

func langFromCtx(ctx context.Context) string {
	if l, ok := ctx.Value(logging.ContextLang).(string); ok && l != "" {
		return l
	}
	return "en"
}

// LogAudit writes an auth audit entry for the current user.
func (s *Server) LogAudit(r *http.Request, event, status, detail string) {
	uid, _ := UserIDFromCtx(r.Context())
	rid, _ := RequestIDFromCtx(r.Context())
	err := s.store.RecordAuthEvent(r.Context(), storage.AuditLog{
		UserID:    uid,
		Event:     event,
		Status:    status,
		Detail:    detail,
		RequestID: rid,
	})
	if err != nil {
		s.log.WithContext(r.Context()).WithError(err).Error("failed to write audit log")
	}
}

const csrfHeader = "X-CSRF-Token"

// CSRFProtection rejects state-changing requests that ride on session cookies
// without the X-CSRF-Token header. A cross-site form cannot set the header, and
// CORS only lets the frontend origin send it. Bearer requests carry no ambient
// credentials and pass; so do requests without session cookies, which the auth
// handlers then refuse on their own.
func (s *Server) CSRFProtection(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
		default:
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("Authorization") != "" || r.Header.Get(csrfHeader) != "" {
			next.ServeHTTP(w, r)
			return
		}
		_, errAccess := r.Cookie(accessCookie)
		_, errRefresh := r.Cookie(refreshCookie)
		if errAccess != nil && errRefresh != nil {
			next.ServeHTTP(w, r)
			return
		}
		s.log.WithContext(r.Context()).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Warn("csrf: header missing on cookie request")
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "CSRF token missing"})
	})
}
