package backend

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chmw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"github.com/TiredShaman/assessmatefinal/internal/logging"
	"github.com/TiredShaman/assessmatefinal/internal/monitoring"
	"github.com/TiredShaman/assessmatefinal/internal/oauth"
	"github.com/TiredShaman/assessmatefinal/internal/sessions"
	"github.com/TiredShaman/assessmatefinal/internal/storage"
)

type MonitoringConfig struct {
	MetricsEndpoint string
	HealthzEndpoint string
}

// RateLimitConfig bounds requests per client IP on the /auth routes. Zero RPS disables it.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

type Config struct {
	Store           *storage.Store
	Logger          *logrus.Logger
	Version         string
	CORSAllowOrigin []string
	Monitoring      MonitoringConfig

	JWTSecret   string
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
	AuditLogTTL time.Duration
	RateLimit   RateLimitConfig

	OAuth        oauth.Config
	SessionStore sessions.Store

	DevLoginEnabled bool
	SkipWorkers     bool
}

type Server struct {
	Router   chi.Router
	store    *storage.Store
	log      *logrus.Logger
	cfg      Config
	sessions sessions.Store
	oauth    *oauth.Handler
	limiter  *IPRateLimiter

	stop      chan struct{}
	closeOnce sync.Once
}

// Close stops the background workers. The session store is owned by the caller.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.stop)
		if s.limiter != nil {
			s.limiter.Close()
		}
	})
}

// NewServer wires the HTTP surface. It refuses to start without a valid frontend URL
// or a JWT secret.
func NewServer(cfg Config) (*Server, error) {
	if err := cfg.OAuth.Validate(); err != nil {
		return nil, fmt.Errorf("oauth config: %w", err)
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	if cfg.Logger == nil {
		logging.Init(false, false)
		cfg.Logger = logging.L()
	}
	if cfg.Monitoring.MetricsEndpoint == "" {
		cfg.Monitoring.MetricsEndpoint = "/metrics"
	}
	if cfg.Monitoring.HealthzEndpoint == "" {
		cfg.Monitoring.HealthzEndpoint = "/healthz"
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 30 * 24 * time.Hour
	}
	if cfg.SessionStore == nil {
		cfg.SessionStore = sessions.NewMemoryStore()
	}

	monitoring.Init()

	s := &Server{store: cfg.Store, log: cfg.Logger, cfg: cfg, sessions: cfg.SessionStore, stop: make(chan struct{})}
	oa, err := oauth.NewHandler(s.store, s.log, cfg.OAuth, s.sessions, s.issueTokens)
	if err != nil {
		return nil, fmt.Errorf("oauth handler: %w", err)
	}
	s.oauth = oa

	r := chi.NewRouter()
	s.Router = r

	r.Use(chmw.RequestID)
	r.Use(chmw.RealIP)
	r.Use(chmw.Recoverer)
	r.Use(RequestLogger(cfg.Logger, cfg.Monitoring.HealthzEndpoint+"/alive", cfg.Monitoring.HealthzEndpoint+"/ready"))
	r.Use(SecurityHeaders())
	r.Use(Language)
	r.Use(s.JWTAuth)
	r.Use(cors.Handler(s.corsOptions()))

	r.Route("/auth", func(r chi.Router) {
		if cfg.RateLimit.RPS > 0 {
			s.limiter = NewIPRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
			r.Use(s.limiter.Middleware)
		}
		r.Get("/login", s.handleLoginPage)
		r.Get("/google/login", oa.HandleGoogleLogin)
		r.Get("/google/callback", oa.HandleGoogleCallback)
		r.Get("/oidc/login", oa.HandleOIDCLogin)
		r.Get("/oidc/callback", oa.HandleOIDCCallback)
		r.Get("/dev/login", s.handleDevLogin)
	})

	r.Route(cfg.Monitoring.HealthzEndpoint, func(r chi.Router) {
		r.Get("/alive", s.handleAlive)
		r.Get("/ready", s.handleReady)
	})
	r.Handle(cfg.Monitoring.MetricsEndpoint, monitoring.Handler())

	r.Get("/.well-known/oauth-protected-resource", s.handleProtectedResourceMetadata)
	r.Get("/.well-known/oauth-protected-resource/*", s.handleProtectedResourceMetadata)
	r.Get("/.well-known/oauth-authorization-server", s.handleAuthorizationServerMetadata)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.CSRFProtection)
		r.Get("/config", s.handleGetConfig)
		r.Route("/auth", func(r chi.Router) {
			r.Post("/refresh", s.handleRefresh)
			r.Post("/logout", s.handleLogout)
			r.Group(func(r chi.Router) {
				r.Use(s.RequireAuth)
				r.Get("/validate", s.handleValidate)
				r.Post("/role", s.handleSelectRole)
				r.Get("/audit", s.handleGetAudit)
			})
		})
	})

	if !cfg.SkipWorkers {
		s.startAuditLogCleanup(time.Hour)
	}

	return s, nil
}

func (s *Server) corsOptions() cors.Options {
	co := cors.Options{
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", csrfHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}
	origins := s.cfg.CORSAllowOrigin
	if len(origins) == 0 {
		// the frontend is the only expected browser origin
		if u, err := url.Parse(s.oauth.Responder().FrontendURL()); err == nil {
			origins = []string{u.Scheme + "://" + u.Host}
		}
	}
	for _, o := range origins {
		if o == "*" {
			co.AllowCredentials = false
		}
	}
	co.AllowedOrigins = origins
	return co
}

func (s *Server) handleAlive(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.store == nil || s.store.DB == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if err := s.store.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":        s.cfg.Version,
		"google_enabled": s.oauth.GoogleEnabled(),
		"oidc_enabled":   s.oauth.OIDCEnabled(),
		"dev_login":      s.cfg.DevLoginEnabled,
		"frontend_url":   s.oauth.Responder().FrontendURL(),
	})
}

// helpers
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
