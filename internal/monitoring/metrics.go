package monitoring

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "assessmate",
			Subsystem: "http",
			Name:      "request_total",
			Help:      "Total number of HTTP requests by method, route and status code",
		},
		[]string{"method", "route", "code"},
	)

	// AuthCallbacks counts finished provider callbacks by outcome ("success" or an error code).
	AuthCallbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assessmate",
		Subsystem: "auth",
		Name:      "callbacks_total",
		Help:      "Finished OAuth callbacks by provider and outcome",
	}, []string{"provider", "outcome"})

	// AuthRedirects counts post-login pages rendered by redirect target.
	AuthRedirects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assessmate",
		Subsystem: "auth",
		Name:      "redirects_total",
		Help:      "Post-authentication redirects by target page",
	}, []string{"target"})

	RoleSelections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assessmate",
		Subsystem: "auth",
		Name:      "role_selections_total",
		Help:      "Completed role selections by role",
	}, []string{"role"})

	RateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "assessmate",
		Subsystem: "http",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the auth rate limiter",
	})

	AuditPruned = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "assessmate",
		Subsystem: "audit",
		Name:      "pruned_total",
		Help:      "Audit log entries removed by the cleanup worker",
	})
)

var initOnce sync.Once

// Init registers collectors with the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			AuthCallbacks,
			AuthRedirects,
			RoleSelections,
			RateLimited,
			AuditPruned,
		)
	})
}

// Handler returns a Prometheus metrics HTTP handler.
func Handler() http.Handler { return promhttp.Handler() }

// IncHTTP increments HTTP request counters.
func IncHTTP(method, route, code string) {
	httpRequestsTotal.WithLabelValues(method, route, code).Inc()
}

func IncAuthCallback(provider, outcome string) {
	AuthCallbacks.WithLabelValues(provider, outcome).Inc()
}

func IncAuthRedirect(target string) {
	AuthRedirects.WithLabelValues(target).Inc()
}

func IncRoleSelection(role string) {
	RoleSelections.WithLabelValues(role).Inc()
}
