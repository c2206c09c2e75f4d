package api

import (
	"log/slog"
	"net/http"
	"net/netip"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/technosupport/ts-license/internal/auth"
	"github.com/technosupport/ts-license/internal/metrics"
	"github.com/technosupport/ts-license/internal/middleware"
	"github.com/technosupport/ts-license/internal/tokens"
)

type RouterConfig struct {
	Licenses    LicenseService
	Audit       AuditReader
	ClientAuth  middleware.Verifier
	Operators   middleware.TokenValidator
	Blacklist   auth.TokenBlacklist
	RateLimit   *middleware.RateLimitMiddleware
	Metrics     *metrics.Collector
	DB          Pinger
	Logger      *slog.Logger
	Environment string
	CORSOrigins []string

	// Peers allowed to set X-Forwarded-For. Empty means the header is ignored.
	TrustedProxies []netip.Prefix
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var (
		authObs middleware.AuthObserver
		httpObs middleware.HTTPObserver
	)
	if cfg.Metrics != nil {
		authObs, httpObs = cfg.Metrics, cfg.Metrics
	}

	licenses := &LicenseHandler{Service: cfg.Licenses}
	products := &ProductHandler{Service: cfg.Licenses}
	logs := &AuditHandler{Trail: cfg.Audit}
	operators := &AuthHandler{Blacklist: cfg.Blacklist}
	health := &HealthHandler{Environment: cfg.Environment, DB: cfg.DB}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(sentryhttp.New(sentryhttp.Options{Repanic: true}).Handle)
	r.Use(middleware.RealIP(cfg.TrustedProxies))
	r.Use(middleware.RequestLogger(logger, httpObs))
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(chimw.StripSlashes)

	r.Get("/", health.GetHealth)
	r.Get("/health", health.GetHealth)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		// Client surface: shared-secret token.
		r.Group(func(r chi.Router) {
			if cfg.RateLimit != nil {
				r.Use(cfg.RateLimit.PerIP)
			}
			r.Use(middleware.APIToken(cfg.ClientAuth, authObs))

			r.Get("/software", products.List)
			r.Post("/licenses/activate", licenses.Activate)
			r.Post("/licenses/validate", licenses.Validate)
			r.Post("/licenses/renew", licenses.Renew)
		})

		// Operator surface: JWT bearer with scopes.
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewJWTAuth(cfg.Operators, cfg.Blacklist, authObs).Middleware)
			if cfg.RateLimit != nil {
				r.Use(cfg.RateLimit.PerOperator)
			}

			r.Post("/operator/logout", operators.Logout)

			r.With(middleware.RequireScope(tokens.ScopeLicenseRead)).Get("/licenses", licenses.List)
			r.With(middleware.RequireScope(tokens.ScopeLicenseRead)).Get("/licenses/{key}", licenses.Get)
			r.With(middleware.RequireScope(tokens.ScopeLicenseManage)).Post("/licenses/{key}/revoke", licenses.Revoke)
			r.With(middleware.RequireScope(tokens.ScopeLicenseManage)).Post("/licenses/{key}/enable", licenses.Enable)

			r.With(middleware.RequireScope(tokens.ScopeProductManage)).Post("/software", products.Create)
			r.With(middleware.RequireScope(tokens.ScopeProductManage)).Post("/software/{id}/disable", products.Disable)
			r.With(middleware.RequireScope(tokens.ScopeProductManage)).Post("/software/{id}/enable", products.Enable)

			r.With(middleware.RequireScope(tokens.ScopeAuditRead)).Get("/logs", logs.GetLogs)
			r.With(middleware.RequireScope(tokens.ScopeAuditRead)).Get("/logs/export", logs.ExportLogs)
		})
	})

	return r
}
