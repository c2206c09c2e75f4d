package middleware

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/render"

	"github.com/technosupport/ts-license/internal/ratelimit"
)

type Config struct {
	ClientIP ratelimit.LimitConfig `yaml:"client_ip"`
	Operator ratelimit.LimitConfig `yaml:"operator"`
}

type RateLimitMiddleware struct {
	checker  ratelimit.Checker
	hashIP   func(string) string
	config   Config
	observer RateObserver
}

func NewRateLimitMiddleware(c ratelimit.Checker, hashIP func(string) string, cfg Config, o RateObserver) *RateLimitMiddleware {
	if hashIP == nil {
		hashIP = func(ip string) string { return ip }
	}
	return &RateLimitMiddleware{checker: c, hashIP: hashIP, config: cfg, observer: o}
}

// PerIP limits client endpoints by resolved client address.
func (m *RateLimitMiddleware) PerIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.config.ClientIP.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		ip := ClientIP(r.Context())
		if ip == "" {
			ip = resolveIP(r, nil)
		}
		key := "rl:ip:" + m.hashIP(ip)
		if m.allow(w, r, ratelimit.ScopeIP, key, m.config.ClientIP) {
			next.ServeHTTP(w, r)
		}
	})
}

// PerOperator limits authenticated operators by subject. Must run after JWTAuth.
func (m *RateLimitMiddleware) PerOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		oc, ok := GetOperatorContext(r.Context())
		if !ok || !m.config.Operator.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		key := "rl:operator:" + oc.OperatorID
		if m.allow(w, r, ratelimit.ScopeOperator, key, m.config.Operator) {
			next.ServeHTTP(w, r)
		}
	})
}

func (m *RateLimitMiddleware) allow(w http.ResponseWriter, r *http.Request, scope ratelimit.Scope, key string, cfg ratelimit.LimitConfig) bool {
	decision, err := m.checker.CheckRateLimit(r.Context(), key, cfg)
	if err != nil {
		// Fail open.
		slog.WarnContext(r.Context(), "rate limit check failed", slog.String("scope", string(scope)), slog.Any("error", err))
		return true
	}

	writeRateLimitHeaders(w, decision)
	if decision.Allowed {
		return true
	}

	if m.observer != nil {
		m.observer.RateLimited(string(scope))
	}
	render.Status(r, http.StatusTooManyRequests)
	render.JSON(w, r, map[string]string{"detail": "rate limit exceeded"})
	return false
}

func writeRateLimitHeaders(w http.ResponseWriter, d *ratelimit.Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
	if !d.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfter))
	}
}
