package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/render"

	"github.com/technosupport/ts-license/internal/auth"
	"github.com/technosupport/ts-license/internal/tokens"
)

type TokenValidator interface {
	ValidateToken(tokenString string) (*tokens.Claims, error)
}

type JWTAuth struct {
	tokens    TokenValidator
	blacklist auth.TokenBlacklist
	observer  AuthObserver
}

// NewJWTAuth builds operator authentication. blacklist may be nil, in which
// case tokens stay valid until they expire.
func NewJWTAuth(t TokenValidator, b auth.TokenBlacklist, o AuthObserver) *JWTAuth {
	return &JWTAuth{tokens: t, blacklist: b, observer: o}
}

func (m *JWTAuth) reject(w http.ResponseWriter, r *http.Request, reason string) {
	if m.observer != nil {
		m.observer.AuthFailure("operator")
	}
	slog.InfoContext(r.Context(), "operator auth rejected",
		slog.String("reason", reason), slog.String("path", r.URL.Path), slog.String("request_id", RequestID(r.Context())))
	render.Status(r, http.StatusUnauthorized)
	render.JSON(w, r, map[string]string{"detail": "authentication required"})
}

// Middleware verifies the bearer token and injects OperatorContext.
func (m *JWTAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		scheme, tokenString, ok := strings.Cut(authHeader, " ")
		if !ok || scheme != "Bearer" || tokenString == "" {
			m.reject(w, r, "missing bearer token")
			return
		}

		claims, err := m.tokens.ValidateToken(tokenString)
		if err != nil {
			m.reject(w, r, "invalid token")
			return
		}
		if claims.TokenType != tokens.Operator {
			m.reject(w, r, "wrong token type")
			return
		}

		if m.blacklist != nil {
			blacklisted, err := m.blacklist.IsBlacklisted(r.Context(), claims.ID)
			if err != nil {
				// Fail closed.
				slog.ErrorContext(r.Context(), "blacklist lookup failed", slog.Any("error", err))
				m.reject(w, r, "blacklist unavailable")
				return
			}
			if blacklisted {
				m.reject(w, r, "revoked token")
				return
			}
		}

		oc := &OperatorContext{
			OperatorID: claims.OperatorID,
			TokenID:    claims.ID,
			Scopes:     claims.Scopes,
		}
		if claims.ExpiresAt != nil {
			oc.ExpiresAt = claims.ExpiresAt.Unix()
		}
		next.ServeHTTP(w, r.WithContext(WithOperatorContext(r.Context(), oc)))
	})
}

// RequireScope rejects operators whose token lacks scope.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			oc, ok := GetOperatorContext(r.Context())
			if !ok || !oc.HasScope(scope) {
				render.Status(r, http.StatusForbidden)
				render.JSON(w, r, map[string]string{"detail": "missing scope " + scope})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
