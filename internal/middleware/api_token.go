package middleware

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
)

const (
	TokenHeader     = "X-API-TOKEN"
	TokenQueryParam = "token"
)

// Verifier checks a client-presented token.
type Verifier interface {
	Verify(token string) bool
}

// PresentedToken reads the client token. The header wins over the query
// parameter when both are present.
func PresentedToken(r *http.Request) string {
	if t := r.Header.Get(TokenHeader); t != "" {
		return t
	}
	return r.URL.Query().Get(TokenQueryParam)
}

// APIToken gates client endpoints. Every failure gets the same 403 body so
// callers cannot tell a missing token from a wrong one.
func APIToken(v Verifier, o AuthObserver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v.Verify(PresentedToken(r)) {
				next.ServeHTTP(w, r)
				return
			}
			if o != nil {
				o.AuthFailure("client")
			}
			slog.InfoContext(r.Context(), "client token rejected",
				slog.String("path", r.URL.Path), slog.String("ip", ClientIP(r.Context())),
				slog.String("request_id", RequestID(r.Context())))
			render.Status(r, http.StatusForbidden)
			render.JSON(w, r, map[string]string{"detail": "access denied"})
		})
	}
}
