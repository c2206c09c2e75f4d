package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/technosupport/ts-license/internal/auth"
	"github.com/technosupport/ts-license/internal/middleware"
)

type AuthHandler struct {
	Blacklist auth.TokenBlacklist
}

// Logout revokes the presented operator token until it would have expired.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	oc, ok := middleware.GetOperatorContext(r.Context())
	if !ok {
		respond(w, r, http.StatusUnauthorized, envelope{"detail": "authentication required"})
		return
	}
	if h.Blacklist == nil {
		respond(w, r, http.StatusServiceUnavailable, envelope{"detail": "token revocation is not configured"})
		return
	}

	ttl := time.Until(time.Unix(oc.ExpiresAt, 0))
	if err := h.Blacklist.AddToBlacklist(r.Context(), oc.TokenID, ttl); err != nil {
		writeError(w, r, err, nil)
		return
	}
	slog.InfoContext(r.Context(), "operator logged out", slog.String("operator", oc.OperatorID))
	w.WriteHeader(http.StatusNoContent)
}
