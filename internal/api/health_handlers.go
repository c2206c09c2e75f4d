package api

import (
	"context"
	"net/http"
	"time"
)

type Pinger interface {
	PingContext(ctx context.Context) error
}

type HealthHandler struct {
	Environment string
	DB          Pinger
}

func (h *HealthHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	body := envelope{"status": "healthy", "environment": h.Environment}
	status := http.StatusOK

	if h.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.DB.PingContext(ctx); err != nil {
			body["status"] = "degraded"
			body["database"] = "unavailable"
			status = http.StatusServiceUnavailable
		} else {
			body["database"] = "ok"
		}
	}
	respond(w, r, status, body)
}
