package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/render"

	"github.com/technosupport/ts-license/internal/audit"
	"github.com/technosupport/ts-license/internal/license"
	"github.com/technosupport/ts-license/internal/middleware"
)

type envelope map[string]any

func respond(w http.ResponseWriter, r *http.Request, status int, body any) {
	render.Status(r, status)
	render.JSON(w, r, body)
}

// badRequest reports field errors in the {"errors": {field: [messages]}} shape.
func badRequest(w http.ResponseWriter, r *http.Request, fields map[string][]string, extra envelope) {
	body := envelope{"success": false, "message": "invalid input", "errors": fields}
	for k, v := range extra {
		body[k] = v
	}
	respond(w, r, http.StatusBadRequest, body)
}

// writeError maps service errors onto HTTP responses. Anything unrecognised
// is logged, reported to Sentry and answered with an opaque 500.
func writeError(w http.ResponseWriter, r *http.Request, err error, extra envelope) {
	var ve *license.ValidationError
	switch {
	case errors.As(err, &ve):
		badRequest(w, r, ve.Fields, extra)
	case errors.Is(err, license.ErrConflict):
		respond(w, r, http.StatusConflict, envelope{"success": false, "message": "concurrent request for the same machine, retry"})
	case errors.Is(err, license.ErrLicenseNotFound), errors.Is(err, license.ErrProductNotFound):
		respond(w, r, http.StatusNotFound, envelope{"success": false, "message": err.Error()})
	case errors.Is(err, audit.ErrInvalidCursor):
		badRequest(w, r, map[string][]string{"cursor": {err.Error()}}, nil)
	default:
		slog.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.RequestID(r.Context())),
			slog.Any("error", err))
		if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
			hub.CaptureException(err)
		} else {
			sentry.CaptureException(err)
		}
		body := envelope{"success": false, "message": "internal server error"}
		for k, v := range extra {
			body[k] = v
		}
		respond(w, r, http.StatusInternalServerError, body)
	}
}

func decodeError(w http.ResponseWriter, r *http.Request, err error, extra envelope) {
	badRequest(w, r, map[string][]string{license.NonFieldErrors: {"malformed JSON body: " + err.Error()}}, extra)
}
