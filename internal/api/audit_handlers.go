package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/technosupport/ts-license/internal/audit"
)

// AuditReader is the read side of audit.Trail. Nothing on the HTTP surface can
// modify or delete entries.
type AuditReader interface {
	Query(ctx context.Context, f audit.Filter) ([]audit.Entry, string, error)
	Export(ctx context.Context, f audit.Filter, w io.Writer) (int, error)
}

type AuditHandler struct {
	Trail AuditReader
}

func parseAuditFilter(r *http.Request) (audit.Filter, map[string][]string) {
	q := r.URL.Query()
	f := audit.Filter{Cursor: q.Get("cursor")}
	fields := map[string][]string{}

	if v := q.Get("license_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			fields["license_id"] = []string{"must be an integer"}
		} else {
			f.LicenseID = &id
		}
	}
	if v := q.Get("action"); v != "" {
		f.Action = audit.Action(v)
		if !f.Action.Valid() {
			fields["action"] = []string{"must be one of activate, validate, renew, revoke"}
		}
	}
	if v := q.Get("success"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			fields["success"] = []string{"must be a boolean"}
		} else {
			f.Success = &b
		}
	}
	if v := q.Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil {
			f.Limit = l
		}
	}
	return f, fields
}

func (h *AuditHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	f, fields := parseAuditFilter(r)
	if len(fields) > 0 {
		badRequest(w, r, fields, nil)
		return
	}

	entries, next, err := h.Trail.Query(r.Context(), f)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	respond(w, r, http.StatusOK, envelope{"results": entries, "next_cursor": next})
}

// ExportLogs streams JSON lines. Headers are committed before the first row,
// so a mid-stream failure can only be logged.
func (h *AuditHandler) ExportLogs(w http.ResponseWriter, r *http.Request) {
	f, fields := parseAuditFilter(r)
	if len(fields) > 0 {
		badRequest(w, r, fields, nil)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="activation_logs_%s.jsonl"`, time.Now().UTC().Format("20060102T150405Z")))
	w.WriteHeader(http.StatusOK)

	n, err := h.Trail.Export(r.Context(), f, w)
	if err != nil {
		slog.ErrorContext(r.Context(), "audit export interrupted", slog.Int("rows", n), slog.Any("error", err))
		return
	}
	slog.InfoContext(r.Context(), "audit export", slog.Int("rows", n))
}
