package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/technosupport/ts-license/internal/data"
	"github.com/technosupport/ts-license/internal/license"
	"github.com/technosupport/ts-license/internal/middleware"
)

// LicenseService is the part of license.Service the HTTP layer uses.
type LicenseService interface {
	Activate(ctx context.Context, req license.ActivateRequest, meta license.RequestMeta) (*license.ActivateResult, error)
	Validate(ctx context.Context, req license.ValidateRequest, meta license.RequestMeta) (*license.ValidateResult, error)
	Renew(ctx context.Context, req license.RenewRequest, meta license.RequestMeta) (*license.RenewResult, error)

	List(ctx context.Context, q license.ListQuery) ([]license.LicenseView, error)
	Get(ctx context.Context, key string) (*license.LicenseView, error)
	SetActive(ctx context.Context, key string, active bool, meta license.RequestMeta) (*license.LicenseView, error)

	ListProducts(ctx context.Context) ([]data.Product, error)
	CreateProduct(ctx context.Context, req license.CreateProductRequest) (*data.Product, error)
	SetProductActive(ctx context.Context, id int64, active bool) error
}

type LicenseHandler struct {
	Service LicenseService
}

func requestMeta(r *http.Request) license.RequestMeta {
	return license.RequestMeta{
		IPAddress: middleware.ClientIP(r.Context()),
		UserAgent: r.UserAgent(),
		RequestID: middleware.RequestID(r.Context()),
	}
}

func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	var req license.ActivateRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		decodeError(w, r, err, nil)
		return
	}

	res, err := h.Service.Activate(r.Context(), req, requestMeta(r))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	respond(w, r, http.StatusCreated, envelope{"success": true, "message": "license activated", "data": res})
}

type validatePayload struct {
	ProductName   string `json:"software_name,omitempty"`
	CustomerEmail string `json:"customer_email,omitempty"`
	ExpiresAt     any    `json:"expires_at"`
	DaysRemaining *int   `json:"days_remaining,omitempty"`
}

func (h *LicenseHandler) Validate(w http.ResponseWriter, r *http.Request) {
	invalid := envelope{"valid": false}

	var req license.ValidateRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		decodeError(w, r, err, invalid)
		return
	}

	res, err := h.Service.Validate(r.Context(), req, requestMeta(r))
	if err != nil {
		writeError(w, r, err, invalid)
		return
	}

	switch {
	case res.Valid:
		days := res.DaysRemaining
		respond(w, r, http.StatusOK, envelope{"success": true, "valid": true, "message": "license is valid",
			"data": validatePayload{ProductName: res.ProductName, CustomerEmail: res.CustomerEmail, ExpiresAt: res.ExpiresAt, DaysRemaining: &days}})
	case res.Found:
		respond(w, r, http.StatusOK, envelope{"success": true, "valid": false, "message": "license has expired",
			"data": validatePayload{ExpiresAt: res.ExpiresAt}})
	default:
		respond(w, r, http.StatusOK, envelope{"success": true, "valid": false, "message": "license not found or invalid"})
	}
}

func (h *LicenseHandler) Renew(w http.ResponseWriter, r *http.Request) {
	var req license.RenewRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		decodeError(w, r, err, nil)
		return
	}

	res, err := h.Service.Renew(r.Context(), req, requestMeta(r))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	respond(w, r, http.StatusOK, envelope{"success": true, "message": "license renewed", "data": res})
}

// List serves GET /api/licenses?software_id=&email=&active_only=&limit=&offset=
func (h *LicenseHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var lq license.ListQuery
	fields := map[string][]string{}

	if v := q.Get("software_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			fields["software_id"] = []string{"must be an integer"}
		} else {
			lq.ProductID = &id
		}
	}
	lq.Email = q.Get("email")
	if v := q.Get("active_only"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			fields["active_only"] = []string{"must be a boolean"}
		}
		lq.ActiveOnly = b
	}
	lq.Limit, _ = strconv.Atoi(q.Get("limit"))
	lq.Offset, _ = strconv.Atoi(q.Get("offset"))

	if len(fields) > 0 {
		badRequest(w, r, fields, nil)
		return
	}

	views, err := h.Service.List(r.Context(), lq)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	respond(w, r, http.StatusOK, envelope{"results": views, "count": len(views)})
}

func (h *LicenseHandler) Get(w http.ResponseWriter, r *http.Request) {
	view, err := h.Service.Get(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	respond(w, r, http.StatusOK, view)
}

func (h *LicenseHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *LicenseHandler) Enable(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

func (h *LicenseHandler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	view, err := h.Service.SetActive(r.Context(), chi.URLParam(r, "key"), active, requestMeta(r))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	respond(w, r, http.StatusOK, view)
}
