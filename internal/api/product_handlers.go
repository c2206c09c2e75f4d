package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/technosupport/ts-license/internal/license"
)

type ProductHandler struct {
	Service LicenseService
}

// List returns active products. Client-facing, token gated.
func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	products, err := h.Service.ListProducts(r.Context())
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	respond(w, r, http.StatusOK, products)
}

func (h *ProductHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req license.CreateProductRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		decodeError(w, r, err, nil)
		return
	}
	p, err := h.Service.CreateProduct(r.Context(), req)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	respond(w, r, http.StatusCreated, p)
}

func (h *ProductHandler) Disable(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *ProductHandler) Enable(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

func (h *ProductHandler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(w, r, map[string][]string{"id": {"must be a positive integer"}}, nil)
		return
	}
	if err := h.Service.SetProductActive(r.Context(), id, active); err != nil {
		writeError(w, r, err, nil)
		return
	}
	respond(w, r, http.StatusOK, envelope{"id": id, "is_active": active})
}
