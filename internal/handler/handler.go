// Package handler exposes discount formatting over HTTP.
package handler

import (
	"net/http"

	"github.com/xenking/kart-discounts/internal/domain/discount"
)

// maxBodyBytes bounds request bodies accepted by POST endpoints.
const maxBodyBytes = 1 << 20

// Handler serves the discounts API, delegating formatting to pooled
// request-scoped formatters.
type Handler struct {
	carts      discount.CartRepository
	formatters *discount.FormatterPool
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(carts discount.CartRepository, formatters *discount.FormatterPool) *Handler {
	return &Handler{
		carts:      carts,
		formatters: formatters,
	}
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/carts/{cartID}/discounts", h.GetCartDiscounts)
	mux.HandleFunc("POST /api/discounts/format", h.FormatDiscounts)
}
