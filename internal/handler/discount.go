package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-discounts/internal/domain/discount"
)

// GetCartDiscounts renders the discounts applied to a stored cart.
func (h *Handler) GetCartDiscounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cartID := r.PathValue("cartID")

	cart, records, err := h.carts.Get(ctx, cartID)
	if err != nil {
		if errors.Is(err, discount.ErrCartNotFound) {
			writeError(w, http.StatusNotFound, "cart not found")
			return
		}
		zctx.From(ctx).Error("Get cart failed", zap.String("cart_id", cartID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.render(ctx, w, *cart, records)
}

// FormatDiscounts renders discounts supplied in the request body.
func (h *Handler) FormatDiscounts(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "request body too large or unreadable")
		return
	}

	cart, records, err := decodeFormatRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.render(r.Context(), w, cart, records)
}

// render formats records with a pooled formatter and writes the response.
// The formatter goes back to the pool, and so is reset, once the response is
// built.
func (h *Handler) render(ctx context.Context, w http.ResponseWriter, cart discount.Cart, records []discount.Record) {
	f := h.formatters.Get()
	defer h.formatters.Put(f)

	items, err := f.Format(ctx, cart, records)
	if err != nil {
		if errors.Is(err, discount.ErrLookupFailure) {
			zctx.From(ctx).Warn("Coupon lookup failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "coupon lookup failed")
			return
		}
		zctx.From(ctx).Error("Format discounts failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	var e jx.Encoder
	encodeDiscounts(&e, items)
	writeJSON(w, http.StatusOK, e.Bytes())
}
