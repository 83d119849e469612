package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/caravela/api/internal/domain"
	"github.com/caravela/api/internal/platform/httpx"
	"github.com/caravela/api/internal/services"
)

const maxCouponBodySize = 8 * 1024

// CouponHandlers exposes the public coupon validation endpoint. Validation
// never consumes usage; redemption happens during checkout pricing.
type CouponHandlers struct {
	coupons services.CouponService
}

// NewCouponHandlers constructs coupon handlers.
func NewCouponHandlers(coupons services.CouponService) *CouponHandlers {
	return &CouponHandlers{coupons: coupons}
}

// Routes registers the coupon endpoints against the API root.
func (h *CouponHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/coupons/{code}:validate", h.validate)
}

type validateCouponRequest struct {
	Subtotal int64 `json:"subtotal"`
	Shipping int64 `json:"shipping"`
}

type couponOutcomePayload struct {
	Code           string `json:"code"`
	Applied        bool   `json:"applied"`
	Reason         string `json:"reason,omitempty"`
	DiscountAmount int64  `json:"discount_amount"`
}

func (h *CouponHandlers) validate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupons_unavailable", "coupon service unavailable", http.StatusServiceUnavailable))
		return
	}

	code := strings.TrimSpace(chi.URLParam(r, "code"))
	if code == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "coupon code is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxCouponBodySize)
	if err != nil {
		writeBodyError(w, r, err)
		return
	}

	var req validateCouponRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
	}
	if req.Subtotal < 0 || req.Shipping < 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "subtotal and shipping must not be negative", http.StatusBadRequest))
		return
	}

	outcome, err := h.coupons.Validate(ctx, services.ValidateCouponCommand{
		Code:     code,
		UserID:   userIDFromRequest(r),
		Subtotal: req.Subtotal,
		Shipping: req.Shipping,
	})
	if err != nil {
		writeCouponError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildCouponOutcomePayload(outcome))
}

func buildCouponOutcomePayload(outcome domain.CouponOutcome) couponOutcomePayload {
	return couponOutcomePayload{
		Code:           outcome.Code,
		Applied:        outcome.Applied,
		Reason:         string(outcome.Reason),
		DiscountAmount: outcome.DiscountAmount,
	}
}

func writeCouponError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCouponInvalidCode), errors.Is(err, services.ErrCouponInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCouponNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_not_found", "coupon not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCouponCodeExists):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_exists", "coupon code already exists", http.StatusConflict))
	case errors.Is(err, services.ErrCouponStoreUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("coupons_unavailable", "coupon store unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("coupon_error", "failed to process coupon request", http.StatusInternalServerError))
	}
}
