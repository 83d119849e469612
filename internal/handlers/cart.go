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
	"github.com/caravela/api/internal/repositories"
	"github.com/caravela/api/internal/services"
)

const maxCartBodySize = 16 * 1024

// CartHandlers exposes the shopping cart endpoints for authenticated users.
type CartHandlers struct {
	carts services.CartService
}

// NewCartHandlers constructs cart handlers.
func NewCartHandlers(carts services.CartService) *CartHandlers {
	return &CartHandlers{carts: carts}
}

// Routes registers cart endpoints under the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Put("/items", h.upsertItem)
	r.Delete("/items/{itemID}", h.removeItem)
	r.Get("/estimate", h.estimate)
	r.Post("/coupon", h.applyCoupon)
	r.Delete("/coupon", h.removeCoupon)
}

type cartCustomizationPayload struct {
	OptionID string `json:"option_id"`
	Quantity int    `json:"quantity"`
}

type cartItemPayload struct {
	ID             string                     `json:"id"`
	ProductID      string                     `json:"product_id"`
	FlavorID       string                     `json:"flavor_id,omitempty"`
	Quantity       int                        `json:"quantity"`
	Customizations []cartCustomizationPayload `json:"customizations,omitempty"`
	Notes          string                     `json:"notes,omitempty"`
	AddedAt        string                     `json:"added_at,omitempty"`
	UpdatedAt      string                     `json:"updated_at,omitempty"`
}

type cartCouponPayload struct {
	Code           string `json:"code"`
	DiscountAmount int64  `json:"discount_amount"`
	Applied        bool   `json:"applied"`
}

type cartEstimatePayload struct {
	Subtotal  int64 `json:"subtotal"`
	Shipping  int64 `json:"shipping"`
	Discount  int64 `json:"discount"`
	Total     int64 `json:"total"`
	ItemCount int   `json:"item_count"`
}

type cartPayload struct {
	ID        string               `json:"id"`
	UserID    string               `json:"user_id"`
	Currency  string               `json:"currency,omitempty"`
	Items     []cartItemPayload    `json:"items"`
	Coupon    *cartCouponPayload   `json:"coupon,omitempty"`
	Estimate  *cartEstimatePayload `json:"estimate,omitempty"`
	CreatedAt string               `json:"created_at,omitempty"`
	UpdatedAt string               `json:"updated_at,omitempty"`
}

type upsertCartItemRequest struct {
	ItemID         *string                    `json:"item_id"`
	ProductID      string                     `json:"product_id"`
	FlavorID       string                     `json:"flavor_id"`
	Quantity       int                        `json:"quantity"`
	Customizations []cartCustomizationPayload `json:"customizations"`
	Notes          string                     `json:"notes"`
}

type applyCouponRequest struct {
	Code string `json:"code"`
}

type applyCouponResponse struct {
	Cart    cartPayload          `json:"cart"`
	Outcome couponOutcomePayload `json:"outcome"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	cart, err := h.carts.GetOrCreateCart(ctx, userID)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildCartPayload(cart))
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.carts.ClearCart(ctx, userID); err != nil {
		writeCartError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandlers) upsertItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeBodyError(w, r, err)
		return
	}
	if len(body) == 0 {
		writeBodyError(w, r, errEmptyBody)
		return
	}

	var req upsertCartItemRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	cmd := services.UpsertCartItemCommand{
		UserID:    userID,
		ItemID:    req.ItemID,
		ProductID: strings.TrimSpace(req.ProductID),
		FlavorID:  strings.TrimSpace(req.FlavorID),
		Quantity:  req.Quantity,
		Notes:     strings.TrimSpace(req.Notes),
	}
	for _, selection := range req.Customizations {
		cmd.Customizations = append(cmd.Customizations, domain.CustomizationSelection{
			OptionID: strings.TrimSpace(selection.OptionID),
			Quantity: selection.Quantity,
		})
	}

	cart, err := h.carts.AddOrUpdateItem(ctx, cmd)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildCartPayload(cart))
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	itemID := strings.TrimSpace(chi.URLParam(r, "itemID"))
	if itemID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "item id is required", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.RemoveItem(ctx, services.RemoveCartItemCommand{
		UserID: userID,
		ItemID: itemID,
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildCartPayload(cart))
}

func (h *CartHandlers) estimate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	estimate, err := h.carts.Estimate(ctx, userID)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildCartEstimatePayload(estimate))
}

func (h *CartHandlers) applyCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeBodyError(w, r, err)
		return
	}

	var req applyCouponRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
	}

	code := strings.TrimSpace(req.Code)
	if code == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "coupon code is required", http.StatusBadRequest))
		return
	}

	cart, outcome, err := h.carts.ApplyCoupon(ctx, services.CartCouponCommand{
		UserID: userID,
		Code:   code,
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, applyCouponResponse{
		Cart:    buildCartPayload(cart),
		Outcome: buildCouponOutcomePayload(outcome),
	})
}

func (h *CartHandlers) removeCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	cart, err := h.carts.RemoveCoupon(ctx, userID)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildCartPayload(cart))
}

func buildCartPayload(cart domain.Cart) cartPayload {
	payload := cartPayload{
		ID:        cart.ID,
		UserID:    cart.UserID,
		Currency:  cart.Currency,
		Items:     make([]cartItemPayload, 0, len(cart.Items)),
		CreatedAt: formatTime(cart.CreatedAt),
		UpdatedAt: formatTime(cart.UpdatedAt),
	}

	for _, item := range cart.Items {
		line := cartItemPayload{
			ID:        item.ID,
			ProductID: item.ProductID,
			FlavorID:  item.FlavorID,
			Quantity:  item.Quantity,
			Notes:     item.Notes,
			AddedAt:   formatTime(item.AddedAt),
			UpdatedAt: formatTime(pointerTime(item.UpdatedAt)),
		}
		for _, selection := range item.Customizations {
			line.Customizations = append(line.Customizations, cartCustomizationPayload{
				OptionID: selection.OptionID,
				Quantity: selection.Quantity,
			})
		}
		payload.Items = append(payload.Items, line)
	}

	if cart.Coupon != nil {
		payload.Coupon = &cartCouponPayload{
			Code:           cart.Coupon.Code,
			DiscountAmount: cart.Coupon.DiscountAmount,
			Applied:        cart.Coupon.Applied,
		}
	}
	if cart.Estimate != nil {
		estimate := buildCartEstimatePayload(*cart.Estimate)
		payload.Estimate = &estimate
	}

	return payload
}

func buildCartEstimatePayload(estimate domain.CartEstimate) cartEstimatePayload {
	return cartEstimatePayload{
		Subtotal:  estimate.Subtotal,
		Shipping:  estimate.Shipping,
		Discount:  estimate.Discount,
		Total:     estimate.Total,
		ItemCount: estimate.ItemCount,
	}
}

func writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_not_found", "cart or cart item not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartConflict):
		httpx.WriteError(ctx, w, httpx.NewError("cart_conflict", "cart changed concurrently; retry", http.StatusConflict))
	case errors.Is(err, services.ErrCartUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("cart_unavailable", "cart service unavailable", http.StatusServiceUnavailable))
	default:
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsUnavailable() {
			httpx.WriteError(ctx, w, httpx.NewError("cart_unavailable", "cart storage unavailable", http.StatusServiceUnavailable))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "failed to process cart request", http.StatusInternalServerError))
	}
}
