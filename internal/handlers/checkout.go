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
	"github.com/caravela/api/internal/platform/textutil"
	"github.com/caravela/api/internal/services"
)

const maxCheckoutBodySize = 16 * 1024

// CheckoutHandlers turns a ready cart into an order with a payment session.
type CheckoutHandlers struct {
	checkout          services.CheckoutService
	idempotencyHeader string
}

// NewCheckoutHandlers constructs checkout handlers. The idempotency header
// name matches the middleware configuration so the PSP call reuses the key.
func NewCheckoutHandlers(checkout services.CheckoutService, idempotencyHeader string) *CheckoutHandlers {
	header := strings.TrimSpace(idempotencyHeader)
	if header == "" {
		header = "Idempotency-Key"
	}
	return &CheckoutHandlers{
		checkout:          checkout,
		idempotencyHeader: header,
	}
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.submit)
}

type checkoutContactPayload struct {
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

type submitCheckoutRequest struct {
	SuccessURL        string                  `json:"success_url"`
	CancelURL         string                  `json:"cancel_url"`
	Provider          string                  `json:"provider"`
	Locale            string                  `json:"locale"`
	Contact           *checkoutContactPayload `json:"contact"`
	ShippingAddressID string                  `json:"shipping_address_id"`
	BillingAddressID  string                  `json:"billing_address_id"`
	Metadata          map[string]string       `json:"metadata"`
}

type checkoutSessionPayload struct {
	SessionID    string `json:"session_id"`
	RedirectURL  string `json:"redirect_url,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	ExpiresAt    string `json:"expires_at,omitempty"`
}

type submitCheckoutResponse struct {
	Order   orderPayload           `json:"order"`
	Session checkoutSessionPayload `json:"session"`
}

func (h *CheckoutHandlers) submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxCheckoutBodySize)
	if err != nil {
		writeBodyError(w, r, err)
		return
	}
	if len(body) == 0 {
		writeBodyError(w, r, errEmptyBody)
		return
	}

	var req submitCheckoutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	successURL := strings.TrimSpace(req.SuccessURL)
	cancelURL := strings.TrimSpace(req.CancelURL)
	if successURL == "" || cancelURL == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "success_url and cancel_url are required", http.StatusBadRequest))
		return
	}

	cmd := services.SubmitCheckoutCommand{
		UserID:            userID,
		SuccessURL:        successURL,
		CancelURL:         cancelURL,
		PSP:               strings.TrimSpace(req.Provider),
		Locale:            strings.TrimSpace(req.Locale),
		ShippingAddressID: strings.TrimSpace(req.ShippingAddressID),
		BillingAddressID:  strings.TrimSpace(req.BillingAddressID),
		IdempotencyKey:    strings.TrimSpace(r.Header.Get(h.idempotencyHeader)),
		Metadata:          textutil.NormalizeStringMap(req.Metadata),
	}
	if req.Contact != nil {
		cmd.Contact = domain.OrderContact{
			Email: strings.TrimSpace(req.Contact.Email),
			Phone: strings.TrimSpace(req.Contact.Phone),
		}
	}

	result, err := h.checkout.Submit(ctx, cmd)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	response := submitCheckoutResponse{
		Order: buildOrderPayload(result.Order),
		Session: checkoutSessionPayload{
			SessionID:    result.SessionID,
			RedirectURL:  result.RedirectURL,
			ClientSecret: result.ClientSecret,
			ExpiresAt:    formatTime(result.ExpiresAt),
		},
	}

	writeJSONResponse(w, http.StatusCreated, response)
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutCartNotReady):
		httpx.WriteError(ctx, w, httpx.NewError("cart_not_ready", "cart is not ready for checkout", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutPaymentFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_failed", "payment session could not be created", http.StatusBadGateway))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to process checkout request", http.StatusInternalServerError))
	}
}
