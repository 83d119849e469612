package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/caravela/api/internal/platform/httpx"
	"github.com/caravela/api/internal/services"
)

const maxWebhookBodySize = 512 * 1024

// WebhookHandlers receives payment provider notifications. Replayed
// deliveries acknowledge without re-running side effects.
type WebhookHandlers struct {
	payments services.PaymentService
}

// NewWebhookHandlers constructs webhook handlers.
func NewWebhookHandlers(payments services.PaymentService) *WebhookHandlers {
	return &WebhookHandlers{payments: payments}
}

// Routes registers webhook endpoints under the provided router.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/{provider}", h.receivePaymentEvent)
}

type webhookResponse struct {
	Received  bool   `json:"received"`
	EventID   string `json:"event_id,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Ignored   bool   `json:"ignored,omitempty"`
	OrderID   string `json:"order_id,omitempty"`
}

func (h *WebhookHandlers) receivePaymentEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhooks_unavailable", "payment webhook processing unavailable", http.StatusServiceUnavailable))
		return
	}

	provider := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		writeBodyError(w, r, err)
		return
	}

	result, err := h.payments.RecordWebhookEvent(ctx, services.PaymentWebhookCommand{
		Provider:  provider,
		Payload:   body,
		Signature: webhookSignature(r, provider),
	})
	if err != nil {
		writeWebhookError(w, r, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, webhookResponse{
		Received:  true,
		EventID:   result.EventID,
		Duplicate: result.Duplicate,
		Ignored:   result.Ignored,
		OrderID:   result.OrderID,
	})
}

func webhookSignature(r *http.Request, provider string) string {
	if provider == "stripe" {
		if sig := strings.TrimSpace(r.Header.Get("Stripe-Signature")); sig != "" {
			return sig
		}
	}
	return strings.TrimSpace(r.Header.Get("X-Webhook-Signature"))
}

func writeWebhookError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, services.ErrPaymentInvalidSignature):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentUnsupportedProvider):
		httpx.WriteError(ctx, w, httpx.NewError("unsupported_provider", "no such payment provider", http.StatusNotFound))
	case errors.Is(err, services.ErrPaymentOrderUnresolved):
		// Non-2xx keeps the provider retrying until the order becomes
		// visible.
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "no order matches the webhook", http.StatusNotFound))
	case errors.Is(err, services.ErrPaymentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("webhook_error", "failed to process webhook", http.StatusInternalServerError))
	}
}
