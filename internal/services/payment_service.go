package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/caravela/api/internal/domain"
	"github.com/caravela/api/internal/payments"
	"github.com/caravela/api/internal/repositories"
)

const paymentEventIDPrefix = "evt_"

var (
	// ErrPaymentInvalidInput signals a malformed webhook command.
	ErrPaymentInvalidInput = errors.New("payment service: invalid input")
	// ErrPaymentInvalidSignature indicates the delivery failed signature verification.
	ErrPaymentInvalidSignature = errors.New("payment service: invalid webhook signature")
	// ErrPaymentUnsupportedProvider indicates no provider is registered for the delivery.
	ErrPaymentUnsupportedProvider = errors.New("payment service: unsupported provider")
	// ErrPaymentOrderUnresolved indicates the delivery references no known order.
	ErrPaymentOrderUnresolved = errors.New("payment service: order not found for webhook")
)

// PaymentGateway verifies and parses signed provider webhook deliveries.
type PaymentGateway interface {
	ParseWebhook(provider string, payload []byte, signature string) (payments.WebhookEvent, error)
}

// PaymentServiceDeps bundles collaborators for webhook processing.
type PaymentServiceDeps struct {
	Gateway PaymentGateway
	Events  repositories.PaymentEventRepository
	Orders  OrderService
	// Loyalty is optional; when set, successful payments credit points.
	Loyalty     LoyaltyService
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(context.Context, string, map[string]any)
}

type paymentService struct {
	gateway PaymentGateway
	events  repositories.PaymentEventRepository
	orders  OrderService
	loyalty LoyaltyService
	clock   func() time.Time
	newID   func() string
	logger  func(context.Context, string, map[string]any)
}

var _ PaymentService = (*paymentService)(nil)

// NewPaymentService wires the webhook processing pipeline.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Gateway == nil {
		return nil, errors.New("payment service: gateway is required")
	}
	if deps.Events == nil {
		return nil, errors.New("payment service: payment event repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("payment service: order service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return paymentEventIDPrefix + ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &paymentService{
		gateway: deps.Gateway,
		events:  deps.Events,
		orders:  deps.Orders,
		loyalty: deps.Loyalty,
		clock:   func() time.Time { return clock().UTC() },
		newID:   idGen,
		logger:  logger,
	}, nil
}

// RecordWebhookEvent verifies, deduplicates and applies one provider webhook
// delivery. The external event ID is the idempotency key: replays are
// detected before any order mutation and skip every side effect. Deliveries
// the provider retries out of order surface as rejected transitions and are
// logged, not failed, so the provider stops retrying.
func (s *paymentService) RecordWebhookEvent(ctx context.Context, cmd PaymentWebhookCommand) (WebhookResult, error) {
	provider := strings.TrimSpace(cmd.Provider)
	if provider == "" {
		return WebhookResult{}, fmt.Errorf("%w: provider is required", ErrPaymentInvalidInput)
	}
	if len(cmd.Payload) == 0 {
		return WebhookResult{}, fmt.Errorf("%w: payload is required", ErrPaymentInvalidInput)
	}

	event, err := s.gateway.ParseWebhook(provider, cmd.Payload, cmd.Signature)
	if err != nil {
		switch {
		case errors.Is(err, payments.ErrInvalidSignature):
			return WebhookResult{}, fmt.Errorf("%w: %v", ErrPaymentInvalidSignature, err)
		case errors.Is(err, payments.ErrUnsupportedProvider):
			return WebhookResult{}, fmt.Errorf("%w: %s", ErrPaymentUnsupportedProvider, provider)
		}
		return WebhookResult{}, err
	}

	if event.Kind == payments.EventKindIgnored {
		return WebhookResult{EventID: event.ID, Ignored: true}, nil
	}

	eventType, paymentStatus, err := mapWebhookKind(event.Kind)
	if err != nil {
		return WebhookResult{}, err
	}

	orderNumber := strings.ToUpper(strings.TrimSpace(event.OrderNumber))
	if orderNumber == "" {
		return WebhookResult{}, fmt.Errorf("%w: delivery %s carries no order number", ErrPaymentOrderUnresolved, event.ID)
	}
	order, err := s.orders.GetByNumber(ctx, orderNumber)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return WebhookResult{}, fmt.Errorf("%w: %s", ErrPaymentOrderUnresolved, orderNumber)
		}
		return WebhookResult{}, err
	}

	fresh, err := s.events.Record(ctx, domain.PaymentEvent{
		ID:          s.newID(),
		Provider:    event.Provider,
		ExternalID:  event.ID,
		Type:        eventType,
		OrderNumber: orderNumber,
		IntentID:    event.IntentID,
		ReceivedAt:  s.clock(),
	})
	if err != nil {
		return WebhookResult{}, err
	}
	if !fresh {
		return WebhookResult{EventID: event.ID, Duplicate: true, OrderID: order.ID}, nil
	}

	updated, err := s.orders.MarkPayment(ctx, PaymentStatusCommand{
		OrderID:      order.ID,
		TargetStatus: paymentStatus,
		IntentID:     event.IntentID,
		Provider:     event.Provider,
	})
	if err != nil {
		if errors.Is(err, ErrOrderInvalidState) {
			s.logger(ctx, "payment_transition_rejected", map[string]any{
				"eventId": event.ID,
				"orderId": order.ID,
				"target":  string(paymentStatus),
				"error":   err.Error(),
			})
			return WebhookResult{EventID: event.ID, OrderID: order.ID}, nil
		}
		return WebhookResult{}, err
	}

	if event.Kind == payments.EventKindSucceeded && s.loyalty != nil {
		if _, err := s.loyalty.CreditForOrder(ctx, updated); err != nil {
			s.logger(ctx, "loyalty_credit_failed", map[string]any{
				"orderId": updated.ID,
				"error":   err.Error(),
			})
		}
	}

	return WebhookResult{EventID: event.ID, OrderID: updated.ID}, nil
}

func mapWebhookKind(kind payments.EventKind) (domain.PaymentEventType, domain.PaymentStatus, error) {
	switch kind {
	case payments.EventKindSucceeded:
		return domain.PaymentEventSucceeded, domain.PaymentStatusPaid, nil
	case payments.EventKindFailed:
		return domain.PaymentEventFailed, domain.PaymentStatusFailed, nil
	case payments.EventKindRefunded:
		return domain.PaymentEventRefunded, domain.PaymentStatusRefunded, nil
	default:
		return "", "", fmt.Errorf("%w: unknown event kind %q", ErrPaymentInvalidInput, kind)
	}
}
