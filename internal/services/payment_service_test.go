package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/caravela/api/internal/domain"
	"github.com/caravela/api/internal/payments"
)

type gatewayStub struct {
	event payments.WebhookEvent
	err   error
	calls int
}

func (g *gatewayStub) ParseWebhook(provider string, _ []byte, _ string) (payments.WebhookEvent, error) {
	g.calls++
	if g.err != nil {
		return payments.WebhookEvent{}, g.err
	}
	event := g.event
	event.Provider = provider
	return event, nil
}

type paymentEventStubRepo struct {
	recorded map[string]domain.PaymentEvent
}

func newPaymentEventStubRepo() *paymentEventStubRepo {
	return &paymentEventStubRepo{recorded: map[string]domain.PaymentEvent{}}
}

func (r *paymentEventStubRepo) Record(_ context.Context, event domain.PaymentEvent) (bool, error) {
	key := event.Provider + "/" + event.ExternalID
	if _, ok := r.recorded[key]; ok {
		return false, nil
	}
	r.recorded[key] = event
	return true, nil
}

func (r *paymentEventStubRepo) Find(_ context.Context, provider string, externalID string) (domain.PaymentEvent, error) {
	event, ok := r.recorded[provider+"/"+externalID]
	if !ok {
		return domain.PaymentEvent{}, couponRepoError{notFound: true}
	}
	return event, nil
}

type paymentTestEnv struct {
	gateway *gatewayStub
	events  *paymentEventStubRepo
	orders  *orderStubRepo
	loyalty *loyaltyStubRepo
	bus     *eventCapture
	svc     PaymentService
}

func newPaymentTestEnv(t *testing.T, gateway *gatewayStub, seed ...domain.Order) paymentTestEnv {
	t.Helper()
	env := paymentTestEnv{
		gateway: gateway,
		events:  newPaymentEventStubRepo(),
		orders:  newOrderStubRepo(seed...),
		loyalty: newLoyaltyStubRepo(),
		bus:     &eventCapture{},
	}
	orderSvc := newOrderTestService(t, env.orders, env.bus)
	loyaltySvc := newLoyaltyTestService(t, env.loyalty)
	svc, err := NewPaymentService(PaymentServiceDeps{
		Gateway:     gateway,
		Events:      env.events,
		Orders:      orderSvc,
		Loyalty:     loyaltySvc,
		Clock:       func() time.Time { return orderTestNow },
		IDGenerator: func() string { return "evt_test" },
	})
	if err != nil {
		t.Fatalf("NewPaymentService: %v", err)
	}
	env.svc = svc
	return env
}

func pendingWebhookOrder() domain.Order {
	return domain.Order{
		ID:            "ord_a",
		OrderNumber:   "CAR-2026-000042",
		UserID:        "user-1",
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusPending,
		Currency:      "EUR",
		Totals:        domain.OrderTotals{Subtotal: 3600, Shipping: 5990, Discount: 500, Total: 9090},
	}
}

func TestRecordWebhookPaidConfirmsOrderAndCreditsPoints(t *testing.T) {
	gateway := &gatewayStub{event: payments.WebhookEvent{
		ID:          "evt_stripe_1",
		Kind:        payments.EventKindSucceeded,
		IntentID:    "pi_123",
		OrderNumber: "CAR-2026-000042",
	}}
	env := newPaymentTestEnv(t, gateway, pendingWebhookOrder())

	result, err := env.svc.RecordWebhookEvent(context.Background(), PaymentWebhookCommand{
		Provider:  "stripe",
		Payload:   []byte(`{"id":"evt_stripe_1"}`),
		Signature: "sig",
	})
	if err != nil {
		t.Fatalf("RecordWebhookEvent: %v", err)
	}
	if result.EventID != "evt_stripe_1" || result.OrderID != "ord_a" || result.Duplicate || result.Ignored {
		t.Fatalf("unexpected result %+v", result)
	}

	order := env.orders.orders["ord_a"]
	if order.PaymentStatus != domain.PaymentStatusPaid || order.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected paid+confirmed order, got %s/%s", order.PaymentStatus, order.Status)
	}
	if order.PaymentIntentID != "pi_123" || order.PaymentProvider != "stripe" {
		t.Fatalf("expected payment references, got %q/%q", order.PaymentIntentID, order.PaymentProvider)
	}

	stored, ok := env.events.recorded["stripe/evt_stripe_1"]
	if !ok {
		t.Fatalf("expected delivery recorded for dedup")
	}
	if stored.Type != domain.PaymentEventSucceeded || stored.OrderNumber != "CAR-2026-000042" {
		t.Fatalf("unexpected stored event %+v", stored)
	}

	// 9090 minor units at the default divisor earns 90 points.
	if profile := env.loyalty.profiles["user-1"]; profile.Points != 90 {
		t.Fatalf("expected 90 loyalty points, got %d", profile.Points)
	}
	if len(env.bus.messages) != 1 || env.bus.messages[0].EventType != OrderEventConfirmed {
		t.Fatalf("expected order.confirmed event, got %+v", env.bus.messages)
	}
}

func TestRecordWebhookReplaySkipsAllSideEffects(t *testing.T) {
	gateway := &gatewayStub{event: payments.WebhookEvent{
		ID:          "evt_stripe_1",
		Kind:        payments.EventKindSucceeded,
		OrderNumber: "CAR-2026-000042",
	}}
	env := newPaymentTestEnv(t, gateway, pendingWebhookOrder())
	cmd := PaymentWebhookCommand{Provider: "stripe", Payload: []byte(`{}`), Signature: "sig"}
	ctx := context.Background()

	if _, err := env.svc.RecordWebhookEvent(ctx, cmd); err != nil {
		t.Fatalf("first delivery: %v", err)
	}

	result, err := env.svc.RecordWebhookEvent(ctx, cmd)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !result.Duplicate || result.OrderID != "ord_a" {
		t.Fatalf("expected duplicate result, got %+v", result)
	}

	if points := env.loyalty.profiles["user-1"].Points; points != 90 {
		t.Fatalf("replay must not credit points twice, got %d", points)
	}
	if len(env.bus.messages) != 1 {
		t.Fatalf("replay must not publish another event, got %d", len(env.bus.messages))
	}
}

func TestRecordWebhookFailedKeepsOrderPending(t *testing.T) {
	gateway := &gatewayStub{event: payments.WebhookEvent{
		ID:          "evt_stripe_2",
		Kind:        payments.EventKindFailed,
		OrderNumber: "CAR-2026-000042",
	}}
	env := newPaymentTestEnv(t, gateway, pendingWebhookOrder())

	if _, err := env.svc.RecordWebhookEvent(context.Background(), PaymentWebhookCommand{
		Provider: "stripe", Payload: []byte(`{}`), Signature: "sig",
	}); err != nil {
		t.Fatalf("RecordWebhookEvent: %v", err)
	}

	order := env.orders.orders["ord_a"]
	if order.Status != domain.OrderStatusPending || order.PaymentStatus != domain.PaymentStatusFailed {
		t.Fatalf("expected pending+failed, got %s/%s", order.Status, order.PaymentStatus)
	}
	if points := env.loyalty.profiles["user-1"].Points; points != 0 {
		t.Fatalf("failed payments earn no points, got %d", points)
	}
}

func TestRecordWebhookRefundMovesPaidOrder(t *testing.T) {
	order := pendingWebhookOrder()
	order.Status = domain.OrderStatusShipped
	order.PaymentStatus = domain.PaymentStatusPaid
	gateway := &gatewayStub{event: payments.WebhookEvent{
		ID:          "evt_stripe_3",
		Kind:        payments.EventKindRefunded,
		OrderNumber: "CAR-2026-000042",
	}}
	env := newPaymentTestEnv(t, gateway, order)

	if _, err := env.svc.RecordWebhookEvent(context.Background(), PaymentWebhookCommand{
		Provider: "stripe", Payload: []byte(`{}`), Signature: "sig",
	}); err != nil {
		t.Fatalf("RecordWebhookEvent: %v", err)
	}

	updated := env.orders.orders["ord_a"]
	if updated.Status != domain.OrderStatusRefunded || updated.PaymentStatus != domain.PaymentStatusRefunded {
		t.Fatalf("expected refunded order, got %s/%s", updated.Status, updated.PaymentStatus)
	}
	if len(env.bus.messages) != 1 || env.bus.messages[0].EventType != OrderEventRefunded {
		t.Fatalf("expected order.refunded event, got %+v", env.bus.messages)
	}
}

func TestRecordWebhookOutOfOrderDeliveryIsLoggedNotFailed(t *testing.T) {
	// A refund delivery arriving before any successful payment cannot apply.
	gateway := &gatewayStub{event: payments.WebhookEvent{
		ID:          "evt_stripe_4",
		Kind:        payments.EventKindRefunded,
		OrderNumber: "CAR-2026-000042",
	}}
	env := newPaymentTestEnv(t, gateway, pendingWebhookOrder())

	result, err := env.svc.RecordWebhookEvent(context.Background(), PaymentWebhookCommand{
		Provider: "stripe", Payload: []byte(`{}`), Signature: "sig",
	})
	if err != nil {
		t.Fatalf("out-of-order delivery must not error: %v", err)
	}
	if result.OrderID != "ord_a" {
		t.Fatalf("unexpected result %+v", result)
	}
	order := env.orders.orders["ord_a"]
	if order.PaymentStatus != domain.PaymentStatusPending {
		t.Fatalf("rejected transition must leave the order untouched, got %s", order.PaymentStatus)
	}
}

func TestRecordWebhookIgnoredAndErrorPaths(t *testing.T) {
	ctx := context.Background()

	ignored := newPaymentTestEnv(t, &gatewayStub{event: payments.WebhookEvent{
		ID:   "evt_stripe_5",
		Kind: payments.EventKindIgnored,
	}})
	result, err := ignored.svc.RecordWebhookEvent(ctx, PaymentWebhookCommand{Provider: "stripe", Payload: []byte(`{}`)})
	if err != nil {
		t.Fatalf("ignored delivery: %v", err)
	}
	if !result.Ignored || len(ignored.events.recorded) != 0 {
		t.Fatalf("ignored kinds must not be recorded, got %+v", result)
	}

	badSig := newPaymentTestEnv(t, &gatewayStub{err: payments.ErrInvalidSignature})
	if _, err := badSig.svc.RecordWebhookEvent(ctx, PaymentWebhookCommand{Provider: "stripe", Payload: []byte(`{}`)}); !errors.Is(err, ErrPaymentInvalidSignature) {
		t.Fatalf("expected ErrPaymentInvalidSignature, got %v", err)
	}

	unknown := newPaymentTestEnv(t, &gatewayStub{err: payments.ErrUnsupportedProvider})
	if _, err := unknown.svc.RecordWebhookEvent(ctx, PaymentWebhookCommand{Provider: "paypal", Payload: []byte(`{}`)}); !errors.Is(err, ErrPaymentUnsupportedProvider) {
		t.Fatalf("expected ErrPaymentUnsupportedProvider, got %v", err)
	}

	orphan := newPaymentTestEnv(t, &gatewayStub{event: payments.WebhookEvent{
		ID:          "evt_stripe_6",
		Kind:        payments.EventKindSucceeded,
		OrderNumber: "CAR-2026-999999",
	}})
	if _, err := orphan.svc.RecordWebhookEvent(ctx, PaymentWebhookCommand{Provider: "stripe", Payload: []byte(`{}`)}); !errors.Is(err, ErrPaymentOrderUnresolved) {
		t.Fatalf("expected ErrPaymentOrderUnresolved, got %v", err)
	}

	if _, err := orphan.svc.RecordWebhookEvent(ctx, PaymentWebhookCommand{Provider: " ", Payload: []byte(`{}`)}); !errors.Is(err, ErrPaymentInvalidInput) {
		t.Fatalf("expected ErrPaymentInvalidInput for blank provider, got %v", err)
	}
	if _, err := orphan.svc.RecordWebhookEvent(ctx, PaymentWebhookCommand{Provider: "stripe"}); !errors.Is(err, ErrPaymentInvalidInput) {
		t.Fatalf("expected ErrPaymentInvalidInput for empty payload, got %v", err)
	}
}
