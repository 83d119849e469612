package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/caravela/api/internal/domain"
	"github.com/caravela/api/internal/repositories"
)

type orderStubRepo struct {
	orders map[string]domain.Order
}

func newOrderStubRepo(orders ...domain.Order) *orderStubRepo {
	repo := &orderStubRepo{orders: map[string]domain.Order{}}
	for _, order := range orders {
		repo.orders[order.ID] = order
	}
	return repo
}

func (r *orderStubRepo) Insert(_ context.Context, order domain.Order) error {
	if _, ok := r.orders[order.ID]; ok {
		return couponRepoError{conflict: true}
	}
	r.orders[order.ID] = order
	return nil
}

func (r *orderStubRepo) Update(_ context.Context, order domain.Order) error {
	if _, ok := r.orders[order.ID]; !ok {
		return couponRepoError{notFound: true}
	}
	r.orders[order.ID] = order
	return nil
}

func (r *orderStubRepo) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, couponRepoError{notFound: true}
	}
	return order, nil
}

func (r *orderStubRepo) FindByNumber(_ context.Context, orderNumber string) (domain.Order, error) {
	for _, order := range r.orders {
		if order.OrderNumber == orderNumber {
			return order, nil
		}
	}
	return domain.Order{}, couponRepoError{notFound: true}
}

func (r *orderStubRepo) List(_ context.Context, _ repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	page := domain.CursorPage[domain.Order]{}
	for _, order := range r.orders {
		page.Items = append(page.Items, order)
	}
	return page, nil
}

type counterStub struct {
	next int64
}

func (c *counterStub) Next(_ context.Context, _ string, step int64) (int64, error) {
	if step <= 0 {
		step = 1
	}
	c.next += step
	return c.next, nil
}

func (c *counterStub) Configure(_ context.Context, _ string, _ repositories.CounterConfig) error {
	return nil
}

type eventCapture struct {
	messages []OrderEventMessage
}

func (e *eventCapture) PublishOrderEvent(_ context.Context, message OrderEventMessage) (string, error) {
	e.messages = append(e.messages, message)
	return "msg-1", nil
}

var orderTestNow = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func newOrderTestService(t *testing.T, repo *orderStubRepo, events *eventCapture) OrderService {
	t.Helper()
	ids := 0
	deps := OrderServiceDeps{
		Orders:   repo,
		Counters: &counterStub{},
		Clock:    func() time.Time { return orderTestNow },
		IDGenerator: func() string {
			ids++
			return string(rune('a' + ids - 1))
		},
	}
	if events != nil {
		deps.Events = events
	}
	svc, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	return svc
}

func pricedTestCart() (Cart, CartPricing) {
	cart := Cart{
		ID:       "user-1",
		UserID:   "user-1",
		Currency: "EUR",
		Items: []CartItem{
			{ID: "itm_1", ProductID: "prod-cone", FlavorID: "flv-pistachio", Quantity: 2,
				Customizations: []CustomizationSelection{{OptionID: "opt-sprinkles", Quantity: 1}}},
			{ID: "itm_2", ProductID: "prod-tub", Quantity: 1},
		},
		Coupon: &CartCoupon{Code: "SAVE5", DiscountAmount: 500, Applied: true},
	}
	pricing := CartPricing{
		Currency: "EUR",
		Subtotal: 3600,
		Shipping: 5990,
		Discount: 500,
		Total:    9090,
		Lines: []LinePricing{
			{ItemID: "itm_1", ProductRef: "prod-cone", FlavorRef: "flv-pistachio", Quantity: 2, UnitPrice: 1350, Total: 2700},
			{ItemID: "itm_2", ProductRef: "prod-tub", Quantity: 1, UnitPrice: 900, Total: 900},
		},
	}
	return cart, pricing
}

func TestCreateFromCartBuildsPendingOrder(t *testing.T) {
	repo := newOrderStubRepo()
	svc := newOrderTestService(t, repo, nil)
	cart, pricing := pricedTestCart()

	order, err := svc.CreateFromCart(context.Background(), CreateOrderFromCartCommand{
		Cart:    cart,
		Pricing: pricing,
		Contact: OrderContact{Email: "gelato@example.com"},
	})
	if err != nil {
		t.Fatalf("CreateFromCart: %v", err)
	}

	if order.Status != domain.OrderStatusPending || order.PaymentStatus != domain.PaymentStatusPending {
		t.Fatalf("expected pending order, got %s/%s", order.Status, order.PaymentStatus)
	}
	if order.OrderNumber != "CAR-2026-000001" {
		t.Fatalf("unexpected order number %q", order.OrderNumber)
	}
	if order.Totals != (OrderTotals{Subtotal: 3600, Shipping: 5990, Discount: 500, Total: 9090}) {
		t.Fatalf("unexpected totals %+v", order.Totals)
	}
	if len(order.Items) != 2 || order.Items[0].Total != 2700 {
		t.Fatalf("unexpected line items %+v", order.Items)
	}
	if len(order.Items[0].Customizations) != 1 {
		t.Fatalf("expected customizations carried onto the order line")
	}
	if order.Coupon == nil || order.Coupon.Code != "SAVE5" {
		t.Fatalf("expected coupon snapshot, got %+v", order.Coupon)
	}
	if order.Contact == nil || order.Contact.Email != "gelato@example.com" {
		t.Fatalf("expected contact snapshot, got %+v", order.Contact)
	}
	if order.CartRef == nil || *order.CartRef != "user-1" {
		t.Fatalf("expected cart reference, got %v", order.CartRef)
	}

	if _, ok := repo.orders[order.ID]; !ok {
		t.Fatalf("expected order persisted")
	}
}

func TestCreateFromCartSequencesOrderNumbers(t *testing.T) {
	repo := newOrderStubRepo()
	svc := newOrderTestService(t, repo, nil)
	cart, pricing := pricedTestCart()

	first, err := svc.CreateFromCart(context.Background(), CreateOrderFromCartCommand{Cart: cart, Pricing: pricing})
	if err != nil {
		t.Fatalf("first CreateFromCart: %v", err)
	}
	second, err := svc.CreateFromCart(context.Background(), CreateOrderFromCartCommand{Cart: cart, Pricing: pricing})
	if err != nil {
		t.Fatalf("second CreateFromCart: %v", err)
	}
	if first.OrderNumber != "CAR-2026-000001" || second.OrderNumber != "CAR-2026-000002" {
		t.Fatalf("unexpected numbers %q %q", first.OrderNumber, second.OrderNumber)
	}
}

func TestCreateFromCartValidation(t *testing.T) {
	svc := newOrderTestService(t, newOrderStubRepo(), nil)
	cart, pricing := pricedTestCart()

	empty := cart
	empty.Items = nil
	if _, err := svc.CreateFromCart(context.Background(), CreateOrderFromCartCommand{Cart: empty, Pricing: pricing}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected rejection for empty cart, got %v", err)
	}

	short := pricing
	short.Lines = pricing.Lines[:1]
	if _, err := svc.CreateFromCart(context.Background(), CreateOrderFromCartCommand{Cart: cart, Pricing: short}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected rejection for partial pricing, got %v", err)
	}
}

func TestTransitionStatusWalksLifecycle(t *testing.T) {
	order := domain.Order{ID: "ord_a", Status: domain.OrderStatusConfirmed, PaymentStatus: domain.PaymentStatusPaid}
	repo := newOrderStubRepo(order)
	svc := newOrderTestService(t, repo, nil)
	ctx := context.Background()

	steps := []domain.OrderStatus{
		domain.OrderStatusProcessing,
		domain.OrderStatusShipped,
		domain.OrderStatusDelivered,
	}
	for _, target := range steps {
		updated, err := svc.TransitionStatus(ctx, OrderStatusTransitionCommand{OrderID: "ord_a", TargetStatus: target})
		if err != nil {
			t.Fatalf("transition to %s: %v", target, err)
		}
		if updated.Status != target {
			t.Fatalf("expected status %s, got %s", target, updated.Status)
		}
	}

	final := repo.orders["ord_a"]
	if final.ProcessingAt == nil || final.ShippedAt == nil || final.DeliveredAt == nil {
		t.Fatalf("expected lifecycle timestamps, got %+v", final)
	}
}

func TestTransitionStatusRejectsInvalidMoves(t *testing.T) {
	repo := newOrderStubRepo(
		domain.Order{ID: "ord_a", Status: domain.OrderStatusPending},
		domain.Order{ID: "ord_b", Status: domain.OrderStatusCancelled},
		domain.Order{ID: "ord_c", Status: domain.OrderStatusDelivered},
	)
	svc := newOrderTestService(t, repo, nil)
	ctx := context.Background()

	if _, err := svc.TransitionStatus(ctx, OrderStatusTransitionCommand{OrderID: "ord_a", TargetStatus: domain.OrderStatusShipped}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState for pending->shipped, got %v", err)
	}
	// Terminal statuses never change again.
	if _, err := svc.TransitionStatus(ctx, OrderStatusTransitionCommand{OrderID: "ord_b", TargetStatus: domain.OrderStatusConfirmed}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState for cancelled->confirmed, got %v", err)
	}
	for _, target := range []domain.OrderStatus{domain.OrderStatusRefunded, domain.OrderStatusCancelled, domain.OrderStatusShipped} {
		if _, err := svc.TransitionStatus(ctx, OrderStatusTransitionCommand{OrderID: "ord_c", TargetStatus: target}); !errors.Is(err, ErrOrderInvalidState) {
			t.Fatalf("expected ErrOrderInvalidState for delivered->%s, got %v", target, err)
		}
	}
}

func TestTransitionStatusOptimisticCheck(t *testing.T) {
	repo := newOrderStubRepo(domain.Order{ID: "ord_a", Status: domain.OrderStatusConfirmed})
	svc := newOrderTestService(t, repo, nil)

	expected := domain.OrderStatusPending
	_, err := svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:        "ord_a",
		TargetStatus:   domain.OrderStatusProcessing,
		ExpectedStatus: &expected,
	})
	if !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected ErrOrderConflict, got %v", err)
	}
}

func TestMarkPaymentPaidConfirmsPendingOrder(t *testing.T) {
	repo := newOrderStubRepo(domain.Order{
		ID:            "ord_a",
		OrderNumber:   "CAR-2026-000042",
		UserID:        "user-1",
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusPending,
		Currency:      "EUR",
		Totals:        domain.OrderTotals{Total: 9090},
	})
	events := &eventCapture{}
	svc := newOrderTestService(t, repo, events)
	ctx := context.Background()

	order, err := svc.MarkPayment(ctx, PaymentStatusCommand{
		OrderID:      "ord_a",
		TargetStatus: domain.PaymentStatusPaid,
		IntentID:     "pi_123",
		Provider:     "Stripe",
	})
	if err != nil {
		t.Fatalf("MarkPayment: %v", err)
	}

	if order.PaymentStatus != domain.PaymentStatusPaid || order.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected paid+confirmed, got %s/%s", order.PaymentStatus, order.Status)
	}
	if order.ConfirmedAt == nil || !order.ConfirmedAt.Equal(orderTestNow) {
		t.Fatalf("expected confirmation timestamp")
	}
	if order.PaymentIntentID != "pi_123" || order.PaymentProvider != "stripe" {
		t.Fatalf("expected payment references, got %q/%q", order.PaymentIntentID, order.PaymentProvider)
	}
	if len(events.messages) != 1 || events.messages[0].EventType != OrderEventConfirmed {
		t.Fatalf("expected order.confirmed event, got %+v", events.messages)
	}
	if events.messages[0].Total != 9090 || events.messages[0].OrderNumber != "CAR-2026-000042" {
		t.Fatalf("unexpected event payload %+v", events.messages[0])
	}

	// Replaying the same payment result is a no-op.
	again, err := svc.MarkPayment(ctx, PaymentStatusCommand{OrderID: "ord_a", TargetStatus: domain.PaymentStatusPaid})
	if err != nil {
		t.Fatalf("MarkPayment replay: %v", err)
	}
	if again.Status != domain.OrderStatusConfirmed {
		t.Fatalf("replay must not change the order")
	}
	if len(events.messages) != 1 {
		t.Fatalf("replay must not publish another event, got %d", len(events.messages))
	}
}

func TestMarkPaymentFailedKeepsOrderPending(t *testing.T) {
	repo := newOrderStubRepo(domain.Order{ID: "ord_a", Status: domain.OrderStatusPending, PaymentStatus: domain.PaymentStatusPending})
	events := &eventCapture{}
	svc := newOrderTestService(t, repo, events)

	order, err := svc.MarkPayment(context.Background(), PaymentStatusCommand{OrderID: "ord_a", TargetStatus: domain.PaymentStatusFailed})
	if err != nil {
		t.Fatalf("MarkPayment: %v", err)
	}
	if order.Status != domain.OrderStatusPending || order.PaymentStatus != domain.PaymentStatusFailed {
		t.Fatalf("expected pending+failed, got %s/%s", order.Status, order.PaymentStatus)
	}
	if len(events.messages) != 1 || events.messages[0].EventType != OrderEventPaymentFailed {
		t.Fatalf("expected order.payment_failed event, got %+v", events.messages)
	}
}

func TestMarkPaymentRefundRequiresPaid(t *testing.T) {
	repo := newOrderStubRepo(
		domain.Order{ID: "ord_a", Status: domain.OrderStatusPending, PaymentStatus: domain.PaymentStatusPending},
		domain.Order{ID: "ord_b", Status: domain.OrderStatusShipped, PaymentStatus: domain.PaymentStatusPaid},
	)
	events := &eventCapture{}
	svc := newOrderTestService(t, repo, events)
	ctx := context.Background()

	if _, err := svc.MarkPayment(ctx, PaymentStatusCommand{OrderID: "ord_a", TargetStatus: domain.PaymentStatusRefunded}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState for pending->refunded, got %v", err)
	}

	order, err := svc.MarkPayment(ctx, PaymentStatusCommand{OrderID: "ord_b", TargetStatus: domain.PaymentStatusRefunded})
	if err != nil {
		t.Fatalf("MarkPayment refund: %v", err)
	}
	if order.PaymentStatus != domain.PaymentStatusRefunded || order.Status != domain.OrderStatusRefunded {
		t.Fatalf("expected refunded order, got %s/%s", order.Status, order.PaymentStatus)
	}
	if order.RefundedAt == nil {
		t.Fatalf("expected refund timestamp")
	}
	if len(events.messages) != 1 || events.messages[0].EventType != OrderEventRefunded {
		t.Fatalf("expected order.refunded event, got %+v", events.messages)
	}
}

func TestMarkPaymentRefundOnDeliveredKeepsStatus(t *testing.T) {
	repo := newOrderStubRepo(
		domain.Order{ID: "ord_a", Status: domain.OrderStatusDelivered, PaymentStatus: domain.PaymentStatusPaid},
	)
	events := &eventCapture{}
	svc := newOrderTestService(t, repo, events)

	order, err := svc.MarkPayment(context.Background(), PaymentStatusCommand{OrderID: "ord_a", TargetStatus: domain.PaymentStatusRefunded})
	if err != nil {
		t.Fatalf("MarkPayment refund: %v", err)
	}
	// The payment axis moves; the delivered order itself stays delivered.
	if order.PaymentStatus != domain.PaymentStatusRefunded {
		t.Fatalf("expected refunded payment, got %s", order.PaymentStatus)
	}
	if order.Status != domain.OrderStatusDelivered {
		t.Fatalf("delivered is terminal, got status %s", order.Status)
	}
	if len(events.messages) != 1 || events.messages[0].EventType != OrderEventRefunded {
		t.Fatalf("expected order.refunded event, got %+v", events.messages)
	}
}

func TestCancelOnlyBeforeFulfilment(t *testing.T) {
	repo := newOrderStubRepo(
		domain.Order{ID: "ord_a", Status: domain.OrderStatusConfirmed, PaymentStatus: domain.PaymentStatusPaid},
		domain.Order{ID: "ord_b", Status: domain.OrderStatusShipped, PaymentStatus: domain.PaymentStatusPaid},
	)
	events := &eventCapture{}
	svc := newOrderTestService(t, repo, events)
	ctx := context.Background()

	order, err := svc.Cancel(ctx, CancelOrderCommand{OrderID: "ord_a", Reason: "changed my mind"})
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if order.Status != domain.OrderStatusCancelled || order.CancelledAt == nil {
		t.Fatalf("expected cancelled order, got %+v", order)
	}
	if order.CancelReason == nil || *order.CancelReason != "changed my mind" {
		t.Fatalf("expected cancel reason, got %v", order.CancelReason)
	}
	if len(events.messages) != 1 || events.messages[0].EventType != OrderEventCancelled {
		t.Fatalf("expected order.cancelled event, got %+v", events.messages)
	}

	if _, err := svc.Cancel(ctx, CancelOrderCommand{OrderID: "ord_b"}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState for shipped order, got %v", err)
	}
}
