package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/caravela/api/internal/domain"
	"github.com/caravela/api/internal/platform/pagination"
	"github.com/caravela/api/internal/repositories"
)

const (
	orderIDPrefix      = "ord_"
	orderNumberCounter = "orders"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
)

// orderStateTransitions is the full lifecycle graph. Statuses without an
// entry are terminal and never change again.
var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusConfirmed, domain.OrderStatusCancelled},
	domain.OrderStatusConfirmed:  {domain.OrderStatusProcessing, domain.OrderStatusCancelled, domain.OrderStatusRefunded},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCancelled, domain.OrderStatusRefunded},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered, domain.OrderStatusRefunded},
}

// Customers may only cancel before fulfilment starts.
var cancellableStatuses = []domain.OrderStatus{
	domain.OrderStatusPending,
	domain.OrderStatusConfirmed,
}

var paymentStateTransitions = map[domain.PaymentStatus][]domain.PaymentStatus{
	domain.PaymentStatusPending: {domain.PaymentStatusPaid, domain.PaymentStatusFailed},
	domain.PaymentStatusPaid:    {domain.PaymentStatusRefunded},
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Counters    repositories.CounterRepository
	Catalog     CatalogService
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	counters   repositories.CounterRepository
	catalog    CatalogService
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	events     OrderEventPublisher
	logger     func(context.Context, string, map[string]any)
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:     deps.Orders,
		counters:   deps.Counters,
		catalog:    deps.Catalog,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

// CreateFromCart freezes a priced cart into a pending order. The order keeps
// its own copy of every line; later catalog edits never change what the
// customer agreed to pay.
func (s *orderService) CreateFromCart(ctx context.Context, cmd CreateOrderFromCartCommand) (Order, error) {
	if len(cmd.Cart.Items) == 0 {
		return Order{}, fmt.Errorf("%w: cart must contain at least one item", ErrOrderInvalidInput)
	}
	userID := strings.TrimSpace(cmd.Cart.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: cart user id is required", ErrOrderInvalidInput)
	}
	currency := strings.ToUpper(strings.TrimSpace(firstNonEmpty(cmd.Pricing.Currency, cmd.Cart.Currency)))
	if currency == "" {
		return Order{}, fmt.Errorf("%w: currency is required", ErrOrderInvalidInput)
	}
	if len(cmd.Pricing.Lines) != len(cmd.Cart.Items) {
		return Order{}, fmt.Errorf("%w: pricing does not cover every cart line", ErrOrderInvalidInput)
	}

	now := s.now()

	order := Order{
		ID:            orderIDPrefix + s.newID(),
		UserID:        userID,
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusPending,
		Currency:      currency,
		Totals: OrderTotals{
			Subtotal: cmd.Pricing.Subtotal,
			Shipping: cmd.Pricing.Shipping,
			Discount: cmd.Pricing.Discount,
			Total:    cmd.Pricing.Total,
		},
		Coupon:          cloneCartCoupon(cmd.Cart.Coupon),
		Items:           s.buildOrderLineItems(ctx, cmd.Cart, cmd.Pricing),
		ShippingAddress: cloneAddress(cmd.Cart.ShippingAddress),
		BillingAddress:  cloneAddress(cmd.Cart.BillingAddress),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if contact := normalizeContact(cmd.Contact); contact != nil {
		order.Contact = contact
	}
	if cartID := strings.TrimSpace(cmd.Cart.ID); cartID != "" {
		order.CartRef = valuePtr(cartID)
	}

	number, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		return Order{}, err
	}
	order.OrderNumber = number

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Insert(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidPageToken) {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: invalid page token", ErrOrderInvalidInput)
		}
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) GetByNumber(ctx context.Context, orderNumber string) (Order, error) {
	orderNumber = strings.ToUpper(strings.TrimSpace(orderNumber))
	if orderNumber == "" {
		return Order{}, fmt.Errorf("%w: order number is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByNumber(ctx, orderNumber)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(string(cmd.TargetStatus)) == "" {
		return Order{}, fmt.Errorf("%w: target status is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if cmd.ExpectedStatus != nil && order.Status != *cmd.ExpectedStatus {
		return Order{}, fmt.Errorf("%w: expected status %q but was %q", ErrOrderConflict, *cmd.ExpectedStatus, order.Status)
	}
	if order.Status == cmd.TargetStatus {
		return order, nil
	}

	now := s.now()
	if err := s.applyStatusTransition(&order, cmd.TargetStatus, now); err != nil {
		return Order{}, err
	}
	if cmd.TargetStatus == domain.OrderStatusCancelled {
		order.CancelReason = optionalString(strings.TrimSpace(cmd.Reason))
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	if cmd.TargetStatus == domain.OrderStatusCancelled {
		s.publishEvent(ctx, OrderEventCancelled, order, now)
	}

	return order, nil
}

// MarkPayment records a provider payment result on the order. Recording the
// status the order already carries is a no-op, which makes webhook replays
// harmless. A successful payment also confirms a pending order; a refund
// moves the order to refunded.
func (s *orderService) MarkPayment(ctx context.Context, cmd PaymentStatusCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if order.PaymentStatus == cmd.TargetStatus {
		return order, nil
	}
	if !canPaymentTransition(order.PaymentStatus, cmd.TargetStatus) {
		return Order{}, fmt.Errorf("%w: payment %s -> %s", ErrOrderInvalidState, order.PaymentStatus, cmd.TargetStatus)
	}

	now := s.now()
	order.PaymentStatus = cmd.TargetStatus
	if intent := strings.TrimSpace(cmd.IntentID); intent != "" {
		order.PaymentIntentID = intent
	}
	if provider := strings.ToLower(strings.TrimSpace(cmd.Provider)); provider != "" {
		order.PaymentProvider = provider
	}
	order.UpdatedAt = now

	var eventType string
	switch cmd.TargetStatus {
	case domain.PaymentStatusPaid:
		if order.Status == domain.OrderStatusPending {
			if err := s.applyStatusTransition(&order, domain.OrderStatusConfirmed, now); err != nil {
				return Order{}, err
			}
		}
		eventType = OrderEventConfirmed
	case domain.PaymentStatusFailed:
		eventType = OrderEventPaymentFailed
	case domain.PaymentStatusRefunded:
		if canOrderTransition(order.Status, domain.OrderStatusRefunded) {
			if err := s.applyStatusTransition(&order, domain.OrderStatusRefunded, now); err != nil {
				return Order{}, err
			}
		}
		eventType = OrderEventRefunded
	default:
		return Order{}, fmt.Errorf("%w: unknown payment status %q", ErrOrderInvalidInput, cmd.TargetStatus)
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, eventType, order, now)

	return order, nil
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if !slices.Contains(cancellableStatuses, order.Status) {
		return Order{}, fmt.Errorf("%w: order status %q cannot be cancelled", ErrOrderInvalidState, order.Status)
	}

	now := s.now()
	order.CancelReason = optionalString(strings.TrimSpace(cmd.Reason))
	if err := s.applyStatusTransition(&order, domain.OrderStatusCancelled, now); err != nil {
		return Order{}, err
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEventCancelled, order, now)

	return order, nil
}

func (s *orderService) applyStatusTransition(order *Order, target domain.OrderStatus, now time.Time) error {
	if order.Status == target {
		order.UpdatedAt = now
		return nil
	}
	if !canOrderTransition(order.Status, target) {
		return fmt.Errorf("%w: %s -> %s", ErrOrderInvalidState, order.Status, target)
	}

	order.Status = target
	order.UpdatedAt = now

	switch target {
	case domain.OrderStatusConfirmed:
		order.ConfirmedAt = &now
	case domain.OrderStatusProcessing:
		order.ProcessingAt = &now
	case domain.OrderStatusShipped:
		order.ShippedAt = &now
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &now
	case domain.OrderStatusCancelled:
		order.CancelledAt = &now
	case domain.OrderStatusRefunded:
		order.RefundedAt = &now
	}
	return nil
}

func (s *orderService) buildOrderLineItems(ctx context.Context, cart Cart, pricing CartPricing) []OrderLineItem {
	names := map[string]string{}
	if s.catalog != nil {
		if snapshot, err := s.catalog.Snapshot(ctx, SnapshotRefsForCart(cart)); err == nil {
			for id, product := range snapshot.Products {
				names[id] = product.Name
			}
		}
	}

	itemsByID := make(map[string]CartItem, len(cart.Items))
	for _, item := range cart.Items {
		itemsByID[item.ID] = item
	}

	lines := make([]OrderLineItem, 0, len(pricing.Lines))
	for _, line := range pricing.Lines {
		orderLine := OrderLineItem{
			ProductRef:  line.ProductRef,
			ProductName: names[line.ProductRef],
			FlavorRef:   line.FlavorRef,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			Total:       line.Total,
		}
		if item, ok := itemsByID[line.ItemID]; ok {
			orderLine.Customizations = cloneSelections(item.Customizations)
		}
		lines = append(lines, orderLine)
	}
	return lines
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}
	return err
}

func (s *orderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, orderNumberCounter, 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("CAR-%04d-%06d", now.Year(), seq), nil
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) publishEvent(ctx context.Context, eventType string, order Order, occurredAt time.Time) {
	if s.events == nil {
		return
	}
	_, err := s.events.PublishOrderEvent(ctx, OrderEventMessage{
		EventType:   eventType,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Total:       order.Totals.Total,
		Currency:    order.Currency,
		OccurredAt:  occurredAt,
	})
	if err != nil {
		s.logger(ctx, "order_event_publish_failed", map[string]any{
			"type":    eventType,
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func canOrderTransition(current, target domain.OrderStatus) bool {
	if current == target {
		return true
	}
	next, ok := orderStateTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}

func canPaymentTransition(current, target domain.PaymentStatus) bool {
	if current == target {
		return true
	}
	next, ok := paymentStateTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}

func cloneCartCoupon(coupon *CartCoupon) *CartCoupon {
	if coupon == nil {
		return nil
	}
	cloned := *coupon
	return &cloned
}

func cloneAddress(addr *Address) *Address {
	if addr == nil {
		return nil
	}
	cloned := *addr
	return &cloned
}

func normalizeContact(contact OrderContact) *OrderContact {
	contact.Email = strings.TrimSpace(contact.Email)
	contact.Phone = strings.TrimSpace(contact.Phone)
	if contact.Email == "" && contact.Phone == "" {
		return nil
	}
	return &contact
}

func valuePtr[T any](v T) *T {
	return &v
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	ref := v
	return &ref
}
