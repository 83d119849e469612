package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caravela/api/internal/payments"
	"github.com/caravela/api/internal/repositories"
)

// Metadata keys stamped on every PSP session so webhook deliveries can be
// routed back to the order they belong to.
const (
	checkoutMetaOrderNumber = "order_number"
	checkoutMetaOrderID     = "order_id"
	checkoutMetaUserID      = "user_id"
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout service: invalid input")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout service: unavailable")
	// ErrCheckoutCartNotReady indicates the cart is empty, missing, or already checked out.
	ErrCheckoutCartNotReady = errors.New("checkout service: cart not ready")
	// ErrCheckoutPaymentFailed indicates the PSP session could not be created.
	ErrCheckoutPaymentFailed = errors.New("checkout service: payment session failed")
)

// checkoutSessionManager abstracts payments.Manager for easier testing.
type checkoutSessionManager interface {
	CreateCheckoutSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Carts    repositories.CartRepository
	Catalog  CatalogService
	Pricer   *CartPricingEngine
	Orders   OrderService
	Payments checkoutSessionManager
	// Addresses is optional; when set, address IDs on the command are
	// resolved into order snapshots.
	Addresses repositories.AddressRepository
	Clock     func() time.Time
	Logger    func(context.Context, string, map[string]any)
}

type checkoutService struct {
	carts     repositories.CartRepository
	catalog   CatalogService
	pricer    *CartPricingEngine
	orders    OrderService
	payments  checkoutSessionManager
	addresses repositories.AddressRepository
	now       func() time.Time
	logger    func(context.Context, string, map[string]any)
}

var _ CheckoutService = (*checkoutService)(nil)

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Carts == nil {
		return nil, errors.New("checkout service: cart repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("checkout service: catalog service is required")
	}
	if deps.Pricer == nil {
		return nil, errors.New("checkout service: pricing engine is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order service is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout service: payment manager is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &checkoutService{
		carts:     deps.Carts,
		catalog:   deps.Catalog,
		pricer:    deps.Pricer,
		orders:    deps.Orders,
		payments:  deps.Payments,
		addresses: deps.Addresses,
		now:       func() time.Time { return clock().UTC() },
		logger:    logger,
	}, nil
}

// Submit prices the user's cart at its current catalog state, creates a
// pending order from the result, and opens a PSP checkout session for the
// order total. The cart is retired once the session exists; the order stays
// pending until the provider's webhook settles the payment.
func (s *checkoutService) Submit(ctx context.Context, cmd SubmitCheckoutCommand) (CheckoutResult, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return CheckoutResult{}, fmt.Errorf("%w: user id is required", ErrCheckoutInvalidInput)
	}
	successURL := strings.TrimSpace(cmd.SuccessURL)
	cancelURL := strings.TrimSpace(cmd.CancelURL)
	if successURL == "" || cancelURL == "" {
		return CheckoutResult{}, fmt.Errorf("%w: success and cancel URLs are required", ErrCheckoutInvalidInput)
	}

	cart, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		if isRepoNotFound(err) {
			return CheckoutResult{}, ErrCheckoutCartNotReady
		}
		return CheckoutResult{}, s.translateCartError(err)
	}
	if len(cart.Items) == 0 || cart.CheckedOutAt != nil {
		return CheckoutResult{}, ErrCheckoutCartNotReady
	}
	cart.UserID = firstNonEmpty(cart.UserID, userID)
	cart.Currency = strings.ToUpper(strings.TrimSpace(firstNonEmpty(cart.Currency, s.pricer.Currency())))

	if err := s.resolveAddresses(ctx, &cart, userID, cmd); err != nil {
		return CheckoutResult{}, err
	}

	pricing, err := s.priceCheckoutCart(ctx, cart)
	if err != nil {
		return CheckoutResult{}, err
	}
	// The order records the discount actually granted at checkout prices.
	if cart.Coupon != nil && cart.Coupon.Applied {
		cart.Coupon.DiscountAmount = pricing.Discount
	}

	order, err := s.orders.CreateFromCart(ctx, CreateOrderFromCartCommand{
		Cart:    cart,
		Pricing: pricing,
		Contact: cmd.Contact,
		ActorID: userID,
	})
	if err != nil {
		if errors.Is(err, ErrOrderInvalidInput) {
			return CheckoutResult{}, fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
		}
		return CheckoutResult{}, ErrCheckoutUnavailable
	}

	session, err := s.openSession(ctx, cmd, order)
	if err != nil {
		s.abandonOrder(ctx, order)
		return CheckoutResult{}, err
	}

	s.retireCart(ctx, cart, order, pricing)

	return CheckoutResult{
		Order:        order,
		SessionID:    session.ID,
		RedirectURL:  session.RedirectURL,
		ClientSecret: session.ClientSecret,
		ExpiresAt:    session.ExpiresAt.UTC(),
	}, nil
}

func (s *checkoutService) resolveAddresses(ctx context.Context, cart *Cart, userID string, cmd SubmitCheckoutCommand) error {
	if s.addresses == nil {
		return nil
	}
	if id := strings.TrimSpace(cmd.ShippingAddressID); id != "" {
		addr, err := s.addresses.Get(ctx, userID, id)
		if err != nil {
			if isRepoNotFound(err) {
				return fmt.Errorf("%w: shipping address %s not found", ErrCheckoutInvalidInput, id)
			}
			return ErrCheckoutUnavailable
		}
		cart.ShippingAddress = &addr
	}
	if id := strings.TrimSpace(cmd.BillingAddressID); id != "" {
		addr, err := s.addresses.Get(ctx, userID, id)
		if err != nil {
			if isRepoNotFound(err) {
				return fmt.Errorf("%w: billing address %s not found", ErrCheckoutInvalidInput, id)
			}
			return ErrCheckoutUnavailable
		}
		cart.BillingAddress = &addr
	}
	return nil
}

// priceCheckoutCart reprices against the live catalog so the order captures
// current prices, not a stale estimate.
func (s *checkoutService) priceCheckoutCart(ctx context.Context, cart Cart) (CartPricing, error) {
	snapshot, err := s.catalog.Snapshot(ctx, SnapshotRefsForCart(cart))
	if err != nil {
		s.logger(ctx, "checkout_snapshot_failed", map[string]any{
			"userId": cart.UserID,
			"error":  err.Error(),
		})
		return CartPricing{}, ErrCheckoutUnavailable
	}

	pricing, err := s.pricer.PriceCart(ctx, cart, snapshot)
	if err != nil {
		if errors.Is(err, ErrCartPricingInvalidInput) {
			return CartPricing{}, fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
		}
		return CartPricing{}, ErrCheckoutUnavailable
	}
	return pricing, nil
}

func (s *checkoutService) openSession(ctx context.Context, cmd SubmitCheckoutCommand, order Order) (payments.CheckoutSession, error) {
	metadata := map[string]string{
		checkoutMetaOrderNumber: order.OrderNumber,
		checkoutMetaOrderID:     order.ID,
		checkoutMetaUserID:      order.UserID,
	}
	for k, v := range cmd.Metadata {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		if _, reserved := metadata[k]; !reserved {
			metadata[k] = v
		}
	}

	session, err := s.payments.CreateCheckoutSession(ctx,
		payments.PaymentContext{
			PreferredProvider: strings.TrimSpace(cmd.PSP),
			Currency:          order.Currency,
			Metadata:          metadata,
		},
		payments.CheckoutSessionRequest{
			Amount:         order.Totals.Total,
			Currency:       order.Currency,
			CustomerID:     order.UserID,
			SuccessURL:     strings.TrimSpace(cmd.SuccessURL),
			CancelURL:      strings.TrimSpace(cmd.CancelURL),
			Locale:         strings.TrimSpace(cmd.Locale),
			Metadata:       metadata,
			IdempotencyKey: s.checkoutIdempotencyKey(cmd, order),
			Items:          buildCheckoutLineItems(order),
			AllowPromotion: order.Coupon != nil && order.Coupon.Applied,
		})
	if err != nil {
		if errors.Is(err, payments.ErrUnsupportedProvider) {
			return payments.CheckoutSession{}, fmt.Errorf("%w: provider %q", ErrCheckoutInvalidInput, cmd.PSP)
		}
		s.logger(ctx, "checkout_session_failed", map[string]any{
			"orderId":  order.ID,
			"provider": cmd.PSP,
			"error":    err.Error(),
		})
		return payments.CheckoutSession{}, ErrCheckoutPaymentFailed
	}
	return session, nil
}

// abandonOrder cancels the freshly created order when the PSP session could
// not be opened, so the customer can retry from the same cart.
func (s *checkoutService) abandonOrder(ctx context.Context, order Order) {
	if _, err := s.orders.Cancel(ctx, CancelOrderCommand{
		OrderID: order.ID,
		ActorID: order.UserID,
		Reason:  "payment session failed",
	}); err != nil {
		s.logger(ctx, "checkout_order_abandon_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
}

// retireCart marks the cart as checked out. A failure here is logged, not
// returned: the order and session already exist and must reach the client.
func (s *checkoutService) retireCart(ctx context.Context, cart Cart, order Order, pricing CartPricing) {
	now := s.now()
	estimate := s.pricer.Estimate(pricing)
	cart.Estimate = &estimate
	cart.CheckedOutAt = &now
	cart.UpdatedAt = now

	if _, err := s.carts.UpsertCart(ctx, cart); err != nil {
		s.logger(ctx, "checkout_cart_retire_failed", map[string]any{
			"userId":  cart.UserID,
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
}

func (s *checkoutService) checkoutIdempotencyKey(cmd SubmitCheckoutCommand, order Order) string {
	if key := strings.TrimSpace(cmd.IdempotencyKey); key != "" {
		return key
	}
	base := fmt.Sprintf("%s|%s|%d", order.UserID, order.OrderNumber, order.Totals.Total)
	sum := sha256.Sum256([]byte(base))
	return hex.EncodeToString(sum[:])
}

func (s *checkoutService) translateCartError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return ErrCheckoutCartNotReady
	}
	return ErrCheckoutUnavailable
}

// buildCheckoutLineItems renders the order for the PSP. Product lines carry
// their priced totals; shipping and discounts are folded into dedicated lines
// so the session amount matches the order total.
func buildCheckoutLineItems(order Order) []payments.CheckoutLineItem {
	items := make([]payments.CheckoutLineItem, 0, len(order.Items)+2)
	for _, line := range order.Items {
		name := firstNonEmpty(line.ProductName, line.ProductRef)
		if line.FlavorName != "" {
			name = name + " (" + line.FlavorName + ")"
		}
		items = append(items, payments.CheckoutLineItem{
			Name:     name,
			SKU:      line.ProductRef,
			Quantity: int64(line.Quantity),
			Amount:   line.UnitPrice,
			Currency: order.Currency,
		})
	}
	if order.Totals.Shipping > 0 {
		items = append(items, payments.CheckoutLineItem{
			Name:     "Shipping",
			Quantity: 1,
			Amount:   order.Totals.Shipping,
			Currency: order.Currency,
		})
	}
	if order.Totals.Discount > 0 {
		// PSP line items cannot carry negative amounts; collapse to a single
		// aggregate line when a discount applies.
		return []payments.CheckoutLineItem{{
			Name:     "Order " + order.OrderNumber,
			Quantity: 1,
			Amount:   order.Totals.Total,
			Currency: order.Currency,
		}}
	}
	return items
}
