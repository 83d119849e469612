package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/caravela/api/internal/domain"
	"github.com/caravela/api/internal/payments"
	"github.com/caravela/api/internal/repositories"
)

type sessionManagerStub struct {
	session payments.CheckoutSession
	err     error
	calls   int
	lastCtx payments.PaymentContext
	lastReq payments.CheckoutSessionRequest
}

func (m *sessionManagerStub) CreateCheckoutSession(_ context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	m.calls++
	m.lastCtx = paymentCtx
	m.lastReq = req
	if m.err != nil {
		return payments.CheckoutSession{}, m.err
	}
	return m.session, nil
}

type addressStubRepo struct {
	addresses map[string]domain.Address
}

func (r *addressStubRepo) Get(_ context.Context, _ string, addressID string) (domain.Address, error) {
	addr, ok := r.addresses[addressID]
	if !ok {
		return domain.Address{}, couponRepoError{notFound: true}
	}
	return addr, nil
}

func (r *addressStubRepo) List(context.Context, string) ([]domain.Address, error) { return nil, nil }

func (r *addressStubRepo) Upsert(_ context.Context, _ string, _ *string, addr domain.Address) (domain.Address, error) {
	return addr, nil
}

func (r *addressStubRepo) Delete(context.Context, string, string) error { return nil }

func (r *addressStubRepo) FindByHash(context.Context, string, string) (domain.Address, bool, error) {
	return domain.Address{}, false, nil
}

func (r *addressStubRepo) HasAny(context.Context, string) (bool, error) { return false, nil }

func (r *addressStubRepo) SetDefaultFlags(context.Context, string, string, *bool, *bool) (domain.Address, error) {
	return domain.Address{}, nil
}

var _ repositories.AddressRepository = (*addressStubRepo)(nil)

type checkoutTestEnv struct {
	carts  *cartStubRepo
	orders *orderStubRepo
	psp    *sessionManagerStub
	svc    CheckoutService
}

func newCheckoutTestEnv(t *testing.T, psp *sessionManagerStub) checkoutTestEnv {
	t.Helper()
	clock := func() time.Time { return orderTestNow }

	catalog, err := NewCatalogService(CatalogServiceDeps{Catalog: cartCatalogFixture(), Clock: clock})
	if err != nil {
		t.Fatalf("NewCatalogService: %v", err)
	}
	pricer, err := NewCartPricingEngine(CartPricingEngineDeps{
		Shipping: ShippingPolicy{FreeThreshold: 50000, FlatRate: 5990},
		Currency: "EUR",
		Now:      clock,
	})
	if err != nil {
		t.Fatalf("NewCartPricingEngine: %v", err)
	}

	env := checkoutTestEnv{
		carts:  newCartStubRepo(),
		orders: newOrderStubRepo(),
		psp:    psp,
	}
	svc, err := NewCheckoutService(CheckoutServiceDeps{
		Carts:    env.carts,
		Catalog:  catalog,
		Pricer:   pricer,
		Orders:   newOrderTestService(t, env.orders, nil),
		Payments: psp,
		Addresses: &addressStubRepo{addresses: map[string]domain.Address{
			"addr-1": {ID: "addr-1", Recipient: "Rita", Line1: "Rua das Flores 1", City: "Lisboa", PostalCode: "1200-001", Country: "PT"},
		}},
		Clock: clock,
	})
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}
	env.svc = svc
	return env
}

func seedCheckoutCart(env checkoutTestEnv, withCoupon bool) {
	cart := domain.Cart{
		ID:       "user-1",
		UserID:   "user-1",
		Currency: "EUR",
		Items: []domain.CartItem{
			{ID: "itm_1", ProductID: "prod-cone", FlavorID: "flv-pistachio", Quantity: 2,
				Customizations: []domain.CustomizationSelection{{OptionID: "opt-sprinkles", Quantity: 1}}},
			{ID: "itm_2", ProductID: "prod-tub", Quantity: 1},
		},
	}
	if withCoupon {
		cart.Coupon = &domain.CartCoupon{Code: "SAVE5", Type: domain.CouponTypeFixed, Value: 500, DiscountAmount: 500, Applied: true}
	}
	env.carts.carts["user-1"] = cart
}

func submitCommand() SubmitCheckoutCommand {
	return SubmitCheckoutCommand{
		UserID:     "user-1",
		SuccessURL: "https://shop.example.com/done",
		CancelURL:  "https://shop.example.com/cart",
		Contact:    OrderContact{Email: "gelato@example.com"},
	}
}

func TestCheckoutSubmitCreatesOrderAndSession(t *testing.T) {
	psp := &sessionManagerStub{session: payments.CheckoutSession{
		ID:          "cs_1",
		RedirectURL: "https://psp.example.com/cs_1",
		ExpiresAt:   orderTestNow.Add(30 * time.Minute),
	}}
	env := newCheckoutTestEnv(t, psp)
	seedCheckoutCart(env, true)

	result, err := env.svc.Submit(context.Background(), submitCommand())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// cone line: (1200 + 150 + 50) * 2 = 2800; tub line: 1100
	want := OrderTotals{Subtotal: 3900, Shipping: 5990, Discount: 500, Total: 9390}
	if result.Order.Totals != want {
		t.Fatalf("unexpected totals %+v", result.Order.Totals)
	}
	if result.Order.Status != domain.OrderStatusPending || result.Order.OrderNumber != "CAR-2026-000001" {
		t.Fatalf("unexpected order %+v", result.Order)
	}
	if result.SessionID != "cs_1" || result.RedirectURL != "https://psp.example.com/cs_1" {
		t.Fatalf("unexpected session result %+v", result)
	}

	if psp.lastReq.Amount != 9390 || psp.lastReq.Currency != "EUR" {
		t.Fatalf("unexpected session request %+v", psp.lastReq)
	}
	if psp.lastReq.Metadata["order_number"] != "CAR-2026-000001" {
		t.Fatalf("expected order number metadata, got %+v", psp.lastReq.Metadata)
	}
	if !psp.lastReq.AllowPromotion {
		t.Fatalf("expected promotion flag for couponed order")
	}
	// Discounted orders collapse into a single aggregate line.
	if len(psp.lastReq.Items) != 1 || psp.lastReq.Items[0].Amount != 9390 {
		t.Fatalf("unexpected line items %+v", psp.lastReq.Items)
	}

	stored := env.carts.carts["user-1"]
	if stored.CheckedOutAt == nil {
		t.Fatalf("expected cart retired after checkout")
	}
}

func TestCheckoutSubmitItemizesSessionWithoutDiscount(t *testing.T) {
	psp := &sessionManagerStub{session: payments.CheckoutSession{ID: "cs_2"}}
	env := newCheckoutTestEnv(t, psp)
	seedCheckoutCart(env, false)

	if _, err := env.svc.Submit(context.Background(), submitCommand()); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Two product lines plus a shipping line.
	if len(psp.lastReq.Items) != 3 {
		t.Fatalf("expected itemized session, got %+v", psp.lastReq.Items)
	}
	var sum int64
	for _, item := range psp.lastReq.Items {
		sum += item.Amount * item.Quantity
	}
	if sum != psp.lastReq.Amount {
		t.Fatalf("line items sum %d does not match amount %d", sum, psp.lastReq.Amount)
	}
}

func TestCheckoutSubmitRequiresReadyCart(t *testing.T) {
	env := newCheckoutTestEnv(t, &sessionManagerStub{})
	ctx := context.Background()

	if _, err := env.svc.Submit(ctx, submitCommand()); !errors.Is(err, ErrCheckoutCartNotReady) {
		t.Fatalf("expected ErrCheckoutCartNotReady for missing cart, got %v", err)
	}

	env.carts.carts["user-1"] = domain.Cart{ID: "user-1", UserID: "user-1", Currency: "EUR"}
	if _, err := env.svc.Submit(ctx, submitCommand()); !errors.Is(err, ErrCheckoutCartNotReady) {
		t.Fatalf("expected ErrCheckoutCartNotReady for empty cart, got %v", err)
	}

	seedCheckoutCart(env, false)
	done := env.carts.carts["user-1"]
	done.CheckedOutAt = &orderTestNow
	env.carts.carts["user-1"] = done
	if _, err := env.svc.Submit(ctx, submitCommand()); !errors.Is(err, ErrCheckoutCartNotReady) {
		t.Fatalf("expected ErrCheckoutCartNotReady for checked-out cart, got %v", err)
	}
}

func TestCheckoutSubmitValidation(t *testing.T) {
	env := newCheckoutTestEnv(t, &sessionManagerStub{})
	ctx := context.Background()

	cmd := submitCommand()
	cmd.UserID = " "
	if _, err := env.svc.Submit(ctx, cmd); !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected rejection for blank user, got %v", err)
	}

	cmd = submitCommand()
	cmd.CancelURL = ""
	if _, err := env.svc.Submit(ctx, cmd); !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected rejection for missing cancel URL, got %v", err)
	}
}

func TestCheckoutSessionFailureAbandonsOrder(t *testing.T) {
	psp := &sessionManagerStub{err: errors.New("psp down")}
	env := newCheckoutTestEnv(t, psp)
	seedCheckoutCart(env, false)

	if _, err := env.svc.Submit(context.Background(), submitCommand()); !errors.Is(err, ErrCheckoutPaymentFailed) {
		t.Fatalf("expected ErrCheckoutPaymentFailed, got %v", err)
	}

	var found bool
	for _, order := range env.orders.orders {
		found = true
		if order.Status != domain.OrderStatusCancelled {
			t.Fatalf("expected abandoned order cancelled, got %s", order.Status)
		}
	}
	if !found {
		t.Fatalf("expected order created before session attempt")
	}
	if env.carts.carts["user-1"].CheckedOutAt != nil {
		t.Fatalf("failed checkout must not retire the cart")
	}
}

func TestCheckoutUnsupportedProviderIsInvalidInput(t *testing.T) {
	psp := &sessionManagerStub{err: payments.ErrUnsupportedProvider}
	env := newCheckoutTestEnv(t, psp)
	seedCheckoutCart(env, false)

	cmd := submitCommand()
	cmd.PSP = "carrier-pigeon"
	if _, err := env.svc.Submit(context.Background(), cmd); !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected ErrCheckoutInvalidInput, got %v", err)
	}
}

func TestCheckoutResolvesAddressSnapshots(t *testing.T) {
	psp := &sessionManagerStub{session: payments.CheckoutSession{ID: "cs_3"}}
	env := newCheckoutTestEnv(t, psp)
	seedCheckoutCart(env, false)

	cmd := submitCommand()
	cmd.ShippingAddressID = "addr-1"
	result, err := env.svc.Submit(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if result.Order.ShippingAddress == nil || result.Order.ShippingAddress.City != "Lisboa" {
		t.Fatalf("expected shipping address snapshot, got %+v", result.Order.ShippingAddress)
	}

	seedCheckoutCart(env, false)
	cmd.ShippingAddressID = "addr-missing"
	if _, err := env.svc.Submit(context.Background(), cmd); !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected rejection for unknown address, got %v", err)
	}
}
