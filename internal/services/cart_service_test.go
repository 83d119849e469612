package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/caravela/api/internal/domain"
)

type cartStubRepo struct {
	carts map[string]domain.Cart
}

func newCartStubRepo() *cartStubRepo {
	return &cartStubRepo{carts: map[string]domain.Cart{}}
}

func (r *cartStubRepo) UpsertCart(_ context.Context, cart domain.Cart) (domain.Cart, error) {
	r.carts[cart.UserID] = cart
	return cart, nil
}

func (r *cartStubRepo) GetCart(_ context.Context, userID string) (domain.Cart, error) {
	cart, ok := r.carts[userID]
	if !ok {
		return domain.Cart{}, couponRepoError{notFound: true}
	}
	return cart, nil
}

func (r *cartStubRepo) ReplaceItems(_ context.Context, userID string, items []domain.CartItem) (domain.Cart, error) {
	cart, ok := r.carts[userID]
	if !ok {
		cart = domain.Cart{ID: userID, UserID: userID}
	}
	cart.Items = items
	r.carts[userID] = cart
	return cart, nil
}

type fakeCouponService struct {
	outcome    CouponOutcome
	applyCalls int
	lastApply  ApplyCouponCommand
}

func (f *fakeCouponService) Validate(_ context.Context, _ ValidateCouponCommand) (CouponOutcome, error) {
	return f.outcome, nil
}

func (f *fakeCouponService) Apply(_ context.Context, cmd ApplyCouponCommand) (CouponOutcome, error) {
	f.applyCalls++
	f.lastApply = cmd
	return f.outcome, nil
}

func (f *fakeCouponService) ListCoupons(_ context.Context, _ CouponListFilter) (domain.CursorPage[Coupon], error) {
	return domain.CursorPage[Coupon]{}, nil
}

func (f *fakeCouponService) CreateCoupon(_ context.Context, _ UpsertCouponCommand) (Coupon, error) {
	return Coupon{}, nil
}

func (f *fakeCouponService) UpdateCoupon(_ context.Context, _ UpsertCouponCommand) (Coupon, error) {
	return Coupon{}, nil
}

func cartCatalogFixture() *catalogStubRepo {
	return &catalogStubRepo{
		products: map[string]domain.Product{
			"prod-cone": {ID: "prod-cone", BasePrice: 1200, IsActive: true, MaxOrderQuantity: 10},
			"prod-tub":  {ID: "prod-tub", BasePrice: 1100, IsActive: true},
		},
		flavors: map[string]map[string]domain.ProductFlavor{
			"prod-cone": {
				"flv-pistachio": {ProductID: "prod-cone", FlavorID: "flv-pistachio", PriceModifier: 150, IsAvailable: true},
				"flv-vanilla":   {ProductID: "prod-cone", FlavorID: "flv-vanilla", PriceModifier: 0, IsAvailable: true},
			},
		},
		customizations: map[string]domain.CustomizationOption{
			"opt-sprinkles": {ID: "opt-sprinkles", Price: 50, IsAvailable: true},
		},
	}
}

func newCartTestService(t *testing.T, repo *cartStubRepo, coupons CouponService) CartService {
	t.Helper()
	clock := func() time.Time { return time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC) }

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

	ids := 0
	svc, err := NewCartService(CartServiceDeps{
		Repository: repo,
		Catalog:    catalog,
		Pricer:     pricer,
		Coupons:    coupons,
		Clock:      clock,
		IDGenerator: func() string {
			ids++
			return "itm_" + string(rune('0'+ids))
		},
	})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	return svc
}

func TestGetOrCreateCartCreatesAndRetiresCheckedOut(t *testing.T) {
	repo := newCartStubRepo()
	svc := newCartTestService(t, repo, nil)

	cart, err := svc.GetOrCreateCart(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetOrCreateCart: %v", err)
	}
	if cart.UserID != "user-1" || cart.Currency != "EUR" {
		t.Fatalf("unexpected cart %+v", cart)
	}
	if cart.Estimate == nil || cart.Estimate.Subtotal != 0 {
		t.Fatalf("expected empty estimate, got %+v", cart.Estimate)
	}

	checkedOut := time.Date(2026, 3, 13, 9, 0, 0, 0, time.UTC)
	stored := repo.carts["user-1"]
	stored.CheckedOutAt = &checkedOut
	stored.Items = []domain.CartItem{{ID: "itm_old", ProductID: "prod-cone", Quantity: 1}}
	repo.carts["user-1"] = stored

	fresh, err := svc.GetOrCreateCart(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetOrCreateCart after checkout: %v", err)
	}
	if len(fresh.Items) != 0 || fresh.CheckedOutAt != nil {
		t.Fatalf("expected a fresh cart to replace the checked-out one, got %+v", fresh)
	}
}

func TestAddItemMergesSameProductAndFlavor(t *testing.T) {
	repo := newCartStubRepo()
	svc := newCartTestService(t, repo, nil)

	if _, err := svc.AddOrUpdateItem(context.Background(), UpsertCartItemCommand{
		UserID:    "user-1",
		ProductID: "prod-cone",
		FlavorID:  "flv-pistachio",
		Quantity:  1,
	}); err != nil {
		t.Fatalf("first add: %v", err)
	}

	cart, err := svc.AddOrUpdateItem(context.Background(), UpsertCartItemCommand{
		UserID:    "user-1",
		ProductID: "prod-cone",
		FlavorID:  "flv-pistachio",
		Quantity:  1,
	})
	if err != nil {
		t.Fatalf("second add: %v", err)
	}

	if len(cart.Items) != 1 {
		t.Fatalf("expected merged line, got %d items", len(cart.Items))
	}
	if cart.Items[0].Quantity != 2 {
		t.Fatalf("expected merged quantity 2, got %d", cart.Items[0].Quantity)
	}
	// 2 * (1200 + 150) = 2700
	if cart.Estimate == nil || cart.Estimate.Subtotal != 2700 {
		t.Fatalf("unexpected estimate %+v", cart.Estimate)
	}
	if cart.Estimate.Shipping != 5990 {
		t.Fatalf("expected flat shipping, got %d", cart.Estimate.Shipping)
	}
}

func TestAddItemKeepsDistinctFlavorsSeparate(t *testing.T) {
	repo := newCartStubRepo()
	svc := newCartTestService(t, repo, nil)

	ctx := context.Background()
	if _, err := svc.AddOrUpdateItem(ctx, UpsertCartItemCommand{UserID: "user-1", ProductID: "prod-cone", FlavorID: "flv-pistachio", Quantity: 1}); err != nil {
		t.Fatalf("add pistachio: %v", err)
	}
	cart, err := svc.AddOrUpdateItem(ctx, UpsertCartItemCommand{UserID: "user-1", ProductID: "prod-cone", FlavorID: "flv-vanilla", Quantity: 1})
	if err != nil {
		t.Fatalf("add vanilla: %v", err)
	}

	if len(cart.Items) != 2 {
		t.Fatalf("expected two lines, got %d", len(cart.Items))
	}
}

func TestAddItemValidation(t *testing.T) {
	repo := newCartStubRepo()
	svc := newCartTestService(t, repo, nil)
	ctx := context.Background()

	if _, err := svc.AddOrUpdateItem(ctx, UpsertCartItemCommand{UserID: "user-1", ProductID: "prod-gone", Quantity: 1}); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected rejection for unknown product, got %v", err)
	}
	if _, err := svc.AddOrUpdateItem(ctx, UpsertCartItemCommand{UserID: "user-1", ProductID: "prod-cone", Quantity: 0}); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected rejection for zero quantity, got %v", err)
	}
	if _, err := svc.AddOrUpdateItem(ctx, UpsertCartItemCommand{UserID: "user-1", ProductID: "prod-cone", Quantity: 11}); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected rejection above max order quantity, got %v", err)
	}
	if _, err := svc.AddOrUpdateItem(ctx, UpsertCartItemCommand{
		UserID:         "user-1",
		ProductID:      "prod-cone",
		Quantity:       1,
		Customizations: []domain.CustomizationSelection{{OptionID: "opt-sprinkles", Quantity: 0}},
	}); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected rejection for zero customization quantity, got %v", err)
	}
}

func TestRemoveItem(t *testing.T) {
	repo := newCartStubRepo()
	svc := newCartTestService(t, repo, nil)
	ctx := context.Background()

	cart, err := svc.AddOrUpdateItem(ctx, UpsertCartItemCommand{UserID: "user-1", ProductID: "prod-cone", Quantity: 1})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	updated, err := svc.RemoveItem(ctx, RemoveCartItemCommand{UserID: "user-1", ItemID: cart.Items[0].ID})
	if err != nil {
		t.Fatalf("RemoveItem: %v", err)
	}
	if len(updated.Items) != 0 {
		t.Fatalf("expected empty cart, got %d items", len(updated.Items))
	}

	if _, err := svc.RemoveItem(ctx, RemoveCartItemCommand{UserID: "user-1", ItemID: "itm_missing"}); !errors.Is(err, ErrCartNotFound) {
		t.Fatalf("expected ErrCartNotFound, got %v", err)
	}
}

func TestEstimateDoesNotPersist(t *testing.T) {
	repo := newCartStubRepo()
	svc := newCartTestService(t, repo, nil)
	ctx := context.Background()

	if _, err := svc.AddOrUpdateItem(ctx, UpsertCartItemCommand{UserID: "user-1", ProductID: "prod-tub", Quantity: 2}); err != nil {
		t.Fatalf("add: %v", err)
	}

	estimate, err := svc.Estimate(ctx, "user-1")
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if estimate.Subtotal != 2200 {
		t.Fatalf("expected subtotal 2200, got %d", estimate.Subtotal)
	}
	if estimate.Total != 2200+5990 {
		t.Fatalf("expected total %d, got %d", 2200+5990, estimate.Total)
	}
}

func TestApplyCouponStoresDiscount(t *testing.T) {
	repo := newCartStubRepo()
	coupons := &fakeCouponService{outcome: CouponOutcome{Code: "SAVE5", Applied: true, Type: domain.CouponTypeFixed, Value: 500, DiscountAmount: 500}}
	svc := newCartTestService(t, repo, coupons)
	ctx := context.Background()

	if _, err := svc.AddOrUpdateItem(ctx, UpsertCartItemCommand{UserID: "user-1", ProductID: "prod-tub", Quantity: 2}); err != nil {
		t.Fatalf("add: %v", err)
	}

	cart, outcome, err := svc.ApplyCoupon(ctx, CartCouponCommand{UserID: "user-1", Code: "save5"})
	if err != nil {
		t.Fatalf("ApplyCoupon: %v", err)
	}
	if !outcome.Applied || outcome.DiscountAmount != 500 {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if cart.Coupon == nil || cart.Coupon.Code != "SAVE5" || !cart.Coupon.Applied {
		t.Fatalf("expected coupon stored on cart, got %+v", cart.Coupon)
	}
	if coupons.lastApply.Subtotal != 2200 || coupons.lastApply.Shipping != 5990 {
		t.Fatalf("expected coupon engine to see undiscounted amounts, got %+v", coupons.lastApply)
	}
	if cart.Estimate == nil || cart.Estimate.Total != 2200+5990-500 {
		t.Fatalf("unexpected estimate %+v", cart.Estimate)
	}
}

func TestApplyCouponIsIdempotentForSameCode(t *testing.T) {
	repo := newCartStubRepo()
	coupons := &fakeCouponService{outcome: CouponOutcome{Code: "SAVE5", Applied: true, Type: domain.CouponTypeFixed, Value: 500, DiscountAmount: 500}}
	svc := newCartTestService(t, repo, coupons)
	ctx := context.Background()

	if _, err := svc.AddOrUpdateItem(ctx, UpsertCartItemCommand{UserID: "user-1", ProductID: "prod-tub", Quantity: 2}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, _, err := svc.ApplyCoupon(ctx, CartCouponCommand{UserID: "user-1", Code: "SAVE5"}); err != nil {
		t.Fatalf("first apply: %v", err)
	}

	cart, outcome, err := svc.ApplyCoupon(ctx, CartCouponCommand{UserID: "user-1", Code: "SAVE5"})
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}

	if coupons.applyCalls != 1 {
		t.Fatalf("re-applying the same code must not consume a use, got %d apply calls", coupons.applyCalls)
	}
	if !outcome.Applied || outcome.Reason != domain.CouponReasonAlreadyApplied {
		t.Fatalf("expected already-applied no-op, got %+v", outcome)
	}
	if cart.Coupon == nil || cart.Coupon.DiscountAmount != 500 {
		t.Fatalf("expected unchanged coupon, got %+v", cart.Coupon)
	}
}

func TestCouponDiscountTracksCartChanges(t *testing.T) {
	repo := newCartStubRepo()
	coupons := &fakeCouponService{outcome: CouponOutcome{
		Code:           "FREESHIP",
		Applied:        true,
		Type:           domain.CouponTypeFreeShipping,
		DiscountAmount: 5990,
	}}
	svc := newCartTestService(t, repo, coupons)
	ctx := context.Background()

	if _, err := svc.AddOrUpdateItem(ctx, UpsertCartItemCommand{UserID: "user-1", ProductID: "prod-tub", Quantity: 1}); err != nil {
		t.Fatalf("add: %v", err)
	}
	cart, _, err := svc.ApplyCoupon(ctx, CartCouponCommand{UserID: "user-1", Code: "FREESHIP"})
	if err != nil {
		t.Fatalf("ApplyCoupon: %v", err)
	}
	if cart.Estimate == nil || cart.Estimate.Discount != 5990 || cart.Estimate.Total != 1100 {
		t.Fatalf("expected shipping zeroed below threshold, got %+v", cart.Estimate)
	}

	// Growing the cart past the free-shipping threshold leaves nothing for
	// the coupon to discount.
	cart, err = svc.AddOrUpdateItem(ctx, UpsertCartItemCommand{UserID: "user-1", ProductID: "prod-tub", Quantity: 45})
	if err != nil {
		t.Fatalf("grow: %v", err)
	}
	if cart.Estimate == nil || cart.Estimate.Subtotal != 50600 {
		t.Fatalf("expected subtotal 50600, got %+v", cart.Estimate)
	}
	if cart.Estimate.Shipping != 0 || cart.Estimate.Discount != 0 {
		t.Fatalf("free-shipping discount must track shipping, got %+v", cart.Estimate)
	}
	if cart.Estimate.Total != 50600 {
		t.Fatalf("expected total 50600, got %d", cart.Estimate.Total)
	}
	if cart.Coupon == nil || cart.Coupon.DiscountAmount != 0 {
		t.Fatalf("expected stored discount refreshed, got %+v", cart.Coupon)
	}
}

func TestApplyCouponRejectionLeavesCartUntouched(t *testing.T) {
	repo := newCartStubRepo()
	coupons := &fakeCouponService{outcome: CouponOutcome{Code: "BIG", Reason: domain.CouponReasonMinOrderNotMet}}
	svc := newCartTestService(t, repo, coupons)
	ctx := context.Background()

	if _, err := svc.AddOrUpdateItem(ctx, UpsertCartItemCommand{UserID: "user-1", ProductID: "prod-tub", Quantity: 1}); err != nil {
		t.Fatalf("add: %v", err)
	}

	cart, outcome, err := svc.ApplyCoupon(ctx, CartCouponCommand{UserID: "user-1", Code: "BIG"})
	if err != nil {
		t.Fatalf("ApplyCoupon: %v", err)
	}
	if outcome.Applied {
		t.Fatalf("expected rejected outcome, got %+v", outcome)
	}
	if outcome.Reason != domain.CouponReasonMinOrderNotMet {
		t.Fatalf("unexpected reason %q", outcome.Reason)
	}
	if cart.Coupon != nil {
		t.Fatalf("rejected coupon must not attach to the cart")
	}
}

func TestRemoveCouponReprices(t *testing.T) {
	repo := newCartStubRepo()
	coupons := &fakeCouponService{outcome: CouponOutcome{Code: "SAVE5", Applied: true, Type: domain.CouponTypeFixed, Value: 500, DiscountAmount: 500}}
	svc := newCartTestService(t, repo, coupons)
	ctx := context.Background()

	if _, err := svc.AddOrUpdateItem(ctx, UpsertCartItemCommand{UserID: "user-1", ProductID: "prod-tub", Quantity: 2}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, _, err := svc.ApplyCoupon(ctx, CartCouponCommand{UserID: "user-1", Code: "SAVE5"}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	cart, err := svc.RemoveCoupon(ctx, "user-1")
	if err != nil {
		t.Fatalf("RemoveCoupon: %v", err)
	}
	if cart.Coupon != nil {
		t.Fatalf("expected coupon removed")
	}
	if cart.Estimate == nil || cart.Estimate.Total != 2200+5990 {
		t.Fatalf("expected undiscounted total, got %+v", cart.Estimate)
	}
}

func TestClearCart(t *testing.T) {
	repo := newCartStubRepo()
	svc := newCartTestService(t, repo, nil)
	ctx := context.Background()

	if _, err := svc.AddOrUpdateItem(ctx, UpsertCartItemCommand{UserID: "user-1", ProductID: "prod-tub", Quantity: 1}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := svc.ClearCart(ctx, "user-1"); err != nil {
		t.Fatalf("ClearCart: %v", err)
	}

	stored := repo.carts["user-1"]
	if len(stored.Items) != 0 || stored.Coupon != nil {
		t.Fatalf("expected cleared cart, got %+v", stored)
	}

	// Clearing an absent cart is a no-op.
	if err := svc.ClearCart(ctx, "user-2"); err != nil {
		t.Fatalf("ClearCart on missing cart: %v", err)
	}
}
