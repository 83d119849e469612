package handlers

import (
	"context"
	"time"

	domain "github.com/caravela/api/internal/domain"
	"github.com/caravela/api/internal/services"
)

// Shared service stubs for handler tests. Each stub delegates to optional
// function fields so individual tests override only what they exercise.

var handlerTestNow = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

type stubCatalogService struct {
	listProducts   func(context.Context, services.ProductFilter) (domain.CursorPage[domain.Product], error)
	getProduct     func(context.Context, string) (domain.Product, error)
	listCategories func(context.Context) ([]domain.Category, error)
}

func (s *stubCatalogService) ListProducts(ctx context.Context, filter services.ProductFilter) (domain.CursorPage[domain.Product], error) {
	if s.listProducts != nil {
		return s.listProducts(ctx, filter)
	}
	return domain.CursorPage[domain.Product]{}, nil
}

func (s *stubCatalogService) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	if s.getProduct != nil {
		return s.getProduct(ctx, productID)
	}
	return domain.Product{}, services.ErrCatalogProductNotFound
}

func (s *stubCatalogService) ListCategories(ctx context.Context) ([]domain.Category, error) {
	if s.listCategories != nil {
		return s.listCategories(ctx)
	}
	return nil, nil
}

func (s *stubCatalogService) Snapshot(context.Context, services.SnapshotRefs) (domain.CatalogSnapshot, error) {
	return domain.CatalogSnapshot{}, nil
}

type stubCartService struct {
	getOrCreate  func(context.Context, string) (domain.Cart, error)
	upsertItem   func(context.Context, services.UpsertCartItemCommand) (domain.Cart, error)
	removeItem   func(context.Context, services.RemoveCartItemCommand) (domain.Cart, error)
	estimate     func(context.Context, string) (domain.CartEstimate, error)
	applyCoupon  func(context.Context, services.CartCouponCommand) (domain.Cart, domain.CouponOutcome, error)
	removeCoupon func(context.Context, string) (domain.Cart, error)
	clearCart    func(context.Context, string) error
}

func (s *stubCartService) GetOrCreateCart(ctx context.Context, userID string) (domain.Cart, error) {
	if s.getOrCreate != nil {
		return s.getOrCreate(ctx, userID)
	}
	return domain.Cart{ID: "crt_stub", UserID: userID}, nil
}

func (s *stubCartService) AddOrUpdateItem(ctx context.Context, cmd services.UpsertCartItemCommand) (domain.Cart, error) {
	if s.upsertItem != nil {
		return s.upsertItem(ctx, cmd)
	}
	return domain.Cart{ID: "crt_stub", UserID: cmd.UserID}, nil
}

func (s *stubCartService) RemoveItem(ctx context.Context, cmd services.RemoveCartItemCommand) (domain.Cart, error) {
	if s.removeItem != nil {
		return s.removeItem(ctx, cmd)
	}
	return domain.Cart{ID: "crt_stub", UserID: cmd.UserID}, nil
}

func (s *stubCartService) Estimate(ctx context.Context, userID string) (domain.CartEstimate, error) {
	if s.estimate != nil {
		return s.estimate(ctx, userID)
	}
	return domain.CartEstimate{}, nil
}

func (s *stubCartService) ApplyCoupon(ctx context.Context, cmd services.CartCouponCommand) (domain.Cart, domain.CouponOutcome, error) {
	if s.applyCoupon != nil {
		return s.applyCoupon(ctx, cmd)
	}
	return domain.Cart{ID: "crt_stub", UserID: cmd.UserID}, domain.CouponOutcome{}, nil
}

func (s *stubCartService) RemoveCoupon(ctx context.Context, userID string) (domain.Cart, error) {
	if s.removeCoupon != nil {
		return s.removeCoupon(ctx, userID)
	}
	return domain.Cart{ID: "crt_stub", UserID: userID}, nil
}

func (s *stubCartService) ClearCart(ctx context.Context, userID string) error {
	if s.clearCart != nil {
		return s.clearCart(ctx, userID)
	}
	return nil
}

type stubCouponService struct {
	validate func(context.Context, services.ValidateCouponCommand) (domain.CouponOutcome, error)
	apply    func(context.Context, services.ApplyCouponCommand) (domain.CouponOutcome, error)
	list     func(context.Context, services.CouponListFilter) (domain.CursorPage[domain.Coupon], error)
	create   func(context.Context, services.UpsertCouponCommand) (domain.Coupon, error)
	update   func(context.Context, services.UpsertCouponCommand) (domain.Coupon, error)
}

func (s *stubCouponService) Validate(ctx context.Context, cmd services.ValidateCouponCommand) (domain.CouponOutcome, error) {
	if s.validate != nil {
		return s.validate(ctx, cmd)
	}
	return domain.CouponOutcome{Code: cmd.Code}, nil
}

func (s *stubCouponService) Apply(ctx context.Context, cmd services.ApplyCouponCommand) (domain.CouponOutcome, error) {
	if s.apply != nil {
		return s.apply(ctx, cmd)
	}
	return domain.CouponOutcome{Code: cmd.Code}, nil
}

func (s *stubCouponService) ListCoupons(ctx context.Context, filter services.CouponListFilter) (domain.CursorPage[domain.Coupon], error) {
	if s.list != nil {
		return s.list(ctx, filter)
	}
	return domain.CursorPage[domain.Coupon]{}, nil
}

func (s *stubCouponService) CreateCoupon(ctx context.Context, cmd services.UpsertCouponCommand) (domain.Coupon, error) {
	if s.create != nil {
		return s.create(ctx, cmd)
	}
	return cmd.Coupon, nil
}

func (s *stubCouponService) UpdateCoupon(ctx context.Context, cmd services.UpsertCouponCommand) (domain.Coupon, error) {
	if s.update != nil {
		return s.update(ctx, cmd)
	}
	return cmd.Coupon, nil
}

type stubCheckoutService struct {
	submit func(context.Context, services.SubmitCheckoutCommand) (services.CheckoutResult, error)
}

func (s *stubCheckoutService) Submit(ctx context.Context, cmd services.SubmitCheckoutCommand) (services.CheckoutResult, error) {
	if s.submit != nil {
		return s.submit(ctx, cmd)
	}
	return services.CheckoutResult{}, nil
}

type stubOrderService struct {
	list       func(context.Context, services.OrderListFilter) (domain.CursorPage[domain.Order], error)
	get        func(context.Context, string) (domain.Order, error)
	cancel     func(context.Context, services.CancelOrderCommand) (domain.Order, error)
	transition func(context.Context, services.OrderStatusTransitionCommand) (domain.Order, error)
}

func (s *stubOrderService) CreateFromCart(context.Context, services.CreateOrderFromCartCommand) (domain.Order, error) {
	return domain.Order{}, nil
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.list != nil {
		return s.list(ctx, filter)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	if s.get != nil {
		return s.get(ctx, orderID)
	}
	return domain.Order{}, services.ErrOrderNotFound
}

func (s *stubOrderService) GetByNumber(context.Context, string) (domain.Order, error) {
	return domain.Order{}, services.ErrOrderNotFound
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.OrderStatusTransitionCommand) (domain.Order, error) {
	if s.transition != nil {
		return s.transition(ctx, cmd)
	}
	return domain.Order{}, nil
}

func (s *stubOrderService) MarkPayment(context.Context, services.PaymentStatusCommand) (domain.Order, error) {
	return domain.Order{}, nil
}

func (s *stubOrderService) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (domain.Order, error) {
	if s.cancel != nil {
		return s.cancel(ctx, cmd)
	}
	return domain.Order{}, nil
}

type stubPaymentService struct {
	record func(context.Context, services.PaymentWebhookCommand) (services.WebhookResult, error)
}

func (s *stubPaymentService) RecordWebhookEvent(ctx context.Context, cmd services.PaymentWebhookCommand) (services.WebhookResult, error) {
	if s.record != nil {
		return s.record(ctx, cmd)
	}
	return services.WebhookResult{}, nil
}

type stubLoyaltyService struct {
	getProfile func(context.Context, string) (domain.LoyaltyProfile, error)
}

func (s *stubLoyaltyService) GetProfile(ctx context.Context, userID string) (domain.LoyaltyProfile, error) {
	if s.getProfile != nil {
		return s.getProfile(ctx, userID)
	}
	return domain.LoyaltyProfile{UserID: userID, Tier: domain.LoyaltyTierBronze}, nil
}

func (s *stubLoyaltyService) CreditForOrder(_ context.Context, order domain.Order) (domain.LoyaltyProfile, error) {
	return domain.LoyaltyProfile{UserID: order.UserID}, nil
}

type stubReviewService struct {
	create func(context.Context, services.CreateReviewCommand) (domain.Review, error)
	list   func(context.Context, services.ListProductReviewsCommand) (domain.CursorPage[domain.Review], error)
	delete func(context.Context, services.DeleteReviewCommand) error
}

func (s *stubReviewService) Create(ctx context.Context, cmd services.CreateReviewCommand) (domain.Review, error) {
	if s.create != nil {
		return s.create(ctx, cmd)
	}
	return domain.Review{}, nil
}

func (s *stubReviewService) ListByProduct(ctx context.Context, cmd services.ListProductReviewsCommand) (domain.CursorPage[domain.Review], error) {
	if s.list != nil {
		return s.list(ctx, cmd)
	}
	return domain.CursorPage[domain.Review]{}, nil
}

func (s *stubReviewService) Delete(ctx context.Context, cmd services.DeleteReviewCommand) error {
	if s.delete != nil {
		return s.delete(ctx, cmd)
	}
	return nil
}

type stubSystemService struct {
	report  func(context.Context) (domain.SystemHealthReport, error)
	counter func(context.Context, services.CounterCommand) (int64, error)
}

func (s *stubSystemService) HealthReport(ctx context.Context) (domain.SystemHealthReport, error) {
	if s.report != nil {
		return s.report(ctx)
	}
	return domain.SystemHealthReport{Status: domain.HealthStatusOK, GeneratedAt: handlerTestNow}, nil
}

func (s *stubSystemService) NextCounterValue(ctx context.Context, cmd services.CounterCommand) (int64, error) {
	if s.counter != nil {
		return s.counter(ctx, cmd)
	}
	return 1, nil
}
