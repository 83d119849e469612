package services

import (
	"context"
	"time"

	domain "github.com/caravela/api/internal/domain"
	"github.com/caravela/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination             = domain.Pagination
	SortOrder              = domain.SortOrder
	Product                = domain.Product
	Flavor                 = domain.Flavor
	ProductFlavor          = domain.ProductFlavor
	CustomizationOption    = domain.CustomizationOption
	CustomizationSelection = domain.CustomizationSelection
	Category               = domain.Category
	CatalogSnapshot        = domain.CatalogSnapshot
	Cart                   = domain.Cart
	CartItem               = domain.CartItem
	CartCoupon             = domain.CartCoupon
	CartEstimate           = domain.CartEstimate
	Coupon                 = domain.Coupon
	CouponType             = domain.CouponType
	CouponOutcome          = domain.CouponOutcome
	CouponReason           = domain.CouponReason
	Order                  = domain.Order
	OrderStatus            = domain.OrderStatus
	PaymentStatus          = domain.PaymentStatus
	OrderTotals            = domain.OrderTotals
	OrderLineItem          = domain.OrderLineItem
	OrderContact           = domain.OrderContact
	PaymentEvent           = domain.PaymentEvent
	PaymentEventType       = domain.PaymentEventType
	LoyaltyProfile         = domain.LoyaltyProfile
	LoyaltyTier            = domain.LoyaltyTier
	Review                 = domain.Review
	Address                = domain.Address
	LinePricing            = domain.LinePricing
	CartPricing            = domain.CartPricing
	MissingReference       = domain.MissingReference
	ShippingPolicy         = domain.ShippingPolicy
	SystemHealthReport     = domain.SystemHealthReport
)

// CatalogService serves the public product surface and the price snapshots the
// pricing engine consumes.
type CatalogService interface {
	ListProducts(ctx context.Context, filter ProductFilter) (domain.CursorPage[Product], error)
	GetProduct(ctx context.Context, productID string) (Product, error)
	ListCategories(ctx context.Context) ([]Category, error)
	Snapshot(ctx context.Context, refs SnapshotRefs) (CatalogSnapshot, error)
}

// CartService manages mutable cart state and estimates.
type CartService interface {
	GetOrCreateCart(ctx context.Context, userID string) (Cart, error)
	AddOrUpdateItem(ctx context.Context, cmd UpsertCartItemCommand) (Cart, error)
	RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error)
	Estimate(ctx context.Context, userID string) (CartEstimate, error)
	ApplyCoupon(ctx context.Context, cmd CartCouponCommand) (Cart, CouponOutcome, error)
	RemoveCoupon(ctx context.Context, userID string) (Cart, error)
	ClearCart(ctx context.Context, userID string) error
}

// CouponService exposes coupon validation, atomic application, and admin lifecycle.
type CouponService interface {
	Validate(ctx context.Context, cmd ValidateCouponCommand) (CouponOutcome, error)
	Apply(ctx context.Context, cmd ApplyCouponCommand) (CouponOutcome, error)
	ListCoupons(ctx context.Context, filter CouponListFilter) (domain.CursorPage[Coupon], error)
	CreateCoupon(ctx context.Context, cmd UpsertCouponCommand) (Coupon, error)
	UpdateCoupon(ctx context.Context, cmd UpsertCouponCommand) (Coupon, error)
}

// CheckoutService turns a priced cart into an order with a PSP session.
type CheckoutService interface {
	Submit(ctx context.Context, cmd SubmitCheckoutCommand) (CheckoutResult, error)
}

// OrderService encapsulates order read/write flows including cancellation.
type OrderService interface {
	CreateFromCart(ctx context.Context, cmd CreateOrderFromCartCommand) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	GetByNumber(ctx context.Context, orderNumber string) (Order, error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	MarkPayment(ctx context.Context, cmd PaymentStatusCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
}

// PaymentService handles idempotent PSP webhook processing.
type PaymentService interface {
	RecordWebhookEvent(ctx context.Context, cmd PaymentWebhookCommand) (WebhookResult, error)
}

// LoyaltyService tracks point balances credited on paid orders.
type LoyaltyService interface {
	GetProfile(ctx context.Context, userID string) (LoyaltyProfile, error)
	CreditForOrder(ctx context.Context, order Order) (LoyaltyProfile, error)
}

// ReviewService coordinates the review lifecycle for purchased products.
type ReviewService interface {
	Create(ctx context.Context, cmd CreateReviewCommand) (Review, error)
	ListByProduct(ctx context.Context, cmd ListProductReviewsCommand) (domain.CursorPage[Review], error)
	Delete(ctx context.Context, cmd DeleteReviewCommand) error
}

// SystemService aggregates utility endpoints (health checks, counters).
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
	NextCounterValue(ctx context.Context, cmd CounterCommand) (int64, error)
}

// OrderEventPublisher accepts order lifecycle notifications for downstream processing.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, message OrderEventMessage) (string, error)
}

// OrderEventMessage is the payload published on the order events topic.
type OrderEventMessage struct {
	EventType   string    `json:"eventType"`
	OrderID     string    `json:"orderId"`
	OrderNumber string    `json:"orderNumber"`
	UserID      string    `json:"userId"`
	Total       int64     `json:"total"`
	Currency    string    `json:"currency"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// Order event types published on lifecycle transitions.
const (
	OrderEventConfirmed     = "order.confirmed"
	OrderEventPaymentFailed = "order.payment_failed"
	OrderEventRefunded      = "order.refunded"
	OrderEventCancelled     = "order.cancelled"
)

// DomainError represents a structured error with stable codes for transport across layers.
type DomainError interface {
	error
	Code() string
	SafeMessage() string
}

// Command and DTO definitions ------------------------------------------------

type ProductFilter = repositories.ProductFilter

type CouponListFilter = repositories.CouponListFilter

type OrderListFilter = repositories.OrderListFilter

// SnapshotRefs names the catalog entities a snapshot load should cover.
type SnapshotRefs struct {
	ProductIDs      []string
	CustomizationID []string
}

type UpsertCartItemCommand struct {
	UserID         string
	ItemID         *string
	ProductID      string
	FlavorID       string
	Quantity       int
	Customizations []CustomizationSelection
	Notes          string
}

type RemoveCartItemCommand struct {
	UserID string
	ItemID string
}

type CartCouponCommand struct {
	UserID string
	Code   string
}

type ValidateCouponCommand struct {
	Code     string
	UserID   string
	Subtotal int64
	Shipping int64
}

type ApplyCouponCommand struct {
	Code     string
	UserID   string
	Subtotal int64
	Shipping int64
}

type SubmitCheckoutCommand struct {
	UserID            string
	SuccessURL        string
	CancelURL         string
	PSP               string
	Locale            string
	Contact           OrderContact
	ShippingAddressID string
	BillingAddressID  string
	IdempotencyKey    string
	Metadata          map[string]string
}

// CheckoutResult pairs the created order with the PSP session handed to the client.
type CheckoutResult struct {
	Order        Order
	SessionID    string
	RedirectURL  string
	ClientSecret string
	ExpiresAt    time.Time
}

type CreateOrderFromCartCommand struct {
	Cart    Cart
	Pricing CartPricing
	Contact OrderContact
	ActorID string
}

type OrderStatusTransitionCommand struct {
	OrderID        string
	TargetStatus   OrderStatus
	ActorID        string
	Reason         string
	ExpectedStatus *OrderStatus
}

type PaymentStatusCommand struct {
	OrderID      string
	TargetStatus PaymentStatus
	IntentID     string
	Provider     string
	ActorID      string
}

type CancelOrderCommand struct {
	OrderID string
	ActorID string
	Reason  string
}

type PaymentWebhookCommand struct {
	Provider  string
	Payload   []byte
	Signature string
}

// WebhookResult reports how a webhook delivery was handled.
type WebhookResult struct {
	EventID   string
	Duplicate bool
	Ignored   bool
	OrderID   string
}

type UpsertCouponCommand struct {
	Coupon  Coupon
	ActorID string
}

type CreateReviewCommand struct {
	ProductID string
	UserID    string
	Rating    int
	Title     string
	Comment   string
}

type ListProductReviewsCommand struct {
	ProductID  string
	Pagination Pagination
}

type DeleteReviewCommand struct {
	ReviewID string
	ActorID  string
}

type CounterCommand struct {
	CounterID string
	Step      int64
}
