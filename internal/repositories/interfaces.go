package repositories

import (
	"context"
	"time"

	domain "github.com/caravela/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Catalog() CatalogRepository
	Carts() CartRepository
	Coupons() CouponRepository
	Orders() OrderRepository
	PaymentEvents() PaymentEventRepository
	Loyalty() LoyaltyRepository
	Reviews() ReviewRepository
	Addresses() AddressRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CatalogRepository provides read access to products, flavors, and
// customization options, plus the snapshot loads used by pricing.
type CatalogRepository interface {
	ListProducts(ctx context.Context, filter ProductFilter) (domain.CursorPage[domain.Product], error)
	GetProduct(ctx context.Context, productID string) (domain.Product, error)
	GetProducts(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	ListCategories(ctx context.Context) ([]domain.Category, error)
	GetProductFlavors(ctx context.Context, productIDs []string) (map[string]map[string]domain.ProductFlavor, error)
	GetCustomizations(ctx context.Context, optionIDs []string) (map[string]domain.CustomizationOption, error)
}

// CartRepository owns cart header + items persistence with optimistic locking guarantees.
type CartRepository interface {
	UpsertCart(ctx context.Context, cart domain.Cart) (domain.Cart, error)
	GetCart(ctx context.Context, userID string) (domain.Cart, error)
	ReplaceItems(ctx context.Context, userID string, items []domain.CartItem) (domain.Cart, error)
}

// CouponRepository maintains coupon definitions and the serialized usage
// counter. Redeem performs the check-and-increment atomically: validation and
// mutation are never separated by a window another request can exploit.
type CouponRepository interface {
	Insert(ctx context.Context, coupon domain.Coupon) error
	Update(ctx context.Context, coupon domain.Coupon) error
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
	List(ctx context.Context, filter CouponListFilter) (domain.CursorPage[domain.Coupon], error)
	// Redeem increments usedCount by one iff maxUses is unset or
	// usedCount < maxUses, returning the updated coupon. A cap violation
	// yields a CouponRedemptionError with code CouponErrorExhausted.
	Redeem(ctx context.Context, code string, now time.Time) (domain.Coupon, error)
}

// OrderRepository persists order headers and provides query helpers.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// PaymentEventRepository deduplicates provider webhook deliveries. Record is
// first-writer-wins keyed on the external event ID.
type PaymentEventRepository interface {
	// Record persists the event if its external ID has not been seen.
	// Returns false when the event was already recorded.
	Record(ctx context.Context, event domain.PaymentEvent) (bool, error)
	Find(ctx context.Context, provider string, externalID string) (domain.PaymentEvent, error)
}

// LoyaltyRepository tracks per-user loyalty point balances.
type LoyaltyRepository interface {
	Get(ctx context.Context, userID string) (domain.LoyaltyProfile, error)
	// AddPoints atomically increments the balance and recomputes the tier.
	AddPoints(ctx context.Context, userID string, points int64, now time.Time) (domain.LoyaltyProfile, error)
}

// ReviewRepository stores product reviews, one per (user, product).
type ReviewRepository interface {
	Insert(ctx context.Context, review domain.Review) (domain.Review, error)
	FindByID(ctx context.Context, reviewID string) (domain.Review, error)
	FindByUserAndProduct(ctx context.Context, userID string, productID string) (domain.Review, error)
	ListByProduct(ctx context.Context, productID string, pager domain.Pagination) (domain.CursorPage[domain.Review], error)
	Delete(ctx context.Context, reviewID string) error
}

// AddressRepository stores shipping addresses per user.
type AddressRepository interface {
	List(ctx context.Context, userID string) ([]domain.Address, error)
	Upsert(ctx context.Context, userID string, addressID *string, addr domain.Address) (domain.Address, error)
	Delete(ctx context.Context, userID string, addressID string) error
	Get(ctx context.Context, userID string, addressID string) (domain.Address, error)
	FindByHash(ctx context.Context, userID string, hash string) (domain.Address, bool, error)
	HasAny(ctx context.Context, userID string) (bool, error)
	SetDefaultFlags(ctx context.Context, userID string, addressID string, shipping, billing *bool) (domain.Address, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type ProductFilter struct {
	CategoryID *string
	Featured   *bool
	ActiveOnly bool
	Pagination domain.Pagination
}

type CouponListFilter struct {
	ActiveOnly bool
	Pagination domain.Pagination
}

type OrderListFilter struct {
	UserID     string
	Status     []string
	DateRange  RangeQuery[time.Time]
	Pagination domain.Pagination
}

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
