package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// CustomizationType enumerates the kinds of add-ons a product supports.
type CustomizationType string

const (
	// CustomizationTypeTopping covers sprinkles, nuts, fruit and similar extras.
	CustomizationTypeTopping CustomizationType = "topping"
	// CustomizationTypeSauce covers syrups and sauces added to a serving.
	CustomizationTypeSauce CustomizationType = "sauce"
	// CustomizationTypeSize covers serving-size upgrades.
	CustomizationTypeSize CustomizationType = "size"
	// CustomizationTypeContainer covers cones, cups and take-home tubs.
	CustomizationTypeContainer CustomizationType = "container"
)

// Product describes a sellable catalog entry. Prices are minor units.
type Product struct {
	ID               string
	Slug             string
	Name             string
	Description      string
	CategoryID       string
	BasePrice        int64
	SalePrice        *int64
	Currency         string
	IsActive         bool
	IsFeatured       bool
	MinOrderQuantity int
	MaxOrderQuantity int
	StockQuantity    int
	ImagePath        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// CurrentPrice returns the effective unit price, honouring an active sale price.
func (p Product) CurrentPrice() int64 {
	if p.SalePrice != nil && *p.SalePrice > 0 {
		return *p.SalePrice
	}
	return p.BasePrice
}

// Flavor is a named flavor that products can be offered in.
type Flavor struct {
	ID          string
	Name        string
	Description string
	IsActive    bool
	IsSeasonal  bool
}

// ProductFlavor links a flavor to a product with a price modifier in minor units.
type ProductFlavor struct {
	ProductID     string
	FlavorID      string
	PriceModifier int64
	IsAvailable   bool
}

// CustomizationOption is a priced add-on selectable on a cart line.
type CustomizationOption struct {
	ID            string
	Name          string
	Type          CustomizationType
	Price         int64
	MaxSelections int
	IsAvailable   bool
}

// Category groups products for the public catalog listing.
type Category struct {
	ID          string
	Slug        string
	Name        string
	Description string
	IsActive    bool
	SortOrder   int
}

// CatalogSnapshot is a read-only view of price data captured at the moment a
// cart is priced. Lookups on a snapshot never touch storage.
type CatalogSnapshot struct {
	Products       map[string]Product
	FlavorPricing  map[string]map[string]ProductFlavor
	Customizations map[string]CustomizationOption
	TakenAt        time.Time
}

// Product returns the product for the given ID, if present and active.
func (s CatalogSnapshot) Product(id string) (Product, bool) {
	p, ok := s.Products[id]
	if !ok || !p.IsActive {
		return Product{}, false
	}
	return p, true
}

// FlavorModifier returns the price modifier for a (product, flavor) pair.
// A flavor outside the product's enabled set reports ok=false.
func (s CatalogSnapshot) FlavorModifier(productID, flavorID string) (int64, bool) {
	byFlavor, ok := s.FlavorPricing[productID]
	if !ok {
		return 0, false
	}
	pf, ok := byFlavor[flavorID]
	if !ok || !pf.IsAvailable {
		return 0, false
	}
	return pf.PriceModifier, true
}

// Customization returns the customization option for the given ID.
func (s CatalogSnapshot) Customization(id string) (CustomizationOption, bool) {
	opt, ok := s.Customizations[id]
	if !ok || !opt.IsAvailable {
		return CustomizationOption{}, false
	}
	return opt, true
}

// CustomizationSelection records one add-on choice on a cart line.
type CustomizationSelection struct {
	OptionID string
	Quantity int
}

// CartItem stores a single product/flavor line within a cart. Lines are
// unique per (product, flavor) pair; repeated adds merge quantities.
type CartItem struct {
	ID             string
	ProductID      string
	FlavorID       string
	Quantity       int
	Customizations []CustomizationSelection
	Notes          string
	AddedAt        time.Time
	UpdatedAt      *time.Time
}

// Cart aggregates the mutable shopping cart state for a user.
type Cart struct {
	ID              string
	UserID          string
	Currency        string
	Items           []CartItem
	Coupon          *CartCoupon
	ShippingAddress *Address
	BillingAddress  *Address
	Estimate        *CartEstimate
	CheckedOutAt    *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CartCoupon captures the coupon attached to a cart. Type and Value carry the
// discount rule so the granted amount can be recomputed whenever the cart
// changes; DiscountAmount is the amount granted at the last pricing pass.
type CartCoupon struct {
	Code           string
	Type           CouponType
	Value          int64
	DiscountAmount int64
	Applied        bool
}

// CartEstimate summarizes totals calculated for the cart in minor units.
type CartEstimate struct {
	Subtotal  int64
	Shipping  int64
	Discount  int64
	Total     int64
	ItemCount int
}

// CouponType enumerates the supported discount rules.
type CouponType string

const (
	// CouponTypePercentage discounts a percentage of the cart subtotal.
	CouponTypePercentage CouponType = "percentage"
	// CouponTypeFixed discounts a fixed amount, capped at subtotal plus shipping.
	CouponTypeFixed CouponType = "fixed"
	// CouponTypeFreeShipping zeroes the shipping cost exactly.
	CouponTypeFreeShipping CouponType = "free_shipping"
)

// Coupon describes a discount code. UsedCount only increases, and only
// through a successful redemption.
type Coupon struct {
	ID             string
	Code           string
	Type           CouponType
	Value          int64
	MinOrderAmount int64
	ValidFrom      time.Time
	ValidUntil     time.Time
	MaxUses        *int64
	UsedCount      int64
	IsActive       bool
	Description    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CouponReason identifies why a coupon was not applied.
type CouponReason string

const (
	// CouponReasonNotFound indicates no coupon exists for the code.
	CouponReasonNotFound CouponReason = "not_found"
	// CouponReasonInactive indicates the coupon has been deactivated.
	CouponReasonInactive CouponReason = "inactive"
	// CouponReasonNotStarted indicates the validity window has not opened.
	CouponReasonNotStarted CouponReason = "not_started"
	// CouponReasonExpired indicates the validity window has closed.
	CouponReasonExpired CouponReason = "expired"
	// CouponReasonExhausted indicates the usage cap has been reached.
	CouponReasonExhausted CouponReason = "exhausted"
	// CouponReasonMinOrderNotMet indicates the cart subtotal is below the minimum.
	CouponReasonMinOrderNotMet CouponReason = "min_order_not_met"
	// CouponReasonUnknownType indicates the coupon carries an unsupported type.
	CouponReasonUnknownType CouponReason = "unknown_type"
	// CouponReasonAlreadyApplied indicates the same code is already on the order.
	CouponReasonAlreadyApplied CouponReason = "already_applied"
)

// CouponOutcome is the structured result of a coupon validation or application.
// Failures stay inside this shape; they never propagate as errors past the
// pricing boundary.
type CouponOutcome struct {
	Code           string
	Applied        bool
	Reason         CouponReason
	Type           CouponType
	Value          int64
	DiscountAmount int64
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order awaits payment confirmation.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed indicates payment succeeded and the order is accepted.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing indicates the order is being prepared.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order has left the shop.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the order reached the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled before fulfilment.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded indicates the order was refunded after payment.
	OrderStatusRefunded OrderStatus = "refunded"
)

// PaymentStatus enumerates the parallel payment lifecycle for orders.
type PaymentStatus string

const (
	// PaymentStatusPending indicates no payment result has been recorded.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusPaid indicates the payment provider confirmed the charge.
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusFailed indicates the charge failed.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusRefunded indicates the charge was refunded.
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// Order is an immutable-after-creation snapshot of a priced cart. Only status
// transitions mutate it; orders are never deleted.
type Order struct {
	ID              string
	OrderNumber     string
	UserID          string
	CartRef         *string
	Status          OrderStatus
	PaymentStatus   PaymentStatus
	Currency        string
	Totals          OrderTotals
	Coupon          *CartCoupon
	Items           []OrderLineItem
	ShippingAddress *Address
	BillingAddress  *Address
	Contact         *OrderContact
	Notes           string
	PaymentIntentID string
	PaymentProvider string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ConfirmedAt     *time.Time
	ProcessingAt    *time.Time
	ShippedAt       *time.Time
	DeliveredAt     *time.Time
	CancelledAt     *time.Time
	RefundedAt      *time.Time
	CancelReason    *string
}

// OrderTotals holds rolled-up monetary fields in the smallest currency unit.
type OrderTotals struct {
	Subtotal int64
	Shipping int64
	Discount int64
	Total    int64
}

// OrderLineItem mirrors cart items at the time of checkout.
type OrderLineItem struct {
	ProductRef     string
	ProductName    string
	FlavorRef      string
	FlavorName     string
	Quantity       int
	UnitPrice      int64
	Total          int64
	Customizations []CustomizationSelection
}

// OrderContact stores the customer contact snapshot for notifications.
type OrderContact struct {
	Email string
	Phone string
}

// PaymentEventType normalizes provider webhook event kinds.
type PaymentEventType string

const (
	// PaymentEventSucceeded maps provider "payment succeeded" notifications.
	PaymentEventSucceeded PaymentEventType = "succeeded"
	// PaymentEventFailed maps provider "payment failed" notifications.
	PaymentEventFailed PaymentEventType = "failed"
	// PaymentEventRefunded maps provider refund notifications.
	PaymentEventRefunded PaymentEventType = "refunded"
)

// PaymentEvent records one webhook delivery from a payment provider. The
// external event ID is the deduplication key for replayed deliveries.
type PaymentEvent struct {
	ID          string
	Provider    string
	ExternalID  string
	Type        PaymentEventType
	OrderNumber string
	IntentID    string
	ReceivedAt  time.Time
}

// LoyaltyTier classifies customers by accumulated points.
type LoyaltyTier string

const (
	// LoyaltyTierBronze is the entry tier.
	LoyaltyTierBronze LoyaltyTier = "bronze"
	// LoyaltyTierSilver starts at 200 points.
	LoyaltyTierSilver LoyaltyTier = "silver"
	// LoyaltyTierGold starts at 500 points.
	LoyaltyTierGold LoyaltyTier = "gold"
	// LoyaltyTierPlatinum starts at 1000 points.
	LoyaltyTierPlatinum LoyaltyTier = "platinum"
)

// LoyaltyProfile tracks a customer's accumulated points and derived tier.
type LoyaltyProfile struct {
	UserID    string
	Points    int64
	Tier      LoyaltyTier
	UpdatedAt time.Time
}

// TierForPoints derives the loyalty tier from a points balance.
func TierForPoints(points int64) LoyaltyTier {
	switch {
	case points >= 1000:
		return LoyaltyTierPlatinum
	case points >= 500:
		return LoyaltyTierGold
	case points >= 200:
		return LoyaltyTierSilver
	default:
		return LoyaltyTierBronze
	}
}

// TierDiscountPercent returns the percentage discount granted to a tier.
func TierDiscountPercent(tier LoyaltyTier) int64 {
	switch tier {
	case LoyaltyTierPlatinum:
		return 15
	case LoyaltyTierGold:
		return 10
	case LoyaltyTierSilver:
		return 5
	default:
		return 0
	}
}

// Review captures customer feedback for a product.
type Review struct {
	ID               string
	ProductID        string
	UserID           string
	Rating           int
	Title            string
	Comment          string
	VerifiedPurchase bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Address represents postal address structures shared by cart and order
// layers. Default flags are exclusive per user and per kind; the exclusivity
// is enforced as an explicit repository step, never as a hidden save hook.
type Address struct {
	ID              string
	Label           string
	Recipient       string
	Company         string
	Line1           string
	Line2           *string
	City            string
	State           *string
	PostalCode      string
	Country         string
	Phone           *string
	DefaultShipping bool
	DefaultBilling  bool
	NormalizedHash  string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
