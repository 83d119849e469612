package domain

import "math"

// MissingReferenceKind identifies which catalog lookup fell back to zero.
type MissingReferenceKind string

const (
	// MissingReferenceProduct indicates the product is absent or inactive.
	MissingReferenceProduct MissingReferenceKind = "product"
	// MissingReferenceFlavor indicates the flavor is outside the product's enabled set.
	MissingReferenceFlavor MissingReferenceKind = "flavor"
	// MissingReferenceCustomization indicates a customization option no longer exists.
	MissingReferenceCustomization MissingReferenceKind = "customization"
)

// MissingReference records a catalog reference that resolved to a zero price
// during line pricing. Stale references never block checkout; they surface
// here instead of failing the computation.
type MissingReference struct {
	Kind MissingReferenceKind
	Ref  string
}

// LinePricing captures the priced result for a single cart line.
type LinePricing struct {
	ItemID      string
	ProductRef  string
	FlavorRef   string
	Quantity    int
	UnitPrice   int64
	Total       int64
	MissingRefs []MissingReference
}

// CartPricing captures the aggregated monetary results of pricing a cart.
// Total always equals Subtotal + Shipping - Discount.
type CartPricing struct {
	Currency  string
	Subtotal  int64
	Shipping  int64
	Discount  int64
	Total     int64
	ItemCount int
	Lines     []LinePricing
}

// ShippingPolicy is the configured step function for shipping cost: free at or
// above the threshold, flat rate below it. Values are minor units.
type ShippingPolicy struct {
	FreeThreshold int64
	FlatRate      int64
}

// Cost returns the shipping cost for the given subtotal. The threshold
// boundary is inclusive: a subtotal exactly at the threshold ships free.
func (p ShippingPolicy) Cost(subtotal int64) int64 {
	if subtotal >= p.FreeThreshold {
		return 0
	}
	return p.FlatRate
}

// CouponDiscount computes the discount a coupon rule grants against the given
// subtotal and shipping in minor units. The result tracks the cart as it
// changes: percentage follows the subtotal, fixed stays capped at subtotal
// plus shipping, free_shipping always matches the shipping cost exactly.
func CouponDiscount(couponType CouponType, value, subtotal, shipping int64) int64 {
	switch couponType {
	case CouponTypePercentage:
		return PercentageOf(subtotal, value)
	case CouponTypeFixed:
		return ClampMoney(value, 0, AddMoney(subtotal, shipping))
	case CouponTypeFreeShipping:
		return shipping
	}
	return 0
}

// PercentageOf computes amount*percent/100 in minor units with floor division.
func PercentageOf(amount, percent int64) int64 {
	if amount <= 0 || percent <= 0 {
		return 0
	}
	return amount * percent / 100
}

// AddMoney adds two minor-unit amounts, saturating instead of overflowing.
func AddMoney(a, b int64) int64 {
	if a > 0 && b > math.MaxInt64-a {
		return math.MaxInt64
	}
	if a < 0 && b < math.MinInt64-a {
		return math.MinInt64
	}
	return a + b
}

// MulMoney multiplies a minor-unit amount by a quantity, saturating on overflow.
func MulMoney(amount int64, qty int) int64 {
	if qty <= 0 || amount == 0 {
		return 0
	}
	q := int64(qty)
	if amount > math.MaxInt64/q {
		return math.MaxInt64
	}
	return amount * q
}

// ClampMoney bounds the value to the inclusive [min, max] range.
func ClampMoney(value, min, max int64) int64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
