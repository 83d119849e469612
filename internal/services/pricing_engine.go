package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/caravela/api/internal/domain"
)

var (
	// ErrCartPricingInvalidInput signals bad request data such as missing cart items or negative quantities.
	ErrCartPricingInvalidInput = errors.New("cart pricing: invalid input")
)

// CartPricingEngine prices cart lines against a catalog snapshot and
// aggregates them into cart totals. Stale catalog references price at zero
// rather than failing the computation; every fallback is reported on the line
// and logged.
type CartPricingEngine struct {
	shipping ShippingPolicy
	currency string
	now      func() time.Time
	logger   func(context.Context, string, map[string]any)
}

type CartPricingEngineDeps struct {
	Shipping ShippingPolicy
	Currency string
	Now      func() time.Time
	Logger   func(context.Context, string, map[string]any)
}

func NewCartPricingEngine(deps CartPricingEngineDeps) (*CartPricingEngine, error) {
	if deps.Shipping.FlatRate < 0 || deps.Shipping.FreeThreshold < 0 {
		return nil, errors.New("cart pricing engine: shipping policy amounts must be non-negative")
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		return nil, errors.New("cart pricing engine: currency is required")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &CartPricingEngine{
		shipping: deps.Shipping,
		currency: currency,
		now: func() time.Time {
			return now().UTC()
		},
		logger: logger,
	}, nil
}

// Policy exposes the configured shipping step function.
func (e *CartPricingEngine) Policy() ShippingPolicy {
	return e.shipping
}

// Currency reports the minor-unit currency the engine prices in.
func (e *CartPricingEngine) Currency() string {
	return e.currency
}

// PriceLine computes the unit price and total for a single cart line.
//
// Unit price is the product's effective price plus the flavor modifier plus
// the sum of customization prices weighted by their selection quantities.
// References the snapshot cannot resolve contribute zero and are recorded in
// MissingRefs.
func (e *CartPricingEngine) PriceLine(ctx context.Context, item CartItem, snapshot CatalogSnapshot) (LinePricing, error) {
	if item.Quantity <= 0 {
		return LinePricing{}, fmt.Errorf("%w: item %s quantity must be positive", ErrCartPricingInvalidInput, item.ID)
	}
	if strings.TrimSpace(item.ProductID) == "" {
		return LinePricing{}, fmt.Errorf("%w: item %s product reference missing", ErrCartPricingInvalidInput, item.ID)
	}

	line := LinePricing{
		ItemID:     item.ID,
		ProductRef: item.ProductID,
		FlavorRef:  item.FlavorID,
		Quantity:   item.Quantity,
	}

	var unit int64
	if product, ok := snapshot.Product(item.ProductID); ok {
		unit = product.CurrentPrice()
	} else {
		line.MissingRefs = append(line.MissingRefs, MissingReference{
			Kind: domain.MissingReferenceProduct,
			Ref:  item.ProductID,
		})
	}

	if flavorID := strings.TrimSpace(item.FlavorID); flavorID != "" {
		if modifier, ok := snapshot.FlavorModifier(item.ProductID, flavorID); ok {
			unit = domain.AddMoney(unit, modifier)
		} else {
			line.MissingRefs = append(line.MissingRefs, MissingReference{
				Kind: domain.MissingReferenceFlavor,
				Ref:  flavorID,
			})
		}
	}

	for _, sel := range item.Customizations {
		if sel.Quantity <= 0 {
			return LinePricing{}, fmt.Errorf("%w: item %s customization %s quantity must be positive", ErrCartPricingInvalidInput, item.ID, sel.OptionID)
		}
		option, ok := snapshot.Customization(sel.OptionID)
		if !ok {
			line.MissingRefs = append(line.MissingRefs, MissingReference{
				Kind: domain.MissingReferenceCustomization,
				Ref:  sel.OptionID,
			})
			continue
		}
		unit = domain.AddMoney(unit, domain.MulMoney(option.Price, sel.Quantity))
	}

	if unit < 0 {
		unit = 0
	}

	line.UnitPrice = unit
	line.Total = domain.MulMoney(unit, item.Quantity)

	for _, missing := range line.MissingRefs {
		e.logger(ctx, "pricing_reference_missing", map[string]any{
			"itemId": item.ID,
			"kind":   string(missing.Kind),
			"ref":    missing.Ref,
		})
	}

	return line, nil
}

// PriceCart prices every line and aggregates the cart totals. An attached
// coupon's discount is recomputed from its rule against the fresh subtotal
// and shipping, then clamped so the total never goes negative.
func (e *CartPricingEngine) PriceCart(ctx context.Context, cart Cart, snapshot CatalogSnapshot) (CartPricing, error) {
	pricing := CartPricing{
		Currency: e.currency,
		Lines:    make([]LinePricing, 0, len(cart.Items)),
	}

	for _, item := range cart.Items {
		line, err := e.PriceLine(ctx, item, snapshot)
		if err != nil {
			return CartPricing{}, err
		}
		pricing.Subtotal = domain.AddMoney(pricing.Subtotal, line.Total)
		pricing.ItemCount += line.Quantity
		pricing.Lines = append(pricing.Lines, line)
	}

	pricing.Shipping = e.shipping.Cost(pricing.Subtotal)
	var discount int64
	if cart.Coupon != nil && cart.Coupon.Applied {
		discount = domain.CouponDiscount(cart.Coupon.Type, cart.Coupon.Value, pricing.Subtotal, pricing.Shipping)
	}
	pricing.Discount = domain.ClampMoney(discount, 0, domain.AddMoney(pricing.Subtotal, pricing.Shipping))
	pricing.Total = domain.AddMoney(pricing.Subtotal, pricing.Shipping) - pricing.Discount

	return pricing, nil
}

// Estimate converts a cart pricing result into the estimate stored on the cart.
func (e *CartPricingEngine) Estimate(pricing CartPricing) CartEstimate {
	return CartEstimate{
		Subtotal:  pricing.Subtotal,
		Shipping:  pricing.Shipping,
		Discount:  pricing.Discount,
		Total:     pricing.Total,
		ItemCount: pricing.ItemCount,
	}
}
