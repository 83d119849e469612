package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/caravela/api/internal/domain"
	pfirestore "github.com/caravela/api/internal/platform/firestore"
	"github.com/caravela/api/internal/repositories"
)

const (
	cartCollection = "carts"
)

// CartRepository persists carts within Firestore. The user ID doubles as the
// document identifier so each user owns at most one open cart.
type CartRepository struct {
	base     *pfirestore.BaseRepository[cartDocument]
	provider *pfirestore.Provider
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[cartDocument](provider, cartCollection, nil, nil)
	return &CartRepository{
		base:     base,
		provider: provider,
	}, nil
}

// UpsertCart persists the full cart document keyed by user ID.
func (r *CartRepository) UpsertCart(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}

	cartID := firstCartID(cart)
	if cartID == "" {
		return domain.Cart{}, errors.New("cart repository: cart id is required")
	}

	now := time.Now().UTC()
	if !cart.UpdatedAt.IsZero() {
		now = cart.UpdatedAt.UTC()
	}
	createdAt := cart.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = now
	}

	doc := encodeCart(cart, createdAt, now)

	result, err := r.base.Set(ctx, cartID, doc)
	if err != nil {
		return domain.Cart{}, err
	}

	saved := cloneCart(cart)
	saved.ID = cartID
	saved.UserID = cartID
	saved.Currency = doc.Currency
	saved.CreatedAt = createdAt
	saved.UpdatedAt = result.UpdateTime
	return saved, nil
}

// GetCart loads the cart for the given user ID.
func (r *CartRepository) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	doc, err := r.base.Get(ctx, uid)
	if err != nil {
		return domain.Cart{}, err
	}

	return decodeCart(doc), nil
}

// ReplaceItems swaps the item set on an existing cart, stamping updatedAt.
func (r *CartRepository) ReplaceItems(ctx context.Context, userID string, items []domain.CartItem) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}

	cart, err := r.GetCart(ctx, userID)
	if err != nil {
		return domain.Cart{}, err
	}

	cart.Items = make([]domain.CartItem, len(items))
	copy(cart.Items, items)
	cart.UpdatedAt = time.Now().UTC()

	return r.UpsertCart(ctx, cart)
}

func firstCartID(cart domain.Cart) string {
	if id := strings.TrimSpace(cart.ID); id != "" {
		return id
	}
	return strings.TrimSpace(cart.UserID)
}

func cloneCart(cart domain.Cart) domain.Cart {
	dup := cart
	if cart.Items != nil {
		dup.Items = make([]domain.CartItem, len(cart.Items))
		copy(dup.Items, cart.Items)
	}
	return dup
}

func encodeCart(cart domain.Cart, createdAt, updatedAt time.Time) cartDocument {
	doc := cartDocument{
		Currency:   strings.ToUpper(strings.TrimSpace(cart.Currency)),
		ItemsCount: len(cart.Items),
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
	}

	if cart.CheckedOutAt != nil {
		t := cart.CheckedOutAt.UTC()
		doc.CheckedOutAt = &t
	}
	if cart.Coupon != nil {
		doc.Coupon = &cartCouponDocument{
			Code:           strings.TrimSpace(cart.Coupon.Code),
			Type:           string(cart.Coupon.Type),
			Value:          cart.Coupon.Value,
			DiscountAmount: cart.Coupon.DiscountAmount,
			Applied:        cart.Coupon.Applied,
		}
	}
	if cart.Estimate != nil {
		doc.Estimate = &cartEstimateDocument{
			Subtotal:  cart.Estimate.Subtotal,
			Shipping:  cart.Estimate.Shipping,
			Discount:  cart.Estimate.Discount,
			Total:     cart.Estimate.Total,
			ItemCount: cart.Estimate.ItemCount,
		}
	}
	if cart.ShippingAddress != nil {
		doc.ShippingAddress = addressToDocument(*cart.ShippingAddress)
	}
	if cart.BillingAddress != nil {
		doc.BillingAddress = addressToDocument(*cart.BillingAddress)
	}

	for _, item := range cart.Items {
		doc.Items = append(doc.Items, encodeCartItem(item))
	}
	return doc
}

func decodeCart(doc pfirestore.Document[cartDocument]) domain.Cart {
	cart := domain.Cart{
		ID:       doc.ID,
		UserID:   doc.ID,
		Currency: strings.ToUpper(strings.TrimSpace(doc.Data.Currency)),
		Items:    make([]domain.CartItem, 0, len(doc.Data.Items)),
		UpdatedAt: func() time.Time {
			if !doc.UpdateTime.IsZero() {
				return doc.UpdateTime
			}
			return doc.Data.UpdatedAt
		}(),
		CreatedAt: func() time.Time {
			if !doc.Data.CreatedAt.IsZero() {
				return doc.Data.CreatedAt
			}
			return doc.UpdateTime
		}(),
	}

	if doc.Data.CheckedOutAt != nil {
		t := doc.Data.CheckedOutAt.UTC()
		cart.CheckedOutAt = &t
	}
	if doc.Data.Coupon != nil {
		cart.Coupon = &domain.CartCoupon{
			Code:           doc.Data.Coupon.Code,
			Type:           domain.CouponType(doc.Data.Coupon.Type),
			Value:          doc.Data.Coupon.Value,
			DiscountAmount: doc.Data.Coupon.DiscountAmount,
			Applied:        doc.Data.Coupon.Applied,
		}
	}
	if doc.Data.Estimate != nil {
		cart.Estimate = &domain.CartEstimate{
			Subtotal:  doc.Data.Estimate.Subtotal,
			Shipping:  doc.Data.Estimate.Shipping,
			Discount:  doc.Data.Estimate.Discount,
			Total:     doc.Data.Estimate.Total,
			ItemCount: doc.Data.Estimate.ItemCount,
		}
	}
	if doc.Data.ShippingAddress != nil {
		addr := addressFromDocument(*doc.Data.ShippingAddress)
		cart.ShippingAddress = &addr
	}
	if doc.Data.BillingAddress != nil {
		addr := addressFromDocument(*doc.Data.BillingAddress)
		cart.BillingAddress = &addr
	}

	for _, item := range doc.Data.Items {
		cart.Items = append(cart.Items, decodeCartItem(item))
	}
	return cart
}

func encodeCartItem(item domain.CartItem) cartItemDocument {
	doc := cartItemDocument{
		ID:        strings.TrimSpace(item.ID),
		ProductID: strings.TrimSpace(item.ProductID),
		FlavorID:  strings.TrimSpace(item.FlavorID),
		Quantity:  item.Quantity,
		Notes:     strings.TrimSpace(item.Notes),
		AddedAt:   item.AddedAt.UTC(),
	}
	if item.UpdatedAt != nil {
		t := item.UpdatedAt.UTC()
		doc.UpdatedAt = &t
	}
	for _, sel := range item.Customizations {
		doc.Customizations = append(doc.Customizations, customizationDocument{
			OptionID: strings.TrimSpace(sel.OptionID),
			Quantity: sel.Quantity,
		})
	}
	return doc
}

func decodeCartItem(doc cartItemDocument) domain.CartItem {
	item := domain.CartItem{
		ID:        doc.ID,
		ProductID: doc.ProductID,
		FlavorID:  doc.FlavorID,
		Quantity:  doc.Quantity,
		Notes:     doc.Notes,
		AddedAt:   doc.AddedAt,
		UpdatedAt: doc.UpdatedAt,
	}
	for _, sel := range doc.Customizations {
		item.Customizations = append(item.Customizations, domain.CustomizationSelection{
			OptionID: sel.OptionID,
			Quantity: sel.Quantity,
		})
	}
	return item
}

type cartDocument struct {
	Currency        string                `firestore:"currency"`
	Items           []cartItemDocument    `firestore:"items,omitempty"`
	Coupon          *cartCouponDocument   `firestore:"coupon,omitempty"`
	Estimate        *cartEstimateDocument `firestore:"estimate,omitempty"`
	ShippingAddress *addressDocument      `firestore:"shippingAddress,omitempty"`
	BillingAddress  *addressDocument      `firestore:"billingAddress,omitempty"`
	ItemsCount      int                   `firestore:"itemsCount"`
	CheckedOutAt    *time.Time            `firestore:"checkedOutAt,omitempty"`
	CreatedAt       time.Time             `firestore:"createdAt"`
	UpdatedAt       time.Time             `firestore:"updatedAt"`
}

type cartItemDocument struct {
	ID             string                  `firestore:"id"`
	ProductID      string                  `firestore:"productId"`
	FlavorID       string                  `firestore:"flavorId,omitempty"`
	Quantity       int                     `firestore:"quantity"`
	Customizations []customizationDocument `firestore:"customizations,omitempty"`
	Notes          string                  `firestore:"notes,omitempty"`
	AddedAt        time.Time               `firestore:"addedAt"`
	UpdatedAt      *time.Time              `firestore:"updatedAt,omitempty"`
}

type customizationDocument struct {
	OptionID string `firestore:"optionId"`
	Quantity int    `firestore:"quantity"`
}

type cartCouponDocument struct {
	Code           string `firestore:"code"`
	Type           string `firestore:"type"`
	Value          int64  `firestore:"value"`
	DiscountAmount int64  `firestore:"discountAmount"`
	Applied        bool   `firestore:"applied"`
}

type cartEstimateDocument struct {
	Subtotal  int64 `firestore:"subtotal"`
	Shipping  int64 `firestore:"shipping"`
	Discount  int64 `firestore:"discount"`
	Total     int64 `firestore:"total"`
	ItemCount int   `firestore:"itemCount"`
}

var _ repositories.CartRepository = (*CartRepository)(nil)
