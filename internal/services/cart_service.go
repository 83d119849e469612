package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/caravela/api/internal/domain"
	"github.com/caravela/api/internal/repositories"
)

var (
	errCartRepositoryRequired = errors.New("cart service: repository is required")
	errCartCatalogRequired    = errors.New("cart service: catalog service is required")
	errCartPricerRequired     = errors.New("cart service: pricing engine is required")
)

const cartItemIDPrefix = "itm_"

// ErrCartInvalidInput indicates the caller supplied invalid input.
var ErrCartInvalidInput = errors.New("cart service: invalid input")

// ErrCartUnavailable indicates the cart service cannot fulfil the request due to missing dependencies or backend issues.
var ErrCartUnavailable = errors.New("cart service: unavailable")

// ErrCartNotFound indicates the requested cart or cart item does not exist.
var ErrCartNotFound = errors.New("cart service: not found")

// ErrCartConflict indicates the cart could not be updated due to concurrent modifications.
var ErrCartConflict = errors.New("cart service: conflict")

// CartServiceDeps wires the repository, catalog, pricing and coupon dependencies for cart operations.
type CartServiceDeps struct {
	Repository  repositories.CartRepository
	Catalog     CatalogService
	Pricer      *CartPricingEngine
	Coupons     CouponService
	Clock       func() time.Time
	Logger      func(context.Context, string, map[string]any)
	IDGenerator func() string
}

type cartService struct {
	repo    repositories.CartRepository
	catalog CatalogService
	pricer  *CartPricingEngine
	coupons CouponService
	newID   func() string
	now     func() time.Time
	logger  func(context.Context, string, map[string]any)
}

var _ CartService = (*cartService)(nil)

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Repository == nil {
		return nil, errCartRepositoryRequired
	}
	if deps.Catalog == nil {
		return nil, errCartCatalogRequired
	}
	if deps.Pricer == nil {
		return nil, errCartPricerRequired
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return cartItemIDPrefix + ulid.Make().String() }
	}

	return &cartService{
		repo:    deps.Repository,
		catalog: deps.Catalog,
		pricer:  deps.Pricer,
		coupons: deps.Coupons,
		newID:   idGen,
		now:     func() time.Time { return clock().UTC() },
		logger:  logger,
	}, nil
}

// GetOrCreateCart loads the active cart for the user, creating a new cart when
// absent. A cart that already went through checkout is retired and replaced.
func (s *cartService) GetOrCreateCart(ctx context.Context, userID string) (Cart, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return Cart{}, ErrCartInvalidInput
	}

	cart, err := s.repo.GetCart(ctx, uid)
	switch {
	case err == nil && cart.CheckedOutAt == nil:
	case err == nil || isRepoNotFound(err):
		fresh := s.newCart(uid)
		saved, err := s.repo.UpsertCart(ctx, fresh)
		if err != nil {
			return Cart{}, s.translateRepoError(err)
		}
		cart = saved
	default:
		return Cart{}, s.translateRepoError(err)
	}

	return s.repriceAndSave(ctx, s.normalizeCart(cart, uid), false)
}

func (s *cartService) AddOrUpdateItem(ctx context.Context, cmd UpsertCartItemCommand) (Cart, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Cart{}, ErrCartInvalidInput
	}
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return Cart{}, fmt.Errorf("%w: product_id is required", ErrCartInvalidInput)
	}
	if cmd.Quantity <= 0 {
		return Cart{}, fmt.Errorf("%w: quantity must be greater than zero", ErrCartInvalidInput)
	}
	for _, sel := range cmd.Customizations {
		if strings.TrimSpace(sel.OptionID) == "" || sel.Quantity <= 0 {
			return Cart{}, fmt.Errorf("%w: customization selections need an option and a positive quantity", ErrCartInvalidInput)
		}
	}

	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, ErrCatalogProductNotFound) {
			return Cart{}, fmt.Errorf("%w: product %s is not available", ErrCartInvalidInput, productID)
		}
		return Cart{}, ErrCartUnavailable
	}

	cart, err := s.loadOrNewCart(ctx, userID)
	if err != nil {
		return Cart{}, err
	}

	flavorID := strings.TrimSpace(cmd.FlavorID)
	notes := strings.TrimSpace(cmd.Notes)
	now := s.now()
	items := cloneCartItems(cart.Items)

	var target *domain.CartItem
	if cmd.ItemID != nil && strings.TrimSpace(*cmd.ItemID) != "" {
		idx := indexOfCartItem(items, *cmd.ItemID)
		if idx < 0 {
			return Cart{}, ErrCartNotFound
		}
		items[idx].Quantity = cmd.Quantity
		items[idx].Customizations = cloneSelections(cmd.Customizations)
		items[idx].Notes = notes
		ts := now
		items[idx].UpdatedAt = &ts
		target = &items[idx]
	} else if idx := indexOfCartLine(items, productID, flavorID); idx >= 0 {
		// Lines are unique per (product, flavor); repeated adds merge.
		items[idx].Quantity += cmd.Quantity
		items[idx].Customizations = cloneSelections(cmd.Customizations)
		if notes != "" {
			items[idx].Notes = notes
		}
		ts := now
		items[idx].UpdatedAt = &ts
		target = &items[idx]
	} else {
		items = append(items, domain.CartItem{
			ID:             s.newID(),
			ProductID:      productID,
			FlavorID:       flavorID,
			Quantity:       cmd.Quantity,
			Customizations: cloneSelections(cmd.Customizations),
			Notes:          notes,
			AddedAt:        now,
		})
		target = &items[len(items)-1]
	}

	if err := validateOrderQuantity(product, target.Quantity); err != nil {
		return Cart{}, err
	}

	saved, err := s.repo.ReplaceItems(ctx, userID, items)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}

	return s.repriceAndSave(ctx, s.normalizeCart(saved, userID), true)
}

func (s *cartService) RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error) {
	userID := strings.TrimSpace(cmd.UserID)
	itemID := strings.TrimSpace(cmd.ItemID)
	if userID == "" || itemID == "" {
		return Cart{}, ErrCartInvalidInput
	}

	cart, err := s.repo.GetCart(ctx, userID)
	if err != nil {
		if isRepoNotFound(err) {
			return Cart{}, ErrCartNotFound
		}
		return Cart{}, s.translateRepoError(err)
	}

	items := cloneCartItems(cart.Items)
	idx := indexOfCartItem(items, itemID)
	if idx < 0 {
		return Cart{}, ErrCartNotFound
	}
	items = append(items[:idx], items[idx+1:]...)

	saved, err := s.repo.ReplaceItems(ctx, userID, items)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}

	return s.repriceAndSave(ctx, s.normalizeCart(saved, userID), true)
}

// Estimate prices the current cart without persisting anything.
func (s *cartService) Estimate(ctx context.Context, userID string) (CartEstimate, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return CartEstimate{}, ErrCartInvalidInput
	}

	cart, err := s.repo.GetCart(ctx, uid)
	if err != nil {
		if isRepoNotFound(err) {
			return CartEstimate{}, ErrCartNotFound
		}
		return CartEstimate{}, s.translateRepoError(err)
	}

	pricing, err := s.price(ctx, s.normalizeCart(cart, uid))
	if err != nil {
		return CartEstimate{}, err
	}
	return s.pricer.Estimate(pricing), nil
}

// ApplyCoupon validates and redeems a code against the cart. Re-applying the
// code already on the cart is a no-op: the stored discount is reported back
// and no additional use is consumed.
func (s *cartService) ApplyCoupon(ctx context.Context, cmd CartCouponCommand) (Cart, CouponOutcome, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Cart{}, CouponOutcome{}, ErrCartInvalidInput
	}
	code := normalizeCouponCode(cmd.Code)
	if code == "" {
		return Cart{}, CouponOutcome{}, fmt.Errorf("%w: coupon code is required", ErrCartInvalidInput)
	}
	if s.coupons == nil {
		return Cart{}, CouponOutcome{}, ErrCartUnavailable
	}

	cart, err := s.repo.GetCart(ctx, userID)
	if err != nil {
		if isRepoNotFound(err) {
			return Cart{}, CouponOutcome{}, ErrCartNotFound
		}
		return Cart{}, CouponOutcome{}, s.translateRepoError(err)
	}
	cart = s.normalizeCart(cart, userID)

	if cart.Coupon != nil && cart.Coupon.Applied && cart.Coupon.Code == code {
		repriced, err := s.repriceAndSave(ctx, cart, false)
		if err != nil {
			return Cart{}, CouponOutcome{}, err
		}
		outcome := CouponOutcome{
			Code:    code,
			Applied: true,
			Reason:  domain.CouponReasonAlreadyApplied,
			Type:    cart.Coupon.Type,
			Value:   cart.Coupon.Value,
		}
		if repriced.Estimate != nil {
			outcome.DiscountAmount = repriced.Estimate.Discount
		}
		return repriced, outcome, nil
	}

	// Price without a discount first so the coupon engine sees the real
	// subtotal and shipping amounts.
	base := cart
	base.Coupon = nil
	pricing, err := s.price(ctx, base)
	if err != nil {
		return Cart{}, CouponOutcome{}, err
	}

	outcome, err := s.coupons.Apply(ctx, ApplyCouponCommand{
		Code:     code,
		UserID:   userID,
		Subtotal: pricing.Subtotal,
		Shipping: pricing.Shipping,
	})
	if err != nil {
		if errors.Is(err, ErrCouponInvalidCode) || errors.Is(err, ErrCouponInvalidInput) {
			return Cart{}, CouponOutcome{}, fmt.Errorf("%w: %v", ErrCartInvalidInput, err)
		}
		if errors.Is(err, ErrCouponStoreUnavailable) {
			return Cart{}, CouponOutcome{}, ErrCartUnavailable
		}
		return Cart{}, CouponOutcome{}, err
	}
	if !outcome.Applied {
		current, err := s.repriceAndSave(ctx, cart, false)
		if err != nil {
			return Cart{}, CouponOutcome{}, err
		}
		return current, outcome, nil
	}

	cart.Coupon = &domain.CartCoupon{
		Code:           outcome.Code,
		Type:           outcome.Type,
		Value:          outcome.Value,
		DiscountAmount: outcome.DiscountAmount,
		Applied:        true,
	}

	saved, err := s.repriceAndSave(ctx, cart, true)
	if err != nil {
		return Cart{}, CouponOutcome{}, err
	}
	return saved, outcome, nil
}

func (s *cartService) RemoveCoupon(ctx context.Context, userID string) (Cart, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return Cart{}, ErrCartInvalidInput
	}

	cart, err := s.repo.GetCart(ctx, uid)
	if err != nil {
		if isRepoNotFound(err) {
			return Cart{}, ErrCartNotFound
		}
		return Cart{}, s.translateRepoError(err)
	}
	cart = s.normalizeCart(cart, uid)
	cart.Coupon = nil

	return s.repriceAndSave(ctx, cart, true)
}

func (s *cartService) ClearCart(ctx context.Context, userID string) error {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return ErrCartInvalidInput
	}

	cart, err := s.repo.GetCart(ctx, uid)
	if err != nil {
		if isRepoNotFound(err) {
			return nil
		}
		return s.translateRepoError(err)
	}

	cart = s.normalizeCart(cart, uid)
	cart.Items = []domain.CartItem{}
	cart.Coupon = nil
	cart.Estimate = nil
	cart.UpdatedAt = s.now()

	if _, err := s.repo.UpsertCart(ctx, cart); err != nil {
		return s.translateRepoError(err)
	}
	return nil
}

func (s *cartService) loadOrNewCart(ctx context.Context, userID string) (Cart, error) {
	cart, err := s.repo.GetCart(ctx, userID)
	if err != nil {
		if isRepoNotFound(err) {
			return s.normalizeCart(s.newCart(userID), userID), nil
		}
		return Cart{}, s.translateRepoError(err)
	}
	if cart.CheckedOutAt != nil {
		return s.normalizeCart(s.newCart(userID), userID), nil
	}
	return s.normalizeCart(cart, userID), nil
}

// price loads a fresh catalog snapshot for the cart's references and runs the
// pricing engine against it.
func (s *cartService) price(ctx context.Context, cart Cart) (CartPricing, error) {
	snapshot, err := s.catalog.Snapshot(ctx, SnapshotRefsForCart(cart))
	if err != nil {
		s.logger(ctx, "cart_snapshot_failed", map[string]any{
			"userId": cart.UserID,
			"error":  err.Error(),
		})
		return CartPricing{}, ErrCartUnavailable
	}

	pricing, err := s.pricer.PriceCart(ctx, cart, snapshot)
	if err != nil {
		if errors.Is(err, ErrCartPricingInvalidInput) {
			return CartPricing{}, fmt.Errorf("%w: %v", ErrCartInvalidInput, err)
		}
		return CartPricing{}, ErrCartUnavailable
	}
	return pricing, nil
}

func (s *cartService) repriceAndSave(ctx context.Context, cart Cart, persist bool) (Cart, error) {
	pricing, err := s.price(ctx, cart)
	if err != nil {
		return Cart{}, err
	}
	estimate := s.pricer.Estimate(pricing)
	cart.Estimate = &estimate
	if cart.Coupon != nil && cart.Coupon.Applied {
		cart.Coupon.DiscountAmount = pricing.Discount
	}
	cart.UpdatedAt = s.now()

	if !persist {
		return cart, nil
	}
	saved, err := s.repo.UpsertCart(ctx, cart)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}
	return s.normalizeCart(saved, cart.UserID), nil
}

func (s *cartService) newCart(userID string) domain.Cart {
	now := s.now()
	return domain.Cart{
		ID:        userID,
		UserID:    userID,
		Currency:  s.pricer.Currency(),
		Items:     []domain.CartItem{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *cartService) normalizeCart(cart domain.Cart, userID string) domain.Cart {
	if cart.ID = strings.TrimSpace(cart.ID); cart.ID == "" {
		cart.ID = userID
	}
	cart.UserID = firstNonEmpty(cart.UserID, userID)
	cart.Currency = strings.ToUpper(strings.TrimSpace(firstNonEmpty(cart.Currency, s.pricer.Currency())))
	if cart.Items == nil {
		cart.Items = []domain.CartItem{}
	}
	if cart.Coupon != nil {
		cart.Coupon.Code = normalizeCouponCode(cart.Coupon.Code)
		if cart.Coupon.Code == "" {
			cart.Coupon = nil
		}
	}
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = s.now()
	}
	if cart.UpdatedAt.IsZero() {
		cart.UpdatedAt = cart.CreatedAt
	}
	return cart
}

func (s *cartService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrCartNotFound
		case repoErr.IsConflict():
			return ErrCartConflict
		}
	}
	return ErrCartUnavailable
}

func validateOrderQuantity(product Product, quantity int) error {
	if product.MinOrderQuantity > 0 && quantity < product.MinOrderQuantity {
		return fmt.Errorf("%w: minimum order quantity for %s is %d", ErrCartInvalidInput, product.ID, product.MinOrderQuantity)
	}
	if product.MaxOrderQuantity > 0 && quantity > product.MaxOrderQuantity {
		return fmt.Errorf("%w: maximum order quantity for %s is %d", ErrCartInvalidInput, product.ID, product.MaxOrderQuantity)
	}
	return nil
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func cloneCartItems(items []domain.CartItem) []domain.CartItem {
	if len(items) == 0 {
		return []domain.CartItem{}
	}
	dup := make([]domain.CartItem, len(items))
	copy(dup, items)
	for i := range dup {
		dup[i].Customizations = cloneSelections(dup[i].Customizations)
		if dup[i].UpdatedAt != nil {
			ts := dup[i].UpdatedAt.UTC()
			dup[i].UpdatedAt = &ts
		}
	}
	return dup
}

func cloneSelections(selections []domain.CustomizationSelection) []domain.CustomizationSelection {
	if len(selections) == 0 {
		return nil
	}
	dup := make([]domain.CustomizationSelection, len(selections))
	copy(dup, selections)
	return dup
}

func indexOfCartItem(items []domain.CartItem, itemID string) int {
	target := strings.TrimSpace(itemID)
	if target == "" {
		return -1
	}
	for i, item := range items {
		if strings.EqualFold(strings.TrimSpace(item.ID), target) {
			return i
		}
	}
	return -1
}

func indexOfCartLine(items []domain.CartItem, productID, flavorID string) int {
	for i, item := range items {
		if strings.EqualFold(strings.TrimSpace(item.ProductID), productID) &&
			strings.EqualFold(strings.TrimSpace(item.FlavorID), flavorID) {
			return i
		}
	}
	return -1
}
