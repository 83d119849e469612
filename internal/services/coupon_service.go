package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/caravela/api/internal/domain"
	"github.com/caravela/api/internal/platform/pagination"
	"github.com/caravela/api/internal/repositories"
)

const couponIDPrefix = "cpn_"

// CouponServiceDeps bundles dependencies required to construct a CouponService implementation.
type CouponServiceDeps struct {
	Coupons repositories.CouponRepository
	Clock   func() time.Time
	IDGen   func() string
}

type couponService struct {
	repo  repositories.CouponRepository
	clock func() time.Time
	idGen func() string
}

var _ CouponService = (*couponService)(nil)

// NewCouponService wires a CouponService backed by the provided repositories.
func NewCouponService(deps CouponServiceDeps) (CouponService, error) {
	if deps.Coupons == nil {
		return nil, ErrCouponRepositoryMissing
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGen
	if idGen == nil {
		idGen = func() string { return couponIDPrefix + ulid.Make().String() }
	}
	return &couponService{
		repo:  deps.Coupons,
		clock: func() time.Time { return clock().UTC() },
		idGen: idGen,
	}, nil
}

// Validate checks a code against the current cart amounts without consuming a
// use. Every failure is reported inside the outcome; errors are reserved for
// bad input and store failures.
func (s *couponService) Validate(ctx context.Context, cmd ValidateCouponCommand) (CouponOutcome, error) {
	code := normalizeCouponCode(cmd.Code)
	if code == "" {
		return CouponOutcome{}, ErrCouponInvalidCode
	}
	if cmd.Subtotal < 0 || cmd.Shipping < 0 {
		return CouponOutcome{}, fmt.Errorf("%w: amounts cannot be negative", ErrCouponInvalidInput)
	}

	coupon, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		if repoErr, ok := err.(repositories.RepositoryError); ok {
			switch {
			case repoErr.IsNotFound():
				return couponNotApplied(code, domain.CouponReasonNotFound), nil
			case repoErr.IsUnavailable():
				return CouponOutcome{}, ErrCouponStoreUnavailable
			}
		}
		return CouponOutcome{}, err
	}

	return s.evaluate(coupon, cmd.Subtotal, cmd.Shipping), nil
}

// Apply validates the code and then consumes one use through the repository's
// serialized redemption. The usage counter only moves when the outcome comes
// back applied; a cap reached between the validation read and the redemption
// surfaces as an exhausted outcome, never as an oversold coupon.
func (s *couponService) Apply(ctx context.Context, cmd ApplyCouponCommand) (CouponOutcome, error) {
	outcome, err := s.Validate(ctx, ValidateCouponCommand{
		Code:     cmd.Code,
		UserID:   cmd.UserID,
		Subtotal: cmd.Subtotal,
		Shipping: cmd.Shipping,
	})
	if err != nil || !outcome.Applied {
		return outcome, err
	}

	code := normalizeCouponCode(cmd.Code)
	redeemed, err := s.repo.Redeem(ctx, code, s.clock())
	if err != nil {
		var redemption *repositories.CouponRedemptionError
		if errors.As(err, &redemption) {
			switch redemption.Code {
			case repositories.CouponErrorExhausted:
				return couponNotApplied(code, domain.CouponReasonExhausted), nil
			case repositories.CouponErrorInactive:
				return couponNotApplied(code, domain.CouponReasonInactive), nil
			}
		}
		if repoErr, ok := err.(repositories.RepositoryError); ok {
			switch {
			case repoErr.IsNotFound():
				return couponNotApplied(code, domain.CouponReasonNotFound), nil
			case repoErr.IsUnavailable():
				return CouponOutcome{}, ErrCouponStoreUnavailable
			}
		}
		return CouponOutcome{}, err
	}

	return quoteCouponDiscount(redeemed, cmd.Subtotal, cmd.Shipping), nil
}

func (s *couponService) ListCoupons(ctx context.Context, filter CouponListFilter) (domain.CursorPage[Coupon], error) {
	page, err := s.repo.List(ctx, filter)
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidPageToken) {
			return domain.CursorPage[Coupon]{}, fmt.Errorf("%w: invalid page token", ErrCouponInvalidInput)
		}
		if repoErr, ok := err.(repositories.RepositoryError); ok && repoErr.IsUnavailable() {
			return domain.CursorPage[Coupon]{}, ErrCouponStoreUnavailable
		}
		return domain.CursorPage[Coupon]{}, err
	}
	return page, nil
}

func (s *couponService) CreateCoupon(ctx context.Context, cmd UpsertCouponCommand) (Coupon, error) {
	coupon, err := normalizeCouponDefinition(cmd.Coupon)
	if err != nil {
		return Coupon{}, err
	}

	now := s.clock()
	coupon.ID = s.idGen()
	coupon.UsedCount = 0
	coupon.CreatedAt = now
	coupon.UpdatedAt = now

	if err := s.repo.Insert(ctx, coupon); err != nil {
		if repoErr, ok := err.(repositories.RepositoryError); ok {
			switch {
			case repoErr.IsConflict():
				return Coupon{}, ErrCouponCodeExists
			case repoErr.IsUnavailable():
				return Coupon{}, ErrCouponStoreUnavailable
			}
		}
		return Coupon{}, err
	}
	return coupon, nil
}

func (s *couponService) UpdateCoupon(ctx context.Context, cmd UpsertCouponCommand) (Coupon, error) {
	coupon, err := normalizeCouponDefinition(cmd.Coupon)
	if err != nil {
		return Coupon{}, err
	}

	existing, err := s.repo.FindByCode(ctx, coupon.Code)
	if err != nil {
		if repoErr, ok := err.(repositories.RepositoryError); ok {
			switch {
			case repoErr.IsNotFound():
				return Coupon{}, ErrCouponNotFound
			case repoErr.IsUnavailable():
				return Coupon{}, ErrCouponStoreUnavailable
			}
		}
		return Coupon{}, err
	}

	// The usage counter and identity are owned by the store; updates only
	// touch the definition.
	coupon.ID = existing.ID
	coupon.UsedCount = existing.UsedCount
	coupon.CreatedAt = existing.CreatedAt
	coupon.UpdatedAt = s.clock()

	if err := s.repo.Update(ctx, coupon); err != nil {
		if repoErr, ok := err.(repositories.RepositoryError); ok && repoErr.IsUnavailable() {
			return Coupon{}, ErrCouponStoreUnavailable
		}
		return Coupon{}, err
	}
	return coupon, nil
}

func (s *couponService) evaluate(coupon Coupon, subtotal, shipping int64) CouponOutcome {
	now := s.clock()
	switch {
	case !coupon.IsActive:
		return couponNotApplied(coupon.Code, domain.CouponReasonInactive)
	case !coupon.ValidFrom.IsZero() && now.Before(coupon.ValidFrom):
		return couponNotApplied(coupon.Code, domain.CouponReasonNotStarted)
	case !coupon.ValidUntil.IsZero() && now.After(coupon.ValidUntil):
		return couponNotApplied(coupon.Code, domain.CouponReasonExpired)
	case coupon.MaxUses != nil && coupon.UsedCount >= *coupon.MaxUses:
		return couponNotApplied(coupon.Code, domain.CouponReasonExhausted)
	case subtotal < coupon.MinOrderAmount:
		return couponNotApplied(coupon.Code, domain.CouponReasonMinOrderNotMet)
	}
	return quoteCouponDiscount(coupon, subtotal, shipping)
}

// quoteCouponDiscount computes the discount amount for a coupon that passed
// validity and eligibility checks. Fixed discounts never exceed subtotal plus
// shipping; free shipping discounts exactly the shipping cost.
func quoteCouponDiscount(coupon Coupon, subtotal, shipping int64) CouponOutcome {
	switch coupon.Type {
	case domain.CouponTypePercentage, domain.CouponTypeFixed, domain.CouponTypeFreeShipping:
	default:
		return couponNotApplied(coupon.Code, domain.CouponReasonUnknownType)
	}
	return CouponOutcome{
		Code:           coupon.Code,
		Applied:        true,
		Type:           coupon.Type,
		Value:          coupon.Value,
		DiscountAmount: domain.CouponDiscount(coupon.Type, coupon.Value, subtotal, shipping),
	}
}

func couponNotApplied(code string, reason CouponReason) CouponOutcome {
	return CouponOutcome{Code: code, Reason: reason}
}

func normalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func normalizeCouponDefinition(coupon Coupon) (Coupon, error) {
	coupon.Code = normalizeCouponCode(coupon.Code)
	if coupon.Code == "" {
		return Coupon{}, ErrCouponInvalidCode
	}
	coupon.Description = strings.TrimSpace(coupon.Description)

	switch coupon.Type {
	case domain.CouponTypePercentage:
		if coupon.Value <= 0 || coupon.Value > 100 {
			return Coupon{}, fmt.Errorf("%w: percentage value must be within 1-100", ErrCouponInvalidInput)
		}
	case domain.CouponTypeFixed:
		if coupon.Value <= 0 {
			return Coupon{}, fmt.Errorf("%w: fixed value must be positive", ErrCouponInvalidInput)
		}
	case domain.CouponTypeFreeShipping:
		coupon.Value = 0
	default:
		return Coupon{}, fmt.Errorf("%w: unknown coupon type %q", ErrCouponInvalidInput, coupon.Type)
	}

	if coupon.MinOrderAmount < 0 {
		return Coupon{}, fmt.Errorf("%w: minimum order amount cannot be negative", ErrCouponInvalidInput)
	}
	if coupon.MaxUses != nil && *coupon.MaxUses <= 0 {
		return Coupon{}, fmt.Errorf("%w: max uses must be positive when set", ErrCouponInvalidInput)
	}
	if !coupon.ValidFrom.IsZero() && !coupon.ValidUntil.IsZero() && coupon.ValidUntil.Before(coupon.ValidFrom) {
		return Coupon{}, fmt.Errorf("%w: validity window ends before it starts", ErrCouponInvalidInput)
	}

	coupon.ValidFrom = coupon.ValidFrom.UTC()
	coupon.ValidUntil = coupon.ValidUntil.UTC()
	return coupon, nil
}
