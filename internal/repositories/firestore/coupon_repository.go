package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/caravela/api/internal/domain"
	pfirestore "github.com/caravela/api/internal/platform/firestore"
	"github.com/caravela/api/internal/repositories"
)

const couponsCollection = "coupons"

type couponDocument struct {
	Code           string    `firestore:"code"`
	Type           string    `firestore:"type"`
	Value          int64     `firestore:"value"`
	MinOrderAmount int64     `firestore:"minOrderAmount"`
	ValidFrom      time.Time `firestore:"validFrom"`
	ValidUntil     time.Time `firestore:"validUntil"`
	MaxUses        *int64    `firestore:"maxUses,omitempty"`
	UsedCount      int64     `firestore:"usedCount"`
	IsActive       bool      `firestore:"isActive"`
	Description    string    `firestore:"description,omitempty"`
	CreatedAt      time.Time `firestore:"createdAt"`
	UpdatedAt      time.Time `firestore:"updatedAt"`
}

// CouponRepository implements repositories.CouponRepository backed by
// Firestore. Coupon codes double as document IDs, uppercased.
type CouponRepository struct {
	provider *pfirestore.Provider
	coupons  *pfirestore.BaseRepository[couponDocument]
}

// NewCouponRepository constructs a Firestore-backed coupon repository.
func NewCouponRepository(provider *pfirestore.Provider) (*CouponRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[couponDocument](provider, couponsCollection, nil, nil)
	return &CouponRepository{
		provider: provider,
		coupons:  base,
	}, nil
}

// Insert stores a new coupon definition.
func (r *CouponRepository) Insert(ctx context.Context, coupon domain.Coupon) error {
	if r == nil || r.coupons == nil {
		return errors.New("coupon repository not initialised")
	}
	code := normalizeCouponCode(coupon.Code)
	if code == "" {
		return errors.New("coupon repository: coupon code is required")
	}

	now := time.Now().UTC()
	doc := encodeCoupon(coupon, code)
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	ref, err := r.coupons.DocumentRef(ctx, code)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("coupons.insert", err)
	}
	return nil
}

// Update rewrites the coupon definition. UsedCount is deliberately excluded:
// the counter only moves through Redeem.
func (r *CouponRepository) Update(ctx context.Context, coupon domain.Coupon) error {
	if r == nil || r.coupons == nil {
		return errors.New("coupon repository not initialised")
	}
	code := normalizeCouponCode(coupon.Code)
	if code == "" {
		return errors.New("coupon repository: coupon code is required")
	}

	updates := []firestore.Update{
		{Path: "type", Value: string(coupon.Type)},
		{Path: "value", Value: coupon.Value},
		{Path: "minOrderAmount", Value: coupon.MinOrderAmount},
		{Path: "validFrom", Value: coupon.ValidFrom.UTC()},
		{Path: "validUntil", Value: coupon.ValidUntil.UTC()},
		{Path: "isActive", Value: coupon.IsActive},
		{Path: "description", Value: strings.TrimSpace(coupon.Description)},
		{Path: "updatedAt", Value: time.Now().UTC()},
	}
	if coupon.MaxUses != nil {
		updates = append(updates, firestore.Update{Path: "maxUses", Value: *coupon.MaxUses})
	} else {
		updates = append(updates, firestore.Update{Path: "maxUses", Value: firestore.Delete})
	}

	if _, err := r.coupons.Update(ctx, code, updates); err != nil {
		return err
	}
	return nil
}

// FindByCode loads the coupon for the normalized code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	if r == nil || r.coupons == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	normalized := normalizeCouponCode(code)
	if normalized == "" {
		return domain.Coupon{}, errors.New("coupon repository: coupon code is required")
	}

	doc, err := r.coupons.Get(ctx, normalized)
	if err != nil {
		return domain.Coupon{}, err
	}
	return decodeCoupon(doc.ID, doc.Data), nil
}

// List returns coupons ordered by creation time, newest first.
func (r *CouponRepository) List(ctx context.Context, filter repositories.CouponListFilter) (domain.CursorPage[domain.Coupon], error) {
	if r == nil || r.coupons == nil {
		return domain.CursorPage[domain.Coupon]{}, errors.New("coupon repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	cursorAt, cursorID, err := decodeTimeCursor(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Coupon]{}, err
	}

	docs, err := r.coupons.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.ActiveOnly {
			q = q.Where("isActive", "==", true)
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if cursorID != "" {
			q = q.StartAfter(cursorAt, cursorID)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Coupon]{}, err
	}

	page := domain.CursorPage[domain.Coupon]{}
	for i, doc := range docs {
		if i >= pageSize {
			last := docs[pageSize-1]
			page.NextPageToken = encodeTimeCursor(last.Data.CreatedAt, last.ID)
			break
		}
		page.Items = append(page.Items, decodeCoupon(doc.ID, doc.Data))
	}
	return page, nil
}

// Redeem atomically increments usedCount iff the cap admits another use. The
// validity check and the increment share one transaction so two concurrent
// redemptions of the last use cannot both succeed.
func (r *CouponRepository) Redeem(ctx context.Context, code string, now time.Time) (domain.Coupon, error) {
	if r == nil || r.provider == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	normalized := normalizeCouponCode(code)
	if normalized == "" {
		return domain.Coupon{}, repositories.NewCouponRedemptionError(repositories.CouponErrorInvalidInput, "coupon code is required", nil)
	}
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	var redeemed domain.Coupon
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.coupons.DocumentRef(ctx, normalized)
		if err != nil {
			return err
		}

		snapshot, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return repositories.NewCouponRedemptionError(repositories.CouponErrorInvalidInput, fmt.Sprintf("coupon %s does not exist", normalized), err)
		}
		if err != nil {
			return err
		}

		var doc couponDocument
		if err := snapshot.DataTo(&doc); err != nil {
			return fmt.Errorf("firestore coupons decode %s: %w", normalized, err)
		}

		if !couponRedeemable(doc, now) {
			return repositories.NewCouponRedemptionError(repositories.CouponErrorInactive, fmt.Sprintf("coupon %s is not redeemable", normalized), nil)
		}
		if doc.MaxUses != nil && doc.UsedCount >= *doc.MaxUses {
			return repositories.NewCouponRedemptionError(repositories.CouponErrorExhausted, fmt.Sprintf("coupon %s reached its usage cap %d", normalized, *doc.MaxUses), nil)
		}

		doc.UsedCount++
		doc.UpdatedAt = now

		if err := tx.Update(ref, []firestore.Update{
			{Path: "usedCount", Value: doc.UsedCount},
			{Path: "updatedAt", Value: doc.UpdatedAt},
		}); err != nil {
			return err
		}

		redeemed = decodeCoupon(normalized, doc)
		return nil
	})
	if err != nil {
		var redemptionErr *repositories.CouponRedemptionError
		if errors.As(err, &redemptionErr) {
			return domain.Coupon{}, redemptionErr
		}
		return domain.Coupon{}, pfirestore.WrapError("coupons.redeem", err)
	}
	return redeemed, nil
}

func normalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// couponRedeemable mirrors the service-side validity rules: a zero ValidFrom
// or ValidUntil means the coupon has no window on that side.
func couponRedeemable(doc couponDocument, now time.Time) bool {
	if !doc.IsActive {
		return false
	}
	if !doc.ValidFrom.IsZero() && now.Before(doc.ValidFrom) {
		return false
	}
	if !doc.ValidUntil.IsZero() && now.After(doc.ValidUntil) {
		return false
	}
	return true
}

func encodeCoupon(coupon domain.Coupon, code string) couponDocument {
	doc := couponDocument{
		Code:           code,
		Type:           string(coupon.Type),
		Value:          coupon.Value,
		MinOrderAmount: coupon.MinOrderAmount,
		ValidFrom:      coupon.ValidFrom.UTC(),
		ValidUntil:     coupon.ValidUntil.UTC(),
		UsedCount:      coupon.UsedCount,
		IsActive:       coupon.IsActive,
		Description:    strings.TrimSpace(coupon.Description),
		CreatedAt:      coupon.CreatedAt.UTC(),
	}
	if coupon.MaxUses != nil {
		max := *coupon.MaxUses
		doc.MaxUses = &max
	}
	return doc
}

func decodeCoupon(id string, doc couponDocument) domain.Coupon {
	coupon := domain.Coupon{
		ID:             id,
		Code:           doc.Code,
		Type:           domain.CouponType(doc.Type),
		Value:          doc.Value,
		MinOrderAmount: doc.MinOrderAmount,
		ValidFrom:      doc.ValidFrom,
		ValidUntil:     doc.ValidUntil,
		UsedCount:      doc.UsedCount,
		IsActive:       doc.IsActive,
		Description:    doc.Description,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}
	if coupon.Code == "" {
		coupon.Code = id
	}
	if doc.MaxUses != nil {
		max := *doc.MaxUses
		coupon.MaxUses = &max
	}
	return coupon
}

var _ repositories.CouponRepository = (*CouponRepository)(nil)
