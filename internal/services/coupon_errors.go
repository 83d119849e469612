package services

import "errors"

var (
	// ErrCouponRepositoryMissing indicates the coupon repository dependency is absent.
	ErrCouponRepositoryMissing = errors.New("coupon service: repository is not configured")
	// ErrCouponInvalidCode signals the supplied coupon code is missing or invalid.
	ErrCouponInvalidCode = errors.New("coupon service: invalid coupon code")
	// ErrCouponInvalidInput signals a malformed coupon definition on create or update.
	ErrCouponInvalidInput = errors.New("coupon service: invalid coupon definition")
	// ErrCouponNotFound indicates no coupon exists for the provided code.
	ErrCouponNotFound = errors.New("coupon service: coupon not found")
	// ErrCouponCodeExists indicates another coupon already claims the code.
	ErrCouponCodeExists = errors.New("coupon service: coupon code already exists")
	// ErrCouponStoreUnavailable indicates the backing store rejected the operation.
	ErrCouponStoreUnavailable = errors.New("coupon service: coupon store unavailable")
)
