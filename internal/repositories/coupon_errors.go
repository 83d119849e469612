package repositories

import "fmt"

// CouponErrorCode enumerates failure reasons for coupon redemption.
type CouponErrorCode string

const (
	// CouponErrorUnknown represents an unspecified failure.
	CouponErrorUnknown CouponErrorCode = "coupon_unknown"
	// CouponErrorInvalidInput indicates the caller supplied invalid arguments.
	CouponErrorInvalidInput CouponErrorCode = "coupon_invalid_input"
	// CouponErrorExhausted indicates the usage cap was reached before the increment.
	CouponErrorExhausted CouponErrorCode = "coupon_exhausted"
	// CouponErrorInactive indicates the coupon is deactivated or outside its window.
	CouponErrorInactive CouponErrorCode = "coupon_inactive"
)

// CouponRedemptionError wraps redemption failures with machine readable codes.
type CouponRedemptionError struct {
	Op      string
	Code    CouponErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *CouponRedemptionError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *CouponRedemptionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewCouponRedemptionError constructs a typed redemption error.
func NewCouponRedemptionError(code CouponErrorCode, message string, err error) *CouponRedemptionError {
	if message == "" {
		message = string(code)
	}
	return &CouponRedemptionError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
