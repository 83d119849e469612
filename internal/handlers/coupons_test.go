package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/caravela/api/internal/domain"
	"github.com/caravela/api/internal/services"
)

func newCouponTestRouter(coupons services.CouponService) chi.Router {
	router := chi.NewRouter()
	NewCouponHandlers(coupons).Routes(router)
	return router
}

func TestValidateCouponReturnsOutcome(t *testing.T) {
	var captured services.ValidateCouponCommand
	coupons := &stubCouponService{
		validate: func(_ context.Context, cmd services.ValidateCouponCommand) (domain.CouponOutcome, error) {
			captured = cmd
			return domain.CouponOutcome{Code: cmd.Code, Applied: true, DiscountAmount: 390}, nil
		},
	}
	router := newCouponTestRouter(coupons)

	req := httptest.NewRequest(http.MethodPost, "/coupons/SAVE10:validate", bytes.NewBufferString(`{"subtotal":3900,"shipping":5990}`))
	req.Header.Set(userIDHeader, "user-1")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Code != "SAVE10" || captured.UserID != "user-1" {
		t.Fatalf("unexpected command %+v", captured)
	}
	if captured.Subtotal != 3900 || captured.Shipping != 5990 {
		t.Fatalf("unexpected amounts %+v", captured)
	}

	var body couponOutcomePayload
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if !body.Applied || body.DiscountAmount != 390 {
		t.Fatalf("unexpected outcome %+v", body)
	}
}

func TestValidateCouponReportsStructuredRejection(t *testing.T) {
	coupons := &stubCouponService{
		validate: func(_ context.Context, cmd services.ValidateCouponCommand) (domain.CouponOutcome, error) {
			return domain.CouponOutcome{Code: cmd.Code, Applied: false, Reason: domain.CouponReasonExpired}, nil
		},
	}
	router := newCouponTestRouter(coupons)

	req := httptest.NewRequest(http.MethodPost, "/coupons/OLD:validate", bytes.NewBufferString(`{"subtotal":1000}`))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected rejections to stay 200, got %d", rr.Code)
	}

	var body couponOutcomePayload
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body.Applied {
		t.Fatalf("expected not applied")
	}
	if body.Reason != string(domain.CouponReasonExpired) {
		t.Fatalf("expected expired reason, got %q", body.Reason)
	}
}

func TestValidateCouponRejectsNegativeAmounts(t *testing.T) {
	router := newCouponTestRouter(&stubCouponService{})

	req := httptest.NewRequest(http.MethodPost, "/coupons/SAVE10:validate", bytes.NewBufferString(`{"subtotal":-1}`))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}
