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

func newAdminTestRouter(coupons services.CouponService, orders services.OrderService, system services.SystemService) chi.Router {
	router := chi.NewRouter()
	router.Route("/admin", NewAdminHandlers(coupons, orders, system).Routes)
	return router
}

func TestAdminCreateCouponParsesWindow(t *testing.T) {
	var captured services.UpsertCouponCommand
	coupons := &stubCouponService{
		create: func(_ context.Context, cmd services.UpsertCouponCommand) (domain.Coupon, error) {
			captured = cmd
			coupon := cmd.Coupon
			coupon.ID = "cpn_new"
			return coupon, nil
		},
	}
	router := newAdminTestRouter(coupons, &stubOrderService{}, &stubSystemService{})

	payload := `{
		"code": "SUMMER10",
		"type": "percentage",
		"value": 10,
		"min_order_amount": 2000,
		"valid_from": "2026-06-01T00:00:00Z",
		"valid_until": "2026-08-31T23:59:59Z",
		"max_uses": 100
	}`
	req := httptest.NewRequest(http.MethodPost, "/admin/coupons", bytes.NewBufferString(payload))
	req.Header.Set(userIDHeader, "admin-1")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ActorID != "admin-1" {
		t.Fatalf("expected actor recorded, got %q", captured.ActorID)
	}
	if captured.Coupon.Code != "SUMMER10" || captured.Coupon.Type != domain.CouponTypePercentage {
		t.Fatalf("unexpected coupon %+v", captured.Coupon)
	}
	if captured.Coupon.ValidFrom.IsZero() || captured.Coupon.ValidUntil.IsZero() {
		t.Fatalf("expected validity window parsed, got %+v", captured.Coupon)
	}
	if captured.Coupon.MaxUses == nil || *captured.Coupon.MaxUses != 100 {
		t.Fatalf("expected max uses, got %+v", captured.Coupon.MaxUses)
	}

	var body couponPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body.ID != "cpn_new" {
		t.Fatalf("unexpected payload %+v", body)
	}
}

func TestAdminUpdateCouponMapsConflict(t *testing.T) {
	coupons := &stubCouponService{
		update: func(context.Context, services.UpsertCouponCommand) (domain.Coupon, error) {
			return domain.Coupon{}, services.ErrCouponCodeExists
		},
	}
	router := newAdminTestRouter(coupons, &stubOrderService{}, &stubSystemService{})

	req := httptest.NewRequest(http.MethodPut, "/admin/coupons/cpn_1", bytes.NewBufferString(`{"code":"TAKEN","type":"fixed","value":500}`))
	req.Header.Set(userIDHeader, "admin-1")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestAdminCouponRejectsBadTimestamps(t *testing.T) {
	router := newAdminTestRouter(&stubCouponService{}, &stubOrderService{}, &stubSystemService{})

	req := httptest.NewRequest(http.MethodPost, "/admin/coupons", bytes.NewBufferString(`{"code":"X","type":"fixed","value":1,"valid_from":"tomorrow"}`))
	req.Header.Set(userIDHeader, "admin-1")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestAdminTransitionOrderForwardsCommand(t *testing.T) {
	var captured services.OrderStatusTransitionCommand
	orders := &stubOrderService{
		transition: func(_ context.Context, cmd services.OrderStatusTransitionCommand) (domain.Order, error) {
			captured = cmd
			return domain.Order{ID: cmd.OrderID, Status: cmd.TargetStatus, UserID: "user-1"}, nil
		},
	}
	router := newAdminTestRouter(&stubCouponService{}, orders, &stubSystemService{})

	payload := `{"status":"shipped","reason":"courier pickup","expected_status":"processing"}`
	req := httptest.NewRequest(http.MethodPost, "/admin/orders/ord_1/status", bytes.NewBufferString(payload))
	req.Header.Set(userIDHeader, "admin-1")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_1" || captured.TargetStatus != domain.OrderStatusShipped {
		t.Fatalf("unexpected command %+v", captured)
	}
	if captured.ExpectedStatus == nil || *captured.ExpectedStatus != domain.OrderStatusProcessing {
		t.Fatalf("expected optimistic precondition, got %+v", captured.ExpectedStatus)
	}
	if captured.ActorID != "admin-1" || captured.Reason != "courier pickup" {
		t.Fatalf("unexpected audit fields %+v", captured)
	}
}

func TestAdminTransitionOrderMapsInvalidState(t *testing.T) {
	orders := &stubOrderService{
		transition: func(context.Context, services.OrderStatusTransitionCommand) (domain.Order, error) {
			return domain.Order{}, services.ErrOrderInvalidState
		},
	}
	router := newAdminTestRouter(&stubCouponService{}, orders, &stubSystemService{})

	req := httptest.NewRequest(http.MethodPost, "/admin/orders/ord_1/status", bytes.NewBufferString(`{"status":"delivered"}`))
	req.Header.Set(userIDHeader, "admin-1")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestAdminNextCounterValue(t *testing.T) {
	var captured services.CounterCommand
	system := &stubSystemService{
		counter: func(_ context.Context, cmd services.CounterCommand) (int64, error) {
			captured = cmd
			return 42, nil
		},
	}
	router := newAdminTestRouter(&stubCouponService{}, &stubOrderService{}, system)

	req := httptest.NewRequest(http.MethodPost, "/admin/counters/invoices:next", bytes.NewBufferString(`{"step":2}`))
	req.Header.Set(userIDHeader, "admin-1")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.CounterID != "invoices" || captured.Step != 2 {
		t.Fatalf("unexpected command %+v", captured)
	}

	var body counterResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body.Value != 42 || body.CounterID != "invoices" {
		t.Fatalf("unexpected response %+v", body)
	}
}

func TestAdminCounterMapsExhaustion(t *testing.T) {
	system := &stubSystemService{
		counter: func(context.Context, services.CounterCommand) (int64, error) {
			return 0, services.ErrCounterExhausted
		},
	}
	router := newAdminTestRouter(&stubCouponService{}, &stubOrderService{}, system)

	req := httptest.NewRequest(http.MethodPost, "/admin/counters/invoices:next", nil)
	req.Header.Set(userIDHeader, "admin-1")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestAdminEndpointsRequireIdentity(t *testing.T) {
	router := newAdminTestRouter(&stubCouponService{}, &stubOrderService{}, &stubSystemService{})

	req := httptest.NewRequest(http.MethodGet, "/admin/coupons", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}
