package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/caravela/api/internal/domain"
	"github.com/caravela/api/internal/platform/httpx"
	"github.com/caravela/api/internal/repositories"
	"github.com/caravela/api/internal/services"
)

const (
	maxAdminBodySize   = 16 * 1024
	maxCouponPageSize  = 100
	errorAdminBadInput = "invalid_request"
)

// AdminHandlers exposes back-office endpoints: coupon lifecycle, order
// status transitions, and counter administration. Access control is
// enforced at the edge; handlers only need the actor identity for audit.
type AdminHandlers struct {
	coupons services.CouponService
	orders  services.OrderService
	system  services.SystemService
}

// NewAdminHandlers constructs admin handlers.
func NewAdminHandlers(coupons services.CouponService, orders services.OrderService, system services.SystemService) *AdminHandlers {
	return &AdminHandlers{
		coupons: coupons,
		orders:  orders,
		system:  system,
	}
}

// Routes registers admin endpoints under the provided router.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/coupons", h.listCoupons)
	r.Post("/coupons", h.createCoupon)
	r.Put("/coupons/{couponID}", h.updateCoupon)
	r.Post("/orders/{orderID}/status", h.transitionOrder)
	r.Post("/counters/{counterID}:next", h.nextCounterValue)
}

type couponPayload struct {
	ID             string `json:"id"`
	Code           string `json:"code"`
	Type           string `json:"type"`
	Value          int64  `json:"value"`
	MinOrderAmount int64  `json:"min_order_amount"`
	ValidFrom      string `json:"valid_from,omitempty"`
	ValidUntil     string `json:"valid_until,omitempty"`
	MaxUses        *int64 `json:"max_uses,omitempty"`
	UsedCount      int64  `json:"used_count"`
	IsActive       bool   `json:"is_active"`
	Description    string `json:"description,omitempty"`
	CreatedAt      string `json:"created_at,omitempty"`
	UpdatedAt      string `json:"updated_at,omitempty"`
}

type couponListResponse struct {
	Coupons       []couponPayload `json:"coupons"`
	NextPageToken string          `json:"next_page_token,omitempty"`
}

type upsertCouponRequest struct {
	Code           string `json:"code"`
	Type           string `json:"type"`
	Value          int64  `json:"value"`
	MinOrderAmount int64  `json:"min_order_amount"`
	ValidFrom      string `json:"valid_from"`
	ValidUntil     string `json:"valid_until"`
	MaxUses        *int64 `json:"max_uses"`
	IsActive       *bool  `json:"is_active"`
	Description    string `json:"description"`
}

type transitionOrderRequest struct {
	Status         string `json:"status"`
	Reason         string `json:"reason"`
	ExpectedStatus string `json:"expected_status"`
}

type counterRequest struct {
	Step int64 `json:"step"`
}

type counterResponse struct {
	CounterID string `json:"counter_id"`
	Value     int64  `json:"value"`
}

func (h *AdminHandlers) listCoupons(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupons_unavailable", "coupon service unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := requireUser(w, r); !ok {
		return
	}

	filter := repositories.CouponListFilter{
		Pagination: paginationFromQuery(r, maxCouponPageSize),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("active")); raw != "" {
		filter.ActiveOnly = raw == "true" || raw == "1"
	}

	page, err := h.coupons.ListCoupons(ctx, filter)
	if err != nil {
		writeCouponError(ctx, w, err)
		return
	}

	response := couponListResponse{
		Coupons:       make([]couponPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, coupon := range page.Items {
		response.Coupons = append(response.Coupons, buildCouponPayload(coupon))
	}

	writeJSONResponse(w, http.StatusOK, response)
}

func (h *AdminHandlers) createCoupon(w http.ResponseWriter, r *http.Request) {
	h.upsertCoupon(w, r, "")
}

func (h *AdminHandlers) updateCoupon(w http.ResponseWriter, r *http.Request) {
	couponID := strings.TrimSpace(chi.URLParam(r, "couponID"))
	if couponID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError(errorAdminBadInput, "coupon id is required", http.StatusBadRequest))
		return
	}
	h.upsertCoupon(w, r, couponID)
}

func (h *AdminHandlers) upsertCoupon(w http.ResponseWriter, r *http.Request, couponID string) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupons_unavailable", "coupon service unavailable", http.StatusServiceUnavailable))
		return
	}

	actorID, ok := requireUser(w, r)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxAdminBodySize)
	if err != nil {
		writeBodyError(w, r, err)
		return
	}
	if len(body) == 0 {
		writeBodyError(w, r, errEmptyBody)
		return
	}

	var req upsertCouponRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError(errorAdminBadInput, "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	coupon := domain.Coupon{
		ID:             couponID,
		Code:           strings.TrimSpace(req.Code),
		Type:           domain.CouponType(strings.TrimSpace(req.Type)),
		Value:          req.Value,
		MinOrderAmount: req.MinOrderAmount,
		MaxUses:        req.MaxUses,
		Description:    strings.TrimSpace(req.Description),
		IsActive:       true,
	}
	if req.IsActive != nil {
		coupon.IsActive = *req.IsActive
	}
	if raw := strings.TrimSpace(req.ValidFrom); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError(errorAdminBadInput, "valid_from must be an RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		coupon.ValidFrom = from
	}
	if raw := strings.TrimSpace(req.ValidUntil); raw != "" {
		until, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError(errorAdminBadInput, "valid_until must be an RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		coupon.ValidUntil = until
	}

	cmd := services.UpsertCouponCommand{Coupon: coupon, ActorID: actorID}

	var (
		saved  domain.Coupon
		opErr  error
		status = http.StatusOK
	)
	if couponID == "" {
		saved, opErr = h.coupons.CreateCoupon(ctx, cmd)
		status = http.StatusCreated
	} else {
		saved, opErr = h.coupons.UpdateCoupon(ctx, cmd)
	}
	if opErr != nil {
		writeCouponError(ctx, w, opErr)
		return
	}

	writeJSONResponse(w, status, buildCouponPayload(saved))
}

func (h *AdminHandlers) transitionOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	actorID, ok := requireUser(w, r)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError(errorAdminBadInput, "order id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxAdminBodySize)
	if err != nil {
		writeBodyError(w, r, err)
		return
	}
	if len(body) == 0 {
		writeBodyError(w, r, errEmptyBody)
		return
	}

	var req transitionOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError(errorAdminBadInput, "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	target := strings.TrimSpace(req.Status)
	if target == "" {
		httpx.WriteError(ctx, w, httpx.NewError(errorAdminBadInput, "status is required", http.StatusBadRequest))
		return
	}

	cmd := services.OrderStatusTransitionCommand{
		OrderID:      orderID,
		TargetStatus: domain.OrderStatus(target),
		ActorID:      actorID,
		Reason:       strings.TrimSpace(req.Reason),
	}
	if expected := strings.TrimSpace(req.ExpectedStatus); expected != "" {
		status := domain.OrderStatus(expected)
		cmd.ExpectedStatus = &status
	}

	order, err := h.orders.TransitionStatus(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *AdminHandlers) nextCounterValue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.system == nil {
		httpx.WriteError(ctx, w, httpx.NewError("counters_unavailable", "counter service unavailable", http.StatusServiceUnavailable))
		return
	}

	if _, ok := requireUser(w, r); !ok {
		return
	}

	counterID := strings.TrimSpace(chi.URLParam(r, "counterID"))
	body, err := readLimitedBody(r, maxAdminBodySize)
	if err != nil {
		writeBodyError(w, r, err)
		return
	}

	req := counterRequest{Step: 1}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError(errorAdminBadInput, "request body must be valid JSON", http.StatusBadRequest))
			return
		}
	}

	value, err := h.system.NextCounterValue(ctx, services.CounterCommand{
		CounterID: counterID,
		Step:      req.Step,
	})
	if err != nil {
		writeCounterError(w, r, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, counterResponse{
		CounterID: counterID,
		Value:     value,
	})
}

func buildCouponPayload(coupon domain.Coupon) couponPayload {
	return couponPayload{
		ID:             coupon.ID,
		Code:           coupon.Code,
		Type:           string(coupon.Type),
		Value:          coupon.Value,
		MinOrderAmount: coupon.MinOrderAmount,
		ValidFrom:      formatTime(coupon.ValidFrom),
		ValidUntil:     formatTime(coupon.ValidUntil),
		MaxUses:        coupon.MaxUses,
		UsedCount:      coupon.UsedCount,
		IsActive:       coupon.IsActive,
		Description:    coupon.Description,
		CreatedAt:      formatTime(coupon.CreatedAt),
		UpdatedAt:      formatTime(coupon.UpdatedAt),
	}
}

func writeCounterError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, services.ErrCounterInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError(errorAdminBadInput, err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCounterExhausted):
		httpx.WriteError(ctx, w, httpx.NewError("counter_exhausted", "counter reached its configured maximum", http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("counter_error", "failed to advance counter", http.StatusInternalServerError))
	}
}
