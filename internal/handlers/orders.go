package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/caravela/api/internal/domain"
	"github.com/caravela/api/internal/platform/httpx"
	"github.com/caravela/api/internal/repositories"
	"github.com/caravela/api/internal/services"
)

const (
	maxOrderCancelBodySize = 4 * 1024
	maxOrderPageSize       = 50
)

// OrderHandlers exposes order history and cancellation for customers.
type OrderHandlers struct {
	orders services.OrderService
}

// NewOrderHandlers constructs order handlers.
func NewOrderHandlers(orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{orders: orders}
}

// Routes registers order endpoints under the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}/cancel", h.cancelOrder)
}

type orderTotalsPayload struct {
	Subtotal int64 `json:"subtotal"`
	Shipping int64 `json:"shipping"`
	Discount int64 `json:"discount"`
	Total    int64 `json:"total"`
}

type orderLinePayload struct {
	ProductID      string                     `json:"product_id"`
	ProductName    string                     `json:"product_name,omitempty"`
	FlavorID       string                     `json:"flavor_id,omitempty"`
	FlavorName     string                     `json:"flavor_name,omitempty"`
	Quantity       int                        `json:"quantity"`
	UnitPrice      int64                      `json:"unit_price"`
	Total          int64                      `json:"total"`
	Customizations []cartCustomizationPayload `json:"customizations,omitempty"`
}

type orderPayload struct {
	ID              string                  `json:"id"`
	OrderNumber     string                  `json:"order_number"`
	UserID          string                  `json:"user_id"`
	Status          string                  `json:"status"`
	PaymentStatus   string                  `json:"payment_status"`
	Currency        string                  `json:"currency,omitempty"`
	Totals          orderTotalsPayload      `json:"totals"`
	Coupon          *cartCouponPayload      `json:"coupon,omitempty"`
	Items           []orderLinePayload      `json:"items"`
	Contact         *checkoutContactPayload `json:"contact,omitempty"`
	Notes           string                  `json:"notes,omitempty"`
	CancelReason    string                  `json:"cancel_reason,omitempty"`
	PaymentProvider string                  `json:"payment_provider,omitempty"`
	CreatedAt       string                  `json:"created_at,omitempty"`
	UpdatedAt       string                  `json:"updated_at,omitempty"`
	ConfirmedAt     string                  `json:"confirmed_at,omitempty"`
	ShippedAt       string                  `json:"shipped_at,omitempty"`
	DeliveredAt     string                  `json:"delivered_at,omitempty"`
	CancelledAt     string                  `json:"cancelled_at,omitempty"`
	RefundedAt      string                  `json:"refunded_at,omitempty"`
}

type orderListResponse struct {
	Orders        []orderPayload `json:"orders"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	filter := repositories.OrderListFilter{
		UserID:     userID,
		Pagination: paginationFromQuery(r, maxOrderPageSize),
	}
	if status := strings.TrimSpace(r.URL.Query().Get("status")); status != "" {
		filter.Status = []string{status}
	}

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	response := orderListResponse{
		Orders:        make([]orderPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, order := range page.Items {
		response.Orders = append(response.Orders, buildOrderPayload(order))
	}

	writeJSONResponse(w, http.StatusOK, response)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	order, ok := h.loadOwnedOrder(ctx, w, r, userID)
	if !ok {
		return
	}

	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	order, ok := h.loadOwnedOrder(ctx, w, r, userID)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxOrderCancelBodySize)
	if err != nil {
		writeBodyError(w, r, err)
		return
	}

	var req cancelOrderRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
	}

	cancelled, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID: order.ID,
		ActorID: userID,
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildOrderPayload(cancelled))
}

// loadOwnedOrder fetches the order and enforces ownership. Foreign orders
// read as not found so order IDs stay unguessable.
func (h *OrderHandlers) loadOwnedOrder(ctx context.Context, w http.ResponseWriter, r *http.Request, userID string) (domain.Order, bool) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return domain.Order{}, false
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return domain.Order{}, false
	}
	if order.UserID != userID {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return domain.Order{}, false
	}
	return order, true
}

func buildOrderPayload(order domain.Order) orderPayload {
	payload := orderPayload{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		Currency:      order.Currency,
		Totals: orderTotalsPayload{
			Subtotal: order.Totals.Subtotal,
			Shipping: order.Totals.Shipping,
			Discount: order.Totals.Discount,
			Total:    order.Totals.Total,
		},
		Items:           make([]orderLinePayload, 0, len(order.Items)),
		Notes:           order.Notes,
		PaymentProvider: order.PaymentProvider,
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
		ConfirmedAt:     formatTime(pointerTime(order.ConfirmedAt)),
		ShippedAt:       formatTime(pointerTime(order.ShippedAt)),
		DeliveredAt:     formatTime(pointerTime(order.DeliveredAt)),
		CancelledAt:     formatTime(pointerTime(order.CancelledAt)),
		RefundedAt:      formatTime(pointerTime(order.RefundedAt)),
	}

	if order.CancelReason != nil {
		payload.CancelReason = *order.CancelReason
	}
	if order.Coupon != nil {
		payload.Coupon = &cartCouponPayload{
			Code:           order.Coupon.Code,
			DiscountAmount: order.Coupon.DiscountAmount,
			Applied:        order.Coupon.Applied,
		}
	}
	if order.Contact != nil {
		payload.Contact = &checkoutContactPayload{
			Email: order.Contact.Email,
			Phone: order.Contact.Phone,
		}
	}

	for _, line := range order.Items {
		item := orderLinePayload{
			ProductID:   line.ProductRef,
			ProductName: line.ProductName,
			FlavorID:    line.FlavorRef,
			FlavorName:  line.FlavorName,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			Total:       line.Total,
		}
		for _, selection := range line.Customizations {
			item.Customizations = append(item.Customizations, cartCustomizationPayload{
				OptionID: selection.OptionID,
				Quantity: selection.Quantity,
			})
		}
		payload.Items = append(payload.Items, item)
	}

	return payload
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_order_state", "order state does not allow this operation", http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order changed concurrently; retry", http.StatusConflict))
	default:
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsUnavailable() {
			httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order storage unavailable", http.StatusServiceUnavailable))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
