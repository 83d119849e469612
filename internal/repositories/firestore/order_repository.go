package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/caravela/api/internal/domain"
	pfirestore "github.com/caravela/api/internal/platform/firestore"
	"github.com/caravela/api/internal/repositories"
)

const ordersCollection = "orders"

type orderDocument struct {
	OrderNumber     string                  `firestore:"orderNumber"`
	UserID          string                  `firestore:"userId"`
	CartRef         *string                 `firestore:"cartRef,omitempty"`
	Status          string                  `firestore:"status"`
	PaymentStatus   string                  `firestore:"paymentStatus"`
	Currency        string                  `firestore:"currency"`
	Subtotal        int64                   `firestore:"subtotal"`
	Shipping        int64                   `firestore:"shipping"`
	Discount        int64                   `firestore:"discount"`
	Total           int64                   `firestore:"total"`
	Coupon          *cartCouponDocument     `firestore:"coupon,omitempty"`
	Items           []orderLineItemDocument `firestore:"items"`
	ShippingAddress *addressDocument        `firestore:"shippingAddress,omitempty"`
	BillingAddress  *addressDocument        `firestore:"billingAddress,omitempty"`
	ContactEmail    string                  `firestore:"contactEmail,omitempty"`
	ContactPhone    string                  `firestore:"contactPhone,omitempty"`
	Notes           string                  `firestore:"notes,omitempty"`
	PaymentIntentID string                  `firestore:"paymentIntentId,omitempty"`
	PaymentProvider string                  `firestore:"paymentProvider,omitempty"`
	CreatedAt       time.Time               `firestore:"createdAt"`
	UpdatedAt       time.Time               `firestore:"updatedAt"`
	ConfirmedAt     *time.Time              `firestore:"confirmedAt,omitempty"`
	ProcessingAt    *time.Time              `firestore:"processingAt,omitempty"`
	ShippedAt       *time.Time              `firestore:"shippedAt,omitempty"`
	DeliveredAt     *time.Time              `firestore:"deliveredAt,omitempty"`
	CancelledAt     *time.Time              `firestore:"cancelledAt,omitempty"`
	RefundedAt      *time.Time              `firestore:"refundedAt,omitempty"`
	CancelReason    *string                 `firestore:"cancelReason,omitempty"`
}

type orderLineItemDocument struct {
	ProductRef     string                  `firestore:"productRef"`
	ProductName    string                  `firestore:"productName"`
	FlavorRef      string                  `firestore:"flavorRef,omitempty"`
	FlavorName     string                  `firestore:"flavorName,omitempty"`
	Quantity       int                     `firestore:"quantity"`
	UnitPrice      int64                   `firestore:"unitPrice"`
	Total          int64                   `firestore:"total"`
	Customizations []customizationDocument `firestore:"customizations,omitempty"`
}

// OrderRepository persists orders within Firestore. Orders are append-only
// except for status transitions; documents are never deleted.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil)
	return &OrderRepository{
		provider: provider,
		orders:   base,
	}, nil
}

// Insert creates the order document, failing on ID collisions.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.orders == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}

	ref, err := r.orders.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, encodeOrder(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update rewrites the order document.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.orders == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}
	if _, err := r.orders.Set(ctx, id, encodeOrder(order)); err != nil {
		return err
	}
	return nil
}

// FindByID loads a single order by document ID.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	doc, err := r.orders.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(doc.ID, doc.Data), nil
}

// FindByNumber resolves an order by its public order number, as carried in
// payment-provider metadata.
func (r *OrderRepository) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	number := strings.TrimSpace(orderNumber)
	if number == "" {
		return domain.Order{}, errors.New("order repository: order number is required")
	}

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderNumber", "==", number).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.WrapError("orders.findByNumber", status.Error(codes.NotFound, "order "+number+" not found"))
	}
	return decodeOrder(docs[0].ID, docs[0].Data), nil
}

// List returns orders filtered by user and status, newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.orders == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	cursorAt, cursorID, err := decodeTimeCursor(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		if uid := strings.TrimSpace(filter.UserID); uid != "" {
			q = q.Where("userId", "==", uid)
		}
		if len(filter.Status) > 0 {
			q = q.Where("status", "in", filter.Status)
		}
		if filter.DateRange.From != nil {
			q = q.Where("createdAt", ">=", filter.DateRange.From.UTC())
		}
		if filter.DateRange.To != nil {
			q = q.Where("createdAt", "<=", filter.DateRange.To.UTC())
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if cursorID != "" {
			q = q.StartAfter(cursorAt, cursorID)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{}
	for i, doc := range docs {
		if i >= pageSize {
			last := docs[pageSize-1]
			page.NextPageToken = encodeTimeCursor(last.Data.CreatedAt, last.ID)
			break
		}
		page.Items = append(page.Items, decodeOrder(doc.ID, doc.Data))
	}
	return page, nil
}

func encodeOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber:     strings.TrimSpace(order.OrderNumber),
		UserID:          strings.TrimSpace(order.UserID),
		CartRef:         cloneOptionalString(order.CartRef),
		Status:          string(order.Status),
		PaymentStatus:   string(order.PaymentStatus),
		Currency:        strings.ToUpper(strings.TrimSpace(order.Currency)),
		Subtotal:        order.Totals.Subtotal,
		Shipping:        order.Totals.Shipping,
		Discount:        order.Totals.Discount,
		Total:           order.Totals.Total,
		Notes:           strings.TrimSpace(order.Notes),
		PaymentIntentID: strings.TrimSpace(order.PaymentIntentID),
		PaymentProvider: strings.TrimSpace(order.PaymentProvider),
		CreatedAt:       order.CreatedAt.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
		ConfirmedAt:     utcPtr(order.ConfirmedAt),
		ProcessingAt:    utcPtr(order.ProcessingAt),
		ShippedAt:       utcPtr(order.ShippedAt),
		DeliveredAt:     utcPtr(order.DeliveredAt),
		CancelledAt:     utcPtr(order.CancelledAt),
		RefundedAt:      utcPtr(order.RefundedAt),
		CancelReason:    cloneOptionalString(order.CancelReason),
	}
	if order.Coupon != nil {
		doc.Coupon = &cartCouponDocument{
			Code:           strings.TrimSpace(order.Coupon.Code),
			DiscountAmount: order.Coupon.DiscountAmount,
			Applied:        order.Coupon.Applied,
		}
	}
	if order.ShippingAddress != nil {
		doc.ShippingAddress = addressToDocument(*order.ShippingAddress)
	}
	if order.BillingAddress != nil {
		doc.BillingAddress = addressToDocument(*order.BillingAddress)
	}
	if order.Contact != nil {
		doc.ContactEmail = strings.TrimSpace(order.Contact.Email)
		doc.ContactPhone = strings.TrimSpace(order.Contact.Phone)
	}
	for _, item := range order.Items {
		line := orderLineItemDocument{
			ProductRef:  strings.TrimSpace(item.ProductRef),
			ProductName: strings.TrimSpace(item.ProductName),
			FlavorRef:   strings.TrimSpace(item.FlavorRef),
			FlavorName:  strings.TrimSpace(item.FlavorName),
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Total:       item.Total,
		}
		for _, sel := range item.Customizations {
			line.Customizations = append(line.Customizations, customizationDocument{
				OptionID: strings.TrimSpace(sel.OptionID),
				Quantity: sel.Quantity,
			})
		}
		doc.Items = append(doc.Items, line)
	}
	return doc
}

func decodeOrder(id string, doc orderDocument) domain.Order {
	order := domain.Order{
		ID:            id,
		OrderNumber:   doc.OrderNumber,
		UserID:        doc.UserID,
		CartRef:       cloneOptionalString(doc.CartRef),
		Status:        domain.OrderStatus(doc.Status),
		PaymentStatus: domain.PaymentStatus(doc.PaymentStatus),
		Currency:      doc.Currency,
		Totals: domain.OrderTotals{
			Subtotal: doc.Subtotal,
			Shipping: doc.Shipping,
			Discount: doc.Discount,
			Total:    doc.Total,
		},
		Notes:           doc.Notes,
		PaymentIntentID: doc.PaymentIntentID,
		PaymentProvider: doc.PaymentProvider,
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
		ConfirmedAt:     doc.ConfirmedAt,
		ProcessingAt:    doc.ProcessingAt,
		ShippedAt:       doc.ShippedAt,
		DeliveredAt:     doc.DeliveredAt,
		CancelledAt:     doc.CancelledAt,
		RefundedAt:      doc.RefundedAt,
		CancelReason:    cloneOptionalString(doc.CancelReason),
	}
	if doc.Coupon != nil {
		order.Coupon = &domain.CartCoupon{
			Code:           doc.Coupon.Code,
			DiscountAmount: doc.Coupon.DiscountAmount,
			Applied:        doc.Coupon.Applied,
		}
	}
	if doc.ShippingAddress != nil {
		addr := addressFromDocument(*doc.ShippingAddress)
		order.ShippingAddress = &addr
	}
	if doc.BillingAddress != nil {
		addr := addressFromDocument(*doc.BillingAddress)
		order.BillingAddress = &addr
	}
	if doc.ContactEmail != "" || doc.ContactPhone != "" {
		order.Contact = &domain.OrderContact{
			Email: doc.ContactEmail,
			Phone: doc.ContactPhone,
		}
	}
	for _, line := range doc.Items {
		item := domain.OrderLineItem{
			ProductRef:  line.ProductRef,
			ProductName: line.ProductName,
			FlavorRef:   line.FlavorRef,
			FlavorName:  line.FlavorName,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			Total:       line.Total,
		}
		for _, sel := range line.Customizations {
			item.Customizations = append(item.Customizations, domain.CustomizationSelection{
				OptionID: sel.OptionID,
				Quantity: sel.Quantity,
			})
		}
		order.Items = append(order.Items, item)
	}
	return order
}

func utcPtr(value *time.Time) *time.Time {
	if value == nil || value.IsZero() {
		return nil
	}
	t := value.UTC()
	return &t
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
