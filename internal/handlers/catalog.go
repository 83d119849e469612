package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/caravela/api/internal/domain"
	"github.com/caravela/api/internal/platform/httpx"
	"github.com/caravela/api/internal/repositories"
	"github.com/caravela/api/internal/services"
)

const maxCatalogPageSize = 100

// CatalogHandlers exposes the public product and category listings.
type CatalogHandlers struct {
	catalog services.CatalogService
}

// NewCatalogHandlers constructs catalog handlers.
func NewCatalogHandlers(catalog services.CatalogService) *CatalogHandlers {
	return &CatalogHandlers{catalog: catalog}
}

// Routes registers the public catalog endpoints.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/products", h.listProducts)
	r.Get("/products/{productID}", h.getProduct)
	r.Get("/categories", h.listCategories)
}

type productPayload struct {
	ID               string `json:"id"`
	Slug             string `json:"slug"`
	Name             string `json:"name"`
	Description      string `json:"description,omitempty"`
	CategoryID       string `json:"category_id,omitempty"`
	BasePrice        int64  `json:"base_price"`
	SalePrice        *int64 `json:"sale_price,omitempty"`
	CurrentPrice     int64  `json:"current_price"`
	Currency         string `json:"currency"`
	IsFeatured       bool   `json:"is_featured"`
	MinOrderQuantity int    `json:"min_order_quantity,omitempty"`
	MaxOrderQuantity int    `json:"max_order_quantity,omitempty"`
	StockQuantity    int    `json:"stock_quantity"`
	ImagePath        string `json:"image_path,omitempty"`
	CreatedAt        string `json:"created_at,omitempty"`
	UpdatedAt        string `json:"updated_at,omitempty"`
}

type productListResponse struct {
	Products      []productPayload `json:"products"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

type categoryPayload struct {
	ID          string `json:"id"`
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	SortOrder   int    `json:"sort_order"`
}

type categoryListResponse struct {
	Categories []categoryPayload `json:"categories"`
}

func (h *CatalogHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeCatalogUnavailable(ctx, w)
		return
	}

	filter := repositories.ProductFilter{
		ActiveOnly: true,
		Pagination: paginationFromQuery(r, maxCatalogPageSize),
	}
	if category := strings.TrimSpace(r.URL.Query().Get("category")); category != "" {
		filter.CategoryID = &category
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("featured")); raw != "" {
		featured, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "featured must be a boolean", http.StatusBadRequest))
			return
		}
		filter.Featured = &featured
	}

	page, err := h.catalog.ListProducts(ctx, filter)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	response := productListResponse{
		Products:      make([]productPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, product := range page.Items {
		response.Products = append(response.Products, buildProductPayload(product))
	}

	writeJSONResponse(w, http.StatusOK, response)
}

func (h *CatalogHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeCatalogUnavailable(ctx, w)
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	product, err := h.catalog.GetProduct(ctx, productID)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildProductPayload(product))
}

func (h *CatalogHandlers) listCategories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeCatalogUnavailable(ctx, w)
		return
	}

	categories, err := h.catalog.ListCategories(ctx)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	response := categoryListResponse{Categories: make([]categoryPayload, 0, len(categories))}
	for _, category := range categories {
		response.Categories = append(response.Categories, categoryPayload{
			ID:          category.ID,
			Slug:        category.Slug,
			Name:        category.Name,
			Description: category.Description,
			SortOrder:   category.SortOrder,
		})
	}

	writeJSONResponse(w, http.StatusOK, response)
}

func buildProductPayload(product domain.Product) productPayload {
	return productPayload{
		ID:               product.ID,
		Slug:             product.Slug,
		Name:             product.Name,
		Description:      product.Description,
		CategoryID:       product.CategoryID,
		BasePrice:        product.BasePrice,
		SalePrice:        product.SalePrice,
		CurrentPrice:     product.CurrentPrice(),
		Currency:         product.Currency,
		IsFeatured:       product.IsFeatured,
		MinOrderQuantity: product.MinOrderQuantity,
		MaxOrderQuantity: product.MaxOrderQuantity,
		StockQuantity:    product.StockQuantity,
		ImagePath:        product.ImagePath,
		CreatedAt:        formatTime(product.CreatedAt),
		UpdatedAt:        formatTime(product.UpdatedAt),
	}
}

func paginationFromQuery(r *http.Request, maxPageSize int) domain.Pagination {
	pagination := domain.Pagination{
		PageToken: strings.TrimSpace(r.URL.Query().Get("page_token")),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("page_size")); raw != "" {
		if size, err := strconv.Atoi(raw); err == nil && size > 0 {
			if size > maxPageSize {
				size = maxPageSize
			}
			pagination.PageSize = size
		}
	}
	return pagination
}

func writeCatalogUnavailable(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
}

func writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCatalogProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	default:
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsUnavailable() {
			writeCatalogUnavailable(ctx, w)
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", "failed to load catalog data", http.StatusInternalServerError))
	}
}
