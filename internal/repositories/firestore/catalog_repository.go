package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/caravela/api/internal/domain"
	pfirestore "github.com/caravela/api/internal/platform/firestore"
	"github.com/caravela/api/internal/repositories"
)

const (
	productsCollection       = "products"
	categoriesCollection     = "categories"
	productFlavorsCollection = "productFlavors"
	customizationsCollection = "customizationOptions"
)

type productDocument struct {
	Slug             string    `firestore:"slug"`
	Name             string    `firestore:"name"`
	Description      string    `firestore:"description,omitempty"`
	CategoryID       string    `firestore:"categoryId,omitempty"`
	BasePrice        int64     `firestore:"basePrice"`
	SalePrice        *int64    `firestore:"salePrice,omitempty"`
	Currency         string    `firestore:"currency"`
	IsActive         bool      `firestore:"isActive"`
	IsFeatured       bool      `firestore:"isFeatured"`
	MinOrderQuantity int       `firestore:"minOrderQuantity"`
	MaxOrderQuantity int       `firestore:"maxOrderQuantity"`
	StockQuantity    int       `firestore:"stockQuantity"`
	ImagePath        string    `firestore:"imagePath,omitempty"`
	CreatedAt        time.Time `firestore:"createdAt"`
	UpdatedAt        time.Time `firestore:"updatedAt"`
}

type categoryDocument struct {
	Slug        string `firestore:"slug"`
	Name        string `firestore:"name"`
	Description string `firestore:"description,omitempty"`
	IsActive    bool   `firestore:"isActive"`
	SortOrder   int    `firestore:"sortOrder"`
}

type productFlavorDocument struct {
	ProductID     string `firestore:"productId"`
	FlavorID      string `firestore:"flavorId"`
	FlavorName    string `firestore:"flavorName,omitempty"`
	PriceModifier int64  `firestore:"priceModifier"`
	IsAvailable   bool   `firestore:"isAvailable"`
}

type customizationOptionDocument struct {
	Name          string `firestore:"name"`
	Type          string `firestore:"type"`
	Price         int64  `firestore:"price"`
	MaxSelections int    `firestore:"maxSelections"`
	IsAvailable   bool   `firestore:"isAvailable"`
}

// CatalogRepository serves product, flavor, and customization price data from
// Firestore. Reads are shaped for the snapshot loads the pricing engine runs.
type CatalogRepository struct {
	provider       *pfirestore.Provider
	products       *pfirestore.BaseRepository[productDocument]
	categories     *pfirestore.BaseRepository[categoryDocument]
	flavors        *pfirestore.BaseRepository[productFlavorDocument]
	customizations *pfirestore.BaseRepository[customizationOptionDocument]
}

// NewCatalogRepository constructs a Firestore-backed catalog repository.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	return &CatalogRepository{
		provider:       provider,
		products:       pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil),
		categories:     pfirestore.NewBaseRepository[categoryDocument](provider, categoriesCollection, nil, nil),
		flavors:        pfirestore.NewBaseRepository[productFlavorDocument](provider, productFlavorsCollection, nil, nil),
		customizations: pfirestore.NewBaseRepository[customizationOptionDocument](provider, customizationsCollection, nil, nil),
	}, nil
}

// ListProducts returns catalog entries matching the filter, name-ordered.
func (r *CatalogRepository) ListProducts(ctx context.Context, filter repositories.ProductFilter) (domain.CursorPage[domain.Product], error) {
	if r == nil || r.products == nil {
		return domain.CursorPage[domain.Product]{}, errors.New("catalog repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	cursorName, cursorID, err := decodeTextCursor(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Product]{}, err
	}

	docs, err := r.products.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.ActiveOnly {
			q = q.Where("isActive", "==", true)
		}
		if filter.CategoryID != nil {
			q = q.Where("categoryId", "==", strings.TrimSpace(*filter.CategoryID))
		}
		if filter.Featured != nil {
			q = q.Where("isFeatured", "==", *filter.Featured)
		}
		q = q.OrderBy("name", firestore.Asc).OrderBy(firestore.DocumentID, firestore.Asc)
		if cursorID != "" {
			q = q.StartAfter(cursorName, cursorID)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Product]{}, err
	}

	page := domain.CursorPage[domain.Product]{}
	for i, doc := range docs {
		if i >= pageSize {
			last := docs[pageSize-1]
			page.NextPageToken = encodeTextCursor(last.Data.Name, last.ID)
			break
		}
		page.Items = append(page.Items, decodeProduct(doc.ID, doc.Data))
	}
	return page, nil
}

// GetProduct loads a single product by ID.
func (r *CatalogRepository) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.products == nil {
		return domain.Product{}, errors.New("catalog repository not initialised")
	}
	doc, err := r.products.Get(ctx, strings.TrimSpace(productID))
	if err != nil {
		return domain.Product{}, err
	}
	return decodeProduct(doc.ID, doc.Data), nil
}

// GetProducts loads the referenced products, omitting IDs that do not
// resolve. Missing entries are the caller's zero-price fallback signal.
func (r *CatalogRepository) GetProducts(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	if r == nil || r.products == nil {
		return nil, errors.New("catalog repository not initialised")
	}

	out := make(map[string]domain.Product, len(productIDs))
	seen := make(map[string]struct{}, len(productIDs))
	for _, id := range productIDs {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" {
			continue
		}
		if _, dup := seen[trimmed]; dup {
			continue
		}
		seen[trimmed] = struct{}{}

		doc, err := r.products.Get(ctx, trimmed)
		if err != nil {
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				continue
			}
			return nil, err
		}
		out[trimmed] = decodeProduct(doc.ID, doc.Data)
	}
	return out, nil
}

// ListCategories returns the active categories in display order.
func (r *CatalogRepository) ListCategories(ctx context.Context) ([]domain.Category, error) {
	if r == nil || r.categories == nil {
		return nil, errors.New("catalog repository not initialised")
	}

	docs, err := r.categories.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("isActive", "==", true).OrderBy("sortOrder", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.Category, 0, len(docs))
	for _, doc := range docs {
		out = append(out, domain.Category{
			ID:          doc.ID,
			Slug:        doc.Data.Slug,
			Name:        doc.Data.Name,
			Description: doc.Data.Description,
			IsActive:    doc.Data.IsActive,
			SortOrder:   doc.Data.SortOrder,
		})
	}
	return out, nil
}

// GetProductFlavors loads the enabled flavor set for each referenced product.
func (r *CatalogRepository) GetProductFlavors(ctx context.Context, productIDs []string) (map[string]map[string]domain.ProductFlavor, error) {
	if r == nil || r.flavors == nil {
		return nil, errors.New("catalog repository not initialised")
	}

	out := make(map[string]map[string]domain.ProductFlavor, len(productIDs))
	for _, id := range productIDs {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" {
			continue
		}
		if _, dup := out[trimmed]; dup {
			continue
		}

		docs, err := r.flavors.Query(ctx, func(q firestore.Query) firestore.Query {
			return q.Where("productId", "==", trimmed)
		})
		if err != nil {
			return nil, err
		}

		byFlavor := make(map[string]domain.ProductFlavor, len(docs))
		for _, doc := range docs {
			pf := domain.ProductFlavor{
				ProductID:     doc.Data.ProductID,
				FlavorID:      doc.Data.FlavorID,
				PriceModifier: doc.Data.PriceModifier,
				IsAvailable:   doc.Data.IsAvailable,
			}
			byFlavor[pf.FlavorID] = pf
		}
		out[trimmed] = byFlavor
	}
	return out, nil
}

// GetCustomizations loads the referenced customization options, omitting IDs
// that do not resolve.
func (r *CatalogRepository) GetCustomizations(ctx context.Context, optionIDs []string) (map[string]domain.CustomizationOption, error) {
	if r == nil || r.customizations == nil {
		return nil, errors.New("catalog repository not initialised")
	}

	out := make(map[string]domain.CustomizationOption, len(optionIDs))
	for _, id := range optionIDs {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" {
			continue
		}
		if _, dup := out[trimmed]; dup {
			continue
		}

		doc, err := r.customizations.Get(ctx, trimmed)
		if err != nil {
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				continue
			}
			return nil, err
		}
		out[trimmed] = domain.CustomizationOption{
			ID:            doc.ID,
			Name:          doc.Data.Name,
			Type:          domain.CustomizationType(doc.Data.Type),
			Price:         doc.Data.Price,
			MaxSelections: doc.Data.MaxSelections,
			IsAvailable:   doc.Data.IsAvailable,
		}
	}
	return out, nil
}

func decodeProduct(id string, doc productDocument) domain.Product {
	product := domain.Product{
		ID:               id,
		Slug:             doc.Slug,
		Name:             doc.Name,
		Description:      doc.Description,
		CategoryID:       doc.CategoryID,
		BasePrice:        doc.BasePrice,
		Currency:         strings.ToUpper(strings.TrimSpace(doc.Currency)),
		IsActive:         doc.IsActive,
		IsFeatured:       doc.IsFeatured,
		MinOrderQuantity: doc.MinOrderQuantity,
		MaxOrderQuantity: doc.MaxOrderQuantity,
		StockQuantity:    doc.StockQuantity,
		ImagePath:        doc.ImagePath,
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
	}
	if doc.SalePrice != nil {
		sale := *doc.SalePrice
		product.SalePrice = &sale
	}
	return product
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)
