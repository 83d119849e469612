package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	domain "github.com/caravela/api/internal/domain"
	"github.com/caravela/api/internal/platform/pagination"
	"github.com/caravela/api/internal/repositories"
)

var (
	// ErrCatalogRepositoryMissing indicates the repository dependency is absent.
	ErrCatalogRepositoryMissing = errors.New("catalog service: repository is not configured")
	// ErrCatalogInvalidInput indicates the caller supplied invalid lookup arguments.
	ErrCatalogInvalidInput = errors.New("catalog service: invalid input")
	// ErrCatalogProductNotFound indicates no active product exists for the ID.
	ErrCatalogProductNotFound = errors.New("catalog service: product not found")
)

// CatalogServiceDeps bundles constructor inputs for the catalog service.
type CatalogServiceDeps struct {
	Catalog repositories.CatalogRepository
	Clock   func() time.Time
}

type catalogService struct {
	repo  repositories.CatalogRepository
	clock func() time.Time
}

var _ CatalogService = (*catalogService)(nil)

// NewCatalogService constructs the catalog service with the supplied dependencies.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Catalog == nil {
		return nil, ErrCatalogRepositoryMissing
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &catalogService{
		repo:  deps.Catalog,
		clock: func() time.Time { return clock().UTC() },
	}, nil
}

func (s *catalogService) ListProducts(ctx context.Context, filter ProductFilter) (domain.CursorPage[Product], error) {
	repoFilter := repositories.ProductFilter{
		CategoryID: normalizeFilterPointer(filter.CategoryID),
		Featured:   normalizeBoolPointer(filter.Featured),
		ActiveOnly: filter.ActiveOnly,
		Pagination: domain.Pagination{
			PageSize:  filter.Pagination.PageSize,
			PageToken: strings.TrimSpace(filter.Pagination.PageToken),
		},
	}
	page, err := s.repo.ListProducts(ctx, repoFilter)
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidPageToken) {
			return domain.CursorPage[Product]{}, fmt.Errorf("%w: invalid page token", ErrCatalogInvalidInput)
		}
		return domain.CursorPage[Product]{}, err
	}
	return page, nil
}

func (s *catalogService) GetProduct(ctx context.Context, productID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return Product{}, ErrCatalogProductNotFound
		}
		return Product{}, err
	}
	if !product.IsActive {
		return Product{}, ErrCatalogProductNotFound
	}
	return product, nil
}

func (s *catalogService) ListCategories(ctx context.Context) ([]Category, error) {
	categories, err := s.repo.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	active := make([]Category, 0, len(categories))
	for _, category := range categories {
		if category.IsActive {
			active = append(active, category)
		}
	}
	sort.SliceStable(active, func(i, j int) bool { return active[i].SortOrder < active[j].SortOrder })
	return active, nil
}

// Snapshot loads the price data for the referenced products and customization
// options in one pass. References that no longer resolve are simply absent
// from the snapshot; the pricing engine treats them as missing.
func (s *catalogService) Snapshot(ctx context.Context, refs SnapshotRefs) (CatalogSnapshot, error) {
	productIDs := dedupeRefs(refs.ProductIDs)
	optionIDs := dedupeRefs(refs.CustomizationID)

	snapshot := CatalogSnapshot{
		Products:       map[string]Product{},
		FlavorPricing:  map[string]map[string]ProductFlavor{},
		Customizations: map[string]CustomizationOption{},
		TakenAt:        s.clock(),
	}

	if len(productIDs) > 0 {
		products, err := s.repo.GetProducts(ctx, productIDs)
		if err != nil {
			return CatalogSnapshot{}, fmt.Errorf("snapshot products: %w", err)
		}
		snapshot.Products = products

		flavors, err := s.repo.GetProductFlavors(ctx, productIDs)
		if err != nil {
			return CatalogSnapshot{}, fmt.Errorf("snapshot flavors: %w", err)
		}
		snapshot.FlavorPricing = flavors
	}

	if len(optionIDs) > 0 {
		options, err := s.repo.GetCustomizations(ctx, optionIDs)
		if err != nil {
			return CatalogSnapshot{}, fmt.Errorf("snapshot customizations: %w", err)
		}
		snapshot.Customizations = options
	}

	return snapshot, nil
}

// SnapshotRefsForCart derives the reference set a cart pricing pass needs.
func SnapshotRefsForCart(cart Cart) SnapshotRefs {
	refs := SnapshotRefs{}
	for _, item := range cart.Items {
		refs.ProductIDs = append(refs.ProductIDs, item.ProductID)
		for _, sel := range item.Customizations {
			refs.CustomizationID = append(refs.CustomizationID, sel.OptionID)
		}
	}
	return refs
}

func dedupeRefs(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	var result []string
	for _, id := range ids {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}

func normalizeFilterPointer(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func normalizeBoolPointer(value *bool) *bool {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}
