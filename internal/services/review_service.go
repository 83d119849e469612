package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/caravela/api/internal/domain"
	"github.com/caravela/api/internal/platform/pagination"
	"github.com/caravela/api/internal/repositories"
)

const reviewIDPrefix = "rev_"

var (
	// ErrReviewInvalidInput indicates validation failures for review operations.
	ErrReviewInvalidInput = errors.New("review service: invalid input")
	// ErrReviewNotFound indicates a review could not be located.
	ErrReviewNotFound = errors.New("review service: not found")
	// ErrReviewUnauthorized indicates the actor does not own the review.
	ErrReviewUnauthorized = errors.New("review service: unauthorized")
	// ErrReviewConflict signals a duplicate submission for the same product.
	ErrReviewConflict = errors.New("review service: conflict")
)

// ReviewServiceDeps bundles collaborators required to construct a ReviewService.
type ReviewServiceDeps struct {
	Reviews repositories.ReviewRepository
	Orders  repositories.OrderRepository
	Catalog CatalogService
	Clock   func() time.Time
	// Sanitizer strips markup from user supplied text. Defaults to
	// bluemonday's strict policy.
	Sanitizer   func(string) string
	IDGenerator func() string
}

type reviewService struct {
	reviews  repositories.ReviewRepository
	orders   repositories.OrderRepository
	catalog  CatalogService
	clock    func() time.Time
	sanitize func(string) string
	newID    func() string
}

var _ ReviewService = (*reviewService)(nil)

// NewReviewService wires dependencies into a concrete ReviewService implementation.
func NewReviewService(deps ReviewServiceDeps) (ReviewService, error) {
	if deps.Reviews == nil {
		return nil, errors.New("review service: review repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("review service: order repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("review service: catalog service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	sanitize := deps.Sanitizer
	if sanitize == nil {
		policy := bluemonday.StrictPolicy()
		sanitize = func(input string) string {
			return strings.TrimSpace(policy.Sanitize(input))
		}
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return reviewIDPrefix + ulid.Make().String() }
	}

	return &reviewService{
		reviews:  deps.Reviews,
		orders:   deps.Orders,
		catalog:  deps.Catalog,
		clock:    func() time.Time { return clock().UTC() },
		sanitize: sanitize,
		newID:    idGen,
	}, nil
}

// Create submits a review for a product the user may or may not have bought.
// One review per user and product; a delivered order containing the product
// marks the review as a verified purchase.
func (s *reviewService) Create(ctx context.Context, cmd CreateReviewCommand) (Review, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	userID := strings.TrimSpace(cmd.UserID)
	if productID == "" || userID == "" {
		return Review{}, fmt.Errorf("%w: product and user ids are required", ErrReviewInvalidInput)
	}
	if cmd.Rating < 1 || cmd.Rating > 5 {
		return Review{}, fmt.Errorf("%w: rating must be between 1 and 5", ErrReviewInvalidInput)
	}
	title := s.sanitize(cmd.Title)
	comment := s.sanitize(cmd.Comment)
	if comment == "" {
		return Review{}, fmt.Errorf("%w: comment is required", ErrReviewInvalidInput)
	}

	if _, err := s.catalog.GetProduct(ctx, productID); err != nil {
		if errors.Is(err, ErrCatalogProductNotFound) {
			return Review{}, fmt.Errorf("%w: product %s is not available", ErrReviewInvalidInput, productID)
		}
		return Review{}, err
	}

	if _, err := s.reviews.FindByUserAndProduct(ctx, userID, productID); err == nil {
		return Review{}, fmt.Errorf("%w: review already exists for product", ErrReviewConflict)
	} else if !isRepoNotFound(err) {
		return Review{}, err
	}

	verified, err := s.hasDeliveredPurchase(ctx, userID, productID)
	if err != nil {
		return Review{}, err
	}

	now := s.clock()
	review := domain.Review{
		ID:               s.newID(),
		ProductID:        productID,
		UserID:           userID,
		Rating:           cmd.Rating,
		Title:            title,
		Comment:          comment,
		VerifiedPurchase: verified,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	created, err := s.reviews.Insert(ctx, review)
	if err != nil {
		return Review{}, s.mapReviewError(err)
	}
	return created, nil
}

func (s *reviewService) ListByProduct(ctx context.Context, cmd ListProductReviewsCommand) (domain.CursorPage[Review], error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return domain.CursorPage[Review]{}, fmt.Errorf("%w: product id is required", ErrReviewInvalidInput)
	}
	page, err := s.reviews.ListByProduct(ctx, productID, cmd.Pagination)
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidPageToken) {
			return domain.CursorPage[Review]{}, fmt.Errorf("%w: invalid page token", ErrReviewInvalidInput)
		}
		return domain.CursorPage[Review]{}, s.mapReviewError(err)
	}
	return page, nil
}

// Delete removes a review. The actor must own it; an empty actor is a
// moderation delete and skips the ownership check.
func (s *reviewService) Delete(ctx context.Context, cmd DeleteReviewCommand) error {
	reviewID := strings.TrimSpace(cmd.ReviewID)
	if reviewID == "" {
		return fmt.Errorf("%w: review id is required", ErrReviewInvalidInput)
	}

	review, err := s.reviews.FindByID(ctx, reviewID)
	if err != nil {
		return s.mapReviewError(err)
	}
	if actor := strings.TrimSpace(cmd.ActorID); actor != "" && actor != review.UserID {
		return ErrReviewUnauthorized
	}

	if err := s.reviews.Delete(ctx, reviewID); err != nil {
		return s.mapReviewError(err)
	}
	return nil
}

// hasDeliveredPurchase reports whether any delivered order of the user
// contains the product.
func (s *reviewService) hasDeliveredPurchase(ctx context.Context, userID, productID string) (bool, error) {
	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		UserID: userID,
		Status: []string{string(domain.OrderStatusDelivered)},
	})
	if err != nil {
		return false, s.mapReviewError(err)
	}
	for _, order := range page.Items {
		if order.Status != domain.OrderStatusDelivered {
			continue
		}
		for _, line := range order.Items {
			if strings.EqualFold(line.ProductRef, productID) {
				return true, nil
			}
		}
	}
	return false, nil
}

func (s *reviewService) mapReviewError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrReviewNotFound
		case repoErr.IsConflict():
			return ErrReviewConflict
		}
	}
	return err
}
