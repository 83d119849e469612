package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/caravela/api/internal/domain"
)

type reviewStubRepo struct {
	reviews map[string]domain.Review
}

func newReviewStubRepo() *reviewStubRepo {
	return &reviewStubRepo{reviews: map[string]domain.Review{}}
}

func (r *reviewStubRepo) Insert(_ context.Context, review domain.Review) (domain.Review, error) {
	for _, existing := range r.reviews {
		if existing.UserID == review.UserID && existing.ProductID == review.ProductID {
			return domain.Review{}, couponRepoError{conflict: true}
		}
	}
	r.reviews[review.ID] = review
	return review, nil
}

func (r *reviewStubRepo) FindByID(_ context.Context, reviewID string) (domain.Review, error) {
	review, ok := r.reviews[reviewID]
	if !ok {
		return domain.Review{}, couponRepoError{notFound: true}
	}
	return review, nil
}

func (r *reviewStubRepo) FindByUserAndProduct(_ context.Context, userID string, productID string) (domain.Review, error) {
	for _, review := range r.reviews {
		if review.UserID == userID && review.ProductID == productID {
			return review, nil
		}
	}
	return domain.Review{}, couponRepoError{notFound: true}
}

func (r *reviewStubRepo) ListByProduct(_ context.Context, productID string, _ domain.Pagination) (domain.CursorPage[domain.Review], error) {
	page := domain.CursorPage[domain.Review]{}
	for _, review := range r.reviews {
		if review.ProductID == productID {
			page.Items = append(page.Items, review)
		}
	}
	return page, nil
}

func (r *reviewStubRepo) Delete(_ context.Context, reviewID string) error {
	if _, ok := r.reviews[reviewID]; !ok {
		return couponRepoError{notFound: true}
	}
	delete(r.reviews, reviewID)
	return nil
}

func newReviewTestService(t *testing.T, reviews *reviewStubRepo, orders *orderStubRepo) ReviewService {
	t.Helper()
	clock := func() time.Time { return orderTestNow }
	catalog, err := NewCatalogService(CatalogServiceDeps{Catalog: cartCatalogFixture(), Clock: clock})
	if err != nil {
		t.Fatalf("NewCatalogService: %v", err)
	}
	svc, err := NewReviewService(ReviewServiceDeps{
		Reviews:     reviews,
		Orders:      orders,
		Catalog:     catalog,
		Clock:       clock,
		IDGenerator: func() string { return "rev_test" },
	})
	if err != nil {
		t.Fatalf("NewReviewService: %v", err)
	}
	return svc
}

func deliveredConeOrder(userID string) domain.Order {
	return domain.Order{
		ID:     "ord_delivered",
		UserID: userID,
		Status: domain.OrderStatusDelivered,
		Items:  []domain.OrderLineItem{{ProductRef: "prod-cone", Quantity: 1}},
	}
}

func TestCreateReviewSanitizesAndMarksVerifiedPurchase(t *testing.T) {
	reviews := newReviewStubRepo()
	svc := newReviewTestService(t, reviews, newOrderStubRepo(deliveredConeOrder("user-1")))

	review, err := svc.Create(context.Background(), CreateReviewCommand{
		ProductID: "prod-cone",
		UserID:    "user-1",
		Rating:    5,
		Title:     "  Great <script>alert(1)</script>cone  ",
		Comment:   "<b>Creamy</b> and rich.",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if review.Title != "Great cone" {
		t.Fatalf("expected sanitized title, got %q", review.Title)
	}
	if review.Comment != "Creamy and rich." {
		t.Fatalf("expected sanitized comment, got %q", review.Comment)
	}
	if !review.VerifiedPurchase {
		t.Fatalf("expected verified purchase from delivered order")
	}
	if _, ok := reviews.reviews["rev_test"]; !ok {
		t.Fatalf("expected review persisted")
	}
}

func TestCreateReviewWithoutPurchaseIsUnverified(t *testing.T) {
	svc := newReviewTestService(t, newReviewStubRepo(), newOrderStubRepo())

	review, err := svc.Create(context.Background(), CreateReviewCommand{
		ProductID: "prod-cone",
		UserID:    "user-2",
		Rating:    3,
		Comment:   "Good but pricey.",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if review.VerifiedPurchase {
		t.Fatalf("expected unverified review without a delivered order")
	}
}

func TestCreateReviewRejectsDuplicateAndBadInput(t *testing.T) {
	reviews := newReviewStubRepo()
	svc := newReviewTestService(t, reviews, newOrderStubRepo())
	ctx := context.Background()

	cmd := CreateReviewCommand{ProductID: "prod-cone", UserID: "user-1", Rating: 4, Comment: "Lovely."}
	if _, err := svc.Create(ctx, cmd); err != nil {
		t.Fatalf("first review: %v", err)
	}
	if _, err := svc.Create(ctx, cmd); !errors.Is(err, ErrReviewConflict) {
		t.Fatalf("expected ErrReviewConflict for second review, got %v", err)
	}

	bad := cmd
	bad.UserID = "user-3"
	bad.Rating = 6
	if _, err := svc.Create(ctx, bad); !errors.Is(err, ErrReviewInvalidInput) {
		t.Fatalf("expected rejection for rating 6, got %v", err)
	}

	empty := cmd
	empty.UserID = "user-3"
	empty.Comment = "<script>only markup</script>"
	if _, err := svc.Create(ctx, empty); !errors.Is(err, ErrReviewInvalidInput) {
		t.Fatalf("expected rejection when sanitization empties the comment, got %v", err)
	}

	ghost := cmd
	ghost.UserID = "user-3"
	ghost.ProductID = "prod-gone"
	if _, err := svc.Create(ctx, ghost); !errors.Is(err, ErrReviewInvalidInput) {
		t.Fatalf("expected rejection for unknown product, got %v", err)
	}
}

func TestListReviewsByProduct(t *testing.T) {
	reviews := newReviewStubRepo()
	reviews.reviews["rev_1"] = domain.Review{ID: "rev_1", ProductID: "prod-cone", UserID: "user-1", Rating: 5}
	reviews.reviews["rev_2"] = domain.Review{ID: "rev_2", ProductID: "prod-tub", UserID: "user-1", Rating: 2}
	svc := newReviewTestService(t, reviews, newOrderStubRepo())

	page, err := svc.ListByProduct(context.Background(), ListProductReviewsCommand{ProductID: "prod-cone"})
	if err != nil {
		t.Fatalf("ListByProduct: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != "rev_1" {
		t.Fatalf("unexpected page %+v", page.Items)
	}
}

func TestDeleteReviewChecksOwnership(t *testing.T) {
	reviews := newReviewStubRepo()
	reviews.reviews["rev_1"] = domain.Review{ID: "rev_1", ProductID: "prod-cone", UserID: "user-1"}
	svc := newReviewTestService(t, reviews, newOrderStubRepo())
	ctx := context.Background()

	if err := svc.Delete(ctx, DeleteReviewCommand{ReviewID: "rev_1", ActorID: "user-2"}); !errors.Is(err, ErrReviewUnauthorized) {
		t.Fatalf("expected ErrReviewUnauthorized, got %v", err)
	}
	if err := svc.Delete(ctx, DeleteReviewCommand{ReviewID: "rev_1", ActorID: "user-1"}); err != nil {
		t.Fatalf("owner delete: %v", err)
	}
	if err := svc.Delete(ctx, DeleteReviewCommand{ReviewID: "rev_1"}); !errors.Is(err, ErrReviewNotFound) {
		t.Fatalf("expected ErrReviewNotFound after delete, got %v", err)
	}
}
