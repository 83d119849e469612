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

const reviewsCollection = "reviews"

type reviewDocument struct {
	ProductID        string    `firestore:"productId"`
	UserID           string    `firestore:"userId"`
	Rating           int       `firestore:"rating"`
	Title            string    `firestore:"title,omitempty"`
	Comment          string    `firestore:"comment,omitempty"`
	VerifiedPurchase bool      `firestore:"verifiedPurchase"`
	CreatedAt        time.Time `firestore:"createdAt"`
	UpdatedAt        time.Time `firestore:"updatedAt"`
}

// ReviewRepository stores product reviews, one per (user, product) pair.
type ReviewRepository struct {
	provider *pfirestore.Provider
	reviews  *pfirestore.BaseRepository[reviewDocument]
}

// NewReviewRepository constructs a Firestore-backed review repository.
func NewReviewRepository(provider *pfirestore.Provider) (*ReviewRepository, error) {
	if provider == nil {
		return nil, errors.New("review repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[reviewDocument](provider, reviewsCollection, nil, nil)
	return &ReviewRepository{
		provider: provider,
		reviews:  base,
	}, nil
}

// Insert creates the review, failing with a conflict when the user already
// reviewed the product.
func (r *ReviewRepository) Insert(ctx context.Context, review domain.Review) (domain.Review, error) {
	if r == nil || r.reviews == nil {
		return domain.Review{}, errors.New("review repository not initialised")
	}
	id := strings.TrimSpace(review.ID)
	if id == "" {
		return domain.Review{}, errors.New("review repository: review id is required")
	}

	existing, err := r.FindByUserAndProduct(ctx, review.UserID, review.ProductID)
	if err == nil && existing.ID != "" {
		return domain.Review{}, pfirestore.WrapError("reviews.insert", status.Error(codes.AlreadyExists, "review already exists for this product"))
	}

	now := time.Now().UTC()
	doc := reviewDocument{
		ProductID:        strings.TrimSpace(review.ProductID),
		UserID:           strings.TrimSpace(review.UserID),
		Rating:           review.Rating,
		Title:            strings.TrimSpace(review.Title),
		Comment:          strings.TrimSpace(review.Comment),
		VerifiedPurchase: review.VerifiedPurchase,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	ref, err := r.reviews.DocumentRef(ctx, id)
	if err != nil {
		return domain.Review{}, err
	}
	if _, err := ref.Create(ctx, doc); err != nil {
		return domain.Review{}, pfirestore.WrapError("reviews.insert", err)
	}

	saved := review
	saved.CreatedAt = now
	saved.UpdatedAt = now
	return saved, nil
}

// FindByID loads a review by document ID.
func (r *ReviewRepository) FindByID(ctx context.Context, reviewID string) (domain.Review, error) {
	if r == nil || r.reviews == nil {
		return domain.Review{}, errors.New("review repository not initialised")
	}
	doc, err := r.reviews.Get(ctx, strings.TrimSpace(reviewID))
	if err != nil {
		return domain.Review{}, err
	}
	return decodeReview(doc.ID, doc.Data), nil
}

// FindByUserAndProduct enforces the one-review-per-product rule.
func (r *ReviewRepository) FindByUserAndProduct(ctx context.Context, userID string, productID string) (domain.Review, error) {
	if r == nil || r.reviews == nil {
		return domain.Review{}, errors.New("review repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	pid := strings.TrimSpace(productID)
	if uid == "" || pid == "" {
		return domain.Review{}, errors.New("review repository: user id and product id are required")
	}

	docs, err := r.reviews.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("userId", "==", uid).Where("productId", "==", pid).Limit(1)
	})
	if err != nil {
		return domain.Review{}, err
	}
	if len(docs) == 0 {
		return domain.Review{}, pfirestore.WrapError("reviews.findByUserAndProduct", status.Error(codes.NotFound, "review not found"))
	}
	return decodeReview(docs[0].ID, docs[0].Data), nil
}

// ListByProduct returns reviews for a product, newest first.
func (r *ReviewRepository) ListByProduct(ctx context.Context, productID string, pager domain.Pagination) (domain.CursorPage[domain.Review], error) {
	if r == nil || r.reviews == nil {
		return domain.CursorPage[domain.Review]{}, errors.New("review repository not initialised")
	}
	pid := strings.TrimSpace(productID)
	if pid == "" {
		return domain.CursorPage[domain.Review]{}, errors.New("review repository: product id is required")
	}

	pageSize := pager.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	cursorAt, cursorID, err := decodeTimeCursor(pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Review]{}, err
	}

	docs, err := r.reviews.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("productId", "==", pid).OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if cursorID != "" {
			q = q.StartAfter(cursorAt, cursorID)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Review]{}, err
	}

	page := domain.CursorPage[domain.Review]{}
	for i, doc := range docs {
		if i >= pageSize {
			last := docs[pageSize-1]
			page.NextPageToken = encodeTimeCursor(last.Data.CreatedAt, last.ID)
			break
		}
		page.Items = append(page.Items, decodeReview(doc.ID, doc.Data))
	}
	return page, nil
}

// Delete removes the review document.
func (r *ReviewRepository) Delete(ctx context.Context, reviewID string) error {
	if r == nil || r.reviews == nil {
		return errors.New("review repository not initialised")
	}
	id := strings.TrimSpace(reviewID)
	if id == "" {
		return errors.New("review repository: review id is required")
	}

	ref, err := r.reviews.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return pfirestore.WrapError("reviews.delete", err)
	}
	return nil
}

func decodeReview(id string, doc reviewDocument) domain.Review {
	return domain.Review{
		ID:               id,
		ProductID:        doc.ProductID,
		UserID:           doc.UserID,
		Rating:           doc.Rating,
		Title:            doc.Title,
		Comment:          doc.Comment,
		VerifiedPurchase: doc.VerifiedPurchase,
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
	}
}

var _ repositories.ReviewRepository = (*ReviewRepository)(nil)
