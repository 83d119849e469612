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
	maxReviewBodySize = 32 * 1024
	maxReviewPageSize = 50
)

// ReviewHandlers exposes product review endpoints. Listing is public;
// creating and deleting require a caller identity.
type ReviewHandlers struct {
	reviews services.ReviewService
}

// NewReviewHandlers constructs review handlers.
func NewReviewHandlers(reviews services.ReviewService) *ReviewHandlers {
	return &ReviewHandlers{reviews: reviews}
}

// Routes registers review endpoints against the API root. They live under
// the /products prefix next to the catalog routes.
func (h *ReviewHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/products/{productID}/reviews", h.listReviews)
	r.Post("/products/{productID}/reviews", h.createReview)
	r.Delete("/reviews/{reviewID}", h.deleteReview)
}

type createReviewRequest struct {
	Rating  int    `json:"rating"`
	Title   string `json:"title"`
	Comment string `json:"comment"`
}

type reviewPayload struct {
	ID               string `json:"id"`
	ProductID        string `json:"product_id"`
	UserID           string `json:"user_id"`
	Rating           int    `json:"rating"`
	Title            string `json:"title,omitempty"`
	Comment          string `json:"comment"`
	VerifiedPurchase bool   `json:"verified_purchase"`
	CreatedAt        string `json:"created_at,omitempty"`
	UpdatedAt        string `json:"updated_at,omitempty"`
}

type reviewListResponse struct {
	Reviews       []reviewPayload `json:"reviews"`
	NextPageToken string          `json:"next_page_token,omitempty"`
}

func (h *ReviewHandlers) listReviews(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reviews == nil {
		writeReviewUnavailable(ctx, w)
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	page, err := h.reviews.ListByProduct(ctx, services.ListProductReviewsCommand{
		ProductID:  productID,
		Pagination: paginationFromQuery(r, maxReviewPageSize),
	})
	if err != nil {
		writeReviewError(ctx, w, err)
		return
	}

	response := reviewListResponse{
		Reviews:       make([]reviewPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, review := range page.Items {
		response.Reviews = append(response.Reviews, buildReviewPayload(review))
	}

	writeJSONResponse(w, http.StatusOK, response)
}

func (h *ReviewHandlers) createReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reviews == nil {
		writeReviewUnavailable(ctx, w)
		return
	}

	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxReviewBodySize)
	if err != nil {
		writeBodyError(w, r, err)
		return
	}
	if len(body) == 0 {
		writeBodyError(w, r, errEmptyBody)
		return
	}

	var req createReviewRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	review, err := h.reviews.Create(ctx, services.CreateReviewCommand{
		ProductID: strings.TrimSpace(chi.URLParam(r, "productID")),
		UserID:    userID,
		Rating:    req.Rating,
		Title:     req.Title,
		Comment:   req.Comment,
	})
	if err != nil {
		writeReviewError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, buildReviewPayload(review))
}

func (h *ReviewHandlers) deleteReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reviews == nil {
		writeReviewUnavailable(ctx, w)
		return
	}

	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	err := h.reviews.Delete(ctx, services.DeleteReviewCommand{
		ReviewID: strings.TrimSpace(chi.URLParam(r, "reviewID")),
		ActorID:  userID,
	})
	if err != nil {
		writeReviewError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func buildReviewPayload(review domain.Review) reviewPayload {
	return reviewPayload{
		ID:               review.ID,
		ProductID:        review.ProductID,
		UserID:           review.UserID,
		Rating:           review.Rating,
		Title:            review.Title,
		Comment:          review.Comment,
		VerifiedPurchase: review.VerifiedPurchase,
		CreatedAt:        formatTime(review.CreatedAt),
		UpdatedAt:        formatTime(review.UpdatedAt),
	}
}

func writeReviewUnavailable(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("reviews_unavailable", "review service unavailable", http.StatusServiceUnavailable))
}

func writeReviewError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrReviewInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrReviewUnauthorized):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "insufficient permissions for review", http.StatusForbidden))
	case errors.Is(err, services.ErrReviewConflict):
		httpx.WriteError(ctx, w, httpx.NewError("review_conflict", "a review for this product already exists", http.StatusConflict))
	case errors.Is(err, services.ErrReviewNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("review_not_found", "review not found", http.StatusNotFound))
	default:
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsUnavailable() {
			writeReviewUnavailable(ctx, w)
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("review_error", "failed to process review request", http.StatusInternalServerError))
	}
}
