package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	domain "github.com/caravela/api/internal/domain"
	"github.com/caravela/api/internal/platform/httpx"
	"github.com/caravela/api/internal/repositories"
	"github.com/caravela/api/internal/services"
)

// LoyaltyHandlers exposes the user scoped loyalty profile endpoint.
type LoyaltyHandlers struct {
	loyalty services.LoyaltyService
}

// NewLoyaltyHandlers constructs loyalty handlers.
func NewLoyaltyHandlers(loyalty services.LoyaltyService) *LoyaltyHandlers {
	return &LoyaltyHandlers{loyalty: loyalty}
}

// Routes registers user scoped endpoints under the /me group.
func (h *LoyaltyHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/loyalty", h.getProfile)
}

type loyaltyProfilePayload struct {
	UserID          string `json:"user_id"`
	Points          int64  `json:"points"`
	Tier            string `json:"tier"`
	DiscountPercent int64  `json:"discount_percent"`
	UpdatedAt       string `json:"updated_at,omitempty"`
}

func (h *LoyaltyHandlers) getProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.loyalty == nil {
		httpx.WriteError(ctx, w, httpx.NewError("loyalty_unavailable", "loyalty service unavailable", http.StatusServiceUnavailable))
		return
	}

	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	profile, err := h.loyalty.GetProfile(ctx, userID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrLoyaltyInvalidInput):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		default:
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsUnavailable() {
				httpx.WriteError(ctx, w, httpx.NewError("loyalty_unavailable", "loyalty storage unavailable", http.StatusServiceUnavailable))
				return
			}
			httpx.WriteError(ctx, w, httpx.NewError("loyalty_error", "failed to load loyalty profile", http.StatusInternalServerError))
		}
		return
	}

	writeJSONResponse(w, http.StatusOK, loyaltyProfilePayload{
		UserID:          profile.UserID,
		Points:          profile.Points,
		Tier:            string(profile.Tier),
		DiscountPercent: domain.TierDiscountPercent(profile.Tier),
		UpdatedAt:       formatTime(profile.UpdatedAt),
	})
}
