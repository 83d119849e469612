package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/caravela/api/internal/domain"
)

func newLoyaltyTestRouter(loyalty *stubLoyaltyService) chi.Router {
	router := chi.NewRouter()
	router.Route("/me", NewLoyaltyHandlers(loyalty).Routes)
	return router
}

func TestGetLoyaltyProfile(t *testing.T) {
	loyalty := &stubLoyaltyService{
		getProfile: func(_ context.Context, userID string) (domain.LoyaltyProfile, error) {
			return domain.LoyaltyProfile{
				UserID:    userID,
				Points:    620,
				Tier:      domain.LoyaltyTierGold,
				UpdatedAt: handlerTestNow,
			}, nil
		},
	}
	router := newLoyaltyTestRouter(loyalty)

	req := httptest.NewRequest(http.MethodGet, "/me/loyalty", nil)
	req.Header.Set(userIDHeader, "user-1")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var body loyaltyProfilePayload
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body.UserID != "user-1" || body.Points != 620 || body.Tier != "gold" {
		t.Fatalf("unexpected profile %+v", body)
	}
	if body.DiscountPercent != 10 {
		t.Fatalf("expected gold discount 10, got %d", body.DiscountPercent)
	}
}

func TestGetLoyaltyProfileRequiresIdentity(t *testing.T) {
	router := newLoyaltyTestRouter(&stubLoyaltyService{})

	req := httptest.NewRequest(http.MethodGet, "/me/loyalty", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}
