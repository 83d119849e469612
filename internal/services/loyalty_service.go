package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/caravela/api/internal/domain"
	"github.com/caravela/api/internal/repositories"
)

const defaultLoyaltyPointsDivisor = 100

var (
	// ErrLoyaltyRepositoryMissing indicates the loyalty repository dependency is absent.
	ErrLoyaltyRepositoryMissing = errors.New("loyalty service: repository is not configured")
	// ErrLoyaltyInvalidInput signals invalid arguments on a loyalty operation.
	ErrLoyaltyInvalidInput = errors.New("loyalty service: invalid input")
)

// LoyaltyServiceDeps bundles dependencies for the loyalty service.
type LoyaltyServiceDeps struct {
	Loyalty repositories.LoyaltyRepository
	// PointsDivisor converts a paid order total in minor units into points:
	// points = total / divisor, floored.
	PointsDivisor int64
	Clock         func() time.Time
	Logger        func(context.Context, string, map[string]any)
}

type loyaltyService struct {
	repo    repositories.LoyaltyRepository
	divisor int64
	clock   func() time.Time
	logger  func(context.Context, string, map[string]any)
}

var _ LoyaltyService = (*loyaltyService)(nil)

// NewLoyaltyService wires a LoyaltyService backed by the provided repository.
func NewLoyaltyService(deps LoyaltyServiceDeps) (LoyaltyService, error) {
	if deps.Loyalty == nil {
		return nil, ErrLoyaltyRepositoryMissing
	}
	divisor := deps.PointsDivisor
	if divisor == 0 {
		divisor = defaultLoyaltyPointsDivisor
	}
	if divisor < 0 {
		return nil, fmt.Errorf("%w: points divisor must be positive", ErrLoyaltyInvalidInput)
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &loyaltyService{
		repo:    deps.Loyalty,
		divisor: divisor,
		clock:   func() time.Time { return clock().UTC() },
		logger:  logger,
	}, nil
}

// GetProfile returns the loyalty balance for a user. Users who never earned
// points get a fresh bronze profile rather than an error.
func (s *loyaltyService) GetProfile(ctx context.Context, userID string) (LoyaltyProfile, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return LoyaltyProfile{}, fmt.Errorf("%w: user id is required", ErrLoyaltyInvalidInput)
	}

	profile, err := s.repo.Get(ctx, uid)
	if err != nil {
		if isRepoNotFound(err) {
			return LoyaltyProfile{
				UserID: uid,
				Points: 0,
				Tier:   domain.LoyaltyTierBronze,
			}, nil
		}
		return LoyaltyProfile{}, err
	}
	return profile, nil
}

// CreditForOrder converts a paid order total into points and adds them to the
// customer's balance. Orders too small to earn a point leave the profile
// untouched.
func (s *loyaltyService) CreditForOrder(ctx context.Context, order Order) (LoyaltyProfile, error) {
	uid := strings.TrimSpace(order.UserID)
	if uid == "" {
		return LoyaltyProfile{}, fmt.Errorf("%w: order user id is required", ErrLoyaltyInvalidInput)
	}
	if order.Totals.Total < 0 {
		return LoyaltyProfile{}, fmt.Errorf("%w: order total cannot be negative", ErrLoyaltyInvalidInput)
	}

	points := order.Totals.Total / s.divisor
	if points <= 0 {
		return s.GetProfile(ctx, uid)
	}

	profile, err := s.repo.AddPoints(ctx, uid, points, s.clock())
	if err != nil {
		return LoyaltyProfile{}, err
	}

	s.logger(ctx, "loyalty_points_credited", map[string]any{
		"userId":  uid,
		"orderId": order.ID,
		"points":  points,
		"tier":    string(profile.Tier),
	})

	return profile, nil
}
