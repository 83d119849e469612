package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/caravela/api/internal/domain"
	pfirestore "github.com/caravela/api/internal/platform/firestore"
	"github.com/caravela/api/internal/repositories"
)

const loyaltyCollection = "loyaltyProfiles"

type loyaltyDocument struct {
	Points    int64     `firestore:"points"`
	Tier      string    `firestore:"tier"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// LoyaltyRepository tracks point balances per user. Increments run in a
// transaction so concurrent credits never lose an update.
type LoyaltyRepository struct {
	provider *pfirestore.Provider
	profiles *pfirestore.BaseRepository[loyaltyDocument]
}

// NewLoyaltyRepository constructs a Firestore-backed loyalty repository.
func NewLoyaltyRepository(provider *pfirestore.Provider) (*LoyaltyRepository, error) {
	if provider == nil {
		return nil, errors.New("loyalty repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[loyaltyDocument](provider, loyaltyCollection, nil, nil)
	return &LoyaltyRepository{
		provider: provider,
		profiles: base,
	}, nil
}

// Get returns the loyalty profile, defaulting to a zero-point bronze profile
// for users without one.
func (r *LoyaltyRepository) Get(ctx context.Context, userID string) (domain.LoyaltyProfile, error) {
	if r == nil || r.profiles == nil {
		return domain.LoyaltyProfile{}, errors.New("loyalty repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.LoyaltyProfile{}, errors.New("loyalty repository: user id is required")
	}

	doc, err := r.profiles.Get(ctx, uid)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.LoyaltyProfile{
				UserID: uid,
				Points: 0,
				Tier:   domain.LoyaltyTierBronze,
			}, nil
		}
		return domain.LoyaltyProfile{}, err
	}

	return domain.LoyaltyProfile{
		UserID:    doc.ID,
		Points:    doc.Data.Points,
		Tier:      domain.LoyaltyTier(doc.Data.Tier),
		UpdatedAt: doc.Data.UpdatedAt,
	}, nil
}

// AddPoints transactionally increments the balance and recomputes the tier.
func (r *LoyaltyRepository) AddPoints(ctx context.Context, userID string, points int64, now time.Time) (domain.LoyaltyProfile, error) {
	if r == nil || r.provider == nil {
		return domain.LoyaltyProfile{}, errors.New("loyalty repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.LoyaltyProfile{}, errors.New("loyalty repository: user id is required")
	}
	if points < 0 {
		return domain.LoyaltyProfile{}, fmt.Errorf("loyalty repository: points must be non-negative, got %d", points)
	}
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	var updated domain.LoyaltyProfile
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.profiles.DocumentRef(ctx, uid)
		if err != nil {
			return err
		}

		var doc loyaltyDocument
		snapshot, err := tx.Get(ref)
		switch status.Code(err) {
		case codes.NotFound:
			// first credit for this user
		case codes.OK:
			if err := snapshot.DataTo(&doc); err != nil {
				return fmt.Errorf("firestore loyalty decode %s: %w", uid, err)
			}
		default:
			return err
		}

		doc.Points += points
		doc.Tier = string(domain.TierForPoints(doc.Points))
		doc.UpdatedAt = now

		if err := tx.Set(ref, doc); err != nil {
			return err
		}

		updated = domain.LoyaltyProfile{
			UserID:    uid,
			Points:    doc.Points,
			Tier:      domain.LoyaltyTier(doc.Tier),
			UpdatedAt: now,
		}
		return nil
	})
	if err != nil {
		return domain.LoyaltyProfile{}, pfirestore.WrapError("loyalty.addPoints", err)
	}
	return updated, nil
}

var _ repositories.LoyaltyRepository = (*LoyaltyRepository)(nil)
