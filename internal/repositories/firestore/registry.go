package firestore

import (
	"context"
	"errors"
	"fmt"

	pfirestore "github.com/caravela/api/internal/platform/firestore"
	"github.com/caravela/api/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the
// repositories.Registry contract.
type Registry struct {
	provider *pfirestore.Provider

	catalog       *CatalogRepository
	carts         *CartRepository
	coupons       *CouponRepository
	orders        *OrderRepository
	paymentEvents *PaymentEventRepository
	loyalty       *LoyaltyRepository
	reviews       *ReviewRepository
	addresses     *AddressRepository
	counters      *CounterRepository
	health        repositories.HealthRepository
}

// NewRegistry constructs all Firestore repositories on a shared provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}

	reg := &Registry{provider: provider}

	var err error
	if reg.catalog, err = NewCatalogRepository(provider); err != nil {
		return nil, fmt.Errorf("build catalog repository: %w", err)
	}
	if reg.carts, err = NewCartRepository(provider); err != nil {
		return nil, fmt.Errorf("build cart repository: %w", err)
	}
	if reg.coupons, err = NewCouponRepository(provider); err != nil {
		return nil, fmt.Errorf("build coupon repository: %w", err)
	}
	if reg.orders, err = NewOrderRepository(provider); err != nil {
		return nil, fmt.Errorf("build order repository: %w", err)
	}
	if reg.paymentEvents, err = NewPaymentEventRepository(provider); err != nil {
		return nil, fmt.Errorf("build payment event repository: %w", err)
	}
	if reg.loyalty, err = NewLoyaltyRepository(provider); err != nil {
		return nil, fmt.Errorf("build loyalty repository: %w", err)
	}
	if reg.reviews, err = NewReviewRepository(provider); err != nil {
		return nil, fmt.Errorf("build review repository: %w", err)
	}
	if reg.addresses, err = NewAddressRepository(provider); err != nil {
		return nil, fmt.Errorf("build address repository: %w", err)
	}
	if reg.counters, err = NewCounterRepository(provider); err != nil {
		return nil, fmt.Errorf("build counter repository: %w", err)
	}

	health, err := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
		{
			Name: "firestore",
			Check: func(ctx context.Context) error {
				_, err := provider.Client(ctx)
				return err
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("build health repository: %w", err)
	}
	reg.health = health

	return reg, nil
}

// Close releases the shared Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

func (r *Registry) Catalog() repositories.CatalogRepository { return r.catalog }

func (r *Registry) Carts() repositories.CartRepository { return r.carts }

func (r *Registry) Coupons() repositories.CouponRepository { return r.coupons }

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) PaymentEvents() repositories.PaymentEventRepository { return r.paymentEvents }

func (r *Registry) Loyalty() repositories.LoyaltyRepository { return r.loyalty }

func (r *Registry) Reviews() repositories.ReviewRepository { return r.reviews }

func (r *Registry) Addresses() repositories.AddressRepository { return r.addresses }

func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

func (r *Registry) Health() repositories.HealthRepository { return r.health }

// RunInTx groups repository calls. Operations that require serialized
// check-and-mutate semantics (coupon redemption, counters, loyalty credits)
// run their own Firestore transactions internally, so the grouping here only
// provides the seam that in-memory registries use for atomic test doubles.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("firestore registry: transaction function is required")
	}
	return fn(ctx)
}

var _ repositories.Registry = (*Registry)(nil)
