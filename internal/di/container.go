package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/caravela/api/internal/payments"
	"github.com/caravela/api/internal/platform/config"
	"github.com/caravela/api/internal/platform/requestctx"
	"github.com/caravela/api/internal/repositories"
	"github.com/caravela/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Catalog  services.CatalogService
	Cart     services.CartService
	Coupons  services.CouponService
	Checkout services.CheckoutService
	Orders   services.OrderService
	Payments services.PaymentService
	Loyalty  services.LoyaltyService
	Reviews  services.ReviewService
	System   services.SystemService
}

// Deps carries the externally constructed collaborators the container wires
// into services. The payment manager and event publisher are built in main
// because their lifecycles (PSP credentials, Pub/Sub topics) belong there.
type Deps struct {
	Config       config.Config
	Repositories repositories.Registry
	Payments     *payments.Manager
	// Events is optional; when unset, order lifecycle events are not published.
	Events services.OrderEventPublisher
	Build  services.BuildInfo
	Clock  func() time.Time
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides
// the Firestore registry and Stripe-backed payment manager, while tests can
// supply in-memory registries and stub providers.
func NewContainer(deps Deps) (*Container, error) {
	if deps.Repositories == nil {
		return nil, errors.New("repositories registry is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("payment manager is required")
	}

	svc, err := buildServices(deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       deps.Config,
		Repositories: deps.Repositories,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients or background workers.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(deps Deps) (Services, error) {
	var svc Services

	reg := deps.Repositories
	cfg := deps.Config
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logEvent := serviceEventLogger()

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Catalog: reg.Catalog(),
		Clock:   clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	pricer, err := services.NewCartPricingEngine(services.CartPricingEngineDeps{
		Shipping: services.ShippingPolicy{
			FreeThreshold: cfg.Pricing.FreeShippingThreshold,
			FlatRate:      cfg.Pricing.FlatShippingRate,
		},
		Currency: cfg.Pricing.Currency,
		Now:      clock,
		Logger:   logEvent,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing engine: %w", err)
	}

	// Coupon and review services are always assembled; feature flags only gate
	// the public routes so the admin surface keeps working when a flag is off.
	couponSvc, err := services.NewCouponService(services.CouponServiceDeps{
		Coupons: reg.Coupons(),
		Clock:   clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build coupon service: %w", err)
	}
	svc.Coupons = couponSvc

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Repository: reg.Carts(),
		Catalog:    svc.Catalog,
		Pricer:     pricer,
		Coupons:    svc.Coupons,
		Clock:      clock,
		Logger:     logEvent,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cartSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     reg.Orders(),
		Counters:   reg.Counters(),
		Catalog:    svc.Catalog,
		UnitOfWork: reg,
		Clock:      clock,
		Events:     deps.Events,
		Logger:     logEvent,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	if cfg.Loyalty.Enabled {
		loyaltySvc, err := services.NewLoyaltyService(services.LoyaltyServiceDeps{
			Loyalty:       reg.Loyalty(),
			PointsDivisor: cfg.Loyalty.PointsDivisor,
			Clock:         clock,
			Logger:        logEvent,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build loyalty service: %w", err)
		}
		svc.Loyalty = loyaltySvc
	}

	checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Carts:     reg.Carts(),
		Catalog:   svc.Catalog,
		Pricer:    pricer,
		Orders:    svc.Orders,
		Payments:  deps.Payments,
		Addresses: reg.Addresses(),
		Clock:     clock,
		Logger:    logEvent,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkoutSvc

	paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
		Gateway: deps.Payments,
		Events:  reg.PaymentEvents(),
		Orders:  svc.Orders,
		Loyalty: svc.Loyalty,
		Clock:   clock,
		Logger:  logEvent,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment service: %w", err)
	}
	svc.Payments = paymentSvc

	reviewSvc, err := services.NewReviewService(services.ReviewServiceDeps{
		Reviews: reg.Reviews(),
		Orders:  reg.Orders(),
		Catalog: svc.Catalog,
		Clock:   clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build review service: %w", err)
	}
	svc.Reviews = reviewSvc

	systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
		Health:   reg.Health(),
		Counters: reg.Counters(),
		Clock:    clock,
		Build:    deps.Build,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	svc.System = systemSvc

	return svc, nil
}

// serviceEventLogger adapts the request-scoped zap logger to the event
// callback shape the services accept.
func serviceEventLogger() func(context.Context, string, map[string]any) {
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := requestctx.Logger(ctx)
		zapFields := make([]zap.Field, 0, len(fields))
		for key, value := range fields {
			zapFields = append(zapFields, zap.Any(key, value))
		}
		logger.Info(event, zapFields...)
	}
}
