package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	domain "github.com/oakmart/api/internal/domain"
	"github.com/oakmart/api/internal/platform/config"
	"github.com/oakmart/api/internal/repositories"
	"github.com/oakmart/api/internal/services"

	"github.com/oklog/ulid/v2"
)

// Services bundles the service-layer contracts that handlers rely upon.
// Concrete implementations are assembled via dependency injection in
// NewContainer.
type Services struct {
	Stock         services.StockService
	Orders        services.OrderService
	Notifications services.NotificationService
	Storefront    services.StorefrontService
}

// Deps carries the externally constructed collaborators the container wires
// into services. Registry and Payments are required; the rest degrade to
// reduced functionality when absent.
type Deps struct {
	Config   config.Config
	Registry repositories.Registry
	Catalog  services.CatalogGateway
	Users    services.UserDirectory
	Mail     services.MailTransport
	Events   services.OrderEventPublisher
	Payments services.PaymentOrchestrator
	Logger   *zap.Logger
	Clock    func() time.Time
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies.
func NewContainer(ctx context.Context, deps Deps) (*Container, error) {
	if deps.Registry == nil {
		return nil, errors.New("di: repositories registry is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("di: payment orchestrator is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("di: catalog gateway is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	stockSvc, err := services.NewStockService(services.StockServiceDeps{
		Stock:  deps.Registry.Stock(),
		Clock:  clock,
		Logger: serviceLogger(logger.Named("stock")),
	})
	if err != nil {
		return nil, fmt.Errorf("di: build stock service: %w", err)
	}

	notificationSvc, err := services.NewNotificationService(services.NotificationServiceDeps{
		Mail:         deps.Mail,
		FromAddress:  deps.Config.Mail.FromAddress,
		ReplyTo:      deps.Config.Mail.ReplyTo,
		BCC:          deps.Config.Mail.BCCAuditors,
		DisableSends: deps.Config.Mail.DisableSends,
		Clock:        clock,
		Logger:       serviceLogger(logger.Named("notifications")),
	})
	if err != nil {
		return nil, fmt.Errorf("di: build notification service: %w", err)
	}

	revenueStatuses, err := parseRevenueStatuses(deps.Config.Payments.RevenueStatuses)
	if err != nil {
		return nil, err
	}

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:          deps.Registry.Orders(),
		Catalog:         deps.Catalog,
		Users:           deps.Users,
		Notifications:   notificationSvc,
		Events:          deps.Events,
		RevenueStatuses: revenueStatuses,
		DefaultCurrency: deps.Config.Payments.DefaultCurrency,
		Clock:           clock,
		IDGenerator: func() string {
			return ulid.Make().String()
		},
		Logger: serviceLogger(logger.Named("orders")),
	})
	if err != nil {
		return nil, fmt.Errorf("di: build order service: %w", err)
	}

	storefrontSvc, err := services.NewStorefrontService(services.StorefrontServiceDeps{
		Orders:        orderSvc,
		Payments:      deps.Payments,
		Notifications: notificationSvc,
		Clock:         clock,
		Logger:        serviceLogger(logger.Named("storefront")),
	})
	if err != nil {
		return nil, fmt.Errorf("di: build storefront service: %w", err)
	}

	return &Container{
		Config:       deps.Config,
		Repositories: deps.Registry,
		Services: Services{
			Stock:         stockSvc,
			Orders:        orderSvc,
			Notifications: notificationSvc,
			Storefront:    storefrontSvc,
		},
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func parseRevenueStatuses(raw []string) ([]domain.OrderStatus, error) {
	statuses := make([]domain.OrderStatus, 0, len(raw))
	for _, value := range raw {
		status := domain.OrderStatus(value)
		if !domain.ValidOrderStatus(status) {
			return nil, fmt.Errorf("di: unknown revenue status %q", value)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func serviceLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	if logger == nil {
		return nil
	}
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Debug("service log", zFields...)
	}
}
