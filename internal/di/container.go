package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oiy-sale/api/internal/platform/config"
	"github.com/oiy-sale/api/internal/repositories"
	"github.com/oiy-sale/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
// Concrete implementations are assembled via dependency injection in
// NewContainer.
type Services struct {
	Checkout  services.CheckoutService
	Orders    services.OrderService
	Shipments services.ShipmentService
	Audit     services.AuditLogService
	System    services.SystemService
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// ContainerDeps carries the externally constructed collaborators the
// container itself does not own.
type ContainerDeps struct {
	Registry repositories.Registry
	Events   services.OrderEventPublisher
	Logger   func(ctx context.Context, event string, fields map[string]any)
	Clock    func() time.Time
}

// NewContainer constructs the runtime dependencies. Production wiring
// provides a Firestore-backed registry; tests can supply stub registries.
func NewContainer(ctx context.Context, cfg config.Config, deps ContainerDeps) (*Container, error) {
	if deps.Registry == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: deps.Registry,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, cfg config.Config, deps ContainerDeps) (Services, error) {
	var svc Services
	reg := deps.Registry

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	auditSvc, err := services.NewAuditLogService(services.AuditLogServiceDeps{
		Audits: reg.AuditLogs(),
		Clock:  clock,
		Logger: deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build audit log service: %w", err)
	}
	svc.Audit = auditSvc

	checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Catalog:           reg.Catalog(),
		Orders:            reg.Orders(),
		Idempotency:       reg.Idempotency(),
		Audit:             auditSvc,
		Events:            deps.Events,
		Clock:             clock,
		Logger:            deps.Logger,
		OrderCodePrefix:   cfg.Checkout.OrderCodePrefix,
		OrderCodeAttempts: cfg.Checkout.OrderCodeAttempts,
		MaxLines:          cfg.Checkout.MaxLines,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkoutSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:   reg.Orders(),
		Payments: reg.Payments(),
		Audit:    auditSvc,
		Events:   deps.Events,
		Bank: services.BankAccount{
			BIN:         cfg.Payments.BankBIN,
			AccountNo:   cfg.Payments.BankAccountNo,
			AccountName: cfg.Payments.BankAccountName,
		},
		Clock:  clock,
		Logger: deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	shipmentSvc, err := services.NewShipmentService(services.ShipmentServiceDeps{
		Shipments: reg.Shipments(),
		Orders:    reg.Orders(),
		Teams:     reg.Teams(),
		Clock:     clock,
		Logger:    deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build shipment service: %w", err)
	}
	svc.Shipments = shipmentSvc

	systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: reg.Health(),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	svc.System = systemSvc

	return svc, nil
}
