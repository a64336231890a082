package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/api/iterator"

	pfirestore "github.com/oiy-sale/api/internal/platform/firestore"
	"github.com/oiy-sale/api/internal/repositories"
)

// Registry wires the Firestore-backed repositories behind the
// repositories.Registry contract.
type Registry struct {
	provider    *pfirestore.Provider
	catalog     *CatalogRepository
	orders      *OrderRepository
	idempotency *IdempotencyRepository
	payments    *PaymentRepository
	shipments   *ShipmentRepository
	teams       *TeamRepository
	auditLogs   *AuditLogRepository
	health      repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore provider is required")
	}

	catalog, err := NewCatalogRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build catalog repository: %w", err)
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build order repository: %w", err)
	}
	idempotency, err := NewIdempotencyRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build idempotency repository: %w", err)
	}
	payments, err := NewPaymentRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build payment repository: %w", err)
	}
	shipments, err := NewShipmentRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build shipment repository: %w", err)
	}
	teams, err := NewTeamRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build team repository: %w", err)
	}
	auditLogs, err := NewAuditLogRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build audit log repository: %w", err)
	}
	health, err := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
		{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				client, err := provider.Client(ctx)
				if err != nil {
					return err
				}
				iter := client.Collections(ctx)
				_, err = iter.Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("build health repository: %w", err)
	}

	return &Registry{
		provider:    provider,
		catalog:     catalog,
		orders:      orders,
		idempotency: idempotency,
		payments:    payments,
		shipments:   shipments,
		teams:       teams,
		auditLogs:   auditLogs,
		health:      health,
	}, nil
}

func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

func (r *Registry) Catalog() repositories.CatalogRepository         { return r.catalog }
func (r *Registry) Orders() repositories.OrderRepository            { return r.orders }
func (r *Registry) Idempotency() repositories.IdempotencyRepository { return r.idempotency }
func (r *Registry) Payments() repositories.PaymentRepository        { return r.payments }
func (r *Registry) Shipments() repositories.ShipmentRepository      { return r.shipments }
func (r *Registry) Teams() repositories.TeamRepository              { return r.teams }
func (r *Registry) AuditLogs() repositories.AuditLogRepository      { return r.auditLogs }
func (r *Registry) Health() repositories.HealthRepository           { return r.health }
