package services

import (
	"context"
	"errors"

	"github.com/oiy-sale/api/internal/repositories"
)

// SystemServiceDeps bundles collaborators required to construct a system
// service.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
}

type systemService struct {
	healthRepo repositories.HealthRepository
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the service backing liveness and readiness
// probes.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	return &systemService{healthRepo: deps.HealthRepository}, nil
}

func (s *systemService) Healthz(ctx context.Context) error {
	if ctx == nil {
		return errors.New("system service: context is required")
	}
	return s.healthRepo.Check(ctx)
}
