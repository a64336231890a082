package services

import (
	"context"
	"errors"
	"testing"
)

type stubHealthRepo struct {
	err error
}

func (s *stubHealthRepo) Check(context.Context) error { return s.err }

func TestNewSystemServiceRequiresRepository(t *testing.T) {
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatalf("expected error for missing health repository")
	}
}

func TestSystemServiceHealthz(t *testing.T) {
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: &stubHealthRepo{}})
	if err != nil {
		t.Fatalf("NewSystemService returned error: %v", err)
	}
	if err := svc.Healthz(context.Background()); err != nil {
		t.Fatalf("expected healthy, got %v", err)
	}
}

func TestSystemServiceHealthzPropagatesFailure(t *testing.T) {
	failure := errors.New("firestore unreachable")
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: &stubHealthRepo{err: failure}})
	if err != nil {
		t.Fatalf("NewSystemService returned error: %v", err)
	}
	if err := svc.Healthz(context.Background()); !errors.Is(err, failure) {
		t.Fatalf("expected failure propagated, got %v", err)
	}
}
