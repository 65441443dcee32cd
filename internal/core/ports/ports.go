package ports

import (
	"context"
	"time"

	"github.com/thushan/olla-link/internal/core/domain"
)

// ServiceResolver asks an orchestrator where a named service lives. Resolvers
// that do not apply to the current environment return (nil, nil).
type ServiceResolver interface {
	Name() string
	ResolveService(ctx context.Context, service string) ([]string, error)
}

// CandidateResolver builds the ordered candidate list for one discovery run
type CandidateResolver interface {
	Resolve(ctx context.Context) ([]domain.Candidate, error)
	IsExplicit() bool
}

// HealthValidator probes candidates and checks required capabilities
type HealthValidator interface {
	Validate(ctx context.Context, candidate domain.Candidate, timeout time.Duration, required []string) (*domain.ValidationResult, error)
	SelectHealthy(ctx context.Context, candidates []domain.Candidate, required []string) (*domain.ValidationResult, error)
}

// CapabilityRemediator installs, refreshes and removes models on a backend.
// Operations never return errors, failures are reported in the result.
type CapabilityRemediator interface {
	List(ctx context.Context, baseURL string) ([]domain.CapabilityDescriptor, error)
	EnsureInstalled(ctx context.Context, baseURL, identifier string) domain.OperationResult
	Refresh(ctx context.Context, baseURL, identifier string) domain.OperationResult
	Remove(ctx context.Context, baseURL, identifier string) domain.OperationResult
}

// CapabilityCache memoises introspection per endpoint. Failures are misses.
type CapabilityCache interface {
	Get(endpointURL string) ([]domain.CapabilityDescriptor, bool)
	Put(endpointURL string, capabilities []domain.CapabilityDescriptor) error
	Invalidate(endpointURL string)
}
