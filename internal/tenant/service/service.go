package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	tenantmetrics "nexus/internal/tenant/metrics"
	"nexus/internal/tenant/models"
	id "nexus/pkg/domain"
	dErrors "nexus/pkg/domain-errors"
	"nexus/pkg/platform/sentinel"
)

// TenantStore is the read side of the tenant directory plus membership.
type TenantStore interface {
	FindByID(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error)
	ListActive(ctx context.Context) ([]*models.Tenant, error)
	IsMember(ctx context.Context, actorID id.ActorID, tenantID id.TenantID) (bool, error)
}

// Service resolves tenants and answers membership questions for other modules.
type Service struct {
	tenants TenantStore
	logger  *slog.Logger
	metrics *tenantmetrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *tenantmetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(tenants TenantStore, opts ...Option) (*Service, error) {
	if tenants == nil {
		return nil, errors.New("tenant store is required")
	}
	s := &Service{tenants: tenants, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Resolve returns display metadata for a tenant.
func (s *Service) Resolve(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error) {
	if s.metrics != nil {
		defer s.metrics.ObserveResolve(time.Now())
	}
	if tenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "tenant id required")
	}
	tenant, err := s.tenants.FindByID(ctx, tenantID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "tenant not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load tenant")
	}
	return tenant, nil
}

// ListActive returns the tenants a transfer may currently target.
func (s *Service) ListActive(ctx context.Context) ([]*models.Tenant, error) {
	tenants, err := s.tenants.ListActive(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list tenants")
	}
	return tenants, nil
}

// IsMember reports whether actor may act within tenant.
func (s *Service) IsMember(ctx context.Context, actorID id.ActorID, tenantID id.TenantID) (bool, error) {
	if actorID.IsNil() || tenantID.IsNil() {
		s.countMembership("denied")
		return false, nil
	}
	ok, err := s.tenants.IsMember(ctx, actorID, tenantID)
	if err != nil {
		s.countMembership("error")
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check membership")
	}
	if ok {
		s.countMembership("member")
	} else {
		s.countMembership("denied")
	}
	return ok, nil
}

// RequireMember fails with CodeForbidden unless actor belongs to tenant.
func (s *Service) RequireMember(ctx context.Context, actorID id.ActorID, tenantID id.TenantID) error {
	ok, err := s.IsMember(ctx, actorID, tenantID)
	if err != nil {
		return err
	}
	if !ok {
		s.logger.WarnContext(ctx, "membership check denied",
			"actor_id", actorID.String(),
			"tenant_id", tenantID.String(),
		)
		return dErrors.New(dErrors.CodeForbidden, "actor is not a member of the tenant")
	}
	return nil
}

func (s *Service) countMembership(outcome string) {
	if s.metrics != nil {
		s.metrics.IncMembershipCheck(outcome)
	}
}
