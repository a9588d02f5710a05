package tenant

import (
	"log/slog"

	"nexus/internal/tenant/handler"
	"nexus/internal/tenant/service"
)

// Service exposes tenant resolution and membership checks.
type Service = service.Service

// Handler wires HTTP endpoints to the tenant service.
type Handler = handler.Handler

// NewService constructs the tenant service with required dependencies.
func NewService(tenants service.TenantStore, opts ...service.Option) (*Service, error) {
	return service.New(tenants, opts...)
}

// NewHandler constructs an HTTP handler for the read-only directory routes.
func NewHandler(s *Service, logger *slog.Logger) *Handler {
	return handler.New(s, logger)
}
