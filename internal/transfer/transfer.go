package transfer

import (
	"log/slog"
	"net/http"

	"nexus/internal/transfer/handler"
	"nexus/internal/transfer/service"
)

// Service coordinates cross-tenant transfer requests.
type Service = service.Service

// Handler wires HTTP endpoints to the transfer service.
type Handler = handler.Handler

// NewService constructs the coordinator with its required collaborators.
func NewService(
	store service.Store,
	executor service.Executor,
	describers service.Describers,
	tenants service.TenantDirectory,
	opts ...service.Option,
) (*Service, error) {
	return service.New(store, executor, describers, tenants, opts...)
}

// NewHandler constructs the HTTP handler. events serves GET /transfers/events.
func NewHandler(s *Service, events http.Handler, logger *slog.Logger) *Handler {
	return handler.New(s, events, logger)
}
