package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"nexus/internal/tenant/models"
	id "nexus/pkg/domain"
	dErrors "nexus/pkg/domain-errors"
	"nexus/pkg/platform/httputil"
	"nexus/pkg/requestcontext"
)

// Service is the read-only tenant directory used by the transfer UI to pick
// and label tenants.
type Service interface {
	Resolve(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error)
	ListActive(ctx context.Context) ([]*models.Tenant, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts tenant directory endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/tenants", h.HandleList)
	r.Get("/tenants/{id}", h.HandleGet)
}

// TenantResponse is the public view of a tenant.
type TenantResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

func toResponse(t *models.Tenant) TenantResponse {
	return TenantResponse{ID: t.ID.String(), Name: t.Name, Status: string(t.Status)}
}

// HandleList handles GET /tenants.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenants, err := h.service.ListActive(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list tenants",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	out := make([]TenantResponse, 0, len(tenants))
	for _, t := range tenants {
		out = append(out, toResponse(t))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"tenants": out})
}

// HandleGet handles GET /tenants/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, err := id.ParseTenantID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid tenant id"))
		return
	}
	tenant, err := h.service.Resolve(ctx, tenantID)
	if err != nil {
		if !dErrors.HasCode(err, dErrors.CodeNotFound) {
			h.logger.ErrorContext(ctx, "failed to resolve tenant",
				"request_id", requestcontext.RequestID(ctx),
				"tenant_id", tenantID.String(),
				"error", err,
			)
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(tenant))
}
