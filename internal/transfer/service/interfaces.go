package service

import (
	"context"

	"nexus/internal/notify"
	tenantmodels "nexus/internal/tenant/models"
	"nexus/internal/transfer/models"
	id "nexus/pkg/domain"
	"nexus/pkg/platform/audit"
)

// Store persists transfer requests. ConditionalUpdate is the only way a
// stored request changes.
type Store interface {
	Create(ctx context.Context, req *models.TransferRequest) error
	FindByID(ctx context.Context, requestID id.TransferID) (*models.TransferRequest, error)
	ListIncoming(ctx context.Context, tenant id.TenantID) ([]*models.TransferRequest, error)
	ListOutgoing(ctx context.Context, tenant id.TenantID) ([]*models.TransferRequest, error)
	ConditionalUpdate(ctx context.Context, requestID id.TransferID, expected models.Condition, changes models.Changes) (bool, error)
}

// Executor re-parents records. Implementations join the transaction in ctx.
type Executor interface {
	Execute(ctx context.Context, dataType models.DataType, itemIDs []string, source, destination id.TenantID) error
}

// Describers resolves display names per data type.
type Describers interface {
	Has(dataType models.DataType) bool
	Describe(ctx context.Context, dataType models.DataType, scope id.TenantID, ids []string) ([]models.DisplayItem, error)
}

// TenantDirectory resolves tenants and checks membership.
type TenantDirectory interface {
	Resolve(ctx context.Context, tenantID id.TenantID) (*tenantmodels.Tenant, error)
	RequireMember(ctx context.Context, actorID id.ActorID, tenantID id.TenantID) error
}

// AuditPublisher records audit events.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Notifier signals tenants that their request lists changed. It never fails.
type Notifier interface {
	Notify(ctx context.Context, requestID id.TransferID, reason notify.Reason, tenants ...id.TenantID)
}
