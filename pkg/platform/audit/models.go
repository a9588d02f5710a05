package audit

import (
	"context"
	"time"

	id "nexus/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies and routing downstream.
type EventCategory string

const (
	// CategoryCompliance covers ownership changes of records. These require
	// long retention.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers failed or refused attempts worth alerting on.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine workflow activity.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	// TenantID is the tenant the actor was acting in.
	TenantID id.TenantID
	// Subject identifies the aggregate the event is about (a transfer request id).
	Subject   string
	Action    string
	ActorID   string
	Decision  string
	Reason    string
	RequestID string
	// Details carries small action-specific attributes (source/destination
	// tenant, data type, item count, offending item ids).
	Details map[string]string
}

type AuditEvent string

const (
	EventTransferCreated          AuditEvent = "transfer_created"
	EventTransferReviewerAssigned AuditEvent = "transfer_reviewer_assigned"
	EventTransferAccepted         AuditEvent = "transfer_accepted"
	EventTransferRejected         AuditEvent = "transfer_rejected"
	EventTransferFailed           AuditEvent = "transfer_failed"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventTransferAccepted: CategoryCompliance,
	EventTransferRejected: CategoryCompliance,

	EventTransferFailed: CategorySecurity,

	EventTransferCreated:          CategoryOperations,
	EventTransferReviewerAssigned: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events. Implementations must join the transaction
// carried by ctx when one is in progress so an event commits or rolls back
// with the change it describes.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListBySubject(ctx context.Context, subject string) ([]Event, error)
}
