// Package domain holds the typed identifiers shared across modules. Distinct
// types keep a tenant id from being passed where an actor id is expected.
package domain

import (
	"github.com/google/uuid"

	dErrors "nexus/pkg/domain-errors"
)

// TenantID identifies an organizational tenant that owns a partition of records.
type TenantID uuid.UUID

// ActorID identifies a person acting on behalf of a tenant.
type ActorID uuid.UUID

// TransferID identifies a transfer request.
type TransferID uuid.UUID

func (id TenantID) String() string   { return uuid.UUID(id).String() }
func (id ActorID) String() string    { return uuid.UUID(id).String() }
func (id TransferID) String() string { return uuid.UUID(id).String() }

func (id TenantID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id ActorID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id TransferID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

func (id TenantID) MarshalText() ([]byte, error)   { return uuid.UUID(id).MarshalText() }
func (id ActorID) MarshalText() ([]byte, error)    { return uuid.UUID(id).MarshalText() }
func (id TransferID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *TenantID) UnmarshalText(b []byte) error   { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *ActorID) UnmarshalText(b []byte) error    { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *TransferID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }

// NewTransferID returns a fresh random transfer id.
func NewTransferID() TransferID {
	return TransferID(uuid.New())
}

// ParseTenantID parses a non-nil tenant id.
func ParseTenantID(s string) (TenantID, error) {
	u, err := parseUUID(s, "tenant_id")
	return TenantID(u), err
}

// ParseActorID parses a non-nil actor id.
func ParseActorID(s string) (ActorID, error) {
	u, err := parseUUID(s, "actor_id")
	return ActorID(u), err
}

// ParseTransferID parses a non-nil transfer id.
func ParseTransferID(s string) (TransferID, error) {
	u, err := parseUUID(s, "transfer_id")
	return TransferID(u), err
}

func parseUUID(s, field string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" must be a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" must not be nil")
	}
	return u, nil
}
