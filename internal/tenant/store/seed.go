package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"nexus/internal/tenant/models"
	id "nexus/pkg/domain"
	"nexus/pkg/platform/sentinel"
)

// Directory is the write side needed to seed tenants.
type Directory interface {
	CreateIfNameAvailable(ctx context.Context, t *models.Tenant) error
	FindByName(ctx context.Context, name string) (*models.Tenant, error)
	AddMember(ctx context.Context, m models.Membership) error
}

// seedNamespace derives stable ids for seeded data so repeated seeding and
// external scripts agree on them.
var seedNamespace = uuid.MustParse("6f1c2a52-8d3e-4b7a-9c41-0e5d2f7a9b13")

// SeedTenantID is the id SeedTenant assigns to a newly created tenant.
func SeedTenantID(name string) id.TenantID {
	return id.TenantID(uuid.NewSHA1(seedNamespace, []byte("tenant:"+strings.ToLower(strings.TrimSpace(name)))))
}

// SeedActorID is a stable actor id for a seeded user handle.
func SeedActorID(handle string) id.ActorID {
	return id.ActorID(uuid.NewSHA1(seedNamespace, []byte("actor:"+strings.ToLower(strings.TrimSpace(handle)))))
}

// SeedTenant creates the named tenant (or reuses an existing one with that
// name) and adds each actor as a member.
func SeedTenant(ctx context.Context, dir Directory, name string, now time.Time, members ...id.ActorID) (*models.Tenant, error) {
	t, err := models.NewTenant(SeedTenantID(name), name, now)
	if err != nil {
		return nil, err
	}
	if err := dir.CreateIfNameAvailable(ctx, t); err != nil {
		if !errors.Is(err, sentinel.ErrConflict) {
			return nil, err
		}
		if t, err = dir.FindByName(ctx, name); err != nil {
			return nil, err
		}
	}
	for _, actor := range members {
		if err := dir.AddMember(ctx, models.Membership{ActorID: actor, TenantID: t.ID}); err != nil {
			return nil, err
		}
	}
	return t, nil
}
