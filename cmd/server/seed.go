package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"nexus/internal/records"
	tenantseed "nexus/internal/tenant/store"
	id "nexus/pkg/domain"
)

// demoActor is a seeded user with a ready-made access token.
type demoActor struct {
	Name   string
	Actor  id.ActorID
	Tenant id.TenantID
	Token  string
}

// seedDemo fills the in-memory stores with two tenants, one member each and a
// few records owned by the first. Ids are stable across restarts. It is a
// no-op in postgres mode.
func seedDemo(ctx context.Context, a *app, tokenTTL time.Duration) ([]demoActor, error) {
	if a.memTenants == nil || a.memRecords == nil {
		return nil, nil
	}
	now := time.Now().UTC()
	north := tenantseed.SeedActorID("north-ward-clerk")
	harbor := tenantseed.SeedActorID("harbor-reviewer")

	t1, err := tenantseed.SeedTenant(ctx, a.memTenants, "North Ward", now, north)
	if err != nil {
		return nil, fmt.Errorf("seed tenant: %w", err)
	}
	t2, err := tenantseed.SeedTenant(ctx, a.memTenants, "Harbor District", now, harbor)
	if err != nil {
		return nil, fmt.Errorf("seed tenant: %w", err)
	}

	seed := []struct {
		kind records.Kind
		rec  records.Record
	}{
		{records.KindResident, records.Record{ID: "res-1001", DisplayName: "Ann Lee"}},
		{records.KindResident, records.Record{ID: "res-1002", DisplayName: "Bea Ortiz"}},
		{records.KindHousehold, records.Record{ID: "hh-2001", DisplayName: "14 Quay Street"}},
		{records.KindAccount, records.Record{ID: "acc-3001", DisplayName: "Lee Family Savings"}},
	}
	for _, s := range seed {
		s.rec.TenantID = t1.ID
		if err := a.memRecords.Put(ctx, s.kind, s.rec); err != nil {
			return nil, fmt.Errorf("seed record %s: %w", s.rec.ID, err)
		}
	}

	actors := []demoActor{
		{Name: "north-ward-clerk", Actor: north, Tenant: t1.ID},
		{Name: "harbor-reviewer", Actor: harbor, Tenant: t2.ID},
	}
	for i := range actors {
		token, err := a.jwt.GenerateAccessToken(actors[i].Actor, actors[i].Tenant, tokenTTL)
		if err != nil {
			return nil, fmt.Errorf("issue demo token: %w", err)
		}
		actors[i].Token = token
	}
	return actors, nil
}

func logDemoActors(ctx context.Context, log *slog.Logger, actors []demoActor) {
	for _, a := range actors {
		log.InfoContext(ctx, "demo actor",
			"name", a.Name,
			"actor_id", a.Actor.String(),
			"tenant_id", a.Tenant.String(),
			"token", a.Token,
		)
	}
}
