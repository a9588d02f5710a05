//go:build integration

package tenant_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"nexus/internal/tenant/models"
	"nexus/internal/tenant/store/tenant"
	id "nexus/pkg/domain"
	"nexus/pkg/platform/sentinel"
	"nexus/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *tenant.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = tenant.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "outbox", "transfer_requests", "residents", "households", "accounts", "tenant_members", "tenants")
	s.Require().NoError(err)
}

func newTestTenant(name string) *models.Tenant {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.Tenant{
		ID:        id.TenantID(uuid.New()),
		Name:      name,
		Status:    models.TenantStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TestConcurrentUniqueNameViolation verifies that concurrent creation attempts
// with the same name result in exactly one success.
func (s *PostgresStoreSuite) TestConcurrentUniqueNameViolation() {
	ctx := context.Background()
	tenantName := "Concurrent Test Tenant " + uuid.NewString()
	const goroutines = 20

	var wg sync.WaitGroup
	var successCount atomic.Int32
	var conflictCount atomic.Int32

	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.store.CreateIfNameAvailable(ctx, newTestTenant(tenantName))
			if err == nil {
				successCount.Add(1)
			} else if errors.Is(err, sentinel.ErrConflict) {
				conflictCount.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), successCount.Load(), "exactly one create should succeed")
	s.Equal(int32(goroutines-1), conflictCount.Load(), "all others should get conflict error")
}

func (s *PostgresStoreSuite) TestCaseInsensitiveLookup() {
	ctx := context.Background()
	t1 := newTestTenant("CaseTest")
	s.Require().NoError(s.store.CreateIfNameAvailable(ctx, t1))

	err := s.store.CreateIfNameAvailable(ctx, newTestTenant(strings.ToUpper("CaseTest")))
	s.ErrorIs(err, sentinel.ErrConflict)

	found, err := s.store.FindByName(ctx, "casetest")
	s.Require().NoError(err)
	s.Equal(t1.ID, found.ID)
	s.Equal(t1.CreatedAt, found.CreatedAt.UTC())
}

func (s *PostgresStoreSuite) TestMembership() {
	ctx := context.Background()
	t1 := newTestTenant("Members")
	s.Require().NoError(s.store.CreateIfNameAvailable(ctx, t1))
	actor := id.ActorID(uuid.New())

	ok, err := s.store.IsMember(ctx, actor, t1.ID)
	s.Require().NoError(err)
	s.False(ok)

	s.Require().NoError(s.store.AddMember(ctx, models.Membership{ActorID: actor, TenantID: t1.ID}))
	s.Require().NoError(s.store.AddMember(ctx, models.Membership{ActorID: actor, TenantID: t1.ID}))

	ok, err = s.store.IsMember(ctx, actor, t1.ID)
	s.Require().NoError(err)
	s.True(ok)
}

func (s *PostgresStoreSuite) TestListActiveAndUpdate() {
	ctx := context.Background()
	a := newTestTenant("Alpha")
	b := newTestTenant("Bravo")
	s.Require().NoError(s.store.CreateIfNameAvailable(ctx, a))
	s.Require().NoError(s.store.CreateIfNameAvailable(ctx, b))

	b.Status = models.TenantStatusInactive
	s.Require().NoError(s.store.Update(ctx, b))

	list, err := s.store.ListActive(ctx)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal(a.ID, list[0].ID)
}
