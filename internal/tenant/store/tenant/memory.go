package tenant

import (
	"context"
	"sort"
	"strings"
	"sync"

	"nexus/internal/tenant/models"
	id "nexus/pkg/domain"
	"nexus/pkg/platform/sentinel"
)

type memberKey struct {
	actor  id.ActorID
	tenant id.TenantID
}

// InMemory is a tenant directory held in process memory.
type InMemory struct {
	mu      sync.RWMutex
	tenants map[id.TenantID]*models.Tenant
	names   map[string]id.TenantID
	members map[memberKey]struct{}
}

func NewInMemory() *InMemory {
	return &InMemory{
		tenants: make(map[id.TenantID]*models.Tenant),
		names:   make(map[string]id.TenantID),
		members: make(map[memberKey]struct{}),
	}
}

// CreateIfNameAvailable inserts t unless a tenant with the same name
// (case-insensitive) already exists.
func (s *InMemory) CreateIfNameAvailable(_ context.Context, t *models.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(t.Name)
	if _, taken := s.names[key]; taken {
		return sentinel.ErrConflict
	}
	if _, exists := s.tenants[t.ID]; exists {
		return sentinel.ErrConflict
	}
	cp := *t
	s.tenants[t.ID] = &cp
	s.names[key] = t.ID
	return nil
}

func (s *InMemory) FindByID(_ context.Context, tenantID id.TenantID) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *InMemory) FindByName(_ context.Context, name string) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tenantID, ok := s.names[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *s.tenants[tenantID]
	return &cp, nil
}

// ListActive returns active tenants ordered by name.
func (s *InMemory) ListActive(_ context.Context) ([]*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Tenant, 0, len(s.tenants))
	for _, t := range s.tenants {
		if t.IsActive() {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, nil
}

// Update replaces a stored tenant.
func (s *InMemory) Update(_ context.Context, t *models.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tenants[t.ID]; !ok {
		return sentinel.ErrNotFound
	}
	cp := *t
	s.tenants[t.ID] = &cp
	return nil
}

// AddMember grants actor the right to act in tenant. Adding twice is a no-op.
func (s *InMemory) AddMember(_ context.Context, m models.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tenants[m.TenantID]; !ok {
		return sentinel.ErrNotFound
	}
	s.members[memberKey{actor: m.ActorID, tenant: m.TenantID}] = struct{}{}
	return nil
}

func (s *InMemory) IsMember(_ context.Context, actorID id.ActorID, tenantID id.TenantID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.members[memberKey{actor: actorID, tenant: tenantID}]
	return ok, nil
}
