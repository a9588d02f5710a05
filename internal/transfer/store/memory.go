package store

import (
	"context"
	"sort"
	"sync"

	"nexus/internal/transfer/models"
	id "nexus/pkg/domain"
	"nexus/pkg/platform/sentinel"
	txcontext "nexus/pkg/platform/tx"
)

type entry struct {
	seq uint64
	req *models.TransferRequest
}

// InMemory keeps transfer requests in process memory. Inside a
// tx.ShardedRunner transaction, Create and ConditionalUpdate stage their
// write and hold the request until the transaction ends: readers keep seeing
// the committed request, and other writers of the same request wait. A
// transaction writes a given request at most once.
type InMemory struct {
	mu       sync.RWMutex
	released *sync.Cond
	seq      uint64
	requests map[id.TransferID]*entry
	held     map[id.TransferID]struct{}
}

func NewInMemory() *InMemory {
	s := &InMemory{
		requests: make(map[id.TransferID]*entry),
		held:     make(map[id.TransferID]struct{}),
	}
	s.released = sync.NewCond(&s.mu)
	return s
}

func (s *InMemory) Create(ctx context.Context, req *models.TransferRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waitReleased(req.ID)
	if _, exists := s.requests[req.ID]; exists {
		return sentinel.ErrConflict
	}

	stored := req.Clone()
	insert := func() {
		s.seq++
		s.requests[stored.ID] = &entry{seq: s.seq, req: stored}
	}
	s.stage(ctx, stored.ID, insert)
	return nil
}

func (s *InMemory) FindByID(_ context.Context, requestID id.TransferID) (*models.TransferRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.requests[requestID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return e.req.Clone(), nil
}

// ListIncoming returns requests addressed to tenant, newest first.
func (s *InMemory) ListIncoming(_ context.Context, tenant id.TenantID) ([]*models.TransferRequest, error) {
	return s.list(func(r *models.TransferRequest) bool { return r.DestinationTenant == tenant }), nil
}

// ListOutgoing returns requests raised by tenant, newest first.
func (s *InMemory) ListOutgoing(_ context.Context, tenant id.TenantID) ([]*models.TransferRequest, error) {
	return s.list(func(r *models.TransferRequest) bool { return r.SourceTenant == tenant }), nil
}

func (s *InMemory) list(match func(*models.TransferRequest) bool) []*models.TransferRequest {
	s.mu.RLock()
	matched := make([]*entry, 0)
	for _, e := range s.requests {
		if match(e.req) {
			matched = append(matched, e)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.req.CreatedAt.Equal(b.req.CreatedAt) {
			return a.req.CreatedAt.After(b.req.CreatedAt)
		}
		return a.seq > b.seq
	})
	out := make([]*models.TransferRequest, 0, len(matched))
	for _, e := range matched {
		out = append(out, e.req.Clone())
	}
	return out
}

// ConditionalUpdate applies changes only when the stored request matches
// expected. The check and the write happen under one lock; inside a
// transaction the write becomes visible on commit.
func (s *InMemory) ConditionalUpdate(ctx context.Context, requestID id.TransferID, expected models.Condition, changes models.Changes) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waitReleased(requestID)
	e, ok := s.requests[requestID]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	if !expected.Matches(e.req) {
		return false, nil
	}

	next := e.req.Clone()
	changes.Apply(next)
	s.stage(ctx, requestID, func() {
		if cur, ok := s.requests[requestID]; ok {
			cur.req = next
		}
	})
	return true, nil
}

// waitReleased blocks until no open transaction holds requestID. Callers
// hold s.mu.
func (s *InMemory) waitReleased(requestID id.TransferID) {
	for {
		if _, busy := s.held[requestID]; !busy {
			return
		}
		s.released.Wait()
	}
}

// stage runs write now outside a transaction. Inside one, write runs on
// commit and requestID stays held until the transaction ends either way.
// Callers hold s.mu.
func (s *InMemory) stage(ctx context.Context, requestID id.TransferID, write func()) {
	staged := txcontext.OnCommit(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		write()
		s.release(requestID)
	})
	if !staged {
		write()
		return
	}
	s.held[requestID] = struct{}{}
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.release(requestID)
	})
}

func (s *InMemory) release(requestID id.TransferID) {
	delete(s.held, requestID)
	s.released.Broadcast()
}
