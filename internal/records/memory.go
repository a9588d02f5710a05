package records

import (
	"context"
	"fmt"
	"sort"
	"sync"

	id "nexus/pkg/domain"
	"nexus/pkg/platform/sentinel"
	txcontext "nexus/pkg/platform/tx"
)

// InMemory holds every record domain in process memory behind one lock.
// A reassignment inside a tx.ShardedRunner transaction holds its records
// until the transaction ends and applies the new owner on commit, the way a
// row lock would: readers see the committed owner, and a second
// reassignment of any of those records waits.
type InMemory struct {
	mu       sync.RWMutex
	released *sync.Cond
	rows     map[Kind]map[string]Record
	held     map[heldKey]struct{}
}

type heldKey struct {
	kind Kind
	id   string
}

func NewInMemory() *InMemory {
	rows := make(map[Kind]map[string]Record, len(tables))
	for kind := range tables {
		rows[kind] = make(map[string]Record)
	}
	s := &InMemory{rows: rows, held: make(map[heldKey]struct{})}
	s.released = sync.NewCond(&s.mu)
	return s
}

func (s *InMemory) domain(kind Kind) (map[string]Record, error) {
	rows, ok := s.rows[kind]
	if !ok {
		return nil, fmt.Errorf("unknown record kind %q: %w", kind, sentinel.ErrNotFound)
	}
	return rows, nil
}

// Put inserts or replaces a record.
func (s *InMemory) Put(_ context.Context, kind Kind, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.domain(kind)
	if err != nil {
		return err
	}
	rows[rec.ID] = rec
	return nil
}

// Delete removes a record. Deleting a missing record is not an error.
func (s *InMemory) Delete(_ context.Context, kind Kind, recordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.domain(kind)
	if err != nil {
		return err
	}
	delete(rows, recordID)
	return nil
}

func (s *InMemory) Get(_ context.Context, kind Kind, recordID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.domain(kind)
	if err != nil {
		return Record{}, err
	}
	rec, ok := rows[recordID]
	if !ok {
		return Record{}, sentinel.ErrNotFound
	}
	return rec, nil
}

// ListByTenant returns records owned by tenant ordered by id.
func (s *InMemory) ListByTenant(_ context.Context, kind Kind, tenant id.TenantID) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.domain(kind)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0)
	for _, rec := range rows {
		if rec.TenantID == tenant {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// FindOwned returns the requested records that tenant currently owns.
// Records owned by other tenants are invisible, matching row-level scoping.
func (s *InMemory) FindOwned(_ context.Context, kind Kind, tenant id.TenantID, ids []string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.domain(kind)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(ids))
	for _, recordID := range ids {
		if rec, ok := rows[recordID]; ok && rec.TenantID == tenant {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Reassign moves every id from source to destination, or none of them.
// It returns the ids not currently owned by source, in request order, and
// writes nothing when that list is non-empty. Inside a transaction the move
// is applied when the transaction commits.
func (s *InMemory) Reassign(ctx context.Context, kind Kind, ids []string, source, destination id.TenantID) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.domain(kind)
	if err != nil {
		return nil, err
	}
	s.waitReleased(kind, ids)

	var offending []string
	for _, recordID := range ids {
		rec, ok := rows[recordID]
		if !ok || rec.TenantID != source {
			offending = append(offending, recordID)
		}
	}
	if len(offending) > 0 {
		return offending, nil
	}

	moved := append([]string(nil), ids...)
	move := func() {
		for _, recordID := range moved {
			if rec, ok := rows[recordID]; ok {
				rec.TenantID = destination
				rows[recordID] = rec
			}
		}
	}
	staged := txcontext.OnCommit(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		move()
		s.release(kind, moved)
	})
	if !staged {
		move()
		return nil, nil
	}
	for _, recordID := range moved {
		s.held[heldKey{kind: kind, id: recordID}] = struct{}{}
	}
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.release(kind, moved)
	})
	return nil, nil
}

// waitReleased blocks until no open transaction holds any of ids. Callers
// hold s.mu.
func (s *InMemory) waitReleased(kind Kind, ids []string) {
	for s.anyHeld(kind, ids) {
		s.released.Wait()
	}
}

func (s *InMemory) anyHeld(kind Kind, ids []string) bool {
	for _, recordID := range ids {
		if _, ok := s.held[heldKey{kind: kind, id: recordID}]; ok {
			return true
		}
	}
	return false
}

func (s *InMemory) release(kind Kind, ids []string) {
	for _, recordID := range ids {
		delete(s.held, heldKey{kind: kind, id: recordID})
	}
	s.released.Broadcast()
}
