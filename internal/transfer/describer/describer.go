// Package describer turns record ids into display names. One Describer is
// registered per data type; results are scoped to the viewing tenant and may
// be shorter than the ids asked for.
package describer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"nexus/internal/records"
	"nexus/internal/transfer/models"
	id "nexus/pkg/domain"
)

// ErrUnknownDataType is returned for data types with no registered describer.
var ErrUnknownDataType = errors.New("no describer registered for data type")

// Describer resolves display fields for ids visible to scope.
type Describer interface {
	Describe(ctx context.Context, scope id.TenantID, ids []string) ([]models.DisplayItem, error)
}

// Func adapts a function to Describer.
type Func func(ctx context.Context, scope id.TenantID, ids []string) ([]models.DisplayItem, error)

func (f Func) Describe(ctx context.Context, scope id.TenantID, ids []string) ([]models.DisplayItem, error) {
	return f(ctx, scope, ids)
}

// Registry selects a Describer by data type.
type Registry struct {
	mu         sync.RWMutex
	describers map[models.DataType]Describer
}

func NewRegistry() *Registry {
	return &Registry{describers: make(map[models.DataType]Describer)}
}

// Register installs d for dataType, replacing any previous describer.
func (r *Registry) Register(dataType models.DataType, d Describer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.describers[dataType] = d
}

// Has reports whether dataType can be described.
func (r *Registry) Has(dataType models.DataType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.describers[dataType]
	return ok
}

// Types lists the registered data types in name order.
func (r *Registry) Types() []models.DataType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.DataType, 0, len(r.describers))
	for dt := range r.describers {
		out = append(out, dt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) Describe(ctx context.Context, dataType models.DataType, scope id.TenantID, ids []string) ([]models.DisplayItem, error) {
	r.mu.RLock()
	d, ok := r.describers[dataType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDataType, dataType)
	}
	if len(ids) == 0 {
		return []models.DisplayItem{}, nil
	}
	return d.Describe(ctx, scope, ids)
}

// RecordFinder reads records a tenant owns.
type RecordFinder interface {
	FindOwned(ctx context.Context, kind records.Kind, tenant id.TenantID, ids []string) ([]records.Record, error)
}

// Records describes ids from a record store. Records owned by other tenants
// are left out.
type Records struct {
	kind   records.Kind
	finder RecordFinder
}

func NewRecords(kind records.Kind, finder RecordFinder) *Records {
	return &Records{kind: kind, finder: finder}
}

func (d *Records) Describe(ctx context.Context, scope id.TenantID, ids []string) ([]models.DisplayItem, error) {
	recs, err := d.finder.FindOwned(ctx, d.kind, scope, ids)
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", d.kind, err)
	}
	out := make([]models.DisplayItem, 0, len(recs))
	for _, rec := range recs {
		out = append(out, models.DisplayItem{ID: rec.ID, DisplayName: rec.DisplayName})
	}
	return out, nil
}

// RegisterRecords installs a Records describer for every record domain.
func RegisterRecords(r *Registry, finder RecordFinder) {
	for _, kind := range records.Kinds() {
		r.Register(models.DataType(kind), NewRecords(kind, finder))
	}
}
