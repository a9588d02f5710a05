// Package executor re-parents the records a transfer request references.
// It is the only code that changes which tenant owns a record.
package executor

import (
	"context"
	"fmt"

	"nexus/internal/records"
	"nexus/internal/transfer/models"
	id "nexus/pkg/domain"
	txcontext "nexus/pkg/platform/tx"
)

// Reassigner is the record-domain write the in-memory executor delegates to.
type Reassigner interface {
	Reassign(ctx context.Context, kind records.Kind, ids []string, source, destination id.TenantID) ([]string, error)
}

// InMemory executes transfers against an in-process record store.
type InMemory struct {
	records Reassigner
	runner  txcontext.Runner
}

func NewInMemory(recs Reassigner, runner txcontext.Runner) *InMemory {
	return &InMemory{records: recs, runner: runner}
}

// Execute moves every item from source to destination in one unit of work.
// Items not owned by source abort the whole move with a
// *models.PartialValidationError.
func (e *InMemory) Execute(ctx context.Context, dataType models.DataType, itemIDs []string, source, destination id.TenantID) error {
	return e.runner.RunInTx(ctx, func(txCtx context.Context) error {
		offending, err := e.records.Reassign(txCtx, records.Kind(dataType), itemIDs, source, destination)
		if err != nil {
			return fmt.Errorf("reassign %s records: %w", dataType, err)
		}
		if len(offending) > 0 {
			return &models.PartialValidationError{ItemIDs: offending}
		}
		return nil
	})
}
