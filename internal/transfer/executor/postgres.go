package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"nexus/internal/records"
	"nexus/internal/transfer/models"
	id "nexus/pkg/domain"
	txcontext "nexus/pkg/platform/tx"
)

// ErrConcurrentModification means the update touched fewer rows than were
// locked and validated, which only a writer bypassing row locks can cause.
var ErrConcurrentModification = errors.New("records changed during transfer")

// Postgres executes transfers against the record tables.
type Postgres struct {
	runner txcontext.Runner
}

// NewPostgres takes the runner whose transaction Execute joins or opens.
func NewPostgres(runner txcontext.Runner) *Postgres {
	return &Postgres{runner: runner}
}

func (e *Postgres) Execute(ctx context.Context, dataType models.DataType, itemIDs []string, source, destination id.TenantID) error {
	table, err := records.TableFor(records.Kind(dataType))
	if err != nil {
		return err
	}
	return e.runner.RunInTx(ctx, func(txCtx context.Context) error {
		tx, ok := txcontext.From(txCtx)
		if !ok {
			return fmt.Errorf("transfer executor requires a sql transaction")
		}

		owners, err := lockOwners(txCtx, tx, table, itemIDs)
		if err != nil {
			return err
		}
		var offending []string
		for _, itemID := range itemIDs {
			if owner, ok := owners[itemID]; !ok || owner != source.String() {
				offending = append(offending, itemID)
			}
		}
		if len(offending) > 0 {
			return &models.PartialValidationError{ItemIDs: offending}
		}

		query := fmt.Sprintf(`UPDATE %s SET tenant_id = $1 WHERE id = ANY($2) AND tenant_id = $3`, table.Name)
		res, err := tx.ExecContext(txCtx, query, destination.String(), pq.Array(itemIDs), source.String())
		if err != nil {
			return fmt.Errorf("reassign %s: %w", table.Name, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("reassign %s rows affected: %w", table.Name, err)
		}
		if affected != int64(len(itemIDs)) {
			return fmt.Errorf("reassign %s: updated %d of %d rows: %w", table.Name, affected, len(itemIDs), ErrConcurrentModification)
		}
		return nil
	})
}

// lockOwners takes row locks in id order so two transfers touching the same
// rows cannot deadlock.
func lockOwners(ctx context.Context, tx *sql.Tx, table records.Table, itemIDs []string) (map[string]string, error) {
	query := fmt.Sprintf(`SELECT id, tenant_id FROM %s WHERE id = ANY($1) ORDER BY id FOR UPDATE`, table.Name)
	rows, err := tx.QueryContext(ctx, query, pq.Array(itemIDs))
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", table.Name, err)
	}
	defer rows.Close()

	owners := make(map[string]string, len(itemIDs))
	for rows.Next() {
		var itemID, owner string
		if err := rows.Scan(&itemID, &owner); err != nil {
			return nil, fmt.Errorf("scan %s owner: %w", table.Name, err)
		}
		owners[itemID] = owner
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s owners: %w", table.Name, err)
	}
	return owners, nil
}
