package records

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	id "nexus/pkg/domain"
	txcontext "nexus/pkg/platform/tx"
)

// PostgresStore reads and seeds record domains in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Put inserts or replaces a record.
func (s *PostgresStore) Put(ctx context.Context, kind Kind, rec Record) error {
	table, err := TableFor(kind)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		INSERT INTO %[1]s (id, tenant_id, %[2]s)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET tenant_id = EXCLUDED.tenant_id, %[2]s = EXCLUDED.%[2]s
	`, table.Name, table.DisplayColumn)
	if _, err := s.execer(ctx).ExecContext(ctx, query, rec.ID, rec.TenantID.String(), rec.DisplayName); err != nil {
		return fmt.Errorf("upsert %s: %w", kind, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, kind Kind, recordID string) error {
	table, err := TableFor(kind)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table.Name)
	if _, err := s.execer(ctx).ExecContext(ctx, query, recordID); err != nil {
		return fmt.Errorf("delete %s: %w", kind, err)
	}
	return nil
}

// FindOwned returns the requested records that tenant currently owns.
func (s *PostgresStore) FindOwned(ctx context.Context, kind Kind, tenant id.TenantID, ids []string) ([]Record, error) {
	table, err := TableFor(kind)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT id, tenant_id, %s
		FROM %s
		WHERE tenant_id = $1 AND id = ANY($2)
	`, table.DisplayColumn, table.Name)
	rows, err := s.execer(ctx).QueryContext(ctx, query, tenant.String(), pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("find %s records: %w", kind, err)
	}
	defer rows.Close()

	out := make([]Record, 0, len(ids))
	for rows.Next() {
		var (
			rec       Record
			rawTenant string
		)
		if err := rows.Scan(&rec.ID, &rawTenant, &rec.DisplayName); err != nil {
			return nil, fmt.Errorf("scan %s record: %w", kind, err)
		}
		u, err := uuid.Parse(rawTenant)
		if err != nil {
			return nil, fmt.Errorf("parse tenant id: %w", err)
		}
		rec.TenantID = id.TenantID(u)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s records: %w", kind, err)
	}
	return out, nil
}
