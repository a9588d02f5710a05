package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"nexus/internal/tenant/models"
	id "nexus/pkg/domain"
	"nexus/pkg/platform/sentinel"
)

const uniqueViolation = "23505"

// PostgresStore reads the tenant directory from PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateIfNameAvailable(ctx context.Context, t *models.Tenant) error {
	query := `
		INSERT INTO tenants (id, name, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.db.ExecContext(ctx, query, t.ID.String(), t.Name, string(t.Status), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert tenant: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error) {
	query := `SELECT id, name, status, created_at, updated_at FROM tenants WHERE id = $1`
	return s.scanOne(s.db.QueryRowContext(ctx, query, tenantID.String()))
}

func (s *PostgresStore) FindByName(ctx context.Context, name string) (*models.Tenant, error) {
	query := `SELECT id, name, status, created_at, updated_at FROM tenants WHERE lower(name) = lower($1)`
	return s.scanOne(s.db.QueryRowContext(ctx, query, name))
}

func (s *PostgresStore) ListActive(ctx context.Context) ([]*models.Tenant, error) {
	query := `
		SELECT id, name, status, created_at, updated_at
		FROM tenants
		WHERE status = 'active'
		ORDER BY lower(name)
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query tenants: %w", err)
	}
	defer rows.Close()

	var out []*models.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tenants: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Update(ctx context.Context, t *models.Tenant) error {
	query := `UPDATE tenants SET name = $2, status = $3, updated_at = $4 WHERE id = $1`
	res, err := s.db.ExecContext(ctx, query, t.ID.String(), t.Name, string(t.Status), t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update tenant: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update tenant rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AddMember(ctx context.Context, m models.Membership) error {
	query := `
		INSERT INTO tenant_members (actor_id, tenant_id)
		VALUES ($1, $2)
		ON CONFLICT (actor_id, tenant_id) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, m.ActorID.String(), m.TenantID.String()); err != nil {
		return fmt.Errorf("insert tenant member: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsMember(ctx context.Context, actorID id.ActorID, tenantID id.TenantID) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM tenant_members WHERE actor_id = $1 AND tenant_id = $2)`
	var ok bool
	if err := s.db.QueryRowContext(ctx, query, actorID.String(), tenantID.String()).Scan(&ok); err != nil {
		return false, fmt.Errorf("check tenant membership: %w", err)
	}
	return ok, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) scanOne(row *sql.Row) (*models.Tenant, error) {
	t, err := scanTenant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return t, err
}

func scanTenant(row scanner) (*models.Tenant, error) {
	var (
		rawID  string
		status string
		t      models.Tenant
	)
	if err := row.Scan(&rawID, &t.Name, &status, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan tenant: %w", err)
	}
	tenantID, err := id.ParseTenantID(rawID)
	if err != nil {
		return nil, fmt.Errorf("scan tenant id: %w", err)
	}
	t.ID = tenantID
	t.Status = models.TenantStatus(status)
	return &t, nil
}
