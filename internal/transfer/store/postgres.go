package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"nexus/internal/transfer/models"
	id "nexus/pkg/domain"
	"nexus/pkg/platform/sentinel"
	txcontext "nexus/pkg/platform/tx"
)

const uniqueViolation = "23505"

const selectColumns = `
	id, source_tenant_id, destination_tenant_id, data_type, mode, status,
	initiator_id, reviewer_id, claimed_by, notes, item_ids, item_snapshot,
	created_at, reviewed_at, resolved_at
`

// PostgresStore persists transfer requests in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Create(ctx context.Context, req *models.TransferRequest) error {
	itemIDs, err := json.Marshal(req.ItemIDs)
	if err != nil {
		return fmt.Errorf("marshal item ids: %w", err)
	}
	snapshot, err := json.Marshal(req.ItemSnapshot)
	if err != nil {
		return fmt.Errorf("marshal item snapshot: %w", err)
	}

	query := `
		INSERT INTO transfer_requests (
			id, source_tenant_id, destination_tenant_id, data_type, mode, status,
			initiator_id, reviewer_id, claimed_by, notes, item_ids, item_snapshot,
			created_at, reviewed_at, resolved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		req.ID.String(),
		req.SourceTenant.String(),
		req.DestinationTenant.String(),
		string(req.DataType),
		string(req.Mode),
		string(req.Status),
		req.Initiator.String(),
		nullActor(req.Reviewer),
		nullActor(req.ClaimedBy),
		req.Notes,
		itemIDs,
		snapshot,
		req.CreatedAt.UTC(),
		nullTime(req.ReviewedAt),
		nullTime(req.ResolvedAt),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert transfer request: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, requestID id.TransferID) (*models.TransferRequest, error) {
	query := `SELECT` + selectColumns + `FROM transfer_requests WHERE id = $1`
	rows, err := s.execer(ctx).QueryContext(ctx, query, requestID.String())
	if err != nil {
		return nil, fmt.Errorf("find transfer request: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("find transfer request: %w", err)
		}
		return nil, sentinel.ErrNotFound
	}
	return scanRequest(rows)
}

// ListIncoming returns requests addressed to tenant, newest first.
func (s *PostgresStore) ListIncoming(ctx context.Context, tenant id.TenantID) ([]*models.TransferRequest, error) {
	query := `SELECT` + selectColumns + `FROM transfer_requests
		WHERE destination_tenant_id = $1
		ORDER BY created_at DESC, id DESC`
	return s.list(ctx, query, tenant)
}

// ListOutgoing returns requests raised by tenant, newest first.
func (s *PostgresStore) ListOutgoing(ctx context.Context, tenant id.TenantID) ([]*models.TransferRequest, error) {
	query := `SELECT` + selectColumns + `FROM transfer_requests
		WHERE source_tenant_id = $1
		ORDER BY created_at DESC, id DESC`
	return s.list(ctx, query, tenant)
}

func (s *PostgresStore) list(ctx context.Context, query string, tenant id.TenantID) ([]*models.TransferRequest, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, query, tenant.String())
	if err != nil {
		return nil, fmt.Errorf("list transfer requests: %w", err)
	}
	defer rows.Close()

	out := make([]*models.TransferRequest, 0)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfer requests: %w", err)
	}
	return out, nil
}

// ConditionalUpdate is a compare-and-swap on (status, reviewer). The guard
// lives in the WHERE clause so concurrent callers serialize on the row lock
// and only the first sees an affected row.
func (s *PostgresStore) ConditionalUpdate(ctx context.Context, requestID id.TransferID, expected models.Condition, changes models.Changes) (bool, error) {
	if expected.Status == "" {
		return false, fmt.Errorf("conditional update requires an expected status: %w", sentinel.ErrInvalidState)
	}
	query := `
		UPDATE transfer_requests
		SET status = COALESCE($2, status),
			reviewer_id = COALESCE($3, reviewer_id),
			reviewed_at = COALESCE(reviewed_at, $4),
			resolved_at = COALESCE($5, resolved_at),
			claimed_by = COALESCE(claimed_by, $7)
		WHERE id = $1 AND status = $6
	`
	if expected.ReviewerUnset {
		query += ` AND reviewer_id IS NULL`
	}

	status := sql.NullString{String: string(changes.Status), Valid: changes.Status != ""}
	res, err := s.execer(ctx).ExecContext(ctx, query,
		requestID.String(),
		status,
		nullActor(changes.Reviewer),
		nullTime(changes.ReviewedAt),
		nullTime(changes.ResolvedAt),
		string(expected.Status),
		nullActor(changes.ClaimedBy),
	)
	if err != nil {
		return false, fmt.Errorf("conditional update transfer request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("conditional update rows affected: %w", err)
	}
	if affected > 0 {
		return true, nil
	}

	// Distinguish a missed guard from a missing row.
	var exists bool
	err = s.execer(ctx).QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM transfer_requests WHERE id = $1)`, requestID.String()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check transfer request exists: %w", err)
	}
	if !exists {
		return false, sentinel.ErrNotFound
	}
	return false, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(row scanner) (*models.TransferRequest, error) {
	var (
		rawID, rawSource, rawDest, rawInitiator string
		dataType, mode, status, notes           string
		reviewer, claimedBy                     sql.NullString
		itemIDs, snapshot                       []byte
		createdAt                               time.Time
		reviewedAt, resolvedAt                  sql.NullTime
	)
	if err := row.Scan(
		&rawID, &rawSource, &rawDest, &dataType, &mode, &status,
		&rawInitiator, &reviewer, &claimedBy, &notes, &itemIDs, &snapshot,
		&createdAt, &reviewedAt, &resolvedAt,
	); err != nil {
		return nil, fmt.Errorf("scan transfer request: %w", err)
	}

	req := &models.TransferRequest{
		DataType:  models.DataType(dataType),
		Mode:      models.Mode(mode),
		Status:    models.Status(status),
		Notes:     notes,
		CreatedAt: createdAt,
	}
	var err error
	if req.ID, err = parseTransferID(rawID); err != nil {
		return nil, err
	}
	if req.SourceTenant, err = parseTenantID(rawSource); err != nil {
		return nil, err
	}
	if req.DestinationTenant, err = parseTenantID(rawDest); err != nil {
		return nil, err
	}
	if req.Initiator, err = parseActorID(rawInitiator); err != nil {
		return nil, err
	}
	if reviewer.Valid {
		actor, err := parseActorID(reviewer.String)
		if err != nil {
			return nil, err
		}
		req.Reviewer = &actor
	}
	if claimedBy.Valid {
		actor, err := parseActorID(claimedBy.String)
		if err != nil {
			return nil, err
		}
		req.ClaimedBy = &actor
	}
	if err := json.Unmarshal(itemIDs, &req.ItemIDs); err != nil {
		return nil, fmt.Errorf("decode item ids: %w", err)
	}
	if err := json.Unmarshal(snapshot, &req.ItemSnapshot); err != nil {
		return nil, fmt.Errorf("decode item snapshot: %w", err)
	}
	if reviewedAt.Valid {
		t := reviewedAt.Time
		req.ReviewedAt = &t
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		req.ResolvedAt = &t
	}
	return req, nil
}

func parseTransferID(s string) (id.TransferID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return id.TransferID{}, fmt.Errorf("parse transfer id: %w", err)
	}
	return id.TransferID(u), nil
}

func parseTenantID(s string) (id.TenantID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return id.TenantID{}, fmt.Errorf("parse tenant id: %w", err)
	}
	return id.TenantID(u), nil
}

func parseActorID(s string) (id.ActorID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return id.ActorID{}, fmt.Errorf("parse actor id: %w", err)
	}
	return id.ActorID(u), nil
}

func nullActor(a *id.ActorID) sql.NullString {
	if a == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: a.String(), Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
