package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	id "nexus/pkg/domain"
	audit "nexus/pkg/platform/audit"
	txcontext "nexus/pkg/platform/tx"

	"github.com/google/uuid"
)

// AggregateType tags outbox rows written by this store.
const AggregateType = "transfer_request"

// Store implements audit.Store using the transactional outbox pattern.
// Events are written to the outbox table and published to Kafka by the outbox relay.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL audit store that writes to the outbox.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Payload is the JSON document stored in the outbox and published to Kafka.
type Payload struct {
	ID        string            `json:"id"`
	Category  string            `json:"category"`
	Timestamp time.Time         `json:"timestamp"`
	TenantID  string            `json:"tenant_id,omitempty"`
	Subject   string            `json:"subject"`
	Action    string            `json:"action"`
	ActorID   string            `json:"actor_id,omitempty"`
	Decision  string            `json:"decision,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// Event converts the payload back into an audit.Event.
func (p Payload) Event() audit.Event {
	event := audit.Event{
		Category:  audit.EventCategory(p.Category),
		Timestamp: p.Timestamp,
		Subject:   p.Subject,
		Action:    p.Action,
		ActorID:   p.ActorID,
		Decision:  p.Decision,
		Reason:    p.Reason,
		RequestID: p.RequestID,
		Details:   p.Details,
	}
	if tenantID, err := id.ParseTenantID(p.TenantID); err == nil {
		event.TenantID = tenantID
	}
	return event
}

// Append writes an audit event to the outbox table, joining the transaction in ctx.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	eventID := uuid.New()

	// Always derive category from action - eventCategories map is the source of truth
	category := audit.AuditEvent(event.Action).Category()

	payload := Payload{
		ID:        eventID.String(),
		Category:  string(category),
		Timestamp: event.Timestamp.UTC(),
		Subject:   event.Subject,
		Action:    event.Action,
		ActorID:   event.ActorID,
		Decision:  event.Decision,
		Reason:    event.Reason,
		RequestID: event.RequestID,
		Details:   event.Details,
	}
	if !event.TenantID.IsNil() {
		payload.TenantID = event.TenantID.String()
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	query := `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		eventID,
		AggregateType,
		event.Subject,
		event.Action,
		payloadBytes,
		event.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// ListBySubject returns the events recorded for one aggregate, oldest first.
func (s *Store) ListBySubject(ctx context.Context, subject string) ([]audit.Event, error) {
	query := `
		SELECT payload
		FROM outbox
		WHERE aggregate_type = $1 AND aggregate_id = $2
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, AggregateType, subject)
	if err != nil {
		return nil, fmt.Errorf("query outbox events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		var payload Payload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("decode outbox event: %w", err)
		}
		events = append(events, payload.Event())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox events: %w", err)
	}
	return events, nil
}
