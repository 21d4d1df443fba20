package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/foliohq/folio-api/internal/audit"
)

// AuditRepository persists audit events in the append-only
// audit_events table. It implements the audit.Store port.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository constructs an AuditRepository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

type auditEventRow struct {
	ID           string    `db:"id"`
	Timestamp    time.Time `db:"timestamp"`
	ActorID      *int64    `db:"actor_id"`
	ActorType    string    `db:"actor_type"`
	ActorEmail   *string   `db:"actor_email"`
	ActorIP      *string   `db:"actor_ip"`
	ActorDevice  *string   `db:"actor_device"`
	Action       string    `db:"action"`
	ResourceType string    `db:"resource_type"`
	ResourceID   string    `db:"resource_id"`
	ResourceName *string   `db:"resource_name"`
	Changes      []byte    `db:"changes"`
	Metadata     []byte    `db:"metadata"`
	EventHash    string    `db:"event_hash"`
	CreatedAt    time.Time `db:"created_at"`
}

const auditEventColumns = `id, timestamp, actor_id, actor_type, actor_email, actor_ip, actor_device, action, resource_type, resource_id, resource_name, changes, metadata, event_hash, created_at`

func toRow(event *audit.Event) (*auditEventRow, error) {
	row := &auditEventRow{
		ID:           event.ID,
		Timestamp:    event.Timestamp,
		ActorID:      event.ActorID,
		ActorType:    string(event.ActorType),
		ActorEmail:   event.ActorEmail,
		ActorIP:      event.ActorIP,
		ActorDevice:  event.ActorDevice,
		Action:       string(event.Action),
		ResourceType: string(event.ResourceType),
		ResourceID:   event.ResourceID,
		ResourceName: event.ResourceName,
		EventHash:    event.EventHash,
		CreatedAt:    event.CreatedAt,
	}
	if event.Changes != nil {
		raw, err := json.Marshal(event.Changes)
		if err != nil {
			return nil, fmt.Errorf("marshal changes: %w", err)
		}
		row.Changes = raw
	}
	if event.Metadata != nil {
		raw, err := json.Marshal(event.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata: %w", err)
		}
		row.Metadata = raw
	}
	return row, nil
}

func (r *auditEventRow) toEvent() (*audit.Event, error) {
	event := &audit.Event{
		ID:           r.ID,
		Timestamp:    r.Timestamp,
		ActorID:      r.ActorID,
		ActorType:    audit.ActorType(r.ActorType),
		ActorEmail:   r.ActorEmail,
		ActorIP:      r.ActorIP,
		ActorDevice:  r.ActorDevice,
		Action:       audit.Action(r.Action),
		ResourceType: audit.ResourceType(r.ResourceType),
		ResourceID:   r.ResourceID,
		ResourceName: r.ResourceName,
		EventHash:    r.EventHash,
		CreatedAt:    r.CreatedAt,
	}
	if len(r.Changes) > 0 {
		if err := json.Unmarshal(r.Changes, &event.Changes); err != nil {
			return nil, fmt.Errorf("unmarshal changes for %s: %w", r.ID, err)
		}
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &event.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata for %s: %w", r.ID, err)
		}
	}
	return event, nil
}

// Create appends one audit event.
func (r *AuditRepository) Create(ctx context.Context, event *audit.Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	row, err := toRow(event)
	if err != nil {
		return err
	}
	const query = `INSERT INTO audit_events (` + auditEventColumns + `) VALUES (:id, :timestamp, :actor_id, :actor_type, :actor_email, :actor_ip, :actor_device, :action, :resource_type, :resource_id, :resource_name, :changes, :metadata, :event_hash, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("create audit event: %w", err)
	}
	return nil
}

// CreateBatch appends multiple events inside one transaction.
func (r *AuditRepository) CreateBatch(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const query = `INSERT INTO audit_events (` + auditEventColumns + `) VALUES (:id, :timestamp, :actor_id, :actor_type, :actor_email, :actor_ip, :actor_device, :action, :resource_type, :resource_id, :resource_name, :changes, :metadata, :event_hash, :created_at)`
	for i := range events {
		event := events[i]
		if event.ID == "" {
			event.ID = uuid.NewString()
		}
		if event.CreatedAt.IsZero() {
			event.CreatedAt = time.Now().UTC()
		}
		row, err := toRow(&event)
		if err != nil {
			return err
		}
		if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
			return fmt.Errorf("create audit event batch item: %w", err)
		}
	}
	return tx.Commit()
}

// FindByID fetches a single event.
func (r *AuditRepository) FindByID(ctx context.Context, id string) (*audit.Event, error) {
	var row auditEventRow
	query := `SELECT ` + auditEventColumns + ` FROM audit_events WHERE id = $1`
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		return nil, err
	}
	return row.toEvent()
}

func buildFilterClause(filter audit.Filter) (string, []any) {
	clauses := []string{}
	args := []any{}
	arg := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.ActorID != nil {
		clauses = append(clauses, "actor_id = "+arg(*filter.ActorID))
	}
	if filter.ActorType != "" {
		clauses = append(clauses, "actor_type = "+arg(string(filter.ActorType)))
	}
	if filter.Action != "" {
		clauses = append(clauses, "action = "+arg(string(filter.Action)))
	}
	if filter.ResourceType != "" {
		clauses = append(clauses, "resource_type = "+arg(string(filter.ResourceType)))
	}
	if filter.ResourceID != "" {
		clauses = append(clauses, "resource_id = "+arg(filter.ResourceID))
	}
	if filter.From != nil {
		clauses = append(clauses, "timestamp >= "+arg(*filter.From))
	}
	if filter.To != nil {
		clauses = append(clauses, "timestamp <= "+arg(*filter.To))
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// List returns matching events newest-first along with the unpaginated
// total.
func (r *AuditRepository) List(ctx context.Context, filter audit.Filter) ([]audit.Event, int64, error) {
	where, args := buildFilterClause(filter)

	var total int64
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM audit_events"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count audit events: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf("SELECT "+auditEventColumns+" FROM audit_events"+where+" ORDER BY timestamp DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, filter.Offset)

	rows := []auditEventRow{}
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list audit events: %w", err)
	}

	events := make([]audit.Event, 0, len(rows))
	for i := range rows {
		event, err := rows[i].toEvent()
		if err != nil {
			return nil, 0, err
		}
		events = append(events, *event)
	}
	return events, total, nil
}

// Count returns the number of matching events.
func (r *AuditRepository) Count(ctx context.Context, filter audit.Filter) (int64, error) {
	where, args := buildFilterClause(filter)
	var total int64
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM audit_events"+where, args...); err != nil {
		return 0, fmt.Errorf("count audit events: %w", err)
	}
	return total, nil
}

// DeleteOlderThan removes events past the retention horizon and
// returns how many were swept.
func (r *AuditRepository) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	result, err := r.db.ExecContext(ctx, `DELETE FROM audit_events WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete audit events older than %d days: %w", days, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// VerifyIntegrity recomputes the event hash from the stored fields and
// compares it with the persisted digest.
func (r *AuditRepository) VerifyIntegrity(ctx context.Context, id string) (bool, error) {
	event, err := r.FindByID(ctx, id)
	if err != nil {
		return false, err
	}
	return audit.ComputeEventHash(event) == event.EventHash, nil
}
