// audit_event_repository.go implements AuditEventRepository, providing database queries
// for appending security events and for the time-sliced reads the rule engine performs
// on every evaluation tick.
package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/phi-sentinel/phi-sentinel/internal/db/models"
)

// AuditEventRepository handles audit event database operations
type AuditEventRepository struct {
	db *sqlx.DB
}

// NewAuditEventRepository creates a new AuditEventRepository
func NewAuditEventRepository(db *sqlx.DB) *AuditEventRepository {
	return &AuditEventRepository{db: db}
}

// InsertEvent appends a new event to the audit trail. The ID and CreatedAt
// fields are populated on the passed event.
func (r *AuditEventRepository) InsertEvent(ctx context.Context, event *models.AuditEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if event.Severity == "" {
		event.Severity = models.SeverityInfo
	}

	query := `
		INSERT INTO audit_events (id, event_type, severity, actor, ip_address, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		event.ID,
		event.EventType,
		event.Severity,
		event.Actor,
		event.IPAddress,
		event.Details,
		event.CreatedAt,
	)
	return err
}

// FindEventsByTypesSince returns all events of the given types created at or
// after the cutoff, newest first. This is the single read every rule
// evaluation is built on: threshold rules count the result, immediate rules
// inspect the most recent entries.
func (r *AuditEventRepository) FindEventsByTypesSince(ctx context.Context, eventTypes []string, since time.Time) ([]*models.AuditEvent, error) {
	query := `
		SELECT id, event_type, severity, actor, ip_address, details, created_at
		FROM audit_events
		WHERE event_type = ANY($1) AND created_at >= $2
		ORDER BY created_at DESC
	`
	events := make([]*models.AuditEvent, 0)
	if err := r.db.SelectContext(ctx, &events, query, pq.Array(eventTypes), since); err != nil {
		return nil, err
	}
	return events, nil
}

// SeverityCount pairs a severity label with the number of events carrying it
// in the queried window.
type SeverityCount struct {
	Severity string `db:"severity"`
	Count    int    `db:"count"`
}

// CountEventsBySeveritySince returns, per severity, how many audit events were
// recorded at or after the cutoff. Severities with no events are absent from
// the result. Feeds the status reporter's 24-hour classification.
func (r *AuditEventRepository) CountEventsBySeveritySince(ctx context.Context, since time.Time) (map[string]int, error) {
	query := `
		SELECT severity, COUNT(*) AS count
		FROM audit_events
		WHERE created_at >= $1
		GROUP BY severity
	`
	var rows []SeverityCount
	if err := r.db.SelectContext(ctx, &rows, query, since); err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.Severity] = row.Count
	}
	return counts, nil
}

// ListRecentAlerts returns the most recent SECURITY_ALERT events, newest first.
func (r *AuditEventRepository) ListRecentAlerts(ctx context.Context, limit int) ([]*models.AuditEvent, error) {
	query := `
		SELECT id, event_type, severity, actor, ip_address, details, created_at
		FROM audit_events
		WHERE event_type = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	alerts := make([]*models.AuditEvent, 0)
	if err := r.db.SelectContext(ctx, &alerts, query, models.EventTypeSecurityAlert, limit); err != nil {
		return nil, err
	}
	return alerts, nil
}
