// Package models - audit_event.go defines the AuditEvent model: one security-relevant
// occurrence in the audit trail (login failure, PHI export, role change, ...) that the
// rule engine inspects, and that the engine itself appends to when an alert fires.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Severity levels for audit events and the rules that match them.
const (
	SeverityCritical = "CRITICAL"
	SeverityWarning  = "WARNING"
	SeverityInfo     = "INFO"
)

// EventTypeSecurityAlert is the event type the engine writes back into the
// audit trail whenever a rule fires, making triggered alerts themselves part
// of the auditable record.
const EventTypeSecurityAlert = "SECURITY_ALERT"

// JSONMap is a map stored as a JSONB column.
type JSONMap map[string]interface{}

// Value implements driver.Valuer so JSONMap can be written to a JSONB column.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner so JSONMap can be read from a JSONB column.
func (m *JSONMap) Scan(src interface{}) error {
	if src == nil {
		*m = nil
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", src)
	}
}

// AuditEvent represents one row in the audit_events table.
type AuditEvent struct {
	ID        uuid.UUID `json:"id" db:"id"`
	EventType string    `json:"event_type" db:"event_type"` // "LOGIN_FAILED", "PHI_EXPORT", "SECURITY_ALERT", ...
	Severity  string    `json:"severity" db:"severity"`     // CRITICAL | WARNING | INFO
	Actor     *string   `json:"actor,omitempty" db:"actor"` // Nullable for system-generated events
	IPAddress *string   `json:"ip_address,omitempty" db:"ip_address"`
	Details   JSONMap   `json:"details" db:"details"` // JSONB: additional context
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
