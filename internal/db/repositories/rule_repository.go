// rule_repository.go implements RuleRepository, persisting alert rule overrides
// supplied via the configure action. The compiled-in default catalog never touches
// the database; only operator-supplied rule sets are stored here.
package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/phi-sentinel/phi-sentinel/internal/db/models"
)

// RuleRepository handles alert rule database operations
type RuleRepository struct {
	db *sqlx.DB
}

// NewRuleRepository creates a new RuleRepository
func NewRuleRepository(db *sqlx.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

// ListRules returns all persisted rule overrides, stable-ordered by ID.
func (r *RuleRepository) ListRules(ctx context.Context) ([]*models.AlertRule, error) {
	query := `
		SELECT id, name, event_types, threshold, time_window_minutes, severity, channels, enabled, updated_at
		FROM alert_rules
		ORDER BY id
	`
	rules := make([]*models.AlertRule, 0)
	if err := r.db.SelectContext(ctx, &rules, query); err != nil {
		return nil, err
	}
	return rules, nil
}

// ReplaceRules atomically swaps the persisted rule set for the given one.
// The configure action supplies complete rule sets, never patches, so the
// previous set is cleared first inside the same transaction.
func (r *RuleRepository) ReplaceRules(ctx context.Context, rules []*models.AlertRule) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM alert_rules`); err != nil {
		return fmt.Errorf("clear alert rules: %w", err)
	}

	query := `
		INSERT INTO alert_rules (id, name, event_types, threshold, time_window_minutes, severity, channels, enabled, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	now := time.Now().UTC()
	for _, rule := range rules {
		if _, err := tx.ExecContext(ctx, query,
			rule.ID,
			rule.Name,
			rule.EventTypes,
			rule.Threshold,
			rule.TimeWindowMinutes,
			rule.Severity,
			rule.Channels,
			rule.Enabled,
			now,
		); err != nil {
			return fmt.Errorf("insert rule %q: %w", rule.ID, err)
		}
	}

	return tx.Commit()
}
