package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Dan9191/bank-feed/internal/models"
)

const ruleColumns = `id, tenant_id, name, conditions, actions, priority, active, created_at, updated_at`

// CreateRule stores a new matching rule
func (r *Repository) CreateRule(ctx context.Context, rule *models.MatchingRule) error {
	conditions, actions, err := encodeRule(rule)
	if err != nil {
		return err
	}
	now := r.now()
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO matching_rules (tenant_id, name, conditions, actions, priority, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING id`,
		rule.TenantID, rule.Name, conditions, actions, rule.Priority, rule.Active, now,
	).Scan(&rule.ID)
	if err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}
	rule.CreatedAt, rule.UpdatedAt = now, now
	return nil
}

// GetRule returns one rule of the tenant
func (r *Repository) GetRule(ctx context.Context, tenantID, id int64) (*models.MatchingRule, error) {
	rules, err := r.queryRules(ctx,
		`SELECT `+ruleColumns+` FROM matching_rules WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("rule %d: %w", id, ErrNotFound)
	}
	return &rules[0], nil
}

// ListRules returns the tenant's rules by priority, then creation order
func (r *Repository) ListRules(ctx context.Context, tenantID int64) ([]models.MatchingRule, error) {
	return r.queryRules(ctx,
		`SELECT `+ruleColumns+` FROM matching_rules WHERE tenant_id = $1 ORDER BY priority, id`, tenantID)
}

// UpdateRule replaces name, conditions, actions, priority and active flag
func (r *Repository) UpdateRule(ctx context.Context, rule *models.MatchingRule) error {
	conditions, actions, err := encodeRule(rule)
	if err != nil {
		return err
	}
	now := r.now()
	res, err := r.db.ExecContext(ctx, `
		UPDATE matching_rules
		SET name = $1, conditions = $2, actions = $3, priority = $4, active = $5, updated_at = $6
		WHERE tenant_id = $7 AND id = $8`,
		rule.Name, conditions, actions, rule.Priority, rule.Active, now, rule.TenantID, rule.ID)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("rule %d: %w", rule.ID, ErrNotFound)
	}
	rule.UpdatedAt = now
	return nil
}

// DeleteRule removes a rule of the tenant
func (r *Repository) DeleteRule(ctx context.Context, tenantID, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM matching_rules WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("rule %d: %w", id, ErrNotFound)
	}
	return nil
}

func encodeRule(rule *models.MatchingRule) (string, string, error) {
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode conditions: %w", err)
	}
	actions, err := json.Marshal(rule.Actions)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode actions: %w", err)
	}
	return string(conditions), string(actions), nil
}

func (r *Repository) queryRules(ctx context.Context, query string, args ...any) ([]models.MatchingRule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var out []models.MatchingRule
	for rows.Next() {
		var (
			rule                models.MatchingRule
			conditions, actions []byte
		)
		if err := rows.Scan(&rule.ID, &rule.TenantID, &rule.Name, &conditions, &actions, &rule.Priority,
			&rule.Active, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		if err := json.Unmarshal(conditions, &rule.Conditions); err != nil {
			return nil, fmt.Errorf("rule %d has invalid conditions: %w", rule.ID, err)
		}
		if err := json.Unmarshal(actions, &rule.Actions); err != nil {
			return nil, fmt.Errorf("rule %d has invalid actions: %w", rule.ID, err)
		}
		rule.CreatedAt = rule.CreatedAt.UTC()
		rule.UpdatedAt = rule.UpdatedAt.UTC()
		out = append(out, rule)
	}
	return out, rows.Err()
}
