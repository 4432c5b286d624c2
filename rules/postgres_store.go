package rules

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresRuleStore implements RuleStore backed by PostgreSQL.
// condition and action are JSON (not JSONB) columns so the authored bytes are
// returned exactly as stored.
type PostgresRuleStore struct {
	db *sql.DB
}

// NewPostgresRuleStore creates a new PostgreSQL-backed RuleStore
func NewPostgresRuleStore(db *sql.DB) *PostgresRuleStore {
	return &PostgresRuleStore{db: db}
}

const ruleColumns = `id, user_id, name, description, condition, action, priority, is_active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*Rule, error) {
	var (
		r           Rule
		description sql.NullString
		cond, act   []byte
	)
	if err := row.Scan(&r.ID, &r.ScopeID, &r.Name, &description, &cond, &act,
		&r.Priority, &r.IsActive, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Description = description.String
	r.Condition = cond
	r.Action = act
	return &r, nil
}

// Add inserts a new rule into the database and fills in the generated ID and
// timestamps
func (s *PostgresRuleStore) Add(ctx context.Context, rule *Rule) error {
	now := time.Now().UTC()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO rules (user_id, name, description, condition, action, priority, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		RETURNING id, created_at, updated_at
	`, rule.ScopeID, rule.Name, nullString(rule.Description), string(rule.Condition), string(rule.Action),
		rule.Priority, rule.IsActive, now).Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}
	return nil
}

// Get retrieves a rule by ID
func (s *PostgresRuleStore) Get(ctx context.Context, scope, id int64) (*Rule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+ruleColumns+`
		FROM rules
		WHERE id = $1 AND user_id = $2
	`, id, scope)

	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule %d: %w", id, ErrRuleNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

// List returns the rules of a scope in evaluation order
func (s *PostgresRuleStore) List(ctx context.Context, scope int64, activeOnly bool) ([]*Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ruleColumns+`
		FROM rules
		WHERE user_id = $1 AND ($2 = false OR is_active = true)
		ORDER BY priority DESC, id ASC
	`, scope, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	rulesList := make([]*Rule, 0)
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rulesList = append(rulesList, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}

	return rulesList, nil
}

// LoadActiveRules returns the active rules of a scope
func (s *PostgresRuleStore) LoadActiveRules(ctx context.Context, scope int64) ([]*Rule, error) {
	return s.List(ctx, scope, true)
}

// Update modifies an existing rule
func (s *PostgresRuleStore) Update(ctx context.Context, rule *Rule) error {
	err := s.db.QueryRowContext(ctx, `
		UPDATE rules
		SET name = $1, description = $2, condition = $3, action = $4,
		    priority = $5, is_active = $6, updated_at = $7
		WHERE id = $8 AND user_id = $9
		RETURNING created_at, updated_at
	`, rule.Name, nullString(rule.Description), string(rule.Condition), string(rule.Action),
		rule.Priority, rule.IsActive, time.Now().UTC(), rule.ID, rule.ScopeID).Scan(&rule.CreatedAt, &rule.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("rule %d: %w", rule.ID, ErrRuleNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	return nil
}

// Delete removes a rule from the database
func (s *PostgresRuleStore) Delete(ctx context.Context, scope, id int64) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM rules
		WHERE id = $1 AND user_id = $2
	`, id, scope)

	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rule %d: %w", id, ErrRuleNotFound)
	}

	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
