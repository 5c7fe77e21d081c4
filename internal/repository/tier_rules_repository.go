package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/lumen-erp/be-procurement/internal/database"
	"github.com/lumen-erp/be-procurement/internal/errors"
)

// TierRulesRepository handles CRUD for tier assignment rules. A rule binds
// an amount band within a tier code to a concrete chain assignment stored
// as JSONB.
type TierRulesRepository struct {
	db *database.DB
}

// NewTierRulesRepository creates a new TierRulesRepository.
func NewTierRulesRepository(db *database.DB) *TierRulesRepository {
	return &TierRulesRepository{db: db}
}

// Create inserts a new tier rule.
func (r *TierRulesRepository) Create(ctx context.Context, rule *TierRule) error {
	chainJSON, err := json.Marshal(rule.Chain)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal tier chain")
	}

	query := `
		INSERT INTO tier_rules
		    (tier_code, rule_name, is_active, min_amount, max_amount,
		     chain, priority)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	return r.db.QueryRow(ctx, query,
		rule.TierCode,
		rule.RuleName,
		rule.IsActive,
		rule.MinAmount,
		rule.MaxAmount,
		chainJSON,
		rule.Priority,
	).Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)
}

// GetByID retrieves a rule by primary key.
func (r *TierRulesRepository) GetByID(ctx context.Context, id string) (*TierRule, error) {
	query := `
		SELECT id, tier_code, rule_name, is_active, min_amount, max_amount,
		       chain, priority, created_at, updated_at
		FROM tier_rules
		WHERE id = $1
	`

	rule, err := r.scanRule(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("tier_rule", id)
	}
	return rule, err
}

// List returns rules for a tier code, optionally active only, in priority
// order.
func (r *TierRulesRepository) List(ctx context.Context, tierCode string, activeOnly bool) ([]*TierRule, error) {
	query := `
		SELECT id, tier_code, rule_name, is_active, min_amount, max_amount,
		       chain, priority, created_at, updated_at
		FROM tier_rules
		WHERE tier_code = $1
	`
	if activeOnly {
		query += " AND is_active = TRUE"
	}
	query += " ORDER BY priority ASC, rule_name ASC"

	rows, err := r.db.Query(ctx, query, tierCode)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list tier rules")
	}
	defer rows.Close()

	var rules []*TierRule
	for rows.Next() {
		rule, err := r.scanRuleRow(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// FindMatchingRule evaluates active rules for a tier code in priority order
// and returns the first whose amount band contains the total. Returns nil
// (no error) when no rule matches.
func (r *TierRulesRepository) FindMatchingRule(ctx context.Context, tierCode string, amount int64) (*TierRule, error) {
	// Load all active rules ordered by priority; evaluate in Go to keep SQL simple.
	rules, err := r.List(ctx, tierCode, true)
	if err != nil {
		return nil, err
	}

	for _, rule := range rules {
		if ruleMatches(rule, amount) {
			return rule, nil
		}
	}
	return nil, nil
}

// ruleMatches returns true when the amount falls inside the rule's band.
// Bounds follow the half-open [min, max) convention.
func ruleMatches(rule *TierRule, amount int64) bool {
	if rule.MinAmount != nil && amount < *rule.MinAmount {
		return false
	}
	if rule.MaxAmount != nil && amount >= *rule.MaxAmount {
		return false
	}
	return true
}

// Update persists changes to an existing rule.
func (r *TierRulesRepository) Update(ctx context.Context, rule *TierRule) error {
	chainJSON, err := json.Marshal(rule.Chain)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal tier chain")
	}

	query := `
		UPDATE tier_rules
		SET tier_code  = $2,
		    rule_name  = $3,
		    is_active  = $4,
		    min_amount = $5,
		    max_amount = $6,
		    chain      = $7,
		    priority   = $8,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err = r.db.QueryRow(ctx, query,
		rule.ID,
		rule.TierCode,
		rule.RuleName,
		rule.IsActive,
		rule.MinAmount,
		rule.MaxAmount,
		chainJSON,
		rule.Priority,
	).Scan(&rule.UpdatedAt)

	if err == pgx.ErrNoRows {
		return errors.NotFound("tier_rule", rule.ID)
	}
	return err
}

// Deactivate soft-disables a rule without deleting its history.
func (r *TierRulesRepository) Deactivate(ctx context.Context, id string) error {
	query := `
		UPDATE tier_rules
		SET is_active  = FALSE,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("tier_rule", id)
	}
	return err
}

// ── scan helpers ─────────────────────────────────────────────────────────────

type tierRuleScanner interface {
	Scan(dest ...any) error
}

func (r *TierRulesRepository) scanRule(row tierRuleScanner) (*TierRule, error) {
	rule := &TierRule{}
	var chainJSON []byte

	err := row.Scan(
		&rule.ID,
		&rule.TierCode,
		&rule.RuleName,
		&rule.IsActive,
		&rule.MinAmount,
		&rule.MaxAmount,
		&chainJSON,
		&rule.Priority,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(chainJSON, &rule.Chain); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal tier chain")
	}
	return rule, nil
}

func (r *TierRulesRepository) scanRuleRow(rows pgx.Rows) (*TierRule, error) {
	rule, err := r.scanRule(rows)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan tier rule")
	}
	return rule, nil
}
