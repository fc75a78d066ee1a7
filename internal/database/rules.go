// Triage - Notification Prioritization Engine
// Copyright 2026 Triage Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/triagehq/triage

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/triagehq/triage/internal/models"
)

const ruleColumns = `id, rule_name, rule_type, CAST(conditions AS VARCHAR),
	CAST(action_params AS VARCHAR), priority_order, is_active, created_at, updated_at`

// ListRules returns rules ordered by priority (ascending, name as
// tiebreaker). With activeOnly set, inactive rules are excluded — this is
// the ordering the rules engine evaluates in.
func (s *store) ListRules(ctx context.Context, activeOnly bool) ([]*models.Rule, error) {
	query := fmt.Sprintf(`SELECT %s FROM rules`, ruleColumns)
	if activeOnly {
		query += ` WHERE is_active = true`
	}
	query += ` ORDER BY priority_order ASC, rule_name ASC`

	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule row: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rule row iteration failed: %w", err)
	}
	return rules, nil
}

// GetRule returns a rule by ID, or ErrNotFound.
func (s *store) GetRule(ctx context.Context, id string) (*models.Rule, error) {
	row := s.q.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM rules WHERE id = ?`, ruleColumns), id)

	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule %s: %w", id, err)
	}
	return rule, nil
}

// GetRuleByName returns a rule by its unique name, or ErrNotFound.
func (s *store) GetRuleByName(ctx context.Context, name string) (*models.Rule, error) {
	row := s.q.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM rules WHERE rule_name = ?`, ruleColumns), name)

	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule %q: %w", name, err)
	}
	return rule, nil
}

// CreateRule inserts a new rule. Returns ErrNameTaken when the name is
// already in use.
func (s *store) CreateRule(ctx context.Context, rule *models.Rule) error {
	existing, err := s.GetRuleByName(ctx, rule.RuleName)
	if err != nil && err != ErrNotFound {
		return err
	}
	if existing != nil {
		return ErrNameTaken
	}

	conditions, err := marshalJSON(rule.Conditions)
	if err != nil {
		return err
	}
	actionParams, err := marshalJSON(rule.ActionParams)
	if err != nil {
		return err
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO rules (
			id, rule_name, rule_type, conditions, action_params,
			priority_order, is_active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID, rule.RuleName, string(rule.RuleType), conditions, actionParams,
		rule.PriorityOrder, rule.IsActive,
		rule.CreatedAt.UTC(), rule.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create rule %q: %w", rule.RuleName, err)
	}
	return nil
}

// UpdateRule replaces a rule's mutable fields and bumps updated_at.
func (s *store) UpdateRule(ctx context.Context, rule *models.Rule) error {
	conditions, err := marshalJSON(rule.Conditions)
	if err != nil {
		return err
	}
	actionParams, err := marshalJSON(rule.ActionParams)
	if err != nil {
		return err
	}

	res, err := s.q.ExecContext(ctx, `
		UPDATE rules
		SET rule_name = ?, rule_type = ?, conditions = ?, action_params = ?,
			priority_order = ?, is_active = ?, updated_at = ?
		WHERE id = ?`,
		rule.RuleName, string(rule.RuleType), conditions, actionParams,
		rule.PriorityOrder, rule.IsActive, time.Now().UTC(), rule.ID)
	if err != nil {
		return fmt.Errorf("failed to update rule %s: %w", rule.ID, err)
	}
	return requireRowsAffected(res, ErrNotFound)
}

// SetRuleActive flips a rule's is_active flag.
func (s *store) SetRuleActive(ctx context.Context, id string, active bool) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE rules SET is_active = ?, updated_at = ? WHERE id = ?`,
		active, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to toggle rule %s: %w", id, err)
	}
	return requireRowsAffected(res, ErrNotFound)
}

// DeleteRule removes a rule. Returns ErrNotFound for unknown IDs.
func (s *store) DeleteRule(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule %s: %w", id, err)
	}
	return requireRowsAffected(res, ErrNotFound)
}

func scanRule(row rowScanner) (*models.Rule, error) {
	var (
		rule         models.Rule
		ruleType     string
		conditions   sql.NullString
		actionParams sql.NullString
	)
	err := row.Scan(&rule.ID, &rule.RuleName, &ruleType, &conditions,
		&actionParams, &rule.PriorityOrder, &rule.IsActive,
		&rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return nil, err
	}

	rule.RuleType = models.RuleType(ruleType)
	if err := unmarshalJSON(conditions, &rule.Conditions); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(actionParams, &rule.ActionParams); err != nil {
		return nil, err
	}
	rule.CreatedAt = rule.CreatedAt.UTC()
	rule.UpdatedAt = rule.UpdatedAt.UTC()
	return &rule, nil
}

// requireRowsAffected maps a zero-row write to the given sentinel.
func requireRowsAffected(res sql.Result, sentinel error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return sentinel
	}
	return nil
}
