package automation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/draycott/haven-core/internal/infrastructure/database"
)

// Repository persists rules and groups in SQLite.
//
// Structured fields (triggers, conditions, actions, policy) are stored
// as JSON columns; SQLite indexes the scalar columns used for lookups.
type Repository struct {
	db *database.DB
}

// NewRepository creates an automation repository.
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// ─── Rules ───────────────────────────────────────────────────────────────────

// CreateRule inserts a new rule. Timestamps are set here.
func (r *Repository) CreateRule(ctx context.Context, rule *Rule) error {
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	cols, err := encodeRule(rule)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO rules (
			id, name, category, enabled, priority,
			triggers, conditions, actions, policy,
			owner_id, last_run, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rule.ID, rule.Name, rule.Category, boolToInt(rule.Enabled), rule.Priority,
		cols.triggers, cols.conditions, cols.actions, cols.policy,
		rule.OwnerID, nullableTime(rule.LastRun),
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting rule %s: %w", rule.ID, err)
	}
	return nil
}

// UpdateRule replaces a rule's stored fields.
func (r *Repository) UpdateRule(ctx context.Context, rule *Rule) error {
	rule.UpdatedAt = time.Now().UTC()

	cols, err := encodeRule(rule)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE rules SET
			name = ?, category = ?, enabled = ?, priority = ?,
			triggers = ?, conditions = ?, actions = ?, policy = ?,
			owner_id = ?, last_run = ?, updated_at = ?
		WHERE id = ?
	`,
		rule.Name, rule.Category, boolToInt(rule.Enabled), rule.Priority,
		cols.triggers, cols.conditions, cols.actions, cols.policy,
		rule.OwnerID, nullableTime(rule.LastRun),
		rule.UpdatedAt.Format(time.RFC3339Nano),
		rule.ID,
	)
	if err != nil {
		return fmt.Errorf("updating rule %s: %w", rule.ID, err)
	}
	return requireRowAffected(result, ErrRuleNotFound)
}

// GetRule loads one rule by ID.
func (r *Repository) GetRule(ctx context.Context, id string) (*Rule, error) {
	row := r.db.QueryRowContext(ctx, ruleSelect+" WHERE id = ?", id)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return rule, err
}

// ListRules loads every rule.
func (r *Repository) ListRules(ctx context.Context) ([]*Rule, error) {
	rows, err := r.db.QueryContext(ctx, ruleSelect+" ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("querying rules: %w", err)
	}
	defer rows.Close()

	var rules []*Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// DeleteRule removes a rule.
func (r *Repository) DeleteRule(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting rule %s: %w", id, err)
	}
	return requireRowAffected(result, ErrRuleNotFound)
}

// SetRuleEnabled flips a rule's enabled flag without touching the rest.
func (r *Repository) SetRuleEnabled(ctx context.Context, id string, enabled bool) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE rules SET enabled = ?, updated_at = ? WHERE id = ?",
		boolToInt(enabled), time.Now().UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("setting rule %s enabled=%t: %w", id, enabled, err)
	}
	return requireRowAffected(result, ErrRuleNotFound)
}

// TouchLastRun records the start time of a rule's latest execution.
func (r *Repository) TouchLastRun(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE rules SET last_run = ? WHERE id = ?",
		at.UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("touching last_run for rule %s: %w", id, err)
	}
	return requireRowAffected(result, ErrRuleNotFound)
}

// ─── Groups ──────────────────────────────────────────────────────────────────

// CreateGroup inserts a new group.
func (r *Repository) CreateGroup(ctx context.Context, g *Group) error {
	now := time.Now().UTC()
	g.CreatedAt = now
	g.UpdatedAt = now

	devices, automation, err := encodeGroup(g)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO groups (
			id, name, device_ids, automation, default_scene_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		g.ID, g.Name, devices, automation, nullableEmpty(g.DefaultSceneID),
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting group %s: %w", g.ID, err)
	}
	return nil
}

// UpdateGroup replaces a group's stored fields.
func (r *Repository) UpdateGroup(ctx context.Context, g *Group) error {
	g.UpdatedAt = time.Now().UTC()

	devices, automation, err := encodeGroup(g)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE groups SET
			name = ?, device_ids = ?, automation = ?, default_scene_id = ?, updated_at = ?
		WHERE id = ?
	`,
		g.Name, devices, automation, nullableEmpty(g.DefaultSceneID),
		g.UpdatedAt.Format(time.RFC3339Nano),
		g.ID,
	)
	if err != nil {
		return fmt.Errorf("updating group %s: %w", g.ID, err)
	}
	return requireRowAffected(result, ErrGroupNotFound)
}

// GetGroup loads one group by ID.
func (r *Repository) GetGroup(ctx context.Context, id string) (*Group, error) {
	row := r.db.QueryRowContext(ctx, groupSelect+" WHERE id = ?", id)
	g, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, id)
	}
	return g, err
}

// ListGroups loads every group.
func (r *Repository) ListGroups(ctx context.Context) ([]*Group, error) {
	rows, err := r.db.QueryContext(ctx, groupSelect+" ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("querying groups: %w", err)
	}
	defer rows.Close()

	var groups []*Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// DeleteGroup removes a group.
func (r *Repository) DeleteGroup(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM groups WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting group %s: %w", id, err)
	}
	return requireRowAffected(result, ErrGroupNotFound)
}

// ─── Encoding / scanning ─────────────────────────────────────────────────────

const ruleSelect = `
	SELECT id, name, category, enabled, priority,
	       triggers, conditions, actions, policy,
	       owner_id, last_run, created_at, updated_at
	FROM rules`

const groupSelect = `
	SELECT id, name, device_ids, automation, default_scene_id, created_at, updated_at
	FROM groups`

type ruleColumns struct {
	triggers, conditions, actions, policy string
}

func encodeRule(rule *Rule) (ruleColumns, error) {
	triggers, err := json.Marshal(rule.Triggers)
	if err != nil {
		return ruleColumns{}, fmt.Errorf("encoding triggers for %s: %w", rule.ID, err)
	}
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return ruleColumns{}, fmt.Errorf("encoding conditions for %s: %w", rule.ID, err)
	}
	actions, err := json.Marshal(rule.Actions)
	if err != nil {
		return ruleColumns{}, fmt.Errorf("encoding actions for %s: %w", rule.ID, err)
	}
	policy, err := json.Marshal(rule.Policy)
	if err != nil {
		return ruleColumns{}, fmt.Errorf("encoding policy for %s: %w", rule.ID, err)
	}
	return ruleColumns{
		triggers:   string(triggers),
		conditions: string(conditions),
		actions:    string(actions),
		policy:     string(policy),
	}, nil
}

func encodeGroup(g *Group) (string, string, error) {
	devices, err := json.Marshal(g.DeviceIDs)
	if err != nil {
		return "", "", fmt.Errorf("encoding device_ids for %s: %w", g.ID, err)
	}
	automation, err := json.Marshal(g.Automation)
	if err != nil {
		return "", "", fmt.Errorf("encoding automation for %s: %w", g.ID, err)
	}
	return string(devices), string(automation), nil
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRule(s scanner) (*Rule, error) {
	var rule Rule
	var enabled int
	var triggers, conditions, actions, policy string
	var lastRun sql.NullString
	var createdAt, updatedAt string

	err := s.Scan(
		&rule.ID, &rule.Name, &rule.Category, &enabled, &rule.Priority,
		&triggers, &conditions, &actions, &policy,
		&rule.OwnerID, &lastRun, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.Enabled = enabled != 0
	if err := json.Unmarshal([]byte(triggers), &rule.Triggers); err != nil {
		return nil, fmt.Errorf("decoding triggers for %s: %w", rule.ID, err)
	}
	if err := json.Unmarshal([]byte(conditions), &rule.Conditions); err != nil {
		return nil, fmt.Errorf("decoding conditions for %s: %w", rule.ID, err)
	}
	if err := json.Unmarshal([]byte(actions), &rule.Actions); err != nil {
		return nil, fmt.Errorf("decoding actions for %s: %w", rule.ID, err)
	}
	if err := json.Unmarshal([]byte(policy), &rule.Policy); err != nil {
		return nil, fmt.Errorf("decoding policy for %s: %w", rule.ID, err)
	}

	if lastRun.Valid {
		if t, err := time.Parse(time.RFC3339Nano, lastRun.String); err == nil {
			rule.LastRun = &t
		}
	}
	if rule.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for %s: %w", rule.ID, err)
	}
	if rule.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at for %s: %w", rule.ID, err)
	}

	return &rule, nil
}

func scanGroup(s scanner) (*Group, error) {
	var g Group
	var devices, automation string
	var defaultScene sql.NullString
	var createdAt, updatedAt string

	err := s.Scan(&g.ID, &g.Name, &devices, &automation, &defaultScene, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(devices), &g.DeviceIDs); err != nil {
		return nil, fmt.Errorf("decoding device_ids for %s: %w", g.ID, err)
	}
	if err := json.Unmarshal([]byte(automation), &g.Automation); err != nil {
		return nil, fmt.Errorf("decoding automation for %s: %w", g.ID, err)
	}
	if defaultScene.Valid {
		g.DefaultSceneID = defaultScene.String
	}
	if g.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for %s: %w", g.ID, err)
	}
	if g.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at for %s: %w", g.ID, err)
	}

	return &g, nil
}

func requireRowAffected(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func nullableEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
