package scene

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/draycott/haven-core/internal/infrastructure/database"
)

// Repository persists scenes in SQLite.
type Repository struct {
	db *database.DB
}

// NewRepository creates a scene repository.
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

const sceneSelect = `
	SELECT id, name, group_id, states, is_default, created_at, updated_at
	FROM scenes`

// Create inserts a new scene.
func (r *Repository) Create(ctx context.Context, s *Scene) error {
	now := time.Now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now

	states, err := json.Marshal(s.States)
	if err != nil {
		return fmt.Errorf("encoding states for %s: %w", s.ID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO scenes (id, name, group_id, states, is_default, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		s.ID, s.Name, s.GroupID, string(states), boolToInt(s.IsDefault),
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting scene %s: %w", s.ID, err)
	}
	return nil
}

// Update replaces a scene's stored fields.
func (r *Repository) Update(ctx context.Context, s *Scene) error {
	s.UpdatedAt = time.Now().UTC()

	states, err := json.Marshal(s.States)
	if err != nil {
		return fmt.Errorf("encoding states for %s: %w", s.ID, err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE scenes SET name = ?, group_id = ?, states = ?, is_default = ?, updated_at = ?
		WHERE id = ?
	`,
		s.Name, s.GroupID, string(states), boolToInt(s.IsDefault),
		s.UpdatedAt.Format(time.RFC3339Nano), s.ID,
	)
	if err != nil {
		return fmt.Errorf("updating scene %s: %w", s.ID, err)
	}
	return requireRowAffected(result, ErrSceneNotFound)
}

// Get loads one scene by ID.
func (r *Repository) Get(ctx context.Context, id string) (*Scene, error) {
	row := r.db.QueryRowContext(ctx, sceneSelect+" WHERE id = ?", id)
	s, err := scanScene(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSceneNotFound, id)
	}
	return s, err
}

// List loads every scene.
func (r *Repository) List(ctx context.Context) ([]*Scene, error) {
	return r.list(ctx, sceneSelect+" ORDER BY name")
}

// ListForGroup loads the scenes attached to one group.
func (r *Repository) ListForGroup(ctx context.Context, groupID string) ([]*Scene, error) {
	return r.list(ctx, sceneSelect+" WHERE group_id = ? ORDER BY name", groupID)
}

// DefaultForGroup loads a group's default scene.
func (r *Repository) DefaultForGroup(ctx context.Context, groupID string) (*Scene, error) {
	row := r.db.QueryRowContext(ctx, sceneSelect+" WHERE group_id = ? AND is_default = 1", groupID)
	s, err := scanScene(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNoDefault, groupID)
	}
	return s, err
}

// SetDefault marks one scene as its group's default, clearing any
// previous default in the same transaction.
func (r *Repository) SetDefault(ctx context.Context, id string) error {
	s, err := r.Get(ctx, id)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx,
		"UPDATE scenes SET is_default = 0 WHERE group_id = ? AND is_default = 1", s.GroupID,
	); err != nil {
		return fmt.Errorf("clearing previous default: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE scenes SET is_default = 1 WHERE id = ?", id,
	); err != nil {
		return fmt.Errorf("setting default scene %s: %w", id, err)
	}

	return tx.Commit()
}

// Delete removes a scene.
func (r *Repository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM scenes WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting scene %s: %w", id, err)
	}
	return requireRowAffected(result, ErrSceneNotFound)
}

// ─── Scan helpers ────────────────────────────────────────────────────────────

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]*Scene, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying scenes: %w", err)
	}
	defer rows.Close()

	var scenes []*Scene
	for rows.Next() {
		s, err := scanScene(rows)
		if err != nil {
			return nil, err
		}
		scenes = append(scenes, s)
	}
	return scenes, rows.Err()
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanScene(sc scanner) (*Scene, error) {
	var s Scene
	var states, createdAt, updatedAt string
	var isDefault int

	err := sc.Scan(&s.ID, &s.Name, &s.GroupID, &states, &isDefault, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	s.IsDefault = isDefault != 0
	if err := json.Unmarshal([]byte(states), &s.States); err != nil {
		return nil, fmt.Errorf("decoding states for %s: %w", s.ID, err)
	}
	if s.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for %s: %w", s.ID, err)
	}
	if s.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at for %s: %w", s.ID, err)
	}

	return &s, nil
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
