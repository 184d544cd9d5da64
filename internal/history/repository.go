package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/draycott/haven-core/internal/infrastructure/database"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("history: record not found")

// defaultListLimit caps List results when the filter sets no limit.
const defaultListLimit = 100

// Repository provides append-only access to the executions table.
type Repository struct {
	db *database.DB
}

// NewRepository creates a history repository.
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// ─── Writes ──────────────────────────────────────────────────────────────────

// Insert appends one execution record.
func (r *Repository) Insert(ctx context.Context, rec Record) error {
	devices, err := json.Marshal(rec.AffectedDevices)
	if err != nil {
		return fmt.Errorf("encoding affected devices: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO executions (
			id, subject_id, subject_type, triggered_by,
			success, duration_ms, affected_devices, error, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.SubjectID,
		string(rec.SubjectType),
		string(rec.TriggeredBy),
		boolToInt(rec.Success),
		rec.DurationMS,
		string(devices),
		nullableString(rec.Error),
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting execution record: %w", err)
	}
	return nil
}

// Prune deletes records older than the cutoff and returns how many
// were removed. Used for retention housekeeping.
func (r *Repository) Prune(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM executions WHERE timestamp < ?",
		before.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning executions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned executions: %w", err)
	}
	return n, nil
}

// ─── Reads ───────────────────────────────────────────────────────────────────

// Get returns a single record by ID.
func (r *Repository) Get(ctx context.Context, id string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, subject_id, subject_type, triggered_by,
		       success, duration_ms, affected_devices, error, timestamp
		FROM executions WHERE id = ?
	`, id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns records matching the filter, newest first.
func (r *Repository) List(ctx context.Context, filter Filter) ([]Record, error) {
	var conditions []string
	var args []any

	if filter.SubjectID != "" {
		conditions = append(conditions, "subject_id = ?")
		args = append(args, filter.SubjectID)
	}
	if filter.SubjectType != "" {
		conditions = append(conditions, "subject_type = ?")
		args = append(args, string(filter.SubjectType))
	}
	if filter.TriggeredBy != "" {
		conditions = append(conditions, "triggered_by = ?")
		args = append(args, string(filter.TriggeredBy))
	}
	if filter.Success != nil {
		conditions = append(conditions, "success = ?")
		args = append(args, boolToInt(*filter.Success))
	}
	if !filter.From.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, filter.From.UTC().Format(time.RFC3339Nano))
	}
	if !filter.To.IsZero() {
		conditions = append(conditions, "timestamp < ?")
		args = append(args, filter.To.UTC().Format(time.RFC3339Nano))
	}

	query := `
		SELECT id, subject_id, subject_type, triggered_by,
		       success, duration_ms, affected_devices, error, timestamp
		FROM executions
	`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY timestamp DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += " LIMIT ?"
	args = append(args, limit)

	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying executions: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating executions: %w", err)
	}
	return records, nil
}

// Stats aggregates the execution history of one subject.
func (r *Repository) Stats(ctx context.Context, subjectID string) (Stats, error) {
	var stats Stats
	var avgDuration sql.NullFloat64
	var lastRun sql.NullString

	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(success), 0),
		       AVG(duration_ms),
		       MAX(timestamp)
		FROM executions WHERE subject_id = ?
	`, subjectID).Scan(&stats.Runs, &stats.Successes, &avgDuration, &lastRun)
	if err != nil {
		return Stats{}, fmt.Errorf("aggregating executions for %s: %w", subjectID, err)
	}

	if stats.Runs > 0 {
		stats.SuccessRate = float64(stats.Successes) / float64(stats.Runs)
	}
	if avgDuration.Valid {
		stats.AvgDurationMS = avgDuration.Float64
	}
	if lastRun.Valid {
		if t, err := time.Parse(time.RFC3339Nano, lastRun.String); err == nil {
			stats.LastRun = &t
		}
	}

	return stats, nil
}

// ─── Scan helpers ────────────────────────────────────────────────────────────

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*Record, error) {
	var rec Record
	var subjectType, triggeredBy, devicesJSON, timestamp string
	var success int
	var errText sql.NullString

	err := s.Scan(
		&rec.ID,
		&rec.SubjectID,
		&subjectType,
		&triggeredBy,
		&success,
		&rec.DurationMS,
		&devicesJSON,
		&errText,
		&timestamp,
	)
	if err != nil {
		return nil, err
	}

	rec.SubjectType = SubjectType(subjectType)
	rec.TriggeredBy = Trigger(triggeredBy)
	rec.Success = success != 0

	if err := json.Unmarshal([]byte(devicesJSON), &rec.AffectedDevices); err != nil {
		return nil, fmt.Errorf("decoding affected devices for %s: %w", rec.ID, err)
	}
	if errText.Valid {
		rec.Error = &errText.String
	}
	if rec.Timestamp, err = time.Parse(time.RFC3339Nano, timestamp); err != nil {
		return nil, fmt.Errorf("parsing timestamp for %s: %w", rec.ID, err)
	}

	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// nullableString converts *string to a driver-friendly value.
func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
