package schedule

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/draycott/haven-core/internal/infrastructure/database"
)

// Repository persists schedules and timers in SQLite.
type Repository struct {
	db *database.DB
}

// NewRepository creates a schedule repository.
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// ─── Schedules ───────────────────────────────────────────────────────────────

const scheduleSelect = `
	SELECT id, group_id, name, enabled, trigger, action, settings, policy, created_at, updated_at
	FROM schedules`

// scheduleTrigger is the JSON shape of the trigger column.
type scheduleTrigger struct {
	Kind          TriggerKind    `json:"kind"`
	At            string         `json:"at,omitempty"`
	OffsetMinutes int            `json:"offset_minutes,omitempty"`
	Days          []time.Weekday `json:"days"`
}

// CreateSchedule inserts a new schedule.
func (r *Repository) CreateSchedule(ctx context.Context, s *Schedule) error {
	now := time.Now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now

	trigger, settings, policy, err := encodeSchedule(s)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO schedules (id, group_id, name, enabled, trigger, action, settings, policy, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		s.ID, s.GroupID, s.Name, boolToInt(s.Enabled),
		trigger, s.Action, settings, policy,
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting schedule %s: %w", s.ID, err)
	}
	return nil
}

// UpdateSchedule replaces a schedule's stored fields.
func (r *Repository) UpdateSchedule(ctx context.Context, s *Schedule) error {
	s.UpdatedAt = time.Now().UTC()

	trigger, settings, policy, err := encodeSchedule(s)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE schedules SET group_id = ?, name = ?, enabled = ?, trigger = ?,
			action = ?, settings = ?, policy = ?, updated_at = ?
		WHERE id = ?
	`,
		s.GroupID, s.Name, boolToInt(s.Enabled), trigger,
		s.Action, settings, policy, s.UpdatedAt.Format(time.RFC3339Nano),
		s.ID,
	)
	if err != nil {
		return fmt.Errorf("updating schedule %s: %w", s.ID, err)
	}
	return requireRowAffected(result, ErrScheduleNotFound)
}

// GetSchedule loads one schedule by ID.
func (r *Repository) GetSchedule(ctx context.Context, id string) (*Schedule, error) {
	row := r.db.QueryRowContext(ctx, scheduleSelect+" WHERE id = ?", id)
	s, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
	}
	return s, err
}

// ListSchedules loads every schedule.
func (r *Repository) ListSchedules(ctx context.Context) ([]*Schedule, error) {
	rows, err := r.db.QueryContext(ctx, scheduleSelect+" ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("querying schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

// ListEnabledSchedules loads schedules eligible to fire.
func (r *Repository) ListEnabledSchedules(ctx context.Context) ([]*Schedule, error) {
	rows, err := r.db.QueryContext(ctx, scheduleSelect+" WHERE enabled = 1")
	if err != nil {
		return nil, fmt.Errorf("querying enabled schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

// DeleteSchedule removes a schedule.
func (r *Repository) DeleteSchedule(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM schedules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting schedule %s: %w", id, err)
	}
	return requireRowAffected(result, ErrScheduleNotFound)
}

// ─── Timers ──────────────────────────────────────────────────────────────────

const timerSelect = `
	SELECT id, device_id, action, settings, scheduled_time, is_recurring, recurring_days, created_at
	FROM timers`

// CreateTimer inserts a new timer.
func (r *Repository) CreateTimer(ctx context.Context, t *Timer) error {
	now := time.Now().UTC()
	t.CreatedAt = now

	settings, days, err := encodeTimer(t)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO timers (id, device_id, action, settings, scheduled_time, is_recurring, recurring_days, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID, t.DeviceID, t.Action, settings,
		t.ScheduledTime.UTC().Format(time.RFC3339Nano),
		boolToInt(t.IsRecurring), days,
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting timer %s: %w", t.ID, err)
	}
	return nil
}

// GetTimer loads one timer by ID.
func (r *Repository) GetTimer(ctx context.Context, id string) (*Timer, error) {
	row := r.db.QueryRowContext(ctx, timerSelect+" WHERE id = ?", id)
	t, err := scanTimer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTimerNotFound, id)
	}
	return t, err
}

// ListTimers loads every timer, soonest first.
func (r *Repository) ListTimers(ctx context.Context) ([]*Timer, error) {
	rows, err := r.db.QueryContext(ctx, timerSelect+" ORDER BY scheduled_time")
	if err != nil {
		return nil, fmt.Errorf("querying timers: %w", err)
	}
	defer rows.Close()

	var timers []*Timer
	for rows.Next() {
		t, err := scanTimer(rows)
		if err != nil {
			return nil, err
		}
		timers = append(timers, t)
	}
	return timers, rows.Err()
}

// DueTimers loads timers whose scheduled time is at or before the cutoff.
func (r *Repository) DueTimers(ctx context.Context, cutoff time.Time) ([]*Timer, error) {
	rows, err := r.db.QueryContext(ctx,
		timerSelect+" WHERE scheduled_time <= ? ORDER BY scheduled_time",
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("querying due timers: %w", err)
	}
	defer rows.Close()

	var timers []*Timer
	for rows.Next() {
		t, err := scanTimer(rows)
		if err != nil {
			return nil, err
		}
		timers = append(timers, t)
	}
	return timers, rows.Err()
}

// RescheduleTimer moves a timer to its next occurrence.
func (r *Repository) RescheduleTimer(ctx context.Context, id string, next time.Time) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE timers SET scheduled_time = ? WHERE id = ?",
		next.UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("rescheduling timer %s: %w", id, err)
	}
	return requireRowAffected(result, ErrTimerNotFound)
}

// DeleteTimer removes a timer.
func (r *Repository) DeleteTimer(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM timers WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting timer %s: %w", id, err)
	}
	return requireRowAffected(result, ErrTimerNotFound)
}

// ─── Encoding / scanning ─────────────────────────────────────────────────────

func encodeSchedule(s *Schedule) (trigger, settings, policy string, err error) {
	triggerJSON, err := json.Marshal(scheduleTrigger{
		Kind:          s.Kind,
		At:            s.At,
		OffsetMinutes: s.OffsetMinutes,
		Days:          s.Days,
	})
	if err != nil {
		return "", "", "", fmt.Errorf("encoding trigger for %s: %w", s.ID, err)
	}
	settingsJSON, err := json.Marshal(s.Settings)
	if err != nil {
		return "", "", "", fmt.Errorf("encoding settings for %s: %w", s.ID, err)
	}
	policyJSON, err := json.Marshal(s.Dispatch)
	if err != nil {
		return "", "", "", fmt.Errorf("encoding dispatch for %s: %w", s.ID, err)
	}
	return string(triggerJSON), string(settingsJSON), string(policyJSON), nil
}

func encodeTimer(t *Timer) (settings, days string, err error) {
	settingsJSON, err := json.Marshal(t.Settings)
	if err != nil {
		return "", "", fmt.Errorf("encoding settings for %s: %w", t.ID, err)
	}
	daysJSON, err := json.Marshal(t.RecurringDays)
	if err != nil {
		return "", "", fmt.Errorf("encoding recurring days for %s: %w", t.ID, err)
	}
	return string(settingsJSON), string(daysJSON), nil
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSchedule(sc scanner) (*Schedule, error) {
	var s Schedule
	var enabled int
	var trigger, settings, policy, createdAt, updatedAt string

	err := sc.Scan(&s.ID, &s.GroupID, &s.Name, &enabled, &trigger, &s.Action, &settings, &policy, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	s.Enabled = enabled != 0

	var trig scheduleTrigger
	if err := json.Unmarshal([]byte(trigger), &trig); err != nil {
		return nil, fmt.Errorf("decoding trigger for %s: %w", s.ID, err)
	}
	s.Kind = trig.Kind
	s.At = trig.At
	s.OffsetMinutes = trig.OffsetMinutes
	s.Days = trig.Days

	if err := json.Unmarshal([]byte(settings), &s.Settings); err != nil {
		return nil, fmt.Errorf("decoding settings for %s: %w", s.ID, err)
	}
	if err := json.Unmarshal([]byte(policy), &s.Dispatch); err != nil {
		return nil, fmt.Errorf("decoding dispatch for %s: %w", s.ID, err)
	}
	if s.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for %s: %w", s.ID, err)
	}
	if s.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at for %s: %w", s.ID, err)
	}

	return &s, nil
}

func scanTimer(sc scanner) (*Timer, error) {
	var t Timer
	var settings, days, scheduled, createdAt string
	var recurring int

	err := sc.Scan(&t.ID, &t.DeviceID, &t.Action, &settings, &scheduled, &recurring, &days, &createdAt)
	if err != nil {
		return nil, err
	}

	t.IsRecurring = recurring != 0
	if err := json.Unmarshal([]byte(settings), &t.Settings); err != nil {
		return nil, fmt.Errorf("decoding settings for %s: %w", t.ID, err)
	}
	if err := json.Unmarshal([]byte(days), &t.RecurringDays); err != nil {
		return nil, fmt.Errorf("decoding recurring days for %s: %w", t.ID, err)
	}
	if t.ScheduledTime, err = time.Parse(time.RFC3339Nano, scheduled); err != nil {
		return nil, fmt.Errorf("parsing scheduled_time for %s: %w", t.ID, err)
	}
	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for %s: %w", t.ID, err)
	}

	return &t, nil
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
