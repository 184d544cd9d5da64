package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for schedule operations.
var (
	// ErrScheduleNotFound is returned when a schedule ID does not exist.
	ErrScheduleNotFound = errors.New("schedule: not found")

	// ErrTimerNotFound is returned when a timer ID does not exist.
	ErrTimerNotFound = errors.New("schedule: timer not found")

	// ErrInvalidSchedule is returned when a schedule fails validation.
	ErrInvalidSchedule = errors.New("schedule: invalid schedule")

	// ErrInvalidTimer is returned when a timer fails validation.
	ErrInvalidTimer = errors.New("schedule: invalid timer")
)

// TriggerKind selects what a schedule keys on.
type TriggerKind string

// Schedule trigger kinds.
const (
	// KindTime fires at a fixed "HH:MM" local time.
	KindTime TriggerKind = "time"

	// KindSunrise fires at sunrise, shifted by OffsetMinutes.
	KindSunrise TriggerKind = "sunrise"

	// KindSunset fires at sunset, shifted by OffsetMinutes.
	KindSunset TriggerKind = "sunset"
)

// maxSolarOffsetMinutes bounds sunrise/sunset offsets to ±2 hours.
const maxSolarOffsetMinutes = 120

// Dispatch carries pacing options through to action execution.
type Dispatch struct {
	Sequential  bool `json:"sequential,omitempty"`
	IntervalMS  int  `json:"interval_ms,omitempty"`
	RandomOrder bool `json:"random_order,omitempty"`
}

// Schedule is a recurring weekly group action: "every Mon/Wed/Fri at
// 07:15, turn on the downstairs lights" or "30 minutes before sunset,
// close the blinds".
type Schedule struct {
	ID      string `json:"id"`
	GroupID string `json:"group_id"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`

	Kind          TriggerKind `json:"kind"`
	At            string      `json:"at,omitempty"` // "HH:MM" when Kind is time
	OffsetMinutes int         `json:"offset_minutes,omitempty"`

	// Days lists the weekdays the schedule runs on (0 = Sunday).
	// Must not be empty.
	Days []time.Weekday `json:"days"`

	Action   string         `json:"action"`
	Settings map[string]any `json:"settings,omitempty"`
	Dispatch Dispatch       `json:"dispatch"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Timer is a one-device action at a point in time, optionally
// recurring on a weekly pattern.
type Timer struct {
	ID       string         `json:"id"`
	DeviceID string         `json:"device_id"`
	Action   string         `json:"action"`
	Settings map[string]any `json:"settings,omitempty"`

	// ScheduledTime is when the timer fires. Must be strictly in the
	// future when the timer is set.
	ScheduledTime time.Time `json:"scheduled_time"`

	IsRecurring bool `json:"is_recurring"`

	// RecurringDays lists the weekdays a recurring timer repeats on
	// (0 = Sunday). Required when IsRecurring.
	RecurringDays []time.Weekday `json:"recurring_days,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Sink receives due schedules and timers. Implemented by the
// automation engine.
type Sink interface {
	ScheduleDue(ctx context.Context, s Schedule) error
	TimerDue(ctx context.Context, t Timer) error
}

// Validate checks a schedule at save time.
func (s *Schedule) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidSchedule)
	}
	if s.GroupID == "" {
		return fmt.Errorf("%w: group_id is required", ErrInvalidSchedule)
	}
	if s.Action == "" {
		return fmt.Errorf("%w: action is required", ErrInvalidSchedule)
	}
	if len(s.Days) == 0 {
		return fmt.Errorf("%w: at least one day is required", ErrInvalidSchedule)
	}
	for _, d := range s.Days {
		if d < time.Sunday || d > time.Saturday {
			return fmt.Errorf("%w: invalid weekday %d", ErrInvalidSchedule, d)
		}
	}

	switch s.Kind {
	case KindTime:
		if _, _, err := parseClock(s.At); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
		}
	case KindSunrise, KindSunset:
		if s.OffsetMinutes < -maxSolarOffsetMinutes || s.OffsetMinutes > maxSolarOffsetMinutes {
			return fmt.Errorf("%w: offset_minutes must be within ±%d", ErrInvalidSchedule, maxSolarOffsetMinutes)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSchedule, s.Kind)
	}

	return nil
}

// Validate checks a timer at save time. now is the reference instant
// for the strictly-future requirement.
func (t *Timer) Validate(now time.Time) error {
	if t.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidTimer)
	}
	if t.DeviceID == "" {
		return fmt.Errorf("%w: device_id is required", ErrInvalidTimer)
	}
	if t.Action == "" {
		return fmt.Errorf("%w: action is required", ErrInvalidTimer)
	}
	if !t.ScheduledTime.After(now) {
		return fmt.Errorf("%w: scheduled_time must be in the future", ErrInvalidTimer)
	}
	if t.IsRecurring && len(t.RecurringDays) == 0 {
		return fmt.Errorf("%w: recurring timer requires at least one day", ErrInvalidTimer)
	}
	for _, d := range t.RecurringDays {
		if d < time.Sunday || d > time.Saturday {
			return fmt.Errorf("%w: invalid weekday %d", ErrInvalidTimer, d)
		}
	}
	return nil
}

// parseClock parses "HH:MM" into hour and minute.
func parseClock(s string) (int, int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	return h, m, nil
}
