package schedule

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/samber/lo"

	"github.com/draycott/haven-core/internal/solar"
)

// Logger is the logging surface the scheduler needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// TickHandler is called once per polling tick, after due timers and
// schedules have been processed. The engine hangs time-based rule
// triggers off it.
type TickHandler func(ctx context.Context, now time.Time)

// Options configures a Scheduler.
type Options struct {
	Repository *Repository
	Sink       Sink
	Calendar   *solar.Calendar
	Location   *time.Location
	Clock      solar.Clock
	Interval   time.Duration
	OnTick     TickHandler
	Logger     Logger
}

// Scheduler polls for due timers and weekly schedules and hands them to
// the sink. One instance runs for the lifetime of the process.
type Scheduler struct {
	repo     *Repository
	sink     Sink
	calendar *solar.Calendar
	location *time.Location
	clock    solar.Clock
	interval time.Duration
	onTick   TickHandler
	logger   Logger
}

// NewScheduler creates a scheduler from options, filling sane defaults.
func NewScheduler(opts Options) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = solar.SystemClock{}
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &Scheduler{
		repo:     opts.Repository,
		sink:     opts.Sink,
		calendar: opts.Calendar,
		location: opts.Location,
		clock:    opts.Clock,
		interval: opts.Interval,
		onTick:   opts.OnTick,
		logger:   opts.Logger,
	}
}

// Run polls until the context is cancelled. An immediate first tick
// catches timers that came due while the process was down.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval.String())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick(ctx, s.clock.Now())

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case now := <-ticker.C:
			s.Tick(ctx, now)
		}
	}
}

// Tick processes everything due at the given instant. Exposed so tests
// can drive the scheduler without real time.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	s.processTimers(ctx, now)
	s.processSchedules(ctx, now)
	if s.onTick != nil {
		s.onTick(ctx, now)
	}
}

// ─── Timers ──────────────────────────────────────────────────────────────────

// missedWindow is how late a timer may fire before it is skipped
// instead. An occurrence more than one polling interval in the past
// is treated as missed.
func (s *Scheduler) missedWindow() time.Duration {
	return s.interval
}

// SetTimer validates and stores a timer, assigning an ID when absent.
func (s *Scheduler) SetTimer(ctx context.Context, t *Timer) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if err := t.Validate(s.clock.Now()); err != nil {
		return err
	}
	if err := s.repo.CreateTimer(ctx, t); err != nil {
		return err
	}
	s.logger.Info("timer set",
		"timer_id", t.ID,
		"device_id", t.DeviceID,
		"action", t.Action,
		"at", t.ScheduledTime.In(s.location).Format(time.RFC3339),
		"recurring", t.IsRecurring,
	)
	return nil
}

// CancelTimer removes a pending timer.
func (s *Scheduler) CancelTimer(ctx context.Context, id string) error {
	if err := s.repo.DeleteTimer(ctx, id); err != nil {
		return err
	}
	s.logger.Info("timer cancelled", "timer_id", id)
	return nil
}

// ListTimers returns all pending timers, soonest first.
func (s *Scheduler) ListTimers(ctx context.Context) ([]*Timer, error) {
	return s.repo.ListTimers(ctx)
}

func (s *Scheduler) processTimers(ctx context.Context, now time.Time) {
	due, err := s.repo.DueTimers(ctx, now)
	if err != nil {
		s.logger.Error("querying due timers", "error", err)
		return
	}

	for _, t := range due {
		late := now.Sub(t.ScheduledTime)
		if late > s.missedWindow() {
			s.logger.Warn("timer window missed, skipping",
				"timer_id", t.ID,
				"device_id", t.DeviceID,
				"scheduled", t.ScheduledTime.Format(time.RFC3339),
				"late", late.String(),
			)
		} else if err := s.sink.TimerDue(ctx, *t); err != nil {
			s.logger.Error("timer dispatch failed",
				"timer_id", t.ID,
				"device_id", t.DeviceID,
				"error", err,
			)
		}

		// Fired or skipped, the occurrence is consumed either way.
		s.finishTimer(ctx, t, now)
	}
}

// finishTimer reschedules a recurring timer or deletes a one-shot.
func (s *Scheduler) finishTimer(ctx context.Context, t *Timer, now time.Time) {
	if !t.IsRecurring {
		if err := s.repo.DeleteTimer(ctx, t.ID); err != nil {
			s.logger.Error("deleting fired timer", "timer_id", t.ID, "error", err)
		}
		return
	}

	next, err := s.nextOccurrence(t, now)
	if err != nil {
		s.logger.Error("computing next occurrence", "timer_id", t.ID, "error", err)
		return
	}
	if err := s.repo.RescheduleTimer(ctx, t.ID, next); err != nil {
		s.logger.Error("rescheduling timer", "timer_id", t.ID, "error", err)
		return
	}
	s.logger.Debug("timer rescheduled",
		"timer_id", t.ID,
		"next", next.In(s.location).Format(time.RFC3339),
	)
}

// nextOccurrence finds the next weekly repeat after the given instant,
// keeping the timer's original wall-clock time in the site timezone.
func (s *Scheduler) nextOccurrence(t *Timer, after time.Time) (time.Time, error) {
	local := t.ScheduledTime.In(s.location)

	days := lo.Map(t.RecurringDays, func(d time.Weekday, _ int) string {
		return strconv.Itoa(int(d))
	})
	spec := fmt.Sprintf("%d %d * * %s", local.Minute(), local.Hour(), strings.Join(days, ","))

	parsed, err := cron.ParseStandard(spec)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing recurrence %q: %w", spec, err)
	}
	return parsed.Next(after.In(s.location)), nil
}

// ─── Schedules ───────────────────────────────────────────────────────────────

// SaveSchedule validates and stores a schedule, assigning an ID when
// absent. Existing IDs are updated in place.
func (s *Scheduler) SaveSchedule(ctx context.Context, sched *Schedule) error {
	isNew := sched.ID == ""
	if isNew {
		sched.ID = uuid.NewString()
	}
	if err := sched.Validate(); err != nil {
		return err
	}
	if isNew {
		return s.repo.CreateSchedule(ctx, sched)
	}
	if err := s.repo.UpdateSchedule(ctx, sched); err != nil {
		if errors.Is(err, ErrScheduleNotFound) {
			return s.repo.CreateSchedule(ctx, sched)
		}
		return err
	}
	return nil
}

// EnableSchedule flips a schedule's enabled flag in place.
func (s *Scheduler) EnableSchedule(ctx context.Context, id string, enabled bool) error {
	sched, err := s.repo.GetSchedule(ctx, id)
	if err != nil {
		return err
	}
	if sched.Enabled == enabled {
		return nil
	}
	sched.Enabled = enabled
	if err := s.repo.UpdateSchedule(ctx, sched); err != nil {
		return err
	}
	s.logger.Info("schedule toggled", "schedule_id", id, "enabled", enabled)
	return nil
}

// DeleteSchedule removes a schedule.
func (s *Scheduler) DeleteSchedule(ctx context.Context, id string) error {
	return s.repo.DeleteSchedule(ctx, id)
}

// ListSchedules returns all schedules.
func (s *Scheduler) ListSchedules(ctx context.Context) ([]*Schedule, error) {
	return s.repo.ListSchedules(ctx)
}

func (s *Scheduler) processSchedules(ctx context.Context, now time.Time) {
	schedules, err := s.repo.ListEnabledSchedules(ctx)
	if err != nil {
		s.logger.Error("querying schedules", "error", err)
		return
	}

	local := now.In(s.location)
	for _, sched := range schedules {
		due, err := s.scheduleDue(sched, local)
		if err != nil {
			s.logger.Warn("schedule target unavailable",
				"schedule_id", sched.ID,
				"error", err,
			)
			continue
		}
		if !due {
			continue
		}
		if err := s.sink.ScheduleDue(ctx, *sched); err != nil {
			s.logger.Error("schedule dispatch failed",
				"schedule_id", sched.ID,
				"group_id", sched.GroupID,
				"error", err,
			)
		}
	}
}

// scheduleDue reports whether a schedule's target falls in the current
// minute of the given local time.
func (s *Scheduler) scheduleDue(sched *Schedule, local time.Time) (bool, error) {
	if !lo.Contains(sched.Days, local.Weekday()) {
		return false, nil
	}

	switch sched.Kind {
	case KindTime:
		h, m, err := parseClock(sched.At)
		if err != nil {
			return false, err
		}
		return local.Hour() == h && local.Minute() == m, nil
	case KindSunrise, KindSunset:
		target, err := s.calendar.EventTime(solar.Event(sched.Kind), sched.OffsetMinutes, local)
		if err != nil {
			return false, err
		}
		return sameMinute(target, local), nil
	default:
		return false, fmt.Errorf("unknown schedule kind %q", sched.Kind)
	}
}

func sameMinute(a, b time.Time) bool {
	return a.Truncate(time.Minute).Equal(b.Truncate(time.Minute))
}
