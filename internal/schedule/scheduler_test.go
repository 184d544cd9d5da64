package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/draycott/haven-core/internal/solar"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

type mockSink struct {
	mu        sync.Mutex
	schedules []Schedule
	timers    []Timer
	err       error
}

func (m *mockSink) ScheduleDue(_ context.Context, s Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules = append(m.schedules, s)
	return m.err
}

func (m *mockSink) TimerDue(_ context.Context, t Timer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timers = append(m.timers, t)
	return m.err
}

func (m *mockSink) firedTimers() []Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Timer(nil), m.timers...)
}

func (m *mockSink) firedSchedules() []Schedule {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Schedule(nil), m.schedules...)
}

// Monday in the test week.
var monday = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

func newTestScheduler(t *testing.T, now time.Time) (*Scheduler, *Repository, *mockSink) {
	t.Helper()
	repo := newTestRepo(t)
	sink := &mockSink{}
	sched := NewScheduler(Options{
		Repository: repo,
		Sink:       sink,
		Calendar:   solar.NewCalendar(51.5072, -0.1276, time.UTC),
		Location:   time.UTC,
		Clock:      fixedClock{now: now},
		Interval:   time.Minute,
	})
	return sched, repo, sink
}

func TestTimerFiresWhenDue(t *testing.T) {
	sched, repo, sink := newTestScheduler(t, monday)
	ctx := context.Background()

	tm := &Timer{
		DeviceID:      "light-hall",
		Action:        "turn_off",
		ScheduledTime: monday.Add(5 * time.Minute),
	}
	if err := sched.SetTimer(ctx, tm); err != nil {
		t.Fatalf("SetTimer() error: %v", err)
	}
	if tm.ID == "" {
		t.Fatal("SetTimer() did not assign an ID")
	}

	// A tick before the scheduled time does nothing.
	sched.Tick(ctx, monday.Add(4*time.Minute))
	if len(sink.firedTimers()) != 0 {
		t.Fatal("timer fired early")
	}

	sched.Tick(ctx, monday.Add(5*time.Minute))
	fired := sink.firedTimers()
	if len(fired) != 1 || fired[0].DeviceID != "light-hall" {
		t.Fatalf("fired timers = %+v, want one for light-hall", fired)
	}

	// One-shot timers are consumed.
	if _, err := repo.GetTimer(ctx, tm.ID); !errors.Is(err, ErrTimerNotFound) {
		t.Errorf("GetTimer() after fire = %v, want ErrTimerNotFound", err)
	}
}

func TestMissedTimerSkipped(t *testing.T) {
	sched, repo, sink := newTestScheduler(t, monday)
	ctx := context.Background()

	tm := &Timer{
		DeviceID:      "light-hall",
		Action:        "turn_on",
		ScheduledTime: monday.Add(time.Minute),
	}
	if err := sched.SetTimer(ctx, tm); err != nil {
		t.Fatalf("SetTimer() error: %v", err)
	}

	// First tick six minutes late, well past the polling interval.
	sched.Tick(ctx, monday.Add(7*time.Minute))

	if len(sink.firedTimers()) != 0 {
		t.Error("missed timer fired late, want skip")
	}
	if _, err := repo.GetTimer(ctx, tm.ID); !errors.Is(err, ErrTimerNotFound) {
		t.Errorf("GetTimer() after skip = %v, want ErrTimerNotFound", err)
	}
}

func TestMissedWindowBoundary(t *testing.T) {
	tests := []struct {
		name      string
		late      time.Duration
		wantFired int
	}{
		{name: "exactly one interval late still fires", late: time.Minute, wantFired: 1},
		{name: "past one interval is skipped", late: time.Minute + time.Second, wantFired: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sched, _, sink := newTestScheduler(t, monday)
			ctx := context.Background()

			tm := &Timer{
				DeviceID:      "light-hall",
				Action:        "turn_on",
				ScheduledTime: monday.Add(time.Minute),
			}
			if err := sched.SetTimer(ctx, tm); err != nil {
				t.Fatalf("SetTimer() error: %v", err)
			}

			sched.Tick(ctx, tm.ScheduledTime.Add(tt.late))
			if got := len(sink.firedTimers()); got != tt.wantFired {
				t.Errorf("fired timers = %d, want %d", got, tt.wantFired)
			}
		})
	}
}

func TestRecurringTimerRescheduled(t *testing.T) {
	sched, repo, sink := newTestScheduler(t, monday)
	ctx := context.Background()

	at := monday.Add(time.Minute) // Monday 12:01
	tm := &Timer{
		DeviceID:      "heater-study",
		Action:        "turn_off",
		ScheduledTime: at,
		IsRecurring:   true,
		RecurringDays: []time.Weekday{time.Monday},
	}
	if err := sched.SetTimer(ctx, tm); err != nil {
		t.Fatalf("SetTimer() error: %v", err)
	}

	sched.Tick(ctx, at)

	if len(sink.firedTimers()) != 1 {
		t.Fatalf("fired timers = %d, want 1", len(sink.firedTimers()))
	}

	got, err := repo.GetTimer(ctx, tm.ID)
	if err != nil {
		t.Fatalf("GetTimer() after fire: %v", err)
	}
	want := at.AddDate(0, 0, 7)
	if !got.ScheduledTime.Equal(want) {
		t.Errorf("rescheduled to %v, want next Monday %v", got.ScheduledTime, want)
	}
}

func TestSetTimerRejectsPast(t *testing.T) {
	sched, _, _ := newTestScheduler(t, monday)

	err := sched.SetTimer(context.Background(), &Timer{
		DeviceID:      "light-hall",
		Action:        "turn_on",
		ScheduledTime: monday.Add(-time.Minute),
	})
	if !errors.Is(err, ErrInvalidTimer) {
		t.Errorf("SetTimer(past) = %v, want ErrInvalidTimer", err)
	}
}

func TestScheduleFiresAtClockTime(t *testing.T) {
	sched, repo, sink := newTestScheduler(t, monday)
	ctx := context.Background()

	s := validSchedule() // Mon/Wed/Fri at 07:15
	if err := repo.CreateSchedule(ctx, s); err != nil {
		t.Fatalf("CreateSchedule() error: %v", err)
	}

	fireAt := time.Date(2026, 8, 24, 7, 15, 30, 0, time.UTC)
	sched.Tick(ctx, fireAt)

	fired := sink.firedSchedules()
	if len(fired) != 1 || fired[0].ID != s.ID {
		t.Fatalf("fired schedules = %+v, want one %s", fired, s.ID)
	}

	// The next minute, and a day off the rota, are both quiet.
	sched.Tick(ctx, fireAt.Add(time.Minute))
	sched.Tick(ctx, fireAt.AddDate(0, 0, 1)) // Tuesday
	if len(sink.firedSchedules()) != 1 {
		t.Errorf("fired schedules = %d, want still 1", len(sink.firedSchedules()))
	}
}

func TestDisabledScheduleIgnored(t *testing.T) {
	sched, repo, sink := newTestScheduler(t, monday)
	ctx := context.Background()

	s := validSchedule()
	s.Enabled = false
	repo.CreateSchedule(ctx, s)

	sched.Tick(ctx, time.Date(2026, 8, 24, 7, 15, 0, 0, time.UTC))
	if len(sink.firedSchedules()) != 0 {
		t.Error("disabled schedule fired")
	}
}

func TestSunsetScheduleUsesCalendar(t *testing.T) {
	sched, repo, sink := newTestScheduler(t, monday)
	ctx := context.Background()

	s := validSchedule()
	s.Kind = KindSunset
	s.At = ""
	s.OffsetMinutes = -30
	repo.CreateSchedule(ctx, s)

	cal := solar.NewCalendar(51.5072, -0.1276, time.UTC)
	target, err := cal.EventTime(solar.EventSunset, -30, monday)
	if err != nil {
		t.Fatalf("EventTime() error: %v", err)
	}

	sched.Tick(ctx, target)
	if len(sink.firedSchedules()) != 1 {
		t.Errorf("fired schedules = %d at sunset-30m, want 1", len(sink.firedSchedules()))
	}

	sink.mu.Lock()
	sink.schedules = nil
	sink.mu.Unlock()

	sched.Tick(ctx, target.Add(10*time.Minute))
	if len(sink.firedSchedules()) != 0 {
		t.Error("schedule fired outside its minute")
	}
}

func TestEnableScheduleToggles(t *testing.T) {
	sched, repo, sink := newTestScheduler(t, monday)
	ctx := context.Background()

	s := validSchedule() // Mon/Wed/Fri at 07:15
	if err := repo.CreateSchedule(ctx, s); err != nil {
		t.Fatalf("CreateSchedule() error: %v", err)
	}

	if err := sched.EnableSchedule(ctx, s.ID, false); err != nil {
		t.Fatalf("EnableSchedule(false) error: %v", err)
	}
	fireAt := time.Date(2026, 8, 24, 7, 15, 0, 0, time.UTC)
	sched.Tick(ctx, fireAt)
	if len(sink.firedSchedules()) != 0 {
		t.Fatal("disabled schedule fired")
	}

	if err := sched.EnableSchedule(ctx, s.ID, true); err != nil {
		t.Fatalf("EnableSchedule(true) error: %v", err)
	}
	sched.Tick(ctx, fireAt)
	if len(sink.firedSchedules()) != 1 {
		t.Errorf("fired schedules = %d after re-enable, want 1", len(sink.firedSchedules()))
	}
}

func TestSaveScheduleAssignsID(t *testing.T) {
	sched, repo, _ := newTestScheduler(t, monday)
	ctx := context.Background()

	s := validSchedule()
	s.ID = ""
	if err := sched.SaveSchedule(ctx, s); err != nil {
		t.Fatalf("SaveSchedule() error: %v", err)
	}
	if s.ID == "" {
		t.Fatal("SaveSchedule() did not assign an ID")
	}
	if _, err := repo.GetSchedule(ctx, s.ID); err != nil {
		t.Errorf("GetSchedule() after save: %v", err)
	}
}
