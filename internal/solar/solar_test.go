package solar

import (
	"testing"
	"time"
)

// London, mid-June: sunrise well before 06:00 local, sunset after 21:00.
func TestCalendarLondonSummer(t *testing.T) {
	loc, err := time.LoadLocation("Europe/London")
	if err != nil {
		t.Fatalf("loading timezone: %v", err)
	}

	cal := NewCalendar(51.5074, -0.1278, loc)
	date := time.Date(2026, 6, 15, 12, 0, 0, 0, loc)

	rise, ok := cal.Sunrise(date)
	if !ok {
		t.Fatal("Sunrise() not available for London in June")
	}
	if rise.Hour() > 6 {
		t.Errorf("Sunrise() = %v, expected before 06:00 local", rise)
	}
	if rise.Location() != loc {
		t.Errorf("Sunrise() location = %v, want %v", rise.Location(), loc)
	}

	set, ok := cal.Sunset(date)
	if !ok {
		t.Fatal("Sunset() not available for London in June")
	}
	if set.Hour() < 20 {
		t.Errorf("Sunset() = %v, expected after 20:00 local", set)
	}
	if !set.After(rise) {
		t.Error("Sunset() should be after Sunrise()")
	}
}

func TestEventTimeOffset(t *testing.T) {
	cal := NewCalendar(51.5074, -0.1278, time.UTC)
	date := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

	base, err := cal.EventTime(EventSunset, 0, date)
	if err != nil {
		t.Fatalf("EventTime() error: %v", err)
	}

	early, err := cal.EventTime(EventSunset, -30, date)
	if err != nil {
		t.Fatalf("EventTime() with offset error: %v", err)
	}

	if got := base.Sub(early); got != 30*time.Minute {
		t.Errorf("offset -30 shifted by %v, want 30m", got)
	}
}

func TestEventTimeUnknownEvent(t *testing.T) {
	cal := NewCalendar(0, 0, time.UTC)
	if _, err := cal.EventTime("noon", 0, time.Now()); err == nil {
		t.Error("EventTime() with unknown event should return error")
	}
}

// Svalbard in late June has no sunset (polar day).
func TestPolarDay(t *testing.T) {
	cal := NewCalendar(78.22, 15.65, time.UTC)
	date := time.Date(2026, 6, 21, 12, 0, 0, 0, time.UTC)

	if _, ok := cal.Sunset(date); ok {
		t.Error("Sunset() during polar day should report not available")
	}
	if _, err := cal.EventTime(EventSunset, 0, date); err == nil {
		t.Error("EventTime() during polar day should return error")
	}
}

func TestNewCalendarNilLocation(t *testing.T) {
	cal := NewCalendar(51.5, 0, nil)
	if cal.location != time.UTC {
		t.Error("NewCalendar(nil location) should default to UTC")
	}
}
