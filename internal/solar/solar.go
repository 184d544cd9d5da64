// Package solar computes sunrise and sunset times for the site location,
// used by solar triggers and schedules.
package solar

import (
	"fmt"
	"time"

	"github.com/nathan-osman/go-sunrise"
)

// Event identifies a solar event.
type Event string

// Solar events usable in triggers and schedules.
const (
	EventSunrise Event = "sunrise"
	EventSunset  Event = "sunset"
)

// Clock abstracts wall-clock time so triggers and schedules can be
// tested with fixed instants.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// Calendar computes sunrise and sunset times for a fixed site location.
//
// All returned times are in the site's timezone. Calendar is immutable
// and safe for concurrent use.
type Calendar struct {
	latitude  float64
	longitude float64
	location  *time.Location
}

// NewCalendar creates a Calendar for the given coordinates and timezone.
func NewCalendar(latitude, longitude float64, location *time.Location) *Calendar {
	if location == nil {
		location = time.UTC
	}
	return &Calendar{
		latitude:  latitude,
		longitude: longitude,
		location:  location,
	}
}

// Sunrise returns the sunrise time for the calendar date of t.
//
// The second return value is false during polar night or polar day,
// when the sun does not rise on that date.
func (c *Calendar) Sunrise(t time.Time) (time.Time, bool) {
	rise, _ := c.times(t)
	if rise.IsZero() {
		return time.Time{}, false
	}
	return rise.In(c.location), true
}

// Sunset returns the sunset time for the calendar date of t.
//
// The second return value is false during polar night or polar day,
// when the sun does not set on that date.
func (c *Calendar) Sunset(t time.Time) (time.Time, bool) {
	_, set := c.times(t)
	if set.IsZero() {
		return time.Time{}, false
	}
	return set.In(c.location), true
}

// EventTime returns the time of a solar event on the calendar date of t,
// shifted by offsetMinutes (negative for before, positive for after).
//
// Returns an error for unknown events or when the event does not occur
// on that date (polar regions).
func (c *Calendar) EventTime(event Event, offsetMinutes int, t time.Time) (time.Time, error) {
	var base time.Time
	var ok bool

	switch event {
	case EventSunrise:
		base, ok = c.Sunrise(t)
	case EventSunset:
		base, ok = c.Sunset(t)
	default:
		return time.Time{}, fmt.Errorf("solar: unknown event %q", event)
	}

	if !ok {
		return time.Time{}, fmt.Errorf("solar: no %s on %s at this latitude", event, t.Format("2006-01-02"))
	}

	return base.Add(time.Duration(offsetMinutes) * time.Minute), nil
}

// times computes raw UTC sunrise/sunset for the date of t in the site timezone.
func (c *Calendar) times(t time.Time) (time.Time, time.Time) {
	local := t.In(c.location)
	return sunrise.SunriseSunset(
		c.latitude, c.longitude,
		local.Year(), local.Month(), local.Day(),
	)
}
