package automation

import (
	"time"

	"github.com/samber/lo"

	"github.com/draycott/haven-core/internal/solar"
)

// TriggerEvaluator matches rule triggers against device events and
// scheduler ticks.
//
// Time matching has minute granularity: a time-based trigger fires on
// the tick whose minute equals the target minute. Solar targets are
// recomputed per tick from the site calendar.
type TriggerEvaluator struct {
	calendar *solar.Calendar
}

// NewTriggerEvaluator creates an evaluator. The calendar may be nil
// when no solar triggers are used; solar triggers then never match.
func NewTriggerEvaluator(calendar *solar.Calendar) *TriggerEvaluator {
	return &TriggerEvaluator{calendar: calendar}
}

// MatchesEvent reports whether a trigger fires for a device event.
// Only device_state_change and sensor_threshold triggers are
// event-driven; other kinds never match events.
func (e *TriggerEvaluator) MatchesEvent(t Trigger, ev Event) (bool, error) {
	switch t.Kind {
	case TriggerDeviceState:
		if t.DeviceID != ev.DeviceID {
			return false, nil
		}
		value, changed := ev.Changed[t.Field]
		if !changed {
			return false, nil
		}
		// Without an operator, any change of the watched field fires.
		if t.Operator == "" {
			return true, nil
		}
		return compare(t.Operator, value, t.Value)

	case TriggerSensor:
		if t.DeviceID != ev.DeviceID {
			return false, nil
		}
		value, changed := ev.Changed[t.Field]
		if !changed {
			return false, nil
		}
		return compare(t.Operator, value, t.Value)

	default:
		return false, nil
	}
}

// MatchesTick reports whether a time-based trigger fires at now.
// Non-time triggers never match ticks.
func (e *TriggerEvaluator) MatchesTick(t Trigger, now time.Time) bool {
	if t.Kind != TriggerTime {
		return false
	}
	if len(t.Days) > 0 && !lo.Contains(t.Days, now.Weekday()) {
		return false
	}

	switch t.Event {
	case TimeAt:
		target, err := parseClock(t.At)
		if err != nil {
			return false
		}
		return now.Hour()*60+now.Minute() == target

	case TimeSunrise, TimeSunset:
		if e.calendar == nil {
			return false
		}
		target, err := e.calendar.EventTime(solar.Event(t.Event), t.OffsetMinutes, now)
		if err != nil {
			// No such event today (polar day/night)
			return false
		}
		return sameMinute(target, now)

	default:
		return false
	}
}

// sameMinute reports whether two instants fall in the same wall-clock
// minute.
func sameMinute(a, b time.Time) bool {
	a = a.Truncate(time.Minute)
	b = b.In(a.Location()).Truncate(time.Minute)
	return a.Equal(b)
}
