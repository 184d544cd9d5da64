package automation

import (
	"testing"
	"time"

	"github.com/draycott/haven-core/internal/solar"
)

func TestMatchesEvent(t *testing.T) {
	eval := NewTriggerEvaluator(nil)
	ev := Event{
		DeviceID:  "sensor-hall",
		Changed:   map[string]any{"motion": true, "lux": 12.0},
		Timestamp: time.Now(),
	}

	tests := []struct {
		name    string
		trigger Trigger
		want    bool
	}{
		{"any change of watched field", Trigger{Kind: TriggerDeviceState, DeviceID: "sensor-hall", Field: "motion"}, true},
		{"other device", Trigger{Kind: TriggerDeviceState, DeviceID: "sensor-porch", Field: "motion"}, false},
		{"field not in change set", Trigger{Kind: TriggerDeviceState, DeviceID: "sensor-hall", Field: "battery"}, false},
		{"operator filter holds", Trigger{Kind: TriggerDeviceState, DeviceID: "sensor-hall", Field: "motion", Operator: OpEquals, Value: true}, true},
		{"operator filter rejects", Trigger{Kind: TriggerDeviceState, DeviceID: "sensor-hall", Field: "motion", Operator: OpEquals, Value: false}, false},
		{"sensor threshold crossed", Trigger{Kind: TriggerSensor, DeviceID: "sensor-hall", Field: "lux", Operator: OpLessThan, Value: 20}, true},
		{"sensor threshold not crossed", Trigger{Kind: TriggerSensor, DeviceID: "sensor-hall", Field: "lux", Operator: OpGreaterThan, Value: 20}, false},
		{"manual never matches events", Trigger{Kind: TriggerManual}, false},
		{"time never matches events", Trigger{Kind: TriggerTime, Event: TimeAt, At: "07:00"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := eval.MatchesEvent(tt.trigger, ev)
			if err != nil {
				t.Fatalf("MatchesEvent() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("MatchesEvent() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatchesTickFixedTime(t *testing.T) {
	eval := NewTriggerEvaluator(nil)
	trigger := Trigger{Kind: TriggerTime, Event: TimeAt, At: "07:15"}

	// Tuesday 07:15, seconds ignored.
	at := time.Date(2026, 8, 25, 7, 15, 42, 0, time.UTC)
	if !eval.MatchesTick(trigger, at) {
		t.Error("MatchesTick() = false at the target minute")
	}
	if eval.MatchesTick(trigger, at.Add(time.Minute)) {
		t.Error("MatchesTick() = true a minute late")
	}
}

func TestMatchesTickDayFilter(t *testing.T) {
	eval := NewTriggerEvaluator(nil)
	trigger := Trigger{
		Kind: TriggerTime, Event: TimeAt, At: "07:15",
		Days: []time.Weekday{time.Monday, time.Wednesday},
	}

	monday := time.Date(2026, 8, 24, 7, 15, 0, 0, time.UTC)
	if !eval.MatchesTick(trigger, monday) {
		t.Error("MatchesTick() = false on a listed day")
	}
	if eval.MatchesTick(trigger, monday.AddDate(0, 0, 1)) {
		t.Error("MatchesTick() = true on an unlisted day")
	}
}

func TestMatchesTickSolar(t *testing.T) {
	cal := solar.NewCalendar(51.5072, -0.1276, time.UTC)
	eval := NewTriggerEvaluator(cal)
	trigger := Trigger{Kind: TriggerTime, Event: TimeSunset, OffsetMinutes: -30}

	day := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	target, err := cal.EventTime(solar.EventSunset, -30, day)
	if err != nil {
		t.Fatalf("EventTime() error: %v", err)
	}

	if !eval.MatchesTick(trigger, target) {
		t.Error("MatchesTick() = false at sunset minus 30 minutes")
	}
	if eval.MatchesTick(trigger, target.Add(5*time.Minute)) {
		t.Error("MatchesTick() = true outside the target minute")
	}
}

func TestMatchesTickSolarWithoutCalendar(t *testing.T) {
	eval := NewTriggerEvaluator(nil)
	trigger := Trigger{Kind: TriggerTime, Event: TimeSunrise}

	if eval.MatchesTick(trigger, time.Now()) {
		t.Error("solar trigger matched without a calendar")
	}
}
