package automation

import (
	"fmt"
	"time"
)

// Validation limits.
const (
	// maxSolarOffsetMinutes bounds sunrise/sunset offsets to ±2 hours.
	maxSolarOffsetMinutes = 120
)

// ValidateRule checks a rule at save time. Execution-time concerns
// (devices offline, scope shrunk below RandomCount) are handled by the
// executor, not here.
//
// Returns:
//   - error: wrapping ErrInvalidRule, or nil if valid
func ValidateRule(r *Rule) error {
	if r == nil {
		return fmt.Errorf("%w: rule is nil", ErrInvalidRule)
	}
	if r.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidRule)
	}
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	if len(r.Triggers) == 0 {
		return fmt.Errorf("%w: at least one trigger is required", ErrInvalidRule)
	}
	if len(r.Actions) == 0 {
		return fmt.Errorf("%w: at least one action is required", ErrInvalidRule)
	}

	for i, t := range r.Triggers {
		if err := validateTrigger(t); err != nil {
			return fmt.Errorf("%w: trigger %d: %v", ErrInvalidRule, i, err)
		}
	}
	for i, c := range r.Conditions {
		if err := validateCondition(c); err != nil {
			return fmt.Errorf("%w: condition %d: %v", ErrInvalidRule, i, err)
		}
	}
	for i, a := range r.Actions {
		if err := validateAction(a); err != nil {
			return fmt.Errorf("%w: action %d: %v", ErrInvalidRule, i, err)
		}
	}

	return nil
}

// ValidateGroup checks a group at save time.
func ValidateGroup(g *Group) error {
	if g == nil {
		return fmt.Errorf("%w: group is nil", ErrInvalidGroup)
	}
	if g.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidGroup)
	}
	if g.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidGroup)
	}
	if g.Automation.Enabled && len(g.Automation.RuleIDs) == 0 {
		return fmt.Errorf("%w: automation enabled with no rules attached", ErrInvalidGroup)
	}
	return nil
}

func validateTrigger(t Trigger) error {
	switch t.Kind {
	case TriggerDeviceState:
		if t.DeviceID == "" {
			return fmt.Errorf("device_id is required")
		}
		if t.Field == "" {
			return fmt.Errorf("field is required")
		}

	case TriggerSensor:
		if t.DeviceID == "" {
			return fmt.Errorf("device_id is required")
		}
		if t.Field == "" {
			return fmt.Errorf("field is required")
		}
		if t.Operator == "" {
			return fmt.Errorf("operator is required")
		}
		if err := validateOperatorValue(t.Operator, t.Value); err != nil {
			return err
		}

	case TriggerTime:
		switch t.Event {
		case TimeAt:
			if _, err := parseClock(t.At); err != nil {
				return fmt.Errorf("at: %v", err)
			}
		case TimeSunrise, TimeSunset:
			if t.OffsetMinutes < -maxSolarOffsetMinutes || t.OffsetMinutes > maxSolarOffsetMinutes {
				return fmt.Errorf("offset_minutes must be within ±%d", maxSolarOffsetMinutes)
			}
		default:
			return fmt.Errorf("unknown time event %q", t.Event)
		}
		if err := validateDays(t.Days); err != nil {
			return err
		}

	case TriggerManual:
		// No parameters

	default:
		return fmt.Errorf("unknown trigger kind %q", t.Kind)
	}

	return nil
}

func validateCondition(c Condition) error {
	switch c.Kind {
	case ConditionDeviceState, ConditionSensorValue:
		if c.DeviceID == "" {
			return fmt.Errorf("device_id is required")
		}
		if c.Field == "" {
			return fmt.Errorf("field is required")
		}
		if c.Operator == "" {
			return fmt.Errorf("operator is required")
		}
		if err := validateOperatorValue(c.Operator, c.Value); err != nil {
			return err
		}

	case ConditionTimeRange:
		if _, err := parseClock(c.Start); err != nil {
			return fmt.Errorf("start: %v", err)
		}
		if _, err := parseClock(c.End); err != nil {
			return fmt.Errorf("end: %v", err)
		}

	case ConditionDayOfWeek:
		if len(c.Days) == 0 {
			return fmt.Errorf("at least one day is required")
		}
		if err := validateDays(c.Days); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unknown condition kind %q", c.Kind)
	}

	return nil
}

func validateAction(a Action) error {
	if a.Command == "" {
		return fmt.Errorf("command is required")
	}
	if a.DelaySeconds < 0 {
		return fmt.Errorf("delay_seconds must not be negative")
	}

	switch a.Target {
	case TargetAll:
		// Scope is resolved at execution time

	case TargetSpecific:
		if len(a.DeviceIDs) == 0 {
			return fmt.Errorf("specific target requires at least one device_id")
		}

	case TargetRandom:
		if a.RandomCount < 1 {
			return fmt.Errorf("random target requires random_count of at least 1")
		}

	default:
		return fmt.Errorf("unknown target %q", a.Target)
	}

	return nil
}

// validateOperatorValue checks operator/value pairings that can be
// verified without device state.
func validateOperatorValue(op Operator, value any) error {
	switch op {
	case OpEquals, OpNotEquals, OpContains:
		return nil

	case OpGreaterThan, OpLessThan, OpGreaterOrEqual, OpLessOrEqual:
		if _, ok := toFloat(value); !ok {
			return fmt.Errorf("operator %s requires a numeric value", op)
		}
		return nil

	case OpBetween:
		low, high, err := betweenBounds(value)
		if err != nil {
			return err
		}
		if low > high {
			return fmt.Errorf("between bounds must be ascending")
		}
		return nil

	default:
		return fmt.Errorf("unknown operator %q", op)
	}
}

func validateDays(days []time.Weekday) error {
	for _, d := range days {
		if d < time.Sunday || d > time.Saturday {
			return fmt.Errorf("invalid weekday %d", d)
		}
	}
	return nil
}

// betweenBounds extracts the [low, high] pair from a between value.
func betweenBounds(value any) (float64, float64, error) {
	pair, ok := value.([]any)
	if !ok || len(pair) != 2 {
		return 0, 0, fmt.Errorf("between requires a two-element array")
	}
	low, okLow := toFloat(pair[0])
	high, okHigh := toFloat(pair[1])
	if !okLow || !okHigh {
		return 0, 0, fmt.Errorf("between bounds must be numeric")
	}
	return low, high, nil
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	return h*60 + m, nil
}
