package automation

import (
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/draycott/haven-core/internal/solar"
)

// StateReader provides read access to current device state.
// Satisfied by *device.StateStore.
type StateReader interface {
	Field(deviceID, field string) (any, bool)
}

// ConditionEvaluator checks rule conditions against current device
// state and the clock.
type ConditionEvaluator struct {
	states StateReader
	clock  solar.Clock
}

// NewConditionEvaluator creates an evaluator. A nil clock uses the
// system clock.
func NewConditionEvaluator(states StateReader, clock solar.Clock) *ConditionEvaluator {
	if clock == nil {
		clock = solar.SystemClock{}
	}
	return &ConditionEvaluator{states: states, clock: clock}
}

// Evaluate reports whether all conditions hold. An empty condition
// list always passes. Evaluation stops at the first failing condition.
//
// Returns:
//   - bool: true when every condition holds
//   - error: on malformed conditions or non-comparable values
func (e *ConditionEvaluator) Evaluate(conditions []Condition) (bool, error) {
	for i, c := range conditions {
		ok, err := e.evaluateOne(c)
		if err != nil {
			return false, fmt.Errorf("condition %d: %w", i, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (e *ConditionEvaluator) evaluateOne(c Condition) (bool, error) {
	switch c.Kind {
	case ConditionDeviceState, ConditionSensorValue:
		actual, ok := e.states.Field(c.DeviceID, c.Field)
		if !ok {
			// Unknown state fails the guard rather than erroring:
			// a device that has never reported cannot satisfy it.
			return false, nil
		}
		return compare(c.Operator, actual, c.Value)

	case ConditionTimeRange:
		return e.inTimeRange(c.Start, c.End)

	case ConditionDayOfWeek:
		today := e.clock.Now().Weekday()
		return lo.Contains(c.Days, today), nil

	default:
		return false, fmt.Errorf("unknown condition kind %q", c.Kind)
	}
}

// inTimeRange checks whether the current time falls inside [start, end).
// Windows may wrap midnight: start "22:00" end "06:00" covers the night.
func (e *ConditionEvaluator) inTimeRange(start, end string) (bool, error) {
	startMin, err := parseClock(start)
	if err != nil {
		return false, err
	}
	endMin, err := parseClock(end)
	if err != nil {
		return false, err
	}

	now := e.clock.Now()
	nowMin := now.Hour()*60 + now.Minute()

	if startMin <= endMin {
		return nowMin >= startMin && nowMin < endMin, nil
	}
	// Wrapping window
	return nowMin >= startMin || nowMin < endMin, nil
}

// compare applies an operator to an actual state value and an expected
// value. Numeric operators require both sides numeric.
func compare(op Operator, actual, expected any) (bool, error) {
	switch op {
	case OpEquals:
		return looseEquals(actual, expected), nil

	case OpNotEquals:
		return !looseEquals(actual, expected), nil

	case OpGreaterThan, OpLessThan, OpGreaterOrEqual, OpLessOrEqual:
		a, okA := toFloat(actual)
		b, okB := toFloat(expected)
		if !okA || !okB {
			return false, fmt.Errorf("%w: %v %s %v", ErrNotComparable, actual, op, expected)
		}
		switch op {
		case OpGreaterThan:
			return a > b, nil
		case OpLessThan:
			return a < b, nil
		case OpGreaterOrEqual:
			return a >= b, nil
		default:
			return a <= b, nil
		}

	case OpBetween:
		a, okA := toFloat(actual)
		if !okA {
			return false, fmt.Errorf("%w: %v is not numeric", ErrNotComparable, actual)
		}
		low, high, err := betweenBounds(expected)
		if err != nil {
			return false, err
		}
		return a >= low && a <= high, nil

	case OpContains:
		return contains(actual, expected)

	default:
		return false, fmt.Errorf("unknown operator %q", op)
	}
}

// looseEquals compares with numeric coercion so 21 == 21.0 and JSON
// round-trips don't break equality.
func looseEquals(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	return a == b
}

// contains matches substring on strings and membership on arrays.
func contains(actual, expected any) (bool, error) {
	switch v := actual.(type) {
	case string:
		s, ok := expected.(string)
		if !ok {
			return false, fmt.Errorf("%w: contains on string needs string value", ErrNotComparable)
		}
		return strings.Contains(v, s), nil

	case []any:
		for _, item := range v {
			if looseEquals(item, expected) {
				return true, nil
			}
		}
		return false, nil

	case []string:
		s, ok := expected.(string)
		if !ok {
			return false, fmt.Errorf("%w: contains on string array needs string value", ErrNotComparable)
		}
		return lo.Contains(v, s), nil

	default:
		return false, fmt.Errorf("%w: contains not applicable to %T", ErrNotComparable, actual)
	}
}

// toFloat coerces the numeric types that reach us from JSON decoding
// and Go literals.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case time.Duration:
		return float64(n), true
	default:
		return 0, false
	}
}
