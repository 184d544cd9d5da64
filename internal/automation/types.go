package automation

import (
	"time"
)

// TriggerKind identifies what can fire a rule.
type TriggerKind string

// Trigger kinds.
const (
	// TriggerDeviceState fires when a watched device field changes.
	TriggerDeviceState TriggerKind = "device_state_change"

	// TriggerTime fires at a time of day or solar event.
	TriggerTime TriggerKind = "time_based"

	// TriggerManual fires only via an explicit user request.
	TriggerManual TriggerKind = "manual"

	// TriggerSensor fires when a sensor reading crosses a threshold.
	TriggerSensor TriggerKind = "sensor_threshold"
)

// TimeEvent selects the reference point for a time-based trigger.
type TimeEvent string

// Time events.
const (
	// TimeAt fires at a fixed "HH:MM" local time.
	TimeAt TimeEvent = "time"

	// TimeSunrise fires at sunrise, shifted by OffsetMinutes.
	TimeSunrise TimeEvent = "sunrise"

	// TimeSunset fires at sunset, shifted by OffsetMinutes.
	TimeSunset TimeEvent = "sunset"
)

// Trigger describes one way a rule can fire. A rule fires when ANY of
// its triggers matches.
type Trigger struct {
	Kind TriggerKind `json:"kind"`

	// device_state_change / sensor_threshold
	DeviceID string   `json:"device_id,omitempty"`
	Field    string   `json:"field,omitempty"`
	Operator Operator `json:"operator,omitempty"`
	Value    any      `json:"value,omitempty"`

	// time_based
	Event         TimeEvent `json:"event,omitempty"`
	At            string    `json:"at,omitempty"` // "HH:MM" when Event is time
	OffsetMinutes int       `json:"offset_minutes,omitempty"`

	// Days restricts time-based triggers to weekdays (0 = Sunday).
	// Empty means every day.
	Days []time.Weekday `json:"days,omitempty"`
}

// ConditionKind identifies what a condition inspects.
type ConditionKind string

// Condition kinds.
const (
	// ConditionDeviceState compares a device state field.
	ConditionDeviceState ConditionKind = "device_state"

	// ConditionSensorValue compares a sensor reading. Evaluates exactly
	// like device_state; the separate kind keeps sensor guards explicit
	// in stored rules.
	ConditionSensorValue ConditionKind = "sensor_value"

	// ConditionTimeRange requires the current time inside a window.
	ConditionTimeRange ConditionKind = "time_range"

	// ConditionDayOfWeek requires the current weekday in a set.
	ConditionDayOfWeek ConditionKind = "day_of_week"
)

// Operator is a comparison operator for conditions and sensor triggers.
type Operator string

// Operators.
const (
	OpEquals         Operator = "equals"
	OpNotEquals      Operator = "not_equals"
	OpGreaterThan    Operator = "greater_than"
	OpLessThan       Operator = "less_than"
	OpGreaterOrEqual Operator = "greater_or_equal"
	OpLessOrEqual    Operator = "less_or_equal"

	// OpBetween expects Value to be a two-element ascending array.
	// Both bounds are inclusive.
	OpBetween Operator = "between"

	// OpContains matches substrings and array membership.
	OpContains Operator = "contains"
)

// Condition is one guard evaluated after a trigger matches. All
// conditions of a rule must hold (AND); a rule with no conditions
// always passes.
type Condition struct {
	Kind ConditionKind `json:"kind"`

	// device_state
	DeviceID string   `json:"device_id,omitempty"`
	Field    string   `json:"field,omitempty"`
	Operator Operator `json:"operator,omitempty"`
	Value    any      `json:"value,omitempty"`

	// time_range, "HH:MM" local. A window may wrap midnight
	// (Start "22:00", End "06:00").
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`

	// day_of_week (0 = Sunday)
	Days []time.Weekday `json:"days,omitempty"`
}

// TargetMode selects which devices an action addresses.
type TargetMode string

// Target modes.
const (
	// TargetAll addresses every device in the execution scope.
	TargetAll TargetMode = "all"

	// TargetSpecific addresses an explicit device list.
	TargetSpecific TargetMode = "specific"

	// TargetRandom addresses a random distinct subset of the scope.
	TargetRandom TargetMode = "random"
)

// Well-known commands. Commands are open-ended strings; set_* commands
// carry their value in Settings.
const (
	CommandTurnOn  = "turn_on"
	CommandTurnOff = "turn_off"
	CommandToggle  = "toggle"
)

// Action is one command dispatched to a set of devices.
type Action struct {
	// Command is the device command (turn_on, toggle, set_brightness, ...).
	Command string `json:"command"`

	// Target selects the addressing mode.
	Target TargetMode `json:"target"`

	// DeviceIDs is required when Target is specific.
	DeviceIDs []string `json:"device_ids,omitempty"`

	// RandomCount is required when Target is random.
	RandomCount int `json:"random_count,omitempty"`

	// Settings carries command parameters (brightness, colour, ...).
	Settings map[string]any `json:"settings,omitempty"`

	// DelaySeconds postpones the first dispatch of this action.
	DelaySeconds int `json:"delay_seconds,omitempty"`
}

// DispatchPolicy controls how an action's dispatches are paced.
type DispatchPolicy struct {
	// Sequential dispatches one device at a time; false means parallel.
	Sequential bool `json:"sequential"`

	// IntervalMS is the wait between sequential dispatches.
	// 0 uses the engine default.
	IntervalMS int `json:"interval_ms,omitempty"`

	// RandomOrder shuffles the target list once before dispatching.
	// Gives a lived-in look to staggered lighting changes.
	RandomOrder bool `json:"random_order,omitempty"`

	// Parallelism bounds concurrent dispatches when not sequential.
	// 0 uses the engine default.
	Parallelism int `json:"parallelism,omitempty"`
}

// Rule is a complete automation: triggers, guard conditions, and the
// actions to run.
type Rule struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	Enabled  bool   `json:"enabled"`

	// Priority breaks ties in conflict resolution; higher wins.
	Priority int `json:"priority"`

	Triggers   []Trigger      `json:"triggers"`
	Conditions []Condition    `json:"conditions,omitempty"`
	Actions    []Action       `json:"actions"`
	Policy     DispatchPolicy `json:"policy"`

	OwnerID string `json:"owner_id,omitempty"`

	// LastRun is the start of the most recent execution, nil if never run.
	LastRun *time.Time `json:"last_run,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AutomationBlock attaches rules to a group.
type AutomationBlock struct {
	// Enabled gates all attached rules for this group.
	Enabled bool `json:"enabled"`

	// RuleIDs lists the rules whose execution scope is this group.
	RuleIDs []string `json:"rule_ids,omitempty"`
}

// Group is a named set of devices that rules and schedules operate on.
type Group struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	DeviceIDs []string `json:"device_ids"`

	Automation AutomationBlock `json:"automation"`

	// DefaultSceneID is activated by ControlGroup("scene") when no
	// explicit scene is named.
	DefaultSceneID string `json:"default_scene_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Event is a device state change flowing into trigger evaluation.
type Event struct {
	DeviceID  string         `json:"device_id"`
	Changed   map[string]any `json:"changed"`
	Timestamp time.Time      `json:"timestamp"`
}

// Conflict reports two enabled rules that can address shared devices
// with contradictory commands in overlapping time windows.
type Conflict struct {
	RuleA         string   `json:"rule_a"`
	RuleB         string   `json:"rule_b"`
	SharedDevices []string `json:"shared_devices"`
	CommandA      string   `json:"command_a"`
	CommandB      string   `json:"command_b"`
	Reason        string   `json:"reason"`
}

// Resolution selects a conflict resolution strategy.
type Resolution string

// Resolutions.
const (
	// ResolutionDisableOther disables the second rule of the pair.
	ResolutionDisableOther Resolution = "disable_other"

	// ResolutionPriority disables the lower-priority rule.
	ResolutionPriority Resolution = "priority"

	// ResolutionMerge is reserved; resolving with it returns
	// ErrUnsupportedResolution.
	ResolutionMerge Resolution = "merge"
)

// DeepCopy returns an independent copy of the rule.
func (r *Rule) DeepCopy() *Rule {
	if r == nil {
		return nil
	}
	out := *r

	out.Triggers = make([]Trigger, len(r.Triggers))
	for i, t := range r.Triggers {
		out.Triggers[i] = t
		out.Triggers[i].Days = append([]time.Weekday(nil), t.Days...)
	}

	out.Conditions = make([]Condition, len(r.Conditions))
	for i, c := range r.Conditions {
		out.Conditions[i] = c
		out.Conditions[i].Days = append([]time.Weekday(nil), c.Days...)
	}

	out.Actions = make([]Action, len(r.Actions))
	for i, a := range r.Actions {
		out.Actions[i] = a
		out.Actions[i].DeviceIDs = append([]string(nil), a.DeviceIDs...)
		out.Actions[i].Settings = copySettings(a.Settings)
	}

	if r.LastRun != nil {
		t := *r.LastRun
		out.LastRun = &t
	}

	return &out
}

// DeepCopy returns an independent copy of the group.
func (g *Group) DeepCopy() *Group {
	if g == nil {
		return nil
	}
	out := *g
	out.DeviceIDs = append([]string(nil), g.DeviceIDs...)
	out.Automation.RuleIDs = append([]string(nil), g.Automation.RuleIDs...)
	return &out
}

func copySettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	out := make(map[string]any, len(settings))
	for k, v := range settings {
		out[k] = v
	}
	return out
}
