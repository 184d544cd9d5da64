package automation

import (
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
)

// ConflictDetector finds pairs of enabled rules that can send
// contradictory commands to shared devices in overlapping time windows.
//
// Detection is conservative: when a rule can fire at any time (device
// or sensor triggers), its window overlaps everything. A random target
// counts as the whole scope, since any subset may be drawn.
type ConflictDetector struct {
	// scopeFor resolves a rule's execution scope (group members).
	scopeFor func(ruleID string) []string
}

// NewConflictDetector creates a detector. scopeFor must not be nil.
func NewConflictDetector(scopeFor func(ruleID string) []string) *ConflictDetector {
	return &ConflictDetector{scopeFor: scopeFor}
}

// Detect scans all enabled rule pairs and returns every conflict found.
// Disabled rules cannot conflict.
func (d *ConflictDetector) Detect(rules []Rule) []Conflict {
	var conflicts []Conflict

	for i := 0; i < len(rules); i++ {
		if !rules[i].Enabled {
			continue
		}
		for j := i + 1; j < len(rules); j++ {
			if !rules[j].Enabled {
				continue
			}
			conflicts = append(conflicts, d.comparePair(rules[i], rules[j])...)
		}
	}

	return conflicts
}

// comparePair checks every action pair of two rules.
func (d *ConflictDetector) comparePair(a, b Rule) []Conflict {
	if !windowsOverlap(a.Triggers, b.Triggers) {
		return nil
	}

	scopeA := d.scopeFor(a.ID)
	scopeB := d.scopeFor(b.ID)

	var conflicts []Conflict
	for _, actA := range a.Actions {
		for _, actB := range b.Actions {
			reason, opposing := opposingCommands(actA, actB)
			if !opposing {
				continue
			}

			shared := lo.Intersect(conflictTargets(actA, scopeA), conflictTargets(actB, scopeB))
			if len(shared) == 0 {
				continue
			}

			conflicts = append(conflicts, Conflict{
				RuleA:         a.ID,
				RuleB:         b.ID,
				SharedDevices: shared,
				CommandA:      actA.Command,
				CommandB:      actB.Command,
				Reason:        reason,
			})
		}
	}

	return conflicts
}

// conflictTargets resolves the devices an action could address.
func conflictTargets(a Action, scope []string) []string {
	switch a.Target {
	case TargetSpecific:
		return a.DeviceIDs
	default:
		// all and random both draw from the full scope
		return scope
	}
}

// opposingCommands reports whether two commands contradict each other.
func opposingCommands(a, b Action) (string, bool) {
	// Power commands: toggle opposes both on and off.
	powerOpposed := map[string][]string{
		CommandTurnOn:  {CommandTurnOff, CommandToggle},
		CommandTurnOff: {CommandTurnOn, CommandToggle},
		CommandToggle:  {CommandTurnOn, CommandTurnOff},
	}
	if others, ok := powerOpposed[a.Command]; ok && lo.Contains(others, b.Command) {
		return fmt.Sprintf("%s vs %s", a.Command, b.Command), true
	}

	// Same set_* command with different values fights over the field.
	if a.Command == b.Command && strings.HasPrefix(a.Command, "set_") {
		if !settingsEqual(a.Settings, b.Settings) {
			return fmt.Sprintf("%s with different values", a.Command), true
		}
	}

	return "", false
}

func settingsEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if !looseEquals(b[k], v) {
			return false
		}
	}
	return true
}

// windowsOverlap reports whether two trigger sets can fire in the same
// time window.
func windowsOverlap(a, b []Trigger) bool {
	// A rule with device, sensor, or manual triggers can fire any time.
	if hasAnytimeTrigger(a) || hasAnytimeTrigger(b) {
		return true
	}

	for _, ta := range a {
		for _, tb := range b {
			if timeTriggersOverlap(ta, tb) {
				return true
			}
		}
	}
	return false
}

func hasAnytimeTrigger(triggers []Trigger) bool {
	for _, t := range triggers {
		if t.Kind != TriggerTime {
			return true
		}
	}
	return false
}

// timeTriggersOverlap compares two time-based triggers.
//
// Fixed times overlap when they name the same minute on a shared day.
// Solar triggers overlap on equal event and offset. A fixed time and a
// solar event are treated as overlapping: the solar time drifts through
// the year and can coincide with any fixed time.
func timeTriggersOverlap(a, b Trigger) bool {
	if !daysOverlap(a.Days, b.Days) {
		return false
	}

	aFixed := a.Event == TimeAt
	bFixed := b.Event == TimeAt

	switch {
	case aFixed && bFixed:
		return a.At == b.At
	case !aFixed && !bFixed:
		return a.Event == b.Event && a.OffsetMinutes == b.OffsetMinutes
	default:
		return true
	}
}

// daysOverlap treats an empty day list as every day.
func daysOverlap(a, b []time.Weekday) bool {
	if len(a) == 0 || len(b) == 0 {
		return true
	}
	return len(lo.Intersect(a, b)) > 0
}

// ResolveConflict decides which rule of a conflicting pair to disable.
//
// Parameters:
//   - c: The conflict to resolve
//   - strategy: disable_other, priority, or merge
//   - priorityOf: Looks up a rule's priority (used by priority strategy)
//
// Returns:
//   - string: ID of the rule to disable
//   - error: ErrUnsupportedResolution for merge or unknown strategies
func ResolveConflict(c Conflict, strategy Resolution, priorityOf func(ruleID string) int) (string, error) {
	switch strategy {
	case ResolutionDisableOther:
		return c.RuleB, nil

	case ResolutionPriority:
		if priorityOf(c.RuleA) >= priorityOf(c.RuleB) {
			return c.RuleB, nil
		}
		return c.RuleA, nil

	case ResolutionMerge:
		// Merging contradictory commands has no sound semantics for
		// power states; callers must pick a different strategy.
		return "", fmt.Errorf("%w: merge", ErrUnsupportedResolution)

	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedResolution, strategy)
	}
}
