package automation

import "errors"

// Sentinel errors for automation operations.
// Check with errors.Is(); most are wrapped with context before return.
var (
	// ErrRuleNotFound is returned when a rule ID does not exist.
	ErrRuleNotFound = errors.New("automation: rule not found")

	// ErrGroupNotFound is returned when a group ID does not exist.
	ErrGroupNotFound = errors.New("automation: group not found")

	// ErrRuleDisabled is returned when triggering a disabled rule.
	ErrRuleDisabled = errors.New("automation: rule is disabled")

	// ErrInvalidRule is returned when a rule fails save-time validation.
	ErrInvalidRule = errors.New("automation: invalid rule")

	// ErrInvalidGroup is returned when a group fails save-time validation.
	ErrInvalidGroup = errors.New("automation: invalid group")

	// ErrExecutionInFlight is returned when a rule is triggered while a
	// previous execution of the same rule is still running.
	ErrExecutionInFlight = errors.New("automation: execution already in flight")

	// ErrConditionsNotMet is returned by ManualTrigger when the rule's
	// guard conditions do not currently hold.
	ErrConditionsNotMet = errors.New("automation: conditions not met")

	// ErrConflictDetected is returned when enabling a rule would create
	// a conflict and the caller did not force the change.
	ErrConflictDetected = errors.New("automation: conflict detected")

	// ErrUnsupportedResolution is returned for resolution strategies the
	// engine recognises but does not implement (merge).
	ErrUnsupportedResolution = errors.New("automation: unsupported conflict resolution")

	// ErrNotComparable is returned when a numeric operator is applied to
	// a non-numeric value.
	ErrNotComparable = errors.New("automation: values are not comparable")
)
