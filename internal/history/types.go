package history

import (
	"time"
)

// SubjectType identifies what kind of entity an execution record covers.
type SubjectType string

// Subject types.
const (
	SubjectRule  SubjectType = "rule"
	SubjectGroup SubjectType = "group"
	SubjectScene SubjectType = "scene"
	SubjectTimer SubjectType = "timer"
)

// Trigger identifies what initiated an execution.
type Trigger string

// Trigger sources.
const (
	TriggeredManual    Trigger = "manual"
	TriggeredScheduled Trigger = "scheduled"
	TriggeredEvent     Trigger = "event"
)

// Record is one append-only execution history entry.
//
// Records are never updated or deleted by the engine; retention
// pruning is the only mutation.
type Record struct {
	// ID is a unique identifier (UUID).
	ID string `json:"id"`

	// SubjectID is the rule, group, scene, or timer that executed.
	SubjectID string `json:"subject_id"`

	// SubjectType classifies the subject.
	SubjectType SubjectType `json:"subject_type"`

	// TriggeredBy records what initiated the execution.
	TriggeredBy Trigger `json:"triggered_by"`

	// Success is true when at least one device dispatch succeeded.
	Success bool `json:"success"`

	// DurationMS is the wall-clock execution time in milliseconds.
	DurationMS int64 `json:"duration_ms"`

	// AffectedDevices lists every device the execution dispatched to.
	AffectedDevices []string `json:"affected_devices"`

	// Error describes the failure, nil on success.
	Error *string `json:"error,omitempty"`

	// Timestamp is when the execution started.
	Timestamp time.Time `json:"timestamp"`
}

// Filter narrows List queries. Zero values mean "no constraint".
type Filter struct {
	SubjectID   string
	SubjectType SubjectType
	TriggeredBy Trigger
	Success     *bool
	From        time.Time
	To          time.Time
	Limit       int
	Offset      int
}

// Stats summarises the execution history of one subject.
type Stats struct {
	// Runs is the total number of recorded executions.
	Runs int `json:"runs"`

	// Successes is the number of successful executions.
	Successes int `json:"successes"`

	// SuccessRate is Successes/Runs, 0 when Runs is 0.
	SuccessRate float64 `json:"success_rate"`

	// AvgDurationMS is the mean execution duration in milliseconds.
	AvgDurationMS float64 `json:"avg_duration_ms"`

	// LastRun is the most recent execution time, nil if never run.
	LastRun *time.Time `json:"last_run,omitempty"`
}
