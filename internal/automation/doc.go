// Package automation implements the rule engine at the centre of
// Haven Core.
//
// # Pipeline
//
// A rule is triggers + conditions + actions. The pipeline for every
// execution is the same regardless of what fired it:
//
//	trigger match → condition guard → target selection → dispatch → record
//
// Device events arrive via Engine.HandleEvent, scheduler ticks via
// Engine.HandleTick, and user requests via Engine.ManualTrigger. All
// three converge on the same run path, so history and bus events are
// uniform.
//
// # Concurrency
//
// Each rule has at most one execution in flight; a trigger arriving
// mid-execution is rejected with ErrExecutionInFlight rather than
// queued. Dispatches within an action run sequentially or with bounded
// parallelism per the rule's DispatchPolicy.
//
// # Conflicts
//
// The ConflictDetector flags enabled rule pairs that can send
// contradictory commands (turn_on vs turn_off/toggle, same set_*
// command with different values) to shared devices in overlapping
// windows. Enabling a rule pre-checks for conflicts; ResolveConflicts
// applies a strategy across the board.
package automation
