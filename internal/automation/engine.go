package automation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/draycott/haven-core/internal/history"
	"github.com/draycott/haven-core/internal/schedule"
	"github.com/draycott/haven-core/internal/solar"
)

// ExecutionRecorder appends execution records. Satisfied by
// *history.Recorder.
type ExecutionRecorder interface {
	Record(ctx context.Context, rec history.Record)
}

// Broadcaster fans out engine events. Satisfied by *events.Bus.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// Event channels published on the bus.
const (
	ChannelRuleFired       = "rule_fired"
	ChannelGroupControlled = "group_controlled"
	ChannelRuleToggled     = "rule_toggled"
)

// EngineOptions wires an Engine's collaborators.
type EngineOptions struct {
	Registry   *Registry
	Executor   *Executor
	Conditions *ConditionEvaluator
	Triggers   *TriggerEvaluator
	Recorder   ExecutionRecorder
	Bus        Broadcaster
	Clock      solar.Clock
	Logger     Logger
}

// Engine orchestrates the automation pipeline: trigger matching,
// condition evaluation, conflict handling, action execution, and
// history recording.
//
// Concurrency: each rule and each group has at most one execution in
// flight. A trigger arriving while the same subject is still executing
// is rejected with ErrExecutionInFlight rather than queued; the next
// trigger fires it again.
type Engine struct {
	registry   *Registry
	executor   *Executor
	conditions *ConditionEvaluator
	triggers   *TriggerEvaluator
	detector   *ConflictDetector
	recorder   ExecutionRecorder
	bus        Broadcaster
	clock      solar.Clock
	logger     Logger

	inflightMu sync.Mutex
	inflight   map[string]bool
}

// NewEngine creates an engine. Recorder, Bus, Clock, and Logger are
// optional; nil values degrade to no-ops.
func NewEngine(opts EngineOptions) *Engine {
	if opts.Clock == nil {
		opts.Clock = solar.SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &Engine{
		registry:   opts.Registry,
		executor:   opts.Executor,
		conditions: opts.Conditions,
		triggers:   opts.Triggers,
		detector:   NewConflictDetector(opts.Registry.ScopeForRule),
		recorder:   opts.Recorder,
		bus:        opts.Bus,
		clock:      opts.Clock,
		logger:     opts.Logger,
		inflight:   make(map[string]bool),
	}
}

// ─── Trigger entry points ────────────────────────────────────────────────────

// HandleEvent runs every enabled rule whose triggers match a device
// event. Rules run one after another; per-rule failures are logged and
// recorded, never returned.
func (e *Engine) HandleEvent(ctx context.Context, ev Event) {
	for _, rule := range e.registry.ListRules() {
		if !rule.Enabled {
			continue
		}
		matched := false
		for _, t := range rule.Triggers {
			ok, err := e.triggers.MatchesEvent(t, ev)
			if err != nil {
				e.logger.Warn("trigger evaluation failed",
					"rule_id", rule.ID, "device_id", ev.DeviceID, "error", err)
				continue
			}
			if ok {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}

		if _, err := e.run(ctx, &rule, history.TriggeredEvent, nil); err != nil {
			e.logger.Warn("rule execution failed",
				"rule_id", rule.ID, "trigger", "event", "error", err)
		}
	}
}

// HandleTick runs every enabled rule whose time-based triggers match
// the tick instant. Called by the scheduler once per polling interval.
func (e *Engine) HandleTick(ctx context.Context, now time.Time) {
	for _, rule := range e.registry.ListRules() {
		if !rule.Enabled {
			continue
		}
		matched := false
		for _, t := range rule.Triggers {
			if e.triggers.MatchesTick(t, now) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}

		if c, blocked := e.blockingConflict(rule.ID); blocked {
			other := c.RuleA
			if other == rule.ID {
				other = c.RuleB
			}
			e.logger.Warn("scheduled fire blocked by conflict",
				"rule_id", rule.ID,
				"conflicts_with", other,
				"devices", c.SharedDevices,
				"reason", c.Reason,
			)
			continue
		}

		if _, err := e.run(ctx, &rule, history.TriggeredScheduled, nil); err != nil {
			e.logger.Warn("rule execution failed",
				"rule_id", rule.ID, "trigger", "tick", "error", err)
		}
	}
}

// ManualTrigger fires one rule on explicit user request.
//
// The rule must be enabled and its conditions must hold; params are
// merged into every action's settings for this run only (overriding
// stored values on key collision).
//
// Returns:
//   - error: ErrRuleNotFound, ErrRuleDisabled, ErrConditionsNotMet,
//     ErrExecutionInFlight, or an execution error
func (e *Engine) ManualTrigger(ctx context.Context, ruleID string, params map[string]any) error {
	rule, err := e.registry.GetRule(ruleID)
	if err != nil {
		return err
	}
	if !rule.Enabled {
		return fmt.Errorf("%w: %s", ErrRuleDisabled, ruleID)
	}

	executed, err := e.run(ctx, rule, history.TriggeredManual, params)
	if err != nil {
		return err
	}
	if !executed {
		return fmt.Errorf("%w: %s", ErrConditionsNotMet, ruleID)
	}
	return nil
}

// ─── Core execution ──────────────────────────────────────────────────────────

// run executes one rule end to end. Returns executed=false when the
// rule's conditions did not hold (not an error for event/tick paths).
func (e *Engine) run(ctx context.Context, rule *Rule, trigger history.Trigger, params map[string]any) (bool, error) {
	if !e.acquire(rule.ID) {
		return false, fmt.Errorf("%w: %s", ErrExecutionInFlight, rule.ID)
	}
	defer e.release(rule.ID)

	ok, err := e.conditions.Evaluate(rule.Conditions)
	if err != nil {
		e.record(ctx, history.Record{
			SubjectID:   rule.ID,
			SubjectType: history.SubjectRule,
			TriggeredBy: trigger,
			Success:     false,
			Error:       errText(err),
		})
		return false, fmt.Errorf("evaluating conditions for %s: %w", rule.ID, err)
	}
	if !ok {
		e.logger.Debug("conditions not met", "rule_id", rule.ID)
		return false, nil
	}

	start := e.clock.Now()
	scope := e.scopeFor(rule)

	var successful []string
	var failed []DispatchFailure
	for _, action := range rule.Actions {
		if params != nil {
			action.Settings = mergeSettings(action.Settings, params)
		}
		result := e.executor.Execute(ctx, action, scope, rule.Policy)
		successful = append(successful, result.Successful...)
		failed = append(failed, result.Failed...)
	}

	duration := time.Since(start)
	success := len(successful) > 0

	var execErr *string
	if !success && len(failed) > 0 {
		execErr = errTextString(fmt.Sprintf("all %d dispatches failed", len(failed)))
	}

	e.record(ctx, history.Record{
		SubjectID:       rule.ID,
		SubjectType:     history.SubjectRule,
		TriggeredBy:     trigger,
		Success:         success,
		DurationMS:      duration.Milliseconds(),
		AffectedDevices: affectedDevices(successful, failed),
		Error:           execErr,
		Timestamp:       start,
	})

	if err := e.registry.TouchLastRun(ctx, rule.ID, start); err != nil {
		e.logger.Warn("failed to update last_run", "rule_id", rule.ID, "error", err)
	}

	e.broadcast(ChannelRuleFired, map[string]any{
		"rule_id":    rule.ID,
		"rule_name":  rule.Name,
		"trigger":    string(trigger),
		"success":    success,
		"successful": successful,
		"failed":     failed,
	})

	e.logger.Info("rule executed",
		"rule_id", rule.ID,
		"trigger", string(trigger),
		"success", success,
		"devices", len(successful)+len(failed),
		"duration_ms", duration.Milliseconds(),
	)

	return true, nil
}

// scopeFor resolves a rule's execution scope. A rule attached to no
// group falls back to the union of its specific action targets, so
// standalone rules still work.
func (e *Engine) scopeFor(rule *Rule) []string {
	scope := e.registry.ScopeForRule(rule.ID)
	if len(scope) > 0 {
		return scope
	}

	seen := make(map[string]bool)
	var fallback []string
	for _, a := range rule.Actions {
		if a.Target != TargetSpecific {
			continue
		}
		for _, id := range a.DeviceIDs {
			if !seen[id] {
				seen[id] = true
				fallback = append(fallback, id)
			}
		}
	}
	return fallback
}

// ─── Group control ───────────────────────────────────────────────────────────

// ControlGroup dispatches one command to every device in a group.
//
// A group has at most one execution in flight, same as a rule; a call
// arriving while the group is still dispatching is rejected with
// ErrExecutionInFlight.
//
// Parameters:
//   - groupID: Target group
//   - command: Device command (turn_on, set_brightness, ...)
//   - settings: Optional command parameters
//   - policy: Dispatch pacing; zero value means parallel with defaults
//
// Returns:
//   - BatchResult: Per-device outcome
//   - error: ErrGroupNotFound, ErrExecutionInFlight, or context errors
func (e *Engine) ControlGroup(ctx context.Context, groupID, command string, settings map[string]any, policy DispatchPolicy) (BatchResult, error) {
	group, err := e.registry.GetGroup(groupID)
	if err != nil {
		return BatchResult{}, err
	}
	if !e.acquire(group.ID) {
		return BatchResult{}, fmt.Errorf("%w: %s", ErrExecutionInFlight, group.ID)
	}
	defer e.release(group.ID)

	start := e.clock.Now()
	action := Action{
		Command:  command,
		Target:   TargetAll,
		Settings: settings,
	}
	result := e.executor.Execute(ctx, action, group.DeviceIDs, policy)

	var execErr *string
	if !result.Success() && len(result.Failed) > 0 {
		execErr = errTextString(fmt.Sprintf("all %d dispatches failed", len(result.Failed)))
	}

	e.record(ctx, history.Record{
		SubjectID:       group.ID,
		SubjectType:     history.SubjectGroup,
		TriggeredBy:     history.TriggeredManual,
		Success:         result.Success(),
		DurationMS:      result.DurationMS,
		AffectedDevices: result.Devices(),
		Error:           execErr,
		Timestamp:       start,
	})

	e.broadcast(ChannelGroupControlled, map[string]any{
		"group_id": group.ID,
		"command":  command,
		"success":  result.Success(),
	})

	return result, nil
}

// ─── Schedule sink ───────────────────────────────────────────────────────────

// ScheduleDue executes a due group schedule. Implements schedule.Sink.
//
// The fire is gated twice: a conflicting enabled rule blocks it with
// ErrConflictDetected, and a group still dispatching rejects it with
// ErrExecutionInFlight.
func (e *Engine) ScheduleDue(ctx context.Context, s schedule.Schedule) error {
	group, err := e.registry.GetGroup(s.GroupID)
	if err != nil {
		return err
	}

	if c, blocked := e.scheduleConflict(s, group.DeviceIDs); blocked {
		other := c.RuleA
		if other == scheduleConflictID(s.ID) {
			other = c.RuleB
		}
		e.logger.Warn("schedule fire blocked by conflict",
			"schedule_id", s.ID,
			"group_id", s.GroupID,
			"conflicts_with", other,
			"devices", c.SharedDevices,
			"reason", c.Reason,
		)
		return fmt.Errorf("%w: schedule %s vs rule %s on %v (%s)",
			ErrConflictDetected, s.ID, other, c.SharedDevices, c.Reason)
	}

	if !e.acquire(group.ID) {
		return fmt.Errorf("%w: %s", ErrExecutionInFlight, group.ID)
	}
	defer e.release(group.ID)

	start := e.clock.Now()
	action := Action{
		Command:  s.Action,
		Target:   TargetAll,
		Settings: s.Settings,
	}
	policy := DispatchPolicy{
		Sequential:  s.Dispatch.Sequential,
		IntervalMS:  s.Dispatch.IntervalMS,
		RandomOrder: s.Dispatch.RandomOrder,
	}
	result := e.executor.Execute(ctx, action, group.DeviceIDs, policy)

	var execErr *string
	if !result.Success() && len(result.Failed) > 0 {
		execErr = errTextString(fmt.Sprintf("all %d dispatches failed", len(result.Failed)))
	}

	e.record(ctx, history.Record{
		SubjectID:       group.ID,
		SubjectType:     history.SubjectGroup,
		TriggeredBy:     history.TriggeredScheduled,
		Success:         result.Success(),
		DurationMS:      result.DurationMS,
		AffectedDevices: result.Devices(),
		Error:           execErr,
		Timestamp:       start,
	})

	e.logger.Info("schedule executed",
		"schedule_id", s.ID,
		"group_id", s.GroupID,
		"action", s.Action,
		"success", result.Success(),
	)

	if !result.Success() && len(result.Failed) > 0 {
		return fmt.Errorf("schedule %s: all dispatches failed", s.ID)
	}
	return nil
}

// TimerDue executes a due one-device timer. Implements schedule.Sink.
func (e *Engine) TimerDue(ctx context.Context, t schedule.Timer) error {
	start := e.clock.Now()
	action := Action{
		Command:   t.Action,
		Target:    TargetSpecific,
		DeviceIDs: []string{t.DeviceID},
		Settings:  t.Settings,
	}
	result := e.executor.Execute(ctx, action, []string{t.DeviceID}, DispatchPolicy{})

	var execErr *string
	if !result.Success() && len(result.Failed) > 0 {
		execErr = errTextString(result.Failed[0].Reason)
	}

	e.record(ctx, history.Record{
		SubjectID:       t.ID,
		SubjectType:     history.SubjectTimer,
		TriggeredBy:     history.TriggeredScheduled,
		Success:         result.Success(),
		DurationMS:      result.DurationMS,
		AffectedDevices: result.Devices(),
		Error:           execErr,
		Timestamp:       start,
	})

	if !result.Success() {
		return fmt.Errorf("timer %s: dispatch to %s failed", t.ID, t.DeviceID)
	}
	return nil
}

// ─── Conflict management ─────────────────────────────────────────────────────

// CheckConflicts scans all enabled rules for contradictions.
func (e *Engine) CheckConflicts() []Conflict {
	return e.detector.Detect(e.registry.ListRules())
}

// blockingConflict reports whether a scheduled fire of ruleID must be
// skipped. Priority decides each conflicting pair at fire time: the
// losing side skips its fire so opposing commands never race on shared
// devices. Unresolvable pairs block both sides until a caller resolves
// or disables one.
func (e *Engine) blockingConflict(ruleID string) (Conflict, bool) {
	for _, c := range e.CheckConflicts() {
		if c.RuleA != ruleID && c.RuleB != ruleID {
			continue
		}
		loser, err := ResolveConflict(c, ResolutionPriority, e.priorityOf)
		if err != nil || loser == ruleID {
			return c, true
		}
	}
	return Conflict{}, false
}

func scheduleConflictID(scheduleID string) string {
	return "schedule:" + scheduleID
}

// scheduleConflict checks a due group schedule against the enabled
// rules. The schedule is modelled as a transient rule so the
// detector's window and target logic applies unchanged; any
// conflicting enabled rule blocks the fire, since schedules carry no
// priority of their own.
func (e *Engine) scheduleConflict(s schedule.Schedule, scope []string) (Conflict, bool) {
	trigger := Trigger{Kind: TriggerTime, Days: s.Days}
	switch s.Kind {
	case schedule.KindSunrise:
		trigger.Event = TimeSunrise
		trigger.OffsetMinutes = s.OffsetMinutes
	case schedule.KindSunset:
		trigger.Event = TimeSunset
		trigger.OffsetMinutes = s.OffsetMinutes
	default:
		trigger.Event = TimeAt
		trigger.At = s.At
	}

	transient := Rule{
		ID:       scheduleConflictID(s.ID),
		Name:     s.Name,
		Enabled:  true,
		Triggers: []Trigger{trigger},
		Actions:  []Action{{Command: s.Action, Target: TargetAll, Settings: s.Settings}},
	}

	detector := NewConflictDetector(func(id string) []string {
		if id == transient.ID {
			return scope
		}
		return e.registry.ScopeForRule(id)
	})

	for _, c := range detector.Detect(append(e.registry.ListRules(), transient)) {
		if c.RuleA == transient.ID || c.RuleB == transient.ID {
			return c, true
		}
	}
	return Conflict{}, false
}

// priorityOf looks up a rule's priority for conflict resolution.
func (e *Engine) priorityOf(ruleID string) int {
	rule, err := e.registry.GetRule(ruleID)
	if err != nil {
		return 0
	}
	return rule.Priority
}

// ToggleRule enables or disables a rule.
//
// Enabling runs a conflict pre-check: if the newly enabled rule would
// conflict with an existing one, the change is rejected with
// ErrConflictDetected unless force is set.
func (e *Engine) ToggleRule(ctx context.Context, ruleID string, enabled, force bool) error {
	if enabled && !force {
		if conflicts := e.conflictsIfEnabled(ruleID); len(conflicts) > 0 {
			c := conflicts[0]
			return fmt.Errorf("%w: %s vs %s on %v (%s)",
				ErrConflictDetected, c.RuleA, c.RuleB, c.SharedDevices, c.Reason)
		}
	}

	if err := e.registry.SetRuleEnabled(ctx, ruleID, enabled); err != nil {
		return err
	}

	e.broadcast(ChannelRuleToggled, map[string]any{
		"rule_id": ruleID,
		"enabled": enabled,
	})
	return nil
}

// conflictsIfEnabled simulates enabling a rule and returns the
// conflicts it would participate in.
func (e *Engine) conflictsIfEnabled(ruleID string) []Conflict {
	rules := e.registry.ListRules()
	for i := range rules {
		if rules[i].ID == ruleID {
			rules[i].Enabled = true
		}
	}

	var involving []Conflict
	for _, c := range e.detector.Detect(rules) {
		if c.RuleA == ruleID || c.RuleB == ruleID {
			involving = append(involving, c)
		}
	}
	return involving
}

// ResolveConflicts applies one resolution strategy and returns the IDs
// of the rules it disabled. An empty ruleID resolves every current
// conflict; a non-empty one resolves only the conflicts that rule
// participates in.
//
// Conflicts already cleared by an earlier disable in the same pass are
// skipped.
func (e *Engine) ResolveConflicts(ctx context.Context, ruleID string, strategy Resolution) ([]string, error) {
	conflicts := e.CheckConflicts()
	if ruleID != "" {
		conflicts = lo.Filter(conflicts, func(c Conflict, _ int) bool {
			return c.RuleA == ruleID || c.RuleB == ruleID
		})
	}
	if len(conflicts) == 0 {
		return nil, nil
	}

	disabled := make(map[string]bool)
	var order []string

	for _, c := range conflicts {
		if disabled[c.RuleA] || disabled[c.RuleB] {
			continue
		}

		loser, err := ResolveConflict(c, strategy, e.priorityOf)
		if err != nil {
			return order, err
		}

		if err := e.registry.SetRuleEnabled(ctx, loser, false); err != nil {
			return order, fmt.Errorf("disabling rule %s: %w", loser, err)
		}
		disabled[loser] = true
		order = append(order, loser)

		e.logger.Info("conflict resolved",
			"rule_a", c.RuleA, "rule_b", c.RuleB,
			"disabled", loser, "strategy", string(strategy),
		)
	}

	return order, nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func (e *Engine) acquire(ruleID string) bool {
	e.inflightMu.Lock()
	defer e.inflightMu.Unlock()
	if e.inflight[ruleID] {
		return false
	}
	e.inflight[ruleID] = true
	return true
}

func (e *Engine) release(ruleID string) {
	e.inflightMu.Lock()
	delete(e.inflight, ruleID)
	e.inflightMu.Unlock()
}

func (e *Engine) record(ctx context.Context, rec history.Record) {
	if e.recorder != nil {
		e.recorder.Record(ctx, rec)
	}
}

func (e *Engine) broadcast(channel string, payload any) {
	if e.bus != nil {
		e.bus.Broadcast(channel, payload)
	}
}

func mergeSettings(base, overrides map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(overrides))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}

func affectedDevices(successful []string, failed []DispatchFailure) []string {
	out := append([]string(nil), successful...)
	for _, f := range failed {
		if f.DeviceID != "" {
			out = append(out, f.DeviceID)
		}
	}
	return out
}

func errText(err error) *string {
	if err == nil {
		return nil
	}
	s := err.Error()
	return &s
}

func errTextString(s string) *string {
	return &s
}
