package automation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/draycott/haven-core/internal/history"
	"github.com/draycott/haven-core/internal/schedule"
)

type captureRecorder struct {
	mu      sync.Mutex
	records []history.Record
}

func (r *captureRecorder) Record(_ context.Context, rec history.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func (r *captureRecorder) all() []history.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]history.Record(nil), r.records...)
}

type captureBus struct {
	mu       sync.Mutex
	channels []string
}

func (b *captureBus) Broadcast(channel string, _ any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels = append(b.channels, channel)
}

func (b *captureBus) broadcasts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.channels...)
}

type engineFixture struct {
	engine   *Engine
	registry *Registry
	sink     *recordingSink
	recorder *captureRecorder
	bus      *captureBus
	states   stubStates
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	repo := newTestRepo(t)
	registry := NewRegistry(repo)
	if err := registry.Load(context.Background()); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	sink := &recordingSink{}
	recorder := &captureRecorder{}
	bus := &captureBus{}
	states := stubStates{}

	engine := NewEngine(EngineOptions{
		Registry:   registry,
		Executor:   NewExecutor(sink, ExecutorConfig{}, nil),
		Conditions: NewConditionEvaluator(states, testClock{now: tuesdayEvening}),
		Triggers:   NewTriggerEvaluator(nil),
		Recorder:   recorder,
		Bus:        bus,
		Clock:      testClock{now: tuesdayEvening},
	})

	return &engineFixture{
		engine:   engine,
		registry: registry,
		sink:     sink,
		recorder: recorder,
		bus:      bus,
		states:   states,
	}
}

// motionRule fires on hall motion and turns on the whole scope.
func motionRule(id string) *Rule {
	return &Rule{
		ID:      id,
		Name:    "Motion " + id,
		Enabled: true,
		Triggers: []Trigger{
			{Kind: TriggerDeviceState, DeviceID: "sensor-hall", Field: "motion"},
		},
		Actions: []Action{
			{Command: CommandTurnOn, Target: TargetAll, Settings: map[string]any{"brightness": float64(70)}},
		},
	}
}

func (f *engineFixture) saveRuleWithGroup(t *testing.T, rule *Rule, devices ...string) {
	t.Helper()
	ctx := context.Background()
	if err := f.registry.SaveRule(ctx, rule); err != nil {
		t.Fatalf("SaveRule() error: %v", err)
	}
	g := &Group{
		ID:        "group-" + rule.ID,
		Name:      "Group for " + rule.ID,
		DeviceIDs: devices,
		Automation: AutomationBlock{
			Enabled: true,
			RuleIDs: []string{rule.ID},
		},
	}
	if err := f.registry.SaveGroup(ctx, g); err != nil {
		t.Fatalf("SaveGroup() error: %v", err)
	}
}

func TestHandleEventFiresMatchingRule(t *testing.T) {
	f := newEngineFixture(t)
	f.saveRuleWithGroup(t, motionRule("rule-1"), "light-sofa", "light-shelf")

	f.engine.HandleEvent(context.Background(), Event{
		DeviceID:  "sensor-hall",
		Changed:   map[string]any{"motion": true},
		Timestamp: tuesdayEvening,
	})

	if got := f.sink.devices(); len(got) != 2 {
		t.Fatalf("dispatched to %v, want both group devices", got)
	}

	recs := f.recorder.all()
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	if recs[0].SubjectType != history.SubjectRule || recs[0].TriggeredBy != history.TriggeredEvent || !recs[0].Success {
		t.Errorf("record = %+v, want successful event-triggered rule", recs[0])
	}

	rule, _ := f.registry.GetRule("rule-1")
	if rule.LastRun == nil {
		t.Error("LastRun not touched after execution")
	}

	if got := f.bus.broadcasts(); len(got) != 1 || got[0] != ChannelRuleFired {
		t.Errorf("broadcasts = %v, want [%s]", got, ChannelRuleFired)
	}
}

func TestHandleEventIgnoresOtherDevices(t *testing.T) {
	f := newEngineFixture(t)
	f.saveRuleWithGroup(t, motionRule("rule-1"), "light-sofa")

	f.engine.HandleEvent(context.Background(), Event{
		DeviceID: "sensor-porch",
		Changed:  map[string]any{"motion": true},
	})

	if got := f.sink.devices(); len(got) != 0 {
		t.Errorf("dispatched to %v, want none", got)
	}
}

func TestHandleEventSkipsDisabledRules(t *testing.T) {
	f := newEngineFixture(t)
	rule := motionRule("rule-1")
	rule.Enabled = false
	f.saveRuleWithGroup(t, rule, "light-sofa")

	f.engine.HandleEvent(context.Background(), Event{
		DeviceID: "sensor-hall",
		Changed:  map[string]any{"motion": true},
	})

	if got := f.sink.devices(); len(got) != 0 {
		t.Errorf("disabled rule dispatched to %v", got)
	}
}

func TestHandleTickFiresTimeRule(t *testing.T) {
	f := newEngineFixture(t)
	rule := motionRule("rule-1")
	rule.Triggers = []Trigger{{Kind: TriggerTime, Event: TimeAt, At: "20:30"}}
	f.saveRuleWithGroup(t, rule, "light-sofa")

	f.engine.HandleTick(context.Background(), tuesdayEvening) // 20:30

	if got := f.sink.devices(); len(got) != 1 {
		t.Fatalf("dispatched to %v, want light-sofa", got)
	}
	recs := f.recorder.all()
	if len(recs) != 1 || recs[0].TriggeredBy != history.TriggeredScheduled {
		t.Errorf("records = %+v, want one scheduled record", recs)
	}
}

func TestManualTriggerDisabledRule(t *testing.T) {
	f := newEngineFixture(t)
	rule := motionRule("rule-1")
	rule.Enabled = false
	f.saveRuleWithGroup(t, rule, "light-sofa")

	err := f.engine.ManualTrigger(context.Background(), "rule-1", nil)
	if !errors.Is(err, ErrRuleDisabled) {
		t.Errorf("ManualTrigger() = %v, want ErrRuleDisabled", err)
	}
}

func TestManualTriggerUnknownRule(t *testing.T) {
	f := newEngineFixture(t)

	err := f.engine.ManualTrigger(context.Background(), "rule-9", nil)
	if !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("ManualTrigger() = %v, want ErrRuleNotFound", err)
	}
}

func TestManualTriggerConditionsNotMet(t *testing.T) {
	f := newEngineFixture(t)
	rule := motionRule("rule-1")
	rule.Conditions = []Condition{{
		Kind: ConditionDeviceState, DeviceID: "sensor-lounge", Field: "occupancy",
		Operator: OpEquals, Value: true,
	}}
	f.saveRuleWithGroup(t, rule, "light-sofa")

	err := f.engine.ManualTrigger(context.Background(), "rule-1", nil)
	if !errors.Is(err, ErrConditionsNotMet) {
		t.Errorf("ManualTrigger() = %v, want ErrConditionsNotMet", err)
	}
	if got := f.sink.devices(); len(got) != 0 {
		t.Errorf("dispatched to %v despite failed conditions", got)
	}
}

func TestManualTriggerParamsOverrideSettings(t *testing.T) {
	f := newEngineFixture(t)
	f.saveRuleWithGroup(t, motionRule("rule-1"), "light-sofa")

	err := f.engine.ManualTrigger(context.Background(), "rule-1", map[string]any{"brightness": float64(10)})
	if err != nil {
		t.Fatalf("ManualTrigger() error: %v", err)
	}

	sent := f.sink.dispatches()
	if len(sent) != 1 {
		t.Fatalf("dispatches = %d, want 1", len(sent))
	}
	if sent[0].settings["brightness"] != float64(10) {
		t.Errorf("brightness = %v, want param override 10", sent[0].settings["brightness"])
	}

	// The override is per run, not persisted.
	rule, _ := f.registry.GetRule("rule-1")
	if rule.Actions[0].Settings["brightness"] != float64(70) {
		t.Errorf("stored brightness = %v, want 70", rule.Actions[0].Settings["brightness"])
	}
}

// gatedSink blocks the first dispatch until released, to hold an
// execution in flight.
type gatedSink struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *gatedSink) Send(ctx context.Context, _, _ string, _ map[string]any) (time.Duration, error) {
	s.once.Do(func() { close(s.started) })
	select {
	case <-s.release:
		return time.Millisecond, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func TestConcurrentExecutionRejected(t *testing.T) {
	f := newEngineFixture(t)
	f.saveRuleWithGroup(t, motionRule("rule-1"), "light-sofa")

	sink := &gatedSink{started: make(chan struct{}), release: make(chan struct{})}
	f.engine.executor = NewExecutor(sink, ExecutorConfig{}, nil)

	done := make(chan error, 1)
	go func() {
		done <- f.engine.ManualTrigger(context.Background(), "rule-1", nil)
	}()

	<-sink.started
	if err := f.engine.ManualTrigger(context.Background(), "rule-1", nil); !errors.Is(err, ErrExecutionInFlight) {
		t.Errorf("second trigger = %v, want ErrExecutionInFlight", err)
	}

	close(sink.release)
	if err := <-done; err != nil {
		t.Errorf("first trigger = %v, want nil", err)
	}

	// With the first execution finished, the rule fires again.
	if err := f.engine.ManualTrigger(context.Background(), "rule-1", nil); err != nil {
		t.Errorf("third trigger = %v, want nil", err)
	}
}

func TestToggleRuleConflictPreCheck(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	on := motionRule("rule-on")
	on.Triggers = []Trigger{{Kind: TriggerTime, Event: TimeAt, At: "07:00"}}
	f.saveRuleWithGroup(t, on, "light-sofa")

	off := motionRule("rule-off")
	off.Enabled = false
	off.Triggers = []Trigger{{Kind: TriggerTime, Event: TimeAt, At: "07:00"}}
	off.Actions = []Action{{Command: CommandTurnOff, Target: TargetAll}}
	f.saveRuleWithGroup(t, off, "light-sofa")

	err := f.engine.ToggleRule(ctx, "rule-off", true, false)
	if !errors.Is(err, ErrConflictDetected) {
		t.Fatalf("ToggleRule() = %v, want ErrConflictDetected", err)
	}
	rule, _ := f.registry.GetRule("rule-off")
	if rule.Enabled {
		t.Error("rule enabled despite rejected toggle")
	}

	// Force overrides the pre-check.
	if err := f.engine.ToggleRule(ctx, "rule-off", true, true); err != nil {
		t.Fatalf("ToggleRule(force) error: %v", err)
	}
	rule, _ = f.registry.GetRule("rule-off")
	if !rule.Enabled {
		t.Error("rule not enabled after forced toggle")
	}

	if got := f.bus.broadcasts(); len(got) != 1 || got[0] != ChannelRuleToggled {
		t.Errorf("broadcasts = %v, want [%s]", got, ChannelRuleToggled)
	}
}

func TestToggleRuleDisableNeverChecked(t *testing.T) {
	f := newEngineFixture(t)
	f.saveRuleWithGroup(t, motionRule("rule-1"), "light-sofa")

	if err := f.engine.ToggleRule(context.Background(), "rule-1", false, false); err != nil {
		t.Errorf("ToggleRule(disable) = %v, want nil", err)
	}
}

func TestResolveConflictsByPriority(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	on := motionRule("rule-on")
	on.Priority = 10
	on.Triggers = []Trigger{{Kind: TriggerTime, Event: TimeAt, At: "07:00"}}
	f.saveRuleWithGroup(t, on, "light-sofa")

	off := motionRule("rule-off")
	off.Priority = 1
	off.Triggers = []Trigger{{Kind: TriggerTime, Event: TimeAt, At: "07:00"}}
	off.Actions = []Action{{Command: CommandTurnOff, Target: TargetAll}}
	f.saveRuleWithGroup(t, off, "light-sofa")

	if got := f.engine.CheckConflicts(); len(got) != 1 {
		t.Fatalf("CheckConflicts() = %d, want 1", len(got))
	}

	disabled, err := f.engine.ResolveConflicts(ctx, "", ResolutionPriority)
	if err != nil {
		t.Fatalf("ResolveConflicts() error: %v", err)
	}
	if len(disabled) != 1 || disabled[0] != "rule-off" {
		t.Errorf("disabled = %v, want [rule-off]", disabled)
	}

	rule, _ := f.registry.GetRule("rule-off")
	if rule.Enabled {
		t.Error("losing rule still enabled")
	}
	if got := f.engine.CheckConflicts(); len(got) != 0 {
		t.Errorf("CheckConflicts() after resolve = %+v, want none", got)
	}
}

func TestResolveConflictsScopedToRule(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	// Two independent conflict pairs on different devices and times.
	morningOn := motionRule("morning-on")
	morningOn.Priority = 10
	morningOn.Triggers = []Trigger{{Kind: TriggerTime, Event: TimeAt, At: "07:00"}}
	f.saveRuleWithGroup(t, morningOn, "light-sofa")

	morningOff := motionRule("morning-off")
	morningOff.Priority = 1
	morningOff.Triggers = []Trigger{{Kind: TriggerTime, Event: TimeAt, At: "07:00"}}
	morningOff.Actions = []Action{{Command: CommandTurnOff, Target: TargetAll}}
	f.saveRuleWithGroup(t, morningOff, "light-sofa")

	nightOn := motionRule("night-on")
	nightOn.Priority = 10
	nightOn.Triggers = []Trigger{{Kind: TriggerTime, Event: TimeAt, At: "22:00"}}
	f.saveRuleWithGroup(t, nightOn, "light-porch")

	nightOff := motionRule("night-off")
	nightOff.Priority = 1
	nightOff.Triggers = []Trigger{{Kind: TriggerTime, Event: TimeAt, At: "22:00"}}
	nightOff.Actions = []Action{{Command: CommandTurnOff, Target: TargetAll}}
	f.saveRuleWithGroup(t, nightOff, "light-porch")

	if got := f.engine.CheckConflicts(); len(got) != 2 {
		t.Fatalf("CheckConflicts() = %d, want 2", len(got))
	}

	disabled, err := f.engine.ResolveConflicts(ctx, "morning-on", ResolutionPriority)
	if err != nil {
		t.Fatalf("ResolveConflicts() error: %v", err)
	}
	if len(disabled) != 1 || disabled[0] != "morning-off" {
		t.Errorf("disabled = %v, want [morning-off]", disabled)
	}

	// The unrelated pair is untouched.
	rule, _ := f.registry.GetRule("night-off")
	if !rule.Enabled {
		t.Error("night-off disabled by a resolve scoped to morning-on")
	}
	if got := f.engine.CheckConflicts(); len(got) != 1 {
		t.Errorf("CheckConflicts() after scoped resolve = %d, want 1 remaining", len(got))
	}
}

func TestHandleTickConflictGate(t *testing.T) {
	f := newEngineFixture(t)

	on := motionRule("rule-on")
	on.Priority = 10
	on.Triggers = []Trigger{{Kind: TriggerTime, Event: TimeAt, At: "20:30"}}
	f.saveRuleWithGroup(t, on, "light-sofa")

	off := motionRule("rule-off")
	off.Priority = 1
	off.Triggers = []Trigger{{Kind: TriggerTime, Event: TimeAt, At: "20:30"}}
	off.Actions = []Action{{Command: CommandTurnOff, Target: TargetAll}}
	f.saveRuleWithGroup(t, off, "light-sofa")

	f.engine.HandleTick(context.Background(), tuesdayEvening) // 20:30

	sent := f.sink.dispatches()
	if len(sent) != 1 {
		t.Fatalf("dispatches = %+v, want only the priority winner", sent)
	}
	if sent[0].command != CommandTurnOn {
		t.Errorf("command = %q, want the higher-priority turn_on", sent[0].command)
	}

	recs := f.recorder.all()
	if len(recs) != 1 || recs[0].SubjectID != "rule-on" {
		t.Errorf("records = %+v, want one record for rule-on", recs)
	}
}

func TestScheduleDueConflictGate(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	on := motionRule("rule-on")
	on.Triggers = []Trigger{{Kind: TriggerTime, Event: TimeAt, At: "20:30"}}
	f.saveRuleWithGroup(t, on, "light-sofa")

	g := &Group{ID: "group-night", Name: "Night", DeviceIDs: []string{"light-sofa"}}
	if err := f.registry.SaveGroup(ctx, g); err != nil {
		t.Fatalf("SaveGroup() error: %v", err)
	}

	err := f.engine.ScheduleDue(ctx, schedule.Schedule{
		ID:      "sched-1",
		GroupID: "group-night",
		Name:    "Lights out",
		Kind:    schedule.KindTime,
		At:      "20:30",
		Action:  CommandTurnOff,
	})
	if !errors.Is(err, ErrConflictDetected) {
		t.Fatalf("ScheduleDue() = %v, want ErrConflictDetected", err)
	}
	if got := f.sink.devices(); len(got) != 0 {
		t.Errorf("dispatched to %v despite conflicting rule", got)
	}
}

func TestControlGroupConcurrentRejected(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	g := &Group{ID: "group-1", Name: "Living room", DeviceIDs: []string{"light-sofa"}}
	if err := f.registry.SaveGroup(ctx, g); err != nil {
		t.Fatalf("SaveGroup() error: %v", err)
	}

	sink := &gatedSink{started: make(chan struct{}), release: make(chan struct{})}
	f.engine.executor = NewExecutor(sink, ExecutorConfig{}, nil)

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.ControlGroup(ctx, "group-1", CommandTurnOff, nil, DispatchPolicy{})
		done <- err
	}()

	<-sink.started
	if _, err := f.engine.ControlGroup(ctx, "group-1", CommandTurnOn, nil, DispatchPolicy{}); !errors.Is(err, ErrExecutionInFlight) {
		t.Errorf("second ControlGroup = %v, want ErrExecutionInFlight", err)
	}

	close(sink.release)
	if err := <-done; err != nil {
		t.Errorf("first ControlGroup = %v, want nil", err)
	}
}

func TestHandleEventConcurrentCalls(t *testing.T) {
	f := newEngineFixture(t)
	f.saveRuleWithGroup(t, motionRule("rule-1"), "light-sofa")

	sink := &gatedSink{started: make(chan struct{}), release: make(chan struct{})}
	f.engine.executor = NewExecutor(sink, ExecutorConfig{}, nil)

	ev := Event{
		DeviceID:  "sensor-hall",
		Changed:   map[string]any{"motion": true},
		Timestamp: tuesdayEvening,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.engine.HandleEvent(context.Background(), ev)
	}()

	// A second event while the first is still dispatching is rejected by
	// the in-flight guard, not queued.
	<-sink.started
	f.engine.HandleEvent(context.Background(), ev)

	close(sink.release)
	wg.Wait()

	recs := f.recorder.all()
	if len(recs) != 1 || !recs[0].Success {
		t.Errorf("records = %+v, want exactly one successful run", recs)
	}
}

func TestControlGroup(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	g := &Group{ID: "group-1", Name: "Living room", DeviceIDs: []string{"light-sofa", "light-shelf"}}
	if err := f.registry.SaveGroup(ctx, g); err != nil {
		t.Fatalf("SaveGroup() error: %v", err)
	}

	result, err := f.engine.ControlGroup(ctx, "group-1", CommandTurnOff, nil, DispatchPolicy{})
	if err != nil {
		t.Fatalf("ControlGroup() error: %v", err)
	}
	if len(result.Successful) != 2 {
		t.Errorf("Successful = %v, want both devices", result.Successful)
	}

	recs := f.recorder.all()
	if len(recs) != 1 || recs[0].SubjectType != history.SubjectGroup {
		t.Errorf("records = %+v, want one group record", recs)
	}
	if got := f.bus.broadcasts(); len(got) != 1 || got[0] != ChannelGroupControlled {
		t.Errorf("broadcasts = %v, want [%s]", got, ChannelGroupControlled)
	}

	if _, err := f.engine.ControlGroup(ctx, "group-9", CommandTurnOff, nil, DispatchPolicy{}); !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("ControlGroup(unknown) = %v, want ErrGroupNotFound", err)
	}
}

func TestScheduleDue(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	g := &Group{ID: "group-1", Name: "Blinds", DeviceIDs: []string{"blind-east", "blind-west"}}
	if err := f.registry.SaveGroup(ctx, g); err != nil {
		t.Fatalf("SaveGroup() error: %v", err)
	}

	err := f.engine.ScheduleDue(ctx, schedule.Schedule{
		ID:      "sched-1",
		GroupID: "group-1",
		Action:  "close",
		Dispatch: schedule.Dispatch{
			Sequential: true,
		},
	})
	if err != nil {
		t.Fatalf("ScheduleDue() error: %v", err)
	}

	if got := f.sink.devices(); len(got) != 2 {
		t.Errorf("dispatched to %v, want both blinds", got)
	}
	recs := f.recorder.all()
	if len(recs) != 1 || recs[0].SubjectType != history.SubjectGroup || recs[0].TriggeredBy != history.TriggeredScheduled {
		t.Errorf("records = %+v, want one scheduled group record", recs)
	}
}

func TestTimerDue(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	err := f.engine.TimerDue(ctx, schedule.Timer{
		ID:       "timer-1",
		DeviceID: "heater-study",
		Action:   CommandTurnOff,
	})
	if err != nil {
		t.Fatalf("TimerDue() error: %v", err)
	}

	sent := f.sink.dispatches()
	if len(sent) != 1 || sent[0].deviceID != "heater-study" || sent[0].command != CommandTurnOff {
		t.Errorf("dispatches = %+v, want turn_off to heater-study", sent)
	}
	recs := f.recorder.all()
	if len(recs) != 1 || recs[0].SubjectType != history.SubjectTimer {
		t.Errorf("records = %+v, want one timer record", recs)
	}
}

func TestTimerDueDispatchFailure(t *testing.T) {
	f := newEngineFixture(t)
	f.sink.failOn = map[string]bool{"heater-study": true}

	err := f.engine.TimerDue(context.Background(), schedule.Timer{
		ID:       "timer-1",
		DeviceID: "heater-study",
		Action:   CommandTurnOff,
	})
	if err == nil {
		t.Error("TimerDue() = nil, want error on failed dispatch")
	}

	recs := f.recorder.all()
	if len(recs) != 1 || recs[0].Success {
		t.Errorf("records = %+v, want one failed record", recs)
	}
}
