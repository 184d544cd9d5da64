package scene

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/draycott/haven-core/internal/automation"
	"github.com/draycott/haven-core/internal/history"
)

// CommandSetState applies a captured settings map to a device.
const CommandSetState = "set_state"

// ChannelSceneActivated is the bus channel for activations.
const ChannelSceneActivated = "scene_activated"

// GroupReader resolves groups. Satisfied by *automation.Registry.
type GroupReader interface {
	GetGroup(id string) (*automation.Group, error)
}

// StateReader exposes last-reported device state for capture.
// Satisfied by *device.StateStore.
type StateReader interface {
	Get(deviceID string) (map[string]any, bool)
}

// Recorder appends execution records. Satisfied by *history.Recorder.
type Recorder interface {
	Record(ctx context.Context, rec history.Record)
}

// Broadcaster fans out scene events. Satisfied by *events.Bus.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// Logger is the logging surface the scene manager needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ManagerOptions wires a Manager's collaborators.
type ManagerOptions struct {
	Repository *Repository
	Groups     GroupReader
	States     StateReader
	Executor   *automation.Executor
	Recorder   Recorder
	Bus        Broadcaster
	Logger     Logger
}

// Manager captures and activates scenes.
type Manager struct {
	repo     *Repository
	groups   GroupReader
	states   StateReader
	executor *automation.Executor
	recorder Recorder
	bus      Broadcaster
	logger   Logger
}

// NewManager creates a manager. Recorder, Bus, and Logger are optional.
func NewManager(opts ManagerOptions) *Manager {
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &Manager{
		repo:     opts.Repository,
		groups:   opts.Groups,
		states:   opts.States,
		executor: opts.Executor,
		recorder: opts.Recorder,
		bus:      opts.Bus,
		logger:   opts.Logger,
	}
}

// ─── Capture ─────────────────────────────────────────────────────────────────

// Capture snapshots the current state of every device in a group into
// a new scene.
//
// Devices that have never reported are left out of the snapshot; if no
// device in the group has reported, ErrNothingToCapture is returned.
func (m *Manager) Capture(ctx context.Context, groupID, name string) (*Scene, error) {
	group, err := m.groups.GetGroup(groupID)
	if err != nil {
		return nil, err
	}

	var states []DeviceState
	for _, deviceID := range group.DeviceIDs {
		fields, ok := m.states.Get(deviceID)
		if !ok || len(fields) == 0 {
			m.logger.Debug("no state to capture", "device_id", deviceID)
			continue
		}
		states = append(states, DeviceState{DeviceID: deviceID, Settings: fields})
	}
	if len(states) == 0 {
		return nil, fmt.Errorf("%w: group %s", ErrNothingToCapture, groupID)
	}

	s := &Scene{
		ID:      uuid.NewString(),
		Name:    name,
		GroupID: groupID,
		States:  states,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if err := m.repo.Create(ctx, s); err != nil {
		return nil, err
	}

	m.logger.Info("scene captured",
		"scene_id", s.ID,
		"group_id", groupID,
		"name", name,
		"devices", len(states),
	)
	return s, nil
}

// ─── Activation ──────────────────────────────────────────────────────────────

// Activate restores every device state stored in a scene.
//
// Each device receives its own settings, so dispatch is one specific
// action per stored state. One failing device never aborts the rest.
// The default policy dispatches devices in parallel; pass a sequential
// policy to pace the restore one device at a time.
func (m *Manager) Activate(ctx context.Context, sceneID string, policy automation.DispatchPolicy) (automation.BatchResult, error) {
	s, err := m.repo.Get(ctx, sceneID)
	if err != nil {
		return automation.BatchResult{}, err
	}
	return m.activate(ctx, s, policy), nil
}

// ActivateDefault restores a group's default scene.
func (m *Manager) ActivateDefault(ctx context.Context, groupID string, policy automation.DispatchPolicy) (automation.BatchResult, error) {
	s, err := m.repo.DefaultForGroup(ctx, groupID)
	if err != nil {
		return automation.BatchResult{}, err
	}
	return m.activate(ctx, s, policy), nil
}

func (m *Manager) activate(ctx context.Context, s *Scene, policy automation.DispatchPolicy) automation.BatchResult {
	var total automation.BatchResult

	for i, ds := range s.States {
		if policy.Sequential && i > 0 && policy.IntervalMS > 0 {
			wait := time.NewTimer(time.Duration(policy.IntervalMS) * time.Millisecond)
			select {
			case <-ctx.Done():
				wait.Stop()
				total.Failed = append(total.Failed, automation.DispatchFailure{DeviceID: ds.DeviceID, Reason: ctx.Err().Error()})
				continue
			case <-wait.C:
			}
		}

		action := automation.Action{
			Command:   CommandSetState,
			Target:    automation.TargetSpecific,
			DeviceIDs: []string{ds.DeviceID},
			Settings:  ds.Settings,
		}
		result := m.executor.Execute(ctx, action, []string{ds.DeviceID}, policy)
		total.Successful = append(total.Successful, result.Successful...)
		total.Failed = append(total.Failed, result.Failed...)
		total.DurationMS += result.DurationMS
	}

	var execErr *string
	if !total.Success() && len(total.Failed) > 0 {
		msg := fmt.Sprintf("all %d dispatches failed", len(total.Failed))
		execErr = &msg
	}

	if m.recorder != nil {
		m.recorder.Record(ctx, history.Record{
			SubjectID:       s.ID,
			SubjectType:     history.SubjectScene,
			TriggeredBy:     history.TriggeredManual,
			Success:         total.Success(),
			DurationMS:      total.DurationMS,
			AffectedDevices: total.Devices(),
			Error:           execErr,
		})
	}
	if m.bus != nil {
		m.bus.Broadcast(ChannelSceneActivated, map[string]any{
			"scene_id":   s.ID,
			"scene_name": s.Name,
			"group_id":   s.GroupID,
			"success":    total.Success(),
		})
	}

	m.logger.Info("scene activated",
		"scene_id", s.ID,
		"name", s.Name,
		"success", total.Success(),
		"devices", len(s.States),
	)
	return total
}

// ─── CRUD passthroughs ───────────────────────────────────────────────────────

// Save validates and stores a scene, assigning an ID when absent.
func (m *Manager) Save(ctx context.Context, s *Scene) error {
	isNew := s.ID == ""
	if isNew {
		s.ID = uuid.NewString()
	}
	if err := s.Validate(); err != nil {
		return err
	}
	if isNew {
		return m.repo.Create(ctx, s)
	}
	return m.repo.Update(ctx, s)
}

// Get loads one scene.
func (m *Manager) Get(ctx context.Context, id string) (*Scene, error) {
	return m.repo.Get(ctx, id)
}

// List loads every scene.
func (m *Manager) List(ctx context.Context) ([]*Scene, error) {
	return m.repo.List(ctx)
}

// ListForGroup loads a group's scenes.
func (m *Manager) ListForGroup(ctx context.Context, groupID string) ([]*Scene, error) {
	return m.repo.ListForGroup(ctx, groupID)
}

// SetDefault marks a scene as its group's default.
func (m *Manager) SetDefault(ctx context.Context, id string) error {
	return m.repo.SetDefault(ctx, id)
}

// Delete removes a scene.
func (m *Manager) Delete(ctx context.Context, id string) error {
	return m.repo.Delete(ctx, id)
}
