package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/draycott/haven-core/internal/automation"
	"github.com/draycott/haven-core/internal/scene"
	"github.com/draycott/haven-core/internal/schedule"
)

// ErrUnknownVerb is returned for control topics the handler does not
// recognise.
var ErrUnknownVerb = errors.New("control: unknown verb")

// Control verbs, each its own topic under haven/control/.
const (
	VerbTriggerRule      = "trigger_rule"
	VerbToggleRule       = "toggle_rule"
	VerbControlGroup     = "control_group"
	VerbActivateScene    = "activate_scene"
	VerbCaptureScene     = "capture_scene"
	VerbSetTimer         = "set_timer"
	VerbCancelTimer      = "cancel_timer"
	VerbSaveSchedule     = "save_schedule"
	VerbDeleteSchedule   = "delete_schedule"
	VerbEnableSchedule   = "enable_schedule"
	VerbCheckConflicts   = "check_conflicts"
	VerbResolveConflicts = "resolve_conflicts"
)

// RuleEngine is the slice of the automation engine the handler drives.
type RuleEngine interface {
	ManualTrigger(ctx context.Context, ruleID string, params map[string]any) error
	ControlGroup(ctx context.Context, groupID, command string, settings map[string]any, policy automation.DispatchPolicy) (automation.BatchResult, error)
	ToggleRule(ctx context.Context, ruleID string, enabled, force bool) error
	CheckConflicts() []automation.Conflict
	ResolveConflicts(ctx context.Context, ruleID string, strategy automation.Resolution) ([]string, error)
}

// SceneService captures and activates scenes.
type SceneService interface {
	Activate(ctx context.Context, sceneID string, policy automation.DispatchPolicy) (automation.BatchResult, error)
	Capture(ctx context.Context, groupID, name string) (*scene.Scene, error)
}

// ScheduleService manages device timers and weekly schedules.
type ScheduleService interface {
	SetTimer(ctx context.Context, t *schedule.Timer) error
	CancelTimer(ctx context.Context, id string) error
	SaveSchedule(ctx context.Context, s *schedule.Schedule) error
	DeleteSchedule(ctx context.Context, id string) error
	EnableSchedule(ctx context.Context, id string, enabled bool) error
}

// Logger is the logging surface the handler needs.
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

// requestTimeout bounds one control request, delays and sequencing
// included.
const requestTimeout = 2 * time.Minute

// Handler executes control requests arriving over MQTT.
//
// Each verb is a retained-free JSON message on haven/control/{verb}.
// Outcomes surface through the engine's own history records and bus
// events; the handler only logs and reports malformed requests.
type Handler struct {
	engine Engine
	logger Logger
}

// Engine bundles the services a handler dispatches to.
type Engine struct {
	Rules     RuleEngine
	Scenes    SceneService
	Schedules ScheduleService
}

// NewHandler creates a control handler. logger may be nil.
func NewHandler(engine Engine, logger Logger) *Handler {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Handler{engine: engine, logger: logger}
}

// MessageHandler returns the MQTT subscription callback. The verb is
// the final topic segment.
func (h *Handler) MessageHandler() func(topic string, payload []byte) error {
	return func(topic string, payload []byte) error {
		verb := topic[strings.LastIndex(topic, "/")+1:]
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		if err := h.Handle(ctx, verb, payload); err != nil {
			h.logger.Warn("control request failed", "verb", verb, "error", err)
			return err
		}
		return nil
	}
}

// Handle executes one control verb.
func (h *Handler) Handle(ctx context.Context, verb string, payload []byte) error {
	switch verb {
	case VerbTriggerRule:
		var req struct {
			RuleID string         `json:"rule_id"`
			Params map[string]any `json:"params,omitempty"`
		}
		if err := decode(payload, &req); err != nil {
			return err
		}
		return h.engine.Rules.ManualTrigger(ctx, req.RuleID, req.Params)

	case VerbToggleRule:
		var req struct {
			RuleID  string `json:"rule_id"`
			Enabled bool   `json:"enabled"`
			Force   bool   `json:"force,omitempty"`
		}
		if err := decode(payload, &req); err != nil {
			return err
		}
		return h.engine.Rules.ToggleRule(ctx, req.RuleID, req.Enabled, req.Force)

	case VerbControlGroup:
		var req struct {
			GroupID  string                    `json:"group_id"`
			Command  string                    `json:"command"`
			Settings map[string]any            `json:"settings,omitempty"`
			Policy   automation.DispatchPolicy `json:"policy,omitempty"`
		}
		if err := decode(payload, &req); err != nil {
			return err
		}
		result, err := h.engine.Rules.ControlGroup(ctx, req.GroupID, req.Command, req.Settings, req.Policy)
		if err != nil {
			return err
		}
		h.logger.Info("group controlled",
			"group_id", req.GroupID,
			"command", req.Command,
			"successful", len(result.Successful),
			"failed", len(result.Failed),
		)
		return nil

	case VerbActivateScene:
		var req struct {
			SceneID string                    `json:"scene_id"`
			Policy  automation.DispatchPolicy `json:"policy,omitempty"`
		}
		if err := decode(payload, &req); err != nil {
			return err
		}
		_, err := h.engine.Scenes.Activate(ctx, req.SceneID, req.Policy)
		return err

	case VerbCaptureScene:
		var req struct {
			GroupID string `json:"group_id"`
			Name    string `json:"name"`
		}
		if err := decode(payload, &req); err != nil {
			return err
		}
		s, err := h.engine.Scenes.Capture(ctx, req.GroupID, req.Name)
		if err != nil {
			return err
		}
		h.logger.Info("scene captured", "scene_id", s.ID, "group_id", req.GroupID)
		return nil

	case VerbSetTimer:
		var req struct {
			DeviceID      string         `json:"device_id"`
			Action        string         `json:"action"`
			Settings      map[string]any `json:"settings,omitempty"`
			ScheduledTime time.Time      `json:"scheduled_time"`
			IsRecurring   bool           `json:"is_recurring,omitempty"`
			RecurringDays []time.Weekday `json:"recurring_days,omitempty"`
		}
		if err := decode(payload, &req); err != nil {
			return err
		}
		return h.engine.Schedules.SetTimer(ctx, &schedule.Timer{
			DeviceID:      req.DeviceID,
			Action:        req.Action,
			Settings:      req.Settings,
			ScheduledTime: req.ScheduledTime,
			IsRecurring:   req.IsRecurring,
			RecurringDays: req.RecurringDays,
		})

	case VerbCancelTimer:
		var req struct {
			TimerID string `json:"timer_id"`
		}
		if err := decode(payload, &req); err != nil {
			return err
		}
		return h.engine.Schedules.CancelTimer(ctx, req.TimerID)

	case VerbSaveSchedule:
		var req schedule.Schedule
		if err := decode(payload, &req); err != nil {
			return err
		}
		if err := h.engine.Schedules.SaveSchedule(ctx, &req); err != nil {
			return err
		}
		h.logger.Info("schedule saved", "schedule_id", req.ID, "group_id", req.GroupID)
		return nil

	case VerbDeleteSchedule:
		var req struct {
			ScheduleID string `json:"schedule_id"`
		}
		if err := decode(payload, &req); err != nil {
			return err
		}
		return h.engine.Schedules.DeleteSchedule(ctx, req.ScheduleID)

	case VerbEnableSchedule:
		var req struct {
			ScheduleID string `json:"schedule_id"`
			Enabled    bool   `json:"enabled"`
		}
		if err := decode(payload, &req); err != nil {
			return err
		}
		return h.engine.Schedules.EnableSchedule(ctx, req.ScheduleID, req.Enabled)

	case VerbCheckConflicts:
		var req struct {
			RuleID string `json:"rule_id,omitempty"`
		}
		if err := decode(payload, &req); err != nil {
			return err
		}
		conflicts := h.engine.Rules.CheckConflicts()
		reported := 0
		for _, c := range conflicts {
			if req.RuleID != "" && c.RuleA != req.RuleID && c.RuleB != req.RuleID {
				continue
			}
			reported++
			h.logger.Warn("rule conflict",
				"rule_a", c.RuleA,
				"rule_b", c.RuleB,
				"devices", c.SharedDevices,
				"reason", c.Reason,
			)
		}
		h.logger.Info("conflict check complete", "rule_id", req.RuleID, "conflicts", reported)
		return nil

	case VerbResolveConflicts:
		var req struct {
			RuleID   string                `json:"rule_id,omitempty"`
			Strategy automation.Resolution `json:"strategy"`
		}
		if err := decode(payload, &req); err != nil {
			return err
		}
		disabled, err := h.engine.Rules.ResolveConflicts(ctx, req.RuleID, req.Strategy)
		if err != nil {
			return err
		}
		h.logger.Info("conflicts resolved",
			"rule_id", req.RuleID,
			"strategy", string(req.Strategy),
			"disabled", disabled,
		)
		return nil

	default:
		return fmt.Errorf("%w: %q", ErrUnknownVerb, verb)
	}
}

// decode unmarshals a request body. An empty payload means a request
// with all-default fields, so verbs without required parameters work
// from a bare publish.
func decode(payload []byte, v any) error {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("control: decoding request: %w", err)
	}
	return nil
}
