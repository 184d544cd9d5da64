package scene

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for scene operations.
var (
	// ErrSceneNotFound is returned when a scene ID does not exist.
	ErrSceneNotFound = errors.New("scene: not found")

	// ErrNoDefault is returned when a group has no default scene.
	ErrNoDefault = errors.New("scene: group has no default scene")

	// ErrInvalidScene is returned when a scene fails validation.
	ErrInvalidScene = errors.New("scene: invalid scene")

	// ErrNothingToCapture is returned by Capture when no device in the
	// group has reported any state yet.
	ErrNothingToCapture = errors.New("scene: no device state to capture")
)

// DeviceState is one device's settings within a scene.
type DeviceState struct {
	DeviceID string         `json:"device_id"`
	Settings map[string]any `json:"settings"`
}

// Scene is a named snapshot of device settings for a group, restorable
// in one operation ("movie night", "all off").
type Scene struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	GroupID   string        `json:"group_id,omitempty"`
	States    []DeviceState `json:"states"`
	IsDefault bool          `json:"is_default"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Validate checks a scene at save time.
func (s *Scene) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidScene)
	}
	if s.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidScene)
	}
	if len(s.States) == 0 {
		return fmt.Errorf("%w: at least one device state is required", ErrInvalidScene)
	}
	for i, ds := range s.States {
		if ds.DeviceID == "" {
			return fmt.Errorf("%w: state %d has no device_id", ErrInvalidScene, i)
		}
	}
	return nil
}

// DeepCopy returns an independent copy safe to hand out of a cache.
func (s *Scene) DeepCopy() *Scene {
	out := *s
	out.States = make([]DeviceState, len(s.States))
	for i, ds := range s.States {
		settings := make(map[string]any, len(ds.Settings))
		for k, v := range ds.Settings {
			settings[k] = v
		}
		out.States[i] = DeviceState{DeviceID: ds.DeviceID, Settings: settings}
	}
	return &out
}
