package device

import (
	"sync"
)

// StateStore holds the last reported state of every device.
//
// State is a flat field map per device (e.g., power, brightness,
// temperature). The store is updated from device status messages and
// read by condition evaluation and scene capture.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Returned maps are copies; callers may mutate them freely.
type StateStore struct {
	mu     sync.RWMutex
	states map[string]map[string]any
}

// NewStateStore creates an empty state store.
func NewStateStore() *StateStore {
	return &StateStore{
		states: make(map[string]map[string]any),
	}
}

// Update merges fields into a device's state and returns the fields
// whose values actually changed. An empty result means the update was
// a no-op (same values re-reported).
func (s *StateStore) Update(deviceID string, fields map[string]any) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.states[deviceID]
	if !ok {
		current = make(map[string]any)
		s.states[deviceID] = current
	}

	changed := make(map[string]any)
	for k, v := range fields {
		if existing, ok := current[k]; !ok || existing != v {
			current[k] = v
			changed[k] = v
		}
	}

	return changed
}

// Get returns a copy of a device's state. The second return value is
// false if the device has never reported.
func (s *StateStore) Get(deviceID string) (map[string]any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[deviceID]
	if !ok {
		return nil, false
	}

	return copyFields(state), true
}

// Field returns a single state field for a device.
func (s *StateStore) Field(deviceID, field string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[deviceID]
	if !ok {
		return nil, false
	}
	v, ok := state[field]
	return v, ok
}

// Snapshot returns a copy of all known device states.
func (s *StateStore) Snapshot() map[string]map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := make(map[string]map[string]any, len(s.states))
	for id, state := range s.states {
		snapshot[id] = copyFields(state)
	}
	return snapshot
}

// Forget removes a device from the store.
func (s *StateStore) Forget(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, deviceID)
}

func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
