package device

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ChangeCallback is invoked with the fields that changed after a status
// update. It runs on the MQTT handler goroutine and must not block.
type ChangeCallback func(deviceID string, changed map[string]any)

// StatusHandler returns an MQTT message handler that feeds device
// status reports into the store.
//
// Expects topics of the form haven/status/{device_id} with a flat JSON
// object payload. The callback fires only when at least one field
// changed, so duplicate reports don't re-trigger automation.
func StatusHandler(store *StateStore, onChange ChangeCallback) func(topic string, payload []byte) error {
	return func(topic string, payload []byte) error {
		deviceID := deviceIDFromTopic(topic)
		if deviceID == "" {
			return fmt.Errorf("status topic %q has no device id", topic)
		}

		var fields map[string]any
		if err := json.Unmarshal(payload, &fields); err != nil {
			return fmt.Errorf("decoding status from %s: %w", deviceID, err)
		}

		changed := store.Update(deviceID, fields)
		if len(changed) > 0 && onChange != nil {
			onChange(deviceID, changed)
		}

		return nil
	}
}

// deviceIDFromTopic extracts the device ID from a status topic.
// "haven/status/light-hall" -> "light-hall"
func deviceIDFromTopic(topic string) string {
	idx := strings.LastIndex(topic, "/")
	if idx < 0 || idx == len(topic)-1 {
		return ""
	}
	return topic[idx+1:]
}
