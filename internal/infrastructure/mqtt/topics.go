package mqtt

import "fmt"

// Topic prefixes for Haven's MQTT scheme.
//
// Device topics use the flat scheme: haven/{category}/{device_id}
const (
	// TopicPrefix is the base for all Haven topics.
	TopicPrefix = "haven"

	// TopicPrefixCore is the base for engine-originated topics.
	TopicPrefixCore = "haven/core"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "haven/system"
)

// Topics provides builders for Haven MQTT topics.
// Using these helpers keeps topic naming consistent across the codebase.
//
//	topics := mqtt.Topics{}
//	cmdTopic := topics.DeviceCommand("light-hall")
//	// Returns: "haven/command/light-hall"
type Topics struct{}

// DeviceCommand returns the topic for commands to a device.
//
// Example: haven/command/light-hall
func (Topics) DeviceCommand(deviceID string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, deviceID)
}

// DeviceStatus returns the topic for status reports from a device.
//
// Example: haven/status/light-hall
func (Topics) DeviceStatus(deviceID string) string {
	return fmt.Sprintf("%s/status/%s", TopicPrefix, deviceID)
}

// DeviceResult returns the topic for command acknowledgements from a device.
//
// Example: haven/result/light-hall
func (Topics) DeviceResult(deviceID string) string {
	return fmt.Sprintf("%s/result/%s", TopicPrefix, deviceID)
}

// CoreEvent returns the topic for engine events.
//
// Example: haven/core/event/rule_fired
func (Topics) CoreEvent(eventType string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefixCore, eventType)
}

// CoreSceneActivated returns the topic for scene activation events.
//
// Example: haven/core/scene/movie-night/activated
func (Topics) CoreSceneActivated(sceneID string) string {
	return fmt.Sprintf("%s/scene/%s/activated", TopicPrefixCore, sceneID)
}

// CoreRuleFired returns the topic for rule execution events.
//
// Example: haven/core/rule/rule-sunset-lights/fired
func (Topics) CoreRuleFired(ruleID string) string {
	return fmt.Sprintf("%s/rule/%s/fired", TopicPrefixCore, ruleID)
}

// ControlRequest returns the topic for one control verb.
//
// Example: haven/control/activate_scene
func (Topics) ControlRequest(verb string) string {
	return fmt.Sprintf("%s/control/%s", TopicPrefix, verb)
}

// AllControlRequests returns a pattern matching every control verb.
//
// Pattern: haven/control/+
func (Topics) AllControlRequests() string {
	return fmt.Sprintf("%s/control/+", TopicPrefix)
}

// SystemStatus returns the engine status topic (online/offline, LWT).
//
// Example: haven/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllDeviceStatus returns a pattern matching all device status reports.
//
// Pattern: haven/status/+
func (Topics) AllDeviceStatus() string {
	return fmt.Sprintf("%s/status/+", TopicPrefix)
}

// AllDeviceResults returns a pattern matching all device acknowledgements.
//
// Pattern: haven/result/+
func (Topics) AllDeviceResults() string {
	return fmt.Sprintf("%s/result/+", TopicPrefix)
}

// AllCoreEvents returns a pattern matching all engine events.
//
// Pattern: haven/core/event/+
func (Topics) AllCoreEvents() string {
	return fmt.Sprintf("%s/event/+", TopicPrefixCore)
}

// AllTopics returns a pattern matching all Haven topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: haven/#
func (Topics) AllTopics() string {
	return "haven/#"
}
