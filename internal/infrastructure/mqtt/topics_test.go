package mqtt

import "testing"

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"DeviceCommand", topics.DeviceCommand("light-hall"), "haven/command/light-hall"},
		{"DeviceStatus", topics.DeviceStatus("sensor-porch"), "haven/status/sensor-porch"},
		{"DeviceResult", topics.DeviceResult("light-hall"), "haven/result/light-hall"},
		{"CoreEvent", topics.CoreEvent("rule_fired"), "haven/core/event/rule_fired"},
		{"CoreSceneActivated", topics.CoreSceneActivated("movie-night"), "haven/core/scene/movie-night/activated"},
		{"CoreRuleFired", topics.CoreRuleFired("rule-1"), "haven/core/rule/rule-1/fired"},
		{"ControlRequest", topics.ControlRequest("activate_scene"), "haven/control/activate_scene"},
		{"AllControlRequests", topics.AllControlRequests(), "haven/control/+"},
		{"SystemStatus", topics.SystemStatus(), "haven/system/status"},
		{"AllDeviceStatus", topics.AllDeviceStatus(), "haven/status/+"},
		{"AllCoreEvents", topics.AllCoreEvents(), "haven/core/event/+"},
		{"AllTopics", topics.AllTopics(), "haven/#"},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestPublishValidation(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}

	if err := c.Publish("", []byte("x"), 1, false); err != ErrInvalidTopic {
		t.Errorf("Publish with empty topic = %v, want ErrInvalidTopic", err)
	}
	if err := c.Publish("haven/command/x", []byte("x"), 3, false); err != ErrInvalidQoS {
		t.Errorf("Publish with qos 3 = %v, want ErrInvalidQoS", err)
	}
}

func TestSubscribeValidation(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}

	if err := c.Subscribe("", 1, func(string, []byte) error { return nil }); err != ErrInvalidTopic {
		t.Errorf("Subscribe with empty topic = %v, want ErrInvalidTopic", err)
	}
	if err := c.Subscribe("haven/status/+", 3, func(string, []byte) error { return nil }); err != ErrInvalidQoS {
		t.Errorf("Subscribe with qos 3 = %v, want ErrInvalidQoS", err)
	}
}
