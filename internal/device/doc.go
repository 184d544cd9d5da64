// Package device provides the boundary between the automation engine
// and physical devices.
//
// Outbound: MQTTSink publishes commands to haven/command/{device_id}.
// Inbound: StatusHandler decodes haven/status/{device_id} reports into
// the StateStore, which condition evaluation and scene capture read.
//
// Device semantics below the MQTT boundary (protocol bridges, drivers)
// are out of scope here; anything that speaks the command/status topic
// contract is a valid device.
package device
