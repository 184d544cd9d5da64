// Package mqtt provides the MQTT transport for Haven Core.
//
// It wraps paho.mqtt.golang with connection management, Last Will and
// Testament for offline detection, automatic reconnection with
// subscription restoration, and panic-safe message handlers.
//
// # Topic Scheme
//
//	haven/command/{device_id}   commands to devices
//	haven/status/{device_id}    status reports from devices
//	haven/result/{device_id}    command acknowledgements
//	haven/core/event/{type}     engine events (rule_fired, scene_activated)
//	haven/system/status         engine online/offline (retained, LWT)
//
// Use the Topics builders rather than formatting topic strings by hand.
package mqtt
