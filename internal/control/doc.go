// Package control exposes engine operations over MQTT.
//
// Each operation is a verb on its own topic under haven/control/, with
// a JSON request body. Requests fire and forget: outcomes are reported
// through execution history and the haven/core/event topics, not as
// replies. Malformed requests and unknown verbs are logged and
// rejected.
package control
