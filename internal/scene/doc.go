// Package scene captures and restores named snapshots of device state.
//
// A scene stores per-device settings for a group. Capture reads the
// live state store; activation replays each stored settings map back to
// its device through the action executor, so pacing and failure
// handling match rule execution.
package scene
