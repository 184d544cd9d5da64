package telemetry

import "errors"

// Domain-specific errors for telemetry operations.
var (
	// ErrDisabled is returned by Connect when telemetry is disabled in config.
	// Callers should treat this as a signal to run without telemetry.
	ErrDisabled = errors.New("telemetry: disabled in configuration")

	// ErrConnectionFailed is returned when the initial connection attempt fails.
	ErrConnectionFailed = errors.New("telemetry: connection failed")

	// ErrNotConnected is returned when attempting operations on a closed client.
	ErrNotConnected = errors.New("telemetry: client not connected")
)
