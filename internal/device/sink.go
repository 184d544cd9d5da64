package device

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/draycott/haven-core/internal/infrastructure/mqtt"
)

// Publisher is the transport the sink publishes commands over.
// Satisfied by *mqtt.Client.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Logger is the minimal logging interface the sink needs.
type Logger interface {
	Debug(msg string, args ...any)
}

// Command is the JSON payload published to haven/command/{device_id}.
type Command struct {
	ID        string         `json:"id"`
	DeviceID  string         `json:"device_id"`
	Command   string         `json:"command"`
	Settings  map[string]any `json:"settings,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// MQTTSink dispatches device commands over MQTT.
//
// Each command gets a unique ID so acknowledgements on
// haven/result/{device_id} can be correlated by subscribers.
type MQTTSink struct {
	publisher Publisher
	qos       byte
	timeout   time.Duration
	logger    Logger
}

// NewMQTTSink creates a command sink over the given publisher.
//
// Parameters:
//   - publisher: MQTT client (or test double)
//   - qos: QoS level for command publishes
//   - timeout: Per-command budget; contexts passed to Send are capped to it
//   - logger: Optional debug logger, may be nil
func NewMQTTSink(publisher Publisher, qos byte, timeout time.Duration, logger Logger) *MQTTSink {
	return &MQTTSink{
		publisher: publisher,
		qos:       qos,
		timeout:   timeout,
		logger:    logger,
	}
}

// Send publishes a command to a device and reports how long the
// dispatch took. The configured per-command timeout caps the whole
// dispatch; a publish still outstanding when it expires is reported as
// a device failure.
//
// Parameters:
//   - ctx: Cancels the dispatch before it is attempted
//   - deviceID: Target device
//   - command: Command name (turn_on, turn_off, toggle, set_*)
//   - settings: Optional command parameters (brightness, colour, ...)
//
// Returns:
//   - time.Duration: Wall-clock dispatch duration
//   - error: If the context is done, the timeout expires, or the
//     publish fails
func (s *MQTTSink) Send(ctx context.Context, deviceID, command string, settings map[string]any) (time.Duration, error) {
	start := time.Now()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("dispatch to %s: %w", deviceID, err)
	}

	cmd := Command{
		ID:        uuid.NewString(),
		DeviceID:  deviceID,
		Command:   command,
		Settings:  settings,
		Timestamp: start.UTC(),
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return 0, fmt.Errorf("encoding command for %s: %w", deviceID, err)
	}

	topic := mqtt.Topics{}.DeviceCommand(deviceID)
	errc := make(chan error, 1)
	go func() {
		errc <- s.publisher.Publish(topic, payload, s.qos, false)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return time.Since(start), fmt.Errorf("publishing command to %s: %w", deviceID, err)
		}
	case <-ctx.Done():
		return time.Since(start), fmt.Errorf("dispatch to %s: %w", deviceID, ctx.Err())
	}

	elapsed := time.Since(start)
	if s.logger != nil {
		s.logger.Debug("command dispatched",
			"device_id", deviceID,
			"command", command,
			"duration_ms", elapsed.Milliseconds(),
		)
	}

	return elapsed, nil
}

// Timeout returns the per-command budget configured for this sink.
func (s *MQTTSink) Timeout() time.Duration {
	return s.timeout
}
