package telemetry

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteExecution records one automation execution as a metric point.
//
// The write is non-blocking; data is batched and sent asynchronously.
// Dropped points are acceptable here, the SQLite history table holds
// the authoritative record.
//
// Parameters:
//   - subjectType: What executed (rule, group, scene, timer)
//   - subjectID: Identifier of the subject
//   - triggeredBy: What initiated it (manual, scheduled, event)
//   - success: Whether at least one device dispatch succeeded
//   - durationMS: Wall-clock execution duration in milliseconds
//   - deviceCount: Number of devices the execution touched
func (c *Client) WriteExecution(subjectType, subjectID, triggeredBy string, success bool, durationMS int64, deviceCount int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"executions",
		map[string]string{
			"subject_type": subjectType,
			"subject_id":   subjectID,
			"triggered_by": triggeredBy,
		},
		map[string]interface{}{
			"success":      success,
			"duration_ms":  durationMS,
			"device_count": deviceCount,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteDeviceDispatch records a single device command dispatch.
//
// Parameters:
//   - deviceID: Device identifier
//   - command: Command name (turn_on, set_brightness, ...)
//   - success: Whether the dispatch succeeded
//   - durationMS: Dispatch duration in milliseconds
func (c *Client) WriteDeviceDispatch(deviceID, command string, success bool, durationMS int64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"dispatches",
		map[string]string{
			"device_id": deviceID,
			"command":   command,
		},
		map[string]interface{}{
			"success":     success,
			"duration_ms": durationMS,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
