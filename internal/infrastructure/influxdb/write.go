package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// RecordCommand writes one command invocation to InfluxDB.
//
// The write is non-blocking; data is batched and sent asynchronously.
// Commands are the primary telemetry of the control point: every
// invocation is recorded with its outcome and duration, tagged so
// rejection rates per command and per entity can be graphed directly.
//
// Parameters:
//   - entity: "master" or a subarray id
//   - command: the command name (e.g. "AssignResources")
//   - txn: the transaction id attached to the command's log records
//   - outcome: "success", "rejected" or "fault"
//   - duration: wall-clock time of the command
//
// Example:
//
//	client.RecordCommand("subarray-01", "Scan", "txn-4f2a", "success", 12*time.Millisecond)
func (c *Client) RecordCommand(entity, command, txn, outcome string, duration time.Duration) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"commands",
		map[string]string{
			"entity":  entity,
			"command": command,
			"outcome": outcome,
		},
		map[string]interface{}{
			"duration_ms":    float64(duration.Microseconds()) / 1000.0,
			"transaction_id": txn,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// RecordStateTransition writes an observing or power state change.
//
// Parameters:
//   - entity: "master" or a subarray id
//   - attribute: "obs_state" or "power_state"
//   - state: the new state name
func (c *Client) RecordStateTransition(entity, attribute, state string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"state_transitions",
		map[string]string{
			"entity":    entity,
			"attribute": attribute,
		},
		map[string]interface{}{
			"state": state,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
