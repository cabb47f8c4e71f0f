package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementTelemetry = "telemetry"
	measurementSwitch    = "bridged_switch"
	measurementLifecycle = "node_lifecycle"
)

// WriteChannelSample records one published channel average.
//
// Example:
//
//	client.WriteChannelSample("garge_b43a4536a89c", "temperature", 21.4, now)
func (c *Client) WriteChannelSample(nodeName, channel string, value float64, ts time.Time) {
	c.writePoint(measurementTelemetry,
		map[string]string{"node": nodeName, "channel": channel},
		map[string]any{"value": value},
		ts)
}

// WriteBridgeState records the observed state of a bridged switch.
func (c *Client) WriteBridgeState(nodeName, instanceID string, on bool, ts time.Time) {
	c.writePoint(measurementSwitch,
		map[string]string{"node": nodeName, "instance": instanceID},
		map[string]any{"on": on},
		ts)
}

// WriteLifecycle records a connectivity transition or fault.
func (c *Client) WriteLifecycle(nodeName, event, detail string, ts time.Time) {
	c.writePoint(measurementLifecycle,
		map[string]string{"node": nodeName, "event": event},
		map[string]any{"detail": detail},
		ts)
}

// writePoint queues one point. Points written after Close are dropped.
func (c *Client) writePoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	if c.closed.Load() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, ts))
	c.written.Add(1)
}
