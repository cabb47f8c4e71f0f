// Package influxdb archives node telemetry to InfluxDB v2.
//
// The archive is optional (influxdb.enabled). The broker remains the
// primary path; InfluxDB receives a copy of every published channel
// average, every observed bridged switch state, and lifecycle events
// (connectivity transitions, faults). Points are batched and written
// asynchronously; write errors are delivered to the SetOnError callback.
//
// Usage:
//
//	archive, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without an archive
//	}
//	defer archive.Close()
package influxdb
