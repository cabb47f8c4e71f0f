// Package telemetry implements the node's sampling pipeline.
//
// Each Channel owns one physical quantity (temperature, humidity, voltage).
// Per tick it reads its Sensor, applies the device calibration, folds the
// value into a SampleBuffer and publishes the moving average as
// {"<channel>": <average>} on the channel's state topic.
//
// # Faults
//
// A non-finite or missing reading increments the channel's FaultCounter and
// is not written into the buffer; a finite reading resets it. When the
// counter reaches its threshold the channel returns a node.FaultError of
// kind FaultSensorWedged. Nothing in this package restarts anything.
//
// # Power-sensitive variant
//
// With power.deep_sleep enabled the Pipeline persists buffers and counters
// through a Memory after one published sample and returns FaultSleep. On the
// next start Setup restores them and skips the pre-fill.
package telemetry
