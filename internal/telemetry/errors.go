package telemetry

import "errors"

var (
	// ErrInvalidCapacity is returned for a non-positive buffer size.
	ErrInvalidCapacity = errors.New("telemetry: buffer capacity must be positive")

	// ErrSnapshotMismatch is returned when restored state does not fit the buffer.
	ErrSnapshotMismatch = errors.New("telemetry: snapshot does not match buffer")

	// ErrNoSession is recorded as the publish error when the node is offline.
	ErrNoSession = errors.New("telemetry: no broker session")

	// ErrSensorRead wraps sensor driver failures.
	ErrSensorRead = errors.New("telemetry: sensor read failed")

	// ErrUnknownSource is returned for an unsupported channel source.
	ErrUnknownSource = errors.New("telemetry: unknown sensor source")
)
