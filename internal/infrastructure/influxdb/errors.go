package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	// Callers run without an archive.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrUnreachable is returned by Connect when the server does not answer
	// its health ping.
	ErrUnreachable = errors.New("influxdb: server unreachable")
)
