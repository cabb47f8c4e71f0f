package connectivity

import "errors"

var (
	// ErrAssociationExhausted indicates every association attempt failed.
	ErrAssociationExhausted = errors.New("connectivity: association attempts exhausted")

	// ErrHandshakeTimeout indicates the broker could not be reached within
	// the handshake timeout.
	ErrHandshakeTimeout = errors.New("connectivity: broker handshake timed out")

	// ErrNoPortal indicates provisioning was required but no portal is configured.
	ErrNoPortal = errors.New("connectivity: no provisioning portal")

	// ErrCommandFailed indicates a network management command failed.
	ErrCommandFailed = errors.New("connectivity: network command failed")
)
