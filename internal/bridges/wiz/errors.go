package wiz

import "errors"

// Sentinel errors for the WiZ bridge.
var (
	// ErrMalformedReply indicates a UDP reply that is not a valid WiZ response.
	ErrMalformedReply = errors.New("wiz: malformed reply")

	// ErrDeviceError indicates the device answered with an error object.
	ErrDeviceError = errors.New("wiz: device returned error")

	// ErrNoReply indicates a request went unanswered within the timeout.
	ErrNoReply = errors.New("wiz: no reply")

	// ErrInvalidMAC indicates a reply carried an unusable MAC address.
	ErrInvalidMAC = errors.New("wiz: invalid mac address")

	// ErrInvalidCommand indicates a set payload that is neither ON nor OFF.
	ErrInvalidCommand = errors.New("wiz: invalid command payload")

	// ErrInboxFull indicates an inbound command was dropped.
	ErrInboxFull = errors.New("wiz: inbox full")

	// ErrNoTransport indicates NewBridge was called without a transport.
	ErrNoTransport = errors.New("wiz: transport is required")
)
