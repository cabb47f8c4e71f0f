package mqtt

import "errors"

// Sentinel errors. Wrapped errors keep these at the root; test with errors.Is.
var (
	// ErrConnectionFailed: a handshake attempt did not produce a session.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrNotConnected: the session is gone. The connectivity machine will
	// notice on its next tick and redial.
	ErrNotConnected = errors.New("mqtt: not connected")

	ErrPublishFailed   = errors.New("mqtt: publish failed")
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	ErrInvalidQoS   = errors.New("mqtt: QoS must be 0, 1 or 2")
	ErrInvalidTopic = errors.New("mqtt: invalid topic")
)
