package provisioning

import "errors"

var (
	// ErrMissingSSID indicates a submission without an SSID.
	ErrMissingSSID = errors.New("provisioning: ssid is required")

	// ErrFieldTooLong indicates a submitted value exceeds its stored width.
	ErrFieldTooLong = errors.New("provisioning: value too long")

	// ErrBusy indicates an earlier request has not been collected yet.
	ErrBusy = errors.New("provisioning: request already pending")
)
