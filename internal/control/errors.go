package control

import "errors"

var (
	// ErrEmptyFile indicates the drop-in file has no usable values yet.
	ErrEmptyFile = errors.New("control: credentials file is empty")

	// ErrInvalidFile indicates the drop-in file could not be parsed.
	ErrInvalidFile = errors.New("control: invalid credentials file")
)
