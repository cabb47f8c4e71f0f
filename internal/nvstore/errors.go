package nvstore

import "errors"

var (
	// ErrFieldTooLong is returned when a value does not fit its field.
	ErrFieldTooLong = errors.New("nvstore: value exceeds field width")

	// ErrBadImage is returned when the image file has the wrong size.
	ErrBadImage = errors.New("nvstore: image has unexpected size")
)
