//go:build !linux

package telemetry

import (
	"errors"
	"fmt"
)

// I2CBus is only available on Linux.
type I2CBus struct{}

// OpenI2C always fails off Linux.
func OpenI2C(path string) (*I2CBus, error) {
	return nil, fmt.Errorf("opening i2c bus %s: %w", path, errors.ErrUnsupported)
}

// Tx implements drivers.I2C.
func (*I2CBus) Tx(uint16, []byte, []byte) error { return errors.ErrUnsupported }

// Close is a no-op.
func (*I2CBus) Close() error { return nil }
