//go:build linux

package telemetry

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// i2cSlave is the I2C_SLAVE ioctl from linux/i2c-dev.h.
const i2cSlave = 0x0703

// I2CBus drives a /dev/i2c-N character device. It implements drivers.I2C.
type I2CBus struct {
	mu   sync.Mutex
	f    *os.File
	addr uint16
	set  bool
}

// OpenI2C opens the bus device at path.
func OpenI2C(path string) (*I2CBus, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening i2c bus %s: %w", path, err)
	}
	return &I2CBus{f: f}, nil
}

// Tx writes w then reads len(r) bytes from the device at addr.
func (b *I2CBus) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.set || b.addr != addr {
		if err := unix.IoctlSetInt(int(b.f.Fd()), i2cSlave, int(addr)); err != nil {
			return fmt.Errorf("i2c select 0x%02x: %w", addr, err)
		}
		b.addr, b.set = addr, true
	}
	if len(w) > 0 {
		if _, err := b.f.Write(w); err != nil {
			return fmt.Errorf("i2c write 0x%02x: %w", addr, err)
		}
	}
	if len(r) > 0 {
		if _, err := b.f.Read(r); err != nil {
			return fmt.Errorf("i2c read 0x%02x: %w", addr, err)
		}
	}
	return nil
}

// Close releases the device.
func (b *I2CBus) Close() error {
	return b.f.Close()
}
