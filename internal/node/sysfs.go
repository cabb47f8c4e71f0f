package node

import (
	"bytes"
	"fmt"
	"os"
)

// SysfsLED drives an LED through its sysfs brightness file, e.g.
// /sys/class/leds/led0/brightness.
type SysfsLED struct {
	Path string
}

// Set implements Indicator.
func (l SysfsLED) Set(on bool) error {
	v := []byte("0")
	if on {
		v = []byte("1")
	}
	if err := os.WriteFile(l.Path, v, 0o644); err != nil { // #nosec G306 -- sysfs attribute
		return fmt.Errorf("writing %s: %w", l.Path, err)
	}
	return nil
}

// SysfsGPIO reads an exported GPIO line's value file, e.g.
// /sys/class/gpio/gpio17/value. Buttons wired to ground are ActiveLow.
type SysfsGPIO struct {
	Path      string
	ActiveLow bool
}

// Pressed implements Input.
func (g SysfsGPIO) Pressed() (bool, error) {
	raw, err := os.ReadFile(g.Path)
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", g.Path, err)
	}
	high := bytes.Equal(bytes.TrimSpace(raw), []byte("1"))
	return high != g.ActiveLow, nil
}

// NopIndicator discards writes.
type NopIndicator struct{}

// Set implements Indicator.
func (NopIndicator) Set(bool) error {
	return nil
}
