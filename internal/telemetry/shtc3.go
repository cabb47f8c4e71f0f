package telemetry

import (
	"context"
	"fmt"
	"math"
	"sync"

	"tinygo.org/x/drivers"
	"tinygo.org/x/drivers/shtc3"
)

// climateDriver is the part of the SHTC3 driver the node uses.
type climateDriver interface {
	WakeUp() error
	ReadTemperatureHumidity() (tempMilliC int32, rhx100 int16, err error)
	Sleep() error
}

// Climate shares one temperature/humidity chip between two channels.
type Climate struct {
	mu  sync.Mutex
	drv climateDriver
}

// NewSHTC3 binds the SHTC3 driver to bus.
func NewSHTC3(bus drivers.I2C) *Climate {
	dev := shtc3.New(bus)
	return &Climate{drv: &dev}
}

// measure wakes the chip, takes one measurement and puts it back to sleep.
func (c *Climate) measure() (tempC, rh float64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.drv.WakeUp(); err != nil {
		return math.NaN(), math.NaN(), fmt.Errorf("%w: shtc3 wake: %w", ErrSensorRead, err)
	}
	defer func() { _ = c.drv.Sleep() }()

	milliC, rhx100, err := c.drv.ReadTemperatureHumidity()
	if err != nil {
		return math.NaN(), math.NaN(), fmt.Errorf("%w: shtc3: %w", ErrSensorRead, err)
	}
	return float64(milliC) / 1000, float64(rhx100) / 100, nil
}

// Temperature returns a Sensor yielding degrees Celsius.
func (c *Climate) Temperature() Sensor {
	return SensorFunc(func(context.Context) (float64, error) {
		t, _, err := c.measure()
		return t, err
	})
}

// Humidity returns a Sensor yielding relative humidity in percent.
func (c *Climate) Humidity() Sensor {
	return SensorFunc(func(context.Context) (float64, error) {
		_, h, err := c.measure()
		return h, err
	})
}
