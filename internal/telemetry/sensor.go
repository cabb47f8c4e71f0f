package telemetry

import (
	"context"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/garge-node/internal/clock"
	"github.com/nerrad567/garge-node/internal/infrastructure/config"
)

// Sensor yields one raw reading per call. An error counts as a missing
// reading for fault purposes.
type Sensor interface {
	Read(ctx context.Context) (float64, error)
}

// SensorFunc adapts a function to Sensor.
type SensorFunc func(ctx context.Context) (float64, error)

// Read calls f.
func (f SensorFunc) Read(ctx context.Context) (float64, error) {
	return f(ctx)
}

// ADC reads a Linux IIO raw value file and converts counts to volts at the
// top of the divider. Power-law calibration is applied later by the channel.
type ADC struct {
	cfg config.ADCConfig
}

// NewADC returns a sensor for cfg.Path.
func NewADC(cfg config.ADCConfig) *ADC {
	return &ADC{cfg: cfg}
}

// Read implements Sensor.
func (a *ADC) Read(_ context.Context) (float64, error) {
	raw, err := os.ReadFile(a.cfg.Path)
	if err != nil {
		return math.NaN(), fmt.Errorf("%w: %w", ErrSensorRead, err)
	}
	counts, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
	if err != nil {
		return math.NaN(), fmt.Errorf("%w: parsing %q: %w", ErrSensorRead, raw, err)
	}
	return DividerVolts(counts, a.cfg), nil
}

// Simulated produces a slow sine wave around a base value. Used on
// development hosts without sensors attached.
type Simulated struct {
	clock     clock.Clock
	base      float64
	amplitude float64
	period    time.Duration
}

// simulatedProfiles holds plausible base/amplitude pairs per channel.
var simulatedProfiles = map[Kind][2]float64{
	KindTemperature: {21, 2},
	KindHumidity:    {45, 5},
	KindVoltage:     {12.6, 0.3},
	KindOther:       {0, 1},
}

// NewSimulated returns a simulated sensor for the named channel.
func NewSimulated(c clock.Clock, channel string) *Simulated {
	p := simulatedProfiles[kindOf(channel)]
	return &Simulated{clock: c, base: p[0], amplitude: p[1], period: time.Hour}
}

// Read implements Sensor.
func (s *Simulated) Read(_ context.Context) (float64, error) {
	phase := float64(s.clock.Now().UnixNano()%int64(s.period)) / float64(s.period)
	return s.base + s.amplitude*math.Sin(2*math.Pi*phase), nil
}
