package telemetry

import (
	"errors"
	"fmt"
	"io"

	"github.com/nerrad567/garge-node/internal/clock"
	"github.com/nerrad567/garge-node/internal/infrastructure/config"
	"github.com/nerrad567/garge-node/internal/node"
)

// Sensor sources accepted in telemetry.channels[].source.
const (
	SourceSHTC3     = "shtc3"
	SourceADC       = "adc"
	SourceSimulated = "simulated"
)

// BuildChannels creates the configured channels for this node, opening
// hardware as needed. The returned closer releases the I2C bus.
func BuildChannels(cfg config.TelemetryConfig, id node.Identity, c clock.Clock) ([]*Channel, io.Closer, error) {
	table := NewCalibrationTable(cfg)
	coeffs := table.For(id.Name)

	var (
		bus     *I2CBus
		climate *Climate
	)
	closer := closerFunc(func() error {
		if bus != nil {
			return bus.Close()
		}
		return nil
	})

	channels := make([]*Channel, 0, len(cfg.Channels))
	for _, cc := range cfg.Channels {
		var sensor Sensor
		switch cc.Source {
		case SourceSHTC3:
			if climate == nil {
				b, err := OpenI2C(cfg.I2C.Bus)
				if err != nil {
					return nil, closer, err
				}
				bus, climate = b, NewSHTC3(b)
			}
			switch kindOf(cc.Name) {
			case KindTemperature:
				sensor = climate.Temperature()
			case KindHumidity:
				sensor = climate.Humidity()
			default:
				return nil, closer, fmt.Errorf("%w: shtc3 has no %q channel", ErrUnknownSource, cc.Name)
			}
		case SourceADC:
			sensor = NewADC(cfg.ADC)
		case SourceSimulated:
			sensor = NewSimulated(c, cc.Name)
		default:
			return nil, closer, fmt.Errorf("%w: %q", ErrUnknownSource, cc.Source)
		}

		ch, err := NewChannel(
			ChannelSpec{Name: cc.Name, Unit: cc.Unit, DeviceClass: cc.DeviceClass},
			sensor,
			CorrectionFor(cc.Name, coeffs, Preset(cc.Preset)),
			cfg.BufferSize,
			cfg.FaultThreshold,
		)
		if err != nil {
			return nil, closer, errors.Join(err, closer.Close())
		}
		channels = append(channels, ch)
	}
	return channels, closer, nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
