package telemetry

import (
	"math"
	"strings"

	"github.com/iancoleman/strcase"

	"github.com/nerrad567/garge-node/internal/infrastructure/config"
)

// Kind identifies how a channel's raw value is corrected.
type Kind string

const (
	KindTemperature Kind = "temperature"
	KindHumidity    Kind = "humidity"
	KindVoltage     Kind = "voltage"
	KindOther       Kind = "other"
)

// kindOf maps a channel name to its correction kind.
func kindOf(channel string) Kind {
	k := Kind(strcase.ToSnake(channel))
	switch k {
	case KindTemperature, KindHumidity, KindVoltage:
		return k
	default:
		return KindOther
	}
}

// Preset is a sensor family with known fixed offsets.
type Preset string

const (
	PresetNone Preset = ""
	PresetDHT  Preset = "dht"
	PresetBME  Preset = "bme"
)

// presetOffsets are temperature and humidity offsets per sensor family.
var presetOffsets = map[Preset][2]float64{
	PresetDHT: {-3, 6},
	PresetBME: {-3.49, 15},
}

// Coefficients correct one device's readings.
type Coefficients struct {
	VoltageA          float64
	VoltageB          float64
	TemperatureOffset float64
	HumidityOffset    float64
}

// builtinVoltage holds fitted a*raw^b coefficients for known voltmeters.
var builtinVoltage = map[string][2]float64{
	"garge_b43a4536a89c": {0.58951, 1.20998},
	"garge_b43a4536a8dc": {0.44639, 1.33073},
	"garge_b43a4536a6c4": {0.73047, 1.08816},
	"garge_b43a4536a838": {0.56930, 1.22943},
	"garge_b43a4536a83c": {0.52981, 1.27056},
	"garge_b43a4536a888": {0.68457, 1.15675},
	"garge_b43a4536a9ec": {0.56886, 1.22993},
	"garge_b43a4536a8ac": {0.51293, 1.28731},
	"garge_b43a4536a8d4": {0.61058, 1.19068},
	"garge_b43a4536a804": {0.57280, 1.22694},
	"garge_b43a4536a864": {0.57643, 1.22302},
	"garge_b43a4536a880": {0.54846, 1.25048},
	"garge_b43a4536a834": {0.74890, 1.10466},
	"garge_b43a4536aa3c": {0.72839, 1.12076},
	"garge_b43a4536a858": {0.77635, 1.08378},
}

// CalibrationTable selects coefficients by device name.
type CalibrationTable struct {
	defaults Coefficients
	devices  map[string]Coefficients
}

// NewCalibrationTable builds the table from config. Configured entries
// override the built-in voltmeter fits.
func NewCalibrationTable(cfg config.TelemetryConfig) *CalibrationTable {
	t := &CalibrationTable{
		defaults: Coefficients(cfg.Defaults),
		devices:  make(map[string]Coefficients, len(builtinVoltage)+len(cfg.Calibration)),
	}
	for name, ab := range builtinVoltage {
		c := t.defaults
		c.VoltageA, c.VoltageB = ab[0], ab[1]
		t.devices[name] = c
	}
	for _, e := range cfg.Calibration {
		t.devices[strings.ToLower(e.Device)] = Coefficients(e.Coeffs)
	}
	return t
}

// For returns the coefficients for device, or the defaults.
func (t *CalibrationTable) For(device string) Coefficients {
	if c, ok := t.devices[strings.ToLower(device)]; ok {
		return c
	}
	return t.defaults
}

// Correction is applied to each raw reading before buffering.
type Correction func(raw float64) float64

// CorrectionFor builds the correction for a channel. Preset offsets are
// added on top of the device's own offsets.
func CorrectionFor(channel string, c Coefficients, preset Preset) Correction {
	off := presetOffsets[preset]
	switch kindOf(channel) {
	case KindTemperature:
		k := c.TemperatureOffset + off[0]
		return func(raw float64) float64 { return raw + k }
	case KindHumidity:
		k := c.HumidityOffset + off[1]
		return func(raw float64) float64 { return raw + k }
	case KindVoltage:
		a, b := c.VoltageA, c.VoltageB
		if a == 0 {
			a, b = 1, 1
		}
		return func(raw float64) float64 { return a * math.Pow(raw, b) }
	default:
		return func(raw float64) float64 { return raw }
	}
}

// DividerVolts converts ADC counts to the voltage at the top of a resistor
// divider: (vref/max) * counts * ((r1+r2)/r2).
func DividerVolts(counts float64, adc config.ADCConfig) float64 {
	return (adc.Reference / adc.Max) * counts * ((adc.R1 + adc.R2) / adc.R2)
}
