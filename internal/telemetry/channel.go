package telemetry

import (
	"context"
	"math"

	"github.com/iancoleman/strcase"

	"github.com/nerrad567/garge-node/internal/node"
)

// ChannelSpec describes one channel as configured.
type ChannelSpec struct {
	Name        string
	Unit        string
	DeviceClass string
}

// Sample is the outcome of one channel read.
type Sample struct {
	Channel string
	Raw     float64
	Valid   bool
	Average float64
	Faults  int
}

// Channel samples one physical quantity.
type Channel struct {
	spec    ChannelSpec
	sensor  Sensor
	correct Correction
	buffer  *SampleBuffer
	faults  *FaultCounter
}

// NewChannel builds a channel. The name is normalised to snake_case since
// it becomes part of topic names and the value template.
func NewChannel(spec ChannelSpec, sensor Sensor, correct Correction, capacity, threshold int) (*Channel, error) {
	buf, err := NewSampleBuffer(capacity)
	if err != nil {
		return nil, err
	}
	if correct == nil {
		correct = func(v float64) float64 { return v }
	}
	spec.Name = strcase.ToSnake(spec.Name)
	return &Channel{
		spec:    spec,
		sensor:  sensor,
		correct: correct,
		buffer:  buf,
		faults:  NewFaultCounter(threshold),
	}, nil
}

// Name returns the normalised channel name.
func (c *Channel) Name() string { return c.spec.Name }

// Spec returns the channel description.
func (c *Channel) Spec() ChannelSpec { return c.spec }

// Buffer exposes the ring buffer, for persistence and tests.
func (c *Channel) Buffer() *SampleBuffer { return c.buffer }

// Faults returns the current consecutive fault count.
func (c *Channel) Faults() int { return c.faults.Count() }

// read returns one corrected reading and whether it is usable.
func (c *Channel) read(ctx context.Context) (float64, bool) {
	raw, err := c.sensor.Read(ctx)
	if err != nil || math.IsNaN(raw) || math.IsInf(raw, 0) {
		return math.NaN(), false
	}
	v := c.correct(raw)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return math.NaN(), false
	}
	return v, true
}

// Prefill reads capacity samples into the buffer so the first average is
// meaningful. Slots whose read failed take the first valid value seen; if
// every read fails the buffer stays at zero. It reports how many reads
// were valid.
func (c *Channel) Prefill(ctx context.Context) int {
	n := c.buffer.Cap()
	readings := make([]float64, 0, n)
	first, have := 0.0, false
	for i := 0; i < n; i++ {
		v, ok := c.read(ctx)
		if ok && !have {
			first, have = v, true
		}
		if ok {
			readings = append(readings, v)
		}
	}
	if !have {
		return 0
	}
	valid := len(readings)
	for len(readings) < n {
		readings = append(readings, first)
	}
	for _, v := range readings {
		c.buffer.Add(v)
	}
	return valid
}

// Sample performs one tick: read, correct, fold into the buffer when valid,
// and update the fault counter. It returns a FaultSensorWedged fault when
// the counter reaches its threshold.
func (c *Channel) Sample(ctx context.Context) (Sample, error) {
	v, ok := c.read(ctx)
	if ok {
		c.buffer.Add(v)
	}
	tripped := c.faults.Observe(v, ok)

	s := Sample{
		Channel: c.spec.Name,
		Raw:     v,
		Valid:   ok,
		Average: c.buffer.Average(),
		Faults:  c.faults.Count(),
	}
	if tripped {
		return s, node.Fault(node.FaultSensorWedged, "telemetry/"+c.spec.Name, nil)
	}
	return s, nil
}

// Snapshot captures the channel's retained state.
func (c *Channel) Snapshot() Snapshot {
	return Snapshot{
		Values: c.buffer.Values(),
		Cursor: c.buffer.Cursor(),
		Faults: c.faults.Count(),
	}
}

// Restore loads retained state.
func (c *Channel) Restore(s Snapshot) error {
	if err := c.buffer.Restore(s.Values, s.Cursor); err != nil {
		return err
	}
	c.faults.Restore(s.Faults)
	return nil
}

// Snapshot is a channel's state across a sleep cycle.
type Snapshot struct {
	Values []float64
	Cursor int
	Faults int
}
