package telemetry

import "fmt"

// SampleBuffer is a fixed-capacity ring of readings with a running sum.
//
// The sum is maintained by subtracting the slot being overwritten and adding
// the new value; it is never recomputed from the slots.
type SampleBuffer struct {
	values []float64
	sum    float64
	cursor int
}

// NewSampleBuffer returns a zero-filled buffer.
func NewSampleBuffer(capacity int) (*SampleBuffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	return &SampleBuffer{values: make([]float64, capacity)}, nil
}

// Add overwrites the slot at the cursor and advances it.
func (b *SampleBuffer) Add(v float64) {
	b.sum -= b.values[b.cursor]
	b.values[b.cursor] = v
	b.sum += v
	b.cursor = (b.cursor + 1) % len(b.values)
}

// Average is the running sum divided by capacity.
func (b *SampleBuffer) Average() float64 {
	return b.sum / float64(len(b.values))
}

// Sum returns the running sum.
func (b *SampleBuffer) Sum() float64 {
	return b.sum
}

// Cursor returns the index of the next slot to be written.
func (b *SampleBuffer) Cursor() int {
	return b.cursor
}

// Cap returns the buffer capacity.
func (b *SampleBuffer) Cap() int {
	return len(b.values)
}

// Values returns a copy of the slots in storage order.
func (b *SampleBuffer) Values() []float64 {
	out := make([]float64, len(b.values))
	copy(out, b.values)
	return out
}

// Restore replaces the contents with retained state. The sum is rebuilt
// once here, since the retained slots are the only source of truth.
func (b *SampleBuffer) Restore(values []float64, cursor int) error {
	if len(values) != len(b.values) || cursor < 0 || cursor >= len(b.values) {
		return fmt.Errorf("%w: %d values, cursor %d, capacity %d",
			ErrSnapshotMismatch, len(values), cursor, len(b.values))
	}
	copy(b.values, values)
	b.cursor = cursor
	b.sum = 0
	for _, v := range b.values {
		b.sum += v
	}
	return nil
}
