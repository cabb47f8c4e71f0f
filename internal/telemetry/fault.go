package telemetry

import "math"

// FaultCounter counts consecutive invalid readings.
type FaultCounter struct {
	count     int
	threshold int
}

// NewFaultCounter returns a counter that trips at threshold.
func NewFaultCounter(threshold int) *FaultCounter {
	return &FaultCounter{threshold: threshold}
}

// Observe records one raw reading. valid=false means the driver returned
// nothing. It reports true exactly when the count reaches the threshold.
func (f *FaultCounter) Observe(v float64, valid bool) bool {
	if !valid || math.IsNaN(v) || math.IsInf(v, 0) {
		f.count++
		return f.count == f.threshold
	}
	f.count = 0
	return false
}

// Count returns the current consecutive fault count.
func (f *FaultCounter) Count() int {
	return f.count
}

// Restore sets the count from retained memory.
func (f *FaultCounter) Restore(count int) {
	if count < 0 {
		count = 0
	}
	f.count = count
}
