package telemetry

import (
	"context"
	"fmt"
)

// FailureCounter keeps the consecutive failure count across sleep cycles.
// *retained.Store satisfies it.
type FailureCounter interface {
	Counter(ctx context.Context, name string) (int64, error)
	Increment(ctx context.Context, name string) (int64, error)
	ResetCounter(ctx context.Context, name string) error
}

// SuspendPolicy decides when a battery node may sleep. A published sample
// allows it immediately. Failed publishes keep the node awake until
// maxFailures is reached, after which it sleeps anyway.
//
// With a retained counter the count carries over wake-ups, so once the
// broker has been unreachable for maxFailures attempts every later wake
// makes a single attempt until one succeeds.
type SuspendPolicy struct {
	maxFailures int
	failures    int

	store FailureCounter
	name  string
}

// NewSuspendPolicy returns a policy allowing maxFailures failed publishes.
func NewSuspendPolicy(maxFailures int) *SuspendPolicy {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &SuspendPolicy{maxFailures: maxFailures}
}

// Retain seeds the failure count from store and writes every later
// outcome through to it under name.
func (s *SuspendPolicy) Retain(ctx context.Context, store FailureCounter, name string) error {
	n, err := store.Counter(ctx, name)
	if err != nil {
		return fmt.Errorf("loading %s: %w", name, err)
	}
	s.store = store
	s.name = name
	s.failures = int(n)
	return nil
}

// Observe records the outcome of one publish attempt made on a live
// session and reports whether to suspend now. A non-nil error return means
// the retained counter could not be updated; the decision still stands.
func (s *SuspendPolicy) Observe(ctx context.Context, publishErr error) (bool, error) {
	if publishErr == nil {
		s.failures = 0
		if s.store != nil {
			return true, s.store.ResetCounter(ctx, s.name)
		}
		return true, nil
	}

	s.failures++
	var err error
	if s.store != nil {
		var n int64
		if n, err = s.store.Increment(ctx, s.name); err == nil {
			s.failures = int(n)
		}
	}
	return s.failures >= s.maxFailures, err
}

// Failures returns the consecutive failed publishes so far.
func (s *SuspendPolicy) Failures() int {
	return s.failures
}
