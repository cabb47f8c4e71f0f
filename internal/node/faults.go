package node

import (
	"errors"
	"fmt"
)

// FaultKind names a condition that only a restart (or a sleep) can clear.
// Leaf components report one instead of restarting themselves; the
// Scheduler returns it to main, which picks the exit code.
type FaultKind int

const (
	FaultNone FaultKind = iota

	// FaultSensorWedged: a channel hit its consecutive fault threshold.
	FaultSensorWedged

	// FaultReprovisioned: the portal stored new network credentials.
	FaultReprovisioned

	// FaultCredentialsCleared: the portal or reset button erased them.
	FaultCredentialsCleared

	// FaultHandshakeTimeout: the broker handshake loop gave up.
	FaultHandshakeTimeout

	// FaultUpdateAvailable: a new firmware binary has been downloaded.
	FaultUpdateAvailable

	// FaultSleep: the battery variant finished its cycle.
	FaultSleep
)

var faultNames = map[FaultKind]string{
	FaultNone:               "none",
	FaultSensorWedged:       "sensor_wedged",
	FaultReprovisioned:      "reprovisioned",
	FaultCredentialsCleared: "credentials_cleared",
	FaultHandshakeTimeout:   "handshake_timeout",
	FaultUpdateAvailable:    "update_available",
	FaultSleep:              "sleep",
}

func (k FaultKind) String() string {
	if s, ok := faultNames[k]; ok {
		return s
	}
	return fmt.Sprintf("fault(%d)", int(k))
}

// Sleep reports whether the fault means "suspend" rather than "restart".
func (k FaultKind) Sleep() bool {
	return k == FaultSleep
}

// FaultError carries a FaultKind up to the scheduler.
type FaultError struct {
	Kind   FaultKind
	Source string
	Err    error
}

// Fault builds a FaultError. err may be nil.
func Fault(kind FaultKind, source string, err error) *FaultError {
	return &FaultError{Kind: kind, Source: source, Err: err}
}

func (e *FaultError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s fault from %s: %v", e.Kind, e.Source, e.Err)
	}
	return fmt.Sprintf("%s fault from %s", e.Kind, e.Source)
}

func (e *FaultError) Unwrap() error {
	return e.Err
}

// AsFault extracts a FaultError from an error chain.
func AsFault(err error) (*FaultError, bool) {
	var fe *FaultError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
