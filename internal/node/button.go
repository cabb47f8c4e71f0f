package node

import (
	"context"
	"time"

	"github.com/nerrad567/garge-node/internal/clock"
)

// Input is a momentary push button.
type Input interface {
	Pressed() (bool, error)
}

// ResetButton clears the network credentials once it has been held for the
// configured duration, then reports FaultCredentialsCleared.
type ResetButton struct {
	input   Input
	clock   clock.Clock
	hold    time.Duration
	clear   func() error
	logger  Logger
	since   time.Time
	pressed bool
}

// NewResetButton returns a button task. clear erases the network pair.
func NewResetButton(in Input, c clock.Clock, hold time.Duration, clear func() error, logger Logger) *ResetButton {
	if logger == nil {
		logger = NopLogger{}
	}
	return &ResetButton{input: in, clock: c, hold: hold, clear: clear, logger: logger}
}

// Tick implements Task.
func (b *ResetButton) Tick(context.Context, Session) error {
	down, err := b.input.Pressed()
	if err != nil {
		return err
	}
	if !down {
		if b.pressed {
			b.logger.Debug("reset button released early")
		}
		b.pressed = false
		return nil
	}

	now := b.clock.Now()
	if !b.pressed {
		b.pressed = true
		b.since = now
		b.logger.Info("reset button pressed", "hold", b.hold.String())
		return nil
	}
	if now.Sub(b.since) < b.hold {
		return nil
	}

	b.pressed = false
	if err := b.clear(); err != nil {
		return err
	}
	b.logger.Warn("network credentials cleared by reset button")
	return Fault(FaultCredentialsCleared, "button", nil)
}
