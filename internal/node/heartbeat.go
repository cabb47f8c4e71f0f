package node

import (
	"context"
	"time"

	"github.com/nerrad567/garge-node/internal/clock"
)

// Indicator is a status light.
type Indicator interface {
	Set(on bool) error
}

// Heartbeat toggles an Indicator at a fixed rate while the loop is alive.
// The rate means nothing beyond "still running".
type Heartbeat struct {
	indicator Indicator
	ticker    *clock.Ticker
	on        bool
	failed    bool
	logger    Logger
}

// NewHeartbeat returns a heartbeat task. A nil logger discards output.
func NewHeartbeat(ind Indicator, c clock.Clock, interval time.Duration, logger Logger) *Heartbeat {
	if logger == nil {
		logger = NopLogger{}
	}
	return &Heartbeat{indicator: ind, ticker: clock.NewTicker(c, interval), logger: logger}
}

// Tick implements Task. Write failures are logged once.
func (h *Heartbeat) Tick(context.Context, Session) error {
	if !h.ticker.Due() {
		return nil
	}
	h.on = !h.on
	if err := h.indicator.Set(h.on); err != nil {
		if !h.failed {
			h.logger.Warn("heartbeat indicator write failed", "error", err)
		}
		h.failed = true
		return nil
	}
	h.failed = false
	return nil
}

// Lit reports the last state written.
func (h *Heartbeat) Lit() bool {
	return h.on
}
