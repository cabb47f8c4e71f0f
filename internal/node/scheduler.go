package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/garge-node/internal/clock"
)

// defaultPeriod is the pause between scheduler passes.
const defaultPeriod = 100 * time.Millisecond

// Context is everything the scheduler drives. It replaces the global
// state a firmware main loop would keep.
type Context struct {
	Identity Identity
	Clock    clock.Clock

	// Link establishes and supervises the broker session.
	Link Link

	// Telemetry and Bridge run after the link on every pass, in that
	// order. Either may be nil.
	Telemetry Task
	Bridge    Task

	// Aux tasks run last: heartbeat, reset button, update checks, portal
	// requests.
	Aux []Task

	// Period is the pause between passes. Zero selects 100ms.
	Period time.Duration

	Logger Logger
}

// Scheduler is the node's single thread of control.
type Scheduler struct {
	ctx    Context
	tasks  []namedTask
	logger Logger
	passes uint64
}

// NewScheduler validates c and returns a scheduler for it.
func NewScheduler(c Context) (*Scheduler, error) {
	if c.Link == nil {
		return nil, errors.New("scheduler: link is required")
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Period <= 0 {
		c.Period = defaultPeriod
	}
	logger := c.Logger
	if logger == nil {
		logger = NopLogger{}
	}
	return &Scheduler{ctx: c, tasks: orderTasks(c), logger: logger}, nil
}

// Passes returns the number of completed passes.
func (s *Scheduler) Passes() uint64 {
	return s.passes
}

// Run loops until ctx is done or a component reports a fault.
//
// It returns nil on cancellation and a *FaultError for restart or sleep
// conditions. Any other error from the link is returned wrapped; task
// errors that are not faults are logged and the loop continues.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", "node", s.ctx.Identity.Name, "period", s.ctx.Period.String())
	for {
		if err := s.Pass(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := s.ctx.Clock.Sleep(ctx, s.ctx.Period); err != nil {
			return nil
		}
	}
}

// Pass runs the link and then every task once.
func (s *Scheduler) Pass(ctx context.Context) error {
	if err := s.ctx.Link.Tick(ctx); err != nil {
		if _, ok := AsFault(err); ok || ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("link: %w", err)
	}

	sess := s.ctx.Link.Current()
	for _, t := range s.tasks {
		if err := t.task.Tick(ctx, sess); err != nil {
			if fe, ok := AsFault(err); ok {
				s.logger.Warn("fault reported", "source", t.name, "kind", fe.Kind.String(), "error", fe.Err)
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("task failed", "task", t.name, "error", err)
		}
	}
	s.passes++
	return nil
}

type namedTask struct {
	name string
	task Task
}

func orderTasks(c Context) []namedTask {
	out := make([]namedTask, 0, 2+len(c.Aux))
	if c.Telemetry != nil {
		out = append(out, namedTask{"telemetry", c.Telemetry})
	}
	if c.Bridge != nil {
		out = append(out, namedTask{"bridge", c.Bridge})
	}
	for i, t := range c.Aux {
		out = append(out, namedTask{fmt.Sprintf("aux[%d]", i), t})
	}
	return out
}
