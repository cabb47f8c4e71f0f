package node

import (
	"context"

	"github.com/nerrad567/garge-node/internal/infrastructure/mqtt"
)

// Session is the broker view handed to tasks. It is nil while offline.
// *mqtt.Client satisfies it.
type Session interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Link owns the broker session. The connectivity machine implements it.
type Link interface {
	// Tick advances the link by one step. It may block while waiting out
	// a back-off or a provisioning portal.
	Tick(ctx context.Context) error

	// Current returns the usable session, or nil.
	Current() Session
}

// Task is one cooperative unit of work run on every scheduler pass.
type Task interface {
	Tick(ctx context.Context, sess Session) error
}

// TaskFunc adapts a function to Task.
type TaskFunc func(ctx context.Context, sess Session) error

// Tick implements Task.
func (f TaskFunc) Tick(ctx context.Context, sess Session) error {
	return f(ctx, sess)
}
