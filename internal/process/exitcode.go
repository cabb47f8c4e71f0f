package process

import (
	"github.com/nerrad567/garge-node/internal/node"
)

// Exit codes shared by the agent and the supervisor. They sit in the
// sysexits range so they cannot be confused with a Go runtime crash (2).
const (
	ExitOK      = 0
	ExitError   = 1
	ExitRestart = 75
	ExitSleep   = 76
)

// ExitCode maps the agent's final error onto the exit protocol.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	fe, ok := node.AsFault(err)
	if !ok {
		return ExitError
	}
	if fe.Kind.Sleep() {
		return ExitSleep
	}
	return ExitRestart
}
