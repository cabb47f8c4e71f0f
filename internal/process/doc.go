// Package process supervises the garge-node agent.
//
// On a microcontroller the firmware restarts itself and the RTC wakes it
// from deep sleep. On a host the agent simply exits with a code saying
// what it wants, and the Supervisor acts on it:
//
//	0            stop (clean shutdown)
//	ExitRestart  relaunch after Config.RestartDelay
//	ExitSleep    relaunch after Config.SleepDuration
//	anything     crash: relaunch after Config.RestartDelay, at most
//	else         Config.MaxRestartAttempts times in a row
//
// ExitCode maps the agent's final error onto that protocol.
//
// Example usage:
//
//	sup := process.NewSupervisor(process.Config{
//	    Binary:        "/usr/local/bin/garge-node",
//	    Args:          []string{"-config", "/etc/garge/config.yaml"},
//	    RestartDelay:  2 * time.Second,
//	    SleepDuration: time.Hour,
//	})
//	sup.SetLogger(log)
//	if err := sup.Run(ctx); err != nil {
//	    log.Error("supervisor stopped", "error", err)
//	}
package process
