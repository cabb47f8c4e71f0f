package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/nerrad567/garge-node/internal/clock"
	"github.com/nerrad567/garge-node/internal/infrastructure/config"
	"github.com/nerrad567/garge-node/internal/ota"
)

// Status represents the supervisor's view of the agent.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusRunning  Status = "running"
	StatusWaiting  Status = "waiting"
	StatusSleeping Status = "sleeping"
	StatusFailed   Status = "failed"
)

// ErrTooManyFailures is returned when consecutive crashes exceed
// Config.MaxRestartAttempts.
var ErrTooManyFailures = errors.New("process: too many consecutive failures")

// Config holds supervisor settings.
type Config struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Binary is the agent executable.
	Binary string

	// Staged, when set, names the link an update stages the new binary
	// behind. Each launch runs it instead of Binary once it exists.
	Staged string

	// Args are passed to every launch.
	Args []string

	// Env are additional environment variables (key=value format).
	Env []string

	// RestartDelay is the wait before relaunching after ExitRestart or a crash.
	RestartDelay time.Duration

	// SleepDuration is the wait before relaunching after ExitSleep.
	SleepDuration time.Duration

	// MaxRestartAttempts bounds consecutive crashes. 0 means unlimited.
	MaxRestartAttempts int

	// GracefulTimeout is how long to wait after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration

	// Output receives the agent's stdout and stderr. Nil selects os.Stderr.
	Output io.Writer

	// Clock paces the waits. Nil selects the real clock.
	Clock clock.Clock
}

// ConfigFrom builds a Config from the supervisor and power sections.
func ConfigFrom(cfg *config.Config, args []string) Config {
	c := Config{
		Name:               "garge-node",
		Binary:             cfg.Supervisor.Binary,
		Args:               args,
		RestartDelay:       cfg.Supervisor.RestartDelay,
		SleepDuration:      cfg.Power.SleepDuration,
		MaxRestartAttempts: cfg.Supervisor.MaxRestartAttempts,
	}
	if cfg.OTA.DownloadDir != "" {
		c.Staged = filepath.Join(cfg.OTA.DownloadDir, ota.CurrentLink)
	}
	return c
}

// binary returns the executable for the next launch.
func (s *Supervisor) binary() string {
	if s.config.Staged != "" {
		if _, err := os.Stat(s.config.Staged); err == nil {
			return s.config.Staged
		}
	}
	return s.config.Binary
}

// Logger defines the logging interface for the supervisor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Stats counts what the supervisor has done.
type Stats struct {
	Launches int    `json:"launches"`
	Restarts int    `json:"restarts"`
	Sleeps   int    `json:"sleeps"`
	Failures int    `json:"failures"`
	LastExit int    `json:"last_exit"`
	Status   Status `json:"status"`
}

// Supervisor runs the agent until it exits cleanly.
type Supervisor struct {
	config Config
	logger Logger

	mu    sync.RWMutex
	stats Stats
}

// NewSupervisor creates a supervisor, filling zero values with defaults.
func NewSupervisor(cfg Config) *Supervisor {
	if cfg.Name == "" {
		cfg.Name = "garge-node"
	}
	if cfg.RestartDelay == 0 {
		cfg.RestartDelay = 2 * time.Second
	}
	if cfg.SleepDuration == 0 {
		cfg.SleepDuration = time.Hour
	}
	if cfg.GracefulTimeout == 0 {
		cfg.GracefulTimeout = 10 * time.Second
	}
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	return &Supervisor{config: cfg, logger: noopLogger{}, stats: Stats{Status: StatusStopped}}
}

// SetLogger sets the logger for the supervisor.
func (s *Supervisor) SetLogger(logger Logger) {
	s.logger = logger
}

// Stats returns a copy of the counters.
func (s *Supervisor) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

func (s *Supervisor) update(fn func(*Stats)) {
	s.mu.Lock()
	fn(&s.stats)
	s.mu.Unlock()
}

// Run launches the agent and relaunches it according to its exit code.
// It returns nil when the agent exits 0 or ctx is cancelled, and
// ErrTooManyFailures when crashes exceed the limit.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.update(func(st *Stats) { st.Status = StatusStopped })

	failures := 0
	for {
		code, err := s.launch(ctx)
		if ctx.Err() != nil {
			s.logger.Info("supervisor stopping", "name", s.config.Name)
			return nil
		}
		if err != nil {
			// Could not even start; treat like a crash.
			s.logger.Error("launching agent failed", "name", s.config.Name, "error", err)
			code = -1
		}
		s.update(func(st *Stats) { st.LastExit = code })

		var wait time.Duration
		switch code {
		case ExitOK:
			s.logger.Info("agent exited cleanly", "name", s.config.Name)
			return nil

		case ExitRestart:
			failures = 0
			wait = s.config.RestartDelay
			s.update(func(st *Stats) { st.Restarts++; st.Status = StatusWaiting })
			s.logger.Info("agent requested restart", "name", s.config.Name, "delay", wait.String())

		case ExitSleep:
			failures = 0
			wait = s.config.SleepDuration
			s.update(func(st *Stats) { st.Sleeps++; st.Status = StatusSleeping })
			s.logger.Info("agent requested sleep", "name", s.config.Name, "duration", wait.String())

		default:
			failures++
			wait = s.config.RestartDelay
			s.update(func(st *Stats) { st.Failures++; st.Status = StatusFailed })
			s.logger.Warn("agent exited unexpectedly",
				"name", s.config.Name,
				"exit_code", code,
				"consecutive_failures", failures,
			)
			if s.config.MaxRestartAttempts > 0 && failures > s.config.MaxRestartAttempts {
				return fmt.Errorf("%w: %d", ErrTooManyFailures, failures)
			}
		}

		if err := s.config.Clock.Sleep(ctx, wait); err != nil {
			s.logger.Info("supervisor stopping", "name", s.config.Name)
			return nil
		}
	}
}

// launch runs the agent once and returns its exit code.
func (s *Supervisor) launch(ctx context.Context) (int, error) {
	bin := s.binary()
	cmd := exec.Command(bin, s.config.Args...) // #nosec G204 -- binary comes from local config

	// Own process group so shutdown reaches any children.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if s.config.Env != nil {
		cmd.Env = append(os.Environ(), s.config.Env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return 0, fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("starting %s: %w", s.config.Name, err)
	}
	s.update(func(st *Stats) { st.Launches++; st.Status = StatusRunning })
	s.logger.Info("agent started", "name", s.config.Name, "binary", bin, "pid", cmd.Process.Pid)

	var wg sync.WaitGroup
	var outMu sync.Mutex
	for _, r := range []io.Reader{stdout, stderr} {
		wg.Add(1)
		go func(r io.Reader) {
			defer wg.Done()
			s.forward(r, &outMu)
		}(r)
	}

	exitCh := make(chan error, 1)
	go func() {
		wg.Wait()
		exitCh <- cmd.Wait()
	}()

	select {
	case err := <-exitCh:
		return exitCode(err)
	case <-ctx.Done():
		s.stop(cmd, exitCh)
		return 0, ctx.Err()
	}
}

// forward copies agent output line by line so the two streams do not
// interleave mid-line.
func (s *Supervisor) forward(r io.Reader, mu *sync.Mutex) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	for sc.Scan() {
		mu.Lock()
		_, _ = fmt.Fprintln(s.config.Output, sc.Text())
		mu.Unlock()
	}
}

// stop sends SIGTERM to the agent's process group, then SIGKILL after
// GracefulTimeout.
func (s *Supervisor) stop(cmd *exec.Cmd, exitCh <-chan error) {
	pid := cmd.Process.Pid
	s.logger.Info("stopping agent", "name", s.config.Name, "pid", pid)

	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		s.logger.Warn("failed to send SIGTERM to process group", "name", s.config.Name, "error", err)
	}

	select {
	case <-exitCh:
		s.logger.Info("agent stopped gracefully", "name", s.config.Name)
		return
	case <-time.After(s.config.GracefulTimeout):
		s.logger.Warn("graceful shutdown timeout, sending SIGKILL",
			"name", s.config.Name,
			"timeout", s.config.GracefulTimeout.String(),
		)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		s.logger.Error("killing process group failed", "name", s.config.Name, "error", err)
	}
	<-exitCh
}

func exitCode(err error) (int, error) {
	if err == nil {
		return ExitOK, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return 0, err
}
