package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nerrad567/garge-node/internal/process"
)

func writeConfig(t *testing.T, binary string, maxRestarts int) string {
	t.Helper()
	dir := t.TempDir()
	content := fmt.Sprintf(`
logging:
  level: error
  output: stderr
supervisor:
  binary: %q
  restart_delay: 10ms
  max_restart_attempts: %d
`, binary, maxRestarts)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// writeAgent writes a shell script standing in for garge-node. It records
// its arguments and exits with the codes given, one per launch.
func writeAgent(t *testing.T, codes ...int) (script, argsFile string) {
	t.Helper()
	dir := t.TempDir()
	counter := filepath.Join(dir, "count")
	argsFile = filepath.Join(dir, "args")

	body := fmt.Sprintf("#!/bin/sh\necho \"$@\" > %q\nn=$(cat %q 2>/dev/null || echo 0)\necho $((n+1)) > %q\ncase $n in\n", argsFile, counter, counter)
	for i, c := range codes {
		body += fmt.Sprintf("  %d) exit %d ;;\n", i, c)
	}
	body += "esac\nexit 0\n"

	script = filepath.Join(dir, "agent.sh")
	require.NoError(t, os.WriteFile(script, []byte(body), 0o755)) // #nosec G306 -- test script must be executable
	return script, argsFile
}

func TestRun_InvalidConfig(t *testing.T) {
	err := run(context.Background(), "/nonexistent/path/config.yaml")
	require.Error(t, err)
}

func TestRun_RestartsThenStops(t *testing.T) {
	script, argsFile := writeAgent(t, process.ExitRestart, process.ExitOK)
	path := writeConfig(t, script, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, run(ctx, path))

	args, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	require.Equal(t, "-config "+path+"\n", string(args))
}

func TestRun_GivesUp(t *testing.T) {
	script, _ := writeAgent(t, 3, 3, 3, 3)
	path := writeConfig(t, script, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := run(ctx, path)
	require.ErrorIs(t, err, process.ErrTooManyFailures)
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv(configEnv, "")
	require.Equal(t, defaultConfigPath, getConfigPath(""))

	t.Setenv(configEnv, "/etc/garge/config.yaml")
	require.Equal(t, "/etc/garge/config.yaml", getConfigPath(""))
	require.Equal(t, "/tmp/x.yaml", getConfigPath("/tmp/x.yaml"))
}
