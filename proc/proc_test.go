package proc

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScript drops an executable shell script into a temp dir and returns its path.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestRunSuccess(t *testing.T) {
	script := writeScript(t, "exit 0")
	assert.NoError(t, Command(script).Run())
}

func TestRunReportsExitCode(t *testing.T) {
	script := writeScript(t, "exit 3")
	err := Command(script).Run()
	require.Error(t, err)

	var exit *ExitError
	require.True(t, errors.As(err, &exit))
	assert.Equal(t, 3, exit.Code)
	assert.Equal(t, script, exit.Program)
}

func TestRunSpawnFailure(t *testing.T) {
	err := Command(filepath.Join(t.TempDir(), "does-not-exist")).Run()
	require.Error(t, err)

	var exit *ExitError
	assert.False(t, errors.As(err, &exit), "a spawn failure is not an exit failure")
}

func TestOutputCapturesStdout(t *testing.T) {
	script := writeScript(t, `echo "hello world"`)
	out, err := Command(script).Output()
	require.NoError(t, err)
	assert.Equal(t, "hello world", strings.TrimSpace(string(out)))
}

func TestRunWithRetryZeroAttemptsIsInvalid(t *testing.T) {
	counter := filepath.Join(t.TempDir(), "count")
	script := writeScript(t, fmt.Sprintf("echo run >> %s; exit 1", counter))

	err := Command(script).RunWithRetry(0, time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 1")

	_, statErr := os.Stat(counter)
	assert.True(t, os.IsNotExist(statErr), "no spawn attempt may happen")
}

func TestRunWithRetrySpawnsExactlyNTimes(t *testing.T) {
	counter := filepath.Join(t.TempDir(), "count")
	script := writeScript(t, fmt.Sprintf("echo run >> %s; exit 7", counter))

	err := Command(script).RunWithRetry(3, time.Millisecond)
	require.Error(t, err)

	var exit *ExitError
	require.True(t, errors.As(err, &exit), "the last attempt's error is returned verbatim")
	assert.Equal(t, 7, exit.Code)

	data, readErr := os.ReadFile(counter)
	require.NoError(t, readErr)
	assert.Equal(t, 3, strings.Count(string(data), "run"))
}

func TestRunWithRetryShortCircuitsOnSuccess(t *testing.T) {
	counter := filepath.Join(t.TempDir(), "count")
	// Fails the first time, succeeds the second.
	script := writeScript(t, fmt.Sprintf("echo run >> %s; [ $(wc -l < %s) -ge 2 ] && exit 0; exit 1", counter, counter))

	require.NoError(t, Command(script).RunWithRetry(5, time.Millisecond))

	data, err := os.ReadFile(counter)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "run"))
}

func TestStartAndDone(t *testing.T) {
	script := writeScript(t, "exit 5")
	running, err := Command(script).Start()
	require.NoError(t, err)

	waitErr := <-running.Done()
	var exit *ExitError
	require.True(t, errors.As(waitErr, &exit))
	assert.Equal(t, 5, exit.Code)
}

func TestKillReapsChild(t *testing.T) {
	script := writeScript(t, "sleep 60")
	running, err := Command(script).Start()
	require.NoError(t, err)

	require.NoError(t, running.Kill())
	waitErr := <-running.Done()
	assert.Error(t, waitErr)
}
