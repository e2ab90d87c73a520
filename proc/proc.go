// Package proc runs external programs. It is the only path through which the
// rest of the engine talks to binaries on the host: everything that shells out
// (fio, insmod, modprobe, rmmod, cpupower, uname) goes through a Cmd.
package proc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// ExitError reports a process that started but exited abnormally.
type ExitError struct {
	Program string
	Code    int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s failed with exit code %d", e.Program, e.Code)
}

// Cmd describes one invocation of an external program. Stdout and Stderr
// default to the parent's streams when nil.
type Cmd struct {
	Program string
	Args    []string
	Stdout  io.Writer
	Stderr  io.Writer
}

func Command(program string, args ...string) *Cmd {
	return &Cmd{Program: program, Args: args}
}

func (c *Cmd) build() *exec.Cmd {
	cmd := exec.Command(c.Program, c.Args...)
	cmd.Stdout = c.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = c.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	return cmd
}

// Run spawns the program and blocks until it exits. A failure to spawn is
// returned as-is; an abnormal exit is returned as an *ExitError.
func (c *Cmd) Run() error {
	slog.Info("running command", slog.String("program", c.Program), slog.String("args", strings.Join(c.Args, " ")))
	return c.finish(c.build().Run())
}

// Output spawns the program, blocks until it exits, and returns its stdout.
func (c *Cmd) Output() ([]byte, error) {
	slog.Info("running command", slog.String("program", c.Program), slog.String("args", strings.Join(c.Args, " ")))
	buf := &bytes.Buffer{}
	cmd := c.build()
	cmd.Stdout = buf
	err := c.finish(cmd.Run())
	return buf.Bytes(), err
}

// RunWithRetry runs the program up to maxAttempts times, sleeping delay between
// failed attempts. It returns nil on the first success; after the final failed
// attempt the last error is returned verbatim. maxAttempts must be at least 1.
func (c *Cmd) RunWithRetry(maxAttempts int, delay time.Duration) error {
	if maxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", maxAttempts)
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = c.Run()
		if err == nil {
			return nil
		}
		slog.Warn("command failed",
			slog.String("program", c.Program),
			slog.Int("attempt", attempt),
			slog.Int("maxAttempts", maxAttempts),
			slog.String("error", err.Error()),
		)
		if attempt < maxAttempts {
			time.Sleep(delay)
		}
	}
	return err
}

// Start spawns the program without waiting for it. The caller must receive
// from Done exactly once to reap the child.
func (c *Cmd) Start() (*Running, error) {
	slog.Info("running command", slog.String("program", c.Program), slog.String("args", strings.Join(c.Args, " ")))
	cmd := c.build()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", c.Program, err)
	}

	r := &Running{cmd: cmd, done: make(chan error, 1)}
	go func() {
		r.done <- c.finish(cmd.Wait())
	}()
	return r, nil
}

func (c *Cmd) finish(err error) error {
	var exit *exec.ExitError
	if errors.As(err, &exit) {
		return &ExitError{Program: c.Program, Code: exit.ExitCode()}
	}
	if err != nil {
		return fmt.Errorf("running %s: %w", c.Program, err)
	}
	return nil
}

// Running is a spawned process that has not been reaped yet.
type Running struct {
	cmd  *exec.Cmd
	done chan error
}

// Done yields the process's exit result once it terminates. The channel
// delivers exactly one value.
func (r *Running) Done() <-chan error {
	return r.done
}

// Kill forcibly terminates the process. The caller still has to drain Done.
func (r *Running) Kill() error {
	return r.cmd.Process.Kill()
}
