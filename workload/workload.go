// Package workload runs fio for one sweep point: an optional preparation pass
// that fills the device, then the timed measurement pass. When a remote
// controller is configured the measurement is supervised with a periodic
// liveness ping.
package workload

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/storageperf/fiosweep/config"
	"github.com/storageperf/fiosweep/proc"
	"github.com/storageperf/fiosweep/telemetry"
)

const (
	pingInterval = 60 * time.Second
	pollInterval = time.Second
)

// Point is one concrete (block size, job count, workload, queue depth)
// combination to benchmark.
type Point struct {
	BlockSize  config.BlockSize
	Jobs       int
	Workload   string
	QueueDepth int
}

func (p Point) String() string {
	return fmt.Sprintf("qd:%d bs:%s jobs:%d wl:%s", p.QueueDepth, p.BlockSize.Raw, p.Jobs, p.Workload)
}

// Executor drives the external fio binary. Remote may be nil.
type Executor struct {
	Cfg    *config.Config
	Remote telemetry.Pinger

	// PingEvery and PollEvery set the watchdog cadence; zero means the
	// defaults of 60s between pings and 1s between polls.
	PingEvery time.Duration
	PollEvery time.Duration
}

// outputID names the captured artifacts for one point.
func (e *Executor) outputID(p Point) string {
	return fmt.Sprintf("j%d-r%d-w%s-bs%s-qd%d", p.Jobs, e.Cfg.Runtime, p.Workload, p.BlockSize.Raw, p.QueueDepth)
}

// captureTo opens stdout/stderr capture files for the command when capture is
// enabled. The returned closer must run after the command exits.
func (e *Executor) captureTo(cmd *proc.Cmd, runDir, id, suffix string) (func(), error) {
	if !e.Cfg.Capture || runDir == "" {
		return func() {}, nil
	}

	stdout, err := os.Create(filepath.Join(runDir, id+suffix+".stdout"))
	if err != nil {
		return nil, fmt.Errorf("creating stdout capture: %w", err)
	}
	stderr, err := os.Create(filepath.Join(runDir, id+suffix+".stderr"))
	if err != nil {
		stdout.Close()
		return nil, fmt.Errorf("creating stderr capture: %w", err)
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return func() {
		stdout.Close()
		stderr.Close()
	}, nil
}

// RunPrep writes the whole device sequentially so the measurement pass never
// observes unwritten blocks.
func (e *Executor) RunPrep(p Point, runDir string) error {
	slog.Info("running prep pass", slog.String("point", p.String()))

	cmd := proc.Command(e.Cfg.Fio,
		"--name=prep",
		"--rw=write",
		"--direct=1",
		"--bs=4k",
		fmt.Sprintf("--filename=/dev/%s", e.Cfg.Device),
	)
	closeCapture, err := e.captureTo(cmd, runDir, e.outputID(p), "-prep")
	if err != nil {
		return err
	}
	defer closeCapture()

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("prep pass failed: %w", err)
	}
	return nil
}

// fioArgs builds the measurement argument list for one point.
func (e *Executor) fioArgs(p Point, runDir string) []string {
	cfg := e.Cfg
	args := []string{
		"--group_reporting",
		"--name=default",
		fmt.Sprintf("--filename=/dev/%s", cfg.Device),
		"--time_based=1",
		fmt.Sprintf("--runtime=%d", cfg.Runtime),
		"--gtod_reduce=1",
		"--clocksource=cpu",
		fmt.Sprintf("--readwrite=%s", p.Workload),
		fmt.Sprintf("--blocksize=%d", p.BlockSize.Bytes),
		"--direct=1",
		"--cpus_allowed_policy=split",
		fmt.Sprintf("--cpus_allowed=0-%d", p.Jobs-1),
		fmt.Sprintf("--numjobs=%d", p.Jobs),
		"--ioengine=io_uring",
		fmt.Sprintf("--iodepth=%d", p.QueueDepth),
		"--fixedbufs=1",
		"--registerfiles=1",
		"--nonvectored=1",
	}

	if cfg.Ramp != 0 {
		args = append(args, fmt.Sprintf("--ramp_time=%d", cfg.Ramp))
	}

	if cfg.Verify {
		args = append(args, "--do_verify=1", "--verify=md5")
	} else {
		args = append(args, "--norandommap", "--random_generator=lfsr")
	}

	if cfg.Capture && runDir != "" {
		args = append(args,
			"--output-format=json+",
			fmt.Sprintf("--output=%s", filepath.Join(runDir, e.outputID(p)+".json")),
		)
	}

	if cfg.Hipri {
		args = append(args, "--hipri=1")
	}

	if cfg.HugePages {
		args = append(args, "--iomem=mmaphuge")
	}

	return args
}

// Measure runs the timed measurement pass. With a remote configured, the
// process is supervised: a liveness ping goes out every pingInterval of wall
// time, and a ping failure aborts the run.
func (e *Executor) Measure(p Point, runDir string) error {
	slog.Info("running measurement", slog.String("point", p.String()))

	cmd := proc.Command(e.Cfg.Fio, e.fioArgs(p, runDir)...)
	closeCapture, err := e.captureTo(cmd, runDir, e.outputID(p), "")
	if err != nil {
		return err
	}
	defer closeCapture()

	if e.Remote == nil {
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("fio workload failed: %w", err)
		}
		return nil
	}
	return e.supervise(cmd)
}

// supervise alternates between polling the child for completion and checking
// whether a liveness ping is due.
func (e *Executor) supervise(cmd *proc.Cmd) error {
	pingEvery := e.PingEvery
	if pingEvery == 0 {
		pingEvery = pingInterval
	}
	pollEvery := e.PollEvery
	if pollEvery == 0 {
		pollEvery = pollInterval
	}

	running, err := cmd.Start()
	if err != nil {
		return fmt.Errorf("starting fio workload: %w", err)
	}

	lastPing := time.Now()
	for {
		select {
		case err := <-running.Done():
			if err != nil {
				return fmt.Errorf("fio workload failed: %w", err)
			}
			return nil
		case <-time.After(pollEvery):
		}

		if time.Since(lastPing) < pingEvery {
			continue
		}
		if err := e.Remote.Ping(); err != nil {
			// Do not leave the child running with nobody watching it.
			if killErr := running.Kill(); killErr != nil {
				slog.Error("failed to kill fio after ping failure", slog.String("error", killErr.Error()))
			}
			<-running.Done()
			return fmt.Errorf("liveness ping failed: %w", err)
		}
		lastPing = time.Now()
	}
}
