// Package sweep drives the full benchmark matrix: it brings the host to a
// steady baseline once, then for every sample and every point runs
// setup → workload → teardown → progress → log push, strictly sequentially.
// Points share exclusive host state (one device, one module, one set of sysfs
// knobs), so nothing here runs in parallel.
package sweep

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/storageperf/fiosweep/config"
	"github.com/storageperf/fiosweep/logging"
	"github.com/storageperf/fiosweep/proc"
	systemstate "github.com/storageperf/fiosweep/system_state"
	"github.com/storageperf/fiosweep/workload"
)

// Host is the system-state surface the controller drives.
type Host interface {
	LoadModule(cfg *config.Config) error
	UnloadModule(cfg *config.Config) error
	SetupNullBlk(device string) error
	TeardownNullBlk() error
	SetScheduler(device string) error
	DisableIostats(device string) error
	SetPerformanceGovernor() error
	DisableBoostAMD() error
	DisableBoostIntel() error
	PinAMDPstate3GHz() error
	ApplyHugePages(count uint64) error
}

// Runner executes the benchmark passes for one point.
type Runner interface {
	CheckFio() error
	RunPrep(p workload.Point, runDir string) error
	Measure(p workload.Point, runDir string) error
}

// LogPusher ships accumulated log bytes to the remote controller.
type LogPusher interface {
	PushLog(data []byte) error
}

type Controller struct {
	cfg      *config.Config
	host     Host
	exec     Runner
	remote   LogPusher             // nil without a remote endpoint
	mem      *logging.MemoryBuffer // nil without capture
	batchDir string                // "" without capture
}

func New(cfg *config.Config, host Host, exec Runner, remote LogPusher, mem *logging.MemoryBuffer, batchDir string) *Controller {
	return &Controller{
		cfg:      cfg,
		host:     host,
		exec:     exec,
		remote:   remote,
		mem:      mem,
		batchDir: batchDir,
	}
}

// Run executes the whole sweep and returns the first fatal failure. Per-point
// teardown runs even when the point itself fails.
func (c *Controller) Run() error {
	points := Points(c.cfg)

	c.preSweepCleanup()

	if c.cfg.ModuleReloadPolicy == config.ReloadOnce {
		if err := c.host.LoadModule(c.cfg); err != nil {
			return fmt.Errorf("loading module once: %w", err)
		}
	}

	if err := c.logHostInfo(); err != nil {
		return err
	}
	if err := c.exec.CheckFio(); err != nil {
		return fmt.Errorf("checking fio: %w", err)
	}
	if err := c.tuneHost(); err != nil {
		return err
	}

	total := c.cfg.Samples * len(points)
	bar := newBar(c.cfg.Capture, total)
	slog.Info("starting measurements", slog.Int("totalConfigs", total))

	for sample := 0; sample < c.cfg.Samples; sample++ {
		slog.Info("starting sample", slog.Int("sample", sample))

		dir := ""
		if c.cfg.Capture {
			var err error
			dir, err = runDir(c.batchDir)
			if err != nil {
				return fmt.Errorf("sample %d: %w", sample, err)
			}
		}

		for _, p := range points {
			slog.Info("starting point", slog.Int("sample", sample), slog.String("point", p.String()))
			if err := c.runPoint(p, dir); err != nil {
				return fmt.Errorf("point %s: %w", p, err)
			}
			_ = bar.Add(1)
			if err := c.pushLog(); err != nil {
				return fmt.Errorf("pushing log: %w", err)
			}
		}
	}

	_ = bar.Finish()
	slog.Info("sweep loop done")
	return nil
}

// preSweepCleanup clears state a previous crashed run may have left behind.
// Failures are expected (the host may simply be clean) and are ignored.
func (c *Controller) preSweepCleanup() {
	if strings.HasPrefix(c.cfg.Device, "nullb") {
		if err := c.host.TeardownNullBlk(); err != nil {
			slog.Debug("pre-sweep null_blk teardown", slog.String("error", err.Error()))
		}
	}
	if err := c.host.UnloadModule(c.cfg); err != nil {
		slog.Debug("pre-sweep module unload", slog.String("error", err.Error()))
	}
}

func (c *Controller) logHostInfo() error {
	out, err := proc.Command("uname", "-a").Output()
	if err != nil {
		return fmt.Errorf("querying uname: %w", err)
	}
	slog.Info("uname", slog.String("uname", strings.TrimSpace(string(out))))
	return nil
}

// tuneHost applies the sweep-wide CPU and memory pinning. None of it is
// reverted when the sweep ends.
func (c *Controller) tuneHost() error {
	if c.cfg.CpufreqGovernorPerformance {
		if err := c.host.SetPerformanceGovernor(); err != nil {
			return fmt.Errorf("setting cpufreq governor: %w", err)
		}
	}
	if c.cfg.DisableBoostAMD {
		if err := c.host.DisableBoostAMD(); err != nil {
			return fmt.Errorf("disabling AMD boost: %w", err)
		}
	}
	if c.cfg.DisableBoostIntel {
		if err := c.host.DisableBoostIntel(); err != nil {
			return fmt.Errorf("disabling Intel turbo: %w", err)
		}
	}
	if c.cfg.AMDPstateFixed3GHz {
		if err := c.host.PinAMDPstate3GHz(); err != nil {
			return fmt.Errorf("pinning amd_pstate: %w", err)
		}
	}

	if c.cfg.HugePages {
		// The pool is host-wide and must cover the worst case across the
		// whole sweep, so it is sized from each axis's maximum independently.
		count := systemstate.HugePages(c.cfg.MaxJobs(), c.cfg.MaxBlockSize(), c.cfg.MaxQueueDepth())
		if err := c.host.ApplyHugePages(count); err != nil {
			return fmt.Errorf("reserving huge pages: %w", err)
		}
	}
	return nil
}

func (c *Controller) runPoint(p workload.Point, runDir string) error {
	if err := c.setupPoint(); err != nil {
		return err
	}

	runErr := c.executePoint(p, runDir)
	tdErr := c.teardownPoint()

	if runErr != nil {
		if tdErr != nil {
			slog.Error("teardown failed after workload failure", slog.String("error", tdErr.Error()))
		}
		return runErr
	}
	if tdErr != nil {
		return fmt.Errorf("teardown: %w", tdErr)
	}
	return nil
}

func (c *Controller) setupPoint() error {
	if c.cfg.ModuleReloadPolicy == config.ReloadAlways {
		if err := c.host.LoadModule(c.cfg); err != nil {
			return fmt.Errorf("loading module: %w", err)
		}
	}
	if c.cfg.ConfigureNullBlk {
		if err := c.host.SetupNullBlk(c.cfg.Device); err != nil {
			return fmt.Errorf("setting up null_blk: %w", err)
		}
	}
	if err := c.host.SetScheduler(c.cfg.Device); err != nil {
		return err
	}
	if err := c.host.DisableIostats(c.cfg.Device); err != nil {
		return err
	}
	return nil
}

func (c *Controller) executePoint(p workload.Point, runDir string) error {
	if c.cfg.Prep {
		if err := c.exec.RunPrep(p, runDir); err != nil {
			return err
		}
	}
	return c.exec.Measure(p, runDir)
}

// teardownPoint attempts every teardown step once, even when an earlier step
// fails, and reports the first failure.
func (c *Controller) teardownPoint() error {
	var firstErr error
	if c.cfg.ConfigureNullBlk {
		if err := c.host.TeardownNullBlk(); err != nil {
			firstErr = fmt.Errorf("tearing down null_blk: %w", err)
		}
	}
	if c.cfg.ModuleReloadPolicy == config.ReloadAlways {
		if err := c.host.UnloadModule(c.cfg); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("unloading module: %w", err)
		}
	}
	return firstErr
}

func (c *Controller) pushLog() error {
	if c.remote == nil || c.mem == nil {
		return nil
	}
	return c.remote.PushLog(c.mem.Data())
}

// newBar builds the progress indicator. It is a passive observer: it only
// renders when capturing to a terminal, and rendering problems never affect
// the sweep.
func newBar(enabled bool, total int) *progressbar.ProgressBar {
	if enabled && term.IsTerminal(int(os.Stdout.Fd())) {
		return progressbar.Default(int64(total), "measuring")
	}
	return progressbar.DefaultSilent(int64(total))
}
