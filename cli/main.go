package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/storageperf/fiosweep/archive"
	"github.com/storageperf/fiosweep/config"
	"github.com/storageperf/fiosweep/logging"
	"github.com/storageperf/fiosweep/sweep"
	systemstate "github.com/storageperf/fiosweep/system_state"
	"github.com/storageperf/fiosweep/telemetry"
	"github.com/storageperf/fiosweep/workload"
)

type configFiles []string

func (cf *configFiles) String() string {
	return strings.Join(*cf, ",")
}

func (cf *configFiles) Set(value string) error {
	*cf = append(*cf, value)
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	files := configFiles{}
	flag.Var(&files, "config", "A TOML configuration file. Can be used multiple times; later files override earlier ones.")
	dumpConfig := flag.Bool("dump-config", false, "Print the effective configuration as TOML and exit.")
	registerOverrideFlags()
	flag.Parse()

	log := logging.Init()
	slog.Info("starting benchmark sweep")

	for _, file := range files {
		if err := config.FileExists(file); err != nil {
			slog.Error("bad config file", slog.String("error", err.Error()))
			return 1
		}
	}

	overrides, err := collectOverrides()
	if err != nil {
		slog.Error("bad flag value", slog.String("error", err.Error()))
		return 1
	}

	cfg, err := config.Load(files, overrides)
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return 1
	}

	if *dumpConfig {
		out, err := cfg.Dump()
		if err != nil {
			slog.Error("could not dump configuration", slog.String("error", err.Error()))
			return 1
		}
		fmt.Print(out)
		return 0
	}

	var remote *telemetry.Client
	if u := cfg.RemoteURL(); u != nil {
		remote = telemetry.NewClient(u)
	}

	status := runSweep(cfg, log, remote)

	if remote != nil {
		if err := remote.Shutdown(status != nil); err != nil {
			slog.Error("remote shutdown failed", slog.String("error", err.Error()))
			return 1
		}
	}

	if status != nil {
		return 1
	}
	return 0
}

// runSweep does everything between configuration and the final remote
// shutdown: batch directory, log sinks, the sweep itself, and the last-mile
// compress and upload.
func runSweep(cfg *config.Config, log *logging.Log, remote *telemetry.Client) error {
	batchDir := ""
	var mem *logging.MemoryBuffer
	if cfg.Capture {
		var err error
		batchDir, err = sweep.BatchDir(cfg)
		if err != nil {
			return fmt.Errorf("creating batch directory: %w", err)
		}
		if err := log.EnableCapture(batchDir); err != nil {
			return fmt.Errorf("opening batch log file: %w", err)
		}
		mem = log.EnableMemory()
		slog.Info("capturing into", slog.String("dir", batchDir))
	}

	dump, err := cfg.Dump()
	if err != nil {
		return err
	}
	slog.Info("configuration", slog.String("toml", dump))

	exec := &workload.Executor{Cfg: cfg}
	var pusher sweep.LogPusher
	if remote != nil {
		exec.Remote = remote
		pusher = remote
	}

	ctrl := sweep.New(cfg, systemstate.NewHost(), exec, pusher, mem, batchDir)
	status := ctrl.Run()

	// Report the failure before the log file gets archived so the archive
	// carries the causal chain.
	if status != nil {
		slog.Error("sweep failed", slog.String("error", status.Error()))
	} else {
		slog.Info("sweep succeeded")
	}

	if remote != nil && mem != nil {
		if err := remote.PushLog(mem.Data()); err != nil {
			slog.Error("final log push failed", slog.String("error", err.Error()))
		}
	}

	if cfg.Capture && cfg.Compress {
		tarball, err := archive.Compress(batchDir)
		if err != nil {
			return fmt.Errorf("compressing %s: %w", batchDir, err)
		}
		slog.Info("compressed batch", slog.String("archive", tarball))

		if remote != nil {
			if err := remote.Upload(tarball); err != nil {
				return fmt.Errorf("uploading %s: %w", tarball, err)
			}
		}
	}

	return status
}

// registerOverrideFlags declares one flag per overridable configuration
// field. Defaults here never reach the configuration; only flags the user
// actually set are collected by collectOverrides.
func registerOverrideFlags() {
	flag.Int("samples", 0, "How many times to run each sweep point.")
	flag.Int("runtime", 0, "Measurement runtime in seconds.")
	flag.Int("ramp", 0, "Ramp time in seconds before measurement starts.")
	flag.String("device", "", "The block device under test, e.g. nullb0.")
	flag.String("jobcounts", "", "Comma-separated list of job counts.")
	flag.String("workloads", "", "Comma-separated list of fio workload names.")
	flag.String("queue-depths", "", "Comma-separated list of queue depths.")
	flag.String("block-sizes", "", "Comma-separated list of block sizes, e.g. 4k,16MiB.")
	flag.Bool("prep", false, "Run a sequential write pass before each measurement.")
	flag.String("fio", "", "Path to the fio binary.")
	flag.Bool("verify", false, "Run fio in verify mode.")
	flag.Bool("capture", false, "Capture fio output and logs into a batch directory.")
	flag.Bool("hipri", false, "Pass --hipri to fio.")
	flag.Bool("configure-null-blk", false, "Create and destroy a null_blk device around each point.")
	flag.String("module", "", "Kernel module to reload around measurements.")
	flag.String("module-args", "", "Comma-separated arguments passed to the module loader.")
	flag.Bool("modprobe", false, "Load the module with modprobe.")
	flag.Bool("insmod", false, "Load the module with insmod.")
	flag.String("module-reload-policy", "", "When to reload the module: always or once.")
	flag.Bool("cpufreq-governor-performance", false, "Set the performance cpufreq governor before the sweep.")
	flag.Bool("disable-boost-amd", false, "Disable AMD core boost before the sweep.")
	flag.Bool("disable-boost-intel", false, "Disable Intel turbo before the sweep.")
	flag.Bool("amd-pstate-fixed-3ghz", false, "Pin amd-pstate to a fixed 3 GHz before the sweep.")
	flag.Bool("hugepages", false, "Back fio I/O buffers with huge pages.")
	flag.Bool("compress", false, "Compress the batch directory after the sweep.")
	flag.String("tag", "", "Free-form tag included in the batch directory name.")
	flag.String("output-path", "", "Root directory for batch directories.")
	flag.String("remote", "", "Remote controller endpoint URL.")
}

// collectOverrides gathers only the flags the user actually set, keyed by the
// configuration field name.
func collectOverrides() (map[string]any, error) {
	overrides := map[string]any{}
	var firstErr error
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" || f.Name == "dump-config" {
			return
		}
		key, value, err := overrideValue(f.Name, f.Value.String())
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("flag --%s: %w", f.Name, err)
			return
		}
		overrides[key] = value
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return overrides, nil
}

func overrideValue(name, raw string) (string, any, error) {
	key := strings.ReplaceAll(name, "-", "_")
	switch name {
	case "samples", "runtime", "ramp":
		n, err := strconv.Atoi(raw)
		return key, n, err
	case "jobcounts", "queue-depths":
		parts := splitList(raw)
		ns := make([]int, 0, len(parts))
		for _, p := range parts {
			n, err := strconv.Atoi(p)
			if err != nil {
				return key, nil, err
			}
			ns = append(ns, n)
		}
		return key, ns, nil
	case "workloads", "block-sizes", "module-args":
		return key, splitList(raw), nil
	case "prep", "verify", "capture", "hipri", "configure-null-blk",
		"modprobe", "insmod", "cpufreq-governor-performance",
		"disable-boost-amd", "disable-boost-intel", "amd-pstate-fixed-3ghz",
		"hugepages", "compress":
		b, err := strconv.ParseBool(raw)
		return key, b, err
	default:
		return key, raw, nil
	}
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
