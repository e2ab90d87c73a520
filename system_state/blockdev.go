package systemstate

import (
	"fmt"
	"log/slog"
	"path/filepath"
)

// SetScheduler switches the device's I/O scheduler off so the benchmark
// measures the driver, not the elevator.
func (h *Host) SetScheduler(device string) error {
	slog.Info("setting block scheduler to none", slog.String("device", device))
	path := filepath.Join(h.SysBlock, device, "queue", "scheduler")
	if err := writeControlFile(path, "none"); err != nil {
		return fmt.Errorf("setting scheduler for %s: %w", device, err)
	}
	return nil
}

// DisableIostats turns off per-device I/O accounting for the same reason.
func (h *Host) DisableIostats(device string) error {
	slog.Info("disabling iostats", slog.String("device", device))
	path := filepath.Join(h.SysBlock, device, "queue", "iostats")
	if err := writeControlFile(path, "0"); err != nil {
		return fmt.Errorf("disabling iostats for %s: %w", device, err)
	}
	return nil
}
