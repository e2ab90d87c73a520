package systemstate

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/storageperf/fiosweep/config"
	"github.com/storageperf/fiosweep/proc"
)

const (
	unloadAttempts = 3
	unloadDelay    = time.Second
)

// LoadModule inserts the configured kernel module, if any, via the configured
// mechanism.
func (h *Host) LoadModule(cfg *config.Config) error {
	if cfg.Module == "" {
		return nil
	}
	slog.Info("inserting module", slog.String("module", cfg.Module))

	args := append([]string{cfg.Module}, cfg.ModuleArgs...)
	if cfg.Insmod {
		if err := proc.Command("insmod", args...).Run(); err != nil {
			return fmt.Errorf("insmod %s: %w", cfg.Module, err)
		}
	}
	if cfg.Modprobe {
		if err := proc.Command("modprobe", args...).Run(); err != nil {
			return fmt.Errorf("modprobe %s: %w", cfg.Module, err)
		}
	}
	return nil
}

// UnloadModule removes the configured kernel module. Removal can transiently
// fail while references drain, so it retries a few times.
func (h *Host) UnloadModule(cfg *config.Config) error {
	if cfg.Module == "" {
		return nil
	}
	slog.Info("unloading module", slog.String("module", cfg.Module))

	if cfg.Insmod {
		if err := proc.Command("rmmod", cfg.Module).RunWithRetry(unloadAttempts, unloadDelay); err != nil {
			return fmt.Errorf("rmmod %s: %w", cfg.Module, err)
		}
	}
	if cfg.Modprobe {
		if err := proc.Command("modprobe", "-r", cfg.Module).RunWithRetry(unloadAttempts, unloadDelay); err != nil {
			return fmt.Errorf("modprobe -r %s: %w", cfg.Module, err)
		}
	}
	return nil
}
