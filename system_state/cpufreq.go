package systemstate

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/storageperf/fiosweep/proc"
)

// amdPstateMaxFreqKHz pins the frequency ceiling to roughly 3 GHz, below the
// boost range of current parts, so samples do not wander with thermals.
const amdPstateMaxFreqKHz = "3000000"

// SetPerformanceGovernor sets the performance cpufreq governor on all CPUs.
func (h *Host) SetPerformanceGovernor() error {
	slog.Info("setting cpufreq governor to performance")
	if err := proc.Command("cpupower", "frequency-set", "-g", "performance").Run(); err != nil {
		return fmt.Errorf("setting cpufreq governor: %w", err)
	}
	return nil
}

// DisableBoostAMD turns off boost through the generic cpufreq boost knob.
func (h *Host) DisableBoostAMD() error {
	slog.Info("disabling AMD boost")
	path := filepath.Join(h.CPU, "cpufreq", "boost")
	if err := writeControlFile(path, "0"); err != nil {
		return fmt.Errorf("disabling AMD boost: %w", err)
	}
	return nil
}

// DisableBoostIntel turns off turbo through the intel_pstate driver.
func (h *Host) DisableBoostIntel() error {
	slog.Info("disabling Intel turbo")
	path := filepath.Join(h.CPU, "intel_pstate", "no_turbo")
	if err := writeControlFile(path, "1"); err != nil {
		return fmt.Errorf("disabling Intel turbo: %w", err)
	}
	return nil
}

// PinAMDPstate3GHz puts amd_pstate into guided mode, sets the performance
// governor, disables boost, and caps every scaling policy at a fixed 3 GHz.
func (h *Host) PinAMDPstate3GHz() error {
	slog.Info("pinning amd_pstate to a fixed 3 GHz ceiling")

	if err := writeControlFile(filepath.Join(h.CPU, "amd_pstate", "status"), "guided"); err != nil {
		return fmt.Errorf("setting amd_pstate status: %w", err)
	}
	if err := h.SetPerformanceGovernor(); err != nil {
		return err
	}
	if err := h.DisableBoostAMD(); err != nil {
		return err
	}

	policies, err := filepath.Glob(filepath.Join(h.CPU, "cpufreq", "policy*", "scaling_max_freq"))
	if err != nil {
		return fmt.Errorf("discovering cpufreq policies: %w", err)
	}
	if len(policies) == 0 {
		return fmt.Errorf("no cpufreq policies found under %s", h.CPU)
	}
	for _, path := range policies {
		if err := writeControlFile(path, amdPstateMaxFreqKHz); err != nil {
			return fmt.Errorf("capping %s: %w", path, err)
		}
	}
	return nil
}
