// Package systemstate mutates host state around benchmark runs: the kernel
// module under test, the null_blk configfs tree, per-device queue knobs, CPU
// frequency pinning and the huge-page pool. The engine assumes it is the sole
// owner of the host for the duration of a sweep, so nothing here takes locks.
package systemstate

import (
	"fmt"
	"os"
)

// Host threads the control-tree roots through every operation so tests can
// point them at scratch directories. Production code uses NewHost.
type Host struct {
	// SysBlock is the per-device queue-knob root, normally /sys/block.
	SysBlock string
	// NullBlk is the null_blk configfs root.
	NullBlk string
	// CPU is the CPU tuning root, normally /sys/devices/system/cpu.
	CPU string
	// NrHugepages is the system huge-page pool control file.
	NrHugepages string
}

func NewHost() *Host {
	return &Host{
		SysBlock:    "/sys/block",
		NullBlk:     "/sys/kernel/config/nullb",
		CPU:         "/sys/devices/system/cpu",
		NrHugepages: "/proc/sys/vm/nr_hugepages",
	}
}

// writeControlFile writes a single newline-terminated value to a control
// file. The file must already exist; a missing one is an error, never
// created.
func writeControlFile(path, value string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("opening control file %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(value + "\n"); err != nil {
		return fmt.Errorf("writing %q to %s: %w", value, path, err)
	}
	return nil
}
