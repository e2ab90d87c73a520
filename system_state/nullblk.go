package systemstate

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// nullBlkControls is the fixed configuration written to a freshly created
// null_blk device. "power" instantiates the device and must come last.
var nullBlkControls = []struct {
	name  string
	value string
}{
	{"blocksize", "4096"},
	{"completion_nsec", "0"},
	{"irqmode", "0"},    // IRQ_NONE
	{"queue_mode", "2"}, // MQ
	{"hw_queue_depth", "256"},
	{"memory_backed", "1"},
	{"size", "4096"}, // 4G
	{"poll_queues", "0"},
	{"power", "1"},
}

// mkdirDevice creates the device's control directory. On configfs the kernel
// materializes the attribute files as part of the mkdir.
var mkdirDevice = func(path string) error {
	return os.Mkdir(path, 0o755)
}

// SetupNullBlk creates and powers on a null_blk device named after the target
// device by writing its configfs control tree.
func (h *Host) SetupNullBlk(device string) error {
	dir := filepath.Join(h.NullBlk, device)
	slog.Info("configuring null_blk device", slog.String("path", dir))

	if err := mkdirDevice(dir); err != nil {
		return fmt.Errorf("creating null_blk control directory: %w", err)
	}

	for _, ctl := range nullBlkControls {
		if err := writeControlFile(filepath.Join(dir, ctl.name), ctl.value); err != nil {
			return fmt.Errorf("null_blk %s: %w", ctl.name, err)
		}
	}
	return nil
}

// TeardownNullBlk removes every device under the null_blk configfs root.
// Devices are independent: a failure on one does not stop the others, and the
// first failure is reported.
func (h *Host) TeardownNullBlk() error {
	entries, err := os.ReadDir(h.NullBlk)
	if err != nil {
		return fmt.Errorf("reading null_blk root: %w", err)
	}

	var firstErr error
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(h.NullBlk, entry.Name())
		slog.Info("removing null_blk device", slog.String("path", path))
		if err := removeDevice(path); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("removing null_blk device %s: %w", entry.Name(), err)
		}
	}
	return firstErr
}

// removeDevice removes a device's control directory. On configfs the rmdir
// alone drops the attribute files; when they are real files they have to be
// unlinked first.
func removeDevice(path string) error {
	if err := os.Remove(path); err == nil {
		return nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(path, entry.Name())); err != nil {
			return err
		}
	}
	return os.Remove(path)
}
