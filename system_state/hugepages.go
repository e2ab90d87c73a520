package systemstate

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/storageperf/fiosweep/units"
)

const (
	hugePageSize = 2 << 20
	pageMask     = 4096 - 1
)

// HugePages returns the number of 2 MiB huge pages fio needs for the given
// point. Per-job memory is block size times queue depth, padded with the 4 KiB
// page mask and rounded up to the huge-page boundary twice over; fio sizes its
// pool exactly this way and the reservation has to agree with it bit for bit.
func HugePages(jobs int, blockSize units.Bytes, queueDepth int) uint64 {
	perJob := uint64(blockSize) * uint64(queueDepth)
	perJob = roundUpHuge(perJob + pageMask)
	perJob = roundUpHuge(perJob + pageMask)
	total := perJob * uint64(jobs)
	return (total + hugePageSize - 1) / hugePageSize
}

func roundUpHuge(n uint64) uint64 {
	return (n + hugePageSize - 1) &^ uint64(hugePageSize-1)
}

// ApplyHugePages resizes the system huge-page pool and verifies the kernel
// honored the request; a fragmented host can silently come up short.
func (h *Host) ApplyHugePages(count uint64) error {
	slog.Info("reserving huge pages",
		slog.Uint64("count", count),
		slog.String("total", humanize.IBytes(count*hugePageSize)),
	)

	if err := writeControlFile(h.NrHugepages, strconv.FormatUint(count, 10)); err != nil {
		return fmt.Errorf("resizing huge-page pool: %w", err)
	}

	data, err := os.ReadFile(h.NrHugepages)
	if err != nil {
		return fmt.Errorf("reading back huge-page pool: %w", err)
	}
	got, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return fmt.Errorf("parsing huge-page pool size: %w", err)
	}
	if got != count {
		return fmt.Errorf("huge-page pool came up short: requested %d, kernel reserved %d", count, got)
	}
	return nil
}
