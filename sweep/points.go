package sweep

import (
	"github.com/storageperf/fiosweep/config"
	"github.com/storageperf/fiosweep/workload"
)

// Points enumerates the cartesian product of the configured axes. The nesting
// order is a contract observed by logs and progress reporting: block sizes
// outermost, then job counts, then workloads, then queue depths.
func Points(cfg *config.Config) []workload.Point {
	points := make([]workload.Point, 0,
		len(cfg.ParsedBlockSizes())*len(cfg.Jobcounts)*len(cfg.Workloads)*len(cfg.QueueDepths))

	for _, bs := range cfg.ParsedBlockSizes() {
		for _, jobs := range cfg.Jobcounts {
			for _, wl := range cfg.Workloads {
				for _, qd := range cfg.QueueDepths {
					points = append(points, workload.Point{
						BlockSize:  bs,
						Jobs:       jobs,
						Workload:   wl,
						QueueDepth: qd,
					})
				}
			}
		}
	}
	return points
}
