package sweep

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/thanhpk/randstr"

	"github.com/storageperf/fiosweep/config"
)

// BatchDir creates the directory all of this invocation's captured output
// lives under: output[-tag]-<generated name>-<timestamp>, inside the
// configured output root. It is created exactly once per process.
func BatchDir(cfg *config.Config) (string, error) {
	name := "output"
	if cfg.Tag != "" {
		name += "-" + cfg.Tag
	}
	name += "-" + strings.ToLower(randstr.String(8))
	name += "-" + time.Now().Format("2006-01-02-1504")

	path := filepath.Join(cfg.OutputPath, name)
	if err := os.Mkdir(path, 0o755); err != nil {
		return "", fmt.Errorf("creating batch dir: %w", err)
	}
	return path, nil
}

// runDir creates one sample's output directory inside the batch directory,
// named by a high-resolution timestamp.
func runDir(batchDir string) (string, error) {
	now := time.Now()
	name := fmt.Sprintf("%s-%09d", now.Format("2006-01-02-1504"), now.Nanosecond())

	path := filepath.Join(batchDir, name)
	if err := os.Mkdir(path, 0o755); err != nil {
		return "", fmt.Errorf("creating run dir: %w", err)
	}
	return path, nil
}
