package workload

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/hashicorp/go-version"

	"github.com/storageperf/fiosweep/proc"
)

// minFioVersion is the first release shipping the io_uring engine.
const minFioVersion = "3.13"

// CheckFio verifies the configured fio binary is present and recent enough
// for the argument set this engine builds.
func (e *Executor) CheckFio() error {
	out, err := proc.Command(e.Cfg.Fio, "--version").Output()
	if err != nil {
		return fmt.Errorf("querying fio version: %w", err)
	}

	v, err := parseFioVersion(string(out))
	if err != nil {
		return err
	}
	slog.Info("fio version", slog.String("version", v.String()))

	minimum := version.Must(version.NewVersion(minFioVersion))
	if v.LessThan(minimum) {
		return fmt.Errorf("fio %s is too old, need at least %s", v, minimum)
	}
	return nil
}

// parseFioVersion extracts the version from `fio --version` output, which
// looks like "fio-3.36" or "fio-3.36-19-g1ffd".
func parseFioVersion(out string) (*version.Version, error) {
	raw := strings.TrimSpace(out)
	raw = strings.TrimPrefix(raw, "fio-")
	if i := strings.IndexByte(raw, '-'); i >= 0 {
		raw = raw[:i]
	}

	v, err := version.NewVersion(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing fio version from %q: %w", strings.TrimSpace(out), err)
	}
	return v, nil
}
