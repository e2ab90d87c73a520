package units

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// Bytes is a uint64 wrapper representing a size in bytes.
type Bytes uint64

func (b Bytes) String() string {
	return humanize.IBytes(uint64(b))
}

// ParseSize parses a size string in the form fio uses: a decimal number with an
// optional binary suffix (k, m, g, t), case-insensitive. The suffix may carry a
// trailing "b" or "ib", so "4k", "4K", "4kb" and "4KiB" all mean 4096.
func ParseSize(s string) (Bytes, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, fmt.Errorf("empty size")
	}

	i := 0
	for i < len(trimmed) && trimmed[i] >= '0' && trimmed[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, fmt.Errorf("size %q does not start with a number", s)
	}

	n, err := strconv.ParseUint(trimmed[:i], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing size %q: %w", s, err)
	}

	suffix := strings.ToLower(trimmed[i:])
	suffix = strings.TrimSuffix(suffix, "ib")
	suffix = strings.TrimSuffix(suffix, "b")

	var mult uint64
	switch suffix {
	case "":
		mult = 1
	case "k":
		mult = 1 << 10
	case "m":
		mult = 1 << 20
	case "g":
		mult = 1 << 30
	case "t":
		mult = 1 << 40
	default:
		return 0, fmt.Errorf("unknown size suffix %q in %q", trimmed[i:], s)
	}

	if n == 0 {
		return 0, fmt.Errorf("size %q must be greater than zero", s)
	}
	return Bytes(n * mult), nil
}
