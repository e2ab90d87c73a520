package sweep

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storageperf/fiosweep/config"
)

func TestBatchDirNaming(t *testing.T) {
	cfg := config.Default()
	cfg.OutputPath = t.TempDir()
	cfg.Tag = "nvme-bringup"
	require.NoError(t, cfg.Validate())

	path, err := BatchDir(cfg)
	require.NoError(t, err)

	info, statErr := os.Stat(path)
	require.NoError(t, statErr)
	assert.True(t, info.IsDir())

	name := filepath.Base(path)
	assert.Regexp(t, regexp.MustCompile(`^output-nvme-bringup-[a-z0-9]{8}-\d{4}-\d{2}-\d{2}-\d{4}$`), name)
}

func TestBatchDirWithoutTag(t *testing.T) {
	cfg := config.Default()
	cfg.OutputPath = t.TempDir()
	require.NoError(t, cfg.Validate())

	path, err := BatchDir(cfg)
	require.NoError(t, err)
	assert.Regexp(t, `^output-[a-z0-9]{8}-`, filepath.Base(path))
}

func TestRunDirsAreUnique(t *testing.T) {
	batch := t.TempDir()

	first, err := runDir(batch)
	require.NoError(t, err)
	second, err := runDir(batch)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	for _, dir := range []string{first, second} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
