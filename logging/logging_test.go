package logging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLog() *Log {
	// Init without touching the process-wide default logger.
	return &Log{}
}

func TestMemoryBufferDrains(t *testing.T) {
	l := newTestLog()
	mem := l.EnableMemory()
	logger := slog.New(l)

	logger.Info("first")
	data := mem.Data()
	assert.Contains(t, string(data), "first")

	assert.Empty(t, mem.Data(), "a drain resets the buffer")

	logger.Info("second")
	data = mem.Data()
	assert.Contains(t, string(data), "second")
	assert.NotContains(t, string(data), "first")
}

func TestFanOutReachesAllSinks(t *testing.T) {
	l := newTestLog()
	first := l.EnableMemory()
	logger := slog.New(l)

	logger.Info("before attach")

	second := l.EnableMemory()
	logger.Info("after attach")

	assert.Contains(t, string(first.Data()), "before attach")
	got := string(second.Data())
	assert.NotContains(t, got, "before attach")
	assert.Contains(t, got, "after attach")
}

func TestEnableCaptureWritesFile(t *testing.T) {
	dir := t.TempDir()
	l := newTestLog()
	require.NoError(t, l.EnableCapture(dir))

	slog.New(l).Info("captured line")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "log-"))

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(data), "captured line")
}

func TestWithAttrsStillReachesLateSinks(t *testing.T) {
	l := newTestLog()
	logger := slog.New(l).With(slog.String("component", "sweep"))

	mem := l.EnableMemory()
	logger.Info("tagged")

	got := string(mem.Data())
	assert.Contains(t, got, "tagged")
	assert.Contains(t, got, "component=sweep")
}

func TestEnabledWithNoSinks(t *testing.T) {
	l := newTestLog()
	assert.False(t, l.Enabled(context.Background(), slog.LevelInfo))
}
