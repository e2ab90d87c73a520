// Package logging wires slog to the sinks a sweep needs: the console from
// startup; a per-batch log file and a drainable in-memory buffer once capture
// is enabled. The memory buffer feeds the remote log-push, which only wants
// the bytes accumulated since the previous push.
package logging

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Log is a slog.Handler fanning out to its attached sinks. Sinks can be added
// while the logger is live.
type Log struct {
	mu       sync.RWMutex
	handlers []slog.Handler
}

// Init installs a console handler as the process-wide default logger and
// returns the fan-out for later sink attachment.
func Init() *Log {
	l := &Log{}
	l.attach(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(slog.New(l))
	return l
}

func (l *Log) attach(h slog.Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers = append(l.handlers, h)
}

// EnableCapture adds a log file inside the batch directory.
func (l *Log) EnableCapture(dir string) error {
	name := fmt.Sprintf("log-%s-%09d.log", time.Now().Format("2006-01-02-1504"), time.Now().Nanosecond())
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating log file %s: %w", path, err)
	}
	slog.Info("logging to file", slog.String("path", path))
	l.attach(slog.NewTextHandler(f, nil))
	return nil
}

// EnableMemory adds an in-memory sink and returns its buffer.
func (l *Log) EnableMemory() *MemoryBuffer {
	buf := &MemoryBuffer{}
	l.attach(slog.NewTextHandler(buf, nil))
	return buf
}

func (l *Log) Enabled(ctx context.Context, level slog.Level) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, h := range l.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (l *Log) Handle(ctx context.Context, r slog.Record) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var firstErr error
	for _, h := range l.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (l *Log) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &derived{parent: l, attrs: attrs}
}

func (l *Log) WithGroup(name string) slog.Handler {
	return &derived{parent: l, group: name}
}

// derived applies attrs (or a group) on top of the shared fan-out so that
// sinks attached later still receive derived loggers' records.
type derived struct {
	parent slog.Handler
	attrs  []slog.Attr
	group  string
}

func (d *derived) Enabled(ctx context.Context, level slog.Level) bool {
	return d.parent.Enabled(ctx, level)
}

func (d *derived) Handle(ctx context.Context, r slog.Record) error {
	if len(d.attrs) > 0 {
		r = r.Clone()
		r.AddAttrs(d.attrs...)
	}
	return d.parent.Handle(ctx, r)
}

func (d *derived) WithAttrs(attrs []slog.Attr) slog.Handler {
	if d.group != "" {
		grouped := make([]slog.Attr, len(attrs))
		for i, a := range attrs {
			grouped[i] = slog.Group(d.group, a)
		}
		attrs = grouped
	}
	return &derived{parent: d, attrs: attrs}
}

func (d *derived) WithGroup(name string) slog.Handler {
	return &derived{parent: d, group: name}
}

// MemoryBuffer accumulates encoded log output. Data drains it.
type MemoryBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (m *MemoryBuffer) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buf.Write(p)
}

// Data returns everything written since the last call and resets the buffer.
func (m *MemoryBuffer) Data() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, m.buf.Len())
	copy(out, m.buf.Bytes())
	m.buf.Reset()
	return out
}
