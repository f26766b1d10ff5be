package logbuf

import (
	"strings"
	"sync"
)

// Buffer is a ring buffer of log lines. It implements io.Writer so it can be
// installed as the logger's secondary target and polled by the dashboard.
type Buffer struct {
	mu    sync.Mutex
	lines []string
	max   int
}

// New creates a Buffer with the given maximum line capacity.
func New(max int) *Buffer {
	return &Buffer{max: max}
}

// Write implements io.Writer. It splits p on newlines and appends each
// complete line to the ring buffer.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	parts := strings.Split(string(p), "\n")
	// All elements except the last are complete lines (the last may be empty or a partial line).
	for _, line := range parts[:len(parts)-1] {
		if line == "" {
			continue
		}
		b.lines = append(b.lines, line)
		if len(b.lines) > b.max {
			b.lines = b.lines[len(b.lines)-b.max:]
		}
	}
	return len(p), nil
}

// Lines returns a snapshot of all currently buffered lines.
func (b *Buffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	result := make([]string, len(b.lines))
	copy(result, b.lines)
	return result
}

// Tail returns up to the last n buffered lines.
func (b *Buffer) Tail(n int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > len(b.lines) {
		n = len(b.lines)
	}
	result := make([]string, n)
	copy(result, b.lines[len(b.lines)-n:])
	return result
}
